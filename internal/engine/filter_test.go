package engine_test

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"fieldsync/internal/domain"
	"fieldsync/internal/engine"
)

func insertBareItem(t *testing.T, env testEnv, title string, assignedTo, teamID, dueDate *string) domain.WorkItem {
	t.Helper()
	now := testNow.Format(time.RFC3339)
	item := domain.WorkItem{
		ID:         uuid.NewString(),
		OrgID:      env.Caller.OrgID,
		Title:      title,
		Status:     "assigned",
		AssignedTo: assignedTo,
		TeamID:     teamID,
		DueDate:    dueDate,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := env.Engine.Repo.InsertWorkItem(env.Ctx, nil, item); err != nil {
		t.Fatalf("insert item: %v", err)
	}
	return item
}

func TestScopeFilter(t *testing.T) {
	env := newTestEnv(t)
	user := env.Caller.UserID
	other := "tech-2"

	teamT := domain.Team{ID: "team-t", OrgID: env.Caller.OrgID, Name: "T", CreatedAt: testNow.Format(time.RFC3339)}
	teamU := domain.Team{ID: "team-u", OrgID: env.Caller.OrgID, Name: "U", CreatedAt: testNow.Format(time.RFC3339)}
	for _, tm := range []domain.Team{teamT, teamU} {
		if err := env.Engine.Repo.InsertTeam(env.Ctx, tm); err != nil {
			t.Fatalf("insert team: %v", err)
		}
	}
	if err := env.Engine.Repo.AddTeamMember(env.Ctx, teamT.ID, user); err != nil {
		t.Fatalf("add member: %v", err)
	}

	a := insertBareItem(t, env, "A", &user, nil, nil)
	b := insertBareItem(t, env, "B", &other, &teamT.ID, nil)
	c := insertBareItem(t, env, "C", &other, &teamU.ID, nil)

	cases := []struct {
		scope string
		want  map[string]bool
	}{
		{"me", map[string]bool{a.ID: true}},
		{"team", map[string]bool{a.ID: true, b.ID: true}},
		{"all", map[string]bool{a.ID: true, b.ID: true, c.ID: true}},
	}
	for _, tc := range cases {
		items, err := env.Engine.ListAvailable(env.Ctx, env.Caller, engine.FilterOptions{Scopes: []string{tc.scope}})
		if err != nil {
			t.Fatalf("scope %s: %v", tc.scope, err)
		}
		got := map[string]bool{}
		for _, it := range items {
			got[it.ID] = true
		}
		if len(got) != len(tc.want) {
			t.Fatalf("scope %s: expected %d items, got %v", tc.scope, len(tc.want), got)
		}
		for id := range tc.want {
			if !got[id] {
				t.Fatalf("scope %s: missing item %s", tc.scope, id)
			}
		}
	}
}

func TestHorizonFilter(t *testing.T) {
	env := newTestEnv(t)
	user := env.Caller.UserID

	soon := testNow.Add(2 * 24 * time.Hour).Format(time.RFC3339)
	far := testNow.Add(20 * 24 * time.Hour).Format(time.RFC3339)
	overdue := testNow.Add(-3 * 24 * time.Hour).Format(time.RFC3339)

	dated := insertBareItem(t, env, "soon", &user, nil, &soon)
	insertBareItem(t, env, "far", &user, nil, &far)
	late := insertBareItem(t, env, "overdue", &user, nil, &overdue)
	undated := insertBareItem(t, env, "undated", &user, nil, nil)

	items, err := env.Engine.ListAvailable(env.Ctx, env.Caller, engine.FilterOptions{DateRange: "week"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	got := map[string]bool{}
	for _, it := range items {
		got[it.ID] = true
	}
	for _, want := range []string{dated.ID, late.ID, undated.ID} {
		if !got[want] {
			t.Fatalf("expected item %s within week horizon, got %v", want, got)
		}
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 items, got %d", len(got))
	}
}

func TestTemplateFilterMatchesEitherField(t *testing.T) {
	env := newTestEnv(t)
	user := env.Caller.UserID
	tmplID := "tmpl-1"
	legacyID := "tmpl-legacy"

	modern := insertBareItem(t, env, "modern", &user, nil, nil)
	modern.WorkflowTemplateID = &tmplID
	if err := env.Engine.Repo.UpdateWorkItem(env.Ctx, nil, modern); err != nil {
		t.Fatalf("update: %v", err)
	}
	legacy := insertBareItem(t, env, "legacy", &user, nil, nil)
	legacy.TemplateID = &legacyID
	if err := env.Engine.Repo.UpdateWorkItem(env.Ctx, nil, legacy); err != nil {
		t.Fatalf("update: %v", err)
	}
	insertBareItem(t, env, "neither", &user, nil, nil)

	items, err := env.Engine.ListAvailable(env.Ctx, env.Caller, engine.FilterOptions{
		TemplateIDs: []string{tmplID, legacyID},
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
}
