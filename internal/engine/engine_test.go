package engine_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"fieldsync/internal/config"
	"fieldsync/internal/db"
	"fieldsync/internal/domain"
	"fieldsync/internal/engine"
	"fieldsync/internal/migrate"
	"fieldsync/internal/repo"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	Engine *engine.Engine
	Ctx    context.Context
	Caller engine.Principal
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	eng := engine.New(conn, cfg, t.TempDir(), nil)
	eng.Now = func() time.Time { return testNow }
	ctx := context.Background()

	ensureOrg(t, ctx, conn, "org-1")
	return testEnv{
		Engine: eng,
		Ctx:    ctx,
		Caller: engine.Principal{UserID: "tech-1", OrgID: "org-1"},
	}
}

func ensureOrg(t *testing.T, ctx context.Context, conn *sql.DB, orgID string) {
	t.Helper()
	r := repo.Repo{DB: conn}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	if err := r.EnsureOrg(ctx, tx, orgID, "Test Org", testNow.Format(time.RFC3339)); err != nil {
		t.Fatalf("ensure org: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

// seedItem inserts a work item with a two-step template and an
// initialized execution, returning the item.
func seedItem(t *testing.T, env testEnv, assignedTo string) domain.WorkItem {
	t.Helper()
	now := testNow.Format(time.RFC3339)
	stepsJSON, _ := json.Marshal([]map[string]any{
		{
			"title":    "Inspect",
			"stepType": "checklist",
			"checklistItems": []map[string]any{
				{"id": "c1", "label": "Door closes"},
			},
		},
		{"title": "Photograph", "stepType": "photo"},
	})
	tmpl := domain.WorkflowTemplate{
		ID:        uuid.NewString(),
		OrgID:     env.Caller.OrgID,
		Name:      "Inspection",
		StepsJSON: string(stepsJSON),
		CreatedAt: now,
	}
	if err := env.Engine.Repo.InsertWorkflowTemplate(env.Ctx, tmpl); err != nil {
		t.Fatalf("insert template: %v", err)
	}
	item := domain.WorkItem{
		ID:                 uuid.NewString(),
		OrgID:              env.Caller.OrgID,
		Title:              "Inspect cabinet",
		Status:             "assigned",
		AssignedTo:         &assignedTo,
		WorkflowTemplateID: &tmpl.ID,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := env.Engine.Repo.InsertWorkItem(env.Ctx, nil, item); err != nil {
		t.Fatalf("insert item: %v", err)
	}
	if err := env.Engine.InitExecution(env.Ctx, item); err != nil {
		t.Fatalf("init execution: %v", err)
	}
	return item
}

func TestInitExecutionSeedsTemplateEvidence(t *testing.T) {
	env := newTestEnv(t)
	item := seedItem(t, env, env.Caller.UserID)

	exec, err := env.Engine.Repo.GetExecutionByWorkItem(env.Ctx, item.ID)
	if err != nil {
		t.Fatalf("get execution: %v", err)
	}
	steps, err := env.Engine.Repo.ListSteps(env.Ctx, exec.ID)
	if err != nil {
		t.Fatalf("list steps: %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(steps))
	}
	if steps[0].Title != "Inspect" || steps[0].Status != "not_started" {
		t.Fatalf("unexpected first step: %+v", steps[0])
	}
	if steps[0].EvidenceJSON == "" {
		t.Fatal("step evidence not seeded from template")
	}
}
