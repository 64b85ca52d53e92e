package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"testing"
	"time"

	"github.com/google/uuid"

	"fieldsync/internal/app"
	"fieldsync/internal/config"
	"fieldsync/internal/db"
	"fieldsync/internal/domain"
	"fieldsync/internal/engine"
	"fieldsync/internal/migrate"
	"fieldsync/internal/repo"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type testServer struct {
	URL    string
	Engine *engine.Engine
	client *http.Client
	close  func()
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	e := engine.New(conn, cfg, t.TempDir(), nil)
	e.Now = func() time.Time { return testNow }

	r := repo.Repo{DB: conn}
	tx, err := conn.BeginTx(context.Background(), nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := r.EnsureOrg(context.Background(), tx, app.DefaultOrgID, "Default Org", testNow.Format(time.RFC3339)); err != nil {
		t.Fatalf("ensure org: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v1",
		Auth:     AuthConfig{AllowLegacyHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.close)
	return ts
}

// seedItem inserts a work item with a one-step template and an
// initialized execution.
func (ts *testServer) seedItem(t *testing.T, assignedTo string) domain.WorkItem {
	t.Helper()
	ctx := context.Background()
	now := testNow.Format(time.RFC3339)
	stepsJSON, _ := json.Marshal([]map[string]any{
		{"title": "Inspect", "stepType": "photo"},
	})
	tmpl := domain.WorkflowTemplate{
		ID:        uuid.NewString(),
		OrgID:     app.DefaultOrgID,
		Name:      "Inspection",
		StepsJSON: string(stepsJSON),
		CreatedAt: now,
	}
	if err := ts.Engine.Repo.InsertWorkflowTemplate(ctx, tmpl); err != nil {
		t.Fatalf("insert template: %v", err)
	}
	item := domain.WorkItem{
		ID:                 uuid.NewString(),
		OrgID:              app.DefaultOrgID,
		Title:              "Inspect cabinet",
		Status:             "assigned",
		AssignedTo:         &assignedTo,
		WorkflowTemplateID: &tmpl.ID,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := ts.Engine.Repo.InsertWorkItem(ctx, nil, item); err != nil {
		t.Fatalf("insert item: %v", err)
	}
	if err := ts.Engine.InitExecution(ctx, item); err != nil {
		t.Fatalf("init execution: %v", err)
	}
	return item
}

func (ts *testServer) doJSON(t *testing.T, method, path string, body any, asUser string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if asUser != "" {
		req.Header.Set("X-Technician-Id", asUser)
	}
	resp, err := ts.client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	return resp, data
}

func TestHealthUnauthenticated(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.doJSON(t, http.MethodGet, "/v1/health", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", resp.StatusCode, body)
	}
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := ts.doJSON(t, http.MethodGet, "/v1/work-items/available", nil, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestListAvailableOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	item := ts.seedItem(t, "tech-1")

	resp, body := ts.doJSON(t, http.MethodGet, "/v1/work-items/available?assignedTo=me", nil, "tech-1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	var out struct {
		WorkItems []struct {
			ID           string `json:"id"`
			TemplateName string `json:"template_name"`
		} `json:"work_items"`
		Count int `json:"count"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Count != 1 || out.WorkItems[0].ID != item.ID {
		t.Fatalf("unexpected listing: %s", body)
	}
	if out.WorkItems[0].TemplateName != "Inspection" {
		t.Fatalf("template name not resolved: %s", body)
	}
}

func TestSyncOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	item := ts.seedItem(t, "tech-1")

	payload := map[string]any{
		"updates": []map[string]any{
			{
				"type":     "step-update",
				"entityId": item.ID,
				"data":     map[string]any{"stepIndex": 0, "status": "completed"},
			},
			{
				"type":     "step-update",
				"entityId": "missing-item",
				"data":     map[string]any{"stepIndex": 0},
			},
		},
	}
	resp, body := ts.doJSON(t, http.MethodPost, "/v1/offline/sync", payload, "tech-1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	var out struct {
		Results   []map[string]any `json:"results"`
		Conflicts []struct {
			Error string `json:"error"`
		} `json:"conflicts"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Results) != 1 || len(out.Conflicts) != 1 {
		t.Fatalf("unexpected outcome: %s", body)
	}
	if out.Conflicts[0].Error != "Data not found" {
		t.Fatalf("conflict error = %q", out.Conflicts[0].Error)
	}
}

func TestSyncRejectsNonListUpdates(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.doJSON(t, http.MethodPost, "/v1/offline/sync", map[string]any{"updates": "not-a-list"}, "tech-1")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", resp.StatusCode, body)
	}

	logs, err := ts.Engine.Repo.ListSyncLogs(context.Background(), app.DefaultOrgID, "tech-1", 10, 0)
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	if len(logs) != 1 || logs[0].Outcome != "failure" {
		t.Fatalf("malformed batch must be audit-logged: %+v", logs)
	}
}

func TestPhotoUploadOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	item := ts.seedItem(t, "tech-1")

	upload := func() (*http.Response, []byte) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		mw.WriteField("workItemId", item.ID)
		mw.WriteField("stepId", "0")
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", `form-data; name="file"; filename="cab.jpg"`)
		h.Set("Content-Type", "image/jpeg")
		part, err := mw.CreatePart(h)
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		part.Write([]byte("jpegbytes"))
		mw.Close()

		req, err := http.NewRequest(http.MethodPost, ts.URL+"/v1/offline/photos", &buf)
		if err != nil {
			t.Fatalf("new request: %v", err)
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("X-Technician-Id", "tech-1")
		resp, err := ts.client.Do(req)
		if err != nil {
			t.Fatalf("do request: %v", err)
		}
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return resp, data
	}

	resp, body := upload()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	var first struct {
		ID        string `json:"id"`
		Duplicate bool   `json:"duplicate"`
	}
	if err := json.Unmarshal(body, &first); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if first.Duplicate || first.ID == "" {
		t.Fatalf("unexpected first upload: %s", body)
	}

	resp, body = upload()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("retry status %d: %s", resp.StatusCode, body)
	}
	var second struct {
		ID        string `json:"id"`
		Duplicate bool   `json:"duplicate"`
	}
	if err := json.Unmarshal(body, &second); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !second.Duplicate || second.ID != first.ID {
		t.Fatalf("retry must return duplicate with same id: %s", body)
	}
}

func TestPhotoUploadRejectsBadType(t *testing.T) {
	ts := newTestServer(t)
	item := ts.seedItem(t, "tech-1")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("workItemId", item.ID)
	mw.WriteField("stepId", "0")
	part, _ := mw.CreateFormFile("file", "notes.txt")
	part.Write([]byte("hello"))
	mw.Close()

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/v1/offline/photos", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Technician-Id", "tech-1")
	resp, err := ts.client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestSyncLogsOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	ts.seedItem(t, "tech-1")

	// One empty sync produces one log row.
	resp, body := ts.doJSON(t, http.MethodPost, "/v1/offline/sync", map[string]any{"updates": []any{}}, "tech-1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sync status %d: %s", resp.StatusCode, body)
	}

	resp, body = ts.doJSON(t, http.MethodGet, "/v1/offline/sync-logs", nil, "tech-1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logs status %d: %s", resp.StatusCode, body)
	}
	var out struct {
		Entries []struct {
			Kind    string `json:"kind"`
			Outcome string `json:"outcome"`
		} `json:"entries"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Entries) != 1 || out.Entries[0].Kind != "sync" || out.Entries[0].Outcome != "success" {
		t.Fatalf("unexpected log listing: %s", body)
	}

	// Logs are caller-scoped.
	resp, body = ts.doJSON(t, http.MethodGet, "/v1/offline/sync-logs", nil, "tech-2")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logs status %d: %s", resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Entries) != 0 {
		t.Fatalf("other user must not see entries: %s", body)
	}
}
