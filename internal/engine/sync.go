package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"fieldsync/internal/audit"
	"fieldsync/internal/domain"
	"fieldsync/internal/evidence"
	"fieldsync/internal/repo"
)

// Update kinds accepted by the reconciler. Anything else becomes an
// "unsupported update type" conflict so the client sees the skip.
const (
	UpdateTaskEdit      = "task-edit"
	UpdateStepUpdate    = "step-update"
	UpdateFieldCreation = "field-entity-creation"
)

const reviewHorizon = 7 * 24 * time.Hour

// ErrBatchTooLarge rejects a sync batch exceeding the configured size
// before any update runs.
var ErrBatchTooLarge = errors.New("sync batch too large")

// SyncUpdate is one client-originated mutation. Data is decoded per
// type; unknown fields in it are ignored.
type SyncUpdate struct {
	Type     string          `json:"type"`
	EntityID string          `json:"entityId"`
	Data     json.RawMessage `json:"data"`
}

type SyncResult struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type SyncConflict struct {
	EntityID string `json:"entityId"`
	Type     string `json:"type"`
	Error    string `json:"error"`
}

// NewData is the caller's refreshed working set returned with every
// sync response so the client reconciles without a second round trip.
type NewData struct {
	WorkItems []domain.WorkItem         `json:"work_items"`
	Templates []domain.WorkflowTemplate `json:"templates"`
}

type SyncOutput struct {
	Results   []SyncResult   `json:"results"`
	Conflicts []SyncConflict `json:"conflicts"`
	NewData   NewData        `json:"new_data"`
}

// Sync applies a batch of updates in order. Each update runs inside
// its own failure boundary; one bad update never aborts the rest.
// Exactly one audit row is written per call.
func (e *Engine) Sync(ctx context.Context, p Principal, updates []SyncUpdate) (SyncOutput, error) {
	start := e.Now()
	out := SyncOutput{
		Results:   []SyncResult{},
		Conflicts: []SyncConflict{},
	}
	if max := e.Config.Sync.MaxBatchSize; max > 0 && len(updates) > max {
		e.RecordSyncFailure(ctx, p, fmt.Sprintf("batch of %d exceeds limit %d", len(updates), max))
		return out, fmt.Errorf("batch of %d updates exceeds limit of %d: %w", len(updates), max, ErrBatchTooLarge)
	}
	typeTally := map[string]int{}

	for _, u := range updates {
		typeTally[u.Type]++
		result, conflict := e.applyUpdate(ctx, p, u)
		if conflict != nil {
			out.Conflicts = append(out.Conflicts, *conflict)
			continue
		}
		out.Results = append(out.Results, result)
	}

	newData, err := e.refreshWorkingSet(ctx, p)
	if err != nil {
		return out, err
	}
	out.NewData = newData

	outcome := "success"
	switch {
	case len(out.Conflicts) > 0 && len(out.Results) > 0:
		outcome = "partial"
	case len(out.Conflicts) > 0:
		outcome = "failure"
	}
	_, err = e.Audit.Append(ctx, nil, audit.Entry{
		OrgID:      p.OrgID,
		UserID:     p.UserID,
		Kind:       "sync",
		Outcome:    outcome,
		Total:      len(updates),
		Succeeded:  len(out.Results),
		Failed:     len(out.Conflicts),
		DurationMS: e.Now().Sub(start).Milliseconds(),
		Detail:     map[string]any{"types": typeTally},
		CreatedAt:  e.now(),
	})
	if err != nil {
		e.logf("sync: audit append failed: %v", err)
	}
	return out, nil
}

// RecordSyncFailure logs a structurally invalid sync request that was
// rejected before any update ran.
func (e *Engine) RecordSyncFailure(ctx context.Context, p Principal, reason string) {
	_, err := e.Audit.Append(ctx, nil, audit.Entry{
		OrgID:     p.OrgID,
		UserID:    p.UserID,
		Kind:      "sync",
		Outcome:   "failure",
		Error:     "Synchronization error occurred",
		Detail:    map[string]any{"event": "field_app_sync_failed", "reason": reason},
		CreatedAt: e.now(),
	})
	if err != nil {
		e.logf("sync: failure audit append failed: %v", err)
	}
}

func (e *Engine) applyUpdate(ctx context.Context, p Principal, u SyncUpdate) (result SyncResult, conflict *SyncConflict) {
	defer func() {
		if r := recover(); r != nil {
			e.logf("sync: update %s/%s panic: %v", u.Type, u.EntityID, r)
			conflict = &SyncConflict{EntityID: u.EntityID, Type: u.Type, Error: "Synchronization error occurred"}
		}
	}()

	var err error
	switch u.Type {
	case UpdateTaskEdit:
		err = e.applyTaskEdit(ctx, p, u)
	case UpdateStepUpdate:
		err = e.applyStepUpdate(ctx, p, u)
	case UpdateFieldCreation:
		err = e.applyFieldCreation(ctx, p, u)
	default:
		return result, &SyncConflict{EntityID: u.EntityID, Type: u.Type, Error: "unsupported update type"}
	}
	if err != nil {
		e.logf("sync: update %s/%s failed: %v", u.Type, u.EntityID, err)
		return result, &SyncConflict{EntityID: u.EntityID, Type: u.Type, Error: sanitizeSyncError(err)}
	}
	return SyncResult{Type: u.Type, ID: u.EntityID}, nil
}

// taskEditPayload is the allow-list: only these fields ever reach the
// work item, whatever else the client sends.
type taskEditPayload struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Status      *string `json:"status"`
	Priority    *string `json:"priority"`
	DueDate     *string `json:"dueDate"`
	LocalData   struct {
		StatusOverride *string `json:"statusOverride"`
	} `json:"localData"`
}

func (e *Engine) applyTaskEdit(ctx context.Context, p Principal, u SyncUpdate) error {
	var payload taskEditPayload
	if err := json.Unmarshal(u.Data, &payload); err != nil {
		return fmt.Errorf("decode task edit: %w", err)
	}
	item, err := e.Repo.GetWorkItem(ctx, u.EntityID)
	if err != nil {
		return err
	}
	if item.OrgID != p.OrgID {
		return repo.ErrNotFound
	}
	if payload.Title != nil {
		item.Title = *payload.Title
	}
	if payload.Description != nil {
		item.Description = *payload.Description
	}
	if payload.Status != nil {
		item.Status = *payload.Status
	}
	// An offline status override recorded on the device beats the
	// top-level status.
	if payload.LocalData.StatusOverride != nil {
		item.Status = *payload.LocalData.StatusOverride
	}
	if payload.Priority != nil {
		item.Priority = *payload.Priority
	}
	if payload.DueDate != nil {
		item.DueDate = payload.DueDate
	}
	item.UpdatedAt = e.now()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateWorkItem(ctx, tx, item); err != nil {
		return err
	}
	return tx.Commit()
}

type stepUpdatePayload struct {
	StepIndex int             `json:"stepIndex"`
	Status    *string         `json:"status"`
	Notes     *string         `json:"notes"`
	Evidence  json.RawMessage `json:"evidence"`
}

func (e *Engine) applyStepUpdate(ctx context.Context, p Principal, u SyncUpdate) error {
	var payload stepUpdatePayload
	if err := json.Unmarshal(u.Data, &payload); err != nil {
		return fmt.Errorf("decode step update: %w", err)
	}
	_, exec, step, err := e.resolveStep(ctx, p, u.EntityID, payload.StepIndex)
	if err != nil {
		return err
	}

	if len(payload.Evidence) > 0 {
		merged, err := evidence.MergeJSON(step.EvidenceJSON, string(payload.Evidence))
		if err != nil {
			return err
		}
		step.EvidenceJSON = merged
	}
	if payload.Notes != nil {
		step.Notes = *payload.Notes
	}
	if payload.Status != nil {
		step.Status = *payload.Status
		switch *payload.Status {
		case "completed":
			now := e.now()
			step.CompletedAt = &now
			step.CompletedBy = &p.UserID
		case "in_progress", "not_started":
			step.CompletedAt = nil
			step.CompletedBy = nil
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateStep(ctx, tx, step); err != nil {
		return err
	}
	if payload.Status != nil {
		if err := e.rollupExecutionStatus(ctx, tx, exec); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// rollupExecutionStatus derives the execution status from its steps:
// completed once every step is, in_progress on any other recorded step
// activity.
func (e *Engine) rollupExecutionStatus(ctx context.Context, tx *sql.Tx, exec domain.WorkflowExecution) error {
	open, err := e.Repo.CountOpenSteps(ctx, tx, exec.ID)
	if err != nil {
		return err
	}
	status := "in_progress"
	if open == 0 {
		status = "completed"
	}
	if status == exec.Status {
		return nil
	}
	return e.Repo.UpdateExecutionStatus(ctx, tx, exec.ID, status, e.now())
}

type fieldCreationPayload struct {
	Name      string   `json:"name"`
	AssetType string   `json:"assetType"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Notes     string   `json:"notes"`
}

func (e *Engine) applyFieldCreation(ctx context.Context, p Principal, u SyncUpdate) error {
	var payload fieldCreationPayload
	if err := json.Unmarshal(u.Data, &payload); err != nil {
		return fmt.Errorf("decode field entity: %w", err)
	}
	if payload.Name == "" || payload.Latitude == nil || payload.Longitude == nil {
		return fmt.Errorf("field entity requires name and coordinates: %w", errValidation)
	}
	now := e.now()
	asset := domain.FieldAsset{
		ID:         u.EntityID,
		OrgID:      p.OrgID,
		Name:       payload.Name,
		AssetType:  payload.AssetType,
		Latitude:   *payload.Latitude,
		Longitude:  *payload.Longitude,
		Notes:      payload.Notes,
		CapturedBy: p.UserID,
		CreatedAt:  now,
	}
	if asset.ID == "" {
		asset.ID = uuid.NewString()
	}
	dueDate := e.Now().UTC().Add(reviewHorizon).Format(time.RFC3339)
	review := domain.WorkItem{
		ID:         uuid.NewString(),
		OrgID:      p.OrgID,
		Title:      "Review field asset: " + payload.Name,
		Status:     "pending",
		Priority:   "medium",
		AssignedTo: &p.UserID,
		DueDate:    &dueDate,
		AssetID:    &asset.ID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertFieldAsset(ctx, tx, asset); err != nil {
		return err
	}
	if _, err := e.Audit.Append(ctx, tx, audit.Entry{
		OrgID:     p.OrgID,
		UserID:    p.UserID,
		Kind:      "sync",
		Outcome:   "success",
		Total:     1,
		Succeeded: 1,
		Detail:    map[string]any{"event": "field_asset_created", "asset_id": asset.ID},
		CreatedAt: now,
	}); err != nil {
		return err
	}
	if err := e.Repo.InsertWorkItem(ctx, tx, review); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	// Best effort: the review item has no workflow template yet, so
	// execution init usually has nothing to do. Never fails the sync.
	if err := e.InitExecution(ctx, review); err != nil {
		e.logf("sync: init execution for %s: %v", review.ID, err)
	}
	return nil
}

// InitExecution creates the execution and its steps for a work item
// that carries a workflow template.
func (e *Engine) InitExecution(ctx context.Context, item domain.WorkItem) error {
	templateID := templateIDOf(item)
	if templateID == "" {
		return nil
	}
	t, err := e.Repo.GetWorkflowTemplate(ctx, templateID)
	if err != nil {
		return err
	}
	steps, err := templateSteps(t.StepsJSON)
	if err != nil {
		return err
	}
	now := e.now()
	exec := domain.WorkflowExecution{
		ID:                 uuid.NewString(),
		WorkItemID:         item.ID,
		WorkflowTemplateID: t.ID,
		Status:             "not_started",
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertExecution(ctx, tx, exec); err != nil {
		return err
	}
	for i, s := range steps {
		evJSON, err := s.evidence()
		if err != nil {
			return err
		}
		step := domain.ExecutionStep{
			ExecutionID:  exec.ID,
			StepIndex:    i,
			Title:        s.Title,
			Status:       "not_started",
			EvidenceJSON: evJSON,
		}
		if err := e.Repo.InsertStep(ctx, tx, step); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// templateStep is one entry of a template's steps_json document. Its
// template-defined fields seed the step's evidence record.
type templateStep struct {
	Title          string                   `json:"title"`
	StepType       string                   `json:"stepType"`
	Required       *bool                    `json:"required"`
	Config         map[string]any           `json:"config"`
	ChecklistItems []evidence.ChecklistItem `json:"checklistItems"`
	FormFields     []evidence.FormField     `json:"formFields"`
	PhotoConfig    map[string]any           `json:"photoConfig"`
}

func templateSteps(stepsJSON string) ([]templateStep, error) {
	if stepsJSON == "" {
		return nil, nil
	}
	var steps []templateStep
	if err := json.Unmarshal([]byte(stepsJSON), &steps); err != nil {
		return nil, fmt.Errorf("parse template steps: %w", err)
	}
	return steps, nil
}

func (s templateStep) evidence() (string, error) {
	ev := evidence.Evidence{
		StepType:       s.StepType,
		Required:       s.Required,
		Config:         s.Config,
		ChecklistItems: s.ChecklistItems,
		FormFields:     s.FormFields,
		PhotoConfig:    s.PhotoConfig,
	}
	return ev.ToJSON()
}

func (e *Engine) refreshWorkingSet(ctx context.Context, p Principal) (NewData, error) {
	data := NewData{
		WorkItems: []domain.WorkItem{},
		Templates: []domain.WorkflowTemplate{},
	}
	items, err := e.Repo.ListOpenWorkItems(ctx, p.OrgID, p.UserID, e.Config.ActiveStatuses())
	if err != nil {
		return data, err
	}
	data.WorkItems = items
	seen := map[string]struct{}{}
	for _, item := range items {
		tid := templateIDOf(item)
		if tid == "" {
			continue
		}
		if _, dup := seen[tid]; dup {
			continue
		}
		seen[tid] = struct{}{}
		t, err := e.Repo.GetWorkflowTemplate(ctx, tid)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				continue
			}
			return data, err
		}
		data.Templates = append(data.Templates, t)
	}
	return data, nil
}

var errValidation = errors.New("validation failed")

// sanitizeSyncError maps storage errors to the small vocabulary that
// may appear in client responses and the audit trail. Raw text stays
// in the server log.
func sanitizeSyncError(err error) string {
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return "Data not found"
	case errors.Is(err, errValidation):
		msg := err.Error()
		if i := strings.Index(msg, ":"); i > 0 {
			return msg[:i]
		}
		return msg
	}
	text := strings.ToLower(err.Error())
	switch {
	case strings.Contains(text, "unique constraint"):
		return "Sync conflict - data already exists"
	case strings.Contains(text, "permission") || strings.Contains(text, "denied"):
		return "Permission denied"
	default:
		return "Synchronization error occurred"
	}
}
