package engine

import (
	"context"
	"encoding/json"
	"errors"

	"fieldsync/internal/domain"
	"fieldsync/internal/evidence"
	"fieldsync/internal/repo"
)

// DownloadRequest asks for a self-contained offline package covering
// the listed work items, optionally one chunk at a time.
type DownloadRequest struct {
	WorkItemIDs        []string
	IncludeTemplates   bool
	IncludeAttachments bool
	Offset             int
	Limit              int
}

// StepState is one step as shipped to the offline client. Evidence is
// always a JSON object, never null.
type StepState struct {
	StepIndex   int             `json:"step_index"`
	Title       string          `json:"title"`
	Status      string          `json:"status"`
	Notes       string          `json:"notes,omitempty"`
	CompletedAt *string         `json:"completed_at,omitempty"`
	CompletedBy *string         `json:"completed_by,omitempty"`
	Evidence    json.RawMessage `json:"evidence"`
}

type ExecutionState struct {
	ExecutionID string      `json:"execution_id"`
	WorkItemID  string      `json:"work_item_id"`
	Status      string      `json:"status"`
	Steps       []StepState `json:"steps"`
}

// DownloadMetadata reports where this chunk sits in the requested set.
// Batches are 1-indexed.
type DownloadMetadata struct {
	TotalRequested int  `json:"total_requested"`
	CurrentBatch   int  `json:"current_batch"`
	TotalBatches   int  `json:"total_batches"`
	Offset         int  `json:"offset"`
	Limit          int  `json:"limit"`
	Returned       int  `json:"returned"`
	HasMore        bool `json:"has_more"`
}

type DownloadPackage struct {
	WorkItems       []domain.WorkItem         `json:"work_items"`
	Templates       []domain.WorkflowTemplate `json:"templates"`
	ExecutionStates []ExecutionState          `json:"execution_states"`
	Metadata        DownloadMetadata          `json:"metadata"`
}

// Download assembles an offline package for one chunk of the requested
// ID list. Unresolvable items and templates are dropped, not errored;
// the client may hold stale IDs.
func (e *Engine) Download(ctx context.Context, p Principal, req DownloadRequest) (DownloadPackage, error) {
	pkg := DownloadPackage{
		WorkItems:       []domain.WorkItem{},
		Templates:       []domain.WorkflowTemplate{},
		ExecutionStates: []ExecutionState{},
		Metadata:        chunkMetadata(len(req.WorkItemIDs), req.Offset, req.Limit),
	}

	ids := sliceChunk(req.WorkItemIDs, req.Offset, req.Limit)
	templateIDs := make([]string, 0, len(ids))
	seenTemplates := map[string]struct{}{}

	for _, id := range ids {
		item, err := e.Repo.GetWorkItem(ctx, id)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				continue
			}
			return pkg, err
		}
		if item.OrgID != p.OrgID {
			continue
		}
		pkg.WorkItems = append(pkg.WorkItems, item)
		if tid := templateIDOf(item); tid != "" {
			if _, seen := seenTemplates[tid]; !seen {
				seenTemplates[tid] = struct{}{}
				templateIDs = append(templateIDs, tid)
			}
		}

		state, err := e.executionState(ctx, item.ID, req.IncludeAttachments)
		if err != nil {
			return pkg, err
		}
		if state != nil {
			pkg.ExecutionStates = append(pkg.ExecutionStates, *state)
		}
	}

	if req.IncludeTemplates {
		for _, tid := range templateIDs {
			t, err := e.Repo.GetWorkflowTemplate(ctx, tid)
			if err != nil {
				if errors.Is(err, repo.ErrNotFound) {
					continue
				}
				return pkg, err
			}
			pkg.Templates = append(pkg.Templates, t)
		}
	}

	pkg.Metadata.Returned = len(pkg.WorkItems)
	return pkg, nil
}

func (e *Engine) executionState(ctx context.Context, workItemID string, includeAttachments bool) (*ExecutionState, error) {
	exec, err := e.Repo.GetExecutionByWorkItem(ctx, workItemID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	steps, err := e.Repo.ListSteps(ctx, exec.ID)
	if err != nil {
		return nil, err
	}
	state := ExecutionState{
		ExecutionID: exec.ID,
		WorkItemID:  exec.WorkItemID,
		Status:      exec.Status,
		Steps:       make([]StepState, 0, len(steps)),
	}
	for _, s := range steps {
		raw := s.EvidenceJSON
		if !includeAttachments && raw != "" {
			raw, err = stripInlineData(raw)
			if err != nil {
				return nil, err
			}
		}
		if raw == "" || raw == "null" {
			raw = "{}"
		}
		state.Steps = append(state.Steps, StepState{
			StepIndex:   s.StepIndex,
			Title:       s.Title,
			Status:      s.Status,
			Notes:       s.Notes,
			CompletedAt: s.CompletedAt,
			CompletedBy: s.CompletedBy,
			Evidence:    json.RawMessage(raw),
		})
	}
	return &state, nil
}

// stripInlineData drops base64 payloads from media entries so a
// metadata-only package stays small.
func stripInlineData(raw string) (string, error) {
	ev, err := evidence.FromJSON(raw)
	if err != nil {
		return "", err
	}
	for i := range ev.Photos {
		ev.Photos[i].Data = ""
	}
	for i := range ev.AudioRecordings {
		ev.AudioRecordings[i].Data = ""
	}
	return ev.ToJSON()
}

func sliceChunk(ids []string, offset, limit int) []string {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(ids) {
		return nil
	}
	if limit <= 0 {
		return ids[offset:]
	}
	end := offset + limit
	if end > len(ids) {
		end = len(ids)
	}
	return ids[offset:end]
}

// chunkMetadata computes 1-indexed batch position. Omitted limit means
// the whole set as batch 1 of 1.
func chunkMetadata(total, offset, limit int) DownloadMetadata {
	m := DownloadMetadata{
		TotalRequested: total,
		Offset:         offset,
		Limit:          limit,
		CurrentBatch:   1,
		TotalBatches:   1,
	}
	if limit > 0 {
		m.CurrentBatch = offset/limit + 1
		m.TotalBatches = (total + limit - 1) / limit
		if m.TotalBatches < 1 {
			m.TotalBatches = 1
		}
		m.HasMore = offset+limit < total
	}
	return m
}
