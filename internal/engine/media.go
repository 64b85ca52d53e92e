package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"fieldsync/internal/audit"
	"fieldsync/internal/evidence"
	"fieldsync/internal/media"
	"fieldsync/internal/repo"
	"fieldsync/internal/worker"
)

var ErrIndexOutOfRange = errors.New("index out of range")

// MediaUpload is one incoming photo or audio file bound to a step.
type MediaUpload struct {
	WorkItemID string
	StepIndex  int
	FileName   string
	MimeType   string
	Data       []byte
	Duration   float64
}

type MediaResult struct {
	ID          string `json:"id"`
	StoragePath string `json:"storage_path,omitempty"`
	Duplicate   bool   `json:"duplicate"`
}

// UploadPhoto ingests a photo into a step's evidence. Re-uploading the
// same file name and size returns the existing entry; client retries
// must be idempotent.
func (e *Engine) UploadPhoto(ctx context.Context, p Principal, up MediaUpload) (MediaResult, error) {
	if err := media.ValidatePhoto(up.FileName, up.MimeType, int64(len(up.Data))); err != nil {
		e.auditUpload(ctx, p, "photo", "failure", up.FileName, int64(len(up.Data)), sanitizeUploadError(err))
		return MediaResult{}, err
	}
	res, err := e.ingest(ctx, p, up, "photo")
	if err != nil {
		e.auditUpload(ctx, p, "photo", "failure", up.FileName, int64(len(up.Data)), sanitizeUploadError(err))
	}
	return res, err
}

// UploadAudio ingests an audio recording and enqueues post-processing.
// The post-processing job is fire-and-forget; its failure never
// surfaces to this call.
func (e *Engine) UploadAudio(ctx context.Context, p Principal, up MediaUpload) (MediaResult, error) {
	if err := media.ValidateAudio(up.FileName, up.MimeType, int64(len(up.Data))); err != nil {
		e.auditUpload(ctx, p, "audio", "failure", up.FileName, int64(len(up.Data)), sanitizeUploadError(err))
		return MediaResult{}, err
	}
	res, err := e.ingest(ctx, p, up, "audio")
	if err != nil {
		e.auditUpload(ctx, p, "audio", "failure", up.FileName, int64(len(up.Data)), sanitizeUploadError(err))
		return res, err
	}
	if res.Duplicate {
		return res, nil
	}
	e.enqueueAudioProcessing(p, up.WorkItemID, up.StepIndex, res.ID)
	return res, nil
}

func (e *Engine) ingest(ctx context.Context, p Principal, up MediaUpload, kind string) (MediaResult, error) {
	_, _, step, err := e.resolveStep(ctx, p, up.WorkItemID, up.StepIndex)
	if err != nil {
		return MediaResult{}, err
	}
	ev, err := evidence.FromJSON(step.EvidenceJSON)
	if err != nil {
		return MediaResult{}, err
	}
	existing := ev.Photos
	if kind == "audio" {
		existing = ev.AudioRecordings
	}
	size := int64(len(up.Data))
	if i := evidence.FindMedia(existing, up.FileName, size); i >= 0 {
		e.auditUpload(ctx, p, kind, "duplicate", up.FileName, size, "")
		return MediaResult{ID: existing[i].ID, StoragePath: existing[i].StoragePath, Duplicate: true}, nil
	}

	storagePath, err := e.Media.Save(up.FileName, up.Data)
	if err != nil {
		return MediaResult{}, err
	}
	entry := evidence.MediaEntry{
		ID:          uuid.NewString(),
		FileName:    up.FileName,
		Size:        size,
		Data:        media.EncodeInline(up.Data),
		StoragePath: storagePath,
		UploadedAt:  e.now(),
		UploadedBy:  p.UserID,
	}
	if kind == "audio" {
		entry.Duration = up.Duration
	}

	incoming := evidence.Evidence{}
	if kind == "audio" {
		incoming.AudioRecordings = append(append([]evidence.MediaEntry{}, ev.AudioRecordings...), entry)
	} else {
		incoming.Photos = append(append([]evidence.MediaEntry{}, ev.Photos...), entry)
	}
	merged, err := evidence.Merge(ev, incoming).ToJSON()
	if err != nil {
		e.Media.Remove(storagePath)
		return MediaResult{}, err
	}
	step.EvidenceJSON = merged

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		e.Media.Remove(storagePath)
		return MediaResult{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateStep(ctx, tx, step); err != nil {
		e.Media.Remove(storagePath)
		return MediaResult{}, err
	}
	if _, err := e.Audit.Append(ctx, tx, audit.Entry{
		OrgID:     p.OrgID,
		UserID:    p.UserID,
		Kind:      "upload",
		Outcome:   "success",
		Total:     1,
		Succeeded: 1,
		Detail:    map[string]any{"media": kind, "file_name": up.FileName, "size": size},
		CreatedAt: e.now(),
	}); err != nil {
		e.Media.Remove(storagePath)
		return MediaResult{}, err
	}
	if err := tx.Commit(); err != nil {
		e.Media.Remove(storagePath)
		return MediaResult{}, err
	}
	return MediaResult{ID: entry.ID, StoragePath: storagePath}, nil
}

func (e *Engine) auditUpload(ctx context.Context, p Principal, kind, outcome, fileName string, size int64, errText string) {
	entry := audit.Entry{
		OrgID:     p.OrgID,
		UserID:    p.UserID,
		Kind:      "upload",
		Outcome:   outcome,
		Total:     1,
		Error:     errText,
		Detail:    map[string]any{"media": kind, "file_name": fileName, "size": size},
		CreatedAt: e.now(),
	}
	if outcome == "failure" {
		entry.Failed = 1
	}
	if _, err := e.Audit.Append(ctx, nil, entry); err != nil {
		e.logf("media: audit append failed: %v", err)
	}
}

// sanitizeUploadError keeps upload audit rows in the same restricted
// vocabulary as sync conflicts, with upload-specific cases on top.
func sanitizeUploadError(err error) string {
	switch {
	case errors.Is(err, media.ErrTooLarge):
		return "File too large"
	case errors.Is(err, media.ErrUnsupportedType):
		return "Unsupported file type"
	default:
		return sanitizeSyncError(err)
	}
}

// DeletePhoto removes one photo entry by index. Stored bytes for other
// entries are never touched.
func (e *Engine) DeletePhoto(ctx context.Context, p Principal, workItemID string, stepIndex, photoIndex int) error {
	_, _, step, err := e.resolveStep(ctx, p, workItemID, stepIndex)
	if err != nil {
		return err
	}
	ev, err := evidence.FromJSON(step.EvidenceJSON)
	if err != nil {
		return err
	}
	if photoIndex < 0 || photoIndex >= len(ev.Photos) {
		return fmt.Errorf("photo index %d: %w", photoIndex, ErrIndexOutOfRange)
	}
	removed := ev.Photos[photoIndex]
	ev.Photos = append(ev.Photos[:photoIndex], ev.Photos[photoIndex+1:]...)
	merged, err := ev.ToJSON()
	if err != nil {
		return err
	}
	step.EvidenceJSON = merged

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateStep(ctx, tx, step); err != nil {
		return err
	}
	if _, err := e.Audit.Append(ctx, tx, audit.Entry{
		OrgID:     p.OrgID,
		UserID:    p.UserID,
		Kind:      "upload",
		Outcome:   "success",
		Total:     1,
		Succeeded: 1,
		Detail:    map[string]any{"event": "photo_deleted", "file_name": removed.FileName, "index": photoIndex},
		CreatedAt: e.now(),
	}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	if removed.StoragePath != "" {
		if err := e.Media.Remove(removed.StoragePath); err != nil {
			e.logf("media: remove %s: %v", removed.StoragePath, err)
		}
	}
	return nil
}

// ReprocessAudio re-enqueues post-processing for an existing recording,
// the recovery path when a fire-and-forget job failed.
func (e *Engine) ReprocessAudio(ctx context.Context, p Principal, workItemID string, stepIndex, audioIndex int) error {
	_, _, step, err := e.resolveStep(ctx, p, workItemID, stepIndex)
	if err != nil {
		return err
	}
	ev, err := evidence.FromJSON(step.EvidenceJSON)
	if err != nil {
		return err
	}
	if audioIndex < 0 || audioIndex >= len(ev.AudioRecordings) {
		return fmt.Errorf("audio index %d: %w", audioIndex, ErrIndexOutOfRange)
	}
	e.enqueueAudioProcessing(p, workItemID, stepIndex, ev.AudioRecordings[audioIndex].ID)
	return nil
}

func (e *Engine) enqueueAudioProcessing(p Principal, workItemID string, stepIndex int, entryID string) {
	if e.Pool == nil {
		return
	}
	e.Pool.Submit(worker.Task{
		Name:    "audio-postprocess",
		Retries: 2,
		Run: func(ctx context.Context) error {
			return e.processAudio(ctx, p, workItemID, stepIndex, entryID)
		},
	})
}

// processAudio is the downstream hook for uploaded recordings. It
// verifies the stored file is readable and logs the outcome; failures
// are retried by the pool and recoverable via ReprocessAudio.
func (e *Engine) processAudio(ctx context.Context, p Principal, workItemID string, stepIndex int, entryID string) error {
	_, _, step, err := e.resolveStep(ctx, p, workItemID, stepIndex)
	if err != nil {
		return err
	}
	ev, err := evidence.FromJSON(step.EvidenceJSON)
	if err != nil {
		return err
	}
	for _, entry := range ev.AudioRecordings {
		if entry.ID != entryID {
			continue
		}
		switch {
		case entry.StoragePath != "":
			if _, err := e.Media.Read(entry.StoragePath); err != nil {
				return fmt.Errorf("read audio %s: %w", entry.StoragePath, err)
			}
		case entry.Data != "":
			// Recording arrived inline through sync evidence rather
			// than multipart.
			if _, err := media.DecodeInline(entry.Data); err != nil {
				return fmt.Errorf("decode audio %s: %w", entry.ID, err)
			}
		}
		e.logf("media: processed audio %s (%.1fs) for %s", entry.FileName, entry.Duration, workItemID)
		return nil
	}
	return fmt.Errorf("audio entry %s: %w", entryID, repo.ErrNotFound)
}
