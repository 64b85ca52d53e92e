package engine_test

import (
	"errors"
	"testing"

	"fieldsync/internal/engine"
	"fieldsync/internal/evidence"
	"fieldsync/internal/media"
)

func photoUpload(item string, name string, data []byte) engine.MediaUpload {
	return engine.MediaUpload{
		WorkItemID: item,
		StepIndex:  1,
		FileName:   name,
		MimeType:   "image/jpeg",
		Data:       data,
	}
}

func stepEvidence(t *testing.T, env testEnv, itemID string, stepIndex int) evidence.Evidence {
	t.Helper()
	exec, err := env.Engine.Repo.GetExecutionByWorkItem(env.Ctx, itemID)
	if err != nil {
		t.Fatalf("get execution: %v", err)
	}
	step, err := env.Engine.Repo.GetStep(env.Ctx, exec.ID, stepIndex)
	if err != nil {
		t.Fatalf("get step: %v", err)
	}
	ev, err := evidence.FromJSON(step.EvidenceJSON)
	if err != nil {
		t.Fatalf("parse evidence: %v", err)
	}
	return ev
}

func TestIdempotentPhotoUpload(t *testing.T) {
	env := newTestEnv(t)
	item := seedItem(t, env, env.Caller.UserID)
	data := []byte("jpegbytes")

	first, err := env.Engine.UploadPhoto(env.Ctx, env.Caller, photoUpload(item.ID, "cab.jpg", data))
	if err != nil {
		t.Fatalf("first upload: %v", err)
	}
	if first.Duplicate {
		t.Fatal("first upload flagged duplicate")
	}

	second, err := env.Engine.UploadPhoto(env.Ctx, env.Caller, photoUpload(item.ID, "cab.jpg", data))
	if err != nil {
		t.Fatalf("second upload: %v", err)
	}
	if !second.Duplicate {
		t.Fatal("retry must be flagged duplicate")
	}
	if second.ID != first.ID {
		t.Fatalf("duplicate must reference the existing entry: %s != %s", second.ID, first.ID)
	}

	ev := stepEvidence(t, env, item.ID, 1)
	if len(ev.Photos) != 1 {
		t.Fatalf("evidence array must grow by exactly one entry, got %d", len(ev.Photos))
	}
}

func TestPhotoValidation(t *testing.T) {
	env := newTestEnv(t)
	item := seedItem(t, env, env.Caller.UserID)

	up := photoUpload(item.ID, "notes.txt", []byte("x"))
	if _, err := env.Engine.UploadPhoto(env.Ctx, env.Caller, up); !errors.Is(err, media.ErrUnsupportedType) {
		t.Fatalf("expected unsupported type, got %v", err)
	}

	up = photoUpload(item.ID, "cab.jpg", []byte("x"))
	up.MimeType = "application/octet-stream"
	if _, err := env.Engine.UploadPhoto(env.Ctx, env.Caller, up); !errors.Is(err, media.ErrUnsupportedType) {
		t.Fatalf("photo requires both extension and mime, got %v", err)
	}
}

func TestAudioValidationEitherMatch(t *testing.T) {
	if err := media.ValidateAudio("note.m4a", "application/octet-stream", 100); err != nil {
		t.Fatalf("known extension must suffice: %v", err)
	}
	if err := media.ValidateAudio("note.bin", "audio/mpeg", 100); err != nil {
		t.Fatalf("known mime must suffice: %v", err)
	}
	if err := media.ValidateAudio("note.bin", "application/octet-stream", 100); err == nil {
		t.Fatal("expected rejection when neither matches")
	}
}

func TestDeletePhoto(t *testing.T) {
	env := newTestEnv(t)
	item := seedItem(t, env, env.Caller.UserID)

	if _, err := env.Engine.UploadPhoto(env.Ctx, env.Caller, photoUpload(item.ID, "a.jpg", []byte("aa"))); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if _, err := env.Engine.UploadPhoto(env.Ctx, env.Caller, photoUpload(item.ID, "b.jpg", []byte("bb"))); err != nil {
		t.Fatalf("upload: %v", err)
	}

	err := env.Engine.DeletePhoto(env.Ctx, env.Caller, item.ID, 1, 5)
	if !errors.Is(err, engine.ErrIndexOutOfRange) {
		t.Fatalf("expected index error, got %v", err)
	}

	if err := env.Engine.DeletePhoto(env.Ctx, env.Caller, item.ID, 1, 0); err != nil {
		t.Fatalf("delete: %v", err)
	}
	ev := stepEvidence(t, env, item.ID, 1)
	if len(ev.Photos) != 1 || ev.Photos[0].FileName != "b.jpg" {
		t.Fatalf("wrong entry removed: %+v", ev.Photos)
	}
}

func TestFailedUploadAudited(t *testing.T) {
	env := newTestEnv(t)
	item := seedItem(t, env, env.Caller.UserID)

	up := photoUpload(item.ID, "cab.jpg", []byte("x"))
	up.StepIndex = 42
	if _, err := env.Engine.UploadPhoto(env.Ctx, env.Caller, up); err == nil {
		t.Fatal("expected error for missing step")
	}
	if _, err := env.Engine.UploadPhoto(env.Ctx, env.Caller, photoUpload(item.ID, "notes.txt", []byte("x"))); err == nil {
		t.Fatal("expected validation error")
	}

	logs, err := env.Engine.Repo.ListSyncLogs(env.Ctx, env.Caller.OrgID, env.Caller.UserID, 10, 0)
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("each failed upload gets one audit row, got %d: %+v", len(logs), logs)
	}
	for _, entry := range logs {
		if entry.Kind != "upload" || entry.Outcome != "failure" || entry.Failed != 1 {
			t.Fatalf("unexpected audit row: %+v", entry)
		}
	}
	// Newest first: the validation failure, then the missing step.
	if logs[0].Error != "Unsupported file type" {
		t.Fatalf("validation failure error = %q", logs[0].Error)
	}
	if logs[1].Error != "Data not found" {
		t.Fatalf("missing step error = %q", logs[1].Error)
	}
}

func TestUploadToMissingStepFails(t *testing.T) {
	env := newTestEnv(t)
	item := seedItem(t, env, env.Caller.UserID)

	up := photoUpload(item.ID, "cab.jpg", []byte("x"))
	up.StepIndex = 42
	if _, err := env.Engine.UploadPhoto(env.Ctx, env.Caller, up); err == nil {
		t.Fatal("expected error for missing step")
	}
}
