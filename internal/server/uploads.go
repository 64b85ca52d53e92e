package server

import (
	"encoding/json"
	"io"
	"net/http"
	"path"
	"strconv"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"fieldsync/internal/engine"
	"fieldsync/internal/media"
)

// registerUploads wires the multipart endpoints directly on the chi
// router; they sit under the base path so the auth middleware applies.
func registerUploads(router chi.Router, basePath string, e *engine.Engine) {
	router.Post(path.Join(basePath, "offline/photos"), uploadHandler(e, "photo"))
	router.Post(path.Join(basePath, "offline/audio"), uploadHandler(e, "audio"))
}

type uploadResponseBody struct {
	ID          string `json:"id"`
	StoragePath string `json:"storage_path,omitempty"`
	Duplicate   bool   `json:"duplicate"`
}

func uploadHandler(e *engine.Engine, kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principalFromContext(r.Context())
		if !ok || p.UserID == "" {
			respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
			return
		}
		caller := engine.Principal{UserID: p.UserID, OrgID: p.OrgID}

		maxBytes := int64(media.MaxPhotoBytes)
		if kind == "audio" {
			maxBytes = media.MaxAudioBytes
		}
		// Parts stream to a temp file past 8 MiB; the cap plus form
		// overhead bounds the whole request.
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes+1<<20)
		if err := r.ParseMultipartForm(8 << 20); err != nil {
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "invalid multipart form", nil))
			return
		}
		defer r.MultipartForm.RemoveAll()

		workItemID := r.FormValue("workItemId")
		if workItemID == "" {
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "workItemId is required", nil))
			return
		}
		stepIndex, err := strconv.Atoi(r.FormValue("stepId"))
		if err != nil || stepIndex < 0 {
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "stepId must be a non-negative integer", nil))
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "file is required", nil))
			return
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "unreadable file part", nil))
			return
		}

		up := engine.MediaUpload{
			WorkItemID: workItemID,
			StepIndex:  stepIndex,
			FileName:   header.Filename,
			MimeType:   header.Header.Get("Content-Type"),
			Data:       data,
		}

		var result engine.MediaResult
		if kind == "audio" {
			if d := r.FormValue("duration"); d != "" {
				up.Duration, _ = strconv.ParseFloat(d, 64)
			}
			result, err = e.UploadAudio(r.Context(), caller, up)
		} else {
			result, err = e.UploadPhoto(r.Context(), caller, up)
		}
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}

		respondJSON(w, http.StatusCreated, uploadResponseBody{
			ID:          result.ID,
			StoragePath: result.StoragePath,
			Duplicate:   result.Duplicate,
		})
	}
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

var _ huma.StatusError = (*apiError)(nil)
