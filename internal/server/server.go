package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"fieldsync/internal/domain"
	"fieldsync/internal/engine"
	"fieldsync/internal/media"
	"fieldsync/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   *engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"bad_request"`
	Message string         `json:"message" example:"photo index 3: index out of range"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the offline sync API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("FieldSync API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerAvailable(group, cfg.Engine)
	registerDownload(group, cfg.Engine)
	registerSync(group, cfg.Engine)
	registerMediaOps(group, cfg.Engine)
	registerSyncLogs(group, cfg.Engine)
	registerUploads(router, basePath, cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, engine.ErrIndexOutOfRange) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	if errors.Is(err, engine.ErrBatchTooLarge) {
		return newAPIError(http.StatusBadRequest, "batch_too_large", err.Error(), nil)
	}
	if errors.Is(err, media.ErrTooLarge) {
		return newAPIError(http.StatusRequestEntityTooLarge, "file_too_large", err.Error(), nil)
	}
	if errors.Is(err, media.ErrUnsupportedType) {
		return newAPIError(http.StatusBadRequest, "unsupported_file_type", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "unique constraint"):
		return newAPIError(http.StatusConflict, "conflict", "Sync conflict - data already exists", nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerAvailable(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-available-work-items",
		Method:      http.MethodGet,
		Path:        "/work-items/available",
		Summary:     "List work items available for offline download",
		Errors:      []int{http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		AssignedTo  []string `query:"assignedTo" enum:"me,team,all"`
		Status      []string `query:"status"`
		DateRange   string   `query:"dateRange" enum:"today,week,month,all,"`
		TemplateIDs []string `query:"templateIds"`
	}) (*availableResponse, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListAvailable(ctx, caller, engine.FilterOptions{
			Scopes:      splitMulti(input.AssignedTo),
			Statuses:    splitMulti(input.Status),
			DateRange:   input.DateRange,
			TemplateIDs: splitMulti(input.TemplateIDs),
		})
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []engine.AvailableItem{}
		}
		return &availableResponse{Body: availableBody{WorkItems: items, Count: len(items)}}, nil
	})
}

func registerDownload(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "offline-download",
		Method:      http.MethodPost,
		Path:        "/offline/download",
		Summary:     "Download an offline work package",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body downloadRequestBody
	}) (*downloadResponse, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		pkg, err := e.Download(ctx, caller, engine.DownloadRequest{
			WorkItemIDs:        input.Body.WorkItemIDs,
			IncludeTemplates:   input.Body.IncludeTemplates,
			IncludeAttachments: input.Body.IncludeAttachments,
			Offset:             valueOr(input.Body.Offset, 0),
			Limit:              valueOr(input.Body.Limit, 0),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &downloadResponse{Body: pkg}, nil
	})
}

func registerSync(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "offline-sync",
		Method:      http.MethodPost,
		Path:        "/offline/sync",
		Summary:     "Apply a batch of offline updates",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		RawBody []byte
	}) (*syncResponse, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		updates, err := parseSyncBody(input.RawBody)
		if err != nil {
			e.RecordSyncFailure(ctx, caller, err.Error())
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		out, err := e.Sync(ctx, caller, updates)
		if err != nil {
			return nil, handleError(err)
		}
		return &syncResponse{Body: out}, nil
	})
}

// parseSyncBody validates the batch shape before any update runs:
// updates must be present and must be a list.
func parseSyncBody(raw []byte) ([]engine.SyncUpdate, error) {
	var envelope struct {
		Updates json.RawMessage `json:"updates"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, errors.New("invalid sync request body")
	}
	trimmed := strings.TrimSpace(string(envelope.Updates))
	if trimmed == "" || trimmed == "null" {
		return nil, errors.New("updates is required and must be a list")
	}
	if !strings.HasPrefix(trimmed, "[") {
		return nil, errors.New("updates must be a list")
	}
	var updates []engine.SyncUpdate
	if err := json.Unmarshal(envelope.Updates, &updates); err != nil {
		return nil, errors.New("updates must be a list of {type, entityId, data} records")
	}
	return updates, nil
}

func registerMediaOps(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "offline-delete-photo",
		Method:      http.MethodPost,
		Path:        "/offline/photos/delete",
		Summary:     "Delete one photo from a step's evidence",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body deletePhotoBody
	}) (*okResponse, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeletePhoto(ctx, caller, input.Body.WorkItemID, input.Body.StepID, input.Body.PhotoIndex); err != nil {
			return nil, handleError(err)
		}
		return &okResponse{Body: okBody{OK: true}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "offline-reprocess-audio",
		Method:      http.MethodPost,
		Path:        "/offline/audio/reprocess",
		Summary:     "Re-enqueue post-processing for an audio recording",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body reprocessAudioBody
	}) (*okResponse, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.ReprocessAudio(ctx, caller, input.Body.WorkItemID, input.Body.StepID, input.Body.AudioIndex); err != nil {
			return nil, handleError(err)
		}
		return &okResponse{Body: okBody{OK: true}}, nil
	})
}

func registerSyncLogs(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-sync-logs",
		Method:      http.MethodGet,
		Path:        "/offline/sync-logs",
		Summary:     "List the caller's sync activity",
		Errors:      []int{http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Limit  int   `query:"limit" minimum:"0" maximum:"200"`
		Cursor int64 `query:"cursor" minimum:"0"`
	}) (*syncLogsResponse, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		entries, err := e.Repo.ListSyncLogs(ctx, caller.OrgID, caller.UserID, input.Limit, input.Cursor)
		if err != nil {
			return nil, handleError(err)
		}
		if entries == nil {
			entries = []domain.SyncLogEntry{}
		}
		body := syncLogsBody{Entries: entries}
		if len(entries) > 0 {
			body.NextCursor = entries[len(entries)-1].ID
		}
		return &syncLogsResponse{Body: body}, nil
	})
}

// splitMulti accepts repeatable and comma-joined query values.
func splitMulti(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func valueOr(v *int, fallback int) int {
	if v == nil {
		return fallback
	}
	return *v
}
