package server

import (
	"fieldsync/internal/domain"
	"fieldsync/internal/engine"
)

type availableBody struct {
	WorkItems []engine.AvailableItem `json:"work_items"`
	Count     int                    `json:"count"`
}

type availableResponse struct {
	Body availableBody
}

type downloadRequestBody struct {
	WorkItemIDs        []string `json:"workItemIds" required:"true"`
	IncludeTemplates   bool     `json:"includeTemplates"`
	IncludeAttachments bool     `json:"includeAttachments"`
	Offset             *int     `json:"offset,omitempty" minimum:"0"`
	Limit              *int     `json:"limit,omitempty" minimum:"0"`
}

type downloadResponse struct {
	Body engine.DownloadPackage
}

type syncResponse struct {
	Body engine.SyncOutput
}

type deletePhotoBody struct {
	WorkItemID string `json:"workItemId" required:"true"`
	StepID     int    `json:"stepId" minimum:"0"`
	PhotoIndex int    `json:"photoIndex" minimum:"0"`
}

type reprocessAudioBody struct {
	WorkItemID string `json:"workItemId" required:"true"`
	StepID     int    `json:"stepId" minimum:"0"`
	AudioIndex int    `json:"audioIndex" minimum:"0"`
}

type okBody struct {
	OK bool `json:"ok"`
}

type okResponse struct {
	Body okBody
}

type syncLogsBody struct {
	Entries    []domain.SyncLogEntry `json:"entries"`
	NextCursor int64                 `json:"next_cursor,omitempty"`
}

type syncLogsResponse struct {
	Body syncLogsBody
}
