package domain

// WorkItem is a unit of field work assigned to a technician. Items are
// mutated by offline sync but never deleted by it.
type WorkItem struct {
	ID                 string  `json:"id"`
	OrgID              string  `json:"org_id"`
	Title              string  `json:"title"`
	Description        string  `json:"description,omitempty"`
	Status             string  `json:"status" enum:"pending,assigned,in_progress,on_hold,completed,cancelled"`
	Priority           string  `json:"priority,omitempty"`
	AssignedTo         *string `json:"assigned_to,omitempty"`
	TeamID             *string `json:"team_id,omitempty"`
	DueDate            *string `json:"due_date,omitempty" format:"date-time"`
	WorkflowTemplateID *string `json:"workflow_template_id,omitempty"`
	// TemplateID is the legacy template reference still sent by older
	// clients; template filters match either field.
	TemplateID *string `json:"template_id,omitempty"`
	AssetID    *string `json:"asset_id,omitempty"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
	UpdatedAt  string  `json:"updated_at" format:"date-time"`
}

type WorkflowTemplate struct {
	ID        string `json:"id"`
	OrgID     string `json:"org_id"`
	Name      string `json:"name"`
	StepsJSON string `json:"steps_json,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type WorkflowExecution struct {
	ID                 string `json:"id"`
	WorkItemID         string `json:"work_item_id"`
	WorkflowTemplateID string `json:"workflow_template_id"`
	Status             string `json:"status" enum:"not_started,in_progress,completed"`
	CreatedAt          string `json:"created_at" format:"date-time"`
	UpdatedAt          string `json:"updated_at" format:"date-time"`
}

// ExecutionStep is one step of a workflow execution, identified by
// (ExecutionID, StepIndex). CompletedAt and CompletedBy are always set
// together and cleared together.
type ExecutionStep struct {
	ExecutionID  string  `json:"execution_id"`
	StepIndex    int     `json:"step_index"`
	Title        string  `json:"title"`
	Status       string  `json:"status" enum:"not_started,in_progress,completed"`
	Notes        string  `json:"notes,omitempty"`
	CompletedAt  *string `json:"completed_at,omitempty" format:"date-time"`
	CompletedBy  *string `json:"completed_by,omitempty"`
	EvidenceJSON string  `json:"evidence_json,omitempty"`
}

// FieldAsset is an entity captured directly in the field, e.g. a surveyed
// infrastructure node. Creating one synthesizes a follow-up review work item.
type FieldAsset struct {
	ID         string  `json:"id"`
	OrgID      string  `json:"org_id"`
	Name       string  `json:"name"`
	AssetType  string  `json:"asset_type,omitempty"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	Notes      string  `json:"notes,omitempty"`
	CapturedBy string  `json:"captured_by"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
}

// SyncLogEntry is one append-only audit row per sync attempt or upload.
// Error carries sanitized text only; raw errors stay in the server log.
type SyncLogEntry struct {
	ID         int64  `json:"id"`
	OrgID      string `json:"org_id"`
	UserID     string `json:"user_id"`
	Kind       string `json:"kind" enum:"sync,upload"`
	Outcome    string `json:"outcome" enum:"success,partial,failure,duplicate"`
	Total      int    `json:"total"`
	Succeeded  int    `json:"succeeded"`
	Failed     int    `json:"failed"`
	DurationMS int64  `json:"duration_ms"`
	DetailJSON string `json:"detail_json,omitempty"`
	Error      string `json:"error,omitempty"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type Team struct {
	ID        string `json:"id"`
	OrgID     string `json:"org_id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	OrgID     string `json:"org_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
