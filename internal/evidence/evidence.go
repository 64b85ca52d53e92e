package evidence

import (
	"encoding/json"
	"fmt"
)

// Template-defined keys are copied from the workflow template when a step is
// created and must survive every merge untouched. Everything else in an
// evidence record is capture data and freely replaceable by the client.
var templateKeys = map[string]struct{}{
	"checklistItems": {},
	"formFields":     {},
	"photoConfig":    {},
	"stepType":       {},
	"config":         {},
	"required":       {},
}

type ChecklistItem struct {
	ID       string `json:"id,omitempty"`
	Label    string `json:"label"`
	Required bool   `json:"required,omitempty"`
}

type FormField struct {
	ID       string   `json:"id,omitempty"`
	Label    string   `json:"label"`
	Type     string   `json:"type,omitempty"`
	Options  []string `json:"options,omitempty"`
	Required bool     `json:"required,omitempty"`
}

// MediaEntry is one photo or audio recording reference. Entries are
// immutable once stored; deletion removes the array element only.
type MediaEntry struct {
	ID          string  `json:"id,omitempty"`
	FileName    string  `json:"fileName,omitempty"`
	Size        int64   `json:"size,omitempty"`
	Data        string  `json:"data,omitempty"`
	StoragePath string  `json:"storagePath,omitempty"`
	Duration    float64 `json:"duration,omitempty"`
	UploadedAt  string  `json:"uploadedAt,omitempty"`
	UploadedBy  string  `json:"uploadedBy,omitempty"`
}

type mediaEntryAlias MediaEntry

// UnmarshalJSON tolerates client payload drift: older app versions send a
// bare data string where newer ones send a structured entry.
func (m *MediaEntry) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*m = MediaEntry{Data: s}
		return nil
	}
	var alias mediaEntryAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*m = MediaEntry(alias)
	return nil
}

// Evidence is the semi-structured record of a step's captured data plus its
// template-defined configuration. Unknown capture keys round-trip through
// Answers so newer clients never lose fields on older servers.
type Evidence struct {
	StepType       string          `json:"stepType,omitempty"`
	Required       *bool           `json:"required,omitempty"`
	Config         map[string]any  `json:"config,omitempty"`
	ChecklistItems []ChecklistItem `json:"checklistItems,omitempty"`
	FormFields     []FormField     `json:"formFields,omitempty"`
	PhotoConfig    map[string]any  `json:"photoConfig,omitempty"`

	Photos          []MediaEntry `json:"photos,omitempty"`
	AudioRecordings []MediaEntry `json:"audioRecordings,omitempty"`

	Answers map[string]json.RawMessage `json:"-"`
}

type evidenceAlias Evidence

func (e Evidence) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(evidenceAlias(e))
	if err != nil {
		return nil, err
	}
	if len(e.Answers) == 0 {
		return base, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range e.Answers {
		if _, known := merged[k]; known {
			continue
		}
		merged[k] = v
	}
	return json.Marshal(merged)
}

func (e *Evidence) UnmarshalJSON(data []byte) error {
	var alias evidenceAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	known := map[string]struct{}{
		"stepType": {}, "required": {}, "config": {}, "checklistItems": {},
		"formFields": {}, "photoConfig": {}, "photos": {}, "audioRecordings": {},
	}
	for k := range known {
		delete(raw, k)
	}
	if len(raw) > 0 {
		alias.Answers = raw
	}
	*e = Evidence(alias)
	return nil
}

// FromJSON parses a stored evidence document. Empty input yields an empty
// record, never an error.
func FromJSON(raw string) (Evidence, error) {
	if raw == "" || raw == "null" {
		return Evidence{}, nil
	}
	var e Evidence
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return Evidence{}, fmt.Errorf("parse evidence: %w", err)
	}
	return e, nil
}

// ToJSON serializes an evidence record for storage.
func (e Evidence) ToJSON() (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("encode evidence: %w", err)
	}
	return string(data), nil
}

// Merge combines incoming capture data into existing evidence. Capture
// fields take the incoming value when present; template-defined fields
// always come from the existing record, whatever the client sent. Photo
// and audio arrays are already normalized by MediaEntry unmarshalling.
func Merge(existing, incoming Evidence) Evidence {
	out := existing
	if incoming.Photos != nil {
		out.Photos = incoming.Photos
	}
	if incoming.AudioRecordings != nil {
		out.AudioRecordings = incoming.AudioRecordings
	}
	if len(incoming.Answers) > 0 {
		if out.Answers == nil {
			out.Answers = make(map[string]json.RawMessage, len(incoming.Answers))
		} else {
			merged := make(map[string]json.RawMessage, len(out.Answers)+len(incoming.Answers))
			for k, v := range out.Answers {
				merged[k] = v
			}
			out.Answers = merged
		}
		for k, v := range incoming.Answers {
			if _, isTemplate := templateKeys[k]; isTemplate {
				continue
			}
			out.Answers[k] = v
		}
	}
	return out
}

// MergeJSON merges an incoming partial document into a stored one and
// returns the serialized result.
func MergeJSON(existingRaw, incomingRaw string) (string, error) {
	existing, err := FromJSON(existingRaw)
	if err != nil {
		return "", err
	}
	incoming, err := FromJSON(incomingRaw)
	if err != nil {
		return "", err
	}
	return Merge(existing, incoming).ToJSON()
}

// FindMedia returns the index of the first entry matching the duplicate
// signature (original file name, byte size), or -1.
func FindMedia(entries []MediaEntry, fileName string, size int64) int {
	for i, m := range entries {
		if m.FileName == fileName && m.Size == size {
			return i
		}
	}
	return -1
}
