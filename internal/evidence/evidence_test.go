package evidence

import (
	"encoding/json"
	"testing"
)

func TestMergePreservesTemplateFields(t *testing.T) {
	existing, err := FromJSON(`{
		"stepType": "checklist",
		"required": true,
		"checklistItems": [{"id":"c1","label":"Door closes","required":true}],
		"formFields": [{"id":"f1","label":"Meter reading","type":"number"}]
	}`)
	if err != nil {
		t.Fatalf("parse existing: %v", err)
	}
	incoming, err := FromJSON(`{
		"checklistItems": [{"id":"evil","label":"replaced"}],
		"stepType": "sabotage",
		"answers": {"f1": "42"},
		"photos": ["base64data"]
	}`)
	if err != nil {
		t.Fatalf("parse incoming: %v", err)
	}

	merged := Merge(existing, incoming)
	if len(merged.ChecklistItems) != 1 || merged.ChecklistItems[0].ID != "c1" {
		t.Fatalf("checklistItems changed by merge: %+v", merged.ChecklistItems)
	}
	if merged.StepType != "checklist" {
		t.Fatalf("stepType changed by merge: %q", merged.StepType)
	}
	if merged.Required == nil || !*merged.Required {
		t.Fatalf("required changed by merge: %v", merged.Required)
	}
	if len(merged.Photos) != 1 || merged.Photos[0].Data != "base64data" {
		t.Fatalf("photos not taken from incoming: %+v", merged.Photos)
	}
	if _, ok := merged.Answers["answers"]; !ok {
		t.Fatalf("capture key dropped: %v", merged.Answers)
	}
}

func TestMergeIdempotentOverTemplateFields(t *testing.T) {
	existing, _ := FromJSON(`{"checklistItems":[{"label":"A"}],"config":{"k":"v"}}`)
	incoming, _ := FromJSON(`{"notesField":"hello","checklistItems":[{"label":"B"}]}`)

	once := Merge(existing, incoming)
	twice := Merge(once, incoming)

	a, _ := once.ToJSON()
	b, _ := twice.ToJSON()
	if a != b {
		t.Fatalf("merge not idempotent:\n%s\n%s", a, b)
	}
}

func TestBarePhotoStringNormalized(t *testing.T) {
	ev, err := FromJSON(`{"photos": ["abc123", {"fileName":"x.jpg","size":10,"data":"def"}]}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(ev.Photos) != 2 {
		t.Fatalf("expected 2 photos, got %d", len(ev.Photos))
	}
	if ev.Photos[0].Data != "abc123" || ev.Photos[0].FileName != "" {
		t.Fatalf("bare string not normalized: %+v", ev.Photos[0])
	}
	if ev.Photos[1].FileName != "x.jpg" || ev.Photos[1].Size != 10 {
		t.Fatalf("structured entry mangled: %+v", ev.Photos[1])
	}
}

func TestUnknownCaptureKeysRoundTrip(t *testing.T) {
	raw := `{"stepType":"form","customAnswer":"yes","nested":{"a":1}}`
	ev, err := FromJSON(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	out, err := ev.ToJSON()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal([]byte(out), &m); err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if string(m["customAnswer"]) != `"yes"` {
		t.Fatalf("customAnswer lost: %s", out)
	}
	if _, ok := m["nested"]; !ok {
		t.Fatalf("nested capture key lost: %s", out)
	}
}

func TestMergeJSONEmptyExisting(t *testing.T) {
	out, err := MergeJSON("", `{"photos":[{"fileName":"a.jpg","size":5}]}`)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	ev, err := FromJSON(out)
	if err != nil {
		t.Fatalf("parse result: %v", err)
	}
	if len(ev.Photos) != 1 || ev.Photos[0].FileName != "a.jpg" {
		t.Fatalf("unexpected result: %s", out)
	}
}

func TestFindMedia(t *testing.T) {
	entries := []MediaEntry{
		{FileName: "a.jpg", Size: 10},
		{FileName: "b.jpg", Size: 20},
	}
	if i := FindMedia(entries, "b.jpg", 20); i != 1 {
		t.Fatalf("expected index 1, got %d", i)
	}
	if i := FindMedia(entries, "b.jpg", 21); i != -1 {
		t.Fatalf("size must be part of the signature, got %d", i)
	}
	if i := FindMedia(nil, "a.jpg", 10); i != -1 {
		t.Fatalf("expected -1 on empty, got %d", i)
	}
}
