package models

import (
	"encoding/json"
	"testing"
)

func TestFieldValue_UnmarshalJSON(t *testing.T) {
	var v FieldValue
	if err := json.Unmarshal([]byte(`"project"`), &v); err != nil {
		t.Fatal(err)
	}
	if v.IsList || v.Str != "project" {
		t.Errorf("got %+v", v)
	}
	if err := json.Unmarshal([]byte(`["a", "b"]`), &v); err != nil {
		t.Fatal(err)
	}
	if !v.IsList || len(v.List) != 2 || v.String() != "a, b" {
		t.Errorf("got %+v", v)
	}
	for _, bad := range []string{`3`, `{"a":1}`, `[1, 2]`, `true`} {
		if err := json.Unmarshal([]byte(bad), &v); err == nil {
			t.Errorf("expected error for %s", bad)
		}
	}
}

func TestRecord_Accessors(t *testing.T) {
	r := &Record{
		ID: "projects/gpu-notes.md",
		Fields: map[string]FieldValue{
			"type": StringField("project"),
			"area": ListField("infra", "ml"),
		},
	}
	if got := r.Title(); got != "gpu-notes" {
		t.Errorf("Title() = %q", got)
	}
	if got := r.Type(); got != "project" {
		t.Errorf("Type() = %q", got)
	}
	if got := r.Area(); got != "" {
		t.Errorf("Area() on list field = %q, want empty", got)
	}
}
