// Package models defines core data structures for note records, queries, and search results.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path"
	"strings"
)

// FieldValue is a frontmatter field value: either a single string or a list of strings.
type FieldValue struct {
	Str    string
	List   []string
	IsList bool
}

// StringField returns a scalar FieldValue.
func StringField(s string) FieldValue { return FieldValue{Str: s} }

// ListField returns a list FieldValue.
func ListField(items ...string) FieldValue {
	return FieldValue{List: append([]string{}, items...), IsList: true}
}

// String renders the value; lists are joined with ", ".
func (v FieldValue) String() string {
	if v.IsList {
		return strings.Join(v.List, ", ")
	}
	return v.Str
}

// MarshalJSON encodes the value as a JSON string or array of strings.
func (v FieldValue) MarshalJSON() ([]byte, error) {
	if v.IsList {
		if v.List == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.List)
	}
	return json.Marshal(v.Str)
}

// UnmarshalJSON accepts a JSON string or an array of strings and rejects anything else.
func (v *FieldValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var list []string
		if err := json.Unmarshal(data, &list); err != nil {
			return fmt.Errorf("field list must contain only strings: %w", err)
		}
		*v = FieldValue{List: list, IsList: true}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("field value must be a string or list of strings")
	}
	*v = FieldValue{Str: s}
	return nil
}

// Record is the indexed view of one note. ID is the vault-relative, slash-separated path
// and is the only join key between the record store and the vector index.
type Record struct {
	ID      string                `json:"path"`
	Gist    string                `json:"gist"`
	Mtime   int64                 `json:"mtime"` // unix milliseconds
	Indexed bool                  `json:"indexed"`
	Fields  map[string]FieldValue `json:"fields"`
	Tags    []string              `json:"tags,omitempty"`
}

// Title returns the note name: the file stem of the record path.
func (r *Record) Title() string {
	base := path.Base(r.ID)
	return strings.TrimSuffix(base, path.Ext(base))
}

// Field returns the scalar value for key, or "" when absent or a list.
func (r *Record) Field(key string) string {
	if v, ok := r.Fields[key]; ok && !v.IsList {
		return v.Str
	}
	return ""
}

// Type returns the note type field.
func (r *Record) Type() string { return r.Field("type") }

// Area returns the note area field.
func (r *Record) Area() string { return r.Field("area") }
