// Package snapshot writes, validates and loads the on-disk interchange copy of
// the index that the query server and MCP tools read.
package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/vector"
)

// Version is the snapshot format version.
const Version = 1

// File names inside a snapshot directory.
const (
	MetaFile    = "meta.json"
	RecordsFile = "records.json"
	IndexFile   = "index.bin"
)

// ErrSnapshotInvalid is returned for any snapshot that fails validation.
var ErrSnapshotInvalid = errors.New("invalid snapshot")

// Meta is the content of meta.json.
type Meta struct {
	Version       int    `json:"version"`
	EmbeddingMode string `json:"embeddingMode"`
	Dimension     int    `json:"dimension"`
	NoteCount     int    `json:"noteCount"`
	IndexSize     int    `json:"indexSize"`
	ExportedAt    int64  `json:"exportedAt"` // unix milliseconds
	IndexChecksum string `json:"indexChecksum,omitempty"`
}

// Age returns the time since export.
func (m *Meta) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(m.ExportedAt))
}

// Snapshot is a validated snapshot. Index is set only by Load.
type Snapshot struct {
	Dir     string
	Meta    Meta
	Records []*models.Record
	Blob    []byte
	Index   vector.VectorIndex
}

// Record returns the record for id, or nil.
func (s *Snapshot) Record(id string) *models.Record {
	for _, r := range s.Records {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrSnapshotInvalid, fmt.Sprintf(format, args...))
}

func readFile(dir, name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, invalid("missing %s", name)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

// Validate checks the snapshot in dir without decoding the index graph.
func Validate(dir string) (*Snapshot, error) {
	metaData, err := readFile(dir, MetaFile)
	if err != nil {
		return nil, err
	}
	recData, err := readFile(dir, RecordsFile)
	if err != nil {
		return nil, err
	}
	blob, err := readFile(dir, IndexFile)
	if err != nil {
		return nil, err
	}

	meta, err := parseMeta(metaData)
	if err != nil {
		return nil, err
	}
	records, err := parseRecords(recData)
	if err != nil {
		return nil, err
	}
	if meta.NoteCount != len(records) {
		return nil, invalid("noteCount %d but %d records", meta.NoteCount, len(records))
	}
	if meta.IndexChecksum != "" {
		if sum := strconv.FormatUint(vector.Checksum(blob), 16); sum != meta.IndexChecksum {
			return nil, invalid("index checksum %s does not match %s", sum, meta.IndexChecksum)
		}
	}
	return &Snapshot{Dir: dir, Meta: *meta, Records: records, Blob: blob}, nil
}

// Load validates dir, decodes the index and checks its dimension against meta.
func Load(dir string) (*Snapshot, error) {
	snap, err := Validate(dir)
	if err != nil {
		return nil, err
	}
	idx, err := vector.Decode(snap.Blob)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSnapshotInvalid, err)
	}
	if idx.Dimensions() != snap.Meta.Dimension {
		return nil, invalid("index dimension %d does not match meta dimension %d", idx.Dimensions(), snap.Meta.Dimension)
	}
	if idx.Len() != snap.Meta.IndexSize {
		return nil, invalid("indexSize %d but index holds %d entries", snap.Meta.IndexSize, idx.Len())
	}
	snap.Index = idx
	return snap, nil
}

func parseMeta(data []byte) (*Meta, error) {
	var m Meta
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&m); err != nil {
		return nil, invalid("%s: %v", MetaFile, err)
	}
	if m.Version != Version {
		return nil, invalid("unsupported version %d", m.Version)
	}
	if _, err := embedding.ParseMode(m.EmbeddingMode); err != nil {
		return nil, invalid("%v", err)
	}
	if m.Dimension <= 0 {
		return nil, invalid("dimension must be positive, got %d", m.Dimension)
	}
	return &m, nil
}

// parseRecords checks the JSON kind of each member before decoding it; null
// is never accepted in place of a value.
func parseRecords(data []byte) ([]*models.Record, error) {
	if !isKind(data, '[') {
		return nil, invalid("%s must be an array", RecordsFile)
	}
	var raws []map[string]json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, invalid("%s: %v", RecordsFile, err)
	}
	records := make([]*models.Record, 0, len(raws))
	for i, raw := range raws {
		rec, err := parseRecord(raw)
		if err != nil {
			return nil, invalid("%s[%d]: %v", RecordsFile, i, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func parseRecord(raw map[string]json.RawMessage) (*models.Record, error) {
	rec := &models.Record{Fields: map[string]models.FieldValue{}}

	if !isKind(raw["path"], '"') {
		return nil, errors.New("path must be a string")
	}
	if err := json.Unmarshal(raw["path"], &rec.ID); err != nil || rec.ID == "" {
		return nil, errors.New("path must be a non-empty string")
	}
	if !isKind(raw["gist"], '"') {
		return nil, fmt.Errorf("%s: gist must be a string", rec.ID)
	}
	if err := json.Unmarshal(raw["gist"], &rec.Gist); err != nil {
		return nil, fmt.Errorf("%s: gist: %v", rec.ID, err)
	}

	var mtime float64
	if err := json.Unmarshal(raw["mtime"], &mtime); err != nil || !isNumber(raw["mtime"]) || math.IsInf(mtime, 0) || math.IsNaN(mtime) {
		return nil, fmt.Errorf("%s: mtime must be a finite number", rec.ID)
	}
	rec.Mtime = int64(mtime)

	if err := json.Unmarshal(raw["indexed"], &rec.Indexed); err != nil || !isBool(raw["indexed"]) {
		return nil, fmt.Errorf("%s: indexed must be a boolean", rec.ID)
	}

	if f, ok := raw["fields"]; ok {
		var fields map[string]json.RawMessage
		if !isKind(f, '{') || json.Unmarshal(f, &fields) != nil {
			return nil, fmt.Errorf("%s: fields must be an object", rec.ID)
		}
		for k, v := range fields {
			switch {
			case isKind(v, '"'):
				var str string
				if err := json.Unmarshal(v, &str); err != nil {
					return nil, fmt.Errorf("%s: field %q: %v", rec.ID, k, err)
				}
				rec.Fields[k] = models.StringField(str)
			case isKind(v, '['):
				list, ok := parseStringList(v)
				if !ok {
					return nil, fmt.Errorf("%s: field %q must be a string or list of strings", rec.ID, k)
				}
				rec.Fields[k] = models.ListField(list...)
			default:
				return nil, fmt.Errorf("%s: field %q must be a string or list of strings", rec.ID, k)
			}
		}
	}
	if t, ok := raw["tags"]; ok {
		tags, ok := parseStringList(t)
		if !ok {
			return nil, fmt.Errorf("%s: tags must be a list of strings", rec.ID)
		}
		rec.Tags = tags
	}
	return rec, nil
}

// parseStringList decodes a JSON array whose items are all strings.
func parseStringList(raw json.RawMessage) ([]string, bool) {
	if !isKind(raw, '[') {
		return nil, false
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false
	}
	out := make([]string, len(items))
	for i, item := range items {
		if !isKind(item, '"') || json.Unmarshal(item, &out[i]) != nil {
			return nil, false
		}
	}
	return out, true
}

func isKind(raw json.RawMessage, first byte) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == first
}

func isNumber(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && (raw[0] == '-' || (raw[0] >= '0' && raw[0] <= '9'))
}

func isBool(raw json.RawMessage) bool {
	s := string(bytes.TrimSpace(raw))
	return s == "true" || s == "false"
}
