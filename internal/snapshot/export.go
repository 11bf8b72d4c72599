package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/vector"
	"go.uber.org/zap"
)

// Export writes a snapshot of records and blob to dir. The files are written
// to a temporary sibling directory, validated, and then renamed into place;
// the previous snapshot is removed only after the new one is published.
func Export(dir string, records []*models.Record, blob []byte, mode string, dimension int) (*Meta, error) {
	if _, err := Recover(dir); err != nil {
		return nil, err
	}
	idx, err := vector.Decode(blob)
	if err != nil {
		return nil, fmt.Errorf("export index: %w", err)
	}
	meta := &Meta{
		Version:       Version,
		EmbeddingMode: mode,
		Dimension:     dimension,
		NoteCount:     len(records),
		IndexSize:     idx.Len(),
		ExportedAt:    time.Now().UnixMilli(),
		IndexChecksum: strconv.FormatUint(vector.Checksum(blob), 16),
	}
	metaData, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, err
	}
	recData, err := json.Marshal(exportRecords(records))
	if err != nil {
		return nil, err
	}

	parent, base := filepath.Split(filepath.Clean(dir))
	if parent == "" {
		parent = "."
	}
	if err := os.MkdirAll(parent, 0755); err != nil {
		return nil, fmt.Errorf("create snapshot parent: %w", err)
	}
	tmp, err := os.MkdirTemp(parent, "."+base+".tmp-")
	if err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	published := false
	defer func() {
		if !published {
			_ = os.RemoveAll(tmp)
		}
	}()

	for name, data := range map[string][]byte{MetaFile: metaData, RecordsFile: recData, IndexFile: blob} {
		if err := os.WriteFile(filepath.Join(tmp, name), data, 0644); err != nil {
			return nil, fmt.Errorf("write %s: %w", name, err)
		}
	}
	if _, err := Load(tmp); err != nil {
		return nil, fmt.Errorf("staged snapshot: %w", err)
	}

	var old string
	if _, err := os.Stat(dir); err == nil {
		old = filepath.Join(parent, retiredPrefix(base)+strconv.FormatInt(time.Now().UnixNano(), 36))
		if err := os.Rename(dir, old); err != nil {
			return nil, fmt.Errorf("move previous snapshot aside: %w", err)
		}
	}
	if err := os.Rename(tmp, dir); err != nil {
		if old != "" {
			_ = os.Rename(old, dir)
		}
		return nil, fmt.Errorf("publish snapshot: %w", err)
	}
	published = true
	if old != "" {
		_ = os.RemoveAll(old)
	}
	return meta, nil
}

func retiredPrefix(base string) string { return "." + base + ".old-" }

// Recover puts back a snapshot that a publish moved aside but never replaced.
// When dir is missing, the newest retired sibling is renamed to dir and its
// former path returned. It does nothing when dir exists.
func Recover(dir string) (string, error) {
	dir = filepath.Clean(dir)
	if _, err := os.Stat(dir); err == nil || !os.IsNotExist(err) {
		return "", err
	}
	parent, base := filepath.Split(dir)
	if parent == "" {
		parent = "."
	}
	entries, err := os.ReadDir(parent)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("scan for retired snapshots: %w", err)
	}
	prefix := retiredPrefix(base)
	var newest string
	var newestAt int64 = -1
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || !strings.HasPrefix(name, prefix) {
			continue
		}
		at, err := strconv.ParseInt(strings.TrimPrefix(name, prefix), 36, 64)
		if err != nil {
			continue
		}
		if at > newestAt {
			newest, newestAt = name, at
		}
	}
	if newest == "" {
		return "", nil
	}
	from := filepath.Join(parent, newest)
	if err := os.Rename(from, dir); err != nil {
		return "", fmt.Errorf("restore retired snapshot: %w", err)
	}
	return from, nil
}

// exportRecords copies records so that fields always encode as an object.
func exportRecords(records []*models.Record) []*models.Record {
	out := make([]*models.Record, len(records))
	for i, r := range records {
		c := *r
		if c.Fields == nil {
			c.Fields = map[string]models.FieldValue{}
		}
		out[i] = &c
	}
	return out
}

// Publisher exports a snapshot to a fixed directory after every sync checkpoint.
type Publisher struct {
	dir    string
	logger *zap.Logger
}

// NewPublisher returns a Publisher writing to dir. A nil logger is allowed.
func NewPublisher(dir string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{dir: dir, logger: logger}
}

// Dir returns the snapshot directory.
func (p *Publisher) Dir() string { return p.dir }

// Publish implements the sync publisher hook.
func (p *Publisher) Publish(_ context.Context, records []*models.Record, blob []byte, mode string, dimension int) error {
	meta, err := Export(p.dir, records, blob, mode, dimension)
	if err != nil {
		return err
	}
	p.logger.Debug("snapshot exported",
		zap.String("dir", p.dir),
		zap.Int("notes", meta.NoteCount),
		zap.Int("index_size", meta.IndexSize))
	return nil
}
