// Package storage persists note records and the serialized vector index.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/kioku/internal/models"
)

// SchemaVersion is the record schema this build reads and writes.
const SchemaVersion = 2

// Meta keys.
const (
	MetaSchemaVersion = "schema_version"
	MetaIndexBlob     = "index_blob"
	MetaIndexChecksum = "index_checksum"
	MetaEmbeddingMode = "embedding_mode"
	MetaDimension     = "dimension"
	MetaLastSync      = "last_sync"
	MetaLastRunID     = "last_run_id"
)

// ErrStorageUnavailable is returned when the database cannot be opened or initialized.
var ErrStorageUnavailable = errors.New("storage unavailable")

// RecordStore defines record and index-blob persistence.
type RecordStore interface {
	// Record operations; Get returns nil, nil for a missing id.
	Get(ctx context.Context, id string) (*models.Record, error)
	Put(ctx context.Context, rec *models.Record) error
	Delete(ctx context.Context, id string) error
	GetAll(ctx context.Context) ([]*models.Record, error)
	Count(ctx context.Context) (int, error)
	// CountIndexed counts records whose gist is in the vector index.
	CountIndexed(ctx context.Context) (int, error)
	// Cursor maps every stored id to its mtime.
	Cursor(ctx context.Context) (map[string]int64, error)

	// Index blob; LoadIndexBlob returns nil, nil when none is stored.
	SaveIndexBlob(ctx context.Context, blob []byte) error
	LoadIndexBlob(ctx context.Context) ([]byte, error)

	// Checkpoint applies upserts, deletes and (when non-nil) the blob in one transaction.
	Checkpoint(ctx context.Context, upserts []*models.Record, deletes []string, blob []byte) error
	// ClearAll removes every record, the blob, and the embedding metadata.
	ClearAll(ctx context.Context) error

	// Meta returns "" for a missing key.
	Meta(ctx context.Context, key string) (string, error)
	SetMeta(ctx context.Context, key, value string) error

	SchemaVersion() int
	// ReindexRequired reports that the stored schema was replaced on open and
	// the caller must rebuild from the corpus. ClearAll resets it.
	ReindexRequired() bool

	Close() error
}
