package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/vector"
)

// SQLiteStore implements RecordStore using SQLite.
type SQLiteStore struct {
	db              *sql.DB
	reindexRequired atomic.Bool
}

// NewSQLiteStore opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist. A stored schema from another
// version is dropped and recreated, and ReindexRequired reports true.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("%w: create database directory: %v", ErrStorageUnavailable, err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %v", ErrStorageUnavailable, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: open database: %v", ErrStorageUnavailable, err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: enable WAL: %v", ErrStorageUnavailable, err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: initialize schema: %v", ErrStorageUnavailable, err)
	}
	return s, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS records (
	id TEXT PRIMARY KEY,
	gist TEXT NOT NULL,
	mtime INTEGER NOT NULL,
	indexed INTEGER NOT NULL DEFAULT 0,
	fields TEXT NOT NULL DEFAULT '{}',
	tags TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS meta (
	key TEXT PRIMARY KEY,
	value BLOB
);
`

func (s *SQLiteStore) initSchema() error {
	var existing int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('records', 'meta')`).Scan(&existing); err != nil {
		return err
	}
	if existing > 0 {
		var raw []byte
		err := s.db.QueryRow(`SELECT value FROM meta WHERE key = ?`, MetaSchemaVersion).Scan(&raw)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			// a meta table of another shape counts as a foreign schema
			raw = nil
		}
		if v, _ := strconv.Atoi(string(raw)); v != SchemaVersion {
			if _, err := s.db.Exec(`DROP TABLE IF EXISTS records; DROP TABLE IF EXISTS meta;`); err != nil {
				return fmt.Errorf("drop schema version %q: %w", raw, err)
			}
			s.reindexRequired.Store(true)
		}
	}
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	_, err := s.db.Exec(`INSERT OR IGNORE INTO meta (key, value) VALUES (?, ?)`, MetaSchemaVersion, strconv.Itoa(SchemaVersion))
	return err
}

// SchemaVersion returns the schema version in use.
func (s *SQLiteStore) SchemaVersion() int { return SchemaVersion }

// ReindexRequired reports whether the schema was recreated on open and no ClearAll has happened since.
func (s *SQLiteStore) ReindexRequired() bool { return s.reindexRequired.Load() }

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func putRecord(ctx context.Context, ex execer, rec *models.Record) error {
	if rec.ID == "" {
		return fmt.Errorf("record id is empty")
	}
	fields := rec.Fields
	if fields == nil {
		fields = map[string]models.FieldValue{}
	}
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to marshal fields: %w", err)
	}
	tags := rec.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}
	_, err = ex.ExecContext(ctx,
		`INSERT INTO records (id, gist, mtime, indexed, fields, tags)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET gist = excluded.gist, mtime = excluded.mtime,
		   indexed = excluded.indexed, fields = excluded.fields, tags = excluded.tags`,
		rec.ID, rec.Gist, rec.Mtime, rec.Indexed, string(fieldsJSON), string(tagsJSON),
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.Record, error) {
	var (
		rec        models.Record
		fieldsJSON string
		tagsJSON   string
	)
	if err := row.Scan(&rec.ID, &rec.Gist, &rec.Mtime, &rec.Indexed, &fieldsJSON, &tagsJSON); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(fieldsJSON), &rec.Fields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal fields for %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(tagsJSON), &rec.Tags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tags for %s: %w", rec.ID, err)
	}
	if len(rec.Tags) == 0 {
		rec.Tags = nil
	}
	return &rec, nil
}

// Get returns a record by ID, or nil when absent.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.Record, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx,
		`SELECT id, gist, mtime, indexed, fields, tags FROM records WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// Put inserts or replaces a record.
func (s *SQLiteStore) Put(ctx context.Context, rec *models.Record) error {
	return putRecord(ctx, s.db, rec)
}

// Delete removes a record by ID.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id)
	return err
}

// GetAll returns every record ordered by id.
func (s *SQLiteStore) GetAll(ctx context.Context) ([]*models.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, gist, mtime, indexed, fields, tags FROM records ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*models.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Count returns the number of records.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&count)
	return count, err
}

// CountIndexed returns the number of records with indexed set.
func (s *SQLiteStore) CountIndexed(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE indexed = 1`).Scan(&count)
	return count, err
}

// Cursor returns id -> mtime for every record.
func (s *SQLiteStore) Cursor(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, mtime FROM records`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cursor := make(map[string]int64)
	for rows.Next() {
		var (
			id    string
			mtime int64
		)
		if err := rows.Scan(&id, &mtime); err != nil {
			return nil, err
		}
		cursor[id] = mtime
	}
	return cursor, rows.Err()
}

func saveBlob(ctx context.Context, ex execer, blob []byte) error {
	if _, err := ex.ExecContext(ctx, `INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)`, MetaIndexBlob, blob); err != nil {
		return err
	}
	sum := strconv.FormatUint(vector.Checksum(blob), 16)
	_, err := ex.ExecContext(ctx, `INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)`, MetaIndexChecksum, sum)
	return err
}

// SaveIndexBlob stores the serialized index with its checksum.
func (s *SQLiteStore) SaveIndexBlob(ctx context.Context, blob []byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := saveBlob(ctx, tx, blob); err != nil {
		return err
	}
	return tx.Commit()
}

// LoadIndexBlob returns the stored index, or nil when none is stored. A blob whose
// checksum does not match fails with vector.ErrDeserialize.
func (s *SQLiteStore) LoadIndexBlob(ctx context.Context) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, MetaIndexBlob).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	want, err := s.Meta(ctx, MetaIndexChecksum)
	if err != nil {
		return nil, err
	}
	if got := strconv.FormatUint(vector.Checksum(blob), 16); got != want {
		return nil, fmt.Errorf("%w: stored blob checksum %s, computed %s", vector.ErrDeserialize, want, got)
	}
	return blob, nil
}

// Checkpoint writes upserts, deletes and the blob atomically.
func (s *SQLiteStore) Checkpoint(ctx context.Context, upserts []*models.Record, deletes []string, blob []byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, rec := range upserts {
		if err := putRecord(ctx, tx, rec); err != nil {
			return fmt.Errorf("checkpoint %s: %w", rec.ID, err)
		}
	}
	for _, id := range deletes {
		if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id); err != nil {
			return fmt.Errorf("checkpoint delete %s: %w", id, err)
		}
	}
	if blob != nil {
		if err := saveBlob(ctx, tx, blob); err != nil {
			return fmt.Errorf("checkpoint index blob: %w", err)
		}
	}
	return tx.Commit()
}

// ClearAll removes every record, the blob, and the embedding metadata.
func (s *SQLiteStore) ClearAll(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM records`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM meta WHERE key <> ?`, MetaSchemaVersion); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.reindexRequired.Store(false)
	return nil
}

// Meta returns the value for key, or "" when absent.
func (s *SQLiteStore) Meta(ctx context.Context, key string) (string, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return string(raw), err
}

// SetMeta stores a metadata value.
func (s *SQLiteStore) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)`, key, value)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
