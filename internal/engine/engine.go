// Package engine is the facade over storage, embedding, synchronization,
// search and snapshot export that the CLI, server and MCP layers use.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/search"
	"github.com/hyperjump/kioku/internal/snapshot"
	"github.com/hyperjump/kioku/internal/storage"
	"github.com/hyperjump/kioku/internal/syncer"
	"github.com/hyperjump/kioku/internal/vector"
	"github.com/hyperjump/kioku/pkg/utils"
	"go.uber.org/zap"
)

// ErrNotFound is returned for an unknown note id.
var ErrNotFound = search.ErrNoteNotFound

// Engine wires the vault, the record store and the vector index together.
type Engine struct {
	cfg       *config.Config
	store     storage.RecordStore
	provider  *embedding.Provider
	query     *embedding.CachedEmbedder
	syncer    *syncer.Syncer
	publisher *snapshot.Publisher
	logger    *zap.Logger

	mu          sync.Mutex
	searcher    *search.Engine
	searcherFor *syncer.Summary
	searcherGen uint64
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger shared by all components.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = utils.LoggerOrNop(l) }
}

// WithStore replaces the SQLite store opened from the config.
func WithStore(s storage.RecordStore) Option {
	return func(e *Engine) { e.store = s }
}

// New opens the record store and builds the configured embedder.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg.Vault.Root == "" {
		return nil, errors.New("vault root is not configured")
	}
	e := &Engine{cfg: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}

	mode, err := embedding.ParseMode(cfg.Embedding.Mode)
	if err != nil {
		return nil, err
	}
	emb, err := embedding.New(mode, cfg.Embedding.ModelDir)
	if err != nil {
		return nil, err
	}
	e.provider = embedding.NewProvider(emb, embedding.WithLogger(e.logger))
	e.query = embedding.NewCachedEmbedder(e.provider, cfg.Embedding.CacheSize)

	if e.store == nil {
		store, err := storage.NewSQLiteStore(cfg.Storage.DatabasePath)
		if err != nil {
			return nil, err
		}
		if store.ReindexRequired() {
			e.logger.Warn("record schema changed, next sync rebuilds the index",
				zap.Int("schema_version", store.SchemaVersion()))
		}
		e.store = store
	}

	e.publisher = snapshot.NewPublisher(cfg.Storage.SnapshotDir, e.logger)
	e.syncer = syncer.New(cfg.Vault.Root, e.store, e.provider,
		syncer.WithLogger(e.logger),
		syncer.WithExtensions(cfg.Vault.Extensions),
		syncer.WithIndex(cfg.Index.Type, cfg.Index.Seed),
		syncer.WithBatchSize(cfg.Sync.BatchSize),
		syncer.WithConcurrency(cfg.Sync.Concurrency),
		syncer.WithCompactRatio(cfg.Index.CompactRatio),
		syncer.WithPublisher(e.publisher),
	)
	return e, nil
}

// Syncer returns the synchronizer, for wiring a change queue.
func (e *Engine) Syncer() *syncer.Syncer { return e.syncer }

// Sync runs an incremental pass.
func (e *Engine) Sync(ctx context.Context) (*syncer.Summary, error) {
	return e.syncer.Sync(ctx)
}

// FullReindex rebuilds everything from the vault.
func (e *Engine) FullReindex(ctx context.Context, onProgress syncer.ProgressFunc) (int, error) {
	return e.syncer.FullReindex(ctx, onProgress)
}

// SwitchEmbedder activates another embedder variant. The stored index no
// longer matches it, so the next Sync performs a full reindex.
func (e *Engine) SwitchEmbedder(mode embedding.Mode, modelDir string) error {
	emb, err := embedding.New(mode, modelDir)
	if err != nil {
		return err
	}
	e.provider.Swap(emb)
	return nil
}

// searchEngine returns a search engine over the current records and index,
// rebuilding it when a pass has completed or the embedder changed since.
func (e *Engine) searchEngine(ctx context.Context) (*search.Engine, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	last, gen := e.syncer.LastSummary(), e.provider.Generation()
	if e.searcher != nil && e.searcherFor == last && e.searcherGen == gen {
		return e.searcher, nil
	}
	if err := e.ensureIndex(ctx); err != nil {
		return nil, err
	}
	records, err := e.store.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	opts := search.Options{
		KeywordWeight:  e.cfg.Search.BM25Weight,
		SemanticWeight: e.cfg.Search.SemanticWeight,
		RRFK:           e.cfg.Search.RRFK,
		EfSearch:       e.cfg.Index.EfSearch,
		Candidates:     e.cfg.Search.MaxLimit,
		TitleBoost:     e.cfg.Search.TitleBoost,
		Fuzziness:      e.cfg.Search.Fuzziness,
	}
	var s *search.Engine
	err = e.syncer.View(func(idx vector.VectorIndex) error {
		var err error
		s, err = search.NewEngine(ctx, records, idx, e.query, opts, e.logger)
		return err
	})
	if err != nil {
		return nil, err
	}
	if e.searcher != nil {
		_ = e.searcher.Close()
	}
	e.searcher, e.searcherFor, e.searcherGen = s, last, gen
	return s, nil
}

// ensureIndex restores the stored index when no pass has loaded one yet.
func (e *Engine) ensureIndex(ctx context.Context) error {
	loaded := false
	_ = e.syncer.View(func(idx vector.VectorIndex) error {
		loaded = idx != nil
		return nil
	})
	if loaded {
		return nil
	}
	if err := e.syncer.RestoreIndex(ctx); err != nil {
		return fmt.Errorf("restore index (run sync to rebuild): %w", err)
	}
	return nil
}

// Search answers query over the vault.
func (e *Engine) Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error) {
	s, err := e.searchEngine(ctx)
	if err != nil {
		return nil, err
	}
	return s.Search(ctx, query)
}

// Related returns notes similar to id.
func (e *Engine) Related(ctx context.Context, id string, limit int, boost bool) ([]*models.SearchResult, error) {
	s, err := e.searchEngine(ctx)
	if err != nil {
		return nil, err
	}
	return s.Related(ctx, id, limit, boost)
}

// GetRecord returns the stored record for id or ErrNotFound.
func (e *Engine) GetRecord(ctx context.Context, id string) (*models.Record, error) {
	rec, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec, nil
}

// ExportSnapshot writes the stored records and index to the snapshot directory.
func (e *Engine) ExportSnapshot(ctx context.Context) (*snapshot.Meta, error) {
	if err := e.ensureIndex(ctx); err != nil {
		return nil, err
	}
	records, err := e.store.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	var blob []byte
	err = e.syncer.View(func(idx vector.VectorIndex) error {
		var err error
		blob, err = idx.MarshalBinary()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("serialize index: %w", err)
	}
	return snapshot.Export(e.publisher.Dir(), records, blob, string(e.provider.Mode()), e.provider.Dimensions())
}

// ValidateSnapshot validates the snapshot at dir, or the configured one when dir is empty.
func (e *Engine) ValidateSnapshot(dir string) (*snapshot.Snapshot, error) {
	if dir == "" {
		dir = e.publisher.Dir()
	}
	return snapshot.Validate(dir)
}

// Status describes the vault index.
type Status struct {
	Vault          string     `json:"vault"`
	Notes          int        `json:"notes"`
	IndexSize      int        `json:"index_size"`
	IndexType      string     `json:"index_type"`
	Tombstones     int        `json:"tombstones"`
	EmbeddingMode  string     `json:"embedding_mode"`
	Dimension      int        `json:"dimension"`
	State          string     `json:"state"`
	Indexing       bool       `json:"indexing"`
	LastSync       *time.Time `json:"last_sync,omitempty"`
	LastRunID      string     `json:"last_run_id,omitempty"`
	SnapshotAge    string     `json:"snapshot_age,omitempty"`
	DiskUsageBytes int64      `json:"disk_usage_bytes"`
	LeftoverBytes  int64      `json:"leftover_bytes,omitempty"`
	DatabasePath   string     `json:"database_path"`
	SnapshotDir    string     `json:"snapshot_dir"`
}

// Status reports counts, the embedder in use and index freshness.
func (e *Engine) Status(ctx context.Context) (*Status, error) {
	count, err := e.store.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count records: %w", err)
	}
	st := &Status{
		Vault:         e.cfg.Vault.Root,
		Notes:         count,
		IndexType:     e.cfg.Index.Type,
		EmbeddingMode: string(e.provider.Mode()),
		Dimension:     e.provider.Dimensions(),
		State:         e.syncer.State().String(),
		Indexing:      e.syncer.Indexing(),
		DatabasePath:  e.cfg.Storage.DatabasePath,
		SnapshotDir:   e.publisher.Dir(),
	}
	if err := e.ensureIndex(ctx); err != nil {
		e.logger.Warn("status without index", zap.Error(err))
	} else {
		_ = e.syncer.View(func(idx vector.VectorIndex) error {
			st.IndexSize = idx.Len()
			st.IndexType = string(idx.Type())
			if c, ok := idx.(vector.Compactor); ok {
				st.Tombstones = c.Tombstones()
			}
			return nil
		})
	}
	if v, err := e.store.Meta(ctx, storage.MetaLastSync); err == nil && v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			t := time.UnixMilli(ms)
			st.LastSync = &t
		}
	}
	st.LastRunID, _ = e.store.Meta(ctx, storage.MetaLastRunID)
	if snap, err := snapshot.Validate(e.publisher.Dir()); err == nil {
		st.SnapshotAge = snap.Meta.Age(time.Now()).Round(time.Second).String()
	}
	if u, err := storage.MeasureUsage(e.cfg.Storage.DatabasePath, e.publisher.Dir()); err == nil {
		st.DiskUsageBytes = u.Total()
		st.LeftoverBytes = u.Leftover
	}
	return st, nil
}

// Close releases the search engine and the record store.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.searcher != nil {
		_ = e.searcher.Close()
		e.searcher = nil
	}
	e.mu.Unlock()
	return e.store.Close()
}
