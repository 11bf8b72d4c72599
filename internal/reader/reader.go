// Package reader answers queries from a published snapshot. It is the
// read-only side used by the HTTP server and the MCP tools, and can follow
// the snapshot directory to pick up every new export.
package reader

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/search"
	"github.com/hyperjump/kioku/internal/snapshot"
	"github.com/hyperjump/kioku/internal/vector"
	"github.com/hyperjump/kioku/internal/watcher"
)

var (
	// ErrNotFound is returned for an id the snapshot has no record for.
	ErrNotFound = search.ErrNoteNotFound
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("reader closed")
)

// Reader serves search, related and record lookups from the current snapshot.
type Reader struct {
	dir       string
	modelDir  string
	cacheSize int
	opts      search.Options
	logger    *zap.Logger

	mu       sync.RWMutex
	snap     *snapshot.Snapshot
	engine   *search.Engine
	embedder embedding.Embedder
	loadedAt time.Time
	reloads  int
}

// Option configures a Reader.
type Option func(*Reader)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Reader) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithModelDir sets where model2vec weights are loaded from when the snapshot needs them.
func WithModelDir(dir string) Option {
	return func(r *Reader) { r.modelDir = dir }
}

// WithSearchOptions overrides the ranking options.
func WithSearchOptions(o search.Options) Option {
	return func(r *Reader) { r.opts = o }
}

// WithCacheSize sets the query embedding cache capacity.
func WithCacheSize(n int) Option {
	return func(r *Reader) { r.cacheSize = n }
}

// Open loads the snapshot in dir.
func Open(ctx context.Context, dir string, opts ...Option) (*Reader, error) {
	r := &Reader{
		dir:       filepath.Clean(dir),
		cacheSize: 256,
		opts:      search.DefaultOptions(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	from, err := snapshot.Recover(r.dir)
	if err != nil {
		return nil, err
	}
	if from != "" {
		r.logger.Warn("restored snapshot from interrupted publish", zap.String("from", from), zap.String("dir", r.dir))
	}
	if err := r.Reload(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Dir returns the snapshot directory.
func (r *Reader) Dir() string { return r.dir }

// Reload loads the snapshot again. On failure the previous one stays active.
func (r *Reader) Reload(ctx context.Context) error {
	snap, err := snapshot.Load(r.dir)
	if err != nil {
		return err
	}
	emb, err := r.embedderFor(snap.Meta)
	if err != nil {
		return err
	}
	eng, err := search.NewEngine(ctx, snap.Records, snap.Index,
		embedding.NewCachedEmbedder(emb, r.cacheSize), r.opts, r.logger)
	if err != nil {
		return err
	}

	r.mu.Lock()
	old := r.engine
	r.snap, r.engine, r.embedder = snap, eng, emb
	r.loadedAt = time.Now()
	r.reloads++
	r.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	r.logger.Info("snapshot loaded",
		zap.String("dir", r.dir),
		zap.String("embedding_mode", snap.Meta.EmbeddingMode),
		zap.Int("notes", snap.Meta.NoteCount),
		zap.Int("index_size", snap.Index.Len()))
	return nil
}

// embedderFor reuses the current embedder when it matches meta.
func (r *Reader) embedderFor(meta snapshot.Meta) (embedding.Embedder, error) {
	r.mu.RLock()
	cur := r.embedder
	r.mu.RUnlock()

	mode, err := embedding.ParseMode(meta.EmbeddingMode)
	if err != nil {
		return nil, err
	}
	if cur == nil || cur.Mode() != mode {
		if cur, err = embedding.New(mode, r.modelDir); err != nil {
			return nil, err
		}
	}
	if cur.Dimensions() != meta.Dimension {
		return nil, fmt.Errorf("%w: %s embedder has %d dimensions, snapshot has %d",
			vector.ErrDimensionMismatch, mode, cur.Dimensions(), meta.Dimension)
	}
	return cur, nil
}

// Follow reloads whenever the snapshot directory is replaced, until ctx is
// cancelled. The returned watcher is already started.
func (r *Reader) Follow(ctx context.Context, debounce time.Duration) (*watcher.Watcher, error) {
	w := watcher.NewWatcher(filepath.Dir(r.dir), nil, func(path string) {
		if filepath.Clean(path) != r.dir {
			return
		}
		if err := r.Reload(ctx); err != nil {
			r.logger.Warn("snapshot reload failed, keeping previous", zap.Error(err))
		}
	}, watcher.WithLogger(r.logger), watcher.WithDebounce(debounce))
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

// Search answers query.
func (r *Reader) Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.engine == nil {
		return nil, ErrClosed
	}
	return r.engine.Search(ctx, query)
}

// Related returns notes similar to id.
func (r *Reader) Related(ctx context.Context, id string, limit int, boost bool) ([]*models.SearchResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.engine == nil {
		return nil, ErrClosed
	}
	return r.engine.Related(ctx, id, limit, boost)
}

// GetRecord returns the snapshot record for id or ErrNotFound.
func (r *Reader) GetRecord(_ context.Context, id string) (*models.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.engine == nil {
		return nil, ErrClosed
	}
	rec := r.engine.Record(id)
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec, nil
}

// Status describes the loaded snapshot.
type Status struct {
	SnapshotDir   string    `json:"snapshot_dir"`
	Version       int       `json:"version"`
	EmbeddingMode string    `json:"embedding_mode"`
	Dimension     int       `json:"dimension"`
	Notes         int       `json:"notes"`
	IndexSize     int       `json:"index_size"`
	IndexType     string    `json:"index_type"`
	ExportedAt    time.Time `json:"exported_at"`
	SnapshotAge   string    `json:"snapshot_age"`
	LoadedAt      time.Time `json:"loaded_at"`
	Reloads       int       `json:"reloads"`
}

// Status reports the loaded snapshot's metadata and age.
func (r *Reader) Status() *Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := time.Now()
	return &Status{
		SnapshotDir:   r.dir,
		Version:       r.snap.Meta.Version,
		EmbeddingMode: r.snap.Meta.EmbeddingMode,
		Dimension:     r.snap.Meta.Dimension,
		Notes:         len(r.snap.Records),
		IndexSize:     r.snap.Index.Len(),
		IndexType:     string(r.snap.Index.Type()),
		ExportedAt:    time.UnixMilli(r.snap.Meta.ExportedAt),
		SnapshotAge:   r.snap.Meta.Age(now).Round(time.Second).String(),
		LoadedAt:      r.loadedAt,
		Reloads:       r.reloads,
	}
}

// Close releases the search engine.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.engine == nil {
		return nil
	}
	err := r.engine.Close()
	r.engine = nil
	return err
}
