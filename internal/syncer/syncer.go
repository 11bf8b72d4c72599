// Package syncer keeps the vector index and record store consistent with the
// note corpus on disk.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/kioku/internal/corpus"
	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/storage"
	"github.com/hyperjump/kioku/internal/vector"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Publisher receives the persisted state after every checkpoint.
type Publisher interface {
	Publish(ctx context.Context, records []*models.Record, blob []byte, mode string, dimension int) error
}

// ProgressFunc is called after each batch of a full reindex.
type ProgressFunc func(done, total int)

// Syncer runs incremental and full passes. Only one pass runs at a time.
type Syncer struct {
	root         string
	extensions   []string
	store        storage.RecordStore
	embedder     embedding.Embedder
	indexType    string
	seed         int64
	batchSize    int
	concurrency  int
	compactRatio float64
	publisher    Publisher
	logger       *zap.Logger

	mu       sync.RWMutex // guards index and restored
	index    vector.VectorIndex
	restored bool

	running atomic.Bool
	state   atomic.Int32

	lastMu sync.Mutex
	last   *Summary
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithLogger sets the logger. Nil keeps the no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Syncer) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithExtensions sets the note file extensions.
func WithExtensions(exts []string) Option {
	return func(s *Syncer) {
		if len(exts) > 0 {
			s.extensions = exts
		}
	}
}

// WithIndex selects the index type and HNSW seed used for fresh indexes.
func WithIndex(indexType string, seed int64) Option {
	return func(s *Syncer) {
		if indexType != "" {
			s.indexType = indexType
		}
		s.seed = seed
	}
}

// WithBatchSize sets how many notes are embedded between cancellation checks.
func WithBatchSize(n int) Option {
	return func(s *Syncer) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithConcurrency bounds parallel extraction and embedding within a batch.
func WithConcurrency(n int) Option {
	return func(s *Syncer) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithCompactRatio sets the tombstone ratio above which the index is rebuilt before persisting.
func WithCompactRatio(r float64) Option {
	return func(s *Syncer) {
		if r > 0 {
			s.compactRatio = r
		}
	}
}

// WithPublisher registers a Publisher called after each checkpoint.
func WithPublisher(p Publisher) Option {
	return func(s *Syncer) { s.publisher = p }
}

// New creates a Syncer over the vault at root.
func New(root string, store storage.RecordStore, e embedding.Embedder, opts ...Option) *Syncer {
	s := &Syncer{
		root:         root,
		extensions:   corpus.DefaultExtensions,
		store:        store,
		embedder:     e,
		indexType:    string(vector.IndexTypeHNSW),
		seed:         42,
		batchSize:    32,
		concurrency:  4,
		compactRatio: 0.3,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current pass state.
func (s *Syncer) State() State { return State(s.state.Load()) }

// Indexing reports whether a pass is running.
func (s *Syncer) Indexing() bool { return s.running.Load() }

// LastSummary returns the summary of the most recent completed pass, or nil.
func (s *Syncer) LastSummary() *Summary {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()
	return s.last
}

// View runs fn with the current index under the read lock.
// fn receives nil when no index has been restored or built yet.
func (s *Syncer) View(fn func(idx vector.VectorIndex) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.index)
}

func (s *Syncer) setState(st State) { s.state.Store(int32(st)) }

func (s *Syncer) acquire() bool {
	return s.running.CompareAndSwap(false, true)
}

func (s *Syncer) release() {
	s.setState(StateIdle)
	s.running.Store(false)
}

// RestoreIndex loads the stored index blob. It returns ErrIndexCorrupt when the
// blob is missing while records exist, fails its checksum or decoding, or
// holds no live entries for a non-empty store.
func (s *Syncer) RestoreIndex(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restoreLocked(ctx)
}

func (s *Syncer) restoreLocked(ctx context.Context) error {
	count, err := s.store.CountIndexed(ctx)
	if err != nil {
		return fmt.Errorf("count records: %w", err)
	}
	blob, err := s.store.LoadIndexBlob(ctx)
	if err != nil {
		if errors.Is(err, vector.ErrDeserialize) {
			return fmt.Errorf("%w: %v", ErrIndexCorrupt, err)
		}
		return fmt.Errorf("load index blob: %w", err)
	}
	if blob == nil {
		if count > 0 {
			return fmt.Errorf("%w: %d indexed records but no stored index", ErrIndexCorrupt, count)
		}
		idx, err := s.newIndex()
		if err != nil {
			return err
		}
		s.index, s.restored = idx, true
		return nil
	}
	idx, err := vector.Decode(blob)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIndexCorrupt, err)
	}
	if count > 0 && idx.Len() == 0 {
		return fmt.Errorf("%w: %d indexed records but index is empty", ErrIndexCorrupt, count)
	}
	s.index, s.restored = idx, true
	s.logger.Debug("index restored",
		zap.Int("entries", idx.Len()),
		zap.String("type", string(idx.Type())),
		zap.Int("records", count))
	return nil
}

func (s *Syncer) newIndex() (vector.VectorIndex, error) {
	return vector.NewVectorIndex(s.indexType, s.embedder.Dimensions(), s.seed)
}

// rebuildReason returns why the next pass must be a full reindex, or "".
func (s *Syncer) rebuildReason(ctx context.Context) (string, error) {
	if s.store.ReindexRequired() {
		return "record schema changed", nil
	}
	s.mu.Lock()
	if !s.restored {
		if err := s.restoreLocked(ctx); err != nil {
			s.mu.Unlock()
			if errors.Is(err, ErrIndexCorrupt) {
				s.logger.Warn("stored index is corrupt, rebuilding", zap.Error(err))
				return "index corrupt", nil
			}
			return "", err
		}
	}
	idx := s.index
	s.mu.Unlock()

	if idx.Dimensions() != s.embedder.Dimensions() {
		return "embedding dimension changed", nil
	}
	if string(idx.Type()) != s.indexType {
		return "index type changed", nil
	}
	count, err := s.store.Count(ctx)
	if err != nil {
		return "", fmt.Errorf("count records: %w", err)
	}
	if count == 0 {
		return "", nil
	}
	mode, err := s.store.Meta(ctx, storage.MetaEmbeddingMode)
	if err != nil {
		return "", fmt.Errorf("read embedding mode: %w", err)
	}
	if mode != string(s.embedder.Mode()) {
		return "embedding mode changed", nil
	}
	return "", nil
}

// Sync runs an incremental pass, or a full reindex when the stored index is
// corrupt, the schema changed, or the embedder differs from the stored one.
func (s *Syncer) Sync(ctx context.Context) (*Summary, error) {
	if !s.acquire() {
		return nil, ErrSyncInProgress
	}
	defer s.release()
	if !s.embedder.Ready() {
		return nil, embedding.ErrNotLoaded
	}

	s.setState(StateDiffing)
	reason, err := s.rebuildReason(ctx)
	if err != nil {
		return nil, err
	}
	if reason != "" {
		s.logger.Info("running full reindex", zap.String("reason", reason))
		return s.fullReindex(ctx, nil)
	}
	return s.incremental(ctx)
}

// FullReindex clears the index and records and embeds every note. It returns
// the number of notes indexed. On cancellation the finished batches are kept.
func (s *Syncer) FullReindex(ctx context.Context, onProgress ProgressFunc) (int, error) {
	if !s.acquire() {
		return 0, ErrSyncInProgress
	}
	defer s.release()
	if !s.embedder.Ready() {
		return 0, embedding.ErrNotLoaded
	}
	sum, err := s.fullReindex(ctx, onProgress)
	if sum == nil {
		return 0, err
	}
	return sum.Added, err
}

func (s *Syncer) fullReindex(ctx context.Context, onProgress ProgressFunc) (*Summary, error) {
	start := time.Now()
	sum := &Summary{RunID: uuid.NewString(), Full: true}
	log := s.logger.With(zap.String("run_id", sum.RunID))

	s.setState(StateDiffing)
	entries, err := corpus.Scan(s.root, s.extensions)
	if err != nil {
		return nil, err
	}
	if err := s.store.ClearAll(ctx); err != nil {
		return nil, fmt.Errorf("clear store: %w", err)
	}
	idx, err := s.newIndex()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.index, s.restored = idx, true
	s.mu.Unlock()
	if err := s.writeEmbedderMeta(ctx); err != nil {
		return nil, err
	}

	log.Debug("full reindex started", zap.Int("notes", len(entries)))
	s.setState(StateEmbedding)
	var (
		upserts []*models.Record
		runErr  error
	)
	for startIdx := 0; startIdx < len(entries); startIdx += s.batchSize {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		batch := entries[startIdx:min(startIdx+s.batchSize, len(entries))]
		outs := s.process(ctx, batch, nil)
		recs, skipped, failed := s.apply(outs)
		upserts = append(upserts, recs...)
		sum.Added += len(recs) - skipped
		sum.Skipped += skipped
		sum.Failed = append(sum.Failed, failed...)
		if onProgress != nil {
			onProgress(startIdx+len(batch), len(entries))
		}
	}

	// persist even when empty so the blob matches the cleared store
	if err := s.persist(ctx, sum.RunID, upserts, nil); err != nil {
		return nil, err
	}
	s.finish(sum, start)
	log.Info("full reindex finished",
		zap.Int("indexed", sum.Added),
		zap.Int("failed", len(sum.Failed)),
		zap.Duration("duration", sum.Duration))
	return sum, runErr
}

func (s *Syncer) incremental(ctx context.Context) (*Summary, error) {
	start := time.Now()
	sum := &Summary{RunID: uuid.NewString()}
	log := s.logger.With(zap.String("run_id", sum.RunID))

	entries, err := corpus.Scan(s.root, s.extensions)
	if err != nil {
		return nil, err
	}
	cursor, err := s.store.Cursor(ctx)
	if err != nil {
		return nil, fmt.Errorf("read cursor: %w", err)
	}
	diff := ComputeDiff(entries, cursor)

	// unchanged notes missing from the index are re-embedded, unless they
	// were stored unindexed for lack of a gist
	var missing []corpus.Entry
	s.mu.RLock()
	for _, e := range diff.Unchanged {
		if !s.index.Contains(e.ID) {
			missing = append(missing, e)
		} else {
			sum.Unchanged++
		}
	}
	s.mu.RUnlock()
	for _, e := range missing {
		if rec, err := s.store.Get(ctx, e.ID); err == nil && rec != nil && !rec.Indexed {
			sum.Unchanged++
			continue
		}
		diff.Changed = append(diff.Changed, e)
	}
	log.Debug("diff computed",
		zap.Int("new", len(diff.New)),
		zap.Int("changed", len(diff.Changed)),
		zap.Int("unchanged", sum.Unchanged),
		zap.Int("removed", len(diff.Removed)))

	if len(diff.Removed) > 0 {
		s.mu.Lock()
		for _, id := range diff.Removed {
			s.index.Delete(id)
		}
		s.mu.Unlock()
		sum.Removed = len(diff.Removed)
	}

	s.setState(StateEmbedding)
	var (
		upserts []*models.Record
		runErr  error
	)
	run := func(work []corpus.Entry, changed bool) {
		for i := 0; i < len(work) && runErr == nil; i += s.batchSize {
			if err := ctx.Err(); err != nil {
				runErr = err
				return
			}
			batch := work[i:min(i+s.batchSize, len(work))]
			var prior map[string]*models.Record
			if changed {
				prior = s.priorRecords(ctx, batch)
			}
			recs, skipped, failed := s.apply(s.process(ctx, batch, prior))
			upserts = append(upserts, recs...)
			sum.Failed = append(sum.Failed, failed...)
			sum.Skipped += skipped
			if changed {
				sum.Updated += len(recs) - skipped
			} else {
				sum.Added += len(recs) - skipped
			}
		}
	}
	run(diff.New, false)
	run(diff.Changed, true)

	if len(upserts) > 0 || len(diff.Removed) > 0 {
		if err := s.persist(ctx, sum.RunID, upserts, diff.Removed); err != nil {
			return nil, err
		}
	}
	s.finish(sum, start)
	if sum.Changed() || len(sum.Failed) > 0 {
		log.Info("sync finished",
			zap.Int("added", sum.Added),
			zap.Int("updated", sum.Updated),
			zap.Int("removed", sum.Removed),
			zap.Int("failed", len(sum.Failed)),
			zap.Duration("duration", sum.Duration))
	}
	return sum, runErr
}

// outcome is the result of extracting and embedding one note.
type outcome struct {
	rec  *models.Record
	vec  []float32 // nil when the stored vector is reused
	skip bool      // empty gist: stored, never embedded
	err  error
}

func (s *Syncer) priorRecords(ctx context.Context, batch []corpus.Entry) map[string]*models.Record {
	prior := make(map[string]*models.Record, len(batch))
	for _, e := range batch {
		rec, err := s.store.Get(ctx, e.ID)
		if err != nil {
			s.logger.Debug("prior record lookup failed", zap.String("id", e.ID), zap.Error(err))
			continue
		}
		if rec != nil {
			prior[e.ID] = rec
		}
	}
	return prior
}

// process extracts and embeds a batch concurrently. Per-note failures are
// carried in the outcome and never stop the batch.
func (s *Syncer) process(ctx context.Context, batch []corpus.Entry, prior map[string]*models.Record) []outcome {
	outs := make([]outcome, len(batch))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, e := range batch {
		g.Go(func() error {
			rec, err := corpus.Load(e)
			if err != nil {
				outs[i] = outcome{err: err}
				return nil
			}
			if rec.Gist == "" {
				outs[i] = outcome{rec: rec, skip: true}
				return nil
			}
			if old := prior[e.ID]; old != nil && old.Gist == rec.Gist && s.indexed(e.ID) {
				outs[i] = outcome{rec: rec}
				return nil
			}
			vec, err := s.embedder.Embed(ctx, rec.Gist)
			if err != nil {
				outs[i] = outcome{rec: rec, err: fmt.Errorf("embed: %w", err)}
				return nil
			}
			outs[i] = outcome{rec: rec, vec: vec}
			return nil
		})
	}
	_ = g.Wait()
	for i := range outs {
		if outs[i].err != nil && outs[i].rec == nil {
			outs[i].rec = &models.Record{ID: batch[i].ID}
		}
	}
	return outs
}

func (s *Syncer) indexed(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Contains(id)
}

// apply inserts embedded vectors under the writer lock and returns the
// records to store and how many of them were skipped for an empty gist.
func (s *Syncer) apply(outs []outcome) ([]*models.Record, int, []DocError) {
	var (
		recs    []*models.Record
		skipped int
		failed  []DocError
	)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range outs {
		if o.err != nil {
			failed = append(failed, DocError{ID: o.rec.ID, Err: o.err})
			continue
		}
		if o.skip {
			s.index.Delete(o.rec.ID)
			o.rec.Indexed = false
			recs = append(recs, o.rec)
			skipped++
			s.logger.Debug("note has no gist, not indexed", zap.String("id", o.rec.ID))
			continue
		}
		if o.vec != nil {
			if err := s.index.Insert(o.rec.ID, o.vec); err != nil {
				failed = append(failed, DocError{ID: o.rec.ID, Err: err})
				continue
			}
		}
		o.rec.Indexed = true
		recs = append(recs, o.rec)
	}
	for _, f := range failed {
		s.logger.Warn("note skipped", zap.String("id", f.ID), zap.Error(f.Err))
	}
	return recs, skipped, failed
}

// persist compacts when needed, serializes the index and checkpoints the
// records and blob in one transaction, then publishes.
func (s *Syncer) persist(ctx context.Context, runID string, upserts []*models.Record, deletes []string) error {
	s.setState(StatePersisting)
	s.mu.Lock()
	if c, ok := s.index.(vector.Compactor); ok {
		live, dead := s.index.Len(), c.Tombstones()
		if dead > 0 && float64(dead)/float64(live+dead) > s.compactRatio {
			if err := c.Compact(); err != nil {
				s.mu.Unlock()
				return fmt.Errorf("compact index: %w", err)
			}
			s.logger.Debug("index compacted", zap.Int("tombstones", dead), zap.Int("live", live))
		}
	}
	blob, err := s.index.MarshalBinary()
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("serialize index: %w", err)
	}

	// a cancelled pass still checkpoints what it finished
	ctx = context.WithoutCancel(ctx)
	if err := s.store.Checkpoint(ctx, upserts, deletes, blob); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	if err := s.writeEmbedderMeta(ctx); err != nil {
		return err
	}
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	if err := s.store.SetMeta(ctx, storage.MetaLastSync, now); err != nil {
		return fmt.Errorf("write last sync: %w", err)
	}
	if err := s.store.SetMeta(ctx, storage.MetaLastRunID, runID); err != nil {
		return fmt.Errorf("write run id: %w", err)
	}
	if s.publisher == nil {
		return nil
	}
	records, err := s.store.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("read records for export: %w", err)
	}
	if err := s.publisher.Publish(ctx, records, blob, string(s.embedder.Mode()), s.embedder.Dimensions()); err != nil {
		return fmt.Errorf("publish snapshot: %w", err)
	}
	return nil
}

func (s *Syncer) writeEmbedderMeta(ctx context.Context) error {
	if err := s.store.SetMeta(ctx, storage.MetaEmbeddingMode, string(s.embedder.Mode())); err != nil {
		return fmt.Errorf("write embedding mode: %w", err)
	}
	if err := s.store.SetMeta(ctx, storage.MetaDimension, strconv.Itoa(s.embedder.Dimensions())); err != nil {
		return fmt.Errorf("write dimension: %w", err)
	}
	return nil
}

func (s *Syncer) finish(sum *Summary, start time.Time) {
	sum.Finished = time.Now()
	sum.Duration = sum.Finished.Sub(start)
	s.lastMu.Lock()
	s.last = sum
	s.lastMu.Unlock()
}
