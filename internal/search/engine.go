package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hyperjump/kioku/internal/keyword"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/vector"
	"go.uber.org/zap"
)

// ErrNoteNotFound is returned by Related for an id with no record.
var ErrNoteNotFound = errors.New("note not found")

// Options tunes ranking.
type Options struct {
	KeywordWeight  float64
	SemanticWeight float64
	RRFK           float64
	EfSearch       int
	// TitleBoost and Fuzziness are passed to the keyword index.
	TitleBoost float64
	Fuzziness  int
	// Candidates is the minimum number of hits taken from each side before fusion.
	Candidates int
}

// DefaultOptions returns the standard hybrid weights.
func DefaultOptions() Options {
	return Options{
		KeywordWeight:  0.3,
		SemanticWeight: 0.7,
		RRFK:           60,
		EfSearch:       vector.DefaultEfSearch,
		Candidates:     50,
		TitleBoost:     10,
	}
}

// Engine runs hybrid (keyword + semantic) search over one consistent view of
// records and their vectors.
type Engine struct {
	records   map[string]*models.Record
	vectors   vector.VectorIndex
	keywords  *keyword.BleveIndex
	suggester *keyword.Suggester
	embedder  vector.Embedder
	opts      Options
	logger    *zap.Logger
}

// NewEngine builds the keyword index over records and returns an engine
// answering from records, vectors and embedder. A nil logger is allowed.
func NewEngine(ctx context.Context, records []*models.Record, vectors vector.VectorIndex, embedder vector.Embedder, opts Options, logger *zap.Logger) (*Engine, error) {
	indexed := make([]*models.Record, 0, len(records))
	for _, r := range records {
		if r.Indexed {
			indexed = append(indexed, r)
		}
	}
	kw, err := keyword.Build(ctx, indexed)
	if err != nil {
		return nil, fmt.Errorf("build keyword index: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	byID := make(map[string]*models.Record, len(records))
	for _, r := range records {
		byID[r.ID] = r
	}
	return &Engine{
		records:   byID,
		vectors:   vectors,
		keywords:  kw,
		suggester: keyword.NewSuggester(kw, 2),
		embedder:  embedder,
		opts:      opts,
		logger:    logger,
	}, nil
}

// Close releases the keyword index.
func (e *Engine) Close() error {
	return e.keywords.Close()
}

// Record returns the record for id, or nil.
func (e *Engine) Record(id string) *models.Record {
	return e.records[id]
}

// Search validates query and returns ranked notes for its mode.
func (e *Engine) Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error) {
	startTime := time.Now()
	if err := query.Validate(); err != nil {
		return nil, err
	}
	candidates := max(query.Limit, e.opts.Candidates)

	var (
		keywordResults  []*keyword.KeywordResult
		semanticResults []*vector.VectorResult
		errChan         = make(chan error, 2)
		wg              sync.WaitGroup
	)

	if query.Mode != models.ModeSemantic {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results, err := e.keywords.Search(ctx, query.Query, candidates, &keyword.SearchOptions{
				TitleBoost: e.opts.TitleBoost,
				Fuzziness:  e.opts.Fuzziness,
			})
			if err != nil {
				errChan <- fmt.Errorf("keyword search failed: %w", err)
				return
			}
			keywordResults = results
		}()
	}

	if query.Mode != models.ModeKeyword {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results, err := vector.SearchText(ctx, e.vectors, e.embedder, query.Query, candidates, e.opts.EfSearch)
			if err != nil {
				errChan <- fmt.Errorf("vector search failed: %w", err)
				return
			}
			semanticResults = results
		}()
	}

	wg.Wait()
	close(errChan)
	for err := range errChan {
		if err != nil {
			return nil, err
		}
	}

	var fused []*FusedResult
	switch query.Mode {
	case models.ModeSemantic:
		fused = single(semanticResults, nil)
	case models.ModeKeyword:
		fused = single(nil, keywordResults)
	default:
		fused = FuseRRF(keywordResults, semanticResults, e.opts.KeywordWeight, e.opts.SemanticWeight, e.opts.RRFK)
	}

	response := &models.SearchResponse{
		Results: make([]*models.SearchResult, 0, min(len(fused), query.Limit)),
		Query:   query.Query,
		Mode:    query.Mode,
	}
	for _, f := range fused {
		rec := e.records[f.ID]
		if rec == nil {
			// index entry without a record: skip rather than fail the query
			e.logger.Debug("search hit without record", zap.String("id", f.ID))
			continue
		}
		response.Total++
		if len(response.Results) == query.Limit {
			continue
		}
		r := models.NewSearchResult(rec, f.Score)
		r.SemanticScore = f.SemanticScore
		r.KeywordScore = f.KeywordScore
		r.Rank = len(response.Results) + 1
		response.Results = append(response.Results, r)
	}

	if query.Mode != models.ModeSemantic && len(keywordResults) == 0 {
		if s, ok, err := e.suggester.Correct(query.Query); err == nil && ok {
			response.Suggestion = s
		}
	}
	response.QueryTime = time.Since(startTime).Milliseconds()
	e.logger.Debug("search",
		zap.String("query", query.Query),
		zap.String("mode", query.Mode),
		zap.Int("keyword_hits", len(keywordResults)),
		zap.Int("semantic_hits", len(semanticResults)),
		zap.Int("total", response.Total))
	return response, nil
}

// single converts one ranked list to fused results keeping its own scores.
func single(semantic []*vector.VectorResult, kw []*keyword.KeywordResult) []*FusedResult {
	out := make([]*FusedResult, 0, len(semantic)+len(kw))
	for _, r := range semantic {
		out = append(out, &FusedResult{ID: r.ID, Score: r.Score, SemanticScore: r.Score})
	}
	for _, r := range kw {
		out = append(out, &FusedResult{ID: r.ID, Score: r.Score, KeywordScore: r.Score})
	}
	return out
}

// Related returns up to limit notes closest to the gist of id, excluding id.
// With boost, scores become Boost(semantic, MetadataScore) and are re-sorted.
func (e *Engine) Related(ctx context.Context, id string, limit int, boost bool) ([]*models.SearchResult, error) {
	rec := e.records[id]
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoteNotFound, id)
	}
	if limit <= 0 {
		limit = 10
	}
	hits, err := vector.SearchText(ctx, e.vectors, e.embedder, rec.Gist, limit+1, max(e.opts.EfSearch, limit+1))
	if err != nil {
		return nil, fmt.Errorf("related search failed: %w", err)
	}

	results := make([]*models.SearchResult, 0, limit)
	for _, h := range hits {
		other := e.records[h.ID]
		if h.ID == id || other == nil {
			continue
		}
		r := models.NewSearchResult(other, h.Score)
		r.SemanticScore = h.Score
		if boost {
			r.Score = Boost(h.Score, MetadataScore(rec, other))
		}
		results = append(results, r)
	}
	if boost {
		sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	}
	if len(results) > limit {
		results = results[:limit]
	}
	for i, r := range results {
		r.Rank = i + 1
	}
	return results, nil
}

// Len returns the number of records the engine answers from.
func (e *Engine) Len() int { return len(e.records) }
