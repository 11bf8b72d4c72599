package search

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/vector"
)

func fixtureRecords() []*models.Record {
	return []*models.Record{
		{ID: "alpha.md", Gist: "work note", Indexed: true, Tags: []string{"alpha", "demo"}},
		{ID: "beta.md", Gist: "tech term", Indexed: true, Tags: []string{"beta"}},
		{ID: "gamma.md", Gist: "learning project", Indexed: true,
			Fields: map[string]models.FieldValue{"area": models.StringField("learning")}},
	}
}

func newFixtureEngine(t *testing.T) *Engine {
	t.Helper()
	ctx := context.Background()
	emb := embedding.NewHTPEmbedder()
	idx, err := vector.NewHNSWIndex(emb.Dimensions(), vector.WithSeed(1))
	require.NoError(t, err)
	recs := fixtureRecords()
	for _, r := range recs {
		require.NoError(t, vector.InsertText(ctx, idx, emb, r.ID, r.Gist))
	}
	e, err := NewEngine(ctx, recs, idx, emb, DefaultOptions(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestEngine_SearchModes(t *testing.T) {
	e := newFixtureEngine(t)
	ctx := context.Background()

	tests := []struct {
		mode  string
		query string
		first string
	}{
		{models.ModeSemantic, "tech term", "beta.md"},
		{models.ModeKeyword, "learning", "gamma.md"},
		{"bm25", "demo", "alpha.md"},
		{"", "work note", "alpha.md"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s", tt.mode, tt.query), func(t *testing.T) {
			resp, err := e.Search(ctx, &models.SearchQuery{Query: tt.query, Limit: 3, Mode: tt.mode})
			require.NoError(t, err)
			require.NotEmpty(t, resp.Results)
			assert.Equal(t, tt.first, resp.Results[0].ID)
			assert.Equal(t, 1, resp.Results[0].Rank)
			assert.NotEmpty(t, resp.Mode)
		})
	}
}

func TestEngine_SemanticScores(t *testing.T) {
	e := newFixtureEngine(t)
	resp, err := e.Search(context.Background(), &models.SearchQuery{Query: "tech term", Mode: "semantic"})
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Total)
	assert.InDelta(t, 1.0, resp.Results[0].Score, 1e-5)
	assert.Equal(t, resp.Results[0].Score, resp.Results[0].SemanticScore)
	for i := 1; i < len(resp.Results); i++ {
		assert.GreaterOrEqual(t, resp.Results[i-1].Score, resp.Results[i].Score)
	}
}

func TestEngine_KeywordOnlyMatches(t *testing.T) {
	e := newFixtureEngine(t)
	resp, err := e.Search(context.Background(), &models.SearchQuery{Query: "learning", Mode: "keyword"})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, "learning", resp.Results[0].Area)
	assert.Empty(t, resp.Suggestion)
}

func TestEngine_Suggestion(t *testing.T) {
	e := newFixtureEngine(t)
	resp, err := e.Search(context.Background(), &models.SearchQuery{Query: "lerning", Mode: "keyword"})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.Equal(t, "learning", resp.Suggestion)
}

func TestEngine_Limit(t *testing.T) {
	e := newFixtureEngine(t)
	resp, err := e.Search(context.Background(), &models.SearchQuery{Query: "note", Limit: 1, Mode: "semantic"})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 1)
	assert.Equal(t, 3, resp.Total)
}

func TestEngine_InvalidQuery(t *testing.T) {
	e := newFixtureEngine(t)
	_, err := e.Search(context.Background(), &models.SearchQuery{Query: ""})
	assert.Error(t, err)
	_, err = e.Search(context.Background(), &models.SearchQuery{Query: "x", Mode: "fuzzy"})
	assert.Error(t, err)
}

type mapEmbedder map[string][]float32

func (m mapEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v, ok := m[text]
	if !ok {
		return nil, fmt.Errorf("no vector for %q", text)
	}
	return v, nil
}

func TestEngine_Related(t *testing.T) {
	ctx := context.Background()
	meta := map[string]models.FieldValue{
		"type": models.StringField("project"),
		"area": models.StringField("ml"),
	}
	recs := []*models.Record{
		{ID: "src.md", Gist: "src", Fields: meta},
		{ID: "near.md", Gist: "near"},
		{ID: "kin.md", Gist: "kin", Fields: meta},
	}
	emb := mapEmbedder{
		"src":  {1, 0},
		"near": {0.9, 0.43588989},
		"kin":  {0.8, 0.6},
	}
	idx, err := vector.NewFlatIndex(2)
	require.NoError(t, err)
	for _, r := range recs {
		require.NoError(t, vector.InsertText(ctx, idx, emb, r.ID, r.Gist))
	}
	e, err := NewEngine(ctx, recs, idx, emb, DefaultOptions(), nil)
	require.NoError(t, err)
	defer e.Close()

	plain, err := e.Related(ctx, "src.md", 5, false)
	require.NoError(t, err)
	require.Len(t, plain, 2)
	assert.Equal(t, "near.md", plain[0].ID)
	assert.Equal(t, "kin.md", plain[1].ID)

	boosted, err := e.Related(ctx, "src.md", 5, true)
	require.NoError(t, err)
	require.Len(t, boosted, 2)
	assert.Equal(t, "kin.md", boosted[0].ID)
	assert.InDelta(t, 0.86, boosted[0].Score, 1e-6)
	assert.InDelta(t, 0.8, boosted[0].SemanticScore, 1e-6)
	assert.Equal(t, 1, boosted[0].Rank)
	assert.InDelta(t, 0.63, boosted[1].Score, 1e-6)

	one, err := e.Related(ctx, "src.md", 1, false)
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "near.md", one[0].ID)

	_, err = e.Related(ctx, "missing.md", 5, false)
	assert.True(t, errors.Is(err, ErrNoteNotFound))
}

func TestEngine_UnindexedRecordsNotSearchable(t *testing.T) {
	ctx := context.Background()
	emb := embedding.NewHTPEmbedder()
	idx, err := vector.NewFlatIndex(emb.Dimensions())
	require.NoError(t, err)
	recs := append(fixtureRecords(), &models.Record{ID: "_.md", Tags: []string{"orphan"}})
	for _, r := range recs[:3] {
		require.NoError(t, vector.InsertText(ctx, idx, emb, r.ID, r.Gist))
	}
	e, err := NewEngine(ctx, recs, idx, emb, DefaultOptions(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	resp, err := e.Search(ctx, &models.SearchQuery{Query: "orphan", Limit: 5, Mode: models.ModeKeyword})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}

func TestEngine_KeywordOptions(t *testing.T) {
	ctx := context.Background()
	emb := embedding.NewHTPEmbedder()
	idx, err := vector.NewFlatIndex(emb.Dimensions())
	require.NoError(t, err)
	recs := fixtureRecords()
	for _, r := range recs {
		require.NoError(t, vector.InsertText(ctx, idx, emb, r.ID, r.Gist))
	}
	opts := DefaultOptions()
	opts.Fuzziness = 2
	e, err := NewEngine(ctx, recs, idx, emb, opts, nil)
	require.NoError(t, err)
	defer e.Close()

	resp, err := e.Search(ctx, &models.SearchQuery{Query: "lerning", Mode: models.ModeKeyword})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "gamma.md", resp.Results[0].ID)
}
