package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/models"
)

func newTestEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	root := t.TempDir()
	notes := map[string]string{
		"alpha.md": "---\nelysium_gist: work note\nelysium_tags: [alpha, demo]\nelysium_type: project\n---\n",
		"beta.md":  "---\nelysium_gist: tech term\nelysium_tags: [beta]\n---\n",
		"gamma.md": "---\nelysium_gist: learning project\nelysium_area: learning\n---\n",
	}
	for name, content := range notes {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(content), 0644))
	}
	state := t.TempDir()
	cfg := &config.Config{
		Vault:   config.VaultConfig{Root: root},
		Storage: config.StorageConfig{DatabasePath: filepath.Join(state, "records.db"), SnapshotDir: filepath.Join(state, "index")},
	}
	config.ApplyDefaults(cfg)
	e, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e, root
}

func resultIDs(results []*models.SearchResult) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	return ids
}

func TestEngine_SyncAndSearch(t *testing.T) {
	e, root := newTestEngine(t)
	ctx := context.Background()

	sum, err := e.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Added)

	resp, err := e.Search(ctx, &models.SearchQuery{Query: "tech term", Limit: 3})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "beta.md", resp.Results[0].ID)
	assert.Equal(t, models.ModeHybrid, resp.Mode)

	require.NoError(t, os.Remove(filepath.Join(root, "beta.md")))
	sum, err = e.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Removed)

	resp, err = e.Search(ctx, &models.SearchQuery{Query: "tech term", Limit: 3})
	require.NoError(t, err)
	assert.NotContains(t, resultIDs(resp.Results), "beta.md")
}

func TestEngine_SearchBeforeSync(t *testing.T) {
	e, _ := newTestEngine(t)
	resp, err := e.Search(context.Background(), &models.SearchQuery{Query: "work", Mode: "semantic"})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}

func TestEngine_RelatedAndRecords(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	_, err := e.FullReindex(ctx, nil)
	require.NoError(t, err)

	related, err := e.Related(ctx, "alpha.md", 2, true)
	require.NoError(t, err)
	assert.Len(t, related, 2)
	assert.NotContains(t, resultIDs(related), "alpha.md")

	rec, err := e.GetRecord(ctx, "gamma.md")
	require.NoError(t, err)
	assert.Equal(t, "learning", rec.Area())

	_, err = e.GetRecord(ctx, "nope.md")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = e.Related(ctx, "nope.md", 2, false)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestEngine_SnapshotAndStatus(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	_, err := e.Sync(ctx)
	require.NoError(t, err)

	// the sync published a snapshot already
	snap, err := e.ValidateSnapshot("")
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Meta.NoteCount)

	meta, err := e.ExportSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, meta.IndexSize)
	assert.Equal(t, "htp", meta.EmbeddingMode)

	st, err := e.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Notes)
	assert.Equal(t, 3, st.IndexSize)
	assert.Equal(t, "hnsw", st.IndexType)
	assert.Equal(t, "htp", st.EmbeddingMode)
	assert.Equal(t, embedding.HTPDimensions, st.Dimension)
	assert.Equal(t, "idle", st.State)
	assert.NotNil(t, st.LastSync)
	assert.NotEmpty(t, st.LastRunID)
	assert.NotEmpty(t, st.SnapshotAge)
	assert.Positive(t, st.DiskUsageBytes)
}

func TestEngine_SwitchEmbedder(t *testing.T) {
	e, _ := newTestEngine(t)
	assert.Error(t, e.SwitchEmbedder("bert", ""))
	assert.Error(t, e.SwitchEmbedder(embedding.ModeModel2Vec, ""))
	require.NoError(t, e.SwitchEmbedder(embedding.ModeHTP, ""))
}

func TestNew_RequiresVault(t *testing.T) {
	_, err := New(&config.Config{})
	assert.Error(t, err)
}
