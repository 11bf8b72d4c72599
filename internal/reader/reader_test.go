package reader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/snapshot"
	"github.com/hyperjump/kioku/internal/vector"
)

func record(id, gist string) *models.Record {
	return &models.Record{ID: id, Gist: gist, Mtime: 1700000000000, Indexed: true}
}

func publish(t *testing.T, dir string, recs ...*models.Record) {
	t.Helper()
	idx, err := vector.NewHNSWIndex(embedding.HTPDimensions, vector.WithSeed(1))
	require.NoError(t, err)
	for _, r := range recs {
		require.NoError(t, idx.Insert(r.ID, embedding.HTPEmbed(r.Gist)))
	}
	blob, err := idx.MarshalBinary()
	require.NoError(t, err)
	_, err = snapshot.Export(dir, recs, blob, string(embedding.ModeHTP), embedding.HTPDimensions)
	require.NoError(t, err)
}

func openTest(t *testing.T) (*Reader, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), ".kioku", "index")
	publish(t, dir,
		record("alpha.md", "weekly planning meeting"),
		record("beta.md", "rust borrow checker notes"),
		record("gamma.md", "planning the garden beds"))
	r, err := Open(context.Background(), dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r, dir
}

func TestReader_Search(t *testing.T) {
	r, _ := openTest(t)

	resp, err := r.Search(context.Background(), &models.SearchQuery{Query: "borrow checker", Mode: models.ModeSemantic, Limit: 1})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "beta.md", resp.Results[0].ID)

	resp, err = r.Search(context.Background(), &models.SearchQuery{Query: "planning", Mode: models.ModeKeyword})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Total)
}

func TestReader_RelatedAndRecord(t *testing.T) {
	r, _ := openTest(t)

	related, err := r.Related(context.Background(), "alpha.md", 2, false)
	require.NoError(t, err)
	require.NotEmpty(t, related)
	for _, res := range related {
		assert.NotEqual(t, "alpha.md", res.ID)
	}

	rec, err := r.GetRecord(context.Background(), "gamma.md")
	require.NoError(t, err)
	assert.Equal(t, "planning the garden beds", rec.Gist)

	_, err = r.GetRecord(context.Background(), "missing.md")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestReader_Status(t *testing.T) {
	r, dir := openTest(t)

	st := r.Status()
	assert.Equal(t, dir, st.SnapshotDir)
	assert.Equal(t, snapshot.Version, st.Version)
	assert.Equal(t, "htp", st.EmbeddingMode)
	assert.Equal(t, embedding.HTPDimensions, st.Dimension)
	assert.Equal(t, 3, st.Notes)
	assert.Equal(t, 3, st.IndexSize)
	assert.Equal(t, "hnsw", st.IndexType)
	assert.Equal(t, 1, st.Reloads)
}

func TestReader_ReloadKeepsPreviousOnFailure(t *testing.T) {
	r, dir := openTest(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, snapshot.IndexFile), []byte("tampered"), 0644))
	err := r.Reload(context.Background())
	assert.True(t, errors.Is(err, snapshot.ErrSnapshotInvalid))

	assert.Equal(t, 3, r.Status().Notes)
	_, err = r.GetRecord(context.Background(), "alpha.md")
	assert.NoError(t, err)
}

func TestReader_FollowPicksUpNewExport(t *testing.T) {
	r, dir := openTest(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w, err := r.Follow(ctx, 20*time.Millisecond)
	require.NoError(t, err)
	defer w.Stop()

	publish(t, dir,
		record("alpha.md", "weekly planning meeting"),
		record("delta.md", "sourdough starter feeding"))

	require.Eventually(t, func() bool {
		_, err := r.GetRecord(context.Background(), "delta.md")
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 2, r.Status().Notes)
}

func TestOpen_MissingSnapshot(t *testing.T) {
	_, err := Open(context.Background(), filepath.Join(t.TempDir(), "none"))
	assert.True(t, errors.Is(err, snapshot.ErrSnapshotInvalid))
}

func TestOpen_RestoresRetiredSnapshot(t *testing.T) {
	dir := filepath.Join(t.TempDir(), ".kioku", "index")
	publish(t, dir, record("alpha.md", "weekly planning meeting"))
	require.NoError(t, os.Rename(dir, filepath.Join(filepath.Dir(dir), ".index.old-1")))

	r, err := Open(context.Background(), dir)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, 1, r.Status().Notes)
	_, err = os.Stat(filepath.Join(filepath.Dir(dir), ".index.old-1"))
	assert.True(t, os.IsNotExist(err))
}

func TestReader_Closed(t *testing.T) {
	r, _ := openTest(t)
	require.NoError(t, r.Close())
	_, err := r.Search(context.Background(), &models.SearchQuery{Query: "x"})
	assert.True(t, errors.Is(err, ErrClosed))
}
