package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSized(t *testing.T, path string, n int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, make([]byte, n), 0644))
}

func TestMeasureUsage(t *testing.T) {
	state := t.TempDir()
	db := filepath.Join(state, "records.db")
	snap := filepath.Join(state, "index")

	writeSized(t, db, 100)
	writeSized(t, db+"-wal", 20)
	writeSized(t, filepath.Join(snap, "meta.json"), 7)
	writeSized(t, filepath.Join(snap, "index.bin"), 3)
	writeSized(t, filepath.Join(state, ".index.tmp-123", "index.bin"), 5)
	writeSized(t, filepath.Join(state, ".index.old-456", "meta.json"), 2)
	writeSized(t, filepath.Join(state, "other", "x"), 1000)

	u, err := MeasureUsage(db, snap)
	require.NoError(t, err)
	assert.Equal(t, int64(120), u.Database)
	assert.Equal(t, int64(10), u.Snapshot)
	assert.Equal(t, int64(7), u.Leftover)
	assert.Equal(t, int64(137), u.Total())
}

func TestMeasureUsage_Missing(t *testing.T) {
	dir := t.TempDir()
	u, err := MeasureUsage(filepath.Join(dir, "none.db"), filepath.Join(dir, "nope", "index"))
	require.NoError(t, err)
	assert.Zero(t, u.Total())

	u, err = MeasureUsage("", "")
	require.NoError(t, err)
	assert.Zero(t, u.Total())
}
