package snapshot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/vector"
)

func testRecords() []*models.Record {
	return []*models.Record{
		{
			ID: "alpha.md", Gist: "work note", Mtime: 1700000000000, Indexed: true,
			Fields: map[string]models.FieldValue{"gist": models.StringField("work note"), "tags": models.ListField("alpha", "demo")},
			Tags:   []string{"alpha", "demo"},
		},
		{ID: "beta.md", Gist: "tech term", Mtime: 1700000000001, Indexed: true},
	}
}

func testBlob(t *testing.T, recs []*models.Record) []byte {
	t.Helper()
	idx, err := vector.NewHNSWIndex(embedding.HTPDimensions, vector.WithSeed(7))
	require.NoError(t, err)
	for _, r := range recs {
		require.NoError(t, idx.Insert(r.ID, embedding.HTPEmbed(r.Gist)))
	}
	blob, err := idx.MarshalBinary()
	require.NoError(t, err)
	return blob
}

func exportTest(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), ".kioku", "index")
	recs := testRecords()
	_, err := Export(dir, recs, testBlob(t, recs), "htp", embedding.HTPDimensions)
	require.NoError(t, err)
	return dir
}

func TestExportLoad(t *testing.T) {
	dir := exportTest(t)

	snap, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, Version, snap.Meta.Version)
	assert.Equal(t, "htp", snap.Meta.EmbeddingMode)
	assert.Equal(t, 2, snap.Meta.NoteCount)
	assert.Equal(t, 2, snap.Meta.IndexSize)
	assert.Equal(t, embedding.HTPDimensions, snap.Index.Dimensions())
	assert.Less(t, snap.Meta.Age(time.Now()), time.Minute)

	alpha := snap.Record("alpha.md")
	require.NotNil(t, alpha)
	assert.Equal(t, testRecords()[0], alpha)
	assert.Nil(t, snap.Record("missing.md"))

	res, err := snap.Index.Search(embedding.HTPEmbed("tech term"), 1, vector.DefaultEfSearch)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "beta.md", res[0].ID)
}

func TestExport_ReplacesPrevious(t *testing.T) {
	dir := exportTest(t)
	recs := testRecords()[:1]
	meta, err := Export(dir, recs, testBlob(t, recs), "htp", embedding.HTPDimensions)
	require.NoError(t, err)
	assert.Equal(t, 1, meta.NoteCount)

	snap, err := Load(dir)
	require.NoError(t, err)
	assert.Len(t, snap.Records, 1)

	entries, err := os.ReadDir(filepath.Dir(dir))
	require.NoError(t, err)
	require.Len(t, entries, 1, "staging and previous snapshot directories are removed")
	assert.Equal(t, "index", entries[0].Name())
}

func TestExport_RejectsBadBlob(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "index")
	_, err := Export(dir, testRecords(), []byte("not an index"), "htp", embedding.HTPDimensions)
	assert.True(t, errors.Is(err, vector.ErrDeserialize))
	_, statErr := os.Stat(dir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestExport_DimensionMismatchNotPublished(t *testing.T) {
	dir := exportTest(t)
	recs := testRecords()
	_, err := Export(dir, recs, testBlob(t, recs), "htp", 256)
	assert.True(t, errors.Is(err, ErrSnapshotInvalid), "got %v", err)

	snap, err := Load(dir)
	require.NoError(t, err, "previous snapshot stays in place")
	assert.Equal(t, embedding.HTPDimensions, snap.Meta.Dimension)
}

// crashMidPublish leaves dir as a publish would after moving it aside and
// dying before the new snapshot was renamed in.
func crashMidPublish(t *testing.T, dir string) string {
	t.Helper()
	parent := filepath.Dir(dir)
	retired := filepath.Join(parent, ".index.old-"+strconv.FormatInt(time.Now().UnixNano(), 36))
	require.NoError(t, os.Rename(dir, retired))
	stale := filepath.Join(parent, ".index.old-"+strconv.FormatInt(1, 36))
	require.NoError(t, os.Mkdir(stale, 0755))
	require.NoError(t, os.Mkdir(filepath.Join(parent, ".index.tmp-123"), 0755))
	return retired
}

func TestRecover(t *testing.T) {
	dir := exportTest(t)
	retired := crashMidPublish(t, dir)

	from, err := Recover(dir)
	require.NoError(t, err)
	assert.Equal(t, retired, from)
	snap, err := Load(dir)
	require.NoError(t, err)
	assert.Len(t, snap.Records, 2)

	from, err = Recover(dir)
	require.NoError(t, err)
	assert.Empty(t, from, "nothing to do while the snapshot exists")
}

func TestRecover_NothingRetired(t *testing.T) {
	from, err := Recover(filepath.Join(t.TempDir(), "index"))
	require.NoError(t, err)
	assert.Empty(t, from)

	from, err = Recover(filepath.Join(t.TempDir(), "missing", "index"))
	require.NoError(t, err)
	assert.Empty(t, from)
}

func TestExport_RestoresRetiredBeforePublishing(t *testing.T) {
	dir := exportTest(t)
	crashMidPublish(t, dir)

	_, err := Export(dir, testRecords(), []byte("not an index"), "htp", embedding.HTPDimensions)
	require.Error(t, err)
	snap, err := Load(dir)
	require.NoError(t, err, "retired snapshot is back in place")
	assert.Len(t, snap.Records, 2)
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		remove  bool
		want    string
	}{
		{name: "wrong version", file: MetaFile, content: `{"version":2,"embeddingMode":"htp","dimension":384,"noteCount":1}`, want: "version"},
		{name: "unknown mode", file: MetaFile, content: `{"version":1,"embeddingMode":"bert","dimension":384,"noteCount":1}`, want: "bert"},
		{name: "zero dimension", file: MetaFile, content: `{"version":1,"embeddingMode":"htp","dimension":0,"noteCount":1}`, want: "dimension"},
		{name: "string version", file: MetaFile, content: `{"version":"1","embeddingMode":"htp","dimension":384}`, want: MetaFile},
		{name: "empty path", file: RecordsFile, content: `[{"path":"","gist":"g","mtime":1,"indexed":true}]`, want: "path"},
		{name: "numeric gist", file: RecordsFile, content: `[{"path":"a.md","gist":5,"mtime":1,"indexed":true}]`, want: "gist"},
		{name: "null gist", file: RecordsFile, content: `[{"path":"a.md","gist":null,"mtime":1,"indexed":true}]`, want: "gist"},
		{name: "string mtime", file: RecordsFile, content: `[{"path":"a.md","gist":"g","mtime":"1","indexed":true}]`, want: "mtime"},
		{name: "huge mtime", file: RecordsFile, content: `[{"path":"a.md","gist":"g","mtime":1e999,"indexed":true}]`, want: "mtime"},
		{name: "string indexed", file: RecordsFile, content: `[{"path":"a.md","gist":"g","mtime":1,"indexed":"yes"}]`, want: "indexed"},
		{name: "numeric field", file: RecordsFile, content: `[{"path":"a.md","gist":"g","mtime":1,"indexed":true,"fields":{"n":3}}]`, want: `field "n"`},
		{name: "mixed list field", file: RecordsFile, content: `[{"path":"a.md","gist":"g","mtime":1,"indexed":true,"fields":{"l":["a",1]}}]`, want: `field "l"`},
		{name: "null in list field", file: RecordsFile, content: `[{"path":"a.md","gist":"g","mtime":1,"indexed":true,"fields":{"tags":["a",null]}}]`, want: `field "tags"`},
		{name: "null field", file: RecordsFile, content: `[{"path":"a.md","gist":"g","mtime":1,"indexed":true,"fields":{"area":null}}]`, want: `field "area"`},
		{name: "null tag", file: RecordsFile, content: `[{"path":"a.md","gist":"g","mtime":1,"indexed":true,"tags":[null]}]`, want: "tags"},
		{name: "numeric tag", file: RecordsFile, content: `[{"path":"a.md","gist":"g","mtime":1,"indexed":true,"tags":["a",2]}]`, want: "tags"},
		{name: "null records", file: RecordsFile, content: `null`, want: RecordsFile},
		{name: "note count", file: RecordsFile, content: `[{"path":"a.md","gist":"g","mtime":1,"indexed":true}]`, want: "noteCount"},
		{name: "not an array", file: RecordsFile, content: `{"path":"a.md"}`, want: RecordsFile},
		{name: "index checksum", file: IndexFile, content: "tampered", want: "checksum"},
		{name: "missing index", file: IndexFile, remove: true, want: "missing index.bin"},
		{name: "missing records", file: RecordsFile, remove: true, want: "missing records.json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := exportTest(t)
			p := filepath.Join(dir, tt.file)
			if tt.remove {
				require.NoError(t, os.Remove(p))
			} else {
				require.NoError(t, os.WriteFile(p, []byte(tt.content), 0644))
			}
			_, err := Validate(dir)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrSnapshotInvalid), "got %v", err)
			assert.True(t, strings.Contains(err.Error(), tt.want), "error %q should mention %q", err, tt.want)
		})
	}
}

func TestLoad_CorruptIndexWithoutChecksum(t *testing.T) {
	dir := exportTest(t)
	meta := `{"version":1,"embeddingMode":"htp","dimension":384,"noteCount":2,"indexSize":2,"exportedAt":1}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, MetaFile), []byte(meta), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, IndexFile), []byte("KIOKUIDX garbage"), 0644))

	_, err := Validate(dir)
	require.NoError(t, err)
	_, err = Load(dir)
	assert.True(t, errors.Is(err, ErrSnapshotInvalid))
	assert.True(t, errors.Is(err, vector.ErrDeserialize))
}

func TestValidate_NullRecordsWithEmptyMeta(t *testing.T) {
	dir := exportTest(t)
	meta := `{"version":1,"embeddingMode":"htp","dimension":384,"noteCount":0,"indexSize":2,"exportedAt":1}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, MetaFile), []byte(meta), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, RecordsFile), []byte("null"), 0644))

	_, err := Validate(dir)
	assert.True(t, errors.Is(err, ErrSnapshotInvalid), "got %v", err)
}

func TestLoad_IndexSizeMismatch(t *testing.T) {
	dir := exportTest(t)
	meta := `{"version":1,"embeddingMode":"htp","dimension":384,"noteCount":2,"indexSize":3,"exportedAt":1}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, MetaFile), []byte(meta), 0644))

	_, err := Validate(dir)
	require.NoError(t, err)
	_, err = Load(dir)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSnapshotInvalid))
	assert.Contains(t, err.Error(), "indexSize")
}

func TestPublisher(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "snap")
	p := NewPublisher(dir, nil)
	recs := testRecords()
	require.NoError(t, p.Publish(context.Background(), recs, testBlob(t, recs), "htp", embedding.HTPDimensions))
	assert.Equal(t, dir, p.Dir())
	_, err := Validate(dir)
	require.NoError(t, err)
}
