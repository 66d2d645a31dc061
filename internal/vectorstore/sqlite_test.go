package vectorstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPersistentStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "knowledge.db")

	ps, err := OpenPersistent(ctx, path, 3)
	require.NoError(t, err)

	idx := 2
	require.NoError(t, ps.Upsert(ctx,
		Document{ID: "a", Embedding: []float32{1, 0, 0}, Content: "alpha", Metadata: Metadata{Source: SourceDocumentation, FilePath: "a.md", ChunkIndex: &idx}},
		Document{ID: "b", Embedding: []float32{0, 1, 0}, Content: "beta", Metadata: Metadata{Source: SourceScene, EntityID: "part-7"}},
	))
	require.NoError(t, ps.Remove(ctx, "b"))
	require.NoError(t, ps.Close())

	reopened, err := OpenPersistent(ctx, path, 3)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, 1, reopened.Count())
	d, ok := reopened.Get("a")
	require.True(t, ok)
	assert.Equal(t, "alpha", d.Content)
	assert.Equal(t, []float32{1, 0, 0}, d.Embedding)
	assert.Equal(t, "a.md", d.Metadata.FilePath)
	require.NotNil(t, d.Metadata.ChunkIndex)
	assert.Equal(t, 2, *d.Metadata.ChunkIndex)
	assert.False(t, d.Metadata.Timestamp.IsZero())

	results, err := reopened.Search([]float32{1, 0, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].Document.ID)
}

func TestPersistentStore_SkipsRowsOfOtherDimensions(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "knowledge.db")

	ps, err := OpenPersistent(ctx, path, 2)
	require.NoError(t, err)
	require.NoError(t, ps.Upsert(ctx, Document{ID: "old", Embedding: []float32{1, 0}}))
	require.NoError(t, ps.Close())

	wider, err := OpenPersistent(ctx, path, 4)
	require.NoError(t, err)
	defer wider.Close()
	assert.Equal(t, 0, wider.Count())
}

func TestPersistentStore_RejectsMismatchBeforeWriting(t *testing.T) {
	ctx := context.Background()
	ps, err := OpenPersistent(ctx, ":memory:", 2)
	require.NoError(t, err)
	defer ps.Close()

	err = ps.Upsert(ctx, Document{ID: "x", Embedding: []float32{1, 2, 3}})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	var n int
	require.NoError(t, ps.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM knowledge`).Scan(&n))
	assert.Equal(t, 0, n)
}

func TestPersistentStore_Clear(t *testing.T) {
	ctx := context.Background()
	ps, err := OpenPersistent(ctx, ":memory:", 2)
	require.NoError(t, err)
	defer ps.Close()

	require.NoError(t, ps.Add(ctx, Document{ID: "x", Embedding: []float32{1, 2}}))
	require.NoError(t, ps.Clear(ctx))
	assert.Equal(t, 0, ps.Count())

	var n int
	require.NoError(t, ps.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM knowledge`).Scan(&n))
	assert.Equal(t, 0, n)
}

func TestVectorEncoding(t *testing.T) {
	v := []float32{0, -1.5, 3.25, 1e-7}
	assert.Equal(t, v, decodeVector(encodeVector(v)))
}
