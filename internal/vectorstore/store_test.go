package vectorstore

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T, dims int) *Store {
	t.Helper()
	s, err := New(dims)
	require.NoError(t, err)
	return s
}

func TestNew_RejectsNonPositiveDimensions(t *testing.T) {
	_, err := New(0)
	assert.ErrorIs(t, err, ErrInvalidDimensions)
	_, err = New(-3)
	assert.ErrorIs(t, err, ErrInvalidDimensions)
}

func TestCosineSimilarity(t *testing.T) {
	v := []float32{0.3, -1.2, 4}
	assert.InDelta(t, 1.0, CosineSimilarity(v, v), 1e-9)

	zero := []float32{0, 0, 0}
	assert.Equal(t, 0.0, CosineSimilarity(zero, v))
	assert.Equal(t, 0.0, CosineSimilarity(v, zero))
	assert.Equal(t, 0.0, CosineSimilarity(zero, zero))

	a := []float32{1, 2, 3}
	b := []float32{-2, 0.5, 7}
	assert.InDelta(t, CosineSimilarity(a, b), CosineSimilarity(b, a), 1e-12)

	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-12)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-12)
	assert.False(t, math.IsNaN(CosineSimilarity(zero, zero)))
}

func TestStore_UpsertThenSearchRoundTrip(t *testing.T) {
	s := newStore(t, 3)
	doc := Document{ID: "bracket", Embedding: []float32{0.2, 0.7, 0.1}, Content: "L bracket", Metadata: Metadata{Source: SourceScene}}
	require.NoError(t, s.Upsert(doc))

	results, err := s.Search(doc.Embedding, 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "bracket", results[0].Document.ID)
	assert.Equal(t, "L bracket", results[0].Document.Content)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
	assert.False(t, results[0].Document.Metadata.Timestamp.IsZero())
}

func TestStore_SearchRanksNearestFirst(t *testing.T) {
	s := newStore(t, 3)
	require.NoError(t, s.Upsert(
		Document{ID: "x", Embedding: []float32{1, 0, 0}},
		Document{ID: "y", Embedding: []float32{0, 1, 0}},
		Document{ID: "z", Embedding: []float32{0, 0, 1}},
	))

	results, err := s.Search([]float32{0.9, 0.1, 0}, 3, nil)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "x", results[0].Document.ID)
	assert.Greater(t, results[0].Score, 0.9)
	assert.Equal(t, "y", results[1].Document.ID)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestStore_SearchTopKLimits(t *testing.T) {
	s := newStore(t, 2)
	require.NoError(t, s.Upsert(
		Document{ID: "a", Embedding: []float32{1, 0}},
		Document{ID: "b", Embedding: []float32{1, 1}},
		Document{ID: "c", Embedding: []float32{0, 1}},
	))

	results, err := s.Search([]float32{1, 0}, 2, nil)
	require.NoError(t, err)
	assert.Len(t, results, 2)

	results, err = s.Search([]float32{1, 0}, 0, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestStore_DimensionMismatch(t *testing.T) {
	s := newStore(t, 3)
	err := s.Upsert(Document{ID: "bad", Embedding: []float32{1, 2}})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Equal(t, 0, s.Count())

	_, err = s.Search([]float32{1, 2, 3, 4}, 5, nil)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))
}

func TestStore_UpsertIsAllOrNothing(t *testing.T) {
	s := newStore(t, 2)
	err := s.Upsert(
		Document{ID: "ok", Embedding: []float32{1, 0}},
		Document{ID: "", Embedding: []float32{1, 0}},
	)
	assert.ErrorIs(t, err, ErrMissingID)
	assert.Equal(t, 0, s.Count())
}

func TestStore_UpsertOverwritesByID(t *testing.T) {
	s := newStore(t, 2)
	require.NoError(t, s.Upsert(Document{ID: "a", Embedding: []float32{1, 0}, Content: "old"}))
	require.NoError(t, s.Upsert(Document{ID: "a", Embedding: []float32{0, 1}, Content: "new"}))

	assert.Equal(t, 1, s.Count())
	d, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, "new", d.Content)
	assert.Equal(t, []float32{0, 1}, d.Embedding)
}

func TestStore_UpsertCopiesEmbedding(t *testing.T) {
	s := newStore(t, 2)
	emb := []float32{1, 0}
	require.NoError(t, s.Upsert(Document{ID: "a", Embedding: emb}))
	emb[0] = 42

	d, _ := s.Get("a")
	assert.Equal(t, float32(1), d.Embedding[0])
}

func TestStore_RemoveAndClear(t *testing.T) {
	s := newStore(t, 2)
	require.NoError(t, s.Upsert(
		Document{ID: "a", Embedding: []float32{1, 0}},
		Document{ID: "b", Embedding: []float32{0, 1}},
		Document{ID: "c", Embedding: []float32{1, 1}},
	))

	s.Remove("a", "missing")
	assert.Equal(t, 2, s.Count())
	_, ok := s.Get("a")
	assert.False(t, ok)

	s.Clear()
	assert.Equal(t, 0, s.Count())
}

func TestStore_SearchAppliesFilter(t *testing.T) {
	s := newStore(t, 2)
	require.NoError(t, s.Upsert(
		Document{ID: "doc", Embedding: []float32{1, 0}, Metadata: Metadata{Source: SourceDocumentation, FilePath: "manual.md"}},
		Document{ID: "scene-1", Embedding: []float32{1, 0.1}, Metadata: Metadata{Source: SourceScene, EntityID: "e1"}},
		Document{ID: "scene-2", Embedding: []float32{0.9, 0}, Metadata: Metadata{Source: SourceScene, EntityID: "e2"}},
	))

	results, err := s.Search([]float32{1, 0}, 10, &Filter{Source: SourceScene})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, SourceScene, r.Document.Metadata.Source)
	}

	results, err = s.Search([]float32{1, 0}, 10, &Filter{Source: SourceScene, EntityID: "e2"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "scene-2", results[0].Document.ID)

	assert.Equal(t, []string{"doc"}, s.IDs(Filter{FilePath: "manual.md"}))
	assert.Equal(t, []string{"doc", "scene-1", "scene-2"}, s.IDs(Filter{}))
}
