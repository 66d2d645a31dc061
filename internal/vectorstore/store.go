// Package vectorstore is an in-memory similarity index over fixed-dimension
// embeddings, with optional sqlite persistence and a langchaingo adapter.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

var (
	// ErrDimensionMismatch is returned when a vector's length differs from the store's dimensionality.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrInvalidDimensions is returned when a store is created with a non-positive dimensionality.
	ErrInvalidDimensions = errors.New("dimensions must be positive")
	// ErrMissingID is returned when a document has no identifier.
	ErrMissingID = errors.New("document id is required")
)

// Source categories for knowledge documents.
const (
	SourceDocumentation = "documentation"
	SourceScene         = "scene"
	SourceWeb           = "web"
	SourceConversation  = "conversation"
)

// Metadata describes where a document came from.
type Metadata struct {
	Source     string    `json:"source"`
	EntityID   string    `json:"entity_id,omitempty"`
	FilePath   string    `json:"file_path,omitempty"`
	ChunkIndex *int      `json:"chunk_index,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Document is one stored embedding plus its content.
type Document struct {
	ID        string    `json:"id"`
	Embedding []float32 `json:"embedding"`
	Content   string    `json:"content"`
	Metadata  Metadata  `json:"metadata"`
}

// Filter restricts a search to documents whose metadata matches every
// non-empty field exactly.
type Filter struct {
	Source   string
	EntityID string
	FilePath string
}

func (f Filter) matches(m Metadata) bool {
	if f.Source != "" && f.Source != m.Source {
		return false
	}
	if f.EntityID != "" && f.EntityID != m.EntityID {
		return false
	}
	if f.FilePath != "" && f.FilePath != m.FilePath {
		return false
	}
	return true
}

// Result is a scored search hit.
type Result struct {
	Document Document
	Score    float64
}

// Backend is the index surface shared by Store and PersistentStore.
type Backend interface {
	Add(ctx context.Context, docs ...Document) error
	Delete(ctx context.Context, ids ...string) error
	Search(query []float32, topK int, filter *Filter) ([]Result, error)
	IDs(filter Filter) []string
	Count() int
	Dimensions() int
}

var (
	_ Backend = (*Store)(nil)
	_ Backend = (*PersistentStore)(nil)
)

// Store holds documents keyed by id. Dimensionality is fixed at construction.
type Store struct {
	mu   sync.RWMutex
	dims int
	docs map[string]Document
}

// New creates an empty store for vectors of the given length.
func New(dims int) (*Store, error) {
	if dims <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidDimensions, dims)
	}
	return &Store{
		dims: dims,
		docs: make(map[string]Document),
	}, nil
}

// Dimensions returns the fixed vector length.
func (s *Store) Dimensions() int {
	return s.dims
}

// Upsert inserts or overwrites documents by id. Either every document is
// stored or, on a validation failure, none is.
func (s *Store) Upsert(docs ...Document) error {
	for _, d := range docs {
		if d.ID == "" {
			return ErrMissingID
		}
		if len(d.Embedding) != s.dims {
			return fmt.Errorf("%w: document %s has %d, store expects %d", ErrDimensionMismatch, d.ID, len(d.Embedding), s.dims)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range docs {
		if d.Metadata.Timestamp.IsZero() {
			d.Metadata.Timestamp = time.Now().UTC()
		}
		emb := make([]float32, len(d.Embedding))
		copy(emb, d.Embedding)
		d.Embedding = emb
		s.docs[d.ID] = d
	}
	return nil
}

// Remove deletes documents by id. Unknown ids are ignored.
func (s *Store) Remove(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.docs, id)
	}
}

// Get returns the document with the given id.
func (s *Store) Get(id string) (Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[id]
	return d, ok
}

// IDs returns the ids of documents matching filter.
func (s *Store) IDs(filter Filter) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, d := range s.docs {
		if filter.matches(d.Metadata) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of stored documents.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// Clear removes every document.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = make(map[string]Document)
}

// Search scores every document passing filter by cosine similarity to
// query and returns at most topK hits, best first.
func (s *Store) Search(query []float32, topK int, filter *Filter) ([]Result, error) {
	if len(query) != s.dims {
		return nil, fmt.Errorf("%w: query has %d, store expects %d", ErrDimensionMismatch, len(query), s.dims)
	}
	if topK <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	results := make([]Result, 0, len(s.docs))
	for _, d := range s.docs {
		if filter != nil && !filter.matches(d.Metadata) {
			continue
		}
		results = append(results, Result{Document: d, Score: CosineSimilarity(query, d.Embedding)})
	}
	s.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// CosineSimilarity returns dot(a,b) / (|a||b|). It is 0 when either
// vector has zero norm or the lengths differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Add is Upsert with the Backend signature.
func (s *Store) Add(_ context.Context, docs ...Document) error {
	return s.Upsert(docs...)
}

// Delete is Remove with the Backend signature.
func (s *Store) Delete(_ context.Context, ids ...string) error {
	s.Remove(ids...)
	return nil
}
