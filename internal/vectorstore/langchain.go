package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
)

// ErrMissingEmbedder is returned when neither the adapter nor the call options carry an embedder.
var ErrMissingEmbedder = errors.New("vectorstore: no embedder configured")

// Metadata keys used when translating to and from schema.Document.
const (
	MetaID         = "id"
	MetaSource     = "source"
	MetaEntityID   = "entity_id"
	MetaFilePath   = "file_path"
	MetaChunkIndex = "chunk_index"
)

// LangChainStore exposes a Backend as a langchaingo vectorstores.VectorStore.
type LangChainStore struct {
	backend  Backend
	embedder embeddings.Embedder
}

var _ vectorstores.VectorStore = (*LangChainStore)(nil)

// NewLangChainStore wraps backend; embedder may be nil if every call supplies one.
func NewLangChainStore(backend Backend, embedder embeddings.Embedder) *LangChainStore {
	return &LangChainStore{backend: backend, embedder: embedder}
}

func (l *LangChainStore) options(opts []vectorstores.Option) (vectorstores.Options, embeddings.Embedder, error) {
	var o vectorstores.Options
	for _, opt := range opts {
		opt(&o)
	}
	emb := l.embedder
	if o.Embedder != nil {
		emb = o.Embedder
	}
	if emb == nil {
		return o, nil, ErrMissingEmbedder
	}
	return o, emb, nil
}

// AddDocuments embeds and stores docs, returning their ids.
func (l *LangChainStore) AddDocuments(ctx context.Context, docs []schema.Document, opts ...vectorstores.Option) ([]string, error) {
	o, emb, err := l.options(opts)
	if err != nil {
		return nil, err
	}

	var kept []schema.Document
	for _, d := range docs {
		if o.Deduplicater != nil && o.Deduplicater(ctx, d) {
			continue
		}
		kept = append(kept, d)
	}
	if len(kept) == 0 {
		return nil, nil
	}

	texts := make([]string, len(kept))
	for i, d := range kept {
		texts[i] = d.PageContent
	}
	vectors, err := emb.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed documents: %w", err)
	}
	if len(vectors) != len(kept) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d documents", len(vectors), len(kept))
	}

	out := make([]Document, len(kept))
	ids := make([]string, len(kept))
	for i, d := range kept {
		doc := fromSchema(d)
		if doc.ID == "" {
			doc.ID = uuid.NewString()
		}
		doc.Embedding = vectors[i]
		out[i] = doc
		ids[i] = doc.ID
	}
	if err := l.backend.Add(ctx, out...); err != nil {
		return nil, err
	}
	return ids, nil
}

// SimilaritySearch embeds query and returns the closest documents. Filters
// may be a Filter, *Filter or map[string]any keyed by metadata name.
func (l *LangChainStore) SimilaritySearch(ctx context.Context, query string, numDocuments int, opts ...vectorstores.Option) ([]schema.Document, error) {
	o, emb, err := l.options(opts)
	if err != nil {
		return nil, err
	}
	filter, err := toFilter(o.Filters)
	if err != nil {
		return nil, err
	}

	vec, err := emb.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	results, err := l.backend.Search(vec, numDocuments, filter)
	if err != nil {
		return nil, err
	}

	docs := make([]schema.Document, 0, len(results))
	for _, r := range results {
		if o.ScoreThreshold > 0 && float32(r.Score) < o.ScoreThreshold {
			continue
		}
		docs = append(docs, toSchema(r))
	}
	return docs, nil
}

func toFilter(raw any) (*Filter, error) {
	switch f := raw.(type) {
	case nil:
		return nil, nil
	case Filter:
		return &f, nil
	case *Filter:
		return f, nil
	case map[string]any:
		var out Filter
		for k, v := range f {
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("filter %q must be a string, got %T", k, v)
			}
			switch k {
			case MetaSource:
				out.Source = s
			case MetaEntityID:
				out.EntityID = s
			case MetaFilePath:
				out.FilePath = s
			default:
				return nil, fmt.Errorf("unsupported filter field %q", k)
			}
		}
		return &out, nil
	default:
		return nil, fmt.Errorf("unsupported filter type %T", raw)
	}
}

func fromSchema(d schema.Document) Document {
	doc := Document{Content: d.PageContent}
	if d.Metadata == nil {
		return doc
	}
	doc.ID, _ = d.Metadata[MetaID].(string)
	doc.Metadata.Source, _ = d.Metadata[MetaSource].(string)
	doc.Metadata.EntityID, _ = d.Metadata[MetaEntityID].(string)
	doc.Metadata.FilePath, _ = d.Metadata[MetaFilePath].(string)
	switch v := d.Metadata[MetaChunkIndex].(type) {
	case int:
		doc.Metadata.ChunkIndex = &v
	case float64:
		idx := int(v)
		doc.Metadata.ChunkIndex = &idx
	case string:
		if idx, err := strconv.Atoi(v); err == nil {
			doc.Metadata.ChunkIndex = &idx
		}
	}
	return doc
}

func toSchema(r Result) schema.Document {
	meta := map[string]any{
		MetaID:     r.Document.ID,
		MetaSource: r.Document.Metadata.Source,
	}
	if r.Document.Metadata.EntityID != "" {
		meta[MetaEntityID] = r.Document.Metadata.EntityID
	}
	if r.Document.Metadata.FilePath != "" {
		meta[MetaFilePath] = r.Document.Metadata.FilePath
	}
	if r.Document.Metadata.ChunkIndex != nil {
		meta[MetaChunkIndex] = *r.Document.Metadata.ChunkIndex
	}
	return schema.Document{
		PageContent: r.Document.Content,
		Metadata:    meta,
		Score:       float32(r.Score),
	}
}
