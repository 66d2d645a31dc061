package knowledge

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rahul/sceneforge/internal/llm"
	"github.com/rahul/sceneforge/internal/observability"
	"github.com/rahul/sceneforge/internal/tokens"
	"github.com/rahul/sceneforge/internal/vectorstore"
)

// ErrNothingToIngest is returned when the text produces no chunks.
var ErrNothingToIngest = errors.New("knowledge: nothing to ingest")

// Source is a piece of text to be chunked into the index.
type Source struct {
	Text     string
	Source   string
	EntityID string
	// FilePath identifies the origin. Re-ingesting the same path replaces
	// its previous chunks.
	FilePath string
}

// Ingester chunks text, embeds the chunks in one batch and stores them.
type Ingester struct {
	Index       vectorstore.Backend
	Embedder    llm.Embedder
	ChunkTokens int
	Logger      *observability.Logger
	Metrics     *observability.Metrics
}

func NewIngester(index vectorstore.Backend, embedder llm.Embedder, chunkTokens int) *Ingester {
	if chunkTokens <= 0 {
		chunkTokens = tokens.DefaultChunkTokens
	}
	return &Ingester{Index: index, Embedder: embedder, ChunkTokens: chunkTokens}
}

// Ingest stores src and returns the ids of the new chunks.
func (i *Ingester) Ingest(ctx context.Context, src Source) ([]string, error) {
	chunks := tokens.ChunkText(src.Text, i.ChunkTokens)
	if len(chunks) == 0 {
		return nil, ErrNothingToIngest
	}
	if src.Source == "" {
		src.Source = vectorstore.SourceDocumentation
	}

	vectors, err := i.Embedder.EmbedDocuments(ctx, chunks)
	if err != nil {
		i.Logger.LogKnowledge("ingest", 0, err.Error())
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("embed chunks: got %d vectors for %d chunks", len(vectors), len(chunks))
	}

	var previous []string
	if src.FilePath != "" {
		previous = i.Index.IDs(vectorstore.Filter{FilePath: src.FilePath})
	}

	docs := make([]vectorstore.Document, len(chunks))
	ids := make([]string, len(chunks))
	for n, chunk := range chunks {
		idx := n
		id := uuid.NewString()
		if src.FilePath != "" {
			id = fmt.Sprintf("%s#%d", src.FilePath, n)
		}
		ids[n] = id
		docs[n] = vectorstore.Document{
			ID:        id,
			Embedding: vectors[n],
			Content:   chunk,
			Metadata: vectorstore.Metadata{
				Source:     src.Source,
				EntityID:   src.EntityID,
				FilePath:   src.FilePath,
				ChunkIndex: &idx,
			},
		}
	}

	if err := i.Index.Add(ctx, docs...); err != nil {
		i.Logger.LogKnowledge("ingest", 0, err.Error())
		return nil, fmt.Errorf("store chunks: %w", err)
	}

	// chunks beyond the new count are left over from a longer version
	if stale := without(previous, ids); len(stale) > 0 {
		if err := i.Index.Delete(ctx, stale...); err != nil {
			return nil, fmt.Errorf("remove previous chunks: %w", err)
		}
	}

	i.Logger.LogKnowledge("ingest", len(docs), "")
	i.Metrics.SetKnowledgeDocuments(i.Index.Count())
	return ids, nil
}

// PageFetcher retrieves readable page content.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (Page, error)
}

// IngestURL fetches a page and stores it as web knowledge keyed by its URL.
func (i *Ingester) IngestURL(ctx context.Context, fetcher PageFetcher, url string) (Page, []string, error) {
	page, err := fetcher.Fetch(ctx, url)
	if err != nil {
		return Page{}, nil, err
	}
	text := page.Text
	if page.Title != "" {
		text = page.Title + "\n\n" + text
	}
	ids, err := i.Ingest(ctx, Source{Text: text, Source: vectorstore.SourceWeb, FilePath: url})
	return page, ids, err
}

func without(ids, drop []string) []string {
	skip := make(map[string]bool, len(drop))
	for _, id := range drop {
		skip[id] = true
	}
	var out []string
	for _, id := range ids {
		if !skip[id] {
			out = append(out, id)
		}
	}
	return out
}
