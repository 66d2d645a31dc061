package tools

import (
	"context"
	"fmt"

	"github.com/rahul/sceneforge/internal/vectorstore"
	"github.com/tmc/langchaingo/vectorstores"
)

// RAGTool lets the model query the knowledge base directly.
type RAGTool struct {
	Store vectorstores.VectorStore
	TopK  int
}

func NewRAGTool(store vectorstores.VectorStore, topK int) *RAGTool {
	if topK <= 0 {
		topK = 5
	}
	return &RAGTool{Store: store, TopK: topK}
}

func (r *RAGTool) Name() string {
	return "search_knowledge"
}

func (r *RAGTool) Description() string {
	return "Search ingested documentation, scene notes and fetched pages by meaning."
}

func (r *RAGTool) Parameters() Schema {
	return Schema{
		Properties: map[string]Property{
			"query": {Type: "string", Description: "The natural language query to search for"},
			"source": {
				Type:        "string",
				Description: "Restrict results to one source category",
				Enum: []string{
					vectorstore.SourceDocumentation,
					vectorstore.SourceScene,
					vectorstore.SourceWeb,
					vectorstore.SourceConversation,
				},
			},
			"entity_id": {Type: "string", Description: "Restrict results to one scene entity"},
			"top_k":     {Type: "integer", Description: "Maximum number of results"},
		},
		Required: []string{"query"},
	}
}

// KnowledgeHit is one search result as returned to the model.
type KnowledgeHit struct {
	ID       string  `json:"id,omitempty"`
	Content  string  `json:"content"`
	Score    float32 `json:"score"`
	Source   string  `json:"source,omitempty"`
	EntityID string  `json:"entity_id,omitempty"`
	FilePath string  `json:"file_path,omitempty"`
}

func (r *RAGTool) Execute(ctx context.Context, input map[string]any) (any, error) {
	topK := r.TopK
	if n, ok := Number(input, "top_k"); ok && n > 0 {
		topK = int(n)
	}

	filter := vectorstore.Filter{
		Source:   String(input, "source"),
		EntityID: String(input, "entity_id"),
	}
	opts := []vectorstores.Option{}
	if filter != (vectorstore.Filter{}) {
		opts = append(opts, vectorstores.WithFilters(filter))
	}

	docs, err := r.Store.SimilaritySearch(ctx, String(input, "query"), topK, opts...)
	if err != nil {
		return nil, fmt.Errorf("knowledge search failed: %w", err)
	}

	hits := make([]KnowledgeHit, 0, len(docs))
	for _, d := range docs {
		hit := KnowledgeHit{Content: d.PageContent, Score: d.Score}
		hit.ID, _ = d.Metadata[vectorstore.MetaID].(string)
		hit.Source, _ = d.Metadata[vectorstore.MetaSource].(string)
		hit.EntityID, _ = d.Metadata[vectorstore.MetaEntityID].(string)
		hit.FilePath, _ = d.Metadata[vectorstore.MetaFilePath].(string)
		hits = append(hits, hit)
	}
	return hits, nil
}
