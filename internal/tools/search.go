package tools

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/tools/duckduckgo"
)

// searcher is the subset of a langchaingo tool the search tool calls.
type searcher interface {
	Call(ctx context.Context, input string) (string, error)
}

type SearchTool struct {
	client searcher
}

func NewSearchTool(maxResults int) (*SearchTool, error) {
	if maxResults <= 0 {
		maxResults = 10
	}
	ddg, err := duckduckgo.New(maxResults, duckduckgo.DefaultUserAgent)
	if err != nil {
		return nil, err
	}
	return &SearchTool{client: ddg}, nil
}

func (s *SearchTool) Name() string {
	return "web_search"
}

func (s *SearchTool) Description() string {
	return "Search the web using DuckDuckGo for reference material such as part dimensions or standards."
}

func (s *SearchTool) Parameters() Schema {
	return Schema{
		Properties: map[string]Property{
			"query": {Type: "string", Description: "The search query to look up"},
		},
		Required: []string{"query"},
	}
}

func (s *SearchTool) Execute(ctx context.Context, input map[string]any) (any, error) {
	res, err := s.client.Call(ctx, String(input, "query"))
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	return res, nil
}
