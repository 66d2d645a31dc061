package tools

import (
	"context"
	"fmt"

	"github.com/rahul/sceneforge/internal/knowledge"
)

// ScraperTool fetches a page and optionally stores it as web knowledge.
type ScraperTool struct {
	Fetcher  knowledge.PageFetcher
	Ingester *knowledge.Ingester
}

func NewScraperTool(fetcher knowledge.PageFetcher, ingester *knowledge.Ingester) *ScraperTool {
	return &ScraperTool{Fetcher: fetcher, Ingester: ingester}
}

func (s *ScraperTool) Name() string {
	return "fetch_page"
}

func (s *ScraperTool) Description() string {
	return "Fetch a webpage URL and extract the main content as clean, sanitized text."
}

func (s *ScraperTool) Parameters() Schema {
	return Schema{
		Properties: map[string]Property{
			"url": {
				Type:        "string",
				Description: "The full URL of the webpage to fetch (e.g., https://example.com/article)",
			},
			"remember": {
				Type:        "boolean",
				Description: "Store the page in the knowledge base for later steps",
			},
		},
		Required: []string{"url"},
	}
}

func (s *ScraperTool) Execute(ctx context.Context, input map[string]any) (any, error) {
	url := String(input, "url")
	remember, _ := input["remember"].(bool)

	var (
		page knowledge.Page
		err  error
	)
	if remember && s.Ingester != nil {
		page, _, err = s.Ingester.IngestURL(ctx, s.Fetcher, url)
	} else {
		page, err = s.Fetcher.Fetch(ctx, url)
	}
	if err != nil {
		return nil, err
	}

	output := fmt.Sprintf("TITLE: %s\n", page.Title)
	if page.Excerpt != "" {
		output += fmt.Sprintf("EXCERPT: %s\n", page.Excerpt)
	}
	output += "\n-- CONTENT --\n" + page.Text
	return output, nil
}
