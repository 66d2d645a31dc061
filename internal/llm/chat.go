// Package llm defines the chat and embedding capabilities the agent consumes
// and adapts langchaingo models to them.
package llm

import (
	"context"
	"errors"
	"iter"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
)

// ErrEmptyResponse is returned when a model answers without any choice.
var ErrEmptyResponse = errors.New("llm: empty response")

// ToolInvocation is a structured request from the model to run a named tool.
type ToolInvocation struct {
	ID    string
	Name  string
	Input map[string]any
	// Raw holds the arguments as sent by the model.
	Raw string
}

// Usage carries token counters reported by the provider.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Total returns prompt plus completion tokens.
func (u Usage) Total() int {
	return u.PromptTokens + u.CompletionTokens
}

// Fragment is one increment of a streamed response. Any field may be empty.
type Fragment struct {
	Text         string
	Reasoning    string
	ToolCalls    []ToolInvocation
	Usage        *Usage
	FinishReason string
}

// ChatRequest is a single model call.
type ChatRequest struct {
	Messages    []llms.MessageContent
	Tools       []llms.Tool
	Temperature float64
	MaxTokens   int
}

// ChatModel streams a response as a sequence of fragments. The sequence
// ends after the final fragment or after the first error.
type ChatModel interface {
	Stream(ctx context.Context, req ChatRequest) iter.Seq2[Fragment, error]
}

// Embedder is the embedding capability: one vector per input, as a batch.
type Embedder = embeddings.Embedder
