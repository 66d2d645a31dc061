package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"iter"
	"strings"

	"github.com/tmc/langchaingo/llms"
)

// LangChainModel adapts a langchaingo llms.Model to ChatModel. Text and
// reasoning are forwarded as they stream; tool calls, usage and the stop
// reason arrive in the final fragment. Tool-call deltas that a backend
// pushes through the text callback are never surfaced as text.
type LangChainModel struct {
	model llms.Model
}

var _ ChatModel = (*LangChainModel)(nil)

func NewLangChainModel(model llms.Model) *LangChainModel {
	return &LangChainModel{model: model}
}

type generation struct {
	resp *llms.ContentResponse
	err  error
}

func (m *LangChainModel) Stream(ctx context.Context, req ChatRequest) iter.Seq2[Fragment, error] {
	return func(yield func(Fragment, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		chunks := make(chan Fragment)
		done := make(chan generation, 1)
		var (
			streamedText      strings.Builder
			streamedReasoning bool
		)

		send := func(f Fragment) error {
			select {
			case chunks <- f:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		opts := []llms.CallOption{
			llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
				if len(chunk) == 0 || isCallDelta(chunk) {
					return nil
				}
				streamedText.Write(chunk)
				return send(Fragment{Text: string(chunk)})
			}),
			llms.WithStreamingReasoningFunc(func(_ context.Context, reasoning, _ []byte) error {
				if len(reasoning) == 0 {
					return nil
				}
				streamedReasoning = true
				return send(Fragment{Reasoning: string(reasoning)})
			}),
		}
		if len(req.Tools) > 0 {
			opts = append(opts, llms.WithTools(req.Tools))
		}
		if req.Temperature > 0 {
			opts = append(opts, llms.WithTemperature(req.Temperature))
		}
		if req.MaxTokens > 0 {
			opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
		}

		go func() {
			resp, err := m.model.GenerateContent(ctx, req.Messages, opts...)
			done <- generation{resp: resp, err: err}
		}()

		for {
			select {
			case f := <-chunks:
				if !yield(f, nil) {
					cancel()
					<-done
					return
				}
			case g := <-done:
				if g.err != nil {
					yield(Fragment{}, g.err)
					return
				}
				final, err := finalFragment(g.resp, streamedText.String(), streamedReasoning)
				if err != nil {
					yield(Fragment{}, err)
					return
				}
				yield(final, nil)
				return
			}
		}
	}
}

// isCallDelta reports whether a streamed chunk is the JSON of a tool-call
// or function-call delta rather than content. The openai client hands
// both to the same streaming callback.
func isCallDelta(chunk []byte) bool {
	trimmed := bytes.TrimSpace(chunk)
	if len(trimmed) < 2 {
		return false
	}
	switch trimmed[0] {
	case '[':
		var calls []map[string]json.RawMessage
		if json.Unmarshal(trimmed, &calls) != nil || len(calls) == 0 {
			return false
		}
		for _, c := range calls {
			if _, ok := c["function"]; !ok {
				return false
			}
		}
		return true
	case '{':
		var call map[string]json.RawMessage
		if json.Unmarshal(trimmed, &call) != nil {
			return false
		}
		_, hasName := call["name"]
		_, hasArgs := call["arguments"]
		return hasName && hasArgs && len(call) == 2
	}
	return false
}

// finalFragment turns the response into the closing fragment. Content the
// callbacks already delivered is not repeated; content they never saw
// (a non-streaming backend, or text sharing a chunk with a tool-call
// delta) is.
func finalFragment(resp *llms.ContentResponse, streamedText string, streamedReasoning bool) (Fragment, error) {
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return Fragment{}, ErrEmptyResponse
	}
	choice := resp.Choices[0]

	f := Fragment{FinishReason: choice.StopReason}
	switch {
	case streamedText == "":
		f.Text = choice.Content
	case strings.HasPrefix(choice.Content, streamedText):
		f.Text = choice.Content[len(streamedText):]
	}
	if !streamedReasoning {
		f.Reasoning = choice.ReasoningContent
	}
	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall == nil {
			continue
		}
		f.ToolCalls = append(f.ToolCalls, ToolInvocation{
			ID:    tc.ID,
			Name:  tc.FunctionCall.Name,
			Input: ParseArguments(tc.FunctionCall.Arguments),
			Raw:   tc.FunctionCall.Arguments,
		})
	}
	if usage, ok := usageFrom(choice.GenerationInfo); ok {
		f.Usage = &usage
	}
	return f, nil
}

// ParseArguments decodes a tool-call argument string. Empty input yields an
// empty object; anything that is not a JSON object yields nil.
func ParseArguments(raw string) map[string]any {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func usageFrom(info map[string]any) (Usage, bool) {
	prompt, okP := intValue(info["PromptTokens"])
	completion, okC := intValue(info["CompletionTokens"])
	if !okP && !okC {
		return Usage{}, false
	}
	return Usage{PromptTokens: prompt, CompletionTokens: completion}, true
}

func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// Response is a fully drained stream.
type Response struct {
	Text         string
	Reasoning    string
	ToolCalls    []ToolInvocation
	Usage        Usage
	FinishReason string
}

// Collect drains a stream into a single Response.
func Collect(seq iter.Seq2[Fragment, error]) (Response, error) {
	var (
		resp      Response
		text      strings.Builder
		reasoning strings.Builder
	)
	for f, err := range seq {
		if err != nil {
			return resp, err
		}
		text.WriteString(f.Text)
		reasoning.WriteString(f.Reasoning)
		resp.ToolCalls = append(resp.ToolCalls, f.ToolCalls...)
		if f.Usage != nil {
			resp.Usage.PromptTokens += f.Usage.PromptTokens
			resp.Usage.CompletionTokens += f.Usage.CompletionTokens
		}
		if f.FinishReason != "" {
			resp.FinishReason = f.FinishReason
		}
	}
	resp.Text = text.String()
	resp.Reasoning = reasoning.String()
	return resp, nil
}
