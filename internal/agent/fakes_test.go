package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"sync"

	"github.com/rahul/sceneforge/internal/llm"
	"github.com/rahul/sceneforge/internal/tools"
)

// scriptedModel answers the n-th Stream call with the n-th script.
type scriptedModel struct {
	mu       sync.Mutex
	scripts  [][]llm.Fragment
	errs     map[int]error
	requests []llm.ChatRequest
}

func script(calls ...[]llm.Fragment) *scriptedModel {
	return &scriptedModel{scripts: calls, errs: map[int]error{}}
}

func (m *scriptedModel) Stream(_ context.Context, req llm.ChatRequest) iter.Seq2[llm.Fragment, error] {
	m.mu.Lock()
	n := len(m.requests)
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	return func(yield func(llm.Fragment, error) bool) {
		if err, ok := m.errs[n]; ok {
			yield(llm.Fragment{}, err)
			return
		}
		if n >= len(m.scripts) {
			yield(llm.Fragment{}, fmt.Errorf("unexpected model call %d", n))
			return
		}
		for _, f := range m.scripts[n] {
			if !yield(f, nil) {
				return
			}
		}
	}
}

func (m *scriptedModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func text(s string) []llm.Fragment {
	return []llm.Fragment{{Text: s}, {FinishReason: "stop", Usage: &llm.Usage{PromptTokens: 10, CompletionTokens: 5}}}
}

func toolCall(id, name string, input map[string]any) []llm.Fragment {
	raw, _ := json.Marshal(input)
	return []llm.Fragment{{
		ToolCalls:    []llm.ToolInvocation{{ID: id, Name: name, Input: input, Raw: string(raw)}},
		FinishReason: "tool_calls",
	}}
}

func sceneRegistry() (*tools.Registry, *tools.Scene) {
	r := tools.NewRegistry()
	s := tools.NewScene()
	tools.RegisterSceneTools(r, s)
	return r, s
}
