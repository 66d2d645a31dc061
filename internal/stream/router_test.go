package stream

import (
	"context"
	"errors"
	"iter"
	"sync"
	"testing"

	"github.com/rahul/sceneforge/internal/llm"
	"github.com/rahul/sceneforge/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fragments(frags ...llm.Fragment) iter.Seq2[llm.Fragment, error] {
	return func(yield func(llm.Fragment, error) bool) {
		for _, f := range frags {
			if !yield(f, nil) {
				return
			}
		}
	}
}

type recordingDispatcher struct {
	mu    sync.Mutex
	calls []string
	fn    func(tools.Call) tools.Result
}

func (d *recordingDispatcher) Execute(_ context.Context, call tools.Call) tools.Result {
	d.mu.Lock()
	d.calls = append(d.calls, call.Name)
	d.mu.Unlock()
	if d.fn != nil {
		return d.fn(call)
	}
	return tools.Result{Success: true, Data: map[string]any{"entity_id": call.Name + "-1"}}
}

func kinds(entries []Entry) []Kind {
	out := make([]Kind, len(entries))
	for i, e := range entries {
		out[i] = e.Kind
	}
	return out
}

func TestRoute_ClassifiesAndAccumulates(t *testing.T) {
	d := &recordingDispatcher{}
	trace := NewTrace()

	sum, err := NewRouter(d).Route(context.Background(), trace, fragments(
		llm.Fragment{Reasoning: "Need a "},
		llm.Fragment{Reasoning: "gear."},
		llm.Fragment{Text: "Creating "},
		llm.Fragment{Text: "it now."},
		llm.Fragment{ToolCalls: []llm.ToolInvocation{{ID: "c1", Name: "create_entity", Input: map[string]any{"kind": "gear"}}}},
		llm.Fragment{Text: "Done."},
		llm.Fragment{Usage: &llm.Usage{PromptTokens: 10, CompletionTokens: 5}, FinishReason: "stop"},
	))
	require.NoError(t, err)

	entries := trace.Snapshot()
	assert.Equal(t, []Kind{KindThinking, KindMessage, KindToolCall, KindMessage}, kinds(entries))
	assert.Equal(t, "Need a gear.", entries[0].Text)
	assert.Equal(t, "Creating it now.", entries[1].Text)
	assert.Equal(t, "create_entity", entries[2].ToolName)
	assert.Equal(t, StatusSuccess, entries[2].Status)
	assert.Equal(t, map[string]any{"entity_id": "create_entity-1"}, entries[2].Output)
	assert.Equal(t, "Done.", entries[3].Text, "a message after a tool call opens a new entry")

	assert.Equal(t, "Creating it now.Done.", sum.Text)
	assert.Equal(t, "Need a gear.", sum.Reasoning)
	assert.Equal(t, 15, sum.Usage.Total())
	assert.Equal(t, "stop", sum.FinishReason)
	require.Len(t, sum.Tools, 1)
	assert.Equal(t, 2, sum.Tools[0].Entry)
	assert.Zero(t, sum.Failed())
}

func TestRoute_InterleavedKindsOpenNewEntries(t *testing.T) {
	trace := NewTrace()
	_, err := NewRouter(nil).Route(context.Background(), trace, fragments(
		llm.Fragment{Reasoning: "a"},
		llm.Fragment{Text: "b"},
		llm.Fragment{Reasoning: "c"},
		llm.Fragment{Reasoning: "d", Text: "e"},
	))
	require.NoError(t, err)

	entries := trace.Snapshot()
	assert.Equal(t, []Kind{KindThinking, KindMessage, KindThinking, KindMessage}, kinds(entries))
	assert.Equal(t, "cd", entries[2].Text)
	assert.Equal(t, "e", entries[3].Text)
}

func TestRoute_ToolsRunInOrderBeforeNextFragment(t *testing.T) {
	d := &recordingDispatcher{}
	var seenBeforeSecond []string

	seq := func(yield func(llm.Fragment, error) bool) {
		if !yield(llm.Fragment{ToolCalls: []llm.ToolInvocation{
			{Name: "first", Input: map[string]any{}},
			{Name: "second", Input: map[string]any{}},
		}}, nil) {
			return
		}
		d.mu.Lock()
		seenBeforeSecond = append([]string(nil), d.calls...)
		d.mu.Unlock()
		yield(llm.Fragment{ToolCalls: []llm.ToolInvocation{{Name: "third", Input: map[string]any{}}}}, nil)
	}

	trace := NewTrace()
	_, err := NewRouter(d).Route(context.Background(), trace, seq)
	require.NoError(t, err)

	assert.Equal(t, []string{"first", "second"}, seenBeforeSecond)
	assert.Equal(t, []string{"first", "second", "third"}, d.calls)

	var names []string
	for _, e := range trace.Snapshot() {
		names = append(names, e.ToolName)
	}
	assert.Equal(t, []string{"first", "second", "third"}, names)
}

func TestRoute_ToolFailures(t *testing.T) {
	d := &recordingDispatcher{fn: func(call tools.Call) tools.Result {
		switch call.Name {
		case "boom":
			panic("dispatcher crashed")
		case "bad":
			return tools.Result{Error: "unknown tool: bad"}
		}
		return tools.Result{Success: true, Data: "ok"}
	}}
	trace := NewTrace()

	sum, err := NewRouter(d).Route(context.Background(), trace, fragments(llm.Fragment{ToolCalls: []llm.ToolInvocation{
		{Name: "bad", Input: map[string]any{}},
		{Name: "boom", Input: map[string]any{}},
		{Name: "garbled", Raw: "{not json"},
		{Name: "fine", Input: map[string]any{}},
	}}))
	require.NoError(t, err)

	entries := trace.Snapshot()
	require.Len(t, entries, 4)
	assert.Equal(t, StatusError, entries[0].Status)
	assert.Equal(t, "unknown tool: bad", entries[0].Output)
	assert.Equal(t, StatusError, entries[1].Status)
	assert.Equal(t, "dispatcher crashed", entries[1].Output)
	assert.Equal(t, StatusError, entries[2].Status)
	assert.Contains(t, entries[2].Output, "malformed arguments")
	assert.Equal(t, StatusSuccess, entries[3].Status)

	assert.Equal(t, 3, sum.Failed())
	assert.NotContains(t, d.calls, "garbled")
}

func TestRoute_StreamErrorKeepsPrefix(t *testing.T) {
	boom := errors.New("connection reset")
	seq := func(yield func(llm.Fragment, error) bool) {
		if !yield(llm.Fragment{Text: "partial"}, nil) {
			return
		}
		yield(llm.Fragment{}, boom)
	}

	trace := NewTrace()
	sum, err := NewRouter(nil).Route(context.Background(), trace, seq)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "partial", sum.Text)
	assert.Equal(t, 1, trace.Len())
}

func TestRoute_NewResponseDoesNotResumeOldEntry(t *testing.T) {
	trace := NewTrace()
	r := NewRouter(nil)

	_, err := r.Route(context.Background(), trace, fragments(llm.Fragment{Text: "one"}))
	require.NoError(t, err)
	_, err = r.Route(context.Background(), trace, fragments(llm.Fragment{Text: "two"}))
	require.NoError(t, err)

	entries := trace.Snapshot()
	require.Len(t, entries, 2)
	assert.Equal(t, "one", entries[0].Text)
	assert.Equal(t, "two", entries[1].Text)
	assert.Equal(t, "onetwo", trace.Text())
}

func TestTrace_ConcurrentSnapshots(t *testing.T) {
	trace := NewTrace()
	var wg sync.WaitGroup
	done := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				snap := trace.Snapshot()
				for _, e := range snap {
					assert.NotEmpty(t, e.Kind)
				}
			}
		}
	}()

	var frags []llm.Fragment
	for i := 0; i < 200; i++ {
		frags = append(frags, llm.Fragment{Text: "x"}, llm.Fragment{Reasoning: "y"})
	}
	_, err := NewRouter(nil).Route(context.Background(), trace, fragments(frags...))
	close(done)
	wg.Wait()

	require.NoError(t, err)
	assert.Equal(t, 400, trace.Len())
}
