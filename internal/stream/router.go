package stream

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/rahul/sceneforge/internal/llm"
	"github.com/rahul/sceneforge/internal/observability"
	"github.com/rahul/sceneforge/internal/tools"
)

// Dispatcher executes tool calls. *tools.Registry satisfies it.
type Dispatcher interface {
	Execute(ctx context.Context, call tools.Call) tools.Result
}

// ToolOutcome pairs an invocation with what it produced.
type ToolOutcome struct {
	Call   llm.ToolInvocation
	Result tools.Result
	// Entry is the index of the tool_call entry in the trace.
	Entry int
}

// Summary describes one routed response.
type Summary struct {
	Text         string
	Reasoning    string
	Tools        []ToolOutcome
	Usage        llm.Usage
	FinishReason string
}

// Failed counts the tool calls that ended in error.
func (s Summary) Failed() int {
	n := 0
	for _, t := range s.Tools {
		if !t.Result.Success {
			n++
		}
	}
	return n
}

// Router classifies fragments into a Trace and runs tool invocations in
// arrival order, one at a time, before reading the next fragment.
type Router struct {
	Dispatcher Dispatcher
	Logger     *observability.Logger
	Metrics    *observability.Metrics
}

func NewRouter(d Dispatcher) *Router {
	return &Router{Dispatcher: d}
}

// Route drains seq into trace. The first stream error stops routing and
// is returned together with everything routed up to that point.
func (r *Router) Route(ctx context.Context, trace *Trace, seq iter.Seq2[llm.Fragment, error]) (Summary, error) {
	var (
		sum       Summary
		text      strings.Builder
		reasoning strings.Builder
	)
	finish := func() {
		sum.Text = text.String()
		sum.Reasoning = reasoning.String()
	}

	// text runs never continue across responses
	trace.closeAccumulator()

	for f, err := range seq {
		if err != nil {
			finish()
			return sum, err
		}

		if f.Reasoning != "" {
			trace.appendText(KindThinking, f.Reasoning)
			reasoning.WriteString(f.Reasoning)
		}
		if f.Text != "" {
			trace.appendText(KindMessage, f.Text)
			text.WriteString(f.Text)
		}
		for _, call := range f.ToolCalls {
			sum.Tools = append(sum.Tools, r.invoke(ctx, trace, call))
		}
		if f.Usage != nil {
			sum.Usage.PromptTokens += f.Usage.PromptTokens
			sum.Usage.CompletionTokens += f.Usage.CompletionTokens
			r.Metrics.RecordModelTokens(f.Usage.PromptTokens, f.Usage.CompletionTokens)
		}
		if f.FinishReason != "" {
			sum.FinishReason = f.FinishReason
		}
	}

	finish()
	if sum.Reasoning != "" {
		r.Logger.LogReasoning(sum.Reasoning)
	}
	return sum, nil
}

func (r *Router) invoke(ctx context.Context, trace *Trace, call llm.ToolInvocation) ToolOutcome {
	idx := trace.openToolCall(call.ID, call.Name, call.Input)
	r.Logger.LogToolCall(call.Name, call.Input)

	var res tools.Result
	if call.Input == nil {
		res = tools.Result{Error: fmt.Sprintf("malformed arguments for %s: %s", call.Name, call.Raw)}
	} else {
		res = r.dispatch(ctx, call)
	}

	status, output := StatusSuccess, res.Data
	if !res.Success {
		status, output = StatusError, res.Error
	}
	trace.settle(idx, status, output)

	r.Logger.LogToolResult(call.Name, string(status), output)
	r.Metrics.RecordToolCall(call.Name, string(status))
	return ToolOutcome{Call: call, Result: res, Entry: idx}
}

func (r *Router) dispatch(ctx context.Context, call llm.ToolInvocation) (res tools.Result) {
	defer func() {
		if p := recover(); p != nil {
			res = tools.Result{Error: fmt.Sprint(p)}
		}
	}()
	if r.Dispatcher == nil {
		return tools.Result{Error: "no tool dispatcher configured"}
	}
	return r.Dispatcher.Execute(ctx, tools.Call{ID: call.ID, Name: call.Name, Input: call.Input})
}
