package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/rahul/sceneforge/internal/knowledge"
	"github.com/rahul/sceneforge/internal/llm"
	"github.com/rahul/sceneforge/internal/observability"
	"github.com/rahul/sceneforge/internal/plan"
	"github.com/rahul/sceneforge/internal/stream"
	"github.com/rahul/sceneforge/internal/tools"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"
)

const (
	DefaultMaxToolRounds   = 8
	DefaultHistoryLimit    = 20
	DefaultMaxOutputTokens = 2048
)

// ErrToolRoundsExhausted is returned when the model keeps requesting tools
// past the configured number of rounds and the last round failed.
var ErrToolRoundsExhausted = errors.New("tool rounds exhausted")

// HistoryReader supplies recent conversation turns, oldest first.
type HistoryReader interface {
	GetHistory(chatID string, limit int) ([]llms.MessageContent, error)
}

// Task is one step attempt handed to the Worker.
type Task struct {
	ChatID       string
	Request      string
	SceneSummary string
	Plan         *plan.Plan
	Step         plan.Step
	Instructions string
	// Trace receives the routed response. A fresh one is used when nil.
	Trace *stream.Trace
}

// StepOutput is what a successful attempt produced.
type StepOutput struct {
	Text      string
	EntityIDs []string
	Usage     llm.Usage
	Rounds    int
}

// Worker runs one step as a ReAct loop: assemble context, stream the
// model through the Router, feed tool results back, repeat until the model
// stops calling tools.
type Worker struct {
	Model     llm.ChatModel
	Registry  *tools.Registry
	Router    *stream.Router
	Assembler *knowledge.Assembler
	History   HistoryReader
	Prompts   *PromptManager

	ModelName       string
	Temperature     float64
	MaxOutputTokens int
	MaxToolRounds   int
	HistoryLimit    int

	Logger *observability.Logger
}

func NewWorker(model llm.ChatModel, registry *tools.Registry, assembler *knowledge.Assembler, prompts *PromptManager) *Worker {
	return &Worker{
		Model:           model,
		Registry:        registry,
		Router:          stream.NewRouter(registry),
		Assembler:       assembler,
		Prompts:         prompts,
		MaxOutputTokens: DefaultMaxOutputTokens,
		MaxToolRounds:   DefaultMaxToolRounds,
		HistoryLimit:    DefaultHistoryLimit,
	}
}

// Run executes one attempt. A tool failure that the model does not recover
// from in a later round fails the attempt.
func (w *Worker) Run(ctx context.Context, task Task) (StepOutput, error) {
	var out StepOutput

	systemPrompt, err := w.Prompts.GetWorkerPrompt()
	if err != nil {
		w.Logger.Zap().Warn("failed to load worker prompt", zap.Error(err))
		systemPrompt = knowledge.DefaultSystemPrompt
	}

	var history []llms.MessageContent
	if w.History != nil {
		history, err = w.History.GetHistory(task.ChatID, w.HistoryLimit)
		if err != nil {
			return out, fmt.Errorf("load history: %w", err)
		}
	}

	query := stepQuery(task)
	var messages []llms.MessageContent
	if w.Assembler != nil {
		asm := w.Assembler.Assemble(ctx, knowledge.Request{
			Query:        query,
			SceneSummary: task.SceneSummary,
			History:      history,
			SystemPrompt: systemPrompt,
		})
		messages = asm.Messages
	} else {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt))
		messages = append(messages, history...)
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, query))
	}

	trace := task.Trace
	if trace == nil {
		trace = stream.NewTrace()
	}
	router := w.Router
	if router == nil {
		router = stream.NewRouter(w.Registry)
	}
	decls := w.Registry.Declarations()

	maxRounds := w.MaxToolRounds
	if maxRounds <= 0 {
		maxRounds = DefaultMaxToolRounds
	}

	var unresolved error
	for round := 1; round <= maxRounds; round++ {
		out.Rounds = round
		sum, err := router.Route(ctx, trace, w.Model.Stream(ctx, llm.ChatRequest{
			Messages:    messages,
			Tools:       decls,
			Temperature: w.Temperature,
			MaxTokens:   w.MaxOutputTokens,
		}))
		out.Usage.PromptTokens += sum.Usage.PromptTokens
		out.Usage.CompletionTokens += sum.Usage.CompletionTokens
		if err != nil {
			return out, fmt.Errorf("model call: %w", err)
		}
		w.Logger.LogCost(sum.Usage.PromptTokens, sum.Usage.CompletionTokens, w.ModelName)
		w.Logger.LogLLM(messages, sum.Text, sum.Tools)

		if len(sum.Tools) == 0 {
			out.Text = sum.Text
			if unresolved != nil {
				return out, unresolved
			}
			return out, nil
		}

		messages = append(messages, assistantMessage(sum))
		unresolved = nil
		for _, t := range sum.Tools {
			messages = append(messages, toolResponse(t))
			if t.Result.Success {
				out.EntityIDs = appendEntityIDs(out.EntityIDs, t.Result.Data)
			} else {
				unresolved = fmt.Errorf("tool %s failed: %s", t.Call.Name, t.Result.Error)
			}
		}
		out.Text = sum.Text
	}

	if unresolved != nil {
		return out, fmt.Errorf("%w after %d rounds: %w", ErrToolRoundsExhausted, maxRounds, unresolved)
	}
	return out, nil
}

func stepQuery(task Task) string {
	var b strings.Builder
	label := task.Step.Label
	if label == "" {
		label = fmt.Sprintf("step %d", task.Step.Index)
	}
	fmt.Fprintf(&b, "TASK: %s\n\n%s", label, task.Instructions)
	if len(task.Step.Tools) > 0 {
		fmt.Fprintf(&b, "\n\nSuggested tools: %s", strings.Join(task.Step.Tools, ", "))
	}
	if task.Plan != nil && len(task.Plan.Constraints) > 0 {
		b.WriteString("\n\nConstraints:")
		for _, k := range slices.Sorted(maps.Keys(task.Plan.Constraints)) {
			fmt.Fprintf(&b, "\n- %s: %s", k, task.Plan.Constraints[k])
		}
	}
	if task.Request != "" {
		title := ""
		if task.Plan != nil && task.Plan.Title != "" {
			title = fmt.Sprintf(" of the plan %q", task.Plan.Title)
		}
		fmt.Fprintf(&b, "\n\nCONTEXT: This is a sub-task%s for the overall request: %s", title, task.Request)
	}
	return b.String()
}

func assistantMessage(sum stream.Summary) llms.MessageContent {
	var parts []llms.ContentPart
	if sum.Text != "" {
		parts = append(parts, llms.TextContent{Text: sum.Text})
	}
	for _, t := range sum.Tools {
		args := rawArguments(t.Call)
		if args == "" {
			args = "{}"
		}
		parts = append(parts, llms.ToolCall{
			ID:   t.Call.ID,
			Type: "function",
			FunctionCall: &llms.FunctionCall{
				Name:      t.Call.Name,
				Arguments: args,
			},
		})
	}
	return llms.MessageContent{Role: llms.ChatMessageTypeAI, Parts: parts}
}

func toolResponse(t stream.ToolOutcome) llms.MessageContent {
	content := "Error: " + t.Result.Error
	if t.Result.Success {
		b, err := json.Marshal(t.Result.Data)
		if err != nil {
			content = fmt.Sprint(t.Result.Data)
		} else {
			content = string(b)
		}
	}
	return llms.MessageContent{
		Role: llms.ChatMessageTypeTool,
		Parts: []llms.ContentPart{
			llms.ToolCallResponse{
				ToolCallID: t.Call.ID,
				Name:       t.Call.Name,
				Content:    content,
			},
		},
	}
}

// appendEntityIDs collects "entity_id" and "entity_ids" from tool output.
func appendEntityIDs(ids []string, data any) []string {
	m, ok := data.(map[string]any)
	if !ok {
		return ids
	}
	add := func(id string) {
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	if id, ok := m["entity_id"].(string); ok && id != "" {
		add(id)
	}
	switch v := m["entity_ids"].(type) {
	case []string:
		for _, id := range v {
			add(id)
		}
	case []any:
		for _, id := range v {
			if s, ok := id.(string); ok {
				add(s)
			}
		}
	}
	return ids
}
