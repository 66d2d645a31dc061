package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/rahul/sceneforge/internal/llm"
	"github.com/rahul/sceneforge/internal/observability"
	"github.com/rahul/sceneforge/internal/plan"
	"github.com/rahul/sceneforge/internal/tokens"
	"github.com/rahul/sceneforge/internal/tools"
	"github.com/rahul/sceneforge/internal/workflow"
	"github.com/tmc/langchaingo/llms"
)

const (
	askClarificationTool = "ask_clarification"
	proposePlanTool      = "propose_plan"

	// stepReplyTokens is the reply allowance counted per step in estimates.
	stepReplyTokens = 512
)

// ErrNoPlan is returned when the planning call does not propose a plan.
var ErrNoPlan = errors.New("planner did not propose a plan")

// Analysis is the outcome of reviewing a request.
type Analysis struct {
	Questions []workflow.Question
	// Summary is the model's restatement when no questions were asked.
	Summary string
	Usage   llm.Usage
}

// PlanInput is everything the planning call sees.
type PlanInput struct {
	Request      string
	SceneSummary string
	Questions    []workflow.Question
	Answers      map[string]string
	History      []llms.MessageContent
}

// Planner reviews requests and turns them into plans.
type Planner struct {
	Model    llm.ChatModel
	Registry *tools.Registry
	Prompts  *PromptManager

	Temperature     float64
	MaxOutputTokens int
	// PricePer1K converts estimated tokens into EstimatedCost.
	PricePer1K float64

	Logger *observability.Logger
}

func NewPlanner(model llm.ChatModel, registry *tools.Registry, prompts *PromptManager) *Planner {
	return &Planner{
		Model:           model,
		Registry:        registry,
		Prompts:         prompts,
		MaxOutputTokens: DefaultMaxOutputTokens,
	}
}

var clarificationTool = llms.Tool{
	Type: "function",
	Function: &llms.FunctionDefinition{
		Name:        askClarificationTool,
		Description: "Ask the user questions that must be answered before the request can be planned.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"questions": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"id":      map[string]any{"type": "string"},
							"text":    map[string]any{"type": "string"},
							"options": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
						},
						"required": []string{"text"},
					},
				},
			},
			"required": []string{"questions"},
		},
	},
}

var planTool = llms.Tool{
	Type: "function",
	Function: &llms.FunctionDefinition{
		Name:        proposePlanTool,
		Description: "Submit a structured plan consisting of dependent steps.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"title":       map[string]any{"type": "string"},
				"description": map[string]any{"type": "string"},
				"constraints": map[string]any{
					"type":                 "object",
					"additionalProperties": map[string]any{"type": "string"},
				},
				"steps": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"index":       map[string]any{"type": "integer"},
							"label":       map[string]any{"type": "string"},
							"description": map[string]any{"type": "string"},
							"depends_on":  map[string]any{"type": "array", "items": map[string]any{"type": "integer"}},
							"tools":       map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
						},
						"required": []string{"index", "label", "description"},
					},
				},
			},
			"required": []string{"title", "steps"},
		},
	},
}

// Analyze decides whether the request needs clarification.
func (p *Planner) Analyze(ctx context.Context, request, sceneSummary string, history []llms.MessageContent) (Analysis, error) {
	prompt, err := p.Prompts.GetAnalyzerPrompt()
	if err != nil {
		return Analysis{}, err
	}

	messages := []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeSystem, prompt)}
	messages = append(messages, history...)
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, requestText(request, sceneSummary)))

	resp, err := p.call(ctx, messages, clarificationTool)
	if err != nil {
		return Analysis{}, fmt.Errorf("analysis: %w", err)
	}

	out := Analysis{Summary: resp.Text, Usage: resp.Usage}
	for _, tc := range resp.ToolCalls {
		if tc.Name != askClarificationTool {
			continue
		}
		var args struct {
			Questions []workflow.Question `json:"questions"`
		}
		if err := json.Unmarshal([]byte(rawArguments(tc)), &args); err != nil {
			return Analysis{}, fmt.Errorf("failed to parse %s arguments: %w", askClarificationTool, err)
		}
		for _, q := range args.Questions {
			if strings.TrimSpace(q.Text) == "" {
				continue
			}
			out.Questions = append(out.Questions, q)
		}
	}
	// ids must be unique for answers to be addressable
	seen := map[string]bool{}
	for i := range out.Questions {
		for n := i + 1; out.Questions[i].ID == "" || seen[out.Questions[i].ID]; n++ {
			out.Questions[i].ID = fmt.Sprintf("q%d", n)
		}
		seen[out.Questions[i].ID] = true
	}
	return out, nil
}

// Plan asks the model for a plan, validates it and fills its estimates.
func (p *Planner) Plan(ctx context.Context, in PlanInput) (*plan.Plan, error) {
	prompt, err := p.Prompts.GetPlannerPrompt()
	if err != nil {
		return nil, fmt.Errorf("failed to load planner prompt: %w", err)
	}
	if p.Registry != nil {
		prompt = fmt.Sprintf("%s\n\n## Available Tools:\n%s", prompt, p.Registry.Describe())
	}

	messages := []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeSystem, prompt)}
	messages = append(messages, in.History...)
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, planText(in)))

	resp, err := p.call(ctx, messages, planTool)
	if err != nil {
		return nil, fmt.Errorf("planning: %w", err)
	}

	for _, tc := range resp.ToolCalls {
		if tc.Name != proposePlanTool {
			continue
		}
		pl, err := parseProposal(rawArguments(tc))
		if err != nil {
			return nil, err
		}
		if err := plan.Validate(pl); err != nil {
			return nil, err
		}
		p.estimate(pl, prompt, in.SceneSummary)
		p.Logger.LogPlan(pl.ID, pl.Title, len(pl.Steps), pl.EstimatedTokens)
		return pl, nil
	}
	if resp.Text != "" {
		return nil, fmt.Errorf("%w: %s", ErrNoPlan, resp.Text)
	}
	return nil, ErrNoPlan
}

func (p *Planner) call(ctx context.Context, messages []llms.MessageContent, tool llms.Tool) (llm.Response, error) {
	resp, err := llm.Collect(p.Model.Stream(ctx, llm.ChatRequest{
		Messages:    messages,
		Tools:       []llms.Tool{tool},
		Temperature: p.Temperature,
		MaxTokens:   p.MaxOutputTokens,
	}))
	if err != nil {
		return resp, err
	}
	p.Logger.LogCost(resp.Usage.PromptTokens, resp.Usage.CompletionTokens, "")
	p.Logger.LogLLM(messages, resp.Text, resp.ToolCalls)
	return resp, nil
}

type proposal struct {
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Constraints map[string]string `json:"constraints"`
	Steps       []struct {
		Index       int      `json:"index"`
		Label       string   `json:"label"`
		Description string   `json:"description"`
		DependsOn   []int    `json:"depends_on"`
		Tools       []string `json:"tools"`
	} `json:"steps"`
}

func parseProposal(raw string) (*plan.Plan, error) {
	var prop proposal
	if err := json.Unmarshal([]byte(raw), &prop); err != nil {
		return nil, fmt.Errorf("failed to parse %s arguments: %w", proposePlanTool, err)
	}
	pl := &plan.Plan{
		ID:          uuid.NewString(),
		Title:       prop.Title,
		Description: prop.Description,
		Constraints: prop.Constraints,
	}
	for _, s := range prop.Steps {
		pl.Steps = append(pl.Steps, plan.Step{
			Index:       s.Index,
			Label:       s.Label,
			Description: s.Description,
			DependsOn:   s.DependsOn,
			Tools:       s.Tools,
			Status:      plan.StatusPending,
		})
	}
	return pl, nil
}

// estimate counts, per step, the worker prompt, the scene, the step text
// and a reply allowance.
func (p *Planner) estimate(pl *plan.Plan, prompt, scene string) {
	worker, err := p.Prompts.GetWorkerPrompt()
	if err != nil {
		worker = prompt
	}
	perStep := tokens.EstimateTokens(worker) + tokens.EstimateTokens(scene) + stepReplyTokens
	total := 0
	for _, s := range pl.Steps {
		total += perStep + tokens.EstimateTokens(s.Label) + tokens.EstimateTokens(s.Description)
	}
	pl.EstimatedTokens = total
	pl.EstimatedCost = float64(total) / 1000 * p.PricePer1K
}

func requestText(request, scene string) string {
	if scene == "" {
		return request
	}
	return fmt.Sprintf("%s\n\n## Current scene\n\n%s", request, scene)
}

func planText(in PlanInput) string {
	var b strings.Builder
	b.WriteString(requestText(in.Request, in.SceneSummary))
	if len(in.Answers) > 0 {
		b.WriteString("\n\n## Clarifications")
		asked := make(map[string]string, len(in.Questions))
		for _, q := range in.Questions {
			asked[q.ID] = q.Text
		}
		for _, id := range slices.Sorted(maps.Keys(in.Answers)) {
			question := asked[id]
			if question == "" {
				question = id
			}
			fmt.Fprintf(&b, "\n- %s %s", question, in.Answers[id])
		}
	}
	return b.String()
}

// rawArguments returns the arguments as sent, re-encoding the parsed input
// when the raw form was not kept.
func rawArguments(tc llm.ToolInvocation) string {
	if tc.Raw != "" || tc.Input == nil {
		return tc.Raw
	}
	b, err := json.Marshal(tc.Input)
	if err != nil {
		return ""
	}
	return string(b)
}
