package agent

import (
	"context"
	"testing"

	"github.com/rahul/sceneforge/internal/knowledge"
	"github.com/rahul/sceneforge/internal/plan"
	"github.com/rahul/sceneforge/internal/tokens"
	"github.com/rahul/sceneforge/internal/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

func gearboxProposal() map[string]any {
	return map[string]any{
		"title":       "Two stage gearbox",
		"description": "Housing with two gear pairs",
		"constraints": map[string]any{"ratio": "9:1"},
		"steps": []any{
			map[string]any{"index": 0, "label": "Housing", "description": "Create the housing"},
			map[string]any{"index": 1, "label": "Stage one", "description": "Add the first pair", "depends_on": []any{0}, "tools": []any{"create_entity"}},
			map[string]any{"index": 2, "label": "Stage two", "description": "Add the second pair", "depends_on": []any{1}},
		},
	}
}

func lastHuman(t *testing.T, req []llms.MessageContent) string {
	t.Helper()
	msg := req[len(req)-1]
	require.Equal(t, llms.ChatMessageTypeHuman, msg.Role)
	return msg.Parts[0].(llms.TextContent).Text
}

func TestPlanner_AnalyzeAsksQuestions(t *testing.T) {
	model := script(toolCall("a1", askClarificationTool, map[string]any{
		"questions": []any{
			map[string]any{"text": "How many stages?", "options": []any{"1", "2"}},
			map[string]any{"id": "q1", "text": "Which material?"},
			map[string]any{"id": "blank", "text": "  "},
		},
	}))
	p := NewPlanner(model, nil, nil)

	a, err := p.Analyze(context.Background(), "build a gearbox", "The scene is empty.", nil)
	require.NoError(t, err)
	assert.Equal(t, []workflow.Question{
		{ID: "q1", Text: "How many stages?", Options: []string{"1", "2"}},
		{ID: "q2", Text: "Which material?"},
	}, a.Questions)

	req := model.requests[0]
	require.Len(t, req.Tools, 1)
	assert.Equal(t, askClarificationTool, req.Tools[0].Function.Name)
	assert.Contains(t, lastHuman(t, req.Messages), "## Current scene\n\nThe scene is empty.")
}

func TestPlanner_AnalyzeClearRequest(t *testing.T) {
	p := NewPlanner(script(text("Add one steel shaft.")), nil, nil)

	a, err := p.Analyze(context.Background(), "add a steel shaft", "", nil)
	require.NoError(t, err)
	assert.Empty(t, a.Questions)
	assert.Equal(t, "Add one steel shaft.", a.Summary)
}

func TestPlanner_PlanBuildsValidatedPlan(t *testing.T) {
	registry, _ := sceneRegistry()
	model := script(toolCall("p1", proposePlanTool, gearboxProposal()))
	p := NewPlanner(model, registry, nil)
	p.PricePer1K = 0.5

	pl, err := p.Plan(context.Background(), PlanInput{
		Request:      "build a gearbox",
		SceneSummary: "The scene is empty.",
		Questions:    []workflow.Question{{ID: "q1", Text: "How many stages?"}},
		Answers:      map[string]string{"q1": "two"},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, pl.ID)
	assert.Equal(t, "Two stage gearbox", pl.Title)
	assert.Equal(t, map[string]string{"ratio": "9:1"}, pl.Constraints)
	require.Len(t, pl.Steps, 3)
	assert.Equal(t, []int{0}, pl.Steps[1].DependsOn)
	assert.Equal(t, []string{"create_entity"}, pl.Steps[1].Tools)
	for _, s := range pl.Steps {
		assert.Equal(t, plan.StatusPending, s.Status)
	}

	perStep := tokens.EstimateTokens(knowledge.DefaultSystemPrompt) + tokens.EstimateTokens("The scene is empty.") + stepReplyTokens
	want := 0
	for _, s := range pl.Steps {
		want += perStep + tokens.EstimateTokens(s.Label) + tokens.EstimateTokens(s.Description)
	}
	assert.Equal(t, want, pl.EstimatedTokens)
	assert.InDelta(t, float64(want)/1000*0.5, pl.EstimatedCost, 1e-9)

	req := model.requests[0]
	assert.Contains(t, req.Messages[0].Parts[0].(llms.TextContent).Text, "- create_entity: ")
	assert.Contains(t, lastHuman(t, req.Messages), "## Clarifications\n- How many stages? two")
}

func TestPlanner_RejectsCyclicPlan(t *testing.T) {
	proposal := gearboxProposal()
	proposal["steps"] = []any{
		map[string]any{"index": 0, "label": "A", "description": "a", "depends_on": []any{1}},
		map[string]any{"index": 1, "label": "B", "description": "b", "depends_on": []any{0}},
	}
	p := NewPlanner(script(toolCall("p1", proposePlanTool, proposal)), nil, nil)

	_, err := p.Plan(context.Background(), PlanInput{Request: "x"})
	require.ErrorIs(t, err, plan.ErrInvalidPlan)
}

func TestPlanner_NoPlanProposed(t *testing.T) {
	p := NewPlanner(script(text("I need more details.")), nil, nil)

	_, err := p.Plan(context.Background(), PlanInput{Request: "x"})
	require.ErrorIs(t, err, ErrNoPlan)
	assert.Contains(t, err.Error(), "I need more details.")
}
