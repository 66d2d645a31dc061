package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rahul/sceneforge/internal/plan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func diamond() *plan.Plan {
	return &plan.Plan{ID: "p1", Steps: []plan.Step{
		{Index: 0, Label: "A", Description: "a", Status: plan.StatusPending},
		{Index: 1, Label: "B", Description: "b", DependsOn: []int{0}, Status: plan.StatusPending},
		{Index: 2, Label: "C", Description: "c", DependsOn: []int{0}, Status: plan.StatusPending},
		{Index: 3, Label: "D", Description: "d", DependsOn: []int{1, 2}, Status: plan.StatusPending},
	}}
}

type attemptLog struct {
	steps        []int
	instructions []string
}

func (l *attemptLog) runner(fail func(step plan.Step, instructions string) error) StepRunner {
	return StepRunnerFunc(func(_ context.Context, step plan.Step, instructions string) ([]string, error) {
		l.steps = append(l.steps, step.Index)
		l.instructions = append(l.instructions, instructions)
		if err := fail(step, instructions); err != nil {
			return nil, err
		}
		return []string{step.Label + "-entity"}, nil
	})
}

func TestScheduler_RunsInDependencyOrder(t *testing.T) {
	p := diamond()
	log := &attemptLog{}
	var started []int

	s := NewScheduler(log.runner(func(plan.Step, string) error { return nil }))
	s.OnStepStart = func(i int) error {
		assert.Equal(t, plan.StatusActive, p.StatusOf(i))
		started = append(started, i)
		return nil
	}

	results, err := s.Run(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1, 2, 3}, log.steps)
	assert.Equal(t, []int{0, 1, 2, 3}, started)
	require.Len(t, results, 4)
	for i, r := range results {
		assert.Equal(t, log.steps[i], r.Index)
		assert.Equal(t, plan.OutcomeSuccess, r.Outcome)
	}
	assert.Equal(t, []string{"D-entity"}, results[3].EntityIDs)
	for _, st := range p.Statuses() {
		assert.Equal(t, plan.StatusDone, st)
	}
}

func TestScheduler_RetrySucceedsAndReplacesResult(t *testing.T) {
	p := diamond()
	log := &attemptLog{}
	failed := false

	s := NewScheduler(log.runner(func(step plan.Step, _ string) error {
		if step.Index == 1 && !failed {
			failed = true
			return errors.New("gear radius must be positive")
		}
		return nil
	}))

	results, err := s.Run(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1, 1, 2, 3}, log.steps)
	assert.Equal(t, "b\n\nprevious attempt failed: gear radius must be positive", log.instructions[2])
	require.Len(t, results, 4, "the retry replaces the failed attempt")
	assert.Equal(t, plan.StepResult{Index: 1, Outcome: plan.OutcomeSuccess, EntityIDs: []string{"B-entity"}}, results[1])
}

func TestScheduler_FailureSkipsDependents(t *testing.T) {
	p := diamond()
	log := &attemptLog{}

	s := NewScheduler(log.runner(func(step plan.Step, _ string) error {
		if step.Index == 1 {
			return errors.New("no such material")
		}
		return nil
	}))

	results, err := s.Run(context.Background(), p)
	require.Error(t, err)

	var sfe *StepFailedError
	require.True(t, errors.As(err, &sfe))
	assert.Equal(t, 1, sfe.Index)
	assert.EqualError(t, sfe.Err, "no such material")

	assert.Equal(t, []int{0, 1, 1}, log.steps, "processing stops after the failed step")
	require.Len(t, results, 2)
	assert.Equal(t, plan.OutcomeFailure, results[1].Outcome)
	assert.Equal(t, "no such material", results[1].Error)

	assert.Equal(t, map[int]plan.Status{
		0: plan.StatusDone,
		1: plan.StatusFailed,
		2: plan.StatusPending,
		3: plan.StatusSkipped,
	}, p.Statuses())
}

func TestScheduler_SkipsThroughChains(t *testing.T) {
	p := &plan.Plan{Steps: []plan.Step{
		{Index: 0, Status: plan.StatusPending},
		{Index: 1, DependsOn: []int{0}, Status: plan.StatusPending},
		{Index: 2, DependsOn: []int{1}, Status: plan.StatusPending},
		{Index: 3, Status: plan.StatusPending},
	}}

	s := NewScheduler(StepRunnerFunc(func(_ context.Context, step plan.Step, _ string) ([]string, error) {
		if step.Index == 0 {
			return nil, errors.New("boom")
		}
		return nil, nil
	}))

	_, err := s.Run(context.Background(), p)
	require.Error(t, err)
	assert.Equal(t, plan.StatusFailed, p.StatusOf(0))
	assert.Equal(t, plan.StatusSkipped, p.StatusOf(1))
	assert.Equal(t, plan.StatusSkipped, p.StatusOf(2))
	assert.Equal(t, plan.StatusPending, p.StatusOf(3), "independent steps are left alone")
}

func TestScheduler_CancelledBetweenSteps(t *testing.T) {
	p := diamond()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewScheduler(StepRunnerFunc(func(_ context.Context, step plan.Step, _ string) ([]string, error) {
		if step.Index == 1 {
			cancel()
		}
		return nil, nil
	}))

	results, err := s.Run(ctx, p)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, results, 2, "the running step finishes")
	assert.Equal(t, plan.StatusDone, p.StatusOf(1))
	assert.Equal(t, plan.StatusPending, p.StatusOf(2))
	assert.Equal(t, plan.StatusPending, p.StatusOf(3))
}

func TestScheduler_CyclicStepsExcluded(t *testing.T) {
	p := &plan.Plan{Steps: []plan.Step{
		{Index: 0, Status: plan.StatusPending},
		{Index: 1, DependsOn: []int{2}, Status: plan.StatusPending},
		{Index: 2, DependsOn: []int{1}, Status: plan.StatusPending},
	}}
	log := &attemptLog{}

	results, err := NewScheduler(log.runner(func(plan.Step, string) error { return nil })).Run(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, log.steps)
	assert.Len(t, results, 1)
	assert.Equal(t, plan.StatusPending, p.StatusOf(1))
}

func TestScheduler_OnStepStartErrorAborts(t *testing.T) {
	p := diamond()
	s := NewScheduler(StepRunnerFunc(func(context.Context, plan.Step, string) ([]string, error) {
		t.Fatal("runner must not be called")
		return nil, nil
	}))
	s.OnStepStart = func(int) error { return errors.New("machine rejected step") }

	results, err := s.Run(context.Background(), p)
	require.Error(t, err)
	assert.Empty(t, results)
	assert.True(t, strings.Contains(err.Error(), "machine rejected"))
}
