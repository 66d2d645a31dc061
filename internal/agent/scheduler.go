package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/rahul/sceneforge/internal/observability"
	"github.com/rahul/sceneforge/internal/plan"
	"go.uber.org/zap"
)

// retryNote is appended to a step's instructions when it is retried.
const retryNote = "\n\nprevious attempt failed: "

// StepRunner performs one attempt at a step. instructions is the step
// description, extended with the previous error on a retry.
type StepRunner interface {
	RunStep(ctx context.Context, step plan.Step, instructions string) (entityIDs []string, err error)
}

// StepRunnerFunc adapts a function to StepRunner.
type StepRunnerFunc func(ctx context.Context, step plan.Step, instructions string) ([]string, error)

func (f StepRunnerFunc) RunStep(ctx context.Context, step plan.Step, instructions string) ([]string, error) {
	return f(ctx, step, instructions)
}

// StepFailedError is returned when a step failed on both attempts.
type StepFailedError struct {
	Index int
	Err   error
}

func (e *StepFailedError) Error() string {
	return fmt.Sprintf("step %d failed after retry: %v", e.Index, e.Err)
}

func (e *StepFailedError) Unwrap() error {
	return e.Err
}

// Scheduler executes a plan's steps one at a time in dependency order.
type Scheduler struct {
	Runner StepRunner
	// OnStepStart is called after a step is marked active and before its
	// first attempt. An error aborts the run.
	OnStepStart func(index int) error

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

func NewScheduler(runner StepRunner) *Scheduler {
	return &Scheduler{Runner: runner}
}

// Run executes p and returns one result per attempted step in execution
// order. Cancellation is checked before each step only; the step that is
// already running finishes. When a step fails twice, its pending
// dependents are marked skipped and Run returns a *StepFailedError.
func (s *Scheduler) Run(ctx context.Context, p *plan.Plan) ([]plan.StepResult, error) {
	order, excluded := plan.Order(p)
	if len(excluded) > 0 {
		s.Logger.Zap().Warn("steps excluded from execution order",
			zap.Ints("steps", excluded), zap.String("plan_id", p.ID))
	}

	var results []plan.StepResult
	for _, index := range order {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		step, _ := p.Step(index)
		p.SetStatus(index, plan.StatusActive)
		s.Logger.LogStep(index, string(plan.StatusActive), 1, "")
		if s.OnStepStart != nil {
			if err := s.OnStepStart(index); err != nil {
				return results, err
			}
		}

		res, err := s.attempt(ctx, step)
		results = append(results, res)

		if res.Outcome == plan.OutcomeSuccess {
			p.SetStatus(index, plan.StatusDone)
			continue
		}

		p.SetStatus(index, plan.StatusFailed)
		for _, dep := range plan.Dependents(p, index) {
			if p.StatusOf(dep) == plan.StatusPending {
				p.SetStatus(dep, plan.StatusSkipped)
				s.Logger.LogStep(dep, string(plan.StatusSkipped), 0, "")
			}
		}
		return results, &StepFailedError{Index: index, Err: err}
	}
	return results, nil
}

// attempt runs a step, retrying once with the first error appended. The
// returned result describes the last attempt; err is its error.
func (s *Scheduler) attempt(ctx context.Context, step plan.Step) (plan.StepResult, error) {
	instructions := step.Description
	var lastErr error
	for try := 1; try <= 2; try++ {
		start := time.Now()
		ids, err := s.Runner.RunStep(ctx, step, instructions)
		if err == nil {
			s.Metrics.RecordStepResult(string(plan.OutcomeSuccess), time.Since(start))
			s.Logger.LogStep(step.Index, string(plan.StatusDone), try, "")
			return plan.StepResult{Index: step.Index, Outcome: plan.OutcomeSuccess, EntityIDs: ids}, nil
		}
		s.Metrics.RecordStepResult(string(plan.OutcomeFailure), time.Since(start))
		s.Logger.LogStep(step.Index, string(plan.StatusFailed), try, err.Error())

		lastErr = err
		instructions = step.Description + retryNote + err.Error()
	}
	return plan.StepResult{Index: step.Index, Outcome: plan.OutcomeFailure, Error: lastErr.Error()}, lastErr
}
