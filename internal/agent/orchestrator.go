package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rahul/sceneforge/internal/observability"
	"github.com/rahul/sceneforge/internal/plan"
	"github.com/rahul/sceneforge/internal/store"
	"github.com/rahul/sceneforge/internal/stream"
	"github.com/rahul/sceneforge/internal/workflow"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"
)

// Run outcomes recorded in the history store.
const (
	RunCompleted = "completed"
	RunFailed    = "error"
	RunRejected  = "rejected"
)

// ErrQuestionsPending is returned by Continue while clarification
// questions remain unanswered.
var ErrQuestionsPending = errors.New("agent: clarification questions unanswered")

// Conversation persists chat turns and run records. *store.HistoryStore
// satisfies it.
type Conversation interface {
	HistoryReader
	AddMessage(chatID string, role string, content string) error
	RecordRun(ctx context.Context, run store.Run) error
}

// SceneSupplier describes the current scene. *tools.Scene satisfies it.
type SceneSupplier interface {
	Summary() string
}

// Orchestrator drives one request at a time through the workflow:
// analysis, optional clarification, planning, approval and execution.
// Its methods are safe to call from several goroutines but run one at a
// time; State and Trace never block on a running operation.
type Orchestrator struct {
	Machine *workflow.Machine
	Planner *Planner
	Worker  *Worker
	History Conversation
	Scene   SceneSupplier

	HistoryLimit int

	Logger  *observability.Logger
	Metrics *observability.Metrics

	mu        sync.Mutex
	chatID    string
	request   string
	runID     string
	questions []workflow.Question
	stepTexts map[int]string
	trace     atomic.Pointer[stream.Trace]
}

func NewOrchestrator(planner *Planner, worker *Worker, history Conversation, scene SceneSupplier) *Orchestrator {
	o := &Orchestrator{
		Machine:      workflow.NewMachine(),
		Planner:      planner,
		Worker:       worker,
		History:      history,
		Scene:        scene,
		HistoryLimit: DefaultHistoryLimit,
	}
	o.trace.Store(stream.NewTrace())
	o.Machine.Subscribe(publishStatus)
	return o
}

// State returns the live workflow state.
func (o *Orchestrator) State() workflow.State {
	return o.Machine.State()
}

// Trace returns the trace of the current run.
func (o *Orchestrator) Trace() *stream.Trace {
	return o.trace.Load()
}

// Submit starts a new request. It returns in clarifying when the analysis
// asked questions, otherwise in awaiting_approval with a plan.
func (o *Orchestrator) Submit(ctx context.Context, chatID, request string) (workflow.State, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.Machine.StartAnalysis(request); err != nil {
		return o.State(), err
	}
	o.chatID = chatID
	o.request = request
	o.runID = uuid.NewString()
	o.questions = nil
	o.stepTexts = map[int]string{}
	o.trace.Store(stream.NewTrace())
	o.log().Zap().Info("request submitted", zap.String("request", request))

	analysis, err := o.Planner.Analyze(ctx, request, o.sceneSummary(), o.history())
	if err != nil {
		return o.fail(err)
	}
	if len(analysis.Questions) > 0 {
		o.questions = analysis.Questions
		if err := o.Machine.RequestClarification(analysis.Questions); err != nil {
			return o.State(), err
		}
		return o.State(), nil
	}
	return o.plan(ctx)
}

// Answer records the answer to one clarification question.
func (o *Orchestrator) Answer(questionID, answer string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.Machine.AnswerQuestion(questionID, answer)
}

// Continue moves on to planning once every question is answered. The
// workflow stays in clarifying while any remain.
func (o *Orchestrator) Continue(ctx context.Context) (workflow.State, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if c, ok := o.State().(workflow.Clarifying); ok {
		if pending := c.Pending(); len(pending) > 0 {
			ids := make([]string, len(pending))
			for i, q := range pending {
				ids[i] = q.ID
			}
			return c, fmt.Errorf("%w: %s", ErrQuestionsPending, strings.Join(ids, ", "))
		}
	}
	return o.plan(ctx)
}

func (o *Orchestrator) plan(ctx context.Context) (workflow.State, error) {
	if err := o.Machine.StartPlanning(); err != nil {
		return o.State(), err
	}
	planning := o.State().(workflow.Planning)

	p, err := o.Planner.Plan(ctx, PlanInput{
		Request:      planning.Request,
		SceneSummary: o.sceneSummary(),
		Questions:    o.questions,
		Answers:      planning.Answers,
		History:      o.history(),
	})
	if err != nil {
		return o.fail(err)
	}
	if err := o.Machine.AwaitApproval(p); err != nil {
		return o.State(), err
	}
	return o.State(), nil
}

// Approve executes the plan awaiting approval. A failed step leaves the
// workflow in a recoverable error.
func (o *Orchestrator) Approve(ctx context.Context) (workflow.State, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.Machine.StartExecution(); err != nil {
		return o.State(), err
	}
	p := o.State().(workflow.Executing).Plan

	sched := NewScheduler(StepRunnerFunc(func(ctx context.Context, step plan.Step, instructions string) ([]string, error) {
		out, err := o.Worker.Run(ctx, Task{
			ChatID:       o.chatID,
			Request:      o.request,
			SceneSummary: o.sceneSummary(),
			Plan:         p,
			Step:         step,
			Instructions: instructions,
			Trace:        o.Trace(),
		})
		if err != nil {
			return nil, err
		}
		o.stepTexts[step.Index] = out.Text
		return out.EntityIDs, nil
	}))
	sched.OnStepStart = o.Machine.AdvanceStep
	sched.Logger = o.log()
	sched.Metrics = o.Metrics

	results, err := sched.Run(ctx, p)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("execution cancelled: %w", err)
		}
		o.recordRun(context.WithoutCancel(ctx), p, RunFailed, results, "", err)
		return o.fail(err)
	}

	summary := o.summarize(p, results)
	if err := o.Machine.Complete(results, summary); err != nil {
		return o.State(), err
	}
	if o.History != nil {
		if err := o.History.AddMessage(o.chatID, store.RoleHuman, o.request); err != nil {
			o.log().Zap().Warn("failed to save message", zap.Error(err))
		}
		if err := o.History.AddMessage(o.chatID, store.RoleAI, summary); err != nil {
			o.log().Zap().Warn("failed to save message", zap.Error(err))
		}
	}
	o.recordRun(ctx, p, RunCompleted, results, summary, nil)
	return o.State(), nil
}

// Reject discards the plan awaiting approval and returns to idle.
func (o *Orchestrator) Reject(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	awaiting, ok := o.State().(workflow.AwaitingApproval)
	if !ok {
		return &workflow.InvalidTransitionError{
			Op:       "reject",
			Expected: []workflow.Phase{workflow.PhaseAwaitingApproval},
			Actual:   o.Machine.Phase(),
		}
	}
	o.recordRun(ctx, awaiting.Plan, RunRejected, nil, "", nil)
	return o.Machine.Reset()
}

// Reset abandons whatever is in progress.
func (o *Orchestrator) Reset() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.Machine.Reset()
}

func (o *Orchestrator) fail(err error) (workflow.State, error) {
	o.log().Zap().Error("workflow failed", zap.Error(err))
	if serr := o.Machine.SetError(err.Error(), true); serr != nil {
		return o.State(), serr
	}
	return o.State(), err
}

func (o *Orchestrator) log() *observability.Logger {
	return o.Logger.With(o.chatID, o.runID)
}

func (o *Orchestrator) sceneSummary() string {
	if o.Scene == nil {
		return ""
	}
	return o.Scene.Summary()
}

func (o *Orchestrator) history() []llms.MessageContent {
	if o.History == nil {
		return nil
	}
	h, err := o.History.GetHistory(o.chatID, o.HistoryLimit)
	if err != nil {
		o.log().Zap().Warn("failed to load history", zap.Error(err))
		return nil
	}
	return h
}

func (o *Orchestrator) recordRun(ctx context.Context, p *plan.Plan, outcome string, results []plan.StepResult, summary string, runErr error) {
	if o.History == nil {
		return
	}
	run := store.Run{
		ID:      o.runID,
		ChatID:  o.chatID,
		Request: o.request,
		Outcome: outcome,
		Results: results,
		Summary: summary,
	}
	if p != nil {
		run.PlanID = p.ID
		run.PlanTitle = p.Title
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	if err := o.History.RecordRun(ctx, run); err != nil {
		o.log().Zap().Warn("failed to record run", zap.Error(err))
	}
}

func (o *Orchestrator) summarize(p *plan.Plan, results []plan.StepResult) string {
	var b strings.Builder
	title := p.Title
	if title == "" {
		title = "plan"
	}
	fmt.Fprintf(&b, "Completed %q: %d of %d steps.", title, len(results), len(p.Steps))
	for _, r := range results {
		step, _ := p.Step(r.Index)
		fmt.Fprintf(&b, "\n- %s", step.Label)
		if text := strings.TrimSpace(o.stepTexts[r.Index]); text != "" {
			fmt.Fprintf(&b, ": %s", text)
		}
		if len(r.EntityIDs) > 0 {
			fmt.Fprintf(&b, " (entities: %s)", strings.Join(r.EntityIDs, ", "))
		}
	}
	return b.String()
}

// publishStatus mirrors the workflow into the status line.
func publishStatus(s workflow.State) {
	switch st := s.(type) {
	case workflow.Analyzing:
		observability.SetStatus(string(st.Phase()), -1, st.Request)
	case workflow.Planning:
		observability.SetStatus(string(st.Phase()), -1, st.Request)
	case workflow.AwaitingApproval:
		observability.SetStatus(string(st.Phase()), -1, st.Plan.Title)
	case workflow.Executing:
		task := st.Plan.Title
		if step, ok := st.Plan.Step(st.CurrentStep); ok {
			task = step.Label
		}
		observability.SetStatus(string(st.Phase()), st.CurrentStep, task)
	case workflow.Error:
		observability.SetStatus(string(st.Phase()), -1, st.Message)
	default:
		observability.SetStatus(string(s.Phase()), -1, "")
	}
}
