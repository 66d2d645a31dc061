package workflow

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/rahul/sceneforge/internal/observability"
	"github.com/rahul/sceneforge/internal/plan"
)

var (
	// ErrInvalidTransition matches every *InvalidTransitionError.
	ErrInvalidTransition = errors.New("invalid transition")
	ErrUnknownQuestion   = errors.New("unknown question")
)

// InvalidTransitionError reports an operation attempted in the wrong phase.
type InvalidTransitionError struct {
	Op       string
	Expected []Phase
	Actual   Phase
}

func (e *InvalidTransitionError) Error() string {
	expected := make([]string, len(e.Expected))
	for i, p := range e.Expected {
		expected[i] = string(p)
	}
	return fmt.Sprintf("%s: invalid transition: expected %s, got %s", e.Op, strings.Join(expected, " or "), e.Actual)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// Listener observes every state the machine enters.
type Listener func(State)

type subscription struct {
	id int
	fn Listener
}

// Machine holds the live workflow state. Listeners run synchronously on
// the goroutine that made the transition, in registration order, after
// the state has changed and before the transition call returns. They may
// read the state but must not start another transition.
type Machine struct {
	mu        sync.Mutex
	state     State
	listeners []subscription
	nextID    int

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

func NewMachine() *Machine {
	return &Machine{state: Idle{}}
}

// State returns the live state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) Phase() Phase {
	return m.State().Phase()
}

// Subscribe registers fn and returns a function that removes it.
func (m *Machine) Subscribe(fn Listener) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.listeners = append(m.listeners, subscription{id: id, fn: fn})

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, s := range m.listeners {
			if s.id == id {
				m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
				return
			}
		}
	}
}

// transition moves to the state built by next when the current phase is
// one of from (any phase when from is empty), then notifies listeners.
func (m *Machine) transition(op string, from []Phase, next func(State) State) error {
	m.mu.Lock()
	cur := m.state
	if len(from) > 0 && !slices.Contains(from, cur.Phase()) {
		m.mu.Unlock()
		return &InvalidTransitionError{Op: op, Expected: from, Actual: cur.Phase()}
	}
	ns := next(cur)
	m.state = ns
	listeners := make([]subscription, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	m.Logger.LogTransition(string(cur.Phase()), string(ns.Phase()))
	m.Metrics.RecordTransition(string(ns.Phase()))
	for _, l := range listeners {
		l.fn(ns)
	}
	return nil
}

func (m *Machine) StartAnalysis(request string) error {
	return m.transition("startAnalysis", []Phase{PhaseIdle}, func(State) State {
		return Analyzing{Request: request}
	})
}

func (m *Machine) RequestClarification(questions []Question) error {
	return m.transition("requestClarification", []Phase{PhaseAnalyzing}, func(cur State) State {
		return Clarifying{
			Request:   cur.(Analyzing).Request,
			Questions: questions,
			Answers:   make(map[string]string, len(questions)),
		}
	})
}

// AnswerQuestion records an answer in the current clarifying state. It
// does not change phase and does not notify listeners.
func (m *Machine) AnswerQuestion(questionID, answer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.state.(Clarifying)
	if !ok {
		return &InvalidTransitionError{Op: "answerQuestion", Expected: []Phase{PhaseClarifying}, Actual: m.state.Phase()}
	}
	for _, q := range c.Questions {
		if q.ID == questionID {
			c.Answers[questionID] = answer
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
}

func (m *Machine) StartPlanning() error {
	return m.transition("startPlanning", []Phase{PhaseAnalyzing, PhaseClarifying}, func(cur State) State {
		switch s := cur.(type) {
		case Clarifying:
			answers := make(map[string]string, len(s.Answers))
			for k, v := range s.Answers {
				answers[k] = v
			}
			return Planning{Request: s.Request, Answers: answers}
		default:
			return Planning{Request: cur.(Analyzing).Request}
		}
	})
}

func (m *Machine) AwaitApproval(p *plan.Plan) error {
	return m.transition("awaitApproval", []Phase{PhasePlanning}, func(State) State {
		return AwaitingApproval{Plan: p}
	})
}

func (m *Machine) StartExecution() error {
	return m.transition("startExecution", []Phase{PhaseAwaitingApproval}, func(cur State) State {
		return Executing{Plan: cur.(AwaitingApproval).Plan, CurrentStep: -1}
	})
}

// AdvanceStep records which step is running.
func (m *Machine) AdvanceStep(index int) error {
	return m.transition("advanceStep", []Phase{PhaseExecuting}, func(cur State) State {
		return Executing{Plan: cur.(Executing).Plan, CurrentStep: index}
	})
}

func (m *Machine) Complete(results []plan.StepResult, summary string) error {
	return m.transition("complete", []Phase{PhaseExecuting}, func(cur State) State {
		return Completed{Plan: cur.(Executing).Plan, Results: results, Summary: summary}
	})
}

// SetError is valid from every phase.
func (m *Machine) SetError(message string, recoverable bool) error {
	return m.transition("setError", nil, func(State) State {
		return Error{Message: message, Recoverable: recoverable}
	})
}

// Reset returns to idle from every phase.
func (m *Machine) Reset() error {
	return m.transition("reset", nil, func(State) State {
		return Idle{}
	})
}
