// Package workflow is the request lifecycle state machine:
// idle, analyzing, clarifying, planning, awaiting_approval, executing,
// then completed or error.
package workflow

import (
	"github.com/rahul/sceneforge/internal/plan"
)

// Phase names a workflow state.
type Phase string

const (
	PhaseIdle             Phase = "idle"
	PhaseAnalyzing        Phase = "analyzing"
	PhaseClarifying       Phase = "clarifying"
	PhasePlanning         Phase = "planning"
	PhaseAwaitingApproval Phase = "awaiting_approval"
	PhaseExecuting        Phase = "executing"
	PhaseCompleted        Phase = "completed"
	PhaseError            Phase = "error"
)

// State is one of the phase variants below. The set is closed.
type State interface {
	Phase() Phase
	isState()
}

type Idle struct{}

type Analyzing struct {
	Request string
}

// Question is a clarification the agent needs answered before planning.
type Question struct {
	ID      string   `json:"id"`
	Text    string   `json:"text"`
	Options []string `json:"options,omitempty"`
}

type Clarifying struct {
	Request   string
	Questions []Question
	// Answers is keyed by question id.
	Answers map[string]string
}

type Planning struct {
	Request string
	Answers map[string]string
}

type AwaitingApproval struct {
	Plan *plan.Plan
}

type Executing struct {
	Plan        *plan.Plan
	CurrentStep int
}

type Completed struct {
	Plan    *plan.Plan
	Results []plan.StepResult
	Summary string
}

type Error struct {
	Message     string
	Recoverable bool
}

func (Idle) Phase() Phase             { return PhaseIdle }
func (Analyzing) Phase() Phase        { return PhaseAnalyzing }
func (Clarifying) Phase() Phase       { return PhaseClarifying }
func (Planning) Phase() Phase         { return PhasePlanning }
func (AwaitingApproval) Phase() Phase { return PhaseAwaitingApproval }
func (Executing) Phase() Phase        { return PhaseExecuting }
func (Completed) Phase() Phase        { return PhaseCompleted }
func (Error) Phase() Phase            { return PhaseError }

func (Idle) isState()             {}
func (Analyzing) isState()        {}
func (Clarifying) isState()       {}
func (Planning) isState()         {}
func (AwaitingApproval) isState() {}
func (Executing) isState()        {}
func (Completed) isState()        {}
func (Error) isState()            {}

// Pending returns the questions that have no answer yet.
func (c Clarifying) Pending() []Question {
	var out []Question
	for _, q := range c.Questions {
		if _, ok := c.Answers[q.ID]; !ok {
			out = append(out, q)
		}
	}
	return out
}
