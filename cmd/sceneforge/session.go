package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rahul/sceneforge/internal/observability"
	"github.com/rahul/sceneforge/internal/plan"
	"github.com/rahul/sceneforge/internal/workflow"
)

// driver is the part of the orchestrator a terminal session steers.
type driver interface {
	State() workflow.State
	Submit(ctx context.Context, chatID, request string) (workflow.State, error)
	Answer(questionID, answer string) error
	Continue(ctx context.Context) (workflow.State, error)
	Approve(ctx context.Context) (workflow.State, error)
	Reject(ctx context.Context) error
	Reset() error
}

// session walks one request through clarification, approval and
// execution, reading answers from in.
type session struct {
	d       driver
	in      *bufio.Reader
	out     io.Writer
	chatID  string
	autoYes bool
	// status receives the spinner while a plan executes. Nil disables it.
	status *os.File
}

func newSession(d driver, in io.Reader, out io.Writer, chatID string) *session {
	return &session{d: d, in: bufio.NewReader(in), out: out, chatID: chatID}
}

func (s *session) handle(ctx context.Context, request string) error {
	if st := s.d.State(); st.Phase() == workflow.PhaseCompleted || st.Phase() == workflow.PhaseError {
		if err := s.d.Reset(); err != nil {
			return err
		}
	}

	state, err := s.d.Submit(ctx, s.chatID, request)
	for err == nil {
		switch st := state.(type) {
		case workflow.Clarifying:
			if err = s.clarify(st); err != nil {
				return err
			}
			state, err = s.d.Continue(ctx)
		case workflow.AwaitingApproval:
			s.printPlan(st.Plan)
			ok, askErr := s.confirm("Execute this plan?")
			if askErr != nil {
				return askErr
			}
			if !ok {
				if err = s.d.Reject(ctx); err == nil {
					fmt.Fprintln(s.out, "Plan rejected.")
				}
				return err
			}
			state, err = s.execute(ctx)
		case workflow.Completed:
			fmt.Fprintln(s.out, st.Summary)
			return nil
		default:
			return fmt.Errorf("unexpected state %s", st.Phase())
		}
	}

	if st, ok := state.(workflow.Error); ok {
		fmt.Fprintf(s.out, "Request failed: %s\n", st.Message)
	}
	return err
}

func (s *session) clarify(st workflow.Clarifying) error {
	for _, q := range st.Pending() {
		prompt := q.Text
		if len(q.Options) > 0 {
			prompt += " [" + strings.Join(q.Options, " / ") + "]"
		}
		answer, err := s.ask(prompt)
		if err != nil {
			return err
		}
		if err := s.d.Answer(q.ID, answer); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) execute(ctx context.Context) (workflow.State, error) {
	if s.status == nil {
		return s.d.Approve(ctx)
	}

	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(120 * time.Millisecond)
		defer ticker.Stop()
		for frame := 0; ; frame++ {
			select {
			case <-done:
				fmt.Fprint(s.status, "\r\033[K")
				return
			case <-ticker.C:
				observability.PrintStatus(s.status, frame)
			}
		}
	}()

	state, err := s.d.Approve(ctx)
	close(done)
	<-stopped
	return state, err
}

func (s *session) printPlan(p *plan.Plan) {
	fmt.Fprintf(s.out, "\nPlan: %s\n", p.Title)
	if p.Description != "" {
		fmt.Fprintln(s.out, p.Description)
	}
	for _, st := range p.Steps {
		fmt.Fprintf(s.out, "  %d. %s: %s", st.Index+1, st.Label, st.Description)
		if len(st.DependsOn) > 0 {
			deps := make([]string, len(st.DependsOn))
			for i, d := range st.DependsOn {
				deps[i] = fmt.Sprint(d + 1)
			}
			fmt.Fprintf(s.out, " (after %s)", strings.Join(deps, ", "))
		}
		fmt.Fprintln(s.out)
	}
	fmt.Fprintf(s.out, "Estimated: %d tokens, $%.4f\n\n", p.EstimatedTokens, p.EstimatedCost)
}

func (s *session) confirm(prompt string) (bool, error) {
	if s.autoYes {
		return true, nil
	}
	answer, err := s.ask(prompt + " [y/N]")
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

// ask prints prompt and returns the trimmed next line. A final line
// without a newline is still returned.
func (s *session) ask(prompt string) (string, error) {
	fmt.Fprintf(s.out, "%s > ", prompt)
	line, err := s.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
