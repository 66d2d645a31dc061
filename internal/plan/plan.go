// Package plan holds the step graph produced by the planner and computes
// its execution order.
package plan

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrInvalidPlan is returned by Validate for malformed step graphs.
var ErrInvalidPlan = errors.New("invalid plan")

// Status of a step.
type Status string

const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Step is one unit of work. Index is its node id in the dependency graph.
type Step struct {
	Index       int      `json:"index"`
	Label       string   `json:"label"`
	Description string   `json:"description"`
	DependsOn   []int    `json:"depends_on,omitempty"`
	Tools       []string `json:"tools,omitempty"`
	Status      Status   `json:"status"`
}

// Plan is an approved set of dependent steps. Only step statuses change
// once execution starts; they are guarded so observers can read them
// while the scheduler runs.
type Plan struct {
	ID              string            `json:"id"`
	Title           string            `json:"title"`
	Description     string            `json:"description"`
	Constraints     map[string]string `json:"constraints,omitempty"`
	Steps           []Step            `json:"steps"`
	EstimatedTokens int               `json:"estimated_tokens"`
	EstimatedCost   float64           `json:"estimated_cost"`

	mu sync.RWMutex
}

// Outcome of a step attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// StepResult records the final attempt at one step.
type StepResult struct {
	Index     int      `json:"index"`
	Outcome   Outcome  `json:"outcome"`
	EntityIDs []string `json:"entity_ids,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// Step returns a copy of the step with the given index.
func (p *Plan) Step(index int) (Step, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, s := range p.Steps {
		if s.Index == index {
			return s, true
		}
	}
	return Step{}, false
}

// StatusOf returns the status of the step with the given index.
func (p *Plan) StatusOf(index int) Status {
	s, _ := p.Step(index)
	return s.Status
}

// SetStatus updates one step's status.
func (p *Plan) SetStatus(index int, status Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.Steps {
		if p.Steps[i].Index == index {
			p.Steps[i].Status = status
			return
		}
	}
}

// Statuses maps step index to status.
func (p *Plan) Statuses() map[int]Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[int]Status, len(p.Steps))
	for _, s := range p.Steps {
		out[s.Index] = s.Status
	}
	return out
}

// Order returns a Kahn topological order over the steps: ready steps are
// taken first-ready-first-served with ties broken by ascending index.
// Steps on a cycle, downstream of one, or depending on an unknown index
// never become ready; they are returned in excluded instead.
func Order(p *Plan) (order []int, excluded []int) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	known := make(map[int]bool, len(p.Steps))
	for _, s := range p.Steps {
		known[s.Index] = true
	}

	indegree := make(map[int]int, len(p.Steps))
	dependents := make(map[int][]int, len(p.Steps))
	for _, s := range p.Steps {
		indegree[s.Index] += 0
		for _, d := range uniq(s.DependsOn) {
			indegree[s.Index]++
			if known[d] {
				dependents[d] = append(dependents[d], s.Index)
			}
		}
	}

	var queue []int
	for _, s := range sortedIndices(p.Steps) {
		if indegree[s] == 0 {
			queue = append(queue, s)
		}
	}

	placed := make(map[int]bool, len(p.Steps))
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		order = append(order, cur)
		placed[cur] = true

		var ready []int
		for _, dep := range dependents[cur] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
		sort.Ints(ready)
		queue = append(queue, ready...)
	}

	for _, s := range sortedIndices(p.Steps) {
		if !placed[s] {
			excluded = append(excluded, s)
		}
	}
	return order, excluded
}

// Validate checks that indices are unique, every dependency names a step
// of the same plan, and the graph is acyclic.
func Validate(p *Plan) error {
	p.mu.RLock()
	if len(p.Steps) == 0 {
		p.mu.RUnlock()
		return fmt.Errorf("%w: no steps", ErrInvalidPlan)
	}
	seen := make(map[int]bool, len(p.Steps))
	for _, s := range p.Steps {
		if seen[s.Index] {
			p.mu.RUnlock()
			return fmt.Errorf("%w: duplicate step index %d", ErrInvalidPlan, s.Index)
		}
		seen[s.Index] = true
	}
	for _, s := range p.Steps {
		for _, d := range s.DependsOn {
			if !seen[d] {
				p.mu.RUnlock()
				return fmt.Errorf("%w: step %d depends on unknown step %d", ErrInvalidPlan, s.Index, d)
			}
			if d == s.Index {
				p.mu.RUnlock()
				return fmt.Errorf("%w: step %d depends on itself", ErrInvalidPlan, s.Index)
			}
		}
	}
	p.mu.RUnlock()

	if _, excluded := Order(p); len(excluded) > 0 {
		return fmt.Errorf("%w: dependency cycle through steps %s", ErrInvalidPlan, joinInts(excluded))
	}
	return nil
}

// Dependents returns every step that transitively depends on index, in
// ascending order.
func Dependents(p *Plan, index int) []int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	reached := map[int]bool{}
	frontier := []int{index}
	for len(frontier) > 0 {
		cur := frontier[0]
		frontier = frontier[1:]
		for _, s := range p.Steps {
			if reached[s.Index] || s.Index == index {
				continue
			}
			for _, d := range s.DependsOn {
				if d == cur {
					reached[s.Index] = true
					frontier = append(frontier, s.Index)
					break
				}
			}
		}
	}

	out := make([]int, 0, len(reached))
	for i := range reached {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// Clone returns a deep copy with its own lock.
func (p *Plan) Clone() *Plan {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cp := &Plan{
		ID:              p.ID,
		Title:           p.Title,
		Description:     p.Description,
		EstimatedTokens: p.EstimatedTokens,
		EstimatedCost:   p.EstimatedCost,
	}
	if p.Constraints != nil {
		cp.Constraints = make(map[string]string, len(p.Constraints))
		for k, v := range p.Constraints {
			cp.Constraints[k] = v
		}
	}
	cp.Steps = make([]Step, len(p.Steps))
	for i, s := range p.Steps {
		s.DependsOn = append([]int(nil), s.DependsOn...)
		s.Tools = append([]string(nil), s.Tools...)
		cp.Steps[i] = s
	}
	return cp
}

func sortedIndices(steps []Step) []int {
	out := make([]int, len(steps))
	for i, s := range steps {
		out[i] = s.Index
	}
	sort.Ints(out)
	return out
}

func uniq(xs []int) []int {
	seen := make(map[int]bool, len(xs))
	out := xs[:0:0]
	for _, x := range xs {
		if !seen[x] {
			seen[x] = true
			out = append(out, x)
		}
	}
	return out
}

func joinInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = fmt.Sprint(x)
	}
	return strings.Join(parts, ", ")
}
