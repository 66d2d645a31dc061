package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rahul/sceneforge/internal/governance"
	"github.com/tmc/langchaingo/llms"
)

// Executor performs a tool's effect. The core does not interpret the
// returned value; it is handed back to the model as the tool's output.
type Executor func(ctx context.Context, input map[string]any) (any, error)

// Tool defines the interface for self-describing agent capabilities.
type Tool interface {
	Name() string
	Description() string
	Parameters() Schema
	Execute(ctx context.Context, input map[string]any) (any, error)
}

// Call is one tool invocation requested by the model.
type Call struct {
	ID    string
	Name  string
	Input map[string]any
}

// Result is the outcome of Execute. Exactly one of Data or Error is
// meaningful, selected by Success.
type Result struct {
	Success bool
	Data    any
	Error   string
}

type handler struct {
	schema Schema
	exec   Executor
}

// Registry is the dispatch table from tool name to schema and executor.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]handler
	policy   governance.PolicyEngine
}

func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]handler),
	}
}

// SetPolicy installs a policy consulted after validation and before the
// executor runs.
func (r *Registry) SetPolicy(p governance.PolicyEngine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policy = p
}

// RegisterHandler binds name to schema and exec, replacing any previous
// binding.
func (r *Registry) RegisterHandler(name string, schema Schema, exec Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = handler{schema: schema, exec: exec}
}

func (r *Registry) Register(t Tool) {
	schema := t.Parameters()
	if schema.Description == "" {
		schema.Description = t.Description()
	}
	r.RegisterHandler(t.Name(), schema, t.Execute)
}

// Has reports whether a handler is bound to name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[name]
	return ok
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

// Describe returns "- name: description" lines for prompts.
func (r *Registry) Describe() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var lines []string
	for _, name := range r.namesLocked() {
		lines = append(lines, fmt.Sprintf("- %s: %s", name, r.handlers[name].schema.Description))
	}
	return strings.Join(lines, "\n")
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Declarations returns the function declarations for every tool, or only
// for the named ones when names is non-empty. Unknown names are ignored.
func (r *Registry) Declarations(names ...string) []llms.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(names) == 0 {
		names = r.namesLocked()
	}
	var out []llms.Tool
	for _, name := range names {
		h, ok := r.handlers[name]
		if !ok {
			continue
		}
		out = append(out, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        name,
				Description: h.schema.Description,
				Parameters:  h.schema.JSONSchema(),
			},
		})
	}
	return out
}

// Execute validates the call and runs its executor. Failures of any kind
// are reported in the Result, never as a panic or error.
func (r *Registry) Execute(ctx context.Context, call Call) Result {
	r.mu.RLock()
	h, ok := r.handlers[call.Name]
	policy := r.policy
	r.mu.RUnlock()

	if !ok {
		return Result{Error: fmt.Sprintf("unknown tool: %s", call.Name)}
	}

	input := call.Input
	if input == nil {
		input = map[string]any{}
	}
	if problems := h.schema.Validate(input); len(problems) > 0 {
		return Result{Error: fmt.Sprintf("invalid input for %s: %s", call.Name, strings.Join(problems, "; "))}
	}

	if policy != nil {
		res, err := policy.Evaluate(ctx, governance.Request{Tool: call.Name, Arguments: input})
		if err != nil {
			return Result{Error: fmt.Sprintf("policy check failed: %v", err)}
		}
		if res.Effect == governance.EffectDeny {
			return Result{Error: "denied by policy: " + res.Reason}
		}
	}

	return invoke(ctx, h.exec, input)
}

func invoke(ctx context.Context, exec Executor, input map[string]any) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			res = Result{Error: fmt.Sprint(p)}
		}
	}()
	data, err := exec(ctx, input)
	if err != nil {
		return Result{Error: err.Error()}
	}
	return Result{Success: true, Data: data}
}
