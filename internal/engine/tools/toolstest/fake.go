// Package toolstest provides a scripted tools.Runner for tests.
package toolstest

import (
	"context"
	"sync"

	"csharp-provider/internal/engine/tools"
)

// Handler produces the outcome of one fake invocation.
type Handler func(ctx context.Context, inv tools.Invocation) (tools.Result, error)

// Runner records every invocation and delegates to a per-kind handler.
// Kinds without a handler succeed with empty output.
type Runner struct {
	mu       sync.Mutex
	handlers map[tools.Kind]Handler
	calls    []tools.Invocation
}

func NewRunner() *Runner {
	return &Runner{handlers: make(map[tools.Kind]Handler)}
}

// On registers the handler for kind and returns the runner for chaining.
func (r *Runner) On(kind tools.Kind, h Handler) *Runner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = h
	return r
}

// Stdout is a Handler that succeeds with fixed output.
func Stdout(out string) Handler {
	return func(context.Context, tools.Invocation) (tools.Result, error) {
		return tools.Result{Stdout: []byte(out)}, nil
	}
}

// Fail is a Handler that always returns err.
func Fail(err error) Handler {
	return func(context.Context, tools.Invocation) (tools.Result, error) {
		return tools.Result{ExitCode: 1}, err
	}
}

func (r *Runner) Run(ctx context.Context, inv tools.Invocation) (tools.Result, error) {
	r.mu.Lock()
	r.calls = append(r.calls, inv)
	h := r.handlers[inv.Kind]
	r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return tools.Result{}, err
	}
	if h == nil {
		return tools.Result{}, nil
	}
	return h(ctx, inv)
}

// Calls returns a copy of the recorded invocations.
func (r *Runner) Calls() []tools.Invocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]tools.Invocation, len(r.calls))
	copy(out, r.calls)
	return out
}

// CallCount returns how many invocations of kind were recorded.
func (r *Runner) CallCount(kind tools.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.Kind == kind {
			n++
		}
	}
	return n
}
