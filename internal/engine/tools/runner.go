// Package tools invokes the external decompiler and dependency-resolution
// executables on behalf of the pipeline.
package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	domainErrors "csharp-provider/internal/core/errors"
	"csharp-provider/internal/shared/observability"
)

// Kind names the logical tool behind an invocation.
type Kind string

const (
	Decompiler         Kind = "decompiler"
	DependencyResolver Kind = "dependency-resolver"
)

// Invocation describes a single external tool run.
type Invocation struct {
	Kind    Kind
	Command string
	Args    []string
	Dir     string
	Timeout time.Duration
}

func (inv Invocation) String() string {
	return strings.TrimSpace(inv.Command + " " + strings.Join(inv.Args, " "))
}

type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
}

// Runner executes external tools. The pipeline depends only on this
// interface so tests can substitute a scripted fake.
type Runner interface {
	Run(ctx context.Context, inv Invocation) (Result, error)
}

// ExecRunner runs tools as subprocesses. Cancelling the context kills the
// child process.
type ExecRunner struct {
	logger *slog.Logger
}

func NewExecRunner(logger *slog.Logger) *ExecRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecRunner{logger: logger}
}

func (r *ExecRunner) Run(ctx context.Context, inv Invocation) (Result, error) {
	runCtx := ctx
	if inv.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, inv.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, inv.Command, inv.Args...)
	cmd.Dir = inv.Dir
	cmd.WaitDelay = 5 * time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debug("running tool", "tool", inv.Kind, "cmd", inv.String(), "dir", inv.Dir)
	start := time.Now()
	err := cmd.Run()
	res := Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		ExitCode: cmd.ProcessState.ExitCode(),
		Duration: time.Since(start),
	}
	observability.ToolDuration.WithLabelValues(string(inv.Kind), observability.OutcomeOf(err)).Observe(res.Duration.Seconds())

	if err == nil {
		return res, nil
	}

	switch {
	case ctx.Err() != nil:
		return res, domainErrors.Wrap(ctx.Err(), domainErrors.CodeCancelled, fmt.Sprintf("%s cancelled", inv.Kind))
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return res, toolError(inv, fmt.Errorf("timed out after %s", inv.Timeout))
	case errors.Is(err, exec.ErrNotFound):
		return res, toolError(inv, err)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return res, toolError(inv, fmt.Errorf("exit status %d: %s", res.ExitCode, tail(res.Stderr, 512)))
	}
	return res, toolError(inv, err)
}

func toolError(inv Invocation, err error) error {
	return domainErrors.AddContext(
		domainErrors.Wrap(err, domainErrors.CodeToolInvocationFailure, fmt.Sprintf("%s invocation failed", inv.Kind)),
		domainErrors.CtxTool, inv.Command,
	)
}

func tail(b []byte, max int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		s = "..." + s[len(s)-max:]
	}
	return s
}
