package tools

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	domainErrors "csharp-provider/internal/core/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not supported on windows")
	}
	path := filepath.Join(t.TempDir(), "tool.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestExecRunnerCapturesOutput(t *testing.T) {
	script := writeScript(t, `echo "- Newtonsoft.Json is pinned to 13.0.1"; echo warn >&2`)

	res, err := NewExecRunner(nil).Run(context.Background(), Invocation{
		Kind:    DependencyResolver,
		Command: script,
		Timeout: 10 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, string(res.Stdout), "is pinned to")
	assert.Equal(t, "warn\n", string(res.Stderr))
}

func TestExecRunnerNonZeroExit(t *testing.T) {
	script := writeScript(t, `echo "assembly not found" >&2; exit 3`)

	res, err := NewExecRunner(nil).Run(context.Background(), Invocation{Kind: Decompiler, Command: script})
	require.Error(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.True(t, domainErrors.IsCode(err, domainErrors.CodeToolInvocationFailure))
	assert.Contains(t, err.Error(), "assembly not found")
}

func TestExecRunnerTimeout(t *testing.T) {
	script := writeScript(t, `exec sleep 5`)

	_, err := NewExecRunner(nil).Run(context.Background(), Invocation{
		Kind:    Decompiler,
		Command: script,
		Timeout: 100 * time.Millisecond,
	})
	require.Error(t, err)
	assert.True(t, domainErrors.IsCode(err, domainErrors.CodeToolInvocationFailure))
	assert.Contains(t, err.Error(), "timed out")
}

func TestExecRunnerCancelled(t *testing.T) {
	script := writeScript(t, `exec sleep 5`)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := NewExecRunner(nil).Run(ctx, Invocation{Kind: Decompiler, Command: script})
	require.Error(t, err)
	assert.True(t, domainErrors.IsCode(err, domainErrors.CodeCancelled))
}

func TestResolve(t *testing.T) {
	script := writeScript(t, `exit 0`)

	path, err := Resolve(Decompiler, script, DefaultDecompilerCmd)
	require.NoError(t, err)
	assert.Equal(t, script, path)

	_, err = Resolve(Decompiler, "/definitely/missing/ilspycmd", DefaultDecompilerCmd)
	require.Error(t, err)
	assert.True(t, domainErrors.IsCode(err, domainErrors.CodeToolInvocationFailure))

	_, err = Resolve(DependencyResolver, "", "no-such-tool-on-path-3f9c")
	assert.True(t, domainErrors.IsCode(err, domainErrors.CodeToolInvocationFailure))

	_, err = Resolve(Decompiler, filepath.Dir(script), "")
	assert.Error(t, err)
}
