package provider

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	domainErrors "csharp-provider/internal/core/errors"
	"csharp-provider/internal/core/session"
	"csharp-provider/internal/data/store"
	"csharp-provider/internal/engine/parser"
	"csharp-provider/internal/engine/pipeline"
	"csharp-provider/internal/engine/tools"
	"csharp-provider/internal/engine/tools/toolstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func project(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "Controllers", "HomeController.cs"), `using System.Web.Mvc;

namespace Shop.Web.Controllers
{
    public class HomeController : Controller
    {
    }
}
`)
	writeFile(t, filepath.Join(root, "Data", "ShopContext.cs"), `using System.Data.Entity;

namespace Shop.Web.Data
{
    public class ShopContext : DbContext
    {
    }
}
`)
	writeFile(t, filepath.Join(root, "paket.dependencies"), "source https://api.nuget.org/v3/index.json\nnuget Microsoft.AspNet.Mvc\n")
	return root
}

func newProvider(t *testing.T, runner tools.Runner) *Provider {
	t.Helper()
	p, err := parser.NewParser()
	require.NoError(t, err)
	pl, err := pipeline.New(runner, p, pipeline.Config{Workers: 2, ExcludeDirs: []string{"bin", "obj", "packages"}}, nil)
	require.NoError(t, err)

	st, err := store.Open(store.Options{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "sessions.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	m, err := session.NewManager(session.Options{Builder: pl, Store: st, DecompileDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return New(m, nil, nil)
}

func stubTool(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o755))
	return path
}

func TestCapabilities(t *testing.T) {
	out, err := newProvider(t, toolstest.NewRunner()).Handle(context.Background(), OpCapabilities, nil)
	require.NoError(t, err)
	caps := out.(CapabilitiesResponse)
	require.Len(t, caps.Capabilities, 1)
	assert.Equal(t, "referenced", caps.Capabilities[0].Name)
}

func TestInitEvaluateFlow(t *testing.T) {
	root := project(t)
	runner := toolstest.NewRunner().
		On(tools.DependencyResolver, toolstest.Stdout(" - Microsoft.AspNet.Mvc is pinned to 5.2.7\n"))
	p := newProvider(t, runner)
	ctx := context.Background()

	_, err := p.Handle(ctx, OpEvaluate, map[string]any{"cap": "referenced", "condition_info": "referenced: {pattern: System.*}"})
	assert.True(t, domainErrors.IsCode(err, domainErrors.CodeSessionNotReady), "got %v", err)

	out, err := p.Handle(ctx, OpInit, map[string]any{
		"location":      root,
		"analysis_mode": "full",
		"provider_specific_config": map[string]any{
			"ilspy_cmd":    stubTool(t, "ilspycmd"),
			"paket_cmd":    stubTool(t, "paket"),
			"tool_timeout": "30s",
		},
	})
	require.NoError(t, err)
	initResp := out.(InitResponse)
	assert.True(t, initResp.Successful)
	assert.Equal(t, session.StateReady, initResp.State)
	require.NotEmpty(t, initResp.ID)

	out, err = p.Handle(ctx, OpEvaluate, map[string]any{
		"id":             initResp.ID,
		"cap":            "referenced",
		"condition_info": "referenced:\n  pattern: System.Web.Mvc.*\n",
	})
	require.NoError(t, err)
	evalResp := out.(EvaluateResponse)
	require.True(t, evalResp.Response.Matched)
	require.Len(t, evalResp.Response.Incidents, 1)
	assert.Equal(t, "Controller", evalResp.Response.Incidents[0].Edge.Target)
	assert.Equal(t, 5, evalResp.Response.Incidents[0].LineNumber)

	out, err = p.Handle(ctx, OpDependencies, map[string]any{"id": initResp.ID})
	require.NoError(t, err)
	deps := out.(DependencyResponse)
	require.Len(t, deps.FileDep, 1)
	assert.Equal(t, "file://"+filepath.ToSlash(filepath.Join(root, "paket.dependencies")), deps.FileDep[0].FileURI)
	require.Len(t, deps.FileDep[0].Dependencies, 1)
	assert.Equal(t, Dependency{
		Name:     "Microsoft.AspNet.Mvc",
		Version:  "5.2.7",
		Location: filepath.Join(root, "packages", "Microsoft.AspNet.Mvc"),
	}, deps.FileDep[0].Dependencies[0])

	out, err = p.Handle(ctx, OpDependenciesDAG, map[string]any{"id": initResp.ID})
	require.NoError(t, err)
	dag := out.(DependencyDAGResponse)
	require.Len(t, dag.FileDAGDep, 1)
	require.Len(t, dag.FileDAGDep[0].List, 1)
	assert.True(t, dag.FileDAGDep[0].List[0].Direct)

	out, err = p.Handle(ctx, OpNotifyFileChanges, map[string]any{
		"changes": []any{map[string]any{"uri": "file://" + filepath.Join(root, "Data", "ShopContext.cs")}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{initResp.ID}, out.(NotifyFileChangesResponse).Stale)

	out, err = p.Handle(ctx, OpStop, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, []string{initResp.ID}, out.(StopResponse).Stopped)

	_, err = p.Handle(ctx, OpEvaluate, map[string]any{
		"id": initResp.ID, "cap": "referenced", "condition_info": "referenced: {pattern: System.*}",
	})
	assert.True(t, domainErrors.IsCode(err, domainErrors.CodeSessionNotReady))
}

func TestInitSourceOnlyWithBrokenDependencyTool(t *testing.T) {
	runner := toolstest.NewRunner()
	p := newProvider(t, runner)

	out, err := p.Handle(context.Background(), OpInit, map[string]any{
		"location":                 project(t),
		"analysis_mode":            "source-only",
		"provider_specific_config": map[string]any{"paket_cmd": "/does/not/exist/paket"},
	})
	require.NoError(t, err)
	assert.Equal(t, session.StateReady, out.(InitResponse).State)
	assert.Empty(t, runner.Calls())
}

func TestInitMissingDecompiler(t *testing.T) {
	runner := toolstest.NewRunner().
		On(tools.DependencyResolver, toolstest.Stdout(" - Microsoft.AspNet.Mvc is pinned to 5.2.7\n"))
	p := newProvider(t, runner)

	_, err := p.Handle(context.Background(), OpInit, map[string]any{
		"location": project(t),
		"provider_specific_config": map[string]any{
			"ilspy_cmd": "/does/not/exist/ilspycmd",
			"paket_cmd": stubTool(t, "paket"),
		},
	})
	require.True(t, domainErrors.IsCode(err, domainErrors.CodeToolInvocationFailure), "got %v", err)

	body := ErrorBodyOf(err)
	assert.Equal(t, string(domainErrors.CodeToolInvocationFailure), body.Code)
	assert.Contains(t, body.Context, domainErrors.CtxTool)
}

func TestInitRejectsInvalidArguments(t *testing.T) {
	p := newProvider(t, toolstest.NewRunner())
	root := project(t)

	cases := map[string]map[string]any{
		"missing location": {},
		"bad mode":         {"location": root, "analysis_mode": "binary"},
		"timeout type":     {"location": root, "provider_specific_config": map[string]any{"tool_timeout": true}},
		"bad timeout":      {"location": root, "provider_specific_config": map[string]any{"tool_timeout": "soon"}},
		"cmd type":         {"location": root, "provider_specific_config": map[string]any{"ilspy_cmd": 3}},
		"reinit type":      {"location": root, "provider_specific_config": map[string]any{"reinit": "maybe"}},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := p.Handle(context.Background(), OpInit, args)
			assert.True(t, domainErrors.IsCode(err, domainErrors.CodeInvalidConfig), "got %v", err)
		})
	}
}

func TestHandleUnknownOperation(t *testing.T) {
	_, err := newProvider(t, toolstest.NewRunner()).Handle(context.Background(), "shutdown", nil)
	assert.True(t, domainErrors.IsCode(err, domainErrors.CodeNotFound))
}

func TestParseProviderConfig(t *testing.T) {
	cfg, err := ParseProviderConfig(map[string]any{
		"ilspy_cmd":    " /opt/ilspycmd ",
		"tool_timeout": float64(90),
		"reinit":       true,
		"unrelated":    []any{1, 2},
	})
	require.NoError(t, err)
	assert.Equal(t, "/opt/ilspycmd", cfg.ILSpyCmd)
	assert.Equal(t, 90*time.Second, cfg.ToolTimeout)
	assert.True(t, cfg.Reinit)

	cfg, err = ParseProviderConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, ProviderConfig{}, cfg)

	_, err = ParseProviderConfig(map[string]any{"tool_timeout": "-5s"})
	assert.True(t, domainErrors.IsCode(err, domainErrors.CodeInvalidConfig))
}
