package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"csharp-provider/internal/core/config"
	"csharp-provider/internal/core/provider"
	"csharp-provider/internal/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigAppliesFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "provider.toml")
	content := fmt.Sprintf("[paths]\nstate_dir = %q\n\n[tools]\nilspy_cmd = \"/opt/ilspy/ilspycmd\"\n", dir)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := loadConfig(&options{configPath: path, port: 9000, dbPath: filepath.Join(dir, "custom.db")})
	require.NoError(t, err)
	assert.Equal(t, "/opt/ilspy/ilspycmd", cfg.Tools.ILSpyCmd)
	assert.Equal(t, config.TransportGRPC, cfg.Transport.Mode)
	assert.Equal(t, 9000, cfg.Transport.Port)
	assert.Equal(t, filepath.Join(dir, "custom.db"), cfg.Store.Path)

	cfg, err = loadConfig(&options{configPath: path, port: 9000, socket: filepath.Join(dir, "p.sock")})
	require.NoError(t, err)
	assert.Equal(t, config.TransportSocket, cfg.Transport.Mode)
}

func TestLoadConfigWithoutFile(t *testing.T) {
	cfg, err := loadConfig(&options{configPath: filepath.Join(t.TempDir(), "missing.toml")})
	require.NoError(t, err)
	assert.Equal(t, config.TransportStdio, cfg.Transport.Mode)
	assert.Equal(t, config.DriverSQLite, cfg.Store.Driver)
}

func TestAppServesStdio(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.Parse(fmt.Sprintf("[paths]\nstate_dir = %q\n", dir))
	require.NoError(t, err)

	app, err := NewApp(cfg, "test", nil)
	require.NoError(t, err)
	defer app.Close()

	var out bytes.Buffer
	app.in = strings.NewReader(`{"id": 1, "operation": "capabilities"}` + "\n" +
		`{"id": 2, "operation": "evaluate", "args": {"cap": "referenced", "condition_info": "referenced:\n  pattern: System.*"}}` + "\n")
	app.out = &out

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, app.Run(ctx))

	responses := map[float64]transport.Response{}
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		var resp transport.Response
		require.NoError(t, json.Unmarshal([]byte(line), &resp), line)
		responses[resp.ID.(float64)] = resp
	}
	require.Len(t, responses, 2)
	assert.True(t, responses[1].OK)
	assert.Contains(t, out.String(), "referenced")

	require.NotNil(t, responses[2].Error)
	assert.Equal(t, "SESSION_NOT_READY", responses[2].Error.Code)

	assert.Equal(t, map[string]string{"store": "up"}, app.health(ctx))
}

func TestAppReloadUpdatesToolDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.Parse(fmt.Sprintf("[paths]\nstate_dir = %q\n", dir))
	require.NoError(t, err)
	app, err := NewApp(cfg, "test", nil)
	require.NoError(t, err)
	defer app.Close()

	next, err := config.Parse(fmt.Sprintf("[paths]\nstate_dir = %q\n\n[tools]\npaket_cmd = \"/usr/local/bin/paket\"\n", dir))
	require.NoError(t, err)
	app.Reload(next)
	assert.Equal(t, "/usr/local/bin/paket", defaultsFromConfig(next).DependencyCmd)
}

func TestAppWatcherMarksSessionsStale(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.Parse(fmt.Sprintf("[paths]\nstate_dir = %q\n\n[watch]\nenabled = true\ndebounce = \"50ms\"\n", dir))
	require.NoError(t, err)
	app, err := NewApp(cfg, "test", nil)
	require.NoError(t, err)
	defer app.Close()
	require.NotNil(t, app.Watcher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	app.Watcher.Start(ctx)

	project := t.TempDir()
	source := filepath.Join(project, "Program.cs")
	require.NoError(t, os.WriteFile(source, []byte("namespace Demo { class Program {} }\n"), 0o644))

	res, err := app.Provider.Handle(ctx, provider.OpInit, map[string]any{
		"location":      project,
		"analysis_mode": "source-only",
	})
	require.NoError(t, err)
	id := res.(provider.InitResponse).ID

	require.Eventually(t, func() bool {
		return len(app.Watcher.Roots()) == 1
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, os.WriteFile(source, []byte("namespace Demo { class Program { void Run() {} } }\n"), 0o644))
	require.Eventually(t, func() bool {
		h, ok := app.Sessions.Get(id)
		return ok && h.Stale
	}, 3*time.Second, 20*time.Millisecond)
}
