package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	content := `
log_level = "debug"

[paths]
state_dir = "/var/lib/csharp-provider"

[store]
driver = "badger"
cache_entries = 4

[tools]
ilspy_cmd = "/opt/ilspy/ilspycmd"
paket_cmd = "/opt/paket/paket"
timeout = "90s"

[pipeline]
workers = 8
exclude_globs = ["**/*.Designer.cs"]
`
	path := filepath.Join(t.TempDir(), "provider.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, DriverBadger, cfg.Store.Driver)
	assert.Equal(t, filepath.Join("/var/lib/csharp-provider", "sessions.badger"), cfg.Store.Path)
	assert.Equal(t, filepath.Join("/var/lib/csharp-provider", "decompiled"), cfg.Paths.DecompileDir)
	assert.Equal(t, 4, cfg.Store.CacheEntries)
	assert.Equal(t, CompressionZstd, cfg.Store.Compression)
	assert.Equal(t, "/opt/ilspy/ilspycmd", cfg.Tools.ILSpyCmd)
	assert.Equal(t, 90*time.Second, cfg.Tools.Timeout)
	assert.Equal(t, 8, cfg.Pipeline.Workers)
	assert.Contains(t, cfg.Pipeline.ExcludeDirs, "obj")
	assert.Equal(t, TransportStdio, cfg.Transport.Mode)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, Validate(cfg))
	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.True(t, strings.HasSuffix(cfg.Store.Path, "sessions.db"))
	assert.Equal(t, 10*time.Minute, cfg.Tools.Timeout)
	assert.False(t, cfg.Watch.Enabled)
	assert.Equal(t, 500*time.Millisecond, cfg.Watch.Debounce)
}

func TestParseRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"driver":      "[store]\ndriver = \"postgres\"\n",
		"compression": "[store]\ncompression = \"lz4\"\n",
		"log level":   "log_level = \"loud\"\n",
		"grpc port":   "[transport]\nmode = \"grpc\"\n",
		"socket path": "[transport]\nmode = \"socket\"\n",
		"workers":     "[pipeline]\nworkers = -1\n",
		"version":     "version = 3\n",
		"debounce":    "[watch]\ndebounce = \"-1s\"\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(content)
			assert.Error(t, err)
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("CSHARP_PROVIDER_TOOLS_ILSPY_CMD", "/env/ilspycmd")
	t.Setenv("CSHARP_PROVIDER_TOOLS_TIMEOUT", "3s")
	t.Setenv("CSHARP_PROVIDER_PIPELINE_WORKERS", "not-a-number")
	t.Setenv("CSHARP_PROVIDER_WATCH_ENABLED", "true")

	cfg, err := Parse("")
	require.NoError(t, err)
	assert.Equal(t, "/env/ilspycmd", cfg.Tools.ILSpyCmd)
	assert.Equal(t, 3*time.Second, cfg.Tools.Timeout)
	assert.Equal(t, 4, cfg.Pipeline.Workers)
	assert.True(t, cfg.Watch.Enabled)
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "provider.toml")
	require.NoError(t, os.WriteFile(path, []byte("log_level = \"info\"\n"), 0o644))

	reloaded := make(chan *Config, 4)
	w := NewWatcher(path, nil, func(cfg *Config) { reloaded <- cfg })
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("log_level = \"debug\"\n"), 0o644))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, "debug", cfg.LogLevel)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}
