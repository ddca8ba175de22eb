package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Load reads a TOML config file, applies defaults and env overrides, then
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(string(data))
}

// Parse decodes TOML content the same way Load does.
func Parse(content string) (*Config, error) {
	var cfg Config
	if _, err := toml.Decode(content, &cfg); err != nil {
		return nil, err
	}

	ApplyEnvOverrides(&cfg)
	applyDefaults(&cfg)
	normalize(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = 1
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Paths.StateDir == "" {
		cfg.Paths.StateDir = defaultStateDir()
	}
	if cfg.Paths.DecompileDir == "" {
		cfg.Paths.DecompileDir = filepath.Join(cfg.Paths.StateDir, "decompiled")
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = DriverSQLite
	}
	if cfg.Store.Path == "" {
		name := "sessions.db"
		if strings.EqualFold(cfg.Store.Driver, DriverBadger) {
			name = "sessions.badger"
		}
		cfg.Store.Path = filepath.Join(cfg.Paths.StateDir, name)
	}
	if cfg.Store.CacheEntries == 0 {
		cfg.Store.CacheEntries = 16
	}
	if cfg.Store.Compression == "" {
		cfg.Store.Compression = CompressionZstd
	}
	if cfg.Store.BusyTimeout == 0 {
		cfg.Store.BusyTimeout = 5 * time.Second
	}
	if cfg.Tools.Timeout == 0 {
		cfg.Tools.Timeout = 10 * time.Minute
	}
	if cfg.Pipeline.Workers == 0 {
		cfg.Pipeline.Workers = 4
	}
	if cfg.Pipeline.ExcludeDirs == nil {
		cfg.Pipeline.ExcludeDirs = []string{".git", "bin", "obj", "packages", "node_modules"}
	}
	if cfg.Pipeline.MaxFileSize == 0 {
		cfg.Pipeline.MaxFileSize = 4 << 20
	}
	if cfg.Transport.Mode == "" {
		cfg.Transport.Mode = TransportStdio
	}
	if cfg.Transport.RateBurst == 0 {
		cfg.Transport.RateBurst = 32
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 500 * time.Millisecond
	}
	if cfg.Observability.Port == 0 {
		cfg.Observability.Port = 9464
	}
	if cfg.Observability.SampleRatio == 0 {
		cfg.Observability.SampleRatio = 1
	}
}

func normalize(cfg *Config) {
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	cfg.Store.Compression = strings.ToLower(strings.TrimSpace(cfg.Store.Compression))
	cfg.Transport.Mode = strings.ToLower(strings.TrimSpace(cfg.Transport.Mode))
	cfg.Tools.ILSpyCmd = strings.TrimSpace(cfg.Tools.ILSpyCmd)
	cfg.Tools.PaketCmd = strings.TrimSpace(cfg.Tools.PaketCmd)
}

func defaultStateDir() string {
	if dir, err := os.UserCacheDir(); err == nil && dir != "" {
		return filepath.Join(dir, "csharp-provider")
	}
	return filepath.Join(os.TempDir(), "csharp-provider")
}
