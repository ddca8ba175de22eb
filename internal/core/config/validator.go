package config

import (
	"fmt"
	"log/slog"
	"strings"
)

// Validate checks cross-field constraints after defaults are applied.
func Validate(cfg *Config) error {
	if cfg.Version != 1 {
		return fmt.Errorf("unsupported config version %d; supported version is 1", cfg.Version)
	}
	if _, err := ParseLevel(cfg.LogLevel); err != nil {
		return err
	}
	if err := validateStore(cfg); err != nil {
		return err
	}
	if err := validateTools(cfg); err != nil {
		return err
	}
	if err := validatePipeline(cfg); err != nil {
		return err
	}
	if err := validateTransport(cfg); err != nil {
		return err
	}
	if cfg.Watch.Debounce < 0 {
		return fmt.Errorf("watch.debounce must be >= 0, got %s", cfg.Watch.Debounce)
	}
	return validateObservability(cfg)
}

func validateStore(cfg *Config) error {
	switch cfg.Store.Driver {
	case DriverSQLite, DriverBadger:
	default:
		return fmt.Errorf("store.driver must be one of: sqlite, badger; got %q", cfg.Store.Driver)
	}
	if strings.TrimSpace(cfg.Store.Path) == "" {
		return fmt.Errorf("store.path must not be empty")
	}
	if cfg.Store.CacheEntries < 0 {
		return fmt.Errorf("store.cache_entries must be >= 0, got %d", cfg.Store.CacheEntries)
	}
	switch cfg.Store.Compression {
	case CompressionZstd, CompressionNone:
	default:
		return fmt.Errorf("store.compression must be one of: zstd, none; got %q", cfg.Store.Compression)
	}
	return nil
}

func validateTools(cfg *Config) error {
	if cfg.Tools.Timeout < 0 {
		return fmt.Errorf("tools.timeout must be positive, got %s", cfg.Tools.Timeout)
	}
	return nil
}

func validatePipeline(cfg *Config) error {
	if cfg.Pipeline.Workers < 1 {
		return fmt.Errorf("pipeline.workers must be >= 1, got %d", cfg.Pipeline.Workers)
	}
	if cfg.Pipeline.MaxFileSize < 0 {
		return fmt.Errorf("pipeline.max_file_size must be >= 0, got %d", cfg.Pipeline.MaxFileSize)
	}
	for i, pattern := range cfg.Pipeline.ExcludeGlob {
		if strings.TrimSpace(pattern) == "" {
			return fmt.Errorf("pipeline.exclude_globs[%d] must not be empty", i)
		}
	}
	return nil
}

func validateTransport(cfg *Config) error {
	switch cfg.Transport.Mode {
	case TransportStdio:
	case TransportGRPC:
		if cfg.Transport.Port <= 0 || cfg.Transport.Port > 65535 {
			return fmt.Errorf("transport.port must be in 1..65535 for grpc mode, got %d", cfg.Transport.Port)
		}
	case TransportSocket:
		if strings.TrimSpace(cfg.Transport.Socket) == "" {
			return fmt.Errorf("transport.socket must be set for socket mode")
		}
	default:
		return fmt.Errorf("transport.mode must be one of: stdio, grpc, socket; got %q", cfg.Transport.Mode)
	}
	if cfg.Transport.RateLimit < 0 {
		return fmt.Errorf("transport.rate_limit must be >= 0, got %v", cfg.Transport.RateLimit)
	}
	return nil
}

func validateObservability(cfg *Config) error {
	if cfg.Observability.Port < 0 || cfg.Observability.Port > 65535 {
		return fmt.Errorf("observability.port must be in 0..65535, got %d", cfg.Observability.Port)
	}
	if cfg.Observability.SampleRatio < 0 || cfg.Observability.SampleRatio > 1 {
		return fmt.Errorf("observability.sample_ratio must be in [0,1], got %v", cfg.Observability.SampleRatio)
	}
	return nil
}

// ParseLevel maps a config log level to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("log_level must be one of: debug, info, warn, error; got %q", level)
}
