package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Pattern: CSHARP_PROVIDER_[SECTION]_[KEY] (e.g., CSHARP_PROVIDER_TOOLS_ILSPY_CMD).
func ApplyEnvOverrides(cfg *Config) {
	setEnvString(&cfg.LogLevel, "CSHARP_PROVIDER_LOG_LEVEL")

	// Paths
	setEnvString(&cfg.Paths.StateDir, "CSHARP_PROVIDER_PATHS_STATE_DIR")
	setEnvString(&cfg.Paths.DecompileDir, "CSHARP_PROVIDER_PATHS_DECOMPILE_DIR")

	// Store
	setEnvString(&cfg.Store.Driver, "CSHARP_PROVIDER_STORE_DRIVER")
	setEnvString(&cfg.Store.Path, "CSHARP_PROVIDER_STORE_PATH")
	setEnvInt(&cfg.Store.CacheEntries, "CSHARP_PROVIDER_STORE_CACHE_ENTRIES")
	setEnvString(&cfg.Store.Compression, "CSHARP_PROVIDER_STORE_COMPRESSION")
	setEnvDuration(&cfg.Store.BusyTimeout, "CSHARP_PROVIDER_STORE_BUSY_TIMEOUT")

	// Tools
	setEnvString(&cfg.Tools.ILSpyCmd, "CSHARP_PROVIDER_TOOLS_ILSPY_CMD")
	setEnvString(&cfg.Tools.PaketCmd, "CSHARP_PROVIDER_TOOLS_PAKET_CMD")
	setEnvDuration(&cfg.Tools.Timeout, "CSHARP_PROVIDER_TOOLS_TIMEOUT")

	// Pipeline
	setEnvInt(&cfg.Pipeline.Workers, "CSHARP_PROVIDER_PIPELINE_WORKERS")

	// Transport
	setEnvString(&cfg.Transport.Mode, "CSHARP_PROVIDER_TRANSPORT_MODE")
	setEnvInt(&cfg.Transport.Port, "CSHARP_PROVIDER_TRANSPORT_PORT")
	setEnvString(&cfg.Transport.Socket, "CSHARP_PROVIDER_TRANSPORT_SOCKET")
	setEnvFloat64(&cfg.Transport.RateLimit, "CSHARP_PROVIDER_TRANSPORT_RATE_LIMIT")

	// Watch
	setEnvBool(&cfg.Watch.Enabled, "CSHARP_PROVIDER_WATCH_ENABLED")
	setEnvDuration(&cfg.Watch.Debounce, "CSHARP_PROVIDER_WATCH_DEBOUNCE")

	// Observability
	setEnvBool(&cfg.Observability.Enabled, "CSHARP_PROVIDER_OBSERVABILITY_ENABLED")
	setEnvInt(&cfg.Observability.Port, "CSHARP_PROVIDER_OBSERVABILITY_PORT")
	setEnvString(&cfg.Observability.OTLPEndpoint, "CSHARP_PROVIDER_OBSERVABILITY_OTLP_ENDPOINT")
	setEnvBool(&cfg.Observability.EnableTracing, "CSHARP_PROVIDER_OBSERVABILITY_ENABLE_TRACING")
}

func setEnvString(target *string, key string) {
	if val, ok := os.LookupEnv(key); ok {
		slog.Debug("applying env override", "key", key, "value", val)
		*target = val
	}
}

func setEnvInt(target *int, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = i
		}
	}
}

func setEnvBool(target *bool, key string) {
	if val, ok := os.LookupEnv(key); ok {
		b, err := strconv.ParseBool(strings.ToLower(val))
		if err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = b
		}
	}
}

func setEnvFloat64(target *float64, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = f
		}
	}
}

func setEnvDuration(target *time.Duration, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = d
		}
	}
}
