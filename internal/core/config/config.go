package config

import "time"

type Config struct {
	Version       int           `toml:"version"`
	LogLevel      string        `toml:"log_level"`
	Paths         Paths         `toml:"paths"`
	Store         Store         `toml:"store"`
	Tools         Tools         `toml:"tools"`
	Pipeline      Pipeline      `toml:"pipeline"`
	Transport     Transport     `toml:"transport"`
	Watch         Watch         `toml:"watch"`
	Observability Observability `toml:"observability"`
}

type Paths struct {
	StateDir     string `toml:"state_dir"`
	DecompileDir string `toml:"decompile_dir"`
}

// Store selects the Session Store backend. Driver is "sqlite" or "badger".
type Store struct {
	Driver       string        `toml:"driver"`
	Path         string        `toml:"path"`
	CacheEntries int           `toml:"cache_entries"`
	Compression  string        `toml:"compression"`
	BusyTimeout  time.Duration `toml:"busy_timeout"`
	SyncWrites   bool          `toml:"sync_writes"`
}

// Tools holds the default external tool commands. Init requests may override
// both commands and the timeout.
type Tools struct {
	ILSpyCmd string        `toml:"ilspy_cmd"`
	PaketCmd string        `toml:"paket_cmd"`
	Timeout  time.Duration `toml:"timeout"`
}

type Pipeline struct {
	Workers     int      `toml:"workers"`
	ExcludeDirs []string `toml:"exclude_dirs"`
	ExcludeGlob []string `toml:"exclude_globs"`
	MaxFileSize int64    `toml:"max_file_size"`
}

type Transport struct {
	Mode      string  `toml:"mode"`
	Port      int     `toml:"port"`
	Socket    string  `toml:"socket"`
	RateLimit float64 `toml:"rate_limit"`
	RateBurst int     `toml:"rate_burst"`
}

// Watch marks sessions stale when files under their roots change on disk.
type Watch struct {
	Enabled  bool          `toml:"enabled"`
	Debounce time.Duration `toml:"debounce"`
}

type Observability struct {
	Enabled       bool    `toml:"enabled"`
	Port          int     `toml:"port"`
	OTLPEndpoint  string  `toml:"otlp_endpoint"`
	EnableTracing bool    `toml:"enable_tracing"`
	SampleRatio   float64 `toml:"sample_ratio"`
}

const (
	DriverSQLite = "sqlite"
	DriverBadger = "badger"

	CompressionZstd = "zstd"
	CompressionNone = "none"

	TransportStdio  = "stdio"
	TransportGRPC   = "grpc"
	TransportSocket = "socket"
)

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}
