// Package store persists built symbol indexes keyed by session fingerprint so
// a restarted provider can serve Evaluate without rerunning the pipeline.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"csharp-provider/internal/core/config"
	domainErrors "csharp-provider/internal/core/errors"
	"csharp-provider/internal/engine/index"
)

// Metadata describes a persisted session. It is stored for failed sessions
// too, in which case no index payload exists.
type Metadata struct {
	Fingerprint  string          `json:"fingerprint"`
	SessionID    string          `json:"session_id"`
	Location     string          `json:"location"`
	Mode         string          `json:"mode"`
	State        string          `json:"state"`
	ErrorCode    string          `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Warnings     []index.Warning `json:"warnings,omitempty"`
	Stats        index.Stats     `json:"stats"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Store is the persistent Session Store. Put replaces the metadata and index
// of one fingerprint atomically; other fingerprints are never touched.
type Store interface {
	Put(ctx context.Context, fingerprint string, idx *index.Index, meta Metadata) error
	// Get returns ok=false when no index is stored for the fingerprint.
	Get(ctx context.Context, fingerprint string) (*index.Index, Metadata, bool, error)
	Metadata(ctx context.Context, fingerprint string) (Metadata, bool, error)
	// PutMetadata upserts metadata and drops any index stored for the
	// fingerprint.
	PutMetadata(ctx context.Context, meta Metadata) error
	Invalidate(ctx context.Context, fingerprint string) error
	Ping(ctx context.Context) error
	Close() error
}

// Options configure Open.
type Options struct {
	Driver       string
	Path         string
	CacheEntries int
	Compression  string
	BusyTimeout  time.Duration
	SyncWrites   bool
	Logger       *slog.Logger
}

// OptionsFromConfig maps the [store] section. A relative path is resolved
// against stateDir.
func OptionsFromConfig(cfg config.Store, stateDir string, logger *slog.Logger) Options {
	path := cfg.Path
	if path != "" && !filepath.IsAbs(path) && stateDir != "" {
		path = filepath.Join(stateDir, path)
	}
	return Options{
		Driver:       cfg.Driver,
		Path:         path,
		CacheEntries: cfg.CacheEntries,
		Compression:  cfg.Compression,
		BusyTimeout:  cfg.BusyTimeout,
		SyncWrites:   cfg.SyncWrites,
		Logger:       logger,
	}
}

// Open opens the configured driver and fronts it with the decoded index
// cache when CacheEntries > 0.
func Open(opts Options) (Store, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	codec := newCodec(opts.Compression)

	var (
		backend Store
		err     error
	)
	switch strings.ToLower(strings.TrimSpace(opts.Driver)) {
	case "", config.DriverSQLite:
		backend, err = OpenSQLite(opts.Path, opts.BusyTimeout, codec)
	case config.DriverBadger:
		backend, err = OpenBadger(opts.Path, opts.SyncWrites, codec, opts.Logger)
	default:
		return nil, domainErrors.Newf(domainErrors.CodeInvalidConfig, "unknown store driver %q", opts.Driver)
	}
	if err != nil {
		return nil, err
	}
	if opts.CacheEntries <= 0 {
		return backend, nil
	}
	cached, err := NewCached(backend, opts.CacheEntries)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	return cached, nil
}

func persistenceError(err error, op, fingerprint string) error {
	wrapped := domainErrors.Wrap(err, domainErrors.CodePersistenceFailure, fmt.Sprintf("session store %s", op))
	if fingerprint != "" {
		wrapped = domainErrors.AddContext(wrapped, domainErrors.CtxFingerprint, fingerprint)
	}
	return wrapped
}
