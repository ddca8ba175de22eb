package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"csharp-provider/internal/core/config"
	"csharp-provider/internal/core/evaluate"
	"csharp-provider/internal/core/provider"
	"csharp-provider/internal/core/session"
	"csharp-provider/internal/core/watcher"
	"csharp-provider/internal/data/store"
	"csharp-provider/internal/engine/parser"
	"csharp-provider/internal/engine/pipeline"
	"csharp-provider/internal/engine/tools"
	"csharp-provider/internal/shared/observability"
	"csharp-provider/internal/transport"
)

// App owns every long-lived component of the provider process.
type App struct {
	Config   *config.Config
	Store    store.Store
	Sessions *session.Manager
	Provider *provider.Provider
	// Watcher is nil unless watch.enabled is set.
	Watcher *watcher.Watcher

	name   string
	logger *slog.Logger

	// stdin/stdout replacements for the stdio transport; nil uses the
	// process streams.
	in  io.Reader
	out io.Writer
}

func NewApp(cfg *config.Config, name string, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.Open(store.OptionsFromConfig(cfg.Store, cfg.Paths.StateDir, logger))
	if err != nil {
		return nil, err
	}

	p, err := parser.NewParser()
	if err != nil {
		st.Close()
		return nil, err
	}
	pipe, err := pipeline.New(tools.NewExecRunner(logger), p, pipeline.Config{
		Workers:      cfg.Pipeline.Workers,
		ExcludeDirs:  cfg.Pipeline.ExcludeDirs,
		ExcludeGlobs: cfg.Pipeline.ExcludeGlob,
		MaxFileSize:  cfg.Pipeline.MaxFileSize,
	}, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	app := &App{Config: cfg, Store: st, name: name, logger: logger}
	opts := session.Options{
		Builder:      pipe,
		Store:        st,
		DecompileDir: cfg.Paths.DecompileDir,
		Defaults:     defaultsFromConfig(cfg),
		Logger:       logger,
	}
	if cfg.Watch.Enabled {
		w, err := watcher.New(watcher.Config{
			Debounce:    cfg.Watch.Debounce,
			ExcludeDirs: cfg.Pipeline.ExcludeDirs,
			Logger:      logger,
		}, app.markStale)
		if err != nil {
			st.Close()
			return nil, err
		}
		app.Watcher = w
		opts.OnReady = app.watchSession
	}

	sessions, err := session.NewManager(opts)
	if err != nil {
		app.closeWatcher()
		st.Close()
		return nil, err
	}
	app.Sessions = sessions
	app.Provider = provider.New(sessions, evaluate.New(logger), logger)
	return app, nil
}

func (a *App) watchSession(h session.Handle) {
	if err := a.Watcher.Watch(h.Location); err != nil {
		a.logger.Warn("cannot watch session root", "session", h.ID, "error", err)
	}
}

func (a *App) markStale(paths []string) {
	if stale := a.Sessions.MarkStale(paths); len(stale) > 0 {
		a.logger.Info("sessions marked stale", "sessions", stale, "changed_files", len(paths))
	}
}

func (a *App) closeWatcher() {
	if a.Watcher != nil {
		_ = a.Watcher.Close()
	}
}

func defaultsFromConfig(cfg *config.Config) session.Defaults {
	return session.Defaults{
		DecompilerCmd: cfg.Tools.ILSpyCmd,
		DependencyCmd: cfg.Tools.PaketCmd,
		ToolTimeout:   cfg.Tools.Timeout,
	}
}

// Reload applies the hot-reloadable parts of a new config: tool defaults.
// Store and transport settings need a restart.
func (a *App) Reload(cfg *config.Config) {
	a.Sessions.SetDefaults(defaultsFromConfig(cfg))
	a.logger.Info("configuration reloaded",
		"ilspy_cmd", cfg.Tools.ILSpyCmd,
		"paket_cmd", cfg.Tools.PaketCmd,
		"tool_timeout", cfg.Tools.Timeout)
}

// Run starts optional observability, then serves the configured transport
// until ctx is cancelled or the stdio input ends.
func (a *App) Run(ctx context.Context) error {
	obs := a.Config.Observability
	if obs.EnableTracing {
		shutdown, err := observability.InitTracing(ctx, observability.TracingConfig{
			ServiceName:    "csharp-provider-" + a.name,
			ServiceVersion: version,
			OTLPEndpoint:   obs.OTLPEndpoint,
			SampleRatio:    obs.SampleRatio,
		})
		if err != nil {
			a.logger.Warn("tracing disabled", "error", err)
		} else {
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(sctx); err != nil {
					a.logger.Warn("tracing shutdown failed", "error", err)
				}
			}()
		}
	}

	if obs.Enabled {
		srv := observability.NewServer(fmt.Sprintf(":%d", obs.Port), a.health, a.logger)
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("starting observability server: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Stop(sctx)
		}()
	}

	if a.Watcher != nil {
		a.Watcher.Start(ctx)
	}

	adapter := a.adapter()
	defer adapter.Stop()
	a.logger.Info("csharp provider starting", "transport", a.Config.Transport.Mode, "store", a.Config.Store.Driver)
	return adapter.Start(ctx, a.Provider.Handle)
}

func (a *App) adapter() transport.Adapter {
	t := a.Config.Transport
	switch t.Mode {
	case config.TransportGRPC, config.TransportSocket:
		cfg := transport.GRPCConfig{
			Port:      t.Port,
			RateLimit: t.RateLimit,
			RateBurst: t.RateBurst,
			Logger:    a.logger,
		}
		if t.Mode == config.TransportSocket {
			cfg.Socket = t.Socket
		}
		return transport.NewGRPC(cfg)
	}
	return transport.NewStdio(transport.StdioConfig{
		In:        a.in,
		Out:       a.out,
		RateLimit: t.RateLimit,
		RateBurst: t.RateBurst,
		Logger:    a.logger,
	})
}

func (a *App) health(ctx context.Context) map[string]string {
	status := map[string]string{"store": "up"}
	if err := a.Store.Ping(ctx); err != nil {
		status["store"] = err.Error()
	}
	return status
}

// Close stops in-flight builds, the source watcher and the store.
func (a *App) Close() error {
	a.Sessions.Close()
	a.closeWatcher()
	return a.Store.Close()
}
