package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"csharp-provider/internal/core/config"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

type options struct {
	configPath string
	port       int
	socket     string
	name       string
	dbPath     string
	verbose    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("csharp-provider exited", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "csharp-provider",
		Short: "C# analysis provider",
		Long: `csharp-provider indexes a C# project, optionally decompiling its
dependencies, and answers "referenced" conditions over stdio JSON lines
or gRPC.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}
	cmd.SetVersionTemplate("csharp-provider v{{.Version}}\n")

	flags := cmd.Flags()
	flags.StringVar(&opts.configPath, "config", "./csharp-provider.toml", "Path to config file (see csharp-provider.example.toml)")
	flags.IntVar(&opts.port, "port", 0, "Serve gRPC on this TCP port")
	flags.StringVar(&opts.socket, "socket", "", "Serve gRPC on this unix socket")
	flags.StringVar(&opts.name, "name", "csharp", "Provider name reported in logs and traces")
	flags.StringVar(&opts.dbPath, "db-path", "", "Session store path (overrides store.path)")
	flags.BoolVar(&opts.verbose, "verbose", false, "Enable debug logging")
	return cmd
}

func run(ctx context.Context, opts *options) error {
	_ = godotenv.Load()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	level := new(slog.LevelVar)
	setLevel(level, cfg.LogLevel, opts.verbose)
	// stdout carries the stdio protocol, logs go to stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})).
		With("provider", opts.name)
	slog.SetDefault(logger)

	app, err := NewApp(cfg, opts.name, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	if _, statErr := os.Stat(opts.configPath); statErr == nil {
		watcher := config.NewWatcher(opts.configPath, logger, func(next *config.Config) {
			applyFlags(next, opts)
			setLevel(level, next.LogLevel, opts.verbose)
			app.Reload(next)
		})
		if err := watcher.Start(ctx); err != nil {
			logger.Warn("config watcher disabled", "error", err)
		} else {
			defer watcher.Stop()
		}
	}

	if err := app.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// loadConfig reads the config file when present and falls back to defaults
// plus environment overrides otherwise. Flags win over both.
func loadConfig(opts *options) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if _, statErr := os.Stat(opts.configPath); statErr == nil {
		cfg, err = config.Load(opts.configPath)
	} else {
		cfg, err = config.Parse("")
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	applyFlags(cfg, opts)
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func applyFlags(cfg *config.Config, opts *options) {
	switch {
	case opts.socket != "":
		cfg.Transport.Mode = config.TransportSocket
		cfg.Transport.Socket = opts.socket
	case opts.port > 0:
		cfg.Transport.Mode = config.TransportGRPC
		cfg.Transport.Port = opts.port
	}
	if opts.dbPath != "" {
		cfg.Store.Path = opts.dbPath
	}
}

func setLevel(level *slog.LevelVar, configured string, verbose bool) {
	if verbose {
		level.Set(slog.LevelDebug)
		return
	}
	l, err := config.ParseLevel(configured)
	if err != nil {
		slog.Warn("invalid log level, using info", "error", err)
	}
	level.Set(l)
}
