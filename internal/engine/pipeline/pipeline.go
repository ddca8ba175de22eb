// Package pipeline turns a project location into a symbol index:
// dependency resolution, decompilation of dependency assemblies, then a
// tree-sitter parse of every C# file.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	domainErrors "csharp-provider/internal/core/errors"
	"csharp-provider/internal/engine/index"
	"csharp-provider/internal/engine/parser"
	"csharp-provider/internal/engine/tools"
	"csharp-provider/internal/shared/observability"

	"github.com/gobwas/glob"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type Mode string

const (
	ModeFull       Mode = "full"
	ModeSourceOnly Mode = "source-only"
)

// Request is one pipeline run for a single session.
type Request struct {
	Location      string
	Mode          Mode
	DecompilerCmd string
	DependencyCmd string
	ToolTimeout   time.Duration
	// OutputDir receives decompiled sources; it is wiped before each run.
	OutputDir string
}

type Config struct {
	Workers      int
	ExcludeDirs  []string
	ExcludeGlobs []string
	MaxFileSize  int64
}

type Pipeline struct {
	runner   tools.Runner
	parser   *parser.Parser
	logger   *slog.Logger
	workers  int
	exclude  map[string]bool
	globs    []glob.Glob
	maxBytes int64
	resolve  func(kind tools.Kind, configured, fallback string) (string, error)
}

func New(runner tools.Runner, p *parser.Parser, cfg Config, logger *slog.Logger) (*Pipeline, error) {
	if runner == nil {
		return nil, fmt.Errorf("tool runner is required")
	}
	if p == nil {
		return nil, fmt.Errorf("parser is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	pl := &Pipeline{
		runner:   runner,
		parser:   p,
		logger:   logger,
		workers:  cfg.Workers,
		exclude:  make(map[string]bool, len(cfg.ExcludeDirs)),
		maxBytes: cfg.MaxFileSize,
		resolve:  tools.Resolve,
	}
	for _, dir := range cfg.ExcludeDirs {
		pl.exclude[dir] = true
	}
	for _, pattern := range cfg.ExcludeGlobs {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid exclude glob %q: %w", pattern, err)
		}
		pl.globs = append(pl.globs, g)
	}
	return pl, nil
}

// Run executes every step and builds the index. The returned error is a
// DomainError carrying one of the Init failure causes, or a cancellation.
func (p *Pipeline) Run(ctx context.Context, req Request) (*index.Index, error) {
	ctx, span := observability.Tracer.Start(ctx, "pipeline.Run", trace.WithAttributes(
		attribute.String("location", req.Location),
		attribute.String("mode", string(req.Mode)),
	))
	defer span.End()

	if req.Mode == "" {
		req.Mode = ModeFull
	}
	state := &runState{req: req}

	if req.Mode == ModeFull {
		if err := p.step(ctx, "dependencies", state, p.resolveDependencies); err != nil {
			return nil, err
		}
		if err := p.step(ctx, "decompile", state, p.decompile); err != nil {
			return nil, err
		}
	}
	if err := p.step(ctx, "parse", state, p.parse); err != nil {
		return nil, err
	}

	idx := index.Build(index.Input{
		Files:    state.files,
		Manifest: state.manifest,
		Warnings: state.warnings,
	})
	if !idx.DeclaresSymbols() {
		return nil, domainErrors.AddContext(
			domainErrors.New(domainErrors.CodeParseFailure, "no symbols found in project"),
			domainErrors.CtxPath, req.Location,
		)
	}

	st := idx.Stats()
	span.SetAttributes(attribute.Int("symbols", st.Symbols), attribute.Int("edges", st.Edges))
	p.logger.Info("index built",
		"location", req.Location,
		"files", st.Files,
		"symbols", st.Symbols,
		"edges", st.Edges,
		"unresolved", st.Unresolved,
		"packages", st.Packages,
		"warnings", st.Warnings,
	)
	return idx, nil
}

// runState accumulates step outputs for one run.
type runState struct {
	req        Request
	manifest   []index.DependencyEntry
	decompiled map[string]string // package -> output dir
	files      []*parser.File
	warnings   []index.Warning
}

func (s *runState) warn(file, format string, args ...any) {
	s.warnings = append(s.warnings, index.Warning{File: file, Message: fmt.Sprintf(format, args...)})
}

func (p *Pipeline) step(ctx context.Context, name string, state *runState, fn func(context.Context, *runState) error) error {
	if err := ctx.Err(); err != nil {
		return domainErrors.Wrap(err, domainErrors.CodeCancelled, "pipeline cancelled before "+name)
	}
	ctx, span := observability.Tracer.Start(ctx, "pipeline."+name)
	defer span.End()

	start := time.Now()
	err := fn(ctx, state)
	elapsed := time.Since(start)
	observability.PipelineStepDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	if err != nil {
		span.RecordError(err)
		p.logger.Warn("pipeline step failed", "step", name, "location", state.req.Location, "error", err)
		return err
	}
	p.logger.Debug("pipeline step finished", "step", name, "duration", elapsed)
	return nil
}

func (p *Pipeline) excluded(root, path, name string) bool {
	if p.exclude[name] {
		return true
	}
	if len(p.globs) == 0 {
		return false
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, g := range p.globs {
		if g.Match(rel) {
			return true
		}
	}
	return false
}
