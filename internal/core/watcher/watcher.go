// Package watcher reports changes to C# project files under the roots of
// ready sessions so their indexes can be marked stale.
package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	domainErrors "csharp-provider/internal/core/errors"
	"csharp-provider/internal/shared/observability"
	"csharp-provider/internal/shared/util"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"
)

var (
	sourceExtensions = map[string]bool{
		".cs":      true,
		".csproj":  true,
		".sln":     true,
		".props":   true,
		".targets": true,
	}
	manifestNames = map[string]bool{
		"paket.dependencies": true,
		"paket.lock":         true,
		"packages.config":    true,
	}
)

type Config struct {
	Debounce    time.Duration
	ExcludeDirs []string
	Logger      *slog.Logger
}

type Watcher struct {
	fsWatcher   *fsnotify.Watcher
	debounce    time.Duration
	excludeDirs []glob.Glob
	onChange    func([]string)
	logger      *slog.Logger
	callbackMu  sync.Mutex

	rootsMu sync.Mutex
	roots   []string

	pendingMu sync.Mutex
	pending   map[string]struct{}
	timer     *time.Timer
}

// New compiles the exclude patterns, matched against directory base names.
func New(cfg Config, onChange func([]string)) (*Watcher, error) {
	if onChange == nil {
		return nil, domainErrors.New(domainErrors.CodeInvalidConfig, "watcher requires a change callback")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 500 * time.Millisecond
	}

	compiled := make([]glob.Glob, 0, len(cfg.ExcludeDirs))
	for _, pattern := range cfg.ExcludeDirs {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, domainErrors.AddContext(
				domainErrors.Wrap(err, domainErrors.CodeInvalidConfig, "invalid watcher exclude pattern"),
				domainErrors.CtxPath, pattern)
		}
		compiled = append(compiled, g)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		fsWatcher:   fsw,
		debounce:    cfg.Debounce,
		excludeDirs: compiled,
		onChange:    onChange,
		logger:      cfg.Logger,
		pending:     make(map[string]struct{}),
	}, nil
}

// Start consumes filesystem events until ctx is cancelled or Close is called.
func (w *Watcher) Start(ctx context.Context) {
	go w.run(ctx)
}

// Watch adds root and its subdirectories. Roots already covered by a
// watched root are skipped.
func (w *Watcher) Watch(root string) error {
	root = filepath.Clean(root)
	w.rootsMu.Lock()
	for _, r := range w.roots {
		if util.HasPathPrefix(root, r) {
			w.rootsMu.Unlock()
			return nil
		}
	}
	w.roots = append(w.roots, root)
	w.rootsMu.Unlock()

	if err := w.watchRecursive(root); err != nil {
		return domainErrors.AddContext(
			domainErrors.Wrap(err, domainErrors.CodeInternal, "watching session root"),
			domainErrors.CtxPath, root)
	}
	w.logger.Debug("watching session root", "path", root)
	return nil
}

// Roots returns the watched roots in the order they were added.
func (w *Watcher) Roots() []string {
	w.rootsMu.Lock()
	defer w.rootsMu.Unlock()
	return append([]string(nil), w.roots...)
}

func (w *Watcher) watchRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.excludedDir(path) {
			return filepath.SkipDir
		}
		return w.fsWatcher.Add(path)
	})
}

func (w *Watcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			observability.WatcherEventsTotal.Inc()

			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if w.excludedDir(event.Name) {
						continue
					}
					if err := w.watchRecursive(event.Name); err != nil {
						w.logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
						continue
					}
					w.enqueueExisting(event.Name)
					continue
				}
			}

			if !relevantFile(event.Name) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				w.schedule(event.Name)
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

func (w *Watcher) schedule(path string) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	w.pending[path] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

func (w *Watcher) flush() {
	w.pendingMu.Lock()
	paths := util.SortedStringKeys(w.pending)
	w.pending = make(map[string]struct{})
	w.pendingMu.Unlock()

	if len(paths) == 0 {
		return
	}
	w.callbackMu.Lock()
	defer w.callbackMu.Unlock()
	w.onChange(paths)
}

func (w *Watcher) excludedDir(path string) bool {
	base := filepath.Base(path)
	for _, g := range w.excludeDirs {
		if g.Match(base) {
			return true
		}
	}
	return false
}

func relevantFile(path string) bool {
	base := strings.ToLower(filepath.Base(path))
	if manifestNames[base] {
		return true
	}
	return sourceExtensions[filepath.Ext(base)]
}

func (w *Watcher) enqueueExisting(root string) {
	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if relevantFile(path) {
			w.schedule(path)
		}
		return nil
	})
}

func (w *Watcher) Close() error {
	w.pendingMu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.pendingMu.Unlock()
	return w.fsWatcher.Close()
}
