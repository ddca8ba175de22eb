package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	domainErrors "csharp-provider/internal/core/errors"
)

func startWatcher(t *testing.T, cfg Config) (*Watcher, chan []string) {
	t.Helper()
	changed := make(chan []string, 16)
	cfg.Debounce = 50 * time.Millisecond
	w, err := New(cfg, func(paths []string) { changed <- paths })
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	t.Cleanup(func() {
		cancel()
		w.Close()
	})
	return w, changed
}

func waitFor(t *testing.T, changed chan []string, want string) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case paths := <-changed:
			for _, p := range paths {
				if p == want {
					return
				}
			}
		case <-timeout:
			t.Fatalf("timed out waiting for change to %s", want)
		}
	}
}

func TestNewRejectsNilCallback(t *testing.T) {
	w, err := New(Config{}, nil)
	if !domainErrors.IsCode(err, domainErrors.CodeInvalidConfig) {
		t.Fatalf("expected invalid config, got %v", err)
	}
	if w != nil {
		t.Fatal("expected nil watcher")
	}
}

func TestNewRejectsBadPattern(t *testing.T) {
	if _, err := New(Config{ExcludeDirs: []string{"[bin"}}, func([]string) {}); err == nil {
		t.Fatal("expected error for malformed exclude pattern")
	}
}

func TestWatcherReportsSourceChanges(t *testing.T) {
	root := t.TempDir()
	w, changed := startWatcher(t, Config{})
	if err := w.Watch(root); err != nil {
		t.Fatal(err)
	}

	source := filepath.Join(root, "Program.cs")
	if err := os.WriteFile(source, []byte("class Program {}"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, changed, source)

	// Files that cannot affect the index are ignored.
	if err := os.WriteFile(filepath.Join(root, "README.md"), []byte("docs"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case paths := <-changed:
		for _, p := range paths {
			if filepath.Base(p) == "README.md" {
				t.Fatalf("unexpected change for %s", p)
			}
		}
	case <-time.After(300 * time.Millisecond):
	}

	manifest := filepath.Join(root, "paket.dependencies")
	if err := os.WriteFile(manifest, []byte("nuget EntityFramework 6.4.4"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, changed, manifest)
}

func TestWatcherFollowsNewDirectories(t *testing.T) {
	root := t.TempDir()
	w, changed := startWatcher(t, Config{})
	if err := w.Watch(root); err != nil {
		t.Fatal(err)
	}

	sub := filepath.Join(root, "Controllers")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	nested := filepath.Join(sub, "HomeController.cs")
	if err := os.WriteFile(nested, []byte("class HomeController {}"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, changed, nested)
}

func TestWatcherSkipsExcludedDirectories(t *testing.T) {
	root := t.TempDir()
	bin := filepath.Join(root, "bin")
	if err := os.MkdirAll(bin, 0o755); err != nil {
		t.Fatal(err)
	}
	w, changed := startWatcher(t, Config{ExcludeDirs: []string{"bin", "obj"}})
	if err := w.Watch(root); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(bin, "Generated.cs"), []byte("class G {}"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case paths := <-changed:
		t.Fatalf("unexpected changes in excluded dir: %v", paths)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatchSkipsCoveredRoots(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "src")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	w, _ := startWatcher(t, Config{})
	if err := w.Watch(root); err != nil {
		t.Fatal(err)
	}
	if err := w.Watch(sub); err != nil {
		t.Fatal(err)
	}
	if err := w.Watch(root); err != nil {
		t.Fatal(err)
	}
	if got := w.Roots(); len(got) != 1 || got[0] != root {
		t.Fatalf("expected only %s, got %v", root, got)
	}
}

func TestWatchMissingRoot(t *testing.T) {
	w, _ := startWatcher(t, Config{})
	if err := w.Watch(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing root")
	}
}

func TestRelevantFile(t *testing.T) {
	cases := map[string]bool{
		"/src/App/Program.cs":       true,
		"/src/App/App.csproj":       true,
		"/src/App/PACKAGES.CONFIG":  true,
		"/src/paket.lock":           true,
		"/src/App/obj/project.json": false,
		"/src/App/wwwroot/site.css": false,
	}
	for path, want := range cases {
		if got := relevantFile(path); got != want {
			t.Errorf("relevantFile(%q) = %v, want %v", path, got, want)
		}
	}
}
