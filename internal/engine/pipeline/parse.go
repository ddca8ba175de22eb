package pipeline

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	domainErrors "csharp-provider/internal/core/errors"
	"csharp-provider/internal/engine/parser"
	"csharp-provider/internal/shared/util"

	"golang.org/x/sync/errgroup"
)

type sourceFile struct {
	path    string
	origin  parser.Origin
	pkg     string
	skipMsg string
}

// parse parses the project's C# files plus any decompiled dependency
// sources. Unreadable or malformed files become warnings.
func (p *Pipeline) parse(ctx context.Context, s *runState) error {
	sources, err := p.collectSources(s)
	if err != nil {
		return domainErrors.AddContext(
			domainErrors.Wrap(err, domainErrors.CodeParseFailure, "walking project"),
			domainErrors.CtxPath, s.req.Location,
		)
	}

	results := make([]*parser.File, len(sources))
	problems := make([]string, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, src := range sources {
		if src.skipMsg != "" {
			problems[i] = src.skipMsg
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			content, err := os.ReadFile(src.path)
			if err != nil {
				problems[i] = "read failed: " + err.Error()
				return nil
			}
			file, err := p.parser.ParseFile(src.path, content)
			if err != nil {
				problems[i] = err.Error()
				return nil
			}
			file.Origin = src.origin
			file.Package = src.pkg
			results[i] = file
			if summary := parser.ProblemSummary(file); summary != "" {
				problems[i] = summary
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domainErrors.Wrap(err, domainErrors.CodeCancelled, "parse cancelled")
	}

	for i, src := range sources {
		if problems[i] != "" {
			s.warn(src.path, "%s", problems[i])
		}
		if results[i] != nil {
			s.files = append(s.files, results[i])
		}
	}
	p.logger.Info("parsed sources", "files", len(s.files), "warnings", len(s.warnings))
	return nil
}

func (p *Pipeline) collectSources(s *runState) ([]sourceFile, error) {
	var sources []sourceFile
	outputRoot := filepath.Clean(s.req.OutputDir)

	err := filepath.WalkDir(s.req.Location, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == s.req.Location {
				return err
			}
			s.warn(path, "skipped: %v", err)
			return nil
		}
		if d.IsDir() {
			if path == s.req.Location {
				return nil
			}
			if filepath.Clean(path) == outputRoot || p.excluded(s.req.Location, path, d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !isCSharp(path) || p.excluded(s.req.Location, path, d.Name()) {
			return nil
		}
		src := sourceFile{path: path, origin: parser.OriginSource}
		if p.maxBytes > 0 {
			if info, err := d.Info(); err == nil && info.Size() > p.maxBytes {
				src.skipMsg = "skipped: file exceeds max_file_size"
			}
		}
		sources = append(sources, src)
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, pkg := range util.SortedStringKeys(s.decompiled) {
		root := s.decompiled[pkg]
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if !d.IsDir() && isCSharp(path) {
				sources = append(sources, sourceFile{path: path, origin: parser.OriginDependency, pkg: pkg})
			}
			return nil
		})
	}

	sort.SliceStable(sources, func(i, j int) bool { return sources[i].path < sources[j].path })
	return sources, nil
}

func isCSharp(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".cs")
}
