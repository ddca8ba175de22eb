package pipeline

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	domainErrors "csharp-provider/internal/core/errors"
	"csharp-provider/internal/engine/tools"

	"golang.org/x/sync/errgroup"
)

// decompile runs the decompiler over every assembly of each resolved
// package. The decompiler is probed first so a missing executable fails the
// step even when no package needs decompiling.
func (p *Pipeline) decompile(ctx context.Context, s *runState) error {
	cmd, err := p.resolve(tools.Decompiler, s.req.DecompilerCmd, tools.DefaultDecompilerCmd)
	if err != nil {
		return err
	}

	out := s.req.OutputDir
	if out == "" {
		out = filepath.Join(s.req.Location, "obj", "csharp-provider")
	}
	if err := os.RemoveAll(out); err != nil {
		return domainErrors.Wrap(err, domainErrors.CodeInternal, "clearing decompile output")
	}
	s.decompiled = make(map[string]string)

	type job struct {
		pkg string
		dll string
		out string
	}
	var jobs []job
	for _, dep := range s.manifest {
		if !dep.Resolved {
			continue
		}
		dlls, err := assemblies(dep.Location)
		if err != nil {
			s.warn(dep.Location, "listing assemblies of %s: %v", dep.Name, err)
			continue
		}
		if len(dlls) == 0 {
			continue
		}
		pkgOut := filepath.Join(out, dep.Name)
		s.decompiled[dep.Name] = pkgOut
		for _, dll := range dlls {
			base := strings.TrimSuffix(filepath.Base(dll), filepath.Ext(dll))
			jobs = append(jobs, job{pkg: dep.Name, dll: dll, out: filepath.Join(pkgOut, base)})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for _, j := range jobs {
		g.Go(func() error {
			if err := os.MkdirAll(j.out, 0o755); err != nil {
				return domainErrors.Wrap(err, domainErrors.CodeInternal, "creating decompile output")
			}
			_, err := p.runner.Run(gctx, tools.Invocation{
				Kind:    tools.Decompiler,
				Command: cmd,
				Args:    []string{"-p", "-o", j.out, j.dll},
				Dir:     s.req.Location,
				Timeout: s.req.ToolTimeout,
			})
			if err != nil {
				if ctx.Err() != nil {
					return domainErrors.Wrap(ctx.Err(), domainErrors.CodeCancelled, "decompilation cancelled")
				}
				if domainErrors.CodeOf(err) == domainErrors.CodeInternal {
					err = domainErrors.Wrap(err, domainErrors.CodeToolInvocationFailure, "decompiler failed")
				}
				return domainErrors.AddContext(err, domainErrors.CtxFile, j.dll)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	p.logger.Info("decompiled dependencies", "packages", len(s.decompiled), "assemblies", len(jobs))
	return nil
}

// assemblies lists the .dll files under a package's lib directory.
func assemblies(pkgDir string) ([]string, error) {
	lib := filepath.Join(pkgDir, "lib")
	if _, err := os.Stat(lib); os.IsNotExist(err) {
		return nil, nil
	}
	var dlls []string
	err := filepath.WalkDir(lib, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".dll") {
			dlls = append(dlls, path)
		}
		return nil
	})
	sort.Strings(dlls)
	return dlls, err
}
