package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"encoding/xml"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	domainErrors "csharp-provider/internal/core/errors"
	"csharp-provider/internal/engine/index"
	"csharp-provider/internal/engine/tools"
)

// resolveDependencies runs `paket convert-from-nuget -f` in the project and
// reads the pinned packages from its output. A failure is tolerated only
// when the project declares no external packages.
func (p *Pipeline) resolveDependencies(ctx context.Context, s *runState) error {
	manifest, err := p.runDependencyTool(ctx, s.req)
	if err == nil {
		s.manifest = manifest
		return nil
	}
	if domainErrors.IsCode(err, domainErrors.CodeCancelled) {
		return err
	}

	declared, scanErr := DeclaredPackages(s.req.Location, p.exclude)
	if scanErr != nil {
		p.logger.Warn("scanning declared packages failed", "location", s.req.Location, "error", scanErr)
	}
	if scanErr == nil && len(declared) == 0 {
		p.logger.Info("dependency tool failed for a project without declared packages; continuing",
			"location", s.req.Location, "error", err)
		s.warn("", "dependency resolution skipped: %v", err)
		return nil
	}
	return err
}

func (p *Pipeline) runDependencyTool(ctx context.Context, req Request) ([]index.DependencyEntry, error) {
	cmd, err := p.resolve(tools.DependencyResolver, req.DependencyCmd, tools.DefaultDependencyCmd)
	if err != nil {
		return nil, err
	}
	res, err := p.runner.Run(ctx, tools.Invocation{
		Kind:    tools.DependencyResolver,
		Command: cmd,
		Args:    []string{"convert-from-nuget", "-f"},
		Dir:     req.Location,
		Timeout: req.ToolTimeout,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, domainErrors.Wrap(ctx.Err(), domainErrors.CodeCancelled, "dependency resolution cancelled")
		}
		if domainErrors.CodeOf(err) == domainErrors.CodeInternal {
			err = domainErrors.Wrap(err, domainErrors.CodeToolInvocationFailure, "dependency resolver failed")
		}
		return nil, domainErrors.AddContext(err, domainErrors.CtxTool, cmd)
	}
	return ParsePinnedPackages(res.Stdout, req.Location), nil
}

// ParsePinnedPackages reads lines of the form
//
//	- Newtonsoft.Json is pinned to 13.0.1
//
// Each package is expected under <location>/packages/<name>; Resolved reports
// whether that directory exists.
func ParsePinnedPackages(out []byte, location string) []index.DependencyEntry {
	const marker = " is pinned to "
	var entries []index.DependencyEntry
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "-") {
			continue
		}
		name, version, ok := strings.Cut(strings.TrimSpace(strings.TrimPrefix(line, "-")), marker)
		if !ok {
			continue
		}
		name, version = strings.TrimSpace(name), strings.TrimSpace(version)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true

		dir := filepath.Join(location, "packages", name)
		info, err := os.Stat(dir)
		entries = append(entries, index.DependencyEntry{
			Name:     name,
			Version:  version,
			Resolved: err == nil && info.IsDir(),
			Location: dir,
		})
	}
	return entries
}

// DeclaredPackage is a package reference found in project files.
type DeclaredPackage struct {
	Name    string
	Version string
	Source  string
}

type packagesConfig struct {
	Packages []struct {
		ID      string `xml:"id,attr"`
		Version string `xml:"version,attr"`
	} `xml:"package"`
}

type csproj struct {
	ItemGroups []struct {
		PackageReferences []struct {
			Include string `xml:"Include,attr"`
			Version string `xml:"Version,attr"`
		} `xml:"PackageReference"`
	} `xml:"ItemGroup"`
}

// DeclaredPackages lists package references from packages.config,
// *.csproj PackageReference items and paket.dependencies files.
func DeclaredPackages(root string, skipDirs map[string]bool) ([]DeclaredPackage, error) {
	var out []DeclaredPackage
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}

		name := d.Name()
		switch {
		case strings.EqualFold(name, "packages.config"):
			var cfg packagesConfig
			if err := decodeXML(path, &cfg); err != nil {
				return nil
			}
			for _, pkg := range cfg.Packages {
				if pkg.ID != "" {
					out = append(out, DeclaredPackage{Name: pkg.ID, Version: pkg.Version, Source: path})
				}
			}
		case strings.EqualFold(filepath.Ext(name), ".csproj"):
			var proj csproj
			if err := decodeXML(path, &proj); err != nil {
				return nil
			}
			for _, group := range proj.ItemGroups {
				for _, ref := range group.PackageReferences {
					if ref.Include != "" {
						out = append(out, DeclaredPackage{Name: ref.Include, Version: ref.Version, Source: path})
					}
				}
			}
		case name == "paket.dependencies":
			pkgs, err := readPaketDependencies(path)
			if err != nil {
				return nil
			}
			out = append(out, pkgs...)
		}
		return nil
	})
	return out, err
}

func decodeXML(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return xml.Unmarshal(data, v)
}

func readPaketDependencies(path string) ([]DeclaredPackage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []DeclaredPackage
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) >= 2 && fields[0] == "nuget" {
			pkg := DeclaredPackage{Name: fields[1], Source: path}
			if len(fields) >= 3 {
				pkg.Version = strings.Join(fields[2:], " ")
			}
			out = append(out, pkg)
		}
	}
	return out, scanner.Err()
}
