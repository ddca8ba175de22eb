package tools

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	domainErrors "csharp-provider/internal/core/errors"
)

// Default executable names used when no path is configured.
const (
	DefaultDecompilerCmd = "ilspycmd"
	DefaultDependencyCmd = "paket"
)

// Resolve turns a configured command into an executable path. Commands
// containing a path separator must exist on disk; bare names and the empty
// string (which selects fallback) are looked up on PATH.
func Resolve(kind Kind, configured, fallback string) (string, error) {
	name := strings.TrimSpace(configured)
	if name == "" {
		name = fallback
	}
	if name == "" {
		return "", notFound(kind, configured, fmt.Errorf("no command configured"))
	}

	if strings.ContainsRune(name, filepath.Separator) || strings.Contains(name, "/") {
		info, err := os.Stat(name)
		if err != nil {
			return "", notFound(kind, name, err)
		}
		if info.IsDir() {
			return "", notFound(kind, name, fmt.Errorf("%s is a directory", name))
		}
		if info.Mode()&0o111 == 0 {
			return "", notFound(kind, name, fmt.Errorf("%s is not executable", name))
		}
		return name, nil
	}

	path, err := exec.LookPath(name)
	if err != nil {
		return "", notFound(kind, name, err)
	}
	return path, nil
}

func notFound(kind Kind, name string, err error) error {
	return domainErrors.AddContext(
		domainErrors.Wrap(err, domainErrors.CodeToolInvocationFailure, fmt.Sprintf("%s executable not found", kind)),
		domainErrors.CtxTool, name,
	)
}
