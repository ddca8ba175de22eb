package session

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sort"
	"strings"

	domainErrors "csharp-provider/internal/core/errors"
	"csharp-provider/internal/engine/pipeline"
)

// Fingerprint identifies a session by its normalized location and the
// configuration that shapes the index. The tool timeout is excluded: it
// bounds a build without changing its result.
func Fingerprint(req Request) string {
	parts := []string{
		"location:" + req.Location,
		"mode:" + string(req.Mode),
	}
	if req.Mode != pipeline.ModeSourceOnly {
		parts = append(parts,
			"decompiler:"+req.DecompilerCmd,
			"dependency:"+req.DependencyCmd,
		)
	}
	sort.Strings(parts)

	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(hash[:])
}

// normalize validates req and fills defaults so equal configurations
// produce equal fingerprints.
func normalize(req Request, defaults Defaults) (Request, error) {
	location := strings.TrimSpace(req.Location)
	if location == "" {
		return req, domainErrors.New(domainErrors.CodeInvalidConfig, "location is required")
	}
	abs, err := filepath.Abs(location)
	if err != nil {
		return req, domainErrors.AddContext(
			domainErrors.Wrap(err, domainErrors.CodeInvalidConfig, "resolving location"),
			domainErrors.CtxPath, location)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return req, domainErrors.AddContext(
			domainErrors.Wrap(err, domainErrors.CodeInvalidConfig, "location is not accessible"),
			domainErrors.CtxPath, abs)
	}
	if !info.IsDir() {
		return req, domainErrors.AddContext(
			domainErrors.New(domainErrors.CodeInvalidConfig, "location is not a directory"),
			domainErrors.CtxPath, abs)
	}
	req.Location = filepath.Clean(abs)

	switch pipeline.Mode(strings.ToLower(strings.TrimSpace(string(req.Mode)))) {
	case "", pipeline.ModeFull:
		req.Mode = pipeline.ModeFull
	case pipeline.ModeSourceOnly:
		req.Mode = pipeline.ModeSourceOnly
	default:
		return req, domainErrors.Newf(domainErrors.CodeInvalidConfig, "unknown analysis mode %q", req.Mode)
	}

	req.DecompilerCmd = strings.TrimSpace(req.DecompilerCmd)
	if req.DecompilerCmd == "" {
		req.DecompilerCmd = defaults.DecompilerCmd
	}
	req.DependencyCmd = strings.TrimSpace(req.DependencyCmd)
	if req.DependencyCmd == "" {
		req.DependencyCmd = defaults.DependencyCmd
	}
	if req.ToolTimeout < 0 {
		return req, domainErrors.Newf(domainErrors.CodeInvalidConfig, "tool timeout must not be negative, got %s", req.ToolTimeout)
	}
	if req.ToolTimeout == 0 {
		req.ToolTimeout = defaults.ToolTimeout
	}
	return req, nil
}
