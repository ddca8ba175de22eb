// Package evaluate answers capability conditions against a Ready session's
// symbol index.
package evaluate

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	domainErrors "csharp-provider/internal/core/errors"
	"csharp-provider/internal/engine/index"
	"csharp-provider/internal/shared/observability"
	"csharp-provider/internal/shared/util"

	"github.com/getkin/kin-openapi/openapi3"
	"go.opentelemetry.io/otel/attribute"
)

const CapabilityReferenced = "referenced"

type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

type CodeLocation struct {
	Start Position `json:"start_position"`
	End   Position `json:"end_position"`
}

// Incident is one matched reference site. Lines are 1-based, characters
// 0-based.
type Incident struct {
	FileURI              string                 `json:"file_uri"`
	LineNumber           int                    `json:"line_number"`
	CodeLocation         CodeLocation           `json:"code_location"`
	Variables            map[string]interface{} `json:"variables"`
	IsDependencyIncident bool                   `json:"is_dependency_incident"`

	Edge   index.Edge    `json:"-"`
	Symbol *index.Symbol `json:"-"`
}

// Result holds incidents in the index's reference-pass order. An empty
// result is a valid "no match".
type Result struct {
	Matched   bool       `json:"matched"`
	Incidents []Incident `json:"incident_contexts"`
}

// CapabilityInfo is what Capabilities publishes per capability.
type CapabilityInfo struct {
	Name   string           `json:"name"`
	Schema *openapi3.Schema `json:"schema"`
}

type capability struct {
	schema *openapi3.Schema
	eval   func(ctx context.Context, idx *index.Index, root, conditionInfo string) (Result, error)
}

// Evaluator is stateless apart from its capability table and safe for
// concurrent use.
type Evaluator struct {
	logger       *slog.Logger
	capabilities map[string]capability
}

func New(logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Evaluator{logger: logger, capabilities: make(map[string]capability)}
	e.capabilities[CapabilityReferenced] = capability{schema: referencedSchema(), eval: e.referenced}
	return e
}

func (e *Evaluator) Capabilities() []CapabilityInfo {
	names := util.SortedStringKeys(e.capabilities)
	out := make([]CapabilityInfo, 0, len(names))
	for _, name := range names {
		out = append(out, CapabilityInfo{Name: name, Schema: e.capabilities[name].schema})
	}
	return out
}

// Evaluate runs one condition. root is the session location, used to
// resolve relative file_paths.
func (e *Evaluator) Evaluate(ctx context.Context, idx *index.Index, root, capName, conditionInfo string) (Result, error) {
	capName = strings.TrimSpace(capName)
	c, ok := e.capabilities[capName]
	if !ok {
		return Result{}, domainErrors.AddContext(
			domainErrors.Newf(domainErrors.CodeUnknownCapability, "unknown capability %q", capName),
			domainErrors.CtxCapability, capName)
	}
	if idx == nil {
		return Result{}, domainErrors.New(domainErrors.CodeSessionNotReady, "no index to evaluate against")
	}

	ctx, span := observability.Tracer.Start(ctx, "evaluate."+capName)
	defer span.End()

	start := time.Now()
	res, err := c.eval(ctx, idx, root, conditionInfo)
	observability.EvaluateDuration.WithLabelValues(capName).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		return Result{}, domainErrors.AddContext(err, domainErrors.CtxCapability, capName)
	}
	observability.EvaluateMatches.WithLabelValues(capName).Add(float64(len(res.Incidents)))
	span.SetAttributes(attribute.Int("incidents", len(res.Incidents)))
	return res, nil
}

func (e *Evaluator) referenced(ctx context.Context, idx *index.Index, root, conditionInfo string) (Result, error) {
	var payload referencedPayload
	if err := decodeCondition(conditionInfo, e.capabilities[CapabilityReferenced].schema, &payload); err != nil {
		return Result{}, err
	}
	cond := payload.Referenced
	if cond == nil {
		return Result{}, domainErrors.New(domainErrors.CodeInvalidCondition, "referenced condition is missing")
	}

	pattern, err := index.CompilePattern(cond.Pattern)
	if err != nil {
		return Result{}, err
	}
	files := resolveFilePaths(root, cond.FilePaths)

	edges := idx.ReferencesMatching(pattern, func(edge index.Edge) bool {
		return cond.accepts(edge.Kind) && inFiles(edge.Site.File, files)
	})
	if err := ctx.Err(); err != nil {
		return Result{}, domainErrors.Wrap(err, domainErrors.CodeCancelled, "evaluation cancelled")
	}

	res := Result{Incidents: make([]Incident, 0, len(edges))}
	for _, edge := range edges {
		res.Incidents = append(res.Incidents, incidentFor(idx, edge))
	}
	res.Matched = len(res.Incidents) > 0

	e.logger.Debug("referenced evaluated",
		"pattern", cond.Pattern,
		"location", cond.Location,
		"incidents", len(res.Incidents),
	)
	return res, nil
}

func incidentFor(idx *index.Index, edge index.Edge) Incident {
	uri := util.FileURI(edge.Site.File)
	vars := map[string]interface{}{
		"file":   uri,
		"name":   edge.Name,
		"target": edge.Target,
		"kind":   string(edge.Kind),
	}
	if edge.Package != "" {
		vars["package"] = edge.Package
	}

	inc := Incident{
		FileURI:    uri,
		LineNumber: edge.Site.Line,
		CodeLocation: CodeLocation{
			Start: Position{Line: edge.Site.Line, Character: max(edge.Site.Column-1, 0)},
			End:   Position{Line: edge.Site.EndLine, Character: max(edge.Site.EndColumn-1, 0)},
		},
		Variables: vars,
		Edge:      edge,
	}
	if edge.Resolved && edge.TargetID != "" {
		if sym, ok := idx.Symbol(edge.TargetID); ok {
			inc.Symbol = &sym
		}
	}
	return inc
}

func resolveFilePaths(root string, paths []string) []string {
	if len(paths) == 0 {
		return nil
	}
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		p = strings.TrimPrefix(p, "file://")
		if !filepath.IsAbs(p) && root != "" {
			p = filepath.Join(root, p)
		}
		out = append(out, filepath.Clean(p))
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}

func inFiles(file string, files []string) bool {
	if files == nil {
		return true
	}
	for _, f := range files {
		if util.HasPathPrefix(file, f) {
			return true
		}
	}
	return false
}
