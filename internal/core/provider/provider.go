// Package provider implements the provider protocol operations on top of
// the session manager and the condition evaluator. Transports decode a
// request into an operation name plus JSON-like arguments and call Handle.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"csharp-provider/internal/core/evaluate"
	domainErrors "csharp-provider/internal/core/errors"
	"csharp-provider/internal/core/session"
	"csharp-provider/internal/engine/pipeline"
	"csharp-provider/internal/shared/util"

	"github.com/go-playground/validator/v10"
)

type Provider struct {
	sessions  *session.Manager
	evaluator *evaluate.Evaluator
	validate  *validator.Validate
	logger    *slog.Logger
}

func New(sessions *session.Manager, evaluator *evaluate.Evaluator, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	if evaluator == nil {
		evaluator = evaluate.New(logger)
	}
	return &Provider{
		sessions:  sessions,
		evaluator: evaluator,
		validate:  validator.New(),
		logger:    logger,
	}
}

// Handle runs one operation. args is the decoded JSON object of the
// request; the result is JSON-serializable.
func (p *Provider) Handle(ctx context.Context, operation string, args map[string]any) (any, error) {
	switch strings.TrimSpace(operation) {
	case OpCapabilities:
		return p.Capabilities(), nil
	case OpInit:
		var req InitRequest
		if err := p.decode(args, &req, domainErrors.CodeInvalidConfig); err != nil {
			return nil, err
		}
		return p.Init(ctx, req)
	case OpEvaluate:
		var req EvaluateRequest
		if err := p.decode(args, &req, domainErrors.CodeInvalidCondition); err != nil {
			return nil, err
		}
		return p.Evaluate(ctx, req)
	case OpStop:
		var req ServiceRequest
		if err := p.decode(args, &req, domainErrors.CodeInvalidConfig); err != nil {
			return nil, err
		}
		return p.Stop(req)
	case OpDependencies:
		var req ServiceRequest
		if err := p.decode(args, &req, domainErrors.CodeInvalidConfig); err != nil {
			return nil, err
		}
		return p.GetDependencies(req)
	case OpDependenciesDAG:
		var req ServiceRequest
		if err := p.decode(args, &req, domainErrors.CodeInvalidConfig); err != nil {
			return nil, err
		}
		return p.GetDependenciesDAG(req)
	case OpNotifyFileChanges:
		var req NotifyFileChangesRequest
		if err := p.decode(args, &req, domainErrors.CodeInvalidConfig); err != nil {
			return nil, err
		}
		return p.NotifyFileChanges(req)
	default:
		return nil, domainErrors.AddContext(
			domainErrors.Newf(domainErrors.CodeNotFound, "unknown operation %q", operation),
			domainErrors.CtxOperation, operation)
	}
}

// decode maps args onto out and runs its validate tags. Failures carry code.
func (p *Provider) decode(args map[string]any, out any, code domainErrors.ErrorCode) error {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return domainErrors.Wrap(err, code, "encoding request arguments")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return domainErrors.Wrap(err, code, "decoding request arguments")
	}
	if err := p.validate.Struct(out); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return domainErrors.Newf(code, "invalid field %s: failed %q", verrs[0].Namespace(), verrs[0].Tag())
		}
		return domainErrors.Wrap(err, code, "validating request arguments")
	}
	return nil
}

func (p *Provider) Capabilities() CapabilitiesResponse {
	return CapabilitiesResponse{Capabilities: p.evaluator.Capabilities()}
}

func (p *Provider) Init(ctx context.Context, req InitRequest) (InitResponse, error) {
	cfg, err := ParseProviderConfig(req.ProviderSpecificConfig)
	if err != nil {
		return InitResponse{}, err
	}
	h, err := p.sessions.Init(ctx, session.Request{
		Location:      req.Location,
		Mode:          pipeline.Mode(req.AnalysisMode),
		DecompilerCmd: cfg.ILSpyCmd,
		DependencyCmd: cfg.PaketCmd,
		ToolTimeout:   cfg.ToolTimeout,
		Reinit:        cfg.Reinit,
	})
	if err != nil {
		p.logger.Warn("init failed", "location", req.Location, "state", h.State, "error", err)
		return InitResponse{}, err
	}
	p.logger.Info("init succeeded",
		"session", h.ID,
		"location", h.Location,
		"restored", h.Restored,
		"symbols", h.Stats.Symbols,
		"warnings", len(h.Warnings),
	)
	return InitResponse{
		Successful: true,
		ID:         h.ID,
		State:      h.State,
		Restored:   h.Restored,
		Warnings:   h.Warnings,
		Stats:      h.Stats,
	}, nil
}

func (p *Provider) Evaluate(ctx context.Context, req EvaluateRequest) (EvaluateResponse, error) {
	idx, h, err := p.sessions.Index(req.ID)
	if err != nil {
		return EvaluateResponse{}, err
	}
	res, err := p.evaluator.Evaluate(ctx, idx, h.Location, req.Cap, req.ConditionInfo)
	if err != nil {
		return EvaluateResponse{}, domainErrors.AddContext(err, domainErrors.CtxSession, h.ID)
	}
	return EvaluateResponse{Successful: true, Response: res}, nil
}

// Stop tears down the named session, or every session when ID is empty.
func (p *Provider) Stop(req ServiceRequest) (StopResponse, error) {
	var ids []string
	if req.ID != "" {
		ids = []string{req.ID}
	} else {
		for _, h := range p.sessions.Sessions() {
			ids = append(ids, h.ID)
		}
	}
	resp := StopResponse{Stopped: []string{}}
	for _, id := range ids {
		if err := p.sessions.Teardown(id); err != nil {
			return resp, err
		}
		resp.Stopped = append(resp.Stopped, id)
	}
	return resp, nil
}

func (p *Provider) GetDependencies(req ServiceRequest) (DependencyResponse, error) {
	idx, h, err := p.sessions.Index(req.ID)
	if err != nil {
		return DependencyResponse{}, err
	}
	deps := make([]Dependency, 0, len(idx.Manifest()))
	for _, d := range idx.Manifest() {
		deps = append(deps, Dependency(d))
	}
	return DependencyResponse{
		Successful: true,
		FileDep:    []FileDependencies{{FileURI: manifestURI(h.Location), Dependencies: deps}},
	}, nil
}

func (p *Provider) GetDependenciesDAG(req ServiceRequest) (DependencyDAGResponse, error) {
	deps, err := p.GetDependencies(req)
	if err != nil {
		return DependencyDAGResponse{}, err
	}
	resp := DependencyDAGResponse{Successful: true}
	for _, fd := range deps.FileDep {
		dag := FileDAG{FileURI: fd.FileURI, List: make([]DAGItem, 0, len(fd.Dependencies))}
		for _, d := range fd.Dependencies {
			dag.List = append(dag.List, DAGItem{Key: d, Direct: true, AddedDeps: []DAGItem{}})
		}
		resp.FileDAGDep = append(resp.FileDAGDep, dag)
	}
	return resp, nil
}

// NotifyFileChanges marks sessions covering a changed file as stale. Their
// indexes keep serving Evaluate until the caller re-inits.
func (p *Provider) NotifyFileChanges(req NotifyFileChangesRequest) (NotifyFileChangesResponse, error) {
	paths := make([]string, 0, len(req.Changes))
	for _, c := range req.Changes {
		paths = append(paths, filepath.Clean(strings.TrimPrefix(c.URI, "file://")))
	}
	stale := p.sessions.MarkStale(paths)
	if len(stale) > 0 {
		p.logger.Info("sessions marked stale", "sessions", stale, "changes", len(paths))
	}
	return NotifyFileChangesResponse{Stale: stale}, nil
}

// manifestURI names the file the dependencies were declared in.
func manifestURI(location string) string {
	for _, name := range []string{"paket.dependencies", "packages.config"} {
		path := filepath.Join(location, name)
		if _, err := os.Stat(path); err == nil {
			return util.FileURI(path)
		}
	}
	return util.FileURI(location)
}

// ErrorBodyOf converts err to its wire form.
func ErrorBodyOf(err error) ErrorBody {
	body := ErrorBody{Code: string(domainErrors.CodeOf(err)), Message: err.Error()}
	var de *domainErrors.DomainError
	if errors.As(err, &de) {
		body.Message = de.Message
		if de.Err != nil {
			body.Message += ": " + de.Err.Error()
		}
		if len(de.Context) > 0 {
			body.Context = make(map[string]any, len(de.Context))
			for k, v := range de.Context {
				body.Context[k] = v
			}
		}
	}
	return body
}
