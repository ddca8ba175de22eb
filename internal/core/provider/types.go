package provider

import (
	"time"

	"csharp-provider/internal/core/evaluate"
	"csharp-provider/internal/core/session"
	"csharp-provider/internal/engine/index"
)

// Operation names accepted by Handle.
const (
	OpCapabilities      = "capabilities"
	OpInit              = "init"
	OpEvaluate          = "evaluate"
	OpStop              = "stop"
	OpDependencies      = "dependencies"
	OpDependenciesDAG   = "dependencies_dag"
	OpNotifyFileChanges = "notify_file_changes"
)

// Operations lists every operation in a stable order.
var Operations = []string{
	OpCapabilities, OpInit, OpEvaluate, OpStop,
	OpDependencies, OpDependenciesDAG, OpNotifyFileChanges,
}

type InitRequest struct {
	Location               string         `json:"location" validate:"required"`
	AnalysisMode           string         `json:"analysis_mode" validate:"omitempty,oneof=full source-only"`
	ProviderSpecificConfig map[string]any `json:"provider_specific_config,omitempty"`
}

// ProviderConfig is the typed view of provider_specific_config.
type ProviderConfig struct {
	ILSpyCmd    string
	PaketCmd    string
	ToolTimeout time.Duration
	Reinit      bool
}

type InitResponse struct {
	Successful bool            `json:"successful"`
	ID         string          `json:"id"`
	State      session.State   `json:"state"`
	Restored   bool            `json:"restored,omitempty"`
	Warnings   []index.Warning `json:"warnings,omitempty"`
	Stats      index.Stats     `json:"stats"`
}

type EvaluateRequest struct {
	ID            string `json:"id"`
	Cap           string `json:"cap" validate:"required"`
	ConditionInfo string `json:"condition_info" validate:"required"`
}

type EvaluateResponse struct {
	Successful bool            `json:"successful"`
	Response   evaluate.Result `json:"response"`
}

type ServiceRequest struct {
	ID string `json:"id"`
}

type StopResponse struct {
	Stopped []string `json:"stopped"`
}

type CapabilitiesResponse struct {
	Capabilities []evaluate.CapabilityInfo `json:"capabilities"`
}

type Dependency struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Resolved bool   `json:"resolved"`
	Location string `json:"location,omitempty"`
}

type FileDependencies struct {
	FileURI      string       `json:"file_uri"`
	Dependencies []Dependency `json:"dependencies"`
}

type DependencyResponse struct {
	Successful bool               `json:"successful"`
	FileDep    []FileDependencies `json:"file_dep"`
}

// DAGItem is one node of the dependency DAG. The manifest carries no
// transitive edges, so every item is direct and AddedDeps stays empty.
type DAGItem struct {
	Key       Dependency `json:"key"`
	Direct    bool       `json:"direct"`
	AddedDeps []DAGItem  `json:"added_deps"`
}

type FileDAG struct {
	FileURI string    `json:"file_uri"`
	List    []DAGItem `json:"list"`
}

type DependencyDAGResponse struct {
	Successful bool      `json:"successful"`
	FileDAGDep []FileDAG `json:"file_dag_dep"`
}

type FileChange struct {
	URI     string `json:"uri" validate:"required"`
	Content string `json:"content,omitempty"`
	Saved   bool   `json:"saved,omitempty"`
}

type NotifyFileChangesRequest struct {
	Changes []FileChange `json:"changes" validate:"dive"`
}

type NotifyFileChangesResponse struct {
	Error string `json:"error"`
	// Stale lists the sessions whose index no longer reflects the changes.
	Stale []string `json:"stale,omitempty"`
}

// ErrorBody is the wire form of a failed operation.
type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
}
