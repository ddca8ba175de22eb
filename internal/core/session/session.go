// Package session owns the Init lifecycle: one session per fingerprint, a
// single in-flight build per fingerprint, and the persistent cache lookup
// that lets a restarted provider skip the pipeline.
package session

import (
	"context"
	"time"

	"csharp-provider/internal/engine/index"
	"csharp-provider/internal/engine/pipeline"
)

type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateReady         State = "ready"
	StateFailed        State = "failed"
)

var states = []State{StateUninitialized, StateInitializing, StateReady, StateFailed}

// Request is an Init request after transport decoding.
type Request struct {
	Location      string
	Mode          pipeline.Mode
	DecompilerCmd string
	DependencyCmd string
	ToolTimeout   time.Duration
	// Reinit discards a Ready or Failed session and its stored index.
	Reinit bool
}

// Defaults fill the tool settings an Init request leaves empty.
type Defaults struct {
	DecompilerCmd string
	DependencyCmd string
	ToolTimeout   time.Duration
}

// Builder runs the decompilation pipeline. *pipeline.Pipeline implements it.
type Builder interface {
	Run(ctx context.Context, req pipeline.Request) (*index.Index, error)
}

// Handle is the caller-visible view of a session.
type Handle struct {
	ID          string          `json:"id"`
	Fingerprint string          `json:"fingerprint"`
	Location    string          `json:"location"`
	Mode        pipeline.Mode   `json:"mode"`
	State       State           `json:"state"`
	Stale       bool            `json:"stale,omitempty"`
	Restored    bool            `json:"restored,omitempty"`
	Warnings    []index.Warning `json:"warnings,omitempty"`
	Stats       index.Stats     `json:"stats"`
	LastError   string          `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type session struct {
	id          string
	fingerprint string
	req         Request
	state       State
	idx         *index.Index
	err         error
	stale       bool
	restored    bool
	createdAt   time.Time
	updatedAt   time.Time
	flight      *flight
	// torndown sessions stay registered by fingerprint until their build returns
	torndown bool
}

// flight is one build of a fingerprint. done is closed once handle and err
// hold the outcome.
type flight struct {
	done      chan struct{}
	waiters   int
	cancel    context.CancelFunc
	cancelled bool

	handle Handle
	err    error
}

func (s *session) handle() Handle {
	h := Handle{
		ID:          s.id,
		Fingerprint: s.fingerprint,
		Location:    s.req.Location,
		Mode:        s.req.Mode,
		State:       s.state,
		Stale:       s.stale,
		Restored:    s.restored,
		CreatedAt:   s.createdAt,
		UpdatedAt:   s.updatedAt,
	}
	if s.idx != nil {
		h.Warnings = s.idx.Warnings()
		h.Stats = s.idx.Stats()
	}
	if s.err != nil {
		h.LastError = s.err.Error()
	}
	return h
}
