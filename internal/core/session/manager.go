package session

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	domainErrors "csharp-provider/internal/core/errors"
	"csharp-provider/internal/data/store"
	"csharp-provider/internal/engine/index"
	"csharp-provider/internal/engine/pipeline"
	"csharp-provider/internal/shared/observability"
	"csharp-provider/internal/shared/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type Options struct {
	Builder Builder
	Store   store.Store
	// DecompileDir holds one output directory per fingerprint.
	DecompileDir string
	Defaults     Defaults
	// OnReady, when set, runs after a session reaches Ready.
	OnReady func(Handle)
	Logger  *slog.Logger
}

// Manager is safe for concurrent use. Sessions live until Teardown or
// Close; their indexes outlive the process through the store.
type Manager struct {
	builder      Builder
	store        store.Store
	logger       *slog.Logger
	decompileDir string
	onReady      func(Handle)
	now          func() time.Time

	mu            sync.RWMutex
	defaults      Defaults
	byFingerprint map[string]*session
	byID          map[string]*session
	latest        string
	closed        bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(opts Options) (*Manager, error) {
	if opts.Builder == nil {
		return nil, domainErrors.New(domainErrors.CodeInvalidConfig, "session manager requires a builder")
	}
	if opts.Store == nil {
		return nil, domainErrors.New(domainErrors.CodeInvalidConfig, "session manager requires a store")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		builder:       opts.Builder,
		store:         opts.Store,
		logger:        opts.Logger,
		decompileDir:  opts.DecompileDir,
		onReady:       opts.OnReady,
		now:           time.Now,
		defaults:      opts.Defaults,
		byFingerprint: make(map[string]*session),
		byID:          make(map[string]*session),
		ctx:           ctx,
		cancel:        cancel,
	}
	m.updateGaugesLocked()
	return m, nil
}

// SetDefaults replaces the tool defaults used by later Init calls.
func (m *Manager) SetDefaults(d Defaults) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaults = d
}

// Init brings the session for req's fingerprint to Ready. Concurrent calls
// for one fingerprint share a single build and observe the same outcome. A
// caller whose ctx ends stops waiting; the build is cancelled once no caller
// is left.
func (m *Manager) Init(ctx context.Context, req Request) (Handle, error) {
	ctx, span := observability.Tracer.Start(ctx, "session.Init", trace.WithAttributes(
		attribute.String("location", req.Location),
		attribute.Bool("reinit", req.Reinit),
	))
	defer span.End()

	start := time.Now()
	h, err := m.init(ctx, req)
	observability.InitDuration.WithLabelValues(observability.OutcomeOf(err)).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
	}
	span.SetAttributes(attribute.String("state", string(h.State)))
	return h, err
}

func (m *Manager) init(ctx context.Context, req Request) (Handle, error) {
	m.mu.RLock()
	defaults := m.defaults
	m.mu.RUnlock()

	req, err := normalize(req, defaults)
	if err != nil {
		return Handle{}, err
	}
	fp := Fingerprint(req)

	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return Handle{}, domainErrors.New(domainErrors.CodeCancelled, "session manager is closed")
		}
		s := m.byFingerprint[fp]
		if f := flightOf(s); f != nil && f.cancelled {
			// let the abandoned build wind down, then look again
			m.mu.Unlock()
			select {
			case <-f.done:
				continue
			case <-ctx.Done():
				return Handle{}, domainErrors.Wrap(ctx.Err(), domainErrors.CodeCancelled, "init cancelled")
			}
		}
		if s == nil {
			s = m.newSessionLocked(fp, req)
		}
		m.latest = s.id

		if f := s.flight; f != nil {
			f.waiters++
			m.mu.Unlock()
			return m.await(ctx, f)
		}

		if req.Reinit && (s.state == StateReady || s.state == StateFailed) {
			m.logger.Info("reinitializing session", "session", s.id, "previous_state", s.state)
			s.state = StateUninitialized
			s.idx = nil
			s.err = nil
		}

		switch s.state {
		case StateReady:
			h := s.handle()
			m.mu.Unlock()
			return h, nil
		case StateFailed:
			h, err := s.handle(), s.err
			m.mu.Unlock()
			return h, err
		}

		f := m.startFlightLocked(s, req)
		f.waiters++
		m.mu.Unlock()
		return m.await(ctx, f)
	}
}

func flightOf(s *session) *flight {
	if s == nil {
		return nil
	}
	return s.flight
}

func (m *Manager) newSessionLocked(fp string, req Request) *session {
	now := m.now()
	s := &session{
		id:          uuid.NewString(),
		fingerprint: fp,
		req:         req,
		state:       StateUninitialized,
		createdAt:   now,
		updatedAt:   now,
	}
	m.byFingerprint[fp] = s
	m.byID[s.id] = s
	m.updateGaugesLocked()
	return s
}

func (m *Manager) await(ctx context.Context, f *flight) (Handle, error) {
	select {
	case <-f.done:
		return f.handle, f.err
	case <-ctx.Done():
	}

	m.mu.Lock()
	f.waiters--
	if f.waiters == 0 && !f.cancelled {
		f.cancelled = true
		f.cancel()
	}
	m.mu.Unlock()
	return Handle{}, domainErrors.Wrap(ctx.Err(), domainErrors.CodeCancelled, "init cancelled")
}

func (m *Manager) startFlightLocked(s *session, req Request) *flight {
	fctx, cancel := context.WithCancel(m.ctx)
	f := &flight{done: make(chan struct{}), cancel: cancel}
	s.flight = f
	s.req = req
	s.state = StateInitializing
	s.restored = false
	s.updatedAt = m.now()
	m.updateGaugesLocked()

	id, fp := s.id, s.fingerprint
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()

		logger := m.logger.With("session", id, "fingerprint", shortFingerprint(fp))
		start := time.Now()
		idx, restored, err := m.build(fctx, logger, id, fp, req)
		if err != nil && fctx.Err() != nil && !domainErrors.IsCode(err, domainErrors.CodeCancelled) {
			err = domainErrors.Wrap(err, domainErrors.CodeCancelled, "init cancelled")
		}
		next := outcomeState(err)
		if next == StateFailed && !fromStore(err) {
			m.recordFailure(logger, id, fp, req, err)
		}
		m.finish(s, f, next, idx, restored, err)

		if err != nil {
			logger.Warn("session init finished", "state", next, "duration", time.Since(start), "error", err)
			return
		}
		logger.Info("session ready", "restored", restored, "duration", time.Since(start))
	}()
	return f
}

// build restores the index from the store or runs the pipeline and
// persists its result.
func (m *Manager) build(ctx context.Context, logger *slog.Logger, id, fp string, req Request) (*index.Index, bool, error) {
	if req.Reinit {
		if err := m.store.Invalidate(ctx, fp); err != nil {
			return nil, false, err
		}
	} else {
		idx, _, ok, err := m.store.Get(ctx, fp)
		switch {
		case err != nil:
			logger.Warn("stored index unreadable, rebuilding", "error", err)
		case ok:
			return idx, true, nil
		default:
			meta, ok, err := m.store.Metadata(ctx, fp)
			if err == nil && ok && meta.State == string(StateFailed) && meta.ErrorCode != "" {
				return nil, false, &storedFailure{err: domainErrors.AddContext(
					domainErrors.New(domainErrors.ErrorCode(meta.ErrorCode), meta.ErrorMessage),
					domainErrors.CtxFingerprint, fp)}
			}
		}
	}

	idx, err := m.builder.Run(ctx, pipeline.Request{
		Location:      req.Location,
		Mode:          req.Mode,
		DecompilerCmd: req.DecompilerCmd,
		DependencyCmd: req.DependencyCmd,
		ToolTimeout:   req.ToolTimeout,
		OutputDir:     m.outputDir(fp),
	})
	if err != nil {
		return nil, false, err
	}

	now := m.now()
	meta := store.Metadata{
		Fingerprint: fp,
		SessionID:   id,
		Location:    req.Location,
		Mode:        string(req.Mode),
		State:       string(StateReady),
		Warnings:    idx.Warnings(),
		Stats:       idx.Stats(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.store.Put(ctx, fp, idx, meta); err != nil {
		return nil, false, err
	}
	return idx, false, nil
}

func (m *Manager) outputDir(fp string) string {
	if m.decompileDir == "" {
		return ""
	}
	return filepath.Join(m.decompileDir, shortFingerprint(fp))
}

// recordFailure persists a terminal failure so a restarted provider reports
// it instead of rebuilding.
func (m *Manager) recordFailure(logger *slog.Logger, id, fp string, req Request, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	now := m.now()
	err := m.store.PutMetadata(ctx, store.Metadata{
		Fingerprint:  fp,
		SessionID:    id,
		Location:     req.Location,
		Mode:         string(req.Mode),
		State:        string(StateFailed),
		ErrorCode:    string(domainErrors.CodeOf(cause)),
		ErrorMessage: cause.Error(),
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		logger.Warn("recording session failure", "error", err)
	}
}

func (m *Manager) finish(s *session, f *flight, next State, idx *index.Index, restored bool, err error) {
	if sf, ok := err.(*storedFailure); ok {
		err = sf.err
	}

	m.mu.Lock()
	s.flight = nil
	if s.torndown {
		f.handle = s.handle()
		f.err = domainErrors.AddContext(
			domainErrors.New(domainErrors.CodeCancelled, "session torn down"),
			domainErrors.CtxSession, s.id)
		if m.byFingerprint[s.fingerprint] == s {
			delete(m.byFingerprint, s.fingerprint)
		}
		close(f.done)
		m.mu.Unlock()
		return
	}
	s.state = next
	s.updatedAt = m.now()
	s.err = err
	s.idx = nil
	s.restored = false
	observability.IndexSymbols.DeleteLabelValues(s.id)
	observability.IndexEdges.DeleteLabelValues(s.id)
	if next == StateReady {
		s.idx = idx
		s.stale = false
		s.restored = restored
		st := idx.Stats()
		observability.IndexSymbols.WithLabelValues(s.id).Set(float64(st.Symbols))
		observability.IndexEdges.WithLabelValues(s.id).Set(float64(st.Edges))
	}

	f.handle = s.handle()
	f.err = err
	m.updateGaugesLocked()
	close(f.done)
	m.mu.Unlock()

	if next == StateReady && m.onReady != nil {
		m.onReady(f.handle)
	}
}

// outcomeState maps a build error to the session's next state. Failures a
// caller can fix by retrying with other tools or config leave the session
// Uninitialized.
func outcomeState(err error) State {
	if err == nil {
		return StateReady
	}
	switch domainErrors.CodeOf(err) {
	case domainErrors.CodeToolInvocationFailure, domainErrors.CodeInvalidConfig, domainErrors.CodeCancelled:
		return StateUninitialized
	}
	return StateFailed
}

// storedFailure marks a failure read back from the store.
type storedFailure struct {
	err error
}

func (e *storedFailure) Error() string { return e.err.Error() }
func (e *storedFailure) Unwrap() error { return e.err }

func fromStore(err error) bool {
	_, ok := err.(*storedFailure)
	return ok
}

// Index returns the immutable index of a Ready session. An empty id selects
// the most recently initialized session.
func (m *Manager) Index(id string) (*index.Index, Handle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, err := m.lookupLocked(id)
	if err != nil {
		return nil, Handle{}, err
	}
	if s.state != StateReady || s.idx == nil {
		return nil, s.handle(), domainErrors.AddContext(
			domainErrors.Newf(domainErrors.CodeSessionNotReady, "session is %s", s.state),
			domainErrors.CtxSession, s.id)
	}
	return s.idx, s.handle(), nil
}

func (m *Manager) lookupLocked(id string) (*session, error) {
	if id == "" {
		id = m.latest
	}
	s, ok := m.byID[id]
	if !ok {
		return nil, domainErrors.AddContext(
			domainErrors.New(domainErrors.CodeSessionNotReady, "no initialized session"),
			domainErrors.CtxSession, id)
	}
	return s, nil
}

// Get returns the current view of a session.
func (m *Manager) Get(id string) (Handle, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, err := m.lookupLocked(id)
	if err != nil {
		return Handle{}, false
	}
	return s.handle(), true
}

// Sessions lists every known session in creation order.
func (m *Manager) Sessions() []Handle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Handle, 0, len(m.byID))
	for _, s := range m.byID {
		out = append(out, s.handle())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// MarkStale flags Ready sessions whose location contains one of paths and
// returns their IDs. Stale sessions keep serving their index until a reinit.
func (m *Manager) MarkStale(paths []string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []string
	for _, s := range m.byID {
		if s.state != StateReady {
			continue
		}
		for _, p := range paths {
			if util.HasPathPrefix(p, s.req.Location) {
				s.stale = true
				ids = append(ids, s.id)
				break
			}
		}
	}
	sort.Strings(ids)
	return ids
}

// Teardown forgets a session and cancels its build. A later Init of the same
// fingerprint waits for that build to return before starting its own. The
// stored index stays valid for it.
func (m *Manager) Teardown(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.byID[id]
	if !ok {
		return domainErrors.AddContext(
			domainErrors.New(domainErrors.CodeNotFound, "unknown session"),
			domainErrors.CtxSession, id)
	}
	delete(m.byID, id)
	if f := s.flight; f != nil {
		if !f.cancelled {
			f.cancelled = true
			f.cancel()
		}
		s.torndown = true
	} else if m.byFingerprint[s.fingerprint] == s {
		delete(m.byFingerprint, s.fingerprint)
	}
	observability.IndexSymbols.DeleteLabelValues(id)
	observability.IndexEdges.DeleteLabelValues(id)
	if m.latest == id {
		m.latest = ""
	}
	m.updateGaugesLocked()
	m.logger.Info("session torn down", "session", id)
	return nil
}

// Close cancels every build and waits for them to return. It does not close
// the store.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	for _, s := range m.byID {
		if f := s.flight; f != nil {
			f.cancelled = true
		}
	}
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
	return nil
}

func (m *Manager) updateGaugesLocked() {
	counts := make(map[State]int, len(states))
	for _, s := range m.byID {
		counts[s.state]++
	}
	for _, st := range states {
		observability.Sessions.WithLabelValues(string(st)).Set(float64(counts[st]))
	}
}

func shortFingerprint(fp string) string {
	if len(fp) > 16 {
		return fp[:16]
	}
	return fp
}
