package renderer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/openartifacts/canvasd/internal/artifact"
	"github.com/openartifacts/canvasd/internal/bundle"
	"github.com/openartifacts/canvasd/internal/logging"
	"github.com/openartifacts/canvasd/internal/monitoring"
	"github.com/openartifacts/canvasd/internal/shim"
	"github.com/openartifacts/canvasd/internal/watchdog"
)

// ErrNotFound is returned for operations on an unknown artifact
var ErrNotFound = errors.New("no session for artifact")

// Options configures a dispatcher
type Options struct {
	HostOrigin           string
	AllowedOrigins       []string
	PerOriginRefs        int
	DisablePackageRunner bool
	WatchdogTimeout      time.Duration
	SandboxTimeout       time.Duration
	Runner               PackageRunner // nil disables the strategy
	Callbacks            Callbacks
	Metrics              *monitoring.Metrics
	Logger               *logging.Logger
}

// Dispatcher owns one render session per displayed artifact and the
// collaborators they share. It is the only entry point the host uses.
type Dispatcher struct {
	deps deps
	log  *logging.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewDispatcher wires the full pipeline
func NewDispatcher(opts Options) *Dispatcher {
	if opts.Metrics == nil {
		opts.Metrics = monitoring.New()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewDefault()
	}
	if opts.SandboxTimeout <= 0 {
		opts.SandboxTimeout = 5 * time.Second
	}
	return &Dispatcher{
		deps: deps{
			fetcher:        bundle.NewFetcher(opts.AllowedOrigins),
			refs:           bundle.NewRegistry(opts.PerOriginRefs),
			rewriter:       shim.New(),
			runner:         opts.Runner,
			watchdog:       watchdog.New(opts.WatchdogTimeout),
			metrics:        opts.Metrics,
			callbacks:      opts.Callbacks,
			hostOrigin:     opts.HostOrigin,
			runnerDisabled: opts.DisablePackageRunner,
			sandboxTimeout: opts.SandboxTimeout,
		},
		log:      opts.Logger,
		sessions: make(map[string]*Session),
	}
}

// Render creates a session for the program (or replaces the program in an
// existing session that renders a predecessor) and starts rendering.
func (d *Dispatcher) Render(ctx context.Context, p *artifact.Program) (*Session, error) {
	if p == nil || !p.Kind.Valid() {
		return nil, errors.New("invalid artifact program")
	}

	d.mu.Lock()
	s, ok := d.sessions[p.ID]
	if ok {
		d.mu.Unlock()
		s.replace(ctx, p)
		return s, nil
	}
	s = newSession(p, d.deps, d.log)
	d.sessions[p.ID] = s
	d.deps.metrics.ActiveArtifacts.Set(float64(len(d.sessions)))
	d.mu.Unlock()

	s.render(ctx)
	return s, nil
}

// Update replaces the program rendered by the session currently keyed by
// prevID. An identity change re-keys the session; a same-identity update
// (a bundle reference arriving late) re-selects the strategy in place.
func (d *Dispatcher) Update(ctx context.Context, prevID string, p *artifact.Program) error {
	d.mu.Lock()
	s, ok := d.sessions[prevID]
	if !ok {
		d.mu.Unlock()
		return ErrNotFound
	}
	if prevID != p.ID {
		delete(d.sessions, prevID)
		d.sessions[p.ID] = s
	}
	d.mu.Unlock()

	s.replace(ctx, p)
	return nil
}

// Session returns the live session for an artifact
func (d *Dispatcher) Session(artifactID string) (*Session, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sessions[artifactID]
	return s, ok
}

// Close tears down one artifact's session; other artifacts are unaffected
func (d *Dispatcher) Close(artifactID string) error {
	d.mu.Lock()
	s, ok := d.sessions[artifactID]
	if ok {
		delete(d.sessions, artifactID)
		d.deps.metrics.ActiveArtifacts.Set(float64(len(d.sessions)))
	}
	d.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	s.close()
	return nil
}

// CloseAll tears down every session
func (d *Dispatcher) CloseAll() {
	d.mu.Lock()
	sessions := make([]*Session, 0, len(d.sessions))
	for id, s := range d.sessions {
		sessions = append(sessions, s)
		delete(d.sessions, id)
	}
	d.deps.metrics.ActiveArtifacts.Set(0)
	d.mu.Unlock()
	for _, s := range sessions {
		s.close()
	}
	d.deps.watchdog.StopAll()
}
