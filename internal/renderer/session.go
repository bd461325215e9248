package renderer

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openartifacts/canvasd/internal/artifact"
	"github.com/openartifacts/canvasd/internal/bundle"
	"github.com/openartifacts/canvasd/internal/classify"
	"github.com/openartifacts/canvasd/internal/logging"
	"github.com/openartifacts/canvasd/internal/monitoring"
	"github.com/openartifacts/canvasd/internal/recovery"
	"github.com/openartifacts/canvasd/internal/sandbox"
	"github.com/openartifacts/canvasd/internal/shim"
	"github.com/openartifacts/canvasd/internal/transpile"
	"github.com/openartifacts/canvasd/internal/watchdog"
)

// Session is the explicit per-artifact context: every piece of mutable
// render state lives here, constructed per artifact identity and discarded
// on teardown. No module-level state is involved.
type Session struct {
	deps deps

	mu        sync.Mutex
	program   *artifact.Program
	strategy  artifact.Strategy
	orch      *recovery.Orchestrator
	instance  *sandbox.Instance
	ref       *bundle.Ref
	gen       uint64 // bumped on identity change and teardown; stale async results check it
	loading   bool
	started   time.Time
	staticOut string
	closed    bool

	log *logging.Logger
}

// deps are the collaborators a session borrows from its dispatcher
type deps struct {
	fetcher   *bundle.Fetcher
	refs      *bundle.Registry
	rewriter  *shim.Rewriter
	runner    PackageRunner
	watchdog  *watchdog.Supervisor
	metrics   *monitoring.Metrics
	callbacks Callbacks

	hostOrigin     string
	runnerDisabled bool
	sandboxTimeout time.Duration
}

func newSession(p *artifact.Program, d deps, log *logging.Logger) *Session {
	s := &Session{
		deps:    d,
		program: p,
		log:     log.Artifact(p.ID),
	}
	s.strategy = artifact.Select(p, d.runnerDisabled || d.runner == nil)
	s.orch = recovery.New(s.strategy, recovery.Hooks{
		RequestFix:     s.requestFix,
		Retry:          s.retry,
		SwitchStrategy: s.switchStrategy,
	})
	return s
}

// Program returns the program currently rendered
func (s *Session) Program() *artifact.Program {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.program
}

// Strategy returns the execution strategy in effect
func (s *Session) Strategy() artifact.Strategy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.strategy
}

// Recovery exposes the per-session orchestrator for manual affordances
func (s *Session) Recovery() *recovery.Orchestrator { return s.orch }

// Loading reports whether a load is counting toward completion
func (s *Session) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// render starts one rendering attempt of exactly one strategy's output
func (s *Session) render(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	gen := s.gen
	p := s.program
	strategy := s.strategy
	wasLoading := s.loading
	s.loading = true
	s.started = time.Now()
	s.mu.Unlock()

	if !wasLoading {
		s.emitLoading(true)
	}
	s.deps.metrics.RendersStarted.WithLabelValues(string(strategy)).Inc()
	s.log.Info("loading started",
		zap.String("strategy", string(strategy)),
		zap.String("kind", string(p.Kind)))

	s.deps.watchdog.Start(p.ID, func() { s.onWatchdogTimeout(gen) })

	if isStatic(p.Kind) {
		s.renderStatic(gen, p)
		return
	}

	switch strategy {
	case artifact.StrategyBundle:
		go s.renderBundle(ctx, gen, p)
	case artifact.StrategyPackageRunner:
		go s.renderViaRunner(ctx, gen, p)
	default:
		go s.renderTranspiled(ctx, gen, p)
	}
}

// renderBundle fetches the bundle, shims it, wraps it in a transient
// reference, and launches it.
func (s *Session) renderBundle(ctx context.Context, gen uint64, p *artifact.Program) {
	html, err := s.deps.fetcher.Fetch(ctx, p.Bundle.URL)
	if err != nil {
		s.deps.metrics.BundleFetches.WithLabelValues("error").Inc()
		if errors.Is(err, artifact.ErrOriginNotAllowed) {
			// security validation failure, raised before any fetch; the
			// bundle is unusable so the only automatic path is a
			// different renderer
			s.failClassified(gen, classify.Error{
				Kind:        classify.KindImport,
				Raw:         err.Error(),
				Title:       "Bundle rejected",
				Description: "The precompiled bundle is hosted on an origin outside the allow-list and was not loaded.",
				Severity:    classify.SeverityCritical,
				AutoFixable: false,
				Policy:      classify.PolicyDifferentRenderer,
				Fallback:    artifact.StrategyTranspile,
			})
			return
		}
		s.failRaw(gen, "Failed to fetch dynamically imported module: "+err.Error())
		return
	}
	s.deps.metrics.BundleFetches.WithLabelValues("ok").Inc()

	shimmed, err := s.deps.rewriter.Apply(html)
	if err != nil {
		// a malformed resolution map is fatal for this artifact
		s.failRaw(gen, "Failed to resolve module: "+err.Error())
		return
	}

	ref, err := s.deps.refs.Create(originOf(p.Bundle.URL), shimmed)
	if err != nil {
		s.failRaw(gen, err.Error())
		return
	}

	s.mu.Lock()
	if gen != s.gen {
		// artifact changed mid-fetch; this result is stale
		s.mu.Unlock()
		ref.Release()
		return
	}
	if s.ref != nil {
		s.ref.Release()
	}
	s.ref = ref
	s.mu.Unlock()
	s.deps.metrics.TransientRefs.Set(float64(s.deps.refs.LiveTotal()))

	doc, err := sandbox.FromBundle(ref.Content)
	if err != nil {
		s.failRaw(gen, err.Error())
		return
	}
	s.launch(ctx, gen, doc)
}

// renderTranspiled transpiles the source and launches the inline document
func (s *Session) renderTranspiled(ctx context.Context, gen uint64, p *artifact.Program) {
	if spec, ok := artifact.FirstExternalImport(p.Source); ok {
		// nothing resolves bare specifiers inline; fail the way a browser
		// would rather than hand the sandbox an import it will reject as
		// a syntax error
		s.failRaw(gen, fmt.Sprintf("Failed to resolve module specifier '%s'", spec))
		return
	}
	res, terr := transpile.Transpile(p.Source, p.Title+".jsx")
	if terr != nil {
		if terr.ToolFailure {
			s.failClassified(gen, classify.Error{
				Kind:        classify.KindSyntax,
				Raw:         terr.Error(),
				Title:       "Compiler unavailable",
				Description: "The transform tool failed to start. Reloading the application may recover it.",
				Severity:    classify.SeverityCritical,
				Policy:      classify.PolicyRetry,
			})
			return
		}
		s.failRaw(gen, "SyntaxError: "+terr.Error())
		return
	}
	s.log.Debug("transpiled", zap.Duration("elapsed", res.Elapsed))
	s.launch(ctx, gen, sandbox.BuildInline(res.Code))
}

// renderViaRunner delegates to the external package-resolving runner and
// adapts its callbacks onto the message protocol.
func (s *Session) renderViaRunner(ctx context.Context, gen uint64, p *artifact.Program) {
	s.deps.runner.Run(ctx, p.Source,
		func() {
			s.dispatch(gen, sandbox.Message{Type: sandbox.TypeReady, Origin: sandbox.NullOrigin})
		},
		func(message string) {
			s.dispatch(gen, sandbox.Message{
				Type:   sandbox.TypeError,
				Origin: sandbox.NullOrigin,
				Text:   sandbox.Truncate(message),
			})
		})
}

// launch swaps in a fresh sandbox instance and pumps its messages
func (s *Session) launch(ctx context.Context, gen uint64, doc sandbox.Document) {
	inst := sandbox.NewInstance(sandbox.Config{
		Timeout:       s.deps.sandboxTimeout,
		EnableConsole: true,
	})

	s.mu.Lock()
	if gen != s.gen || s.closed {
		s.mu.Unlock()
		inst.Close()
		return
	}
	if s.instance != nil {
		s.instance.Close()
	}
	s.instance = inst
	s.mu.Unlock()

	go func() {
		for msg := range inst.Messages() {
			s.dispatch(gen, msg)
		}
	}()
	go func() {
		if err := inst.Launch(ctx, doc); err != nil {
			s.failRaw(gen, err.Error())
		}
	}()
}

// dispatch is the single entry point for every sandbox message. Handlers
// are idempotent: duplicated or reordered delivery never double-counts.
func (s *Session) dispatch(gen uint64, msg sandbox.Message) {
	if !sandbox.Accepted(msg, s.deps.hostOrigin) {
		s.log.Warn("discarded message from untrusted origin", zap.String("origin", msg.Origin))
		return
	}

	s.mu.Lock()
	if gen != s.gen || s.closed {
		s.mu.Unlock()
		return
	}
	id := s.program.ID
	strategy := s.strategy
	started := s.started
	s.mu.Unlock()

	switch msg.Type {
	case sandbox.TypeReady:
		s.deps.watchdog.Stop(id)
		if !s.markLoaded(gen) {
			// duplicate delivery of a ready already accounted for
			return
		}
		s.orch.HandleReady()
		s.emitPreviewError(nil)
		s.deps.metrics.RenderDuration.WithLabelValues(string(strategy)).Observe(time.Since(started).Seconds())
		s.emitRenderComplete(true, "")
		s.log.Info("render ready", zap.String("strategy", string(strategy)))

	case sandbox.TypeError:
		s.deps.watchdog.Stop(id)
		s.markLoaded(gen)
		cerr := classify.Classify(sandbox.Truncate(msg.Text))
		s.handleFailure(cerr)
		s.emitRenderComplete(false, cerr.Raw)

	case sandbox.TypeRenderComplete:
		// purely informational; re-derivable from ready/error above
		s.emitRenderComplete(msg.Success, msg.Text)
	}
}

// handleFailure routes a classified error through recovery and the host
func (s *Session) handleFailure(cerr classify.Error) {
	s.deps.metrics.RenderFailures.WithLabelValues(string(cerr.Kind)).Inc()
	s.log.Warn("render failed",
		zap.String("error_kind", string(cerr.Kind)),
		zap.String("policy", string(cerr.Policy)),
		zap.String("title", cerr.Title))
	s.emitPreviewError(&cerr)
	s.orch.HandleError(cerr)
}

// failRaw classifies raw failure text and routes it like a sandbox error
func (s *Session) failRaw(gen uint64, raw string) {
	s.mu.Lock()
	if gen != s.gen || s.closed {
		s.mu.Unlock()
		return
	}
	id := s.program.ID
	s.mu.Unlock()

	s.deps.watchdog.Stop(id)
	s.markLoaded(gen)
	cerr := classify.Classify(sandbox.Truncate(raw))
	s.handleFailure(cerr)
	s.emitRenderComplete(false, cerr.Raw)
}

// failClassified routes an already-classified failure
func (s *Session) failClassified(gen uint64, cerr classify.Error) {
	s.mu.Lock()
	if gen != s.gen || s.closed {
		s.mu.Unlock()
		return
	}
	id := s.program.ID
	s.mu.Unlock()

	s.deps.watchdog.Stop(id)
	s.markLoaded(gen)
	s.handleFailure(cerr)
	s.emitRenderComplete(false, cerr.Raw)
}

// onWatchdogTimeout synthesizes the timeout failure. A stuck load is
// assumed unrecoverable automatically, so the error is not auto-fixable.
func (s *Session) onWatchdogTimeout(gen uint64) {
	s.deps.metrics.WatchdogTimeouts.Inc()
	s.failClassified(gen, classify.Error{
		Kind:        classify.KindRuntime,
		Raw:         watchdog.TimeoutMessage,
		Title:       "Artifact took too long",
		Description: "No completion signal arrived in time; the artifact may be stuck in a loop.",
		Severity:    classify.SeverityError,
		AutoFixable: false,
		Policy:      classify.PolicyRetry,
	})
}

// markLoaded clears loading exactly once per attempt, reporting whether
// this call made the transition
func (s *Session) markLoaded(gen uint64) bool {
	s.mu.Lock()
	if gen != s.gen || !s.loading {
		s.mu.Unlock()
		return false
	}
	s.loading = false
	s.mu.Unlock()
	s.emitLoading(false)
	return true
}

// recovery hooks

func (s *Session) requestFix(cerr classify.Error) {
	s.deps.metrics.RecoveryActions.WithLabelValues("fix").Inc()
	if cb := s.deps.callbacks.OnRequestFix; cb != nil {
		cb(s.Program().ID, cerr)
	}
}

func (s *Session) retry() {
	s.deps.metrics.RecoveryActions.WithLabelValues("retry").Inc()
	s.render(context.Background())
}

func (s *Session) switchStrategy(next artifact.Strategy) {
	s.deps.metrics.RecoveryActions.WithLabelValues("fallback").Inc()
	s.mu.Lock()
	s.strategy = next
	id := s.program.ID
	s.mu.Unlock()
	if cb := s.deps.callbacks.OnStrategyChange; cb != nil {
		cb(id, next)
	}
	s.render(context.Background())
}

// replace swaps programs. A new identity resets all recovery state and
// restarts the watchdog; a late-arriving bundle on the same identity only
// re-selects the strategy, never resetting a loading indicator that is
// already counting toward completion.
func (s *Session) replace(ctx context.Context, p *artifact.Program) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	sameIdentity := s.program.ID == p.ID

	if sameIdentity {
		prevStrategy := s.strategy
		s.program = p
		next := artifact.Select(p, s.deps.runnerDisabled || s.deps.runner == nil)
		if next == prevStrategy {
			s.mu.Unlock()
			return
		}
		s.strategy = next
		s.mu.Unlock()
		if cb := s.deps.callbacks.OnStrategyChange; cb != nil {
			cb(p.ID, next)
		}
		s.render(ctx)
		return
	}

	// identity change: full teardown and rebuild
	s.gen++
	oldID := s.program.ID
	s.program = p
	s.strategy = artifact.Select(p, s.deps.runnerDisabled || s.deps.runner == nil)
	s.loading = false
	ref := s.ref
	s.ref = nil
	inst := s.instance
	s.instance = nil
	s.log = s.log.Artifact(p.ID)
	s.mu.Unlock()

	s.deps.watchdog.Stop(oldID)
	s.orch.Reset(s.strategy)
	if ref != nil {
		ref.Release()
	}
	if inst != nil {
		inst.Close()
	}
	s.emitPreviewError(nil)
	s.render(ctx)
}

// close tears the session down, releasing every held resource
func (s *Session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.gen++
	id := s.program.ID
	ref := s.ref
	s.ref = nil
	inst := s.instance
	s.instance = nil
	s.mu.Unlock()

	s.deps.watchdog.Stop(id)
	s.orch.Cancel()
	if ref != nil {
		ref.Release()
	}
	if inst != nil {
		inst.Close()
	}
}

func originOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// emit helpers

func (s *Session) emitLoading(loading bool) {
	if cb := s.deps.callbacks.OnLoading; cb != nil {
		cb(s.Program().ID, loading)
	}
}

func (s *Session) emitPreviewError(cerr *classify.Error) {
	if cb := s.deps.callbacks.OnPreviewError; cb != nil {
		cb(s.Program().ID, cerr)
	}
}

func (s *Session) emitRenderComplete(success bool, errText string) {
	if cb := s.deps.callbacks.OnRenderComplete; cb != nil {
		cb(s.Program().ID, success, errText)
	}
}
