package recovery

import (
	"sync"
	"time"

	"github.com/openartifacts/canvasd/internal/artifact"
	"github.com/openartifacts/canvasd/internal/classify"
)

// MaxAttempts bounds automatic recovery per artifact identity
const MaxAttempts = 2

// DefaultFixDelay is how long the orchestrator waits before requesting a
// model fix. The delay fires even if the sandbox self-corrects in the
// meantime; see the note on Orchestrator.
const DefaultFixDelay = 1500 * time.Millisecond

// State is the orchestrator state
type State string

const (
	StateIdle           State = "idle"
	StateAutoRecovering State = "auto-recovering"
	StateAwaitingManual State = "awaiting-manual-action"
	StateExhausted      State = "exhausted"
)

// Hooks are the actions the orchestrator can take. All hooks are invoked
// without the internal lock held.
type Hooks struct {
	// RequestFix asks the model to repair the program
	RequestFix func(classify.Error)
	// Retry re-renders with the current strategy
	Retry func()
	// SwitchStrategy falls back to a different renderer
	SwitchStrategy func(artifact.Strategy)
}

// Orchestrator decides, per classified error, whether to retry, switch
// strategy, or request a model fix. One instance exists per displayed
// artifact; Reset is called whenever the artifact identity changes.
//
// Note: the scheduled fix request fires after its fixed delay even when a
// ready message arrives first. That matches the observed upstream
// behavior; whether it is intentional debouncing or a latent double-fix
// is an open review item, so the delay is preserved rather than removed.
type Orchestrator struct {
	hooks    Hooks
	fixDelay time.Duration

	mu       sync.Mutex
	state    State
	attempts int
	strategy artifact.Strategy
	pending  *time.Timer
	lastErr  *classify.Error
}

// New creates an orchestrator in the idle state
func New(strategy artifact.Strategy, hooks Hooks) *Orchestrator {
	return &Orchestrator{
		hooks:    hooks,
		fixDelay: DefaultFixDelay,
		state:    StateIdle,
		strategy: strategy,
	}
}

// SetFixDelay overrides the auto-fix delay. Test hook.
func (o *Orchestrator) SetFixDelay(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fixDelay = d
}

// State returns the current state
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Attempts returns recovery attempts consumed for the current identity
func (o *Orchestrator) Attempts() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.attempts
}

// Strategy returns the strategy currently in effect
func (o *Orchestrator) Strategy() artifact.Strategy {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.strategy
}

// LastError returns the most recent classified error, nil when none
func (o *Orchestrator) LastError() *classify.Error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

// HandleError processes a classified failure. Errors whose policy
// permits automatic action consume an attempt each; the error that
// brings the count to MaxAttempts exhausts the orchestrator instead of
// acting, leaving only the manual affordances.
func (o *Orchestrator) HandleError(cerr classify.Error) {
	o.mu.Lock()

	o.lastErr = &cerr

	automatic := (cerr.Policy == classify.PolicyWithFix && cerr.AutoFixable) ||
		(cerr.Policy == classify.PolicyDifferentRenderer && cerr.Fallback != "") ||
		(cerr.Policy == classify.PolicyRetry && cerr.AutoFixable)
	if !automatic {
		if o.attempts >= MaxAttempts {
			o.state = StateExhausted
		} else {
			o.state = StateAwaitingManual
		}
		o.mu.Unlock()
		return
	}

	o.attempts++
	if o.attempts >= MaxAttempts {
		o.cancelPendingLocked()
		o.state = StateExhausted
		o.mu.Unlock()
		return
	}

	switch cerr.Policy {
	case classify.PolicyWithFix:
		o.state = StateAutoRecovering
		delay := o.fixDelay
		o.cancelPendingLocked()
		o.pending = time.AfterFunc(delay, func() { o.firePendingFix(cerr) })
		o.mu.Unlock()

	case classify.PolicyDifferentRenderer:
		o.strategy = cerr.Fallback
		o.state = StateIdle
		hook := o.hooks.SwitchStrategy
		fallback := cerr.Fallback
		o.mu.Unlock()
		if hook != nil {
			hook(fallback)
		}

	default:
		o.state = StateIdle
		hook := o.hooks.Retry
		o.mu.Unlock()
		if hook != nil {
			hook()
		}
	}
}

// firePendingFix runs when the scheduled delay elapses
func (o *Orchestrator) firePendingFix(cerr classify.Error) {
	o.mu.Lock()
	if o.pending == nil {
		// cancelled between firing and acquiring the lock
		o.mu.Unlock()
		return
	}
	o.pending = nil
	if o.state == StateAutoRecovering {
		o.state = StateIdle
	}
	hook := o.hooks.RequestFix
	o.mu.Unlock()
	if hook != nil {
		hook(cerr)
	}
}

// HandleReady records a successful load. Attempts are intentionally not
// reset: a later regression counts against the same budget until the
// artifact identity changes.
func (o *Orchestrator) HandleReady() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == StateExhausted {
		return
	}
	o.state = StateIdle
	o.lastErr = nil
}

// RequestFixManually invokes the fix hook directly. Available in every
// state, including exhausted.
func (o *Orchestrator) RequestFixManually() {
	o.mu.Lock()
	cerr := o.lastErr
	hook := o.hooks.RequestFix
	o.mu.Unlock()
	if hook == nil {
		return
	}
	if cerr != nil {
		hook(*cerr)
	} else {
		hook(classify.Error{Kind: classify.KindUnknown})
	}
}

// RetryManually invokes the retry hook directly and counts the attempt
func (o *Orchestrator) RetryManually() {
	o.mu.Lock()
	o.attempts++
	o.state = StateIdle
	hook := o.hooks.Retry
	o.mu.Unlock()
	if hook != nil {
		hook()
	}
}

// SwitchManually switches strategy at the user's request
func (o *Orchestrator) SwitchManually(s artifact.Strategy) {
	o.mu.Lock()
	o.attempts++
	o.strategy = s
	o.state = StateIdle
	hook := o.hooks.SwitchStrategy
	o.mu.Unlock()
	if hook != nil {
		hook(s)
	}
}

// Reset returns the orchestrator to its initial state for a new artifact
// identity, cancelling any scheduled fix.
func (o *Orchestrator) Reset(strategy artifact.Strategy) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancelPendingLocked()
	o.state = StateIdle
	o.attempts = 0
	o.strategy = strategy
	o.lastErr = nil
}

// Cancel stops any scheduled automatic action. Must be called on teardown
// so a stale callback cannot fire against a replaced context.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancelPendingLocked()
	if o.state == StateAutoRecovering {
		o.state = StateIdle
	}
}

func (o *Orchestrator) cancelPendingLocked() {
	if o.pending != nil {
		o.pending.Stop()
		o.pending = nil
	}
}
