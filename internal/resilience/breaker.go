// Package resilience provides a circuit breaker guarding the storage
// service that serves precompiled bundles. A flapping storage origin trips
// the breaker so artifact renders fail fast to their fallback strategy
// instead of stalling on doomed fetches.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned while the breaker refuses requests
var ErrOpen = errors.New("circuit breaker is open")

// State is the breaker state
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Counts holds request statistics for the current generation
type Counts struct {
	Requests             uint32
	TotalFailures        uint32
	ConsecutiveFailures  uint32
	ConsecutiveSuccesses uint32
}

// Settings configures breaker behavior
type Settings struct {
	// Cooldown is how long the breaker stays open before probing
	Cooldown time.Duration
	// ProbeLimit is the number of requests allowed while half-open
	ProbeLimit uint32
	// ReadyToTrip decides whether a failure in the closed state opens the
	// breaker. Nil defaults to five consecutive failures.
	ReadyToTrip func(Counts) bool
	// OnStateChange observes transitions
	OnStateChange func(name string, from, to State)
}

// Breaker implements the circuit breaker pattern
type Breaker struct {
	name     string
	settings Settings

	mu     sync.Mutex
	state  State
	counts Counts
	expiry time.Time
	gen    uint64
}

// New creates a breaker with the given settings
func New(name string, settings Settings) *Breaker {
	if settings.Cooldown == 0 {
		settings.Cooldown = 30 * time.Second
	}
	if settings.ProbeLimit == 0 {
		settings.ProbeLimit = 1
	}
	if settings.ReadyToTrip == nil {
		settings.ReadyToTrip = func(c Counts) bool {
			return c.ConsecutiveFailures >= 5
		}
	}
	return &Breaker{name: name, settings: settings}
}

// State returns the current state, accounting for cooldown expiry
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState(time.Now())
}

// Do runs fn if the breaker admits it and records the outcome
func (b *Breaker) Do(fn func() error) error {
	gen, err := b.admit()
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			b.record(gen, false)
			panic(r)
		}
	}()
	err = fn()
	b.record(gen, err == nil)
	return err
}

func (b *Breaker) admit() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	switch b.currentState(now) {
	case StateOpen:
		return b.gen, ErrOpen
	case StateHalfOpen:
		if b.counts.Requests >= b.settings.ProbeLimit {
			return b.gen, ErrOpen
		}
	}
	b.counts.Requests++
	return b.gen, nil
}

func (b *Breaker) record(gen uint64, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state := b.currentState(now)
	if gen != b.gen {
		// outcome from a previous generation, state already moved on
		return
	}

	if success {
		b.counts.ConsecutiveSuccesses++
		b.counts.ConsecutiveFailures = 0
		if state == StateHalfOpen && b.counts.ConsecutiveSuccesses >= b.settings.ProbeLimit {
			b.transition(StateClosed, now)
		}
		return
	}

	b.counts.TotalFailures++
	b.counts.ConsecutiveFailures++
	b.counts.ConsecutiveSuccesses = 0
	switch state {
	case StateClosed:
		if b.settings.ReadyToTrip(b.counts) {
			b.transition(StateOpen, now)
		}
	case StateHalfOpen:
		b.transition(StateOpen, now)
	}
}

func (b *Breaker) currentState(now time.Time) State {
	if b.state == StateOpen && b.expiry.Before(now) {
		b.transition(StateHalfOpen, now)
	}
	return b.state
}

func (b *Breaker) transition(to State, now time.Time) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	b.gen++
	b.counts = Counts{}
	if to == StateOpen {
		b.expiry = now.Add(b.settings.Cooldown)
	} else {
		b.expiry = time.Time{}
	}
	if b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.name, from, to)
	}
}
