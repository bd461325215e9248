// Package watchdog converts silence into an explicit failure. One timer
// runs per artifact display: started when loading begins, cleared by any
// terminating message, and firing a synthesized timeout when nothing
// arrives within the bound. An artifact stuck loading is assumed to be in
// an infinite loop and is not recoverable automatically.
package watchdog

import (
	"sync"
	"time"
)

// DefaultTimeout is the silence bound before a load is declared dead
const DefaultTimeout = 10 * time.Second

// TimeoutMessage is the synthesized failure text. Phrased like a thrown
// exception so the classifier files it under runtime.
const TimeoutMessage = "Uncaught Error: artifact render timed out\n    at watchdog (host)"

// Supervisor owns one cancellable timer per artifact identity
type Supervisor struct {
	timeout time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// New creates a supervisor; a non-positive timeout uses DefaultTimeout
func New(timeout time.Duration) *Supervisor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Supervisor{
		timeout: timeout,
		timers:  make(map[string]*time.Timer),
	}
}

// Start arms the timer for artifactID, replacing any previous timer for
// the same artifact. onTimeout runs once if nothing stops the timer first.
func (s *Supervisor) Start(artifactID string, onTimeout func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.timers[artifactID]; ok {
		prev.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(s.timeout, func() {
		s.mu.Lock()
		cur, live := s.timers[artifactID]
		if live && cur == t {
			delete(s.timers, artifactID)
		}
		s.mu.Unlock()
		if live && cur == t {
			onTimeout()
		}
	})
	s.timers[artifactID] = t
}

// Stop clears the timer for artifactID. Called on any terminating message
// and on teardown; stopping an unknown artifact is a no-op.
func (s *Supervisor) Stop(artifactID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[artifactID]; ok {
		t.Stop()
		delete(s.timers, artifactID)
	}
}

// StopAll clears every timer
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}
