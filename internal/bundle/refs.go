package bundle

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ErrOriginQuota is returned when an origin's transient references are
// exhausted. Refs are a finite per-origin resource: leaking them (by
// skipping Release on teardown) eventually makes every bundle load fail.
var ErrOriginQuota = errors.New("transient reference quota exhausted for origin")

// Ref is a transient document reference wrapping shimmed bundle content.
// Loading through a locally-created reference bypasses the cross-origin
// embedding restrictions the storage service imposes on its own URLs.
// Callers must Release the ref when the consuming component is torn down
// or the bundle reference changes.
type Ref struct {
	ID      string
	Origin  string
	Content string

	registry *Registry
	released bool
	mu       sync.Mutex
}

// URL is the locally-addressable form of the reference
func (r *Ref) URL() string {
	return "ref://" + r.ID
}

// Release returns the reference to its origin's quota. Safe to call twice.
func (r *Ref) Release() {
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		return
	}
	r.released = true
	r.mu.Unlock()
	r.registry.release(r)
}

// Registry tracks live transient references and enforces per-origin caps
type Registry struct {
	mu        sync.Mutex
	perOrigin int
	live      map[string]map[string]*Ref // origin -> ref ID -> ref
}

// NewRegistry creates a registry capping each origin at perOrigin live refs
func NewRegistry(perOrigin int) *Registry {
	if perOrigin <= 0 {
		perOrigin = 64
	}
	return &Registry{
		perOrigin: perOrigin,
		live:      make(map[string]map[string]*Ref),
	}
}

// Create mints a reference for content on behalf of origin
func (g *Registry) Create(origin, content string) (*Ref, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	refs := g.live[origin]
	if refs == nil {
		refs = make(map[string]*Ref)
		g.live[origin] = refs
	}
	if len(refs) >= g.perOrigin {
		return nil, fmt.Errorf("%w: %s (%d live)", ErrOriginQuota, origin, len(refs))
	}

	ref := &Ref{
		ID:       uuid.New().String(),
		Origin:   origin,
		Content:  content,
		registry: g,
	}
	refs[ref.ID] = ref
	return ref, nil
}

// Resolve looks up a live reference by ID
func (g *Registry) Resolve(id string) (*Ref, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, refs := range g.live {
		if ref, ok := refs[id]; ok {
			return ref, true
		}
	}
	return nil, false
}

// LiveCount reports live references for an origin
func (g *Registry) LiveCount(origin string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.live[origin])
}

// LiveTotal reports live references across every origin
func (g *Registry) LiveTotal() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	total := 0
	for _, refs := range g.live {
		total += len(refs)
	}
	return total
}

func (g *Registry) release(r *Ref) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if refs, ok := g.live[r.Origin]; ok {
		delete(refs, r.ID)
		if len(refs) == 0 {
			delete(g.live, r.Origin)
		}
	}
}
