package artifact

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies what a generated program renders as
type Kind string

const (
	KindComponent  Kind = "component"
	KindMarkup     Kind = "markup"
	KindVector     Kind = "svg"
	KindDiagram    Kind = "diagram"
	KindStyledText Kind = "styled-text"
	KindImage      Kind = "image"
)

// Valid reports whether k is a member of the closed kind set
func (k Kind) Valid() bool {
	switch k {
	case KindComponent, KindMarkup, KindVector, KindDiagram, KindStyledText, KindImage:
		return true
	}
	return false
}

// BundleRef points at a precompiled bundle served by the storage service
type BundleRef struct {
	URL       string   `json:"url"`
	Externals []string `json:"externals"` // libraries the bundle expects the host to supply
}

// Program is the unit rendered. Programs are immutable: any content edit
// produces a replacement with a fresh ID, because sandbox state downstream
// must be torn down and rebuilt for any change.
type Program struct {
	ID         string     `json:"id"`
	Kind       Kind       `json:"kind"`
	Source     string     `json:"source"`
	Title      string     `json:"title"`
	Bundle     *BundleRef `json:"bundle,omitempty"`
	Failed     bool       `json:"compile_failed,omitempty"` // upstream bundle compilation failed
	Diagnostic string     `json:"diagnostic,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// New creates a program with a fresh identity
func New(kind Kind, source, title string) *Program {
	return &Program{
		ID:        uuid.New().String(),
		Kind:      kind,
		Source:    source,
		Title:     title,
		CreatedAt: time.Now(),
	}
}

// WithBundle returns a copy carrying a bundle reference. Identity is kept:
// a bundle arriving late is the same program, only its strategy changes.
func (p *Program) WithBundle(ref *BundleRef) *Program {
	cp := *p
	cp.Bundle = ref
	return &cp
}

// Replace returns a new program with the edited source and a new identity
func (p *Program) Replace(source string) *Program {
	cp := *p
	cp.ID = uuid.New().String()
	cp.Source = source
	cp.Bundle = nil
	cp.Failed = false
	cp.Diagnostic = ""
	cp.CreatedAt = time.Now()
	return &cp
}
