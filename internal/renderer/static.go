package renderer

import (
	"github.com/microcosm-cc/bluemonday"

	"github.com/openartifacts/canvasd/internal/artifact"
	"github.com/openartifacts/canvasd/internal/sandbox"
)

// Markup-like kinds need no sandbox: their source is sanitized and handed
// straight to the safe-content renderers. The result still flows through
// the normal message dispatch so loading, watchdog, and render-complete
// behave identically to sandboxed kinds.

var (
	markupPolicy = bluemonday.UGCPolicy()
	svgPolicy    = newSVGPolicy()
)

func newSVGPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("svg", "g", "path", "rect", "circle", "ellipse", "line",
		"polyline", "polygon", "text", "tspan", "defs", "linearGradient",
		"radialGradient", "stop", "title", "desc")
	p.AllowAttrs("viewBox", "xmlns", "width", "height", "d", "x", "y", "x1",
		"y1", "x2", "y2", "cx", "cy", "r", "rx", "ry", "points", "fill",
		"stroke", "stroke-width", "stroke-linecap", "stroke-linejoin",
		"transform", "opacity", "offset", "stop-color", "font-size",
		"text-anchor", "id", "class").Globally()
	return p
}

// isStatic reports whether kind renders without a sandbox
func isStatic(kind artifact.Kind) bool {
	switch kind {
	case artifact.KindMarkup, artifact.KindStyledText, artifact.KindVector,
		artifact.KindDiagram, artifact.KindImage:
		return true
	}
	return false
}

// Sanitize returns the safe form of a static artifact's source
func Sanitize(kind artifact.Kind, source string) string {
	switch kind {
	case artifact.KindVector:
		return svgPolicy.Sanitize(source)
	case artifact.KindMarkup, artifact.KindStyledText:
		return markupPolicy.Sanitize(source)
	default:
		// diagrams and images pass through; their renderers do not
		// execute the source
		return source
	}
}

// renderStatic completes a static artifact synchronously through the
// normal dispatch path
func (s *Session) renderStatic(gen uint64, p *artifact.Program) {
	out := Sanitize(p.Kind, p.Source)
	s.mu.Lock()
	if gen == s.gen {
		s.staticOut = out
	}
	s.mu.Unlock()
	s.dispatch(gen, sandbox.Message{Type: sandbox.TypeReady, Origin: sandbox.NullOrigin})
}

// StaticRender returns the sanitized output for static kinds, empty for
// sandboxed kinds
func (s *Session) StaticRender() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.staticOut
}
