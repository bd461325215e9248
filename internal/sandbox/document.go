package sandbox

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Document is the exact content an isolated context will execute
type Document struct {
	HTML    string   // full markup, informational for the host
	Scripts []string // executable code in evaluation order
	Origin  string   // origin the context reports from, NullOrigin for local docs
}

// runtimeGlobals names the libraries an inline document declares as
// globally available, so transpiled components can assume them without
// importing anything.
var runtimeGlobals = []string{
	"React", "ReactDOM", "PropTypes", "LucideReact", "Recharts", "FramerMotion",
}

// inlinePrelude establishes the minimal environment a transpiled component
// expects: the global runtime stubs, a root mount node, and the reporting
// hooks that mirror a real document lifecycle. Loaded before user code.
const inlinePrelude = `
var window = this;
var globalThis = this;
var __mounted = false;
var document = {
	getElementById: function(id) {
		return { id: id, appendChild: function() { __mounted = true; } };
	},
	createElement: function(tag) {
		return { tagName: tag, style: {}, appendChild: function() {}, setAttribute: function() {} };
	},
	addEventListener: function() {},
	body: { appendChild: function() {} }
};
window.addEventListener = function() {};
var React = {
	createElement: function(type, props) {
		var children = Array.prototype.slice.call(arguments, 2);
		return { type: type, props: props || {}, children: children };
	},
	Fragment: "fragment",
	useState: function(init) { return [init, function() {}]; },
	useEffect: function(fn) { fn(); },
	useMemo: function(fn) { return fn(); },
	useCallback: function(fn) { return fn; },
	useRef: function(init) { return { current: init }; }
};
var ReactDOM = {
	createRoot: function(node) {
		return { render: function(el) { __render(el); } };
	},
	render: function(el, node) { __render(el); }
};
function __render(el) {
	if (el === null || el === undefined) {
		throw new Error("Uncaught Error: component rendered nothing");
	}
	parent.postMessage({ type: "ready" }, "*");
}
var PropTypes = new Proxy({}, { get: function() { return function() {}; } });
var LucideReact = new Proxy({}, { get: function(t, name) { return function() { return { icon: name }; }; } });
var Recharts = new Proxy({}, { get: function(t, name) { return function() { return { chart: name }; }; } });
var FramerMotion = { motion: new Proxy({}, { get: function(t, name) { return function() { return { motion: name }; }; } }), AnimatePresence: function() {} };
`

// BuildInline assembles the document for the direct-transpile strategy:
// transpiled code injected into a minimal template that declares the
// runtime libraries, loaded with no network fetch.
func BuildInline(transpiled string) Document {
	var html strings.Builder
	html.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	for _, g := range runtimeGlobals {
		fmt.Fprintf(&html, "<!-- global: %s -->\n", g)
	}
	html.WriteString("</head>\n<body>\n<div id=\"root\"></div>\n<script>/* inline */</script>\n</body>\n</html>\n")

	return Document{
		HTML:    html.String(),
		Scripts: []string{inlinePrelude, transpiled},
		Origin:  NullOrigin,
	}
}

// FromBundle extracts the executable scripts from a shimmed bundle
// document, preserving document order. Import maps are resolution data,
// not executable code, and are skipped.
func FromBundle(html string) (Document, error) {
	parsed, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Document{}, fmt.Errorf("parse bundle document: %w", err)
	}

	scripts := []string{inlinePrelude}
	parsed.Find("script").Each(func(_ int, s *goquery.Selection) {
		if t, _ := s.Attr("type"); t == "importmap" {
			return
		}
		if src, ok := s.Attr("src"); ok && src != "" {
			return // external module, resolved by the import map at load time
		}
		if code := strings.TrimSpace(s.Text()); code != "" {
			scripts = append(scripts, code)
		}
	})

	return Document{
		HTML:    html,
		Scripts: scripts,
		Origin:  NullOrigin,
	}, nil
}
