package shim

import (
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/bytedance/sonic"
	"golang.org/x/net/html"
)

// codec sorts map keys when encoding so a rewritten import map is
// byte-stable across passes, which keeps Apply idempotent.
var codec = sonic.ConfigStd

// ErrMalformedImportMap is fatal for the artifact: rendering with an
// inconsistent resolution map is unsafe, so the pipeline short-circuits
// instead of loading the bundle.
var ErrMalformedImportMap = errors.New("malformed import map")

// Rewriter applies the library-resolution and compatibility passes to a
// fetched bundle document. Every pass is idempotent and a no-op when its
// precondition already holds, so Apply can safely run more than once.
type Rewriter struct {
	pins map[string]string
}

// New creates a rewriter with the default shared-runtime pins
func New() *Rewriter {
	return &Rewriter{pins: defaultPins()}
}

// defaultPins maps each shared runtime library to the single instance all
// consumers must resolve to. Duplicate copies of a stateful runtime (two
// react instances, most commonly) fail with null-reference errors deep in
// render code, so every variant URL is forced onto these.
func defaultPins() map[string]string {
	return map[string]string{
		"react":           "https://esm.sh/react@18.2.0",
		"react-dom":       "https://esm.sh/react-dom@18.2.0",
		"prop-types":      "https://esm.sh/prop-types@15.8.1",
		"lucide-react":    "https://esm.sh/lucide-react@0.263.1",
		"recharts":        "https://esm.sh/recharts@2.12.7",
		"framer-motion":   "https://esm.sh/framer-motion@11.0.8",
		"canvas-confetti": "https://esm.sh/canvas-confetti@1.9.2",
	}
}

// injectionOrder lists support libraries dependency-first: a consumer must
// appear after everything it loads at module-evaluation time.
var injectionOrder = []string{
	"react",
	"react-dom",
	"prop-types",
	"lucide-react",
	"recharts",
	"framer-motion",
	"canvas-confetti",
}

// referenceHints detect a library used by the bundle's code even when no
// import statement names it (UMD globals, dynamic access).
var referenceHints = map[string][]string{
	"react":           {"React.", "react"},
	"react-dom":       {"ReactDOM", "react-dom"},
	"prop-types":      {"PropTypes", "prop-types"},
	"lucide-react":    {"lucide-react", "LucideIcon"},
	"recharts":        {"recharts", "Recharts", "<LineChart", "<BarChart", "<PieChart"},
	"framer-motion":   {"framer-motion", "motion.", "AnimatePresence"},
	"canvas-confetti": {"canvas-confetti", "confetti("},
}

// Apply runs the full pass pipeline over a bundle document and returns the
// rewritten document. The pass order is load-bearing: syntax normalization
// must precede import-map rewriting, and injection must precede the CSP
// relaxation that allows the injected sources to load.
func (r *Rewriter) Apply(doc string) (string, error) {
	parsed, err := goquery.NewDocumentFromReader(strings.NewReader(doc))
	if err != nil {
		return "", fmt.Errorf("parse bundle document: %w", err)
	}

	normalizeImportSyntax(parsed)

	if err := r.rewriteImportMap(parsed); err != nil {
		return "", err
	}
	r.injectMissing(parsed)
	r.relaxPolicy(parsed)
	unescapeScripts(parsed)

	out, err := parsed.Html()
	if err != nil {
		return "", fmt.Errorf("serialize bundle document: %w", err)
	}
	return out, nil
}

// importMap mirrors the JSON shape of a document import map
type importMap struct {
	Imports map[string]string            `json:"imports"`
	Scopes  map[string]map[string]string `json:"scopes,omitempty"`
}

// rewriteImportMap forces every specifier variant of a shared runtime onto
// its pinned instance. A map that fails to parse is fatal.
func (r *Rewriter) rewriteImportMap(doc *goquery.Document) error {
	sel := doc.Find(`script[type="importmap"]`)
	if sel.Length() == 0 {
		return nil
	}

	var rewriteErr error
	sel.Each(func(_ int, s *goquery.Selection) {
		if rewriteErr != nil {
			return
		}
		raw := strings.TrimSpace(s.Text())
		if raw == "" {
			return
		}
		var m importMap
		if err := codec.UnmarshalFromString(raw, &m); err != nil {
			rewriteErr = fmt.Errorf("%w: %v", ErrMalformedImportMap, err)
			return
		}
		if m.Imports == nil {
			m.Imports = map[string]string{}
		}
		for spec, target := range m.Imports {
			if pin, ok := r.pinFor(spec); ok {
				m.Imports[spec] = pin
				continue
			}
			// Third-party targets that transitively bundle a private copy
			// of a shared runtime are redirected through the pin as well.
			m.Imports[spec] = r.rewriteTarget(target)
		}
		for _, scope := range m.Scopes {
			for spec, target := range scope {
				if pin, ok := r.pinFor(spec); ok {
					scope[spec] = pin
				} else {
					scope[spec] = r.rewriteTarget(target)
				}
			}
		}
		encoded, err := codec.MarshalToString(&m)
		if err != nil {
			rewriteErr = fmt.Errorf("%w: %v", ErrMalformedImportMap, err)
			return
		}
		setScriptText(s, encoded)
	})
	return rewriteErr
}

// pinFor resolves a specifier (optionally versioned or subpathed) to its
// shared-runtime pin: "react", "react@18", "react-dom/client" all pin.
func (r *Rewriter) pinFor(spec string) (string, bool) {
	name, subpath := splitSpecifier(spec)
	pin, ok := r.pins[name]
	if !ok {
		return "", false
	}
	if subpath != "" {
		return pin + "/" + subpath, true
	}
	return pin, true
}

// rewriteTarget rewrites a URL whose path embeds a versioned copy of a
// shared runtime, e.g. ".../react@18.3.1/es2022/react.mjs".
func (r *Rewriter) rewriteTarget(target string) string {
	for name, pin := range r.pins {
		marker := "/" + name + "@"
		idx := strings.Index(target, marker)
		if idx < 0 {
			continue
		}
		rest := target[idx+len(marker):]
		if cut := strings.IndexByte(rest, '/'); cut >= 0 {
			return pin + rest[cut:]
		}
		return pin
	}
	return target
}

// splitSpecifier separates "name@version/subpath" into name and subpath
func splitSpecifier(spec string) (name, subpath string) {
	name = spec
	if i := strings.IndexByte(name, '/'); i >= 0 && !strings.HasPrefix(name, "@") {
		name, subpath = name[:i], name[i+1:]
	}
	if i := strings.IndexByte(name, '@'); i > 0 {
		name = name[:i]
	}
	return name, subpath
}

// injectMissing adds an import-map entry for every support library the
// document references but never loads, in dependency order.
func (r *Rewriter) injectMissing(doc *goquery.Document) {
	code := scriptText(doc)
	if code == "" {
		return
	}

	missing := []string{}
	for _, lib := range injectionOrder {
		if r.loaded(doc, lib) {
			continue
		}
		for _, hint := range referenceHints[lib] {
			if strings.Contains(code, hint) {
				missing = append(missing, lib)
				break
			}
		}
	}
	if len(missing) == 0 {
		return
	}

	sel := doc.Find(`script[type="importmap"]`)
	if sel.Length() == 0 {
		entries := map[string]string{}
		for _, lib := range missing {
			entries[lib] = r.pins[lib]
		}
		encoded, err := codec.MarshalToString(&importMap{Imports: entries})
		if err != nil {
			return
		}
		head := doc.Find("head")
		if head.Length() == 0 {
			return
		}
		head.PrependHtml(`<script type="importmap">` + encoded + `</script>`)
		return
	}

	first := sel.First()
	var m importMap
	if err := codec.UnmarshalFromString(strings.TrimSpace(first.Text()), &m); err != nil {
		return // malformed maps were already rejected by rewriteImportMap
	}
	if m.Imports == nil {
		m.Imports = map[string]string{}
	}
	for _, lib := range missing {
		if _, ok := m.Imports[lib]; !ok {
			m.Imports[lib] = r.pins[lib]
		}
	}
	if encoded, err := codec.MarshalToString(&m); err == nil {
		setScriptText(first, encoded)
	}
}

// loaded reports whether lib is already resolvable in the document
func (r *Rewriter) loaded(doc *goquery.Document, lib string) bool {
	found := false
	doc.Find(`script[type="importmap"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var m importMap
		if err := codec.UnmarshalFromString(strings.TrimSpace(s.Text()), &m); err != nil {
			return true
		}
		if _, ok := m.Imports[lib]; ok {
			found = true
			return false
		}
		return true
	})
	if found {
		return true
	}
	doc.Find("script[src]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src, _ := s.Attr("src")
		if strings.Contains(src, "/"+lib+"@") || strings.HasSuffix(src, "/"+lib+".js") {
			found = true
			return false
		}
		return true
	})
	return found
}

// setScriptText replaces a script element's content with raw text.
// Selection.SetText entity-escapes its input, which corrupts code inside
// raw-text elements, so the child text node is swapped directly.
func setScriptText(s *goquery.Selection, code string) {
	for _, n := range s.Nodes {
		for c := n.FirstChild; c != nil; {
			next := c.NextSibling
			n.RemoveChild(c)
			c = next
		}
		n.AppendChild(&html.Node{Type: html.TextNode, Data: code})
	}
}

func scriptText(doc *goquery.Document) string {
	var sb strings.Builder
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		if t, _ := s.Attr("type"); t == "importmap" {
			return
		}
		sb.WriteString(s.Text())
		sb.WriteByte('\n')
	})
	return sb.String()
}
