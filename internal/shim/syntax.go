package shim

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// The generation model occasionally emits import statements with pieces
// missing. These passes repair the known defect shapes without touching
// well-formed code.
var (
	// "* as Icons from 'lucide-react'" dropped its import keyword
	bareNamespaceImport = regexp.MustCompile(`(?m)^(\s*)\*\s+as\s+(\w+)\s+from\s+(['"])`)

	// "import React from react;" left the specifier unquoted
	unquotedSpecifier = regexp.MustCompile(`(?m)^(\s*import\s+[\w{},*\s]+\s+from\s+)([A-Za-z@][\w@/.-]*)\s*;`)
)

// normalizeImportSyntax repairs malformed import statements inside module
// scripts. Already-correct statements match neither pattern, keeping the
// pass idempotent.
func normalizeImportSyntax(doc *goquery.Document) {
	doc.Find(`script[type="module"]`).Each(func(_ int, s *goquery.Selection) {
		code := s.Text()
		fixed := bareNamespaceImport.ReplaceAllString(code, "${1}import * as $2 from $3")
		fixed = unquotedSpecifier.ReplaceAllString(fixed, `$1"$2";`)
		if fixed != code {
			setScriptText(s, fixed)
		}
	})
}

// templateEscapes are literal-escaping artifacts introduced by the
// server-side templating step that produced the bundle. They are reversed
// only inside executable-code regions so unrelated markup stays intact.
var templateEscapes = strings.NewReplacer(
	`\u003c`, "<",
	`\u003e`, ">",
	`\u0026`, "&",
	"&lt;", "<",
	"&gt;", ">",
	"&amp;", "&",
)

// unescapeScripts reverses template escaping within script elements only
func unescapeScripts(doc *goquery.Document) {
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		if t, _ := s.Attr("type"); t == "importmap" {
			return
		}
		code := s.Text()
		fixed := templateEscapes.Replace(code)
		if fixed != code {
			setScriptText(s, fixed)
		}
	})
}
