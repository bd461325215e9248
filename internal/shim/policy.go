package shim

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// shimSources are the origins the resolution-map pins load from. The
// document policy is widened to admit exactly these and nothing else.
var shimSources = []string{"https://esm.sh"}

// relaxPolicy amends the document's Content-Security-Policy meta tag just
// enough for the pinned module sources to load. Documents without a policy
// and policies that already admit the sources are left untouched.
func (r *Rewriter) relaxPolicy(doc *goquery.Document) {
	doc.Find(`meta[http-equiv]`).Each(func(_ int, s *goquery.Selection) {
		equiv, _ := s.Attr("http-equiv")
		if !strings.EqualFold(equiv, "Content-Security-Policy") {
			return
		}
		content, _ := s.Attr("content")
		if content == "" {
			return
		}
		if amended, changed := amendPolicy(content); changed {
			s.SetAttr("content", amended)
		}
	})
}

// amendPolicy appends missing shim sources to the script-src directive
// (falling back to default-src when no script-src exists).
func amendPolicy(policy string) (string, bool) {
	directives := strings.Split(policy, ";")
	target := -1
	for i, d := range directives {
		name := strings.Fields(strings.TrimSpace(d))
		if len(name) == 0 {
			continue
		}
		switch name[0] {
		case "script-src":
			target = i
		case "default-src":
			if target < 0 {
				target = i
			}
		}
	}
	if target < 0 {
		return policy, false
	}

	d := strings.TrimSpace(directives[target])
	changed := false
	for _, src := range shimSources {
		if !strings.Contains(d, src) {
			d += " " + src
			changed = true
		}
	}
	if !changed {
		return policy, false
	}
	directives[target] = d
	return strings.Join(directives, ";"), true
}
