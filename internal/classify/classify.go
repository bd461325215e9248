package classify

import (
	"regexp"
	"strings"

	"github.com/openartifacts/canvasd/internal/artifact"
)

// Kind is the bounded failure taxonomy
type Kind string

const (
	KindSyntax  Kind = "syntax"
	KindRuntime Kind = "runtime"
	KindImport  Kind = "import"
	KindUnknown Kind = "unknown"
)

// Severity orders failures least to most alarming. Display styling only,
// never control flow.
type Severity int

const (
	SeverityNotice Severity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

// Policy instructs the recovery orchestrator
type Policy string

const (
	PolicyRetry             Policy = "retry"
	PolicyWithFix           Policy = "with-fix"
	PolicyDifferentRenderer Policy = "different-renderer"
)

// Error is a classified failure. Produced fresh on every failure, never
// persisted.
type Error struct {
	Kind         Kind
	Raw          string
	Title        string
	Description  string
	Severity     Severity
	AutoFixable  bool
	Policy       Policy
	Fallback     artifact.Strategy // set when Policy is different-renderer
	SuggestedFix string
}

// rule pairs a predicate with the classified error it produces. Rules are
// evaluated top to bottom, most specific first; new patterns are additive.
type rule struct {
	match func(string) bool
	build func(string) Error
}

var (
	missingExport    = regexp.MustCompile(`(?i)does not provide an export named|no matching export|missing export`)
	unresolvedModule = regexp.MustCompile(`(?i)failed to resolve module|cannot find module|failed to fetch dynamically imported module|could not resolve ['"]`)
	runtimeThrow     = regexp.MustCompile(`(?m)^\s*at\s+\S+|(?i)uncaught (?:\w*error|exception)`)
	transpileOrigin  = regexp.MustCompile(`(?i)transform failed|syntaxerror|unexpected token|unexpected end of file|expected ["')}\]]`)
)

var rules = []rule{
	{
		match: missingExport.MatchString,
		build: func(raw string) Error {
			return Error{
				Kind:        KindImport,
				Raw:         raw,
				Title:       "Library version mismatch",
				Description: "The component uses an export its library does not provide. A different renderer may avoid the mismatched copy.",
				Severity:    SeverityError,
				AutoFixable: false,
				Policy:      PolicyDifferentRenderer,
				Fallback:    artifact.StrategyTranspile,
			}
		},
	},
	{
		match: unresolvedModule.MatchString,
		build: func(raw string) Error {
			return Error{
				Kind:         KindImport,
				Raw:          raw,
				Title:        "Missing dependency",
				Description:  "The component imports a module that could not be resolved.",
				Severity:     SeverityWarning,
				AutoFixable:  true,
				Policy:       PolicyWithFix,
				SuggestedFix: "Rewrite the component so it only imports available libraries.",
			}
		},
	},
	{
		match: runtimeThrow.MatchString,
		build: func(raw string) Error {
			return Error{
				Kind:        KindRuntime,
				Raw:         raw,
				Title:       "Component crashed",
				Description: "The component threw an exception while running.",
				Severity:    SeverityError,
				AutoFixable: true,
				Policy:      PolicyRetry,
			}
		},
	},
	{
		match: transpileOrigin.MatchString,
		build: func(raw string) Error {
			return Error{
				Kind:         KindSyntax,
				Raw:          raw,
				Title:        "Source could not be compiled",
				Description:  "The generated source contains a syntax defect.",
				Severity:     SeverityWarning,
				AutoFixable:  true,
				Policy:       PolicyWithFix,
				SuggestedFix: "Fix the syntax error reported by the compiler.",
			}
		},
	},
}

// Classify maps a raw failure message onto the bounded taxonomy. The first
// matching rule wins; anything unmatched is unknown and not auto-fixable.
func Classify(raw string) Error {
	trimmed := strings.TrimSpace(raw)
	for _, r := range rules {
		if r.match(trimmed) {
			return r.build(raw)
		}
	}
	return Error{
		Kind:        KindUnknown,
		Raw:         raw,
		Title:       "Something went wrong",
		Description: "The artifact failed for an unrecognized reason.",
		Severity:    SeverityCritical,
		AutoFixable: false,
		Policy:      PolicyRetry,
	}
}
