package artifact

import (
	"regexp"
	"strings"
)

// Strategy is the method used to execute a program
type Strategy string

const (
	StrategyBundle        Strategy = "bundle"
	StrategyPackageRunner Strategy = "package-runner"
	StrategyTranspile     Strategy = "transpile"
)

// importSpec matches static and bare dynamic import specifiers
var importSpec = regexp.MustCompile(`(?m)^\s*import\s+(?:[\w${},*\s]+\s+from\s+)?['"]([^'"]+)['"]`)

// ambientModules are provided globally by the inline document template, so
// importing them never forces the package-runner strategy.
var ambientModules = map[string]bool{
	"react":            true,
	"react-dom":        true,
	"react-dom/client": true,
	"prop-types":       true,
	"lucide-react":     true,
	"recharts":         true,
	"framer-motion":    true,
	"canvas-confetti":  true,
}

// Select chooses an execution strategy for p. Selection is deterministic:
// a bundle reference wins, otherwise unresolved external imports require
// the package runner, otherwise the source transpiles directly. When the
// runner is disabled the external imports fall through to transpile and
// surface as import errors at execution time.
func Select(p *Program, runnerDisabled bool) Strategy {
	if p.Bundle != nil && p.Bundle.URL != "" {
		return StrategyBundle
	}
	if p.Kind == KindComponent && hasExternalImports(p.Source) && !runnerDisabled {
		return StrategyPackageRunner
	}
	return StrategyTranspile
}

// hasExternalImports reports whether source imports a bare module specifier
// outside the ambient set. Relative and absolute specifiers resolve locally.
func hasExternalImports(source string) bool {
	_, ok := FirstExternalImport(source)
	return ok
}

// FirstExternalImport returns the first bare module specifier in source
// that resolves outside the ambient set, when one exists.
func FirstExternalImport(source string) (string, bool) {
	for _, m := range importSpec.FindAllStringSubmatch(source, -1) {
		spec := m[1]
		if strings.HasPrefix(spec, ".") || strings.HasPrefix(spec, "/") {
			continue
		}
		if ambientModules[spec] || ambientModules[rootSpecifier(spec)] {
			continue
		}
		return spec, true
	}
	return "", false
}

// rootSpecifier strips a subpath: "recharts/lib/util" -> "recharts",
// "@scope/pkg/sub" -> "@scope/pkg".
func rootSpecifier(spec string) string {
	parts := strings.Split(spec, "/")
	if strings.HasPrefix(spec, "@") && len(parts) >= 2 {
		return parts[0] + "/" + parts[1]
	}
	return parts[0]
}
