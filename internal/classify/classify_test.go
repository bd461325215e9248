package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openartifacts/canvasd/internal/artifact"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		wantKind    Kind
		wantPolicy  Policy
		wantFixable bool
	}{
		{
			name:        "missing export wins over unresolved module",
			raw:         "The requested module 'recharts' does not provide an export named 'Sparkline'",
			wantKind:    KindImport,
			wantPolicy:  PolicyDifferentRenderer,
			wantFixable: false,
		},
		{
			name:        "unresolved module",
			raw:         "Failed to resolve module specifier 'left-pad'",
			wantKind:    KindImport,
			wantPolicy:  PolicyWithFix,
			wantFixable: true,
		},
		{
			name:        "cannot find module",
			raw:         "Cannot find module 'lodash'",
			wantKind:    KindImport,
			wantPolicy:  PolicyWithFix,
			wantFixable: true,
		},
		{
			name:        "dynamic import fetch failure",
			raw:         "TypeError: Failed to fetch dynamically imported module: https://esm.sh/nope",
			wantKind:    KindImport,
			wantPolicy:  PolicyWithFix,
			wantFixable: true,
		},
		{
			name:        "runtime throw with stack",
			raw:         "Uncaught TypeError: Cannot read properties of null (reading 'useState')\n    at Counter (app.jsx:4:18)",
			wantKind:    KindRuntime,
			wantPolicy:  PolicyRetry,
			wantFixable: true,
		},
		{
			name:        "transpile syntax error",
			raw:         "SyntaxError: Unexpected token '<' (3:12)",
			wantKind:    KindSyntax,
			wantPolicy:  PolicyWithFix,
			wantFixable: true,
		},
		{
			name:        "esbuild transform failure",
			raw:         `Transform failed with 1 error: app.jsx:7:0: Expected "}" but found end of file`,
			wantKind:    KindSyntax,
			wantPolicy:  PolicyWithFix,
			wantFixable: true,
		},
		{
			name:        "unmatched text is unknown",
			raw:         "something deeply strange happened",
			wantKind:    KindUnknown,
			wantPolicy:  PolicyRetry,
			wantFixable: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.raw)
			assert.Equal(t, tt.wantKind, got.Kind)
			assert.Equal(t, tt.wantPolicy, got.Policy)
			assert.Equal(t, tt.wantFixable, got.AutoFixable)
			assert.Equal(t, tt.raw, got.Raw, "raw text must survive classification")
			assert.NotEmpty(t, got.Title)
		})
	}
}

func TestUnresolvedModulePolicyIsRecoverable(t *testing.T) {
	// every import-kind result must carry a policy that can make progress
	raws := []string{
		"Failed to resolve module specifier 'x'",
		"Cannot find module 'y'",
		"module 'recharts' does not provide an export named 'Z'",
	}
	for _, raw := range raws {
		got := Classify(raw)
		assert.Equal(t, KindImport, got.Kind, raw)
		assert.Contains(t, []Policy{PolicyWithFix, PolicyDifferentRenderer}, got.Policy, raw)
	}
}

func TestMissingExportSuggestsFallbackStrategy(t *testing.T) {
	got := Classify("no matching export in 'lucide-react' for import 'Sparkles'")
	assert.Equal(t, PolicyDifferentRenderer, got.Policy)
	assert.Equal(t, artifact.StrategyTranspile, got.Fallback)
}

func TestSeverityOrdering(t *testing.T) {
	assert.Less(t, int(SeverityNotice), int(SeverityWarning))
	assert.Less(t, int(SeverityWarning), int(SeverityError))
	assert.Less(t, int(SeverityError), int(SeverityCritical))
}
