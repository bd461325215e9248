package artifact

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelect(t *testing.T) {
	tests := []struct {
		name           string
		program        *Program
		runnerDisabled bool
		want           Strategy
	}{
		{
			name:    "bundle reference wins",
			program: &Program{Kind: KindComponent, Source: "import x from 'left-pad'", Bundle: &BundleRef{URL: "https://cdn.example.com/a.html"}},
			want:    StrategyBundle,
		},
		{
			name:    "external import uses runner",
			program: &Program{Kind: KindComponent, Source: "import _ from 'lodash';\nexport default () => null;"},
			want:    StrategyPackageRunner,
		},
		{
			name:           "runner disabled falls back to transpile",
			program:        &Program{Kind: KindComponent, Source: "import _ from 'lodash';"},
			runnerDisabled: true,
			want:           StrategyTranspile,
		},
		{
			name:    "ambient imports transpile directly",
			program: &Program{Kind: KindComponent, Source: "import React from 'react';\nimport { LineChart } from 'recharts';"},
			want:    StrategyTranspile,
		},
		{
			name:    "ambient subpath import stays ambient",
			program: &Program{Kind: KindComponent, Source: "import { createRoot } from 'react-dom/client';"},
			want:    StrategyTranspile,
		},
		{
			name:    "relative imports resolve locally",
			program: &Program{Kind: KindComponent, Source: "import helper from './helper';"},
			want:    StrategyTranspile,
		},
		{
			name:    "plain source transpiles",
			program: &Program{Kind: KindComponent, Source: "export default () => <div/>;"},
			want:    StrategyTranspile,
		},
		{
			name:    "markup never uses the runner",
			program: &Program{Kind: KindMarkup, Source: "<h1>hi</h1>"},
			want:    StrategyTranspile,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Select(tt.program, tt.runnerDisabled))
		})
	}
}

func TestFirstExternalImport(t *testing.T) {
	spec, ok := FirstExternalImport("import React from 'react';\nimport { debounce } from 'lodash';")
	require.True(t, ok)
	assert.Equal(t, "lodash", spec)

	_, ok = FirstExternalImport("import { LineChart } from 'recharts';\nimport x from './local';")
	assert.False(t, ok)
}

func TestSelectReevaluatesOnLateBundle(t *testing.T) {
	p := New(KindComponent, "export default () => <div/>;", "Demo")
	assert.Equal(t, StrategyTranspile, Select(p, false))

	// bundle finished compiling after first display
	p2 := p.WithBundle(&BundleRef{URL: "https://cdn.example.com/a.html"})
	assert.Equal(t, p.ID, p2.ID, "late bundle keeps identity")
	assert.Equal(t, StrategyBundle, Select(p2, false))
}

func TestReplaceChangesIdentity(t *testing.T) {
	p := New(KindComponent, "a", "Demo")
	edited := p.Replace("b")

	assert.NotEqual(t, p.ID, edited.ID)
	assert.Equal(t, "b", edited.Source)
	assert.Nil(t, edited.Bundle)
}

func TestValidateBundleURL(t *testing.T) {
	allowed := []string{"https://artifacts.storage.example.com", "https://eu.storage.example.com"}

	require.NoError(t, ValidateBundleURL("https://artifacts.storage.example.com/b/123.html", allowed))
	require.NoError(t, ValidateBundleURL("https://eu.storage.example.com/b/123.html", allowed))

	tests := []struct {
		name string
		url  string
	}{
		{"unknown origin", "https://evil.example.com/b/123.html"},
		{"http downgrade", "http://artifacts.storage.example.com/b/123.html"},
		{"scheme smuggling", "javascript:alert(1)"},
		{"subdomain of allowed host", "https://artifacts.storage.example.com.evil.com/x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBundleURL(tt.url, allowed)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrOriginNotAllowed)
		})
	}
}
