package shim

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRewriteImportMapPinsSharedRuntimes(t *testing.T) {
	doc := `<!DOCTYPE html><html><head>
<script type="importmap">{"imports":{
  "react": "https://esm.sh/react@17.0.2",
  "react-dom/client": "https://esm.sh/react-dom@17.0.2/client",
  "left-pad": "https://esm.sh/left-pad@1.3.0"
}}</script>
</head><body><script type="module">import React from 'react';</script></body></html>`

	out, err := New().Apply(doc)
	require.NoError(t, err)

	assert.Contains(t, out, `"react":"https://esm.sh/react@18.2.0"`)
	assert.NotContains(t, out, "react@17.0.2", "all copies must resolve to one instance")
	assert.Contains(t, out, "left-pad@1.3.0", "non-shared libraries keep their own versions")
}

func TestRewriteTransitiveRuntimeCopies(t *testing.T) {
	// a third-party package pulling its own private react copy
	doc := `<html><head><script type="importmap">{"imports":{
  "some-widget": "https://cdn.thirdparty.dev/some-widget@2/deps/react@17.0.2/index.mjs"
}}</script></head><body><script type="module">x</script></body></html>`

	out, err := New().Apply(doc)
	require.NoError(t, err)
	assert.Contains(t, out, "https://esm.sh/react@18.2.0/index.mjs")
}

func TestMalformedImportMapIsFatal(t *testing.T) {
	doc := `<html><head><script type="importmap">{"imports": not json}</script></head><body></body></html>`

	_, err := New().Apply(doc)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedImportMap)
}

func TestInjectReferencedButUnloaded(t *testing.T) {
	doc := `<html><head></head><body>
<script type="module">
const data = [];
export default () => <LineChart data={data}/>;
confetti();
</script></body></html>`

	out, err := New().Apply(doc)
	require.NoError(t, err)

	assert.Contains(t, out, "recharts@")
	assert.Contains(t, out, "canvas-confetti@")
	// dependency order: prop-types (a recharts dependency) precedes recharts
	// in the injection list, and react is referenced nowhere so not injected
	assert.NotContains(t, out, `"framer-motion"`)
}

func TestNormalizeMalformedImports(t *testing.T) {
	doc := `<html><head></head><body><script type="module">
* as Icons from 'lucide-react';
import React from react;
import valid from './valid.js';
</script></body></html>`

	out, err := New().Apply(doc)
	require.NoError(t, err)

	assert.Contains(t, out, "import * as Icons from 'lucide-react'")
	assert.Contains(t, out, `import React from "react";`)
	assert.Contains(t, out, "import valid from './valid.js';", "well-formed imports untouched")
}

func TestRelaxPolicyOnlyAddsMissingSources(t *testing.T) {
	doc := `<html><head>
<meta http-equiv="Content-Security-Policy" content="default-src 'self'; script-src 'self' 'unsafe-inline'">
</head><body><script type="module">x</script></body></html>`

	out, err := New().Apply(doc)
	require.NoError(t, err)

	parsed, err := goquery.NewDocumentFromReader(strings.NewReader(out))
	require.NoError(t, err)
	content, ok := parsed.Find(`meta[http-equiv="Content-Security-Policy"]`).Attr("content")
	require.True(t, ok)
	assert.Contains(t, content, "script-src 'self' 'unsafe-inline' https://esm.sh")
	assert.Contains(t, content, "default-src 'self';", "unrelated directives untouched")
}

func TestUnescapeTemplateArtifactsScopedToScripts(t *testing.T) {
	doc := `<html><head></head><body>
<p>3 &lt; 5 stays escaped in markup</p>
<script type="module">if (a \u003c b \u0026\u0026 c &gt; d) { run(); }</script>
</body></html>`

	out, err := New().Apply(doc)
	require.NoError(t, err)
	assert.Contains(t, out, "if (a < b && c > d)")
	assert.Contains(t, out, "3 &lt; 5", "markup outside scripts must not be touched")
}

func TestApplyIsIdempotent(t *testing.T) {
	doc := `<html><head>
<meta http-equiv="Content-Security-Policy" content="script-src 'self'">
<script type="importmap">{"imports":{"react":"https://esm.sh/react@17.0.2"}}</script>
</head><body><script type="module">* as I from 'lucide-react';
parent.postMessage({type:'ready'}, '*');</script></body></html>`

	r := New()
	once, err := r.Apply(doc)
	require.NoError(t, err)
	twice, err := r.Apply(once)
	require.NoError(t, err)

	assert.Equal(t, normalizeWS(once), normalizeWS(twice))
}

func normalizeWS(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func TestRewrittenScriptsStayUnescaped(t *testing.T) {
	doc := `<html><head>
<script type="importmap">{"imports":{"react":"https://esm.sh/react@17.0.2"}}</script>
</head><body><script type="module">* as I from 'lucide-react';
if (a < b && c > d) { run(); }</script></body></html>`

	out, err := New().Apply(doc)
	require.NoError(t, err)

	assert.NotContains(t, out, "&#34;")
	assert.NotContains(t, out, "&#39;")
	assert.NotContains(t, out, "&lt;")
	assert.NotContains(t, out, "&amp;")
	assert.Contains(t, out, `"react"`)
	assert.Contains(t, out, "import * as I from 'lucide-react'")
	assert.Contains(t, out, "if (a < b && c > d)")
}
