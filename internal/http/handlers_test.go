package http

import (
	"bytes"
	"encoding/json"
	nethttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openartifacts/canvasd/internal/logging"
	"github.com/openartifacts/canvasd/internal/monitoring"
	"github.com/openartifacts/canvasd/internal/renderer"
)

func testRouter(t *testing.T) (*gin.Engine, *renderer.Dispatcher) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := &logging.Logger{Logger: zap.NewNop()}

	dispatcher := renderer.NewDispatcher(renderer.Options{
		HostOrigin:      "https://chat.example.com",
		AllowedOrigins:  []string{"https://artifacts.storage.example.com"},
		WatchdogTimeout: 5 * time.Second,
		SandboxTimeout:  2 * time.Second,
		Metrics:         monitoring.NewWith(prometheus.NewRegistry()),
		Logger:          log,
	})
	t.Cleanup(dispatcher.CloseAll)

	h := NewHandlers(dispatcher, log)
	router := gin.New()
	router.GET("/health", h.Health)
	router.POST("/artifacts", h.Submit)
	router.PUT("/artifacts/:id", h.Replace)
	router.GET("/artifacts/:id/state", h.State)
	router.DELETE("/artifacts/:id", h.Close)
	router.POST("/artifacts/:id/retry", h.Retry)
	router.POST("/artifacts/:id/fallback", h.Fallback)
	router.POST("/artifacts/:id/fix", h.Fix)
	return router, dispatcher
}

func doJSON(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func submitMarkup(t *testing.T, router *gin.Engine) string {
	t.Helper()
	w := doJSON(router, nethttp.MethodPost, "/artifacts", gin.H{
		"kind":   "markup",
		"source": "<p>hello</p>",
		"title":  "Doc",
	})
	require.Equal(t, nethttp.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Artifact struct {
			ID string `json:"id"`
		} `json:"artifact"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Artifact.ID)
	return resp.Artifact.ID
}

func TestHealth(t *testing.T) {
	router, _ := testRouter(t)
	w := doJSON(router, nethttp.MethodGet, "/health", nil)
	assert.Equal(t, nethttp.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "canvasd")
}

func TestSubmitAndState(t *testing.T) {
	router, _ := testRouter(t)
	id := submitMarkup(t, router)

	var state struct {
		Strategy     string `json:"strategy"`
		Loading      bool   `json:"loading"`
		StaticRender string `json:"static_render"`
		Recovery     struct {
			State    string `json:"state"`
			Attempts int    `json:"attempts"`
		} `json:"recovery"`
	}
	require.Eventually(t, func() bool {
		w := doJSON(router, nethttp.MethodGet, "/artifacts/"+id+"/state", nil)
		require.Equal(t, nethttp.StatusOK, w.Code)
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
		return !state.Loading && state.StaticRender != ""
	}, 3*time.Second, 20*time.Millisecond)

	assert.Equal(t, "idle", state.Recovery.State)
	assert.Zero(t, state.Recovery.Attempts)
	assert.Contains(t, state.StaticRender, "<p>hello</p>")
}

func TestSubmitRejectsUnknownKind(t *testing.T) {
	router, _ := testRouter(t)
	w := doJSON(router, nethttp.MethodPost, "/artifacts", gin.H{
		"kind":   "spreadsheet",
		"source": "x",
	})
	assert.Equal(t, nethttp.StatusBadRequest, w.Code)
}

func TestSubmitRejectsMalformedBody(t *testing.T) {
	router, _ := testRouter(t)
	req := httptest.NewRequest(nethttp.MethodPost, "/artifacts", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, nethttp.StatusBadRequest, w.Code)
}

func TestReplaceWithEditedSourceChangesIdentity(t *testing.T) {
	router, d := testRouter(t)
	id := submitMarkup(t, router)

	w := doJSON(router, nethttp.MethodPut, "/artifacts/"+id, gin.H{
		"kind":   "markup",
		"source": "<p>edited</p>",
	})
	require.Equal(t, nethttp.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Artifact struct {
			ID string `json:"id"`
		} `json:"artifact"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEqual(t, id, resp.Artifact.ID, "an edit is a new identity")

	_, ok := d.Session(resp.Artifact.ID)
	assert.True(t, ok)
	_, ok = d.Session(id)
	assert.False(t, ok)
}

func TestReplaceUnknownArtifact(t *testing.T) {
	router, _ := testRouter(t)
	w := doJSON(router, nethttp.MethodPut, "/artifacts/missing", gin.H{
		"kind":   "markup",
		"source": "<p>x</p>",
	})
	assert.Equal(t, nethttp.StatusNotFound, w.Code)
}

func TestManualRecoveryEndpoints(t *testing.T) {
	router, d := testRouter(t)
	id := submitMarkup(t, router)

	w := doJSON(router, nethttp.MethodPost, "/artifacts/"+id+"/retry", nil)
	assert.Equal(t, nethttp.StatusAccepted, w.Code)

	w = doJSON(router, nethttp.MethodPost, "/artifacts/"+id+"/fix", nil)
	assert.Equal(t, nethttp.StatusAccepted, w.Code)

	w = doJSON(router, nethttp.MethodPost, "/artifacts/"+id+"/fallback?strategy=transpile", nil)
	assert.Equal(t, nethttp.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), "transpile")

	s, ok := d.Session(id)
	require.True(t, ok)
	assert.Equal(t, 2, s.Recovery().Attempts(), "retry and fallback each consume an attempt")
}

func TestCloseArtifact(t *testing.T) {
	router, _ := testRouter(t)
	id := submitMarkup(t, router)

	w := doJSON(router, nethttp.MethodDelete, "/artifacts/"+id, nil)
	assert.Equal(t, nethttp.StatusNoContent, w.Code)

	w = doJSON(router, nethttp.MethodDelete, "/artifacts/"+id, nil)
	assert.Equal(t, nethttp.StatusNotFound, w.Code)

	w = doJSON(router, nethttp.MethodGet, "/artifacts/"+id+"/state", nil)
	assert.Equal(t, nethttp.StatusNotFound, w.Code)
}
