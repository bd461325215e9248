package ws

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openartifacts/canvasd/internal/classify"
	"github.com/openartifacts/canvasd/internal/logging"
)

func testHub(t *testing.T) (*Hub, *websocket.Conn) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	hub := NewHub(&logging.Logger{Logger: zap.NewNop()})

	router := gin.New()
	router.GET("/stream", hub.HandleConnection)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 },
		2*time.Second, 10*time.Millisecond)
	return hub, conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev Event
	require.NoError(t, sonic.Unmarshal(payload, &ev))
	return ev
}

func TestLoadingEventsReachClients(t *testing.T) {
	hub, conn := testHub(t)

	hub.Callbacks().OnLoading("art-1", true)
	ev := readEvent(t, conn)
	assert.Equal(t, "loading", ev.Type)
	assert.Equal(t, "art-1", ev.ArtifactID)
	require.NotNil(t, ev.Loading)
	assert.True(t, *ev.Loading)
}

func TestPreviewErrorCarriesClassification(t *testing.T) {
	hub, conn := testHub(t)

	hub.Callbacks().OnPreviewError("art-1", &classify.Error{
		Kind:  classify.KindRuntime,
		Title: "Component crashed",
	})
	ev := readEvent(t, conn)
	assert.Equal(t, "preview-error", ev.Type)
	require.NotNil(t, ev.Error)
	assert.Equal(t, classify.KindRuntime, ev.Error.Kind)
}

func TestPreviewErrorClearedWithNil(t *testing.T) {
	hub, conn := testHub(t)

	hub.Callbacks().OnPreviewError("art-1", nil)
	ev := readEvent(t, conn)
	assert.Equal(t, "preview-error", ev.Type)
	assert.Nil(t, ev.Error)
}

func TestRenderCompleteEvent(t *testing.T) {
	hub, conn := testHub(t)

	hub.Callbacks().OnRenderComplete("art-1", false, "TypeError: boom")
	ev := readEvent(t, conn)
	assert.Equal(t, "render-complete", ev.Type)
	require.NotNil(t, ev.Success)
	assert.False(t, *ev.Success)
	assert.Equal(t, "TypeError: boom", ev.Detail)
}

func TestDisconnectRemovesClient(t *testing.T) {
	hub, conn := testHub(t)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 },
		2*time.Second, 10*time.Millisecond)

	// publishing to an empty hub must not panic
	hub.Callbacks().OnLoading("art-1", false)
}
