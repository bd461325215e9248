// Package ws streams rendering-pipeline events to the host UI over
// WebSocket: loading changes, classified preview errors, strategy
// switches, fix requests, and render completion.
package ws

import (
	"net/http"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/openartifacts/canvasd/internal/artifact"
	"github.com/openartifacts/canvasd/internal/classify"
	"github.com/openartifacts/canvasd/internal/logging"
	"github.com/openartifacts/canvasd/internal/renderer"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // host UI is same-deployment; gin CORS guards the rest
	},
}

// Event is one pipeline notification
type Event struct {
	Type       string          `json:"type"`
	ArtifactID string          `json:"artifact_id"`
	Loading    *bool           `json:"loading,omitempty"`
	Error      *classify.Error `json:"error,omitempty"`
	Strategy   string          `json:"strategy,omitempty"`
	Success    *bool           `json:"success,omitempty"`
	Detail     string          `json:"detail,omitempty"`
}

// Hub fans pipeline events out to every connected client
type Hub struct {
	log *logging.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]chan []byte
}

// NewHub creates an empty hub
func NewHub(log *logging.Logger) *Hub {
	return &Hub{
		log:     log,
		clients: make(map[*websocket.Conn]chan []byte),
	}
}

// Callbacks adapts the hub onto the renderer's host-callback seams
func (h *Hub) Callbacks() renderer.Callbacks {
	return renderer.Callbacks{
		OnLoading: func(id string, loading bool) {
			h.publish(Event{Type: "loading", ArtifactID: id, Loading: &loading})
		},
		OnPreviewError: func(id string, cerr *classify.Error) {
			h.publish(Event{Type: "preview-error", ArtifactID: id, Error: cerr})
		},
		OnRequestFix: func(id string, cerr classify.Error) {
			h.publish(Event{Type: "fix-requested", ArtifactID: id, Error: &cerr, Detail: cerr.SuggestedFix})
		},
		OnStrategyChange: func(id string, s artifact.Strategy) {
			h.publish(Event{Type: "strategy-change", ArtifactID: id, Strategy: string(s)})
		},
		OnRenderComplete: func(id string, success bool, errText string) {
			h.publish(Event{Type: "render-complete", ArtifactID: id, Success: &success, Detail: errText})
		},
	}
}

// publish encodes once and queues to every client, dropping slow ones
func (h *Hub) publish(ev Event) {
	payload, err := sonic.Marshal(ev)
	if err != nil {
		h.log.Error("encode event", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, ch := range h.clients {
		select {
		case ch <- payload:
		default:
			// client is not keeping up; closing is kinder than blocking
			// the pipeline
			close(ch)
			delete(h.clients, conn)
			conn.Close()
		}
	}
}

// HandleConnection upgrades the request and streams events until the
// client disconnects
func (h *Hub) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()

	go func() {
		defer conn.Close()
		for payload := range ch {
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				break
			}
		}
	}()

	// drain reads to detect disconnect
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.mu.Lock()
	if ch, ok := h.clients[conn]; ok {
		close(ch)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
	conn.Close()
}

// ClientCount reports connected clients
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
