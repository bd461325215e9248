// Package http exposes the REST surface of the rendering pipeline.
package http

import (
	nethttp "net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/openartifacts/canvasd/internal/artifact"
	"github.com/openartifacts/canvasd/internal/logging"
	"github.com/openartifacts/canvasd/internal/renderer"
)

// Handlers holds REST handler dependencies
type Handlers struct {
	dispatcher *renderer.Dispatcher
	log        *logging.Logger
}

// NewHandlers creates the REST handlers
func NewHandlers(dispatcher *renderer.Dispatcher, log *logging.Logger) *Handlers {
	return &Handlers{dispatcher: dispatcher, log: log}
}

// submitRequest is the inbound artifact payload from the model collaborator
type submitRequest struct {
	Kind       string              `json:"kind" binding:"required"`
	Source     string              `json:"source"`
	Title      string              `json:"title"`
	Bundle     *artifact.BundleRef `json:"bundle,omitempty"`
	Failed     bool                `json:"compile_failed,omitempty"`
	Diagnostic string              `json:"diagnostic,omitempty"`
}

// Submit creates an artifact program and starts rendering it
func (h *Handlers) Submit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(nethttp.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	kind := artifact.Kind(req.Kind)
	if !kind.Valid() {
		c.JSON(nethttp.StatusBadRequest, gin.H{"error": "unknown artifact kind"})
		return
	}

	p := artifact.New(kind, req.Source, req.Title)
	p.Bundle = req.Bundle
	p.Failed = req.Failed
	p.Diagnostic = req.Diagnostic

	s, err := h.dispatcher.Render(c.Request.Context(), p)
	if err != nil {
		c.JSON(nethttp.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.log.Info("artifact submitted",
		zap.String("artifact_id", p.ID),
		zap.String("kind", string(p.Kind)),
		zap.String("strategy", string(s.Strategy())))
	c.JSON(nethttp.StatusCreated, gin.H{
		"artifact": p,
		"strategy": s.Strategy(),
	})
}

// Replace swaps an artifact's program. An edited source gets a new
// identity; a same-identity call with a bundle reference re-selects the
// strategy (the bundle finished compiling after first display).
func (h *Handlers) Replace(c *gin.Context) {
	id := c.Param("id")
	s, ok := h.dispatcher.Session(id)
	if !ok {
		c.JSON(nethttp.StatusNotFound, gin.H{"error": "artifact not found"})
		return
	}

	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(nethttp.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	prev := s.Program()
	var next *artifact.Program
	if req.Source != "" && req.Source != prev.Source {
		next = prev.Replace(req.Source)
	} else {
		next = prev
	}
	if req.Bundle != nil {
		next = next.WithBundle(req.Bundle)
	}

	if err := h.dispatcher.Update(c.Request.Context(), id, next); err != nil {
		c.JSON(nethttp.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(nethttp.StatusOK, gin.H{"artifact": next, "strategy": s.Strategy()})
}

// State reports the session's current rendering state
func (h *Handlers) State(c *gin.Context) {
	s, ok := h.dispatcher.Session(c.Param("id"))
	if !ok {
		c.JSON(nethttp.StatusNotFound, gin.H{"error": "artifact not found"})
		return
	}

	resp := gin.H{
		"artifact_id": s.Program().ID,
		"strategy":    s.Strategy(),
		"loading":     s.Loading(),
		"recovery": gin.H{
			"state":    s.Recovery().State(),
			"attempts": s.Recovery().Attempts(),
		},
	}
	if cerr := s.Recovery().LastError(); cerr != nil {
		resp["error"] = cerr
	}
	if out := s.StaticRender(); out != "" {
		resp["static_render"] = out
	}
	c.JSON(nethttp.StatusOK, resp)
}

// Retry re-renders with the current strategy at the user's request
func (h *Handlers) Retry(c *gin.Context) {
	s, ok := h.dispatcher.Session(c.Param("id"))
	if !ok {
		c.JSON(nethttp.StatusNotFound, gin.H{"error": "artifact not found"})
		return
	}
	s.Recovery().RetryManually()
	c.JSON(nethttp.StatusAccepted, gin.H{"state": s.Recovery().State()})
}

// Fallback switches to the requested (or classifier-suggested) strategy
func (h *Handlers) Fallback(c *gin.Context) {
	s, ok := h.dispatcher.Session(c.Param("id"))
	if !ok {
		c.JSON(nethttp.StatusNotFound, gin.H{"error": "artifact not found"})
		return
	}

	target := artifact.Strategy(c.Query("strategy"))
	if target == "" {
		if cerr := s.Recovery().LastError(); cerr != nil && cerr.Fallback != "" {
			target = cerr.Fallback
		} else {
			target = artifact.StrategyTranspile
		}
	}
	s.Recovery().SwitchManually(target)
	c.JSON(nethttp.StatusAccepted, gin.H{"strategy": target})
}

// Fix requests a model-driven fix. Available in every recovery state.
func (h *Handlers) Fix(c *gin.Context) {
	s, ok := h.dispatcher.Session(c.Param("id"))
	if !ok {
		c.JSON(nethttp.StatusNotFound, gin.H{"error": "artifact not found"})
		return
	}
	s.Recovery().RequestFixManually()
	c.JSON(nethttp.StatusAccepted, gin.H{"state": s.Recovery().State()})
}

// Close tears down one artifact's rendering
func (h *Handlers) Close(c *gin.Context) {
	if err := h.dispatcher.Close(c.Param("id")); err != nil {
		c.JSON(nethttp.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Status(nethttp.StatusNoContent)
}

// Health is the liveness endpoint
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(nethttp.StatusOK, gin.H{"status": "ok", "service": "canvasd"})
}
