// Package server wires the rendering pipeline behind a gin HTTP server.
package server

import (
	"context"
	nethttp "net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/openartifacts/canvasd/internal/config"
	httpapi "github.com/openartifacts/canvasd/internal/http"
	"github.com/openartifacts/canvasd/internal/logging"
	"github.com/openartifacts/canvasd/internal/monitoring"
	"github.com/openartifacts/canvasd/internal/renderer"
	"github.com/openartifacts/canvasd/internal/ws"
)

// Server owns the HTTP surface and the dispatcher behind it
type Server struct {
	cfg        *config.Config
	log        *logging.Logger
	dispatcher *renderer.Dispatcher
	hub        *ws.Hub
	httpServer *nethttp.Server
}

// New builds a fully wired server
func New(cfg *config.Config) (*Server, error) {
	log, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		return nil, err
	}

	hub := ws.NewHub(log)
	metrics := monitoring.New()

	dispatcher := renderer.NewDispatcher(renderer.Options{
		HostOrigin:           cfg.Server.Origin,
		AllowedOrigins:       cfg.Bundle.AllowedOrigins,
		PerOriginRefs:        cfg.Bundle.PerOriginRefs,
		DisablePackageRunner: cfg.Renderer.DisablePackageRunner,
		WatchdogTimeout:      cfg.Renderer.WatchdogTimeout,
		SandboxTimeout:       cfg.Renderer.SandboxTimeout,
		Callbacks:            hub.Callbacks(),
		Metrics:              metrics,
		Logger:               log,
	})

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.Default())

	handlers := httpapi.NewHandlers(dispatcher, log)

	router.GET("/health", handlers.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/artifacts", handlers.Submit)
	router.PUT("/artifacts/:id", handlers.Replace)
	router.GET("/artifacts/:id/state", handlers.State)
	router.DELETE("/artifacts/:id", handlers.Close)

	router.POST("/artifacts/:id/retry", handlers.Retry)
	router.POST("/artifacts/:id/fallback", handlers.Fallback)
	router.POST("/artifacts/:id/fix", handlers.Fix)

	router.GET("/stream", hub.HandleConnection)

	return &Server{
		cfg:        cfg,
		log:        log,
		dispatcher: dispatcher,
		hub:        hub,
		httpServer: &nethttp.Server{
			Addr:    cfg.Server.Host + ":" + cfg.Server.Port,
			Handler: router,
		},
	}, nil
}

// Run blocks serving HTTP until the server closes
func (s *Server) Run() error {
	s.log.Info("canvasd listening",
		zap.String("addr", s.httpServer.Addr),
		zap.Strings("bundle_origins", s.cfg.Bundle.AllowedOrigins),
		zap.Bool("package_runner_disabled", s.cfg.Renderer.DisablePackageRunner))
	err := s.httpServer.ListenAndServe()
	if err == nethttp.ErrServerClosed {
		return nil
	}
	return err
}

// Close drains connections and tears down every render session
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.httpServer.Shutdown(ctx)
	s.dispatcher.CloseAll()
	s.log.Sync()
	return err
}

// Dispatcher exposes the pipeline for tests
func (s *Server) Dispatcher() *renderer.Dispatcher { return s.dispatcher }
