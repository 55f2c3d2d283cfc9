package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rzzdr/options-risk-desk/config"
	"github.com/rzzdr/options-risk-desk/internal/websocket"
	"github.com/rzzdr/options-risk-desk/pkg/metrics"
	"github.com/rzzdr/options-risk-desk/pkg/utils/logger"
)

// Server represents the API server
type Server struct {
	config     config.APIConfig
	engine     *gin.Engine
	httpServer *http.Server
	handlers   *Handlers
	hub        *websocket.Hub
	recorder   *metrics.Recorder
	log        *logger.Logger
}

// NewServer creates a new API server. hub may be nil, in which case /ws is not served.
func NewServer(cfg config.APIConfig, desk Desk, hub *websocket.Hub, recorder *metrics.Recorder) *Server {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	RegisterValidations()

	server := &Server{
		config:   cfg,
		engine:   gin.New(),
		handlers: NewHandlers(desk, recorder),
		hub:      hub,
		recorder: recorder,
		log:      logger.GetLogger("api.server"),
	}

	server.SetupRoutes()

	return server
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start starts the API server and blocks until it stops
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.log.Infof("Starting API server on %s", addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop stops the API server gracefully
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer != nil {
		s.log.Info("Stopping API server")
		return s.httpServer.Shutdown(ctx)
	}

	return nil
}
