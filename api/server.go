// Package api assembles the HTTP server.
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"example.com/debitum/api/middleware"
	"example.com/debitum/api/routes"
	"example.com/debitum/config"
)

// Server is the HTTP server for the sync API.
type Server struct {
	cfg        config.Config
	router     *gin.Engine
	httpServer *http.Server
}

// NewServer creates the server with its middleware stack and routes.
// nrApp may be nil when tracing is disabled.
func NewServer(cfg config.Config, db *gorm.DB, nrApp *newrelic.Application, h routes.Handlers) *Server {
	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.RequestID())
	if cfg.Server.CorsEnabled {
		router.Use(middleware.CORS())
	}
	router.Use(gin.Recovery())
	router.Use(middleware.Logging())
	if nrApp != nil {
		router.Use(nrgin.Middleware(nrApp))
	}

	routes.SetupRoutes(router, db, h)

	return &Server{
		cfg:    cfg,
		router: router,
		httpServer: &http.Server{
			Addr:    cfg.Server.Address,
			Handler: router,
			// No WriteTimeout: /ws holds long-lived websocket connections.
			ReadHeaderTimeout: cfg.Server.Timeout,
		},
	}
}

// Router exposes the underlying router for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start runs the server until it is shut down.
func (s *Server) Start() error {
	log.Info().Str("address", s.cfg.Server.Address).Msg("Starting API server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
