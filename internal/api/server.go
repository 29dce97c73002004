// Package api exposes the journal over HTTP and a WebSocket state stream.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"trade-journal-go/internal/config"
	"trade-journal-go/internal/journal"
)

// Server provides an HTTP interface for the journal engine.
type Server struct {
	server *http.Server
	router *gin.Engine
	engine *journal.Engine
	logger *zap.Logger
}

// NewServer creates a new Server and registers every route.
func NewServer(cfg config.Server, engine *journal.Engine, logger *zap.Logger) *Server {
	if cfg.Mode == gin.DebugMode {
		gin.SetMode(gin.DebugMode)
	} else if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		router: gin.New(),
		engine: engine,
		logger: logger.Named("api-server"),
	}
	s.router.Use(gin.Recovery(), s.requestLogger())

	s.router.GET("/health", s.health)
	s.router.GET("/status", s.status)

	api := s.router.Group("/api")
	s.registerTrades(api)
	s.registerAnalytics(api)
	s.registerJournal(api)
	api.GET("/stream", s.stream)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the HTTP server in a new goroutine.
func (s *Server) Start() {
	s.logger.Info("Starting API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server...")
	return s.server.Shutdown(ctx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("Request handled",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)),
		)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) status(c *gin.Context) {
	Ok(c, s.engine.Status())
}
