// Package server exposes the orchestrator over HTTP. Chat responses stream as
// server-sent events.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jllopis/chorus/pkg/orchestrator"
)

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMode sets the gin mode: debug, release or test.
func WithMode(mode string) Option {
	return func(s *Server) { s.mode = mode }
}

// WithSessions replaces the session table.
func WithSessions(t *Sessions) Option {
	return func(s *Server) {
		if t != nil {
			s.sessions = t
		}
	}
}

// WithVersion is reported by /health.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// Server serves the chorus HTTP API.
type Server struct {
	router    *gin.Engine
	orch      *orchestrator.Orchestrator
	sessions  *Sessions
	logger    *slog.Logger
	mode      string
	version   string
	startedAt time.Time
}

// New builds the router for orch.
func New(orch *orchestrator.Orchestrator, opts ...Option) *Server {
	s := &Server{
		orch:      orch,
		sessions:  NewSessions(0),
		logger:    slog.Default(),
		mode:      gin.ReleaseMode,
		version:   "dev",
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	gin.SetMode(s.mode)

	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(loggerMiddleware(s.logger))
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/v1")
	{
		v1.GET("/personas", s.handlePersonas)
		v1.GET("/tools", s.handleTools)
		v1.POST("/chat", s.handleChat)
		v1.GET("/sessions/:id", s.handleGetSession)
		v1.DELETE("/sessions/:id", s.handleDeleteSession)
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Sessions returns the session table.
func (s *Server) Sessions() *Sessions { return s.sessions }

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.logger.Info("server.start", slog.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("server.shutdown")
	return srv.Shutdown(shutdownCtx)
}

func loggerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.InfoContext(c.Request.Context(), "server.request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("ip", c.ClientIP()),
		)
	}
}
