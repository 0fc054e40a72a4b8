package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/Project-GrADyS/uav-api/internal/auth"
	"github.com/Project-GrADyS/uav-api/internal/command"
	"github.com/Project-GrADyS/uav-api/internal/config"
	"github.com/Project-GrADyS/uav-api/internal/logging"
	"github.com/Project-GrADyS/uav-api/internal/metrics"
)

// Deps are the services behind the routes. Gateway and State are required;
// the rest may be nil.
type Deps struct {
	Gateway command.GatewayPort
	State   StatePort
	Stream  StreamPort
	Health  func() any
	Auth    *auth.Middleware
	Metrics *metrics.Metrics
}

// Server is the HTTP API server.
type Server struct {
	deps       Deps
	cfg        config.APIConfig
	logger     *slog.Logger
	handler    http.Handler
	httpServer *http.Server
	startTime  time.Time
}

// NewServer builds the router.
func NewServer(deps Deps, cfg config.APIConfig, logger *slog.Logger) *Server {
	if deps.Auth == nil {
		deps.Auth = auth.NewMiddleware(nil, logger)
	}
	s := &Server{
		deps:      deps,
		cfg:       cfg,
		logger:    logging.OrDiscard(logger).With("component", "api"),
		startTime: time.Now(),
	}
	s.handler = s.routes()
	// No write timeout: movement waits and the event stream are long-lived.
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Handler is the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on cfg.Addr and serves until Stop. It returns nil after a
// graceful stop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Stop.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("api listening", "addr", ln.Addr().String(), "auth", s.deps.Auth.Enabled())

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

// Stop gracefully stops the server within cfg.ShutdownTimeout.
func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx := ctx
	if s.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()
	}

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}
