package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/syntrixbase/searchsync/internal/server/ratelimit"
)

// Server is the HTTP listener every API surface registers on.
type Server struct {
	cfg    Config
	logger *slog.Logger

	mux         *http.ServeMux
	httpServer  *http.Server
	rateLimiter ratelimit.Limiter

	mu          sync.Mutex
	started     bool
	listener    net.Listener
	stopLimiter sync.Once
}

// New creates a Server. Handlers must be registered before Start.
func New(cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		logger: logger.With("component", "server"),
		mux:    http.NewServeMux(),
	}
	if cfg.RateLimit.Enabled {
		s.rateLimiter = ratelimit.NewMemoryLimiter(cfg.RateLimit)
	}
	return s
}

// Handle registers a handler for pattern. Patterns use the net/http
// method and wildcard syntax, e.g. "POST /sync/{strategy}".
func (s *Server) Handle(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}

// Handler returns the mux wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	return s.wrapMiddleware(s.mux)
}

// Addr returns the bound address once Start has opened the listener.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start opens the listener and serves until ctx is cancelled or the
// server fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("server already started")
	}
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port))
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.started = true
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}
	srv := s.httpServer
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		return nil
	}
}

// Stop drains active connections until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if stoppable, ok := s.rateLimiter.(ratelimit.Stoppable); ok {
		s.stopLimiter.Do(stoppable.Stop)
	}
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("Stopping HTTP server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown error: %w", err)
	}
	return nil
}
