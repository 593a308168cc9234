// Package api serves a small read-only HTTP API over the resolver and the
// lookup journal.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"gaiwait/pkg/gai"
	"gaiwait/pkg/storage"
)

// Server represents the API server
type Server struct {
	handler    http.Handler
	httpServer *http.Server
	logger     *slog.Logger

	// Dependencies
	resolver *gai.Resolver
	storage  storage.Storage

	// Metadata
	version   string
	startTime time.Time
}

// Config holds API server configuration
type Config struct {
	ListenAddress string
	Resolver      *gai.Resolver
	Storage       storage.Storage
	Metrics       http.Handler // served on /metrics when set
	Logger        *slog.Logger
	Version       string
}

// New creates a new API server
func New(cfg *Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		resolver:  cfg.Resolver,
		storage:   cfg.Storage,
		logger:    cfg.Logger,
		version:   cfg.Version,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()

	// Health checks
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)

	// Resolver
	mux.HandleFunc("GET /api/resolve", s.handleResolve)
	mux.HandleFunc("GET /api/inflight", s.handleInFlight)

	// Journal
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/lookups", s.handleLookups)

	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}

	handler := s.loggingMiddleware(mux)
	handler = s.corsMiddleware(handler)

	s.handler = handler
	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves until ctx is done or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	l, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("API listen: %w", err)
	}
	s.logger.Info("Starting API server", "address", l.Addr().String())

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errChan:
		return err
	}
}

// Shutdown gracefully shuts down the API server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", "error", err)
	}
}

// writeError writes an error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	s.writeJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Code:    statusCode,
		Message: message,
	})
}

// parseDuration parses a duration string with default value
func parseDuration(s string, defaultDuration time.Duration) time.Duration {
	if s == "" {
		return defaultDuration
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultDuration
	}

	return d
}

// getUptime returns the server uptime as a string
func (s *Server) getUptime() string {
	return time.Since(s.startTime).Truncate(time.Second).String()
}
