package api

import (
	"can-telemetry-bridge/internal/version"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// StatusFunc returns the JSON-serializable bridge status
type StatusFunc func() any

// Server represents the status HTTP server
type Server struct {
	server  *http.Server
	status  StatusFunc
	metrics http.Handler
	logger  *slog.Logger
	started time.Time
}

// ServerConfig holds API server configuration
type ServerConfig struct {
	Port    int
	Status  StatusFunc
	Metrics http.Handler
	Logger  *slog.Logger
}

// NewServer creates a new API server instance
func NewServer(config ServerConfig) *Server {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	server := &Server{
		status:  config.Status,
		metrics: config.Metrics,
		logger:  logger,
		started: time.Now(),
	}

	// Setup HTTP router
	mux := http.NewServeMux()
	server.setupRoutes(mux)

	server.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		Handler:      loggingMiddleware(logger, corsMiddleware(mux)),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/status", s.handleStatus)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
}

// Handler returns the server's root handler
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Addr returns the listen address
func (s *Server) Addr() string {
	return s.server.Addr
}

// handleRoot returns API information
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	info := map[string]any{
		"name":    "CAN Telemetry Bridge",
		"version": version.Version,
		"endpoints": map[string]string{
			"health":  "/health",
			"status":  "/api/status",
			"metrics": "/metrics",
		},
	}

	respondWithJSON(w, http.StatusOK, info)
}

// handleHealth returns server liveness
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now(),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	}

	respondWithJSON(w, http.StatusOK, health)
}

// handleStatus returns the bridge status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondWithError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.status == nil {
		respondWithError(w, http.StatusServiceUnavailable, "status unavailable")
		return
	}

	respondWithJSON(w, http.StatusOK, s.status())
}

// Start serves until Stop. A clean shutdown returns nil.
func (s *Server) Start() error {
	s.logger.Info("starting status API server", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the API server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping status API server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		next.ServeHTTP(w, r)

		logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote", r.RemoteAddr,
			"duration", time.Since(start),
		)
	})
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		// Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
