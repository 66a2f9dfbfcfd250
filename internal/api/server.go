package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/classcomm/classcomm/internal/serverdb"
)

// Server is the HTTP API server for classcomm-sync.
type Server struct {
	config  Config
	http    *http.Server
	store   *serverdb.ServerDB
	metrics *Metrics
}

// NewServer creates a new server with the given config and store.
func NewServer(cfg Config, store *serverdb.ServerDB) *Server {
	if cfg.MaxPushBatch <= 0 {
		cfg.MaxPushBatch = 1000
	}
	if cfg.MaxPullLimit <= 0 {
		cfg.MaxPullLimit = 5000
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 10 << 20
	}
	s := &Server{
		config:  cfg,
		store:   store,
		metrics: NewMetrics(),
	}
	s.http = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Start begins listening for HTTP requests (non-blocking).
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("http server", "err", err)
		}
	}()
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Routes builds the HTTP handler with all routes and middleware.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /metricz", s.handleMetrics)

	mux.HandleFunc("POST /v1/sync/push", s.requireAuth(s.handleSyncPush))
	mux.HandleFunc("GET /v1/sync/pull", s.requireAuth(s.handleSyncPull))
	mux.HandleFunc("GET /v1/sync/status", s.requireAuth(s.handleSyncStatus))

	return chain(mux,
		recoveryMiddleware,
		requestIDMiddleware,
		loggerMiddleware,
		metricsMiddleware(s.metrics),
		loggingMiddleware,
		maxBytesMiddleware(s.config.MaxBodyBytes),
	)
}

// handleHealth returns a health check response, pinging the database.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "detail": "db unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleMetrics returns a snapshot of server metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}
