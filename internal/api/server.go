package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"callwatch/internal/api/health"
	"callwatch/internal/api/middleware"
	"callwatch/internal/metrics"
	"callwatch/pkg/errors"
	"callwatch/pkg/logger"
)

// ServerConfig contains configuration for HTTP server
type ServerConfig struct {
	Port        int
	ServiceName string
	Version     string
	OpsToken    string

	TelegramWebhook http.Handler // nil in polling mode
	Relay           http.Handler
	Ops             http.Handler // serves /ops/
}

// Server wraps HTTP server with lifecycle management
type Server struct {
	httpServer *http.Server
	log        *logger.Logger
}

// NewServer creates and configures HTTP server with all routes
func NewServer(cfg ServerConfig, healthHandler *health.Handler, log *logger.Logger) *Server {
	mux := http.NewServeMux()
	logging := middleware.NewLoggingMiddleware(log)
	auth := middleware.NewTokenAuth(cfg.OpsToken, log)

	// Probes
	mux.HandleFunc("GET /health", healthHandler.HandleHealth)
	mux.HandleFunc("GET /ready", healthHandler.HandleReadiness)
	mux.HandleFunc("GET /live", healthHandler.HandleLiveness)
	mux.Handle("GET /metrics", metrics.Handler())

	if cfg.TelegramWebhook != nil {
		mux.Handle("/telegram/webhook", logging.Handler("/telegram/webhook", cfg.TelegramWebhook))
		log.Info("✓ Telegram webhook registered at /telegram/webhook")
	}
	if cfg.Relay != nil {
		mux.Handle("/relay/messages", logging.Handler("/relay/messages", auth.Handler(cfg.Relay)))
	}
	if cfg.Ops != nil {
		mux.Handle("/ops/", logging.Handler("/ops", auth.Handler(cfg.Ops)))
	}

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"service":"%s","version":"%s","status":"running"}`,
			cfg.ServiceName, cfg.Version)
	})

	port := 8080
	if cfg.Port > 0 {
		port = cfg.Port
	}

	log.Infof("HTTP server configured on port %d", port)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      60 * time.Second, // manual sync runs synchronously
		IdleTimeout:       60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		log:        log,
	}
}

// Handler exposes the router for tests
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for HTTP requests.
// Blocks until server is stopped or encounters an error.
func (s *Server) Start() error {
	s.log.Infof("Starting HTTP server on %s", s.httpServer.Addr)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "http server failed")
	}

	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Stopping HTTP server...")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "http server shutdown failed")
	}

	s.log.Info("✓ HTTP server stopped")
	return nil
}
