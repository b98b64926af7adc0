// Package server exposes the depth feed over HTTP: status, live depth and
// quotes, the signal journal, a WebSocket signal stream and Prometheus
// metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/depthfeed/internal/server/handler"
	"github.com/alanyoungcy/depthfeed/internal/server/middleware"
	"github.com/alanyoungcy/depthfeed/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // empty disables authentication
}

// Handlers aggregates the HTTP handlers the server registers. Metrics is
// served at /metrics when non-nil.
type Handlers struct {
	Health  *handler.HealthHandler
	Status  *handler.StatusHandler
	Depth   *handler.DepthHandler
	Quote   *handler.QuoteHandler
	Signals *handler.SignalHandler
	Metrics http.Handler
}

// Server is the read-only HTTP + WebSocket API.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in CORS, logging and
// auth middleware. hub may be nil.
func NewServer(cfg Config, h Handlers, hub *ws.Hub, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", h.Status.GetStatus)

	mux.HandleFunc("GET /api/depth/{segment}/{id}", h.Depth.GetDepth)
	mux.HandleFunc("GET /api/depth/{segment}/{id}/summary", h.Depth.GetSummary)
	mux.HandleFunc("GET /api/depth/{segment}/{id}/history", h.Depth.GetHistory)
	mux.HandleFunc("GET /api/quote/{segment}/{id}", h.Quote.GetQuote)

	mux.HandleFunc("GET /api/signals", h.Signals.ListSignals)
	mux.HandleFunc("GET /api/events", h.Signals.ListEvents)

	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}
	if h.Metrics != nil {
		mux.Handle("GET /metrics", h.Metrics)
	}

	var root http.Handler = mux
	root = middleware.Auth(cfg.APIKey, "/api/health", "/metrics")(root)
	root = middleware.Logging(logger)(root)
	root = middleware.CORS(cfg.CORSOrigins)(root)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           root,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the fully wrapped root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
