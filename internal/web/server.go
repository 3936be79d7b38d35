// Package web is the HTTP surface of MotiveProxy: the two chat endpoints
// backed by protocol adapters, plus health, metrics, and admin routes.
package web

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/motiveproxy/motiveproxy/internal/config"
	"github.com/motiveproxy/motiveproxy/internal/observe"
	"github.com/motiveproxy/motiveproxy/internal/protocol"
	"github.com/motiveproxy/motiveproxy/internal/ratelimit"
	"github.com/motiveproxy/motiveproxy/internal/session"
)

// Server is the MotiveProxy HTTP server.
type Server struct {
	cfg      *config.Config
	mgr      *session.Manager
	adapters *protocol.Registry
	limiter  *ratelimit.Limiter // nil when rate limiting is disabled
	metrics  *observe.Metrics   // nil when metrics are disabled

	mux       *http.ServeMux
	server    *http.Server
	startedAt time.Time
}

// New creates the server. metrics may be nil; the limiter is created here
// when cfg enables rate limiting.
func New(cfg *config.Config, mgr *session.Manager, metrics *observe.Metrics) *Server {
	s := &Server{
		cfg: cfg,
		mgr: mgr,
		adapters: protocol.NewRegistry(
			protocol.OpenAIAdapter{},
			protocol.AnthropicAdapter{},
		),
		metrics:   metrics,
		mux:       http.NewServeMux(),
		startedAt: time.Now(),
	}
	if cfg.EnableRateLimiting {
		s.limiter = ratelimit.New(ratelimit.Config{
			PerMinute: cfg.RateLimitPerMinute,
			PerHour:   cfg.RateLimitPerHour,
			Burst:     cfg.RateLimitBurst,
		})
	}

	s.registerRoutes()

	var handler http.Handler = s.mux
	handler = s.recoverMiddleware(handler)
	handler = s.securityMiddleware(handler)
	handler = observe.Middleware(metrics)(handler)

	s.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
		// Responses block on the peer for up to the turn budget, and SSE
		// needs no write timeout.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes() {
	// Both chat endpoints share the turn handler; the adapter registry
	// resolves the wire format from the path.
	s.mux.HandleFunc("POST /v1/chat/completions", s.handleTurn)
	s.mux.HandleFunc("POST /v1/messages", s.handleTurn)
	s.mux.HandleFunc("GET /v1/models", s.handleModels)

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /admin/sessions", s.handleAdminSessions)
	s.mux.HandleFunc("DELETE /admin/sessions/{id}", s.handleAdminCloseSession)

	if s.cfg.EnableMetrics {
		s.mux.Handle("GET /metrics", promhttp.Handler())
	}
}

// Start begins serving HTTP requests. It blocks until the server is shut
// down.
func (s *Server) Start() error {
	slog.Info("listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
