// Package statusapi exposes the scheduler over HTTP: health and status
// endpoints, Prometheus metrics, a live run event stream over
// WebSocket, and an MCP tool surface. It is a read-mostly observer;
// the only mutation it offers is triggering a run through MCP.
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flemzord/cronloop/internal/health"
	"github.com/flemzord/cronloop/internal/schedule"
)

// Config assembles a Server.
type Config struct {
	Listen  string
	Engine  *schedule.Engine
	Monitor *health.Monitor
	// Gatherer serves GET /metrics. Nil falls back to the default
	// registry.
	Gatherer prometheus.Gatherer
	// AuthToken, when non-empty, is required as a bearer token on all
	// endpoints except /health.
	AuthToken string
	Logger    *slog.Logger
}

// Server is the status HTTP server.
type Server struct {
	cfg       Config
	logger    *slog.Logger
	stream    *stream
	server    *http.Server
	startedAt time.Time
}

// New creates a Server and subscribes its event stream to the engine.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		cfg:    cfg,
		logger: cfg.Logger,
		stream: newStream(cfg.Logger),
	}
	cfg.Engine.SetPublisher(s.stream.publish)
	return s
}

// Handler builds the chi mux with all routes wired.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Public: load balancers and probes need it without credentials.
	r.Get("/health", s.handleHealth())

	r.Group(func(r chi.Router) {
		if s.cfg.AuthToken != "" {
			r.Use(bearerAuth(s.cfg.AuthToken))
		}
		r.Get("/status", s.handleStatus())
		r.Get("/report", s.handleReport())
		r.Handle("/metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))
		r.Get("/ws/events", s.stream.handleSubscribe())
		r.Mount("/mcp", s.mcpHandler())
	})

	return r
}

// Start binds the listen address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.startedAt = time.Now()
	s.server = &http.Server{
		Addr:        s.cfg.Listen,
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Listen)
	if err != nil {
		return errors.New("statusapi: listen failed: " + err.Error())
	}

	go func() {
		s.logger.Info("status server listening", "addr", s.cfg.Listen)
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status server error", "error", err)
		}
	}()
	return nil
}

// Stop shuts the server down gracefully and closes all event stream
// subscribers.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("status server shutting down")
	s.stream.close()

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

// healthResponse is the JSON response for GET /health.
type healthResponse struct {
	Status string   `json:"status"`
	Issues []string `json:"issues,omitempty"`
	Events int      `json:"events"`
}

// handleHealth returns 200 while healthy or degraded-with-warnings and
// 503 once unhealthy, so it can back a liveness probe directly.
func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		check := s.cfg.Monitor.Check(time.Now())
		resp := healthResponse{
			Status: string(check.Status),
			Issues: check.Issues,
			Events: check.Events,
		}
		w.Header().Set("Content-Type", "application/json")
		if check.Status == health.StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}

type statusResponse struct {
	Environment string `json:"environment,omitempty"`
	Uptime      string `json:"uptime"`
	schedule.Stats
}

// handleStatus dumps the registered events with their run state.
func (s *Server) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		now := time.Now()
		resp := statusResponse{
			Environment: s.cfg.Engine.Environment(),
			Uptime:      now.Sub(s.startedAt).Round(time.Second).String(),
			Stats:       s.cfg.Engine.Stats(now),
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// handleReport serves the monitor's full report.
func (s *Server) handleReport() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(s.cfg.Monitor.Report(time.Now()))
	}
}
