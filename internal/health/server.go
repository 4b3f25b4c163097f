// Package health exposes liveness, readiness and diagnostics endpoints for
// container probes.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"luxon_pay_bot/internal/logging"
	"luxon_pay_bot/internal/store"
)

const (
	pingTimeout        = 2 * time.Second
	statsTimeout       = 3 * time.Second
	readHeaderTimeout  = 2 * time.Second
	healthListenPrefix = ":"
)

// Checker is anything that can be pinged: MongoDB, the payment backend.
type Checker interface {
	Ping(ctx context.Context) error
}

// StatsSource reports counters of locally stored records.
type StatsSource interface {
	Stats(ctx context.Context) (store.Stats, error)
}

// Deps lists what the endpoints inspect. Every field is optional except
// Mongo.
type Deps struct {
	Mongo   Checker
	Backend Checker
	Stats   StatsSource
	// Gauges returns in-memory counters such as active sessions and timers.
	Gauges func() map[string]int
}

// Server hosts the health endpoints and owns the underlying HTTP server.
type Server struct {
	server *http.Server
	logger *logrus.Entry
	deps   Deps
}

type response struct {
	Status  string `json:"status"`
	Mongo   string `json:"mongo,omitempty"`
	Backend string `json:"backend,omitempty"`
}

type statsResponse struct {
	Store   *store.Stats   `json:"store,omitempty"`
	Runtime map[string]int `json:"runtime,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// NewServer constructs a health server listening on the provided port.
func NewServer(port int, deps Deps, logger *logrus.Entry) *Server {
	if logger == nil {
		logger = logging.Logger()
	}

	srv := &Server{
		logger: logger,
		deps:   deps,
	}

	srv.server = &http.Server{
		Addr:              fmt.Sprintf("%s%d", healthListenPrefix, port),
		Handler:           srv.routes(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return srv
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/stats", s.handleStats)

	return r
}

// ListenAndServe starts the health server and blocks until shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.WithFields(logging.Fields{
		"event": "health_listen",
		"addr":  s.server.Addr,
	}).Info("starting health server")

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("health server listen: %w", err)
	}

	s.logger.WithField("event", "health_stopped").Info("health server stopped")
	return nil
}

// Shutdown gracefully stops the health server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}

	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := response{Status: "ok"}

	if s.deps.Mongo == nil {
		s.logger.WithField("event", "health_mongo_missing").Warn("mongo checker is not configured for health endpoint")
		resp.Mongo = "error"
	} else if err := s.ping(r.Context(), s.deps.Mongo); err != nil {
		s.logger.WithField("event", "health_mongo_error").WithError(err).Warn("mongo ping failed during health check")
		resp.Mongo = "error"
	}

	if s.deps.Backend != nil {
		if err := s.ping(r.Context(), s.deps.Backend); err != nil {
			s.logger.WithField("event", "health_backend_error").WithError(err).Warn("backend ping failed during health check")
			resp.Backend = "error"
		}
	}

	if resp.Mongo != "" || resp.Backend != "" {
		resp.Status = "degraded"
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, response{Status: "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var resp statsResponse
	if s.deps.Gauges != nil {
		resp.Runtime = s.deps.Gauges()
	}

	if s.deps.Stats != nil {
		ctx, cancel := context.WithTimeout(r.Context(), statsTimeout)
		stats, err := s.deps.Stats.Stats(ctx)
		cancel()
		if err != nil {
			s.logger.WithField("event", "health_stats_error").WithError(err).Warn("failed to collect store stats")
			resp.Error = "store unavailable"
			s.writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		resp.Store = &stats
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) ping(ctx context.Context, c Checker) error {
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return c.Ping(pingCtx)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithField("event", "health_write_error").WithError(err).Error("failed to encode health response")
	}
}
