// Package httpapi exposes the gateway's HTTP-agnostic operation API over
// chi (spec §6 "the core exposes an HTTP-agnostic operation API consumed
// by the surface"). Full SCIM request/response marshaling for
// /scim/v2/{Users,Groups} is an external collaborator's concern; this
// package carries health/ready/metrics endpoints and the middleware chain
// plus the error envelope every handler built on top of it shares.
// Grounded on vendor/github.com/wisbric/core/pkg/httpserver.Server.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServerConfig holds the parameters NewServer needs.
type ServerConfig struct {
	CORSAllowedOrigins []string
}

// HealthChecker reports readiness, e.g. by pinging the database/redis/the
// adapter registry.
type HealthChecker interface {
	CheckReady(ctx context.Context) error
}

// Server wires the router, middleware chain, and health/metrics endpoints.
// Domain handlers mount onto APIRouter.
type Server struct {
	Router    *chi.Mux
	APIRouter chi.Router
	logger    *slog.Logger
	checker   HealthChecker
	startedAt time.Time
}

// NewServer creates a Server with the standard middleware chain
// (RequestID, Logger, Metrics, Recoverer, CORS) and health endpoints
// mounted, mirroring the teacher's httpserver.NewServer ordering.
func NewServer(cfg ServerConfig, logger *slog.Logger, metricsReg *prometheus.Registry, checker HealthChecker) *Server {
	s := &Server{
		Router:    chi.NewRouter(),
		logger:    logger,
		checker:   checker,
		startedAt: time.Now(),
	}

	s.Router.Use(RequestID)
	s.Router.Use(Logger(logger))
	s.Router.Use(Metrics)
	s.Router.Use(middleware.Recoverer)
	s.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Tenant-Id", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.Router.Get("/healthz", s.handleHealthz)
	s.Router.Get("/readyz", s.handleReadyz)
	s.Router.Handle("/metrics", promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))

	s.APIRouter = chi.NewRouter()
	s.Router.Mount("/scim/v2", s.APIRouter)

	return s
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	Respond(w, http.StatusOK, map[string]any{"status": "ok", "uptimeSeconds": int(time.Since(s.startedAt).Seconds())})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.checker == nil {
		Respond(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	if err := s.checker.CheckReady(r.Context()); err != nil {
		Respond(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "reason": err.Error()})
		return
	}
	Respond(w, http.StatusOK, map[string]string{"status": "ready"})
}
