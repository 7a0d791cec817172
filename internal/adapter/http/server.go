package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/loss-signal-fusion/internal/domain"
	"github.com/couchcryptid/loss-signal-fusion/internal/fusion"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PassRunner triggers a fusion pass.
type PassRunner interface {
	RunPass(ctx context.Context) (fusion.Result, error)
}

// ClusterReader serves the downstream cluster queries.
type ClusterReader interface {
	ListClusters(ctx context.Context, f domain.ClusterFilter) ([]domain.Cluster, error)
	GetCluster(ctx context.Context, id string) (domain.ClusterDetail, error)
}

// Deps are the collaborators behind the HTTP routes.
type Deps struct {
	Runner   PassRunner
	Clusters ClusterReader
	Ready    sharedobs.ReadinessChecker
	Secret   string
	// RunTimeout bounds a manually triggered pass; zero means no bound.
	RunTimeout time.Duration
}

// Server exposes the fusion API plus health, readiness, and metrics endpoints.
type Server struct {
	httpServer *http.Server
	deps       Deps
	logger     *slog.Logger
}

// NewServer creates an HTTP server. Every route under /api requires the
// bearer secret; /healthz, /readyz and /metrics are open.
func NewServer(addr string, deps Deps, logger *slog.Logger) *Server {
	r := chi.NewRouter()

	s := &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			IdleTimeout:       60 * time.Second,
			// No WriteTimeout: a manual fusion run can outlive any fixed
			// write deadline. RunTimeout bounds it instead.
		},
		deps:   deps,
		logger: logger,
	}

	r.Get("/healthz", sharedobs.LivenessHandler())
	r.Get("/readyz", sharedobs.ReadinessHandler(deps.Ready))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(requireBearer(deps.Secret, logger))
		r.Post("/fusion/run", s.handleRun)
		r.Get("/clusters", s.handleListClusters)
		r.Get("/clusters/{id}", s.handleGetCluster)
	})

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}
