package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ignite/adinsights/internal/metrics"
)

var defaultOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// RouteDeps are the optional pieces SetupRoutes mounts.
type RouteDeps struct {
	Health         *HealthChecker
	Metrics        *metrics.Recorder
	Gatherer       prometheus.Gatherer
	AllowedOrigins []string
}

// SetupRoutes configures all API routes.
func SetupRoutes(h *Handlers, deps RouteDeps) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware)
	}

	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = defaultOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	// Health and metrics
	if deps.Health != nil {
		r.Get("/health", deps.Health.HandleHealth)
		r.Get("/health/live", deps.Health.HandleLiveness)
		r.Get("/health/ready", deps.Health.HandleReadiness)
	}
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/datasets", h.ListDatasets)
		r.Get("/fetch-log", h.GetFetchLog)
		r.Get("/facebook/accounts", h.GetAccounts)

		r.Route("/{platform}/{dataset}", func(r chi.Router) {
			r.Get("/", h.GetDataset)
			r.Post("/snapshot", h.CreateSnapshot)
			r.Get("/snapshot", h.GetSnapshot)
			r.Get("/snapshots", h.ListSnapshots)
			r.Delete("/cache", h.InvalidateCache)
		})
	})

	return r
}
