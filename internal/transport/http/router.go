package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"ipocli/internal/cache"
	"ipocli/internal/middleware"
	"ipocli/internal/websocket"
)

// RouterDeps holds everything the router serves
type RouterDeps struct {
	Version   string
	Runner    JobRunner
	Quota     QuotaCounter
	Cache     cache.Cache
	Tracker   RunTracker
	Snapshots SnapshotStore
	Hub       *websocket.Hub
	// Metrics serves the Prometheus scrape endpoint. Nil disables /metrics.
	Metrics http.Handler
	Tracing *middleware.Tracing
	CORS    middleware.CORSConfig
	// RateLimit is requests per second across the API. Zero disables limiting.
	RateLimit float64
	Logger    *slog.Logger
}

// NewRouter builds the control server's handler
func NewRouter(deps RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	if deps.Tracing != nil {
		r.Use(deps.Tracing.Handler)
	}
	r.Use(middleware.StructuredLogger(logger))
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(deps.CORS))

	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}

	if deps.Hub != nil {
		r.Get("/ws", func(w http.ResponseWriter, req *http.Request) {
			websocket.ServeWS(deps.Hub, w, req, logger)
		})
	}

	var clients func() int
	if deps.Hub != nil {
		clients = deps.Hub.ClientCount
	}
	validator := middleware.NewValidator()

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Use(middleware.ContentTypeValidator("application/json"))
		if deps.RateLimit > 0 {
			r.Use(middleware.NewRateLimiter(deps.RateLimit, int(deps.RateLimit)+1, logger).Handler)
		}

		r.Get("/health", NewHealthHandler(deps.Version, deps.Runner, clients, logger).HealthCheck)
		r.Mount("/jobs", NewJobsHandler(deps.Runner, validator, logger).Routes())
		r.Mount("/operations", NewOperationsHandler(deps.Snapshots, deps.Runner, logger).Routes())
		r.Mount("/runs", NewRunsHandler(deps.Tracker, logger).Routes())
		r.Mount("/quota", NewQuotaHandler(deps.Quota, logger).Routes())
		r.Mount("/cache", NewCacheHandler(deps.Cache, logger).Routes())
	})

	return r
}
