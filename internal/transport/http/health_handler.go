package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"
)

// HealthResponse is the body of GET /api/health
type HealthResponse struct {
	Status        string   `json:"status"`
	Version       string   `json:"version"`
	Uptime        string   `json:"uptime"`
	Jobs          []string `json:"jobs"`
	StreamClients int      `json:"stream_clients"`
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	version string
	started time.Time
	runner  JobRunner
	clients func() int
	logger  *slog.Logger
}

// NewHealthHandler creates a new health handler. clients may be nil.
func NewHealthHandler(version string, runner JobRunner, clients func() int, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		version: version,
		started: time.Now(),
		runner:  runner,
		clients: clients,
		logger:  logger.With(slog.String("handler", "health")),
	}
}

// HealthCheck handles GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "ok",
		Version: h.version,
		Uptime:  time.Since(h.started).Round(time.Second).String(),
		Jobs:    h.runner.Jobs(),
	}
	if h.clients != nil {
		resp.StreamClients = h.clients()
	}
	render.JSON(w, r, resp)
}
