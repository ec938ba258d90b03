package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "ipocli/internal/errors"
)

// RunsHandler exposes the persisted last successful run of each job
type RunsHandler struct {
	tracker RunTracker
	logger  *slog.Logger
}

// NewRunsHandler creates a new runs handler
func NewRunsHandler(tracker RunTracker, logger *slog.Logger) *RunsHandler {
	return &RunsHandler{
		tracker: tracker,
		logger:  logger.With(slog.String("handler", "runs")),
	}
}

// Routes returns the run-history routes
func (h *RunsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Delete("/", h.ResetAll)
	r.Delete("/{job}", h.Reset)
	return r
}

// List handles GET /api/runs
func (h *RunsHandler) List(w http.ResponseWriter, r *http.Request) {
	runs, err := h.tracker.All()
	if err != nil {
		apierrors.WriteError(w, apierrors.FromAppError(err))
		return
	}
	render.JSON(w, r, runs)
}

// Reset handles DELETE /api/runs/{job}
func (h *RunsHandler) Reset(w http.ResponseWriter, r *http.Request) {
	job := chi.URLParam(r, "job")
	if err := h.tracker.Reset(r.Context(), job); err != nil {
		apierrors.WriteError(w, apierrors.FromAppError(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResetAll handles DELETE /api/runs
func (h *RunsHandler) ResetAll(w http.ResponseWriter, r *http.Request) {
	if err := h.tracker.Reset(r.Context(), ""); err != nil {
		apierrors.WriteError(w, apierrors.FromAppError(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
