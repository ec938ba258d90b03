package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "ipocli/internal/errors"
	"ipocli/internal/operations"
)

// OperationResponse combines the live snapshot of an operation with the run
// record that started it. Either half may be absent.
type OperationResponse struct {
	Snapshot *operations.OperationSnapshot `json:"snapshot,omitempty"`
	Run      *operations.Run               `json:"run,omitempty"`
}

// OperationsHandler handles operation-related HTTP requests
type OperationsHandler struct {
	snapshots SnapshotStore
	runner    JobRunner
	logger    *slog.Logger
}

// NewOperationsHandler creates a new operations handler
func NewOperationsHandler(snapshots SnapshotStore, runner JobRunner, logger *slog.Logger) *OperationsHandler {
	return &OperationsHandler{
		snapshots: snapshots,
		runner:    runner,
		logger:    logger.With(slog.String("handler", "operations")),
	}
}

// Routes returns the operation routes
func (h *OperationsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	return r
}

// List handles GET /api/operations
func (h *OperationsHandler) List(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]interface{}{
		"operations": h.snapshots.GetAllSnapshots(),
		"runs":       h.runner.List(),
	})
}

// Get handles GET /api/operations/{id}
func (h *OperationsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var resp OperationResponse
	if snap, ok := h.snapshots.GetSnapshot(id); ok {
		resp.Snapshot = snap
	}
	if run, err := h.runner.Get(id); err == nil {
		resp.Run = run
	}
	if resp.Snapshot == nil && resp.Run == nil {
		_ = render.Render(w, r, &apierrors.ErrorResponse{Error: apierrors.NotFoundError("operation " + id)})
		return
	}
	render.JSON(w, r, resp)
}
