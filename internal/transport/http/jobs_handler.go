package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "ipocli/internal/errors"
	"ipocli/internal/middleware"
	"ipocli/internal/operations"
)

const dateLayout = "2006-01-02"

// RunRequest is the body of POST /api/jobs/{job}/run. Every field is
// optional; an empty body runs the job incrementally.
type RunRequest struct {
	Start string `json:"start,omitempty" validate:"omitempty,isodate,excluded_with=Full"`
	End   string `json:"end,omitempty" validate:"omitempty,isodate"`
	Full  bool   `json:"full,omitempty"`
}

// options converts the request into run options. Dates are local calendar days.
func (req RunRequest) options() (operations.RunOptions, *apierrors.APIError) {
	var opts operations.RunOptions
	opts.Full = req.Full
	if req.Start != "" {
		t, _ := time.ParseInLocation(dateLayout, req.Start, time.Local)
		opts.Start = t
	}
	if req.End != "" {
		t, _ := time.ParseInLocation(dateLayout, req.End, time.Local)
		opts.End = t
	}
	if !opts.Start.IsZero() && !opts.End.IsZero() && !opts.Start.Before(opts.End) {
		return opts, apierrors.NewValidationErrors([]apierrors.ValidationError{{
			Field:   "end",
			Message: "end must be after start",
		}})
	}
	return opts, nil
}

// JobsHandler starts and cancels collection runs
type JobsHandler struct {
	runner    JobRunner
	validator *middleware.Validator
	logger    *slog.Logger
}

// NewJobsHandler creates a new jobs handler
func NewJobsHandler(runner JobRunner, validator *middleware.Validator, logger *slog.Logger) *JobsHandler {
	return &JobsHandler{
		runner:    runner,
		validator: validator,
		logger:    logger.With(slog.String("handler", "jobs")),
	}
}

// Routes returns the job routes
func (h *JobsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/{job}/run", h.Run)
	r.Post("/{job}/cancel", h.Cancel)
	return r
}

// List handles GET /api/jobs
func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.runner.Jobs())
}

// Run handles POST /api/jobs/{job}/run. The run continues in the background;
// its progress streams over the websocket and is visible under
// /api/operations/{id}.
func (h *JobsHandler) Run(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	job := chi.URLParam(r, "job")

	var req RunRequest
	if apiErr := h.validator.Decode(r, &req); apiErr != nil {
		apierrors.WriteError(w, apiErr)
		return
	}
	opts, apiErr := req.options()
	if apiErr != nil {
		apierrors.WriteError(w, apiErr)
		return
	}

	run, err := h.runner.Submit(job, opts)
	if err != nil {
		h.logger.WarnContext(ctx, "run rejected",
			slog.String("job", job),
			slog.String("error", err.Error()))
		apierrors.WriteError(w, apierrors.FromAppError(err))
		return
	}

	h.logger.InfoContext(ctx, "run submitted",
		slog.String("job", job),
		slog.String("operation_id", run.ID),
		slog.String("request_id", middleware.GetReqID(ctx)))

	w.Header().Set("Location", "/api/operations/"+run.ID)
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, run)
}

// Cancel handles POST /api/jobs/{job}/cancel
func (h *JobsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	job := chi.URLParam(r, "job")
	if err := h.runner.Cancel(job); err != nil {
		apierrors.WriteError(w, apierrors.FromAppError(err))
		return
	}
	h.logger.InfoContext(r.Context(), "run cancellation requested", slog.String("job", job))
	w.WriteHeader(http.StatusAccepted)
}
