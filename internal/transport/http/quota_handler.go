package http

import (
	"log/slog"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// EndpointQuota is the usage of one upstream endpoint
type EndpointQuota struct {
	Endpoint  string  `json:"endpoint"`
	Count     int     `json:"count"`
	Quota     int     `json:"quota"`
	Remaining int     `json:"remaining"`
	Used      float64 `json:"used_ratio"`
}

// QuotaHandler reports upstream request quota usage
type QuotaHandler struct {
	counter QuotaCounter
	logger  *slog.Logger
}

// NewQuotaHandler creates a new quota handler
func NewQuotaHandler(counter QuotaCounter, logger *slog.Logger) *QuotaHandler {
	return &QuotaHandler{
		counter: counter,
		logger:  logger.With(slog.String("handler", "quota")),
	}
}

// Routes returns the quota routes
func (h *QuotaHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.Usage)
	r.Post("/reset", h.Reset)
	return r
}

// Usage handles GET /api/quota
func (h *QuotaHandler) Usage(w http.ResponseWriter, r *http.Request) {
	stats := h.counter.Stats()
	out := make([]EndpointQuota, 0, len(stats))
	for endpoint, s := range stats {
		q := EndpointQuota{
			Endpoint:  endpoint,
			Count:     s.Count,
			Quota:     s.Quota,
			Remaining: s.Remaining,
		}
		if s.Quota > 0 {
			q.Used = float64(s.Count) / float64(s.Quota)
		}
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	render.JSON(w, r, out)
}

// Reset handles POST /api/quota/reset
func (h *QuotaHandler) Reset(w http.ResponseWriter, r *http.Request) {
	h.counter.ResetCounters()
	h.logger.InfoContext(r.Context(), "quota counters reset")
	w.WriteHeader(http.StatusNoContent)
}
