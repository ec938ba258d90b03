package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"ipocli/internal/cache"
	apierrors "ipocli/internal/errors"
)

// CacheHandler inspects and clears the response cache
type CacheHandler struct {
	cache  cache.Cache
	logger *slog.Logger
}

// NewCacheHandler creates a new cache handler
func NewCacheHandler(c cache.Cache, logger *slog.Logger) *CacheHandler {
	return &CacheHandler{
		cache:  c,
		logger: logger.With(slog.String("handler", "cache")),
	}
}

// Routes returns the cache routes
func (h *CacheHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/stats", h.Stats)
	r.Delete("/", h.Clear)
	return r
}

// Stats handles GET /api/cache/stats
func (h *CacheHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.cache.Stats(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "cache stats failed", slog.String("error", err.Error()))
		apierrors.WriteError(w, apierrors.FromAppError(err))
		return
	}
	render.JSON(w, r, stats)
}

// Clear handles DELETE /api/cache
func (h *CacheHandler) Clear(w http.ResponseWriter, r *http.Request) {
	removed, err := h.cache.ClearAll(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "cache clear failed", slog.String("error", err.Error()))
		apierrors.WriteError(w, apierrors.FromAppError(err))
		return
	}
	h.logger.InfoContext(r.Context(), "cache cleared", slog.Int("removed", removed))
	render.JSON(w, r, map[string]int{"removed": removed})
}
