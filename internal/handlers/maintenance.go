package handlers

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/climate-atlas/boundary-api/internal/platform/httpx"
	"github.com/climate-atlas/boundary-api/internal/services"
)

// MaintenanceKeyHeader carries the shared key for the internal route group.
const MaintenanceKeyHeader = "X-Maintenance-Key"

// MaintenanceHandlers exposes operational endpoints mounted under /internal:
// cache invalidation and expired-session sweeps triggered on demand rather
// than by the background schedules.
type MaintenanceHandlers struct {
	boundaries services.BoundaryService
	sessions   services.SessionService
}

// NewMaintenanceHandlers constructs the internal maintenance handler set.
func NewMaintenanceHandlers(boundaries services.BoundaryService, sessions services.SessionService) *MaintenanceHandlers {
	return &MaintenanceHandlers{boundaries: boundaries, sessions: sessions}
}

// Routes registers the maintenance endpoints beneath /internal.
func (h *MaintenanceHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}

	r.Post("/boundaries/{country}:invalidate", h.invalidate)
	r.Post("/sessions:sweep", h.sweepSessions)
}

func (h *MaintenanceHandlers) invalidate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.boundaries == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "boundary service not available", http.StatusServiceUnavailable))
		return
	}

	country := strings.TrimSpace(chi.URLParam(r, "country"))
	if country == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "country is required", http.StatusBadRequest))
		return
	}

	h.boundaries.Invalidate(ctx, country)
	writeJSONResponse(w, http.StatusAccepted, map[string]any{"country": strings.ToLower(country)})
}

func (h *MaintenanceHandlers) sweepSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sessions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "session service not available", http.StatusServiceUnavailable))
		return
	}

	removed := h.sessions.SweepExpired()
	writeJSONResponse(w, http.StatusOK, map[string]any{"removed": removed})
}

// MaintenanceKeyMiddleware rejects requests whose maintenance header does not
// match the configured key. The comparison is constant time.
func MaintenanceKeyMiddleware(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := r.Header.Get(MaintenanceKeyHeader)
			if key == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(key)) != 1 {
				httpx.WriteError(r.Context(), w, httpx.NewError("unauthorized", "missing or invalid maintenance key", http.StatusUnauthorized))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
