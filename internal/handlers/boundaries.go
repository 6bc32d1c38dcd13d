package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/paulmach/orb/geojson"

	"github.com/climate-atlas/boundary-api/internal/platform/httpx"
	"github.com/climate-atlas/boundary-api/internal/services"
)

const maxBoundaryRequestBody = 32 * 1024 * 1024

// BoundaryHandlers exposes endpoints for boundary dataset access and administration.
type BoundaryHandlers struct {
	boundaries services.BoundaryService
}

// NewBoundaryHandlers constructs a boundary handler set.
func NewBoundaryHandlers(svc services.BoundaryService) *BoundaryHandlers {
	return &BoundaryHandlers{boundaries: svc}
}

// Routes registers the boundary endpoints beneath /boundaries.
func (h *BoundaryHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}

	r.Get("/", h.list)
	r.Get("/{country}", h.get)
	r.Get("/{country}/layers", h.layers)
	r.Put("/{country}", h.upsert)
	r.Post("/{country}:invalidate", h.invalidate)
}

func (h *BoundaryHandlers) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.boundaries == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "boundary service not available", http.StatusServiceUnavailable))
		return
	}

	metas, err := h.boundaries.ListBoundaries(ctx)
	if err != nil {
		writeBoundaryError(ctx, w, err)
		return
	}

	items := make([]boundaryMetaPayload, 0, len(metas))
	for _, meta := range metas {
		items = append(items, boundaryMetaPayload{
			Country:        meta.Country,
			HoverAttribute: meta.HoverAttribute,
			DataKey:        meta.DataKey,
			Inline:         len(meta.GeoJSON) > 0,
			FeatureCount:   meta.FeatureCount,
			Bounds:         meta.Bounds,
			Revision:       meta.Revision,
			CreatedAt:      formatTime(meta.CreatedAt),
			UpdatedAt:      formatTime(meta.UpdatedAt),
		})
	}
	writeJSONResponse(w, http.StatusOK, boundaryListResponse{Boundaries: items})
}

func (h *BoundaryHandlers) get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.boundaries == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "boundary service not available", http.StatusServiceUnavailable))
		return
	}

	country := strings.TrimSpace(chi.URLParam(r, "country"))
	record, err := h.boundaries.GetBoundary(ctx, country)
	if err != nil {
		writeBoundaryError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, boundaryResponse{
		Country:        record.Country,
		HoverAttribute: record.HoverAttribute,
		FeatureCount:   record.FeatureCount(),
		Features:       record.Features,
	})
}

func (h *BoundaryHandlers) layers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.boundaries == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "boundary service not available", http.StatusServiceUnavailable))
		return
	}

	country := strings.TrimSpace(chi.URLParam(r, "country"))
	layers, err := h.boundaries.GetLayers(ctx, country)
	if err != nil {
		writeBoundaryError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, boundaryLayersResponse{
		Country:  strings.ToLower(country),
		Mask:     layers.Mask,
		Boundary: layers.Boundary,
	})
}

func (h *BoundaryHandlers) upsert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.boundaries == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "boundary service not available", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxBoundaryRequestBody)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req upsertBoundaryRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	cmd := services.UpsertBoundaryCommand{
		Country:        chi.URLParam(r, "country"),
		HoverAttribute: req.HoverAttribute,
		DataKey:        req.DataKey,
		GeoJSON:        []byte(req.GeoJSON),
		FeatureCount:   req.FeatureCount,
		Bounds:         req.Bounds,
	}
	if err := h.boundaries.UpsertBoundary(ctx, cmd); err != nil {
		writeBoundaryError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *BoundaryHandlers) invalidate(w http.ResponseWriter, r *http.Request) {
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

type boundaryListResponse struct {
	Boundaries []boundaryMetaPayload `json:"boundaries"`
}

type boundaryMetaPayload struct {
	Country        string    `json:"country"`
	HoverAttribute string    `json:"hover_attribute,omitempty"`
	DataKey        string    `json:"data_key,omitempty"`
	Inline         bool      `json:"inline"`
	FeatureCount   int       `json:"feature_count"`
	Bounds         []float64 `json:"bounds,omitempty"`
	Revision       int64     `json:"revision"`
	CreatedAt      string    `json:"created_at,omitempty"`
	UpdatedAt      string    `json:"updated_at,omitempty"`
}

type boundaryResponse struct {
	Country        string                     `json:"country"`
	HoverAttribute string                     `json:"hover_attribute,omitempty"`
	FeatureCount   int                        `json:"feature_count"`
	Features       *geojson.FeatureCollection `json:"features"`
}

type boundaryLayersResponse struct {
	Country  string             `json:"country"`
	Mask     *geojson.Feature   `json:"mask"`
	Boundary []*geojson.Feature `json:"boundary"`
}

type upsertBoundaryRequest struct {
	HoverAttribute string          `json:"hover_attribute"`
	DataKey        string          `json:"data_key"`
	GeoJSON        json.RawMessage `json:"geojson"`
	FeatureCount   int             `json:"feature_count"`
	Bounds         []float64       `json:"bounds"`
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	case errors.Is(err, errEmptyBody):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

func writeBoundaryError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrBoundaryInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrBoundaryNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrBoundaryDataNotFound), errors.Is(err, services.ErrMissingChunk):
		httpx.WriteError(ctx, w, httpx.NewError("payload_incomplete", "boundary payload is missing from storage", http.StatusBadGateway))
	case errors.Is(err, services.ErrChunkPayload), errors.Is(err, services.ErrBoundaryPayload):
		httpx.WriteError(ctx, w, httpx.NewError("payload_invalid", "boundary payload is malformed", http.StatusBadGateway))
	case errors.Is(err, services.ErrBoundaryUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "boundary service temporarily unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("boundary_error", "failed to process boundary request", http.StatusInternalServerError))
	}
}
