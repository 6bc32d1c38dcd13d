package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/climate-atlas/boundary-api/internal/domain"
	"github.com/climate-atlas/boundary-api/internal/platform/httpx"
	"github.com/climate-atlas/boundary-api/internal/services"
)

const maxSessionRequestBody = 16 * 1024

// SessionHandlers exposes endpoints for interactive map sessions.
type SessionHandlers struct {
	sessions services.SessionService
	creates  rateLimiter
}

// NewSessionHandlers constructs a session handler set. The rate limiter guards
// session creation; pass zero values to disable it.
func NewSessionHandlers(svc services.SessionService, createLimit int, createWindow time.Duration) *SessionHandlers {
	return &SessionHandlers{
		sessions: svc,
		creates:  newSimpleRateLimiter(createLimit, createWindow, nil),
	}
}

// Routes registers the session endpoints beneath /sessions.
func (h *SessionHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}

	r.Post("/", h.create)
	r.Get("/{sessionId}", h.get)
	r.Delete("/{sessionId}", h.delete)
	r.Post("/{sessionId}/view", h.setView)
	r.Post("/{sessionId}/country", h.switchCountry)
	r.Post("/{sessionId}/layout", h.switchLayout)
	r.Post("/{sessionId}/viewports/{viewportId}:drill", h.drill)
	r.Post("/{sessionId}/viewports/{viewportId}:back", h.drillBack)
}

func (h *SessionHandlers) create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sessions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "session service not available", http.StatusServiceUnavailable))
		return
	}
	if h.creates != nil && !h.creates.Allow(r.RemoteAddr) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many sessions created", http.StatusTooManyRequests))
		return
	}

	body, err := readLimitedBody(r, maxSessionRequestBody)
	if err != nil && !errors.Is(err, errEmptyBody) {
		writeBodyError(ctx, w, err)
		return
	}

	var req createSessionRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
			return
		}
	}

	cmd := services.CreateSessionCommand{
		Country: req.Country,
		Layout:  domain.Layout(req.Layout),
	}
	if req.View != nil {
		view := req.View.toViewState()
		cmd.View = &view
	}

	session, err := h.sessions.CreateSession(ctx, cmd)
	if err != nil {
		writeSessionError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildSessionPayload(session.Snapshot()))
}

func (h *SessionHandlers) get(w http.ResponseWriter, r *http.Request) {
	session, ok := h.resolve(w, r)
	if !ok {
		return
	}
	writeJSONResponse(w, http.StatusOK, buildSessionPayload(session.Snapshot()))
}

func (h *SessionHandlers) delete(w http.ResponseWriter, r *http.Request) {
	session, ok := h.resolve(w, r)
	if !ok {
		return
	}
	h.sessions.DeleteSession(session.ID())
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandlers) setView(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, ok := h.resolve(w, r)
	if !ok {
		return
	}

	var req setViewRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.View == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "view is required", http.StatusBadRequest))
		return
	}

	viewportID := strings.TrimSpace(req.ViewportID)
	if viewportID == "" {
		viewportID = session.Coordinator().ActiveViewportID()
	}

	if err := session.SetView(viewportID, req.View.toViewState()); err != nil {
		writeSessionError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildSessionPayload(session.Snapshot()))
}

func (h *SessionHandlers) switchCountry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, ok := h.resolve(w, r)
	if !ok {
		return
	}

	var req switchCountryRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := session.SwitchCountry(ctx, req.Country); err != nil {
		writeSessionError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildSessionPayload(session.Snapshot()))
}

func (h *SessionHandlers) switchLayout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, ok := h.resolve(w, r)
	if !ok {
		return
	}

	var req switchLayoutRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := session.SwitchLayout(ctx, domain.Layout(req.Layout)); err != nil {
		writeSessionError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildSessionPayload(session.Snapshot()))
}

func (h *SessionHandlers) drill(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, ok := h.resolve(w, r)
	if !ok {
		return
	}

	var req drillRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Province) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "province is required", http.StatusBadRequest))
		return
	}

	viewportID := strings.TrimSpace(chi.URLParam(r, "viewportId"))
	state, err := session.DrillInto(ctx, viewportID, req.Province)
	if err != nil {
		writeSessionError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, drillResponse{
		Province:  state.Province,
		PriorView: buildViewPayload(state.PriorView),
		Session:   buildSessionPayload(session.Snapshot()),
	})
}

func (h *SessionHandlers) drillBack(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, ok := h.resolve(w, r)
	if !ok {
		return
	}

	viewportID := strings.TrimSpace(chi.URLParam(r, "viewportId"))
	restored, err := session.DrillBack(ctx, viewportID)
	if err != nil {
		writeSessionError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, drillBackResponse{
		View:    buildViewPayload(restored),
		Session: buildSessionPayload(session.Snapshot()),
	})
}

func (h *SessionHandlers) resolve(w http.ResponseWriter, r *http.Request) (*services.MapSession, bool) {
	ctx := r.Context()
	if h.sessions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "session service not available", http.StatusServiceUnavailable))
		return nil, false
	}
	id := strings.TrimSpace(chi.URLParam(r, "sessionId"))
	session, ok := h.sessions.GetSession(id)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("not_found", "session not found", http.StatusNotFound))
		return nil, false
	}
	return session, true
}

func (h *SessionHandlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	ctx := r.Context()
	body, err := readLimitedBody(r, maxSessionRequestBody)
	if err != nil {
		writeBodyError(ctx, w, err)
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return false
	}
	return true
}

type viewPayload struct {
	Center []float64 `json:"center"`
	Zoom   float64   `json:"zoom"`
}

func (p *viewPayload) toViewState() domain.ViewState {
	view := domain.ViewState{Zoom: p.Zoom}
	if len(p.Center) == 2 {
		view.Center = domain.LonLat{p.Center[0], p.Center[1]}
	}
	return view
}

func buildViewPayload(view domain.ViewState) viewPayload {
	return viewPayload{
		Center: []float64{view.Center.Lon(), view.Center.Lat()},
		Zoom:   view.Zoom,
	}
}

type createSessionRequest struct {
	Country string       `json:"country"`
	Layout  int          `json:"layout"`
	View    *viewPayload `json:"view"`
}

type setViewRequest struct {
	ViewportID string       `json:"viewport_id"`
	View       *viewPayload `json:"view"`
}

type switchCountryRequest struct {
	Country string `json:"country"`
}

type switchLayoutRequest struct {
	Layout int `json:"layout"`
}

type drillRequest struct {
	Province string `json:"province"`
}

type drillResponse struct {
	Province  string         `json:"province"`
	PriorView viewPayload    `json:"prior_view"`
	Session   sessionPayload `json:"session"`
}

type drillBackResponse struct {
	View    viewPayload    `json:"view"`
	Session sessionPayload `json:"session"`
}

type sessionPayload struct {
	ID             string            `json:"id"`
	Country        string            `json:"country,omitempty"`
	Layout         int               `json:"layout"`
	View           viewPayload       `json:"view"`
	ActiveViewport string            `json:"active_viewport,omitempty"`
	CreatedAt      string            `json:"created_at"`
	Viewports      []viewportPayload `json:"viewports"`
}

type viewportPayload struct {
	ID        string        `json:"id"`
	View      viewPayload   `json:"view"`
	HasLayers bool          `json:"has_layers"`
	Drill     *drillPayload `json:"drill,omitempty"`
}

type drillPayload struct {
	Province  string      `json:"province"`
	PriorView viewPayload `json:"prior_view"`
	StartedAt string      `json:"started_at,omitempty"`
}

func buildSessionPayload(snapshot services.SessionSnapshot) sessionPayload {
	payload := sessionPayload{
		ID:             snapshot.ID,
		Country:        snapshot.Country,
		Layout:         snapshot.Layout,
		View:           buildViewPayload(snapshot.View),
		ActiveViewport: snapshot.ActiveViewport,
		CreatedAt:      formatTime(snapshot.CreatedAt),
	}
	viewports := make([]viewportPayload, 0, len(snapshot.Viewports))
	for _, vp := range snapshot.Viewports {
		item := viewportPayload{
			ID:        vp.ID,
			View:      buildViewPayload(vp.View),
			HasLayers: vp.HasLayers,
		}
		if vp.Drill != nil {
			item.Drill = &drillPayload{
				Province:  vp.Drill.Province,
				PriorView: buildViewPayload(vp.Drill.PriorView),
				StartedAt: formatTime(vp.Drill.StartedAt),
			}
		}
		viewports = append(viewports, item)
	}
	payload.Viewports = viewports
	return payload
}

func writeSessionError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, domain.ErrInvalidView), errors.Is(err, domain.ErrInvalidLayout):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrBoundaryInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrViewportUnknown):
		httpx.WriteError(ctx, w, httpx.NewError("viewport_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrProvinceNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("province_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrBoundaryNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrViewRejected):
		httpx.WriteError(ctx, w, httpx.NewError("view_rejected", "view change rejected while animating a broadcast", http.StatusConflict))
	case errors.Is(err, services.ErrDrillNotActive):
		httpx.WriteError(ctx, w, httpx.NewError("drill_not_active", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrSessionSuperseded):
		httpx.WriteError(ctx, w, httpx.NewError("superseded", "a newer country switch is in progress", http.StatusConflict))
	case errors.Is(err, services.ErrDrillFeatureRequired):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrBoundaryDataNotFound), errors.Is(err, services.ErrMissingChunk):
		httpx.WriteError(ctx, w, httpx.NewError("payload_incomplete", "boundary payload is missing from storage", http.StatusBadGateway))
	case errors.Is(err, services.ErrChunkPayload), errors.Is(err, services.ErrBoundaryPayload):
		httpx.WriteError(ctx, w, httpx.NewError("payload_invalid", "boundary payload is malformed", http.StatusBadGateway))
	case errors.Is(err, services.ErrBoundaryUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "boundary service temporarily unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("session_error", "failed to process session request", http.StatusInternalServerError))
	}
}
