package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	domain "github.com/climate-atlas/boundary-api/internal/domain"
	"github.com/climate-atlas/boundary-api/internal/geo"
)

var (
	// ErrSessionNotFound indicates the session id is unknown or expired.
	ErrSessionNotFound = errors.New("session: not found")
	// ErrSessionSuperseded indicates a country switch was abandoned because a
	// newer switch started while its boundary data was loading.
	ErrSessionSuperseded = errors.New("session: switch superseded")
	// ErrProvinceNotFound indicates no boundary feature matches the requested province.
	ErrProvinceNotFound = errors.New("session: province not found")

	errSessionBoundariesRequired = errors.New("session: boundary service is required")
	errSessionDrillRequired      = errors.New("session: drill controller is required")
)

const (
	sessionIDPrefix  = "sess_"
	viewportIDFormat = "vp_%d"
)

// MapSession is the application shell for one interactive map: it owns the
// coordinator, the 1/2/4 viewports, the active country, and a generation
// counter that guards against stale layer attachment when country switches
// overlap each other or a layout rebuild.
type MapSession struct {
	mu sync.Mutex

	id             string
	country        string
	hoverAttribute string
	layout         domain.Layout
	coordinator    *ViewCoordinator
	generation     uint64

	features []*geojson.Feature

	createdAt  time.Time
	lastAccess time.Time

	svc *sessionService
}

// ID returns the session identifier.
func (s *MapSession) ID() string { return s.id }

// Country returns the active country code.
func (s *MapSession) Country() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.country
}

// Layout returns the current viewport layout.
func (s *MapSession) Layout() domain.Layout {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.layout
}

// Coordinator returns the session's view coordinator.
func (s *MapSession) Coordinator() *ViewCoordinator { return s.coordinator }

// SetView applies a viewport-originated view change and broadcasts it to the
// session's sibling viewports.
func (s *MapSession) SetView(viewportID string, view domain.ViewState) error {
	if err := view.Validate(s.svc.minZoom, s.svc.maxZoom); err != nil {
		return err
	}
	return s.coordinator.SetView(viewportID, view)
}

// SwitchCountry loads the new country's boundary layers, attaches clones to
// every viewport, resets the shared view to the country extent, and clears any
// drill state. A switch that was overtaken by a newer one while loading
// attaches nothing and reports ErrSessionSuperseded.
func (s *MapSession) SwitchCountry(ctx context.Context, country string) error {
	country = domain.NormalizeCountry(country)
	if country == "" {
		return ErrBoundaryInvalidInput
	}

	s.mu.Lock()
	s.generation++
	generation := s.generation
	s.mu.Unlock()

	// Drill state never survives a context change.
	for _, vp := range s.coordinator.Viewports() {
		vp.ClearDrill()
	}

	record, err := s.svc.boundaries.GetBoundary(ctx, country)
	if err != nil {
		return err
	}

	viewports := s.coordinator.Viewports()
	layers := make([]domain.BoundaryLayers, len(viewports))
	for i := range viewports {
		clone, err := s.svc.boundaries.GetLayers(ctx, country)
		if err != nil {
			return err
		}
		layers[i] = clone
	}

	fit := s.svc.fitCountry(record.Features)

	// Commit and attach under one critical section: a switch that lost the
	// race must not attach its layers after the winner has already reset
	// the session.
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != generation {
		return ErrSessionSuperseded
	}
	s.country = country
	s.hoverAttribute = record.HoverAttribute
	if record.Features != nil {
		s.features = record.Features.Features
	} else {
		s.features = nil
	}
	for i, vp := range viewports {
		vp.AttachLayers(layers[i])
	}
	s.coordinator.ResetView(fit)
	return nil
}

// SwitchLayout rebuilds the session's viewports for the new pane count,
// reattaches cloned layers, and clears drill state. The shared view carries
// over. A failed layer load leaves the current layout and viewports untouched.
func (s *MapSession) SwitchLayout(ctx context.Context, layout domain.Layout) error {
	if _, err := domain.ParseLayout(int(layout)); err != nil {
		return err
	}

	s.mu.Lock()
	country := s.country
	s.mu.Unlock()

	var layers []domain.BoundaryLayers
	if country != "" {
		layers = make([]domain.BoundaryLayers, 0, int(layout))
		for i := 0; i < int(layout); i++ {
			clone, err := s.svc.boundaries.GetLayers(ctx, country)
			if err != nil {
				return err
			}
			layers = append(layers, clone)
		}
	}

	shared := s.coordinator.SharedView()

	// Bumping the generation invalidates any country switch still loading
	// against the old pane set.
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.layout = layout
	s.coordinator.DetachAll()
	for i := 0; i < int(layout); i++ {
		vp := NewViewport(fmt.Sprintf(viewportIDFormat, i+1), shared, s.svc.schedule, s.svc.animationDur)
		if layers != nil {
			vp.AttachLayers(layers[i])
		}
		s.coordinator.Attach(vp)
	}
	s.coordinator.ResetView(shared)
	return nil
}

// DrillInto drills the given viewport into the province whose hover-attribute
// value matches the requested name.
func (s *MapSession) DrillInto(ctx context.Context, viewportID, province string) (*domain.DrillState, error) {
	vp, ok := s.coordinator.Viewport(viewportID)
	if !ok {
		return nil, ErrViewportUnknown
	}
	feature, err := s.findProvince(province)
	if err != nil {
		return nil, err
	}
	return s.svc.drill.DrillInto(ctx, vp, feature, province)
}

// DrillBack restores the viewport's pre-drill view.
func (s *MapSession) DrillBack(ctx context.Context, viewportID string) (domain.ViewState, error) {
	vp, ok := s.coordinator.Viewport(viewportID)
	if !ok {
		return domain.ViewState{}, ErrViewportUnknown
	}
	return s.svc.drill.Back(ctx, vp)
}

func (s *MapSession) findProvince(province string) (*geojson.Feature, error) {
	needle := strings.ToLower(strings.TrimSpace(province))
	if needle == "" {
		return nil, ErrProvinceNotFound
	}

	s.mu.Lock()
	attribute := s.hoverAttribute
	features := s.features
	s.mu.Unlock()

	if attribute == "" {
		return nil, ErrProvinceNotFound
	}
	for _, feature := range features {
		if feature == nil {
			continue
		}
		value, ok := feature.Properties[attribute]
		if !ok {
			continue
		}
		name, ok := value.(string)
		if !ok {
			continue
		}
		if strings.ToLower(strings.TrimSpace(name)) == needle {
			return feature, nil
		}
	}
	return nil, ErrProvinceNotFound
}

// Snapshot captures the session state for API responses.
func (s *MapSession) Snapshot() SessionSnapshot {
	s.mu.Lock()
	country := s.country
	layout := s.layout
	createdAt := s.createdAt
	s.mu.Unlock()

	snapshot := SessionSnapshot{
		ID:             s.id,
		Country:        country,
		Layout:         int(layout),
		View:           s.coordinator.SharedView(),
		ActiveViewport: s.coordinator.ActiveViewportID(),
		CreatedAt:      createdAt,
	}
	for _, vp := range s.coordinator.Viewports() {
		vpSnap := ViewportSnapshot{
			ID:        vp.ID(),
			View:      vp.View(),
			HasLayers: vp.Layers().Mask != nil || len(vp.Layers().Boundary) > 0,
		}
		if drill := vp.Drill(); drill != nil {
			vpSnap.Drill = &DrillSnapshot{
				Province:  drill.Province,
				PriorView: drill.PriorView,
				StartedAt: drill.StartedAt,
			}
		}
		snapshot.Viewports = append(snapshot.Viewports, vpSnap)
	}
	return snapshot
}

// SessionSnapshot captures session state for presentation.
type SessionSnapshot struct {
	ID             string
	Country        string
	Layout         int
	View           domain.ViewState
	ActiveViewport string
	CreatedAt      time.Time
	Viewports      []ViewportSnapshot
}

// ViewportSnapshot captures one viewport's state for presentation.
type ViewportSnapshot struct {
	ID        string
	View      domain.ViewState
	HasLayers bool
	Drill     *DrillSnapshot
}

// DrillSnapshot captures an active province drill-down for presentation.
type DrillSnapshot struct {
	Province  string
	PriorView domain.ViewState
	StartedAt time.Time
}

// SessionServiceDeps wires dependencies for the session service.
type SessionServiceDeps struct {
	Boundaries        BoundaryService
	Drill             *DrillController
	Schedule          AnimationScheduler
	AnimationDuration time.Duration
	MinZoom           float64
	MaxZoom           float64
	FitPadding        float64
	TTL               time.Duration
	Clock             func() time.Time
	IDGenerator       func() string
	Logger            func(context.Context, string, map[string]any)
}

type sessionService struct {
	boundaries   BoundaryService
	drill        *DrillController
	schedule     AnimationScheduler
	animationDur time.Duration
	minZoom      float64
	maxZoom      float64
	fitPadding   float64
	ttl          time.Duration
	now          func() time.Time
	newID        func() string
	logger       func(context.Context, string, map[string]any)

	mu       sync.Mutex
	sessions map[string]*MapSession
}

var _ SessionService = (*sessionService)(nil)

// NewSessionService constructs a SessionService with the provided dependencies.
func NewSessionService(deps SessionServiceDeps) (SessionService, error) {
	if deps.Boundaries == nil {
		return nil, errSessionBoundariesRequired
	}
	if deps.Drill == nil {
		return nil, errSessionDrillRequired
	}

	schedule := deps.Schedule
	if schedule == nil {
		schedule = TimerAnimationScheduler
	}
	animationDur := deps.AnimationDuration
	if animationDur <= 0 {
		animationDur = 200 * time.Millisecond
	}
	minZoom := deps.MinZoom
	maxZoom := deps.MaxZoom
	if maxZoom <= minZoom {
		minZoom, maxZoom = 1, 18
	}
	fitPadding := deps.FitPadding
	if fitPadding <= 0 {
		fitPadding = 0.1
	}
	ttl := deps.TTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &sessionService{
		boundaries:   deps.Boundaries,
		drill:        deps.Drill,
		schedule:     schedule,
		animationDur: animationDur,
		minZoom:      minZoom,
		maxZoom:      maxZoom,
		fitPadding:   fitPadding,
		ttl:          ttl,
		now:          func() time.Time { return clock().UTC() },
		newID:        func() string { return sessionIDPrefix + strings.ToLower(idGen()) },
		logger:       logger,
		sessions:     make(map[string]*MapSession),
	}, nil
}

// CreateSession builds a new session with the requested layout and loads the
// initial country when one is given.
func (s *sessionService) CreateSession(ctx context.Context, cmd CreateSessionCommand) (*MapSession, error) {
	layout := cmd.Layout
	if layout == 0 {
		layout = domain.LayoutSingle
	}
	if _, err := domain.ParseLayout(int(layout)); err != nil {
		return nil, err
	}

	initial := domain.ViewState{Center: domain.LonLat{0, 0}, Zoom: s.minZoom}
	if cmd.View != nil {
		if err := cmd.View.Validate(s.minZoom, s.maxZoom); err != nil {
			return nil, err
		}
		initial = *cmd.View
	}

	now := s.now()
	session := &MapSession{
		id:          s.newID(),
		layout:      layout,
		coordinator: NewViewCoordinator(initial),
		createdAt:   now,
		lastAccess:  now,
		svc:         s,
	}
	for i := 0; i < int(layout); i++ {
		vp := NewViewport(fmt.Sprintf(viewportIDFormat, i+1), initial, s.schedule, s.animationDur)
		session.coordinator.Attach(vp)
	}

	if country := domain.NormalizeCountry(cmd.Country); country != "" {
		if err := session.SwitchCountry(ctx, country); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	s.sessions[session.id] = session
	s.mu.Unlock()

	s.logger(ctx, "session.created", map[string]any{
		"session_id": session.id,
		"layout":     int(layout),
		"country":    session.Country(),
	})
	return session, nil
}

// GetSession returns a live session and refreshes its idle deadline.
func (s *sessionService) GetSession(id string) (*MapSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[strings.TrimSpace(id)]
	if !ok {
		return nil, false
	}
	session.mu.Lock()
	session.lastAccess = s.now()
	session.mu.Unlock()
	return session, true
}

// DeleteSession tears a session down and stops its viewport animations.
func (s *sessionService) DeleteSession(id string) {
	s.mu.Lock()
	session, ok := s.sessions[strings.TrimSpace(id)]
	if ok {
		delete(s.sessions, strings.TrimSpace(id))
	}
	s.mu.Unlock()
	if ok {
		session.coordinator.DetachAll()
	}
}

// SweepExpired removes sessions idle past the TTL and returns how many were dropped.
func (s *sessionService) SweepExpired() int {
	deadline := s.now().Add(-s.ttl)

	s.mu.Lock()
	var expired []*MapSession
	for id, session := range s.sessions {
		session.mu.Lock()
		idle := session.lastAccess.Before(deadline)
		session.mu.Unlock()
		if idle {
			expired = append(expired, session)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for _, session := range expired {
		session.coordinator.DetachAll()
	}
	return len(expired)
}

// fitCountry computes the view framing every feature in the collection.
func (s *sessionService) fitCountry(fc *geojson.FeatureCollection) domain.ViewState {
	if fc == nil || len(fc.Features) == 0 {
		return domain.ViewState{Center: domain.LonLat{0, 0}, Zoom: s.minZoom}
	}
	var bound orb.Bound
	first := true
	for _, feature := range fc.Features {
		if feature == nil || feature.Geometry == nil {
			continue
		}
		b := feature.Geometry.Bound()
		if first {
			bound = b
			first = false
			continue
		}
		bound = bound.Union(b)
	}
	if first {
		return domain.ViewState{Center: domain.LonLat{0, 0}, Zoom: s.minZoom}
	}
	return geo.FitView(bound, s.fitPadding, s.minZoom, s.maxZoom)
}
