package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/paulmach/orb/geojson"

	domain "github.com/climate-atlas/boundary-api/internal/domain"
	"github.com/climate-atlas/boundary-api/internal/geo"
)

var (
	// ErrDrillFeatureRequired indicates no clickable feature was supplied.
	ErrDrillFeatureRequired = errors.New("drill: feature is required")
	// ErrDrillNotActive indicates back-navigation was requested without an active drill.
	ErrDrillNotActive = errors.New("drill: no active drill state")

	errDrillMaskBuilderRequired = errors.New("drill: mask builder is required")
)

const (
	defaultDrillPadding = 0.2
	defaultDrillMaxZoom = 12.0
)

// DrillControllerDeps wires dependencies for province drill-down.
type DrillControllerDeps struct {
	Masks   *geo.MaskBuilder
	Padding float64
	MinZoom float64
	MaxZoom float64
	Clock   func() time.Time
	Logger  func(context.Context, string, map[string]any)
}

// DrillController zooms a single viewport into one province, stacking a
// transient province mask above the country layers and remembering the
// pre-drill view for back-navigation. Drill-down never broadcasts to sibling
// viewports.
type DrillController struct {
	masks   *geo.MaskBuilder
	padding float64
	minZoom float64
	maxZoom float64
	now     func() time.Time
	logger  func(context.Context, string, map[string]any)
}

// NewDrillController constructs a DrillController.
func NewDrillController(deps DrillControllerDeps) (*DrillController, error) {
	if deps.Masks == nil {
		return nil, errDrillMaskBuilderRequired
	}
	padding := deps.Padding
	if padding <= 0 {
		padding = defaultDrillPadding
	}
	maxZoom := deps.MaxZoom
	if maxZoom <= 0 {
		maxZoom = defaultDrillMaxZoom
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &DrillController{
		masks:   deps.Masks,
		padding: padding,
		minZoom: deps.MinZoom,
		maxZoom: maxZoom,
		now:     func() time.Time { return clock().UTC() },
		logger:  logger,
	}, nil
}

// DrillInto frames the clicked province on the given viewport. The province
// mask is attached before the fit animation starts, so a back-navigation
// issued immediately afterwards always observes complete drill state.
func (d *DrillController) DrillInto(ctx context.Context, vp *Viewport, feature *geojson.Feature, province string) (*domain.DrillState, error) {
	if d == nil || d.masks == nil {
		return nil, errDrillMaskBuilderRequired
	}
	if vp == nil {
		return nil, ErrViewportUnknown
	}
	if feature == nil || feature.Geometry == nil {
		return nil, ErrDrillFeatureRequired
	}
	province = strings.TrimSpace(province)

	priorView := vp.View()
	if existing := vp.Drill(); existing != nil {
		// Drilling from one province to another keeps the original pre-drill
		// view so back-navigation exits the drill entirely.
		priorView = existing.PriorView
	}

	clone := geo.CloneFeature(feature)
	mask := d.masks.BuildFeatureMask(ctx, clone)
	if mask == nil {
		d.logger(ctx, "drill.mask_unavailable", map[string]any{"province": province})
	}

	state := &domain.DrillState{
		Province:  province,
		Feature:   clone,
		PriorView: priorView,
		StartedAt: d.now(),
	}
	layers := &domain.BoundaryLayers{
		Mask:     mask,
		Boundary: []*geojson.Feature{geo.CloneFeature(feature)},
	}

	vp.AttachDrill(state, layers)
	fit := geo.FitView(clone.Geometry.Bound(), d.padding, d.minZoom, d.maxZoom)
	vp.SetViewDirect(fit)
	return state, nil
}

// Back removes the transient province layers and restores the pre-drill view.
func (d *DrillController) Back(ctx context.Context, vp *Viewport) (domain.ViewState, error) {
	if vp == nil {
		return domain.ViewState{}, ErrViewportUnknown
	}
	state := vp.Drill()
	if state == nil {
		return domain.ViewState{}, ErrDrillNotActive
	}

	vp.ClearDrill()
	vp.SetViewDirect(state.PriorView)
	d.logger(ctx, "drill.back", map[string]any{"province": state.Province})
	return state.PriorView, nil
}
