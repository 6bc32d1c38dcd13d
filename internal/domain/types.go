package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

const (
	// MinLongitude..MaxLatitude bound every view center accepted by the engine.
	MinLongitude = -180.0
	MaxLongitude = 180.0
	MinLatitude  = -90.0
	MaxLatitude  = 90.0
)

var (
	// ErrInvalidView indicates a view state outside the accepted coordinate or zoom range.
	ErrInvalidView = errors.New("domain: invalid view state")
	// ErrInvalidLayout indicates an unsupported viewport layout.
	ErrInvalidLayout = errors.New("domain: invalid layout")
)

// LonLat is a geographic coordinate pair ordered longitude, latitude.
type LonLat [2]float64

// Lon returns the longitude component.
func (p LonLat) Lon() float64 { return p[0] }

// Lat returns the latitude component.
func (p LonLat) Lat() float64 { return p[1] }

// Point converts the pair to an orb point.
func (p LonLat) Point() orb.Point { return orb.Point{p[0], p[1]} }

// ViewState is the shared map view (center and zoom) coordinated across viewports.
type ViewState struct {
	Center LonLat  `json:"center"`
	Zoom   float64 `json:"zoom"`
}

// Validate reports whether the view lies inside the world extent and the supplied zoom range.
func (v ViewState) Validate(minZoom, maxZoom float64) error {
	if v.Center.Lon() < MinLongitude || v.Center.Lon() > MaxLongitude {
		return fmt.Errorf("%w: longitude %f out of range", ErrInvalidView, v.Center.Lon())
	}
	if v.Center.Lat() < MinLatitude || v.Center.Lat() > MaxLatitude {
		return fmt.Errorf("%w: latitude %f out of range", ErrInvalidView, v.Center.Lat())
	}
	if v.Zoom < minZoom || v.Zoom > maxZoom {
		return fmt.Errorf("%w: zoom %f outside [%f, %f]", ErrInvalidView, v.Zoom, minZoom, maxZoom)
	}
	return nil
}

// ClampZoom returns a copy of the view with zoom forced into the supplied range.
func (v ViewState) ClampZoom(minZoom, maxZoom float64) ViewState {
	if v.Zoom < minZoom {
		v.Zoom = minZoom
	}
	if v.Zoom > maxZoom {
		v.Zoom = maxZoom
	}
	return v
}

// Layout is the number of simultaneously visible map viewports.
type Layout int

// Supported viewport layouts.
const (
	LayoutSingle Layout = 1
	LayoutSplit  Layout = 2
	LayoutQuad   Layout = 4
)

// ParseLayout validates a requested viewport count.
func ParseLayout(count int) (Layout, error) {
	switch Layout(count) {
	case LayoutSingle, LayoutSplit, LayoutQuad:
		return Layout(count), nil
	default:
		return 0, fmt.Errorf("%w: %d viewports", ErrInvalidLayout, count)
	}
}

// BoundaryRecordMeta is the registry row produced by the upload pipeline for one country.
// Exactly one of GeoJSON (inline payload) or DataKey (chunked blob reference) is set.
// Revision counts dataset replacements; the repository bumps it on every upsert
// and preserves CreatedAt from the first write.
type BoundaryRecordMeta struct {
	Country        string
	HoverAttribute string
	DataKey        string
	GeoJSON        []byte
	FeatureCount   int
	Bounds         []float64
	Revision       int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// BoundaryRecord is a fully resolved boundary dataset for one country.
type BoundaryRecord struct {
	Country        string
	HoverAttribute string
	Features       *geojson.FeatureCollection
}

// FeatureCount returns the number of administrative features in the record.
func (r *BoundaryRecord) FeatureCount() int {
	if r == nil || r.Features == nil {
		return 0
	}
	return len(r.Features.Features)
}

// CachedMask is the canonical memoized mask entry for one country. The cache
// store is its sole owner; consumers always receive clones.
type CachedMask struct {
	Country          string
	Mask             *geojson.Feature
	BoundaryFeatures []*geojson.Feature
}

// BoundaryLayers is a per-viewport clone of the cached geometry. Each call site
// owns its copy outright; no geometry instance is ever shared between render targets.
type BoundaryLayers struct {
	Mask     *geojson.Feature
	Boundary []*geojson.Feature
}

// DrillState captures an active province drill-down on a single viewport.
type DrillState struct {
	Province  string
	Feature   *geojson.Feature
	PriorView ViewState
	StartedAt time.Time
}

// NormalizeCountry canonicalises a country code for cache and registry keys.
func NormalizeCountry(country string) string {
	return strings.ToLower(strings.TrimSpace(country))
}
