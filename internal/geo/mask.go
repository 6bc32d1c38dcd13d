package geo

import (
	"context"
	"errors"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// worldRing covers the full WGS84 extent and forms the outer ring of every mask.
var worldRing = orb.Ring{
	{-180, -90},
	{180, -90},
	{180, 90},
	{-180, 90},
	{-180, -90},
}

// MaskBuilderDeps wires dependencies for the mask builder.
type MaskBuilderDeps struct {
	Union  PolygonUnion
	Logger func(ctx context.Context, event string, fields map[string]any)
}

// MaskBuilder computes "world minus area" mask polygons from administrative
// boundary features. The mask is a world-covering rectangle whose holes are
// the exterior outline of the merged administrative units; interior rings of
// individual units are not carried into the mask.
type MaskBuilder struct {
	union  PolygonUnion
	logger func(ctx context.Context, event string, fields map[string]any)
}

// NewMaskBuilder constructs a MaskBuilder. A nil union falls back to the default
// clipping implementation.
func NewMaskBuilder(deps MaskBuilderDeps) *MaskBuilder {
	union := deps.Union
	if union == nil {
		union = NewPolygonUnion()
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &MaskBuilder{union: union, logger: logger}
}

// BuildCountryMask unions the exterior shells of every feature in the
// collection and returns the complement mask. Features whose shells cannot be
// merged are skipped so a partial mask still renders; when nothing can be
// merged the result is nil and callers render the boundary outline only.
func (b *MaskBuilder) BuildCountryMask(ctx context.Context, fc *geojson.FeatureCollection) *geojson.Feature {
	if b == nil || fc == nil || len(fc.Features) == 0 {
		return nil
	}

	shells := make([][]orb.Polygon, 0, len(fc.Features))
	for _, feature := range fc.Features {
		if feature == nil {
			continue
		}
		if s := ExteriorShells(feature.Geometry); len(s) > 0 {
			shells = append(shells, s)
		}
	}
	if len(shells) == 0 {
		return nil
	}

	flat := make([]orb.Polygon, 0, len(shells))
	for _, s := range shells {
		flat = append(flat, s...)
	}

	merged, err := b.union.Union(flat)
	if err == nil {
		return maskFromOutline(merged)
	}
	b.logger(ctx, "mask.union.degraded", map[string]any{"features": len(shells), "error": err.Error()})

	// Merge feature by feature, dropping any feature that poisons the union.
	var accumulated orb.MultiPolygon
	skipped := 0
	for _, featureShells := range shells {
		candidate := make([]orb.Polygon, 0, len(accumulated)+len(featureShells))
		candidate = append(candidate, accumulated...)
		candidate = append(candidate, featureShells...)
		merged, err := b.union.Union(candidate)
		if err != nil {
			skipped++
			continue
		}
		accumulated = merged
	}
	if skipped > 0 {
		b.logger(ctx, "mask.union.skipped_features", map[string]any{"skipped": skipped})
	}
	if len(accumulated) == 0 {
		return nil
	}
	return maskFromOutline(accumulated)
}

// BuildFeatureMask returns the complement mask of a single feature's exterior
// shells, used for province drill-down.
func (b *MaskBuilder) BuildFeatureMask(ctx context.Context, feature *geojson.Feature) *geojson.Feature {
	if b == nil || feature == nil {
		return nil
	}
	shells := ExteriorShells(feature.Geometry)
	if len(shells) == 0 {
		return nil
	}
	merged, err := b.union.Union(shells)
	if err != nil {
		if !errors.Is(err, ErrEmptyUnion) {
			b.logger(ctx, "mask.feature_union.failed", map[string]any{"error": err.Error()})
		}
		return nil
	}
	return maskFromOutline(merged)
}

// ExteriorShells extracts each polygon part of the geometry as a hole-free
// polygon containing only its exterior ring.
func ExteriorShells(geometry orb.Geometry) []orb.Polygon {
	switch g := geometry.(type) {
	case orb.Polygon:
		if len(g) == 0 || len(g[0]) < 4 {
			return nil
		}
		return []orb.Polygon{{g[0].Clone()}}
	case orb.MultiPolygon:
		shells := make([]orb.Polygon, 0, len(g))
		for _, polygon := range g {
			if len(polygon) == 0 || len(polygon[0]) < 4 {
				continue
			}
			shells = append(shells, orb.Polygon{polygon[0].Clone()})
		}
		return shells
	default:
		return nil
	}
}

// maskFromOutline builds the world rectangle with the outline's exterior rings
// punched out as holes.
func maskFromOutline(outline orb.MultiPolygon) *geojson.Feature {
	mask := orb.Polygon{worldRing.Clone()}
	for _, polygon := range outline {
		if len(polygon) == 0 || len(polygon[0]) < 4 {
			continue
		}
		mask = append(mask, polygon[0].Clone())
	}
	if len(mask) == 1 {
		return nil
	}
	feature := geojson.NewFeature(mask)
	feature.Properties["kind"] = "mask"
	return feature
}
