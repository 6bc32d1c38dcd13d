package geo

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// CloneFeature deep-copies a feature so the copy can be attached to a render
// target without aliasing the original geometry.
func CloneFeature(feature *geojson.Feature) *geojson.Feature {
	if feature == nil {
		return nil
	}
	cloned := geojson.NewFeature(orb.Clone(feature.Geometry))
	cloned.ID = feature.ID
	if len(feature.BBox) > 0 {
		cloned.BBox = append(geojson.BBox(nil), feature.BBox...)
	}
	if len(feature.Properties) > 0 {
		cloned.Properties = feature.Properties.Clone()
	}
	return cloned
}

// CloneFeatures deep-copies a feature slice.
func CloneFeatures(features []*geojson.Feature) []*geojson.Feature {
	if len(features) == 0 {
		return nil
	}
	out := make([]*geojson.Feature, 0, len(features))
	for _, feature := range features {
		out = append(out, CloneFeature(feature))
	}
	return out
}
