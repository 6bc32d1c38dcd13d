package geo

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

func TestCloneFeatureIsolatesGeometry(t *testing.T) {
	original := geojson.NewFeature(square(0, 0, 1, 1))
	original.ID = "prov-1"
	original.Properties["name"] = "Western"

	cloned := CloneFeature(original)
	if cloned == original {
		t.Fatal("expected a distinct feature value")
	}

	// Mutating the clone must not bleed into the original.
	cloned.Geometry.(orb.Polygon)[0][0] = orb.Point{99, 99}
	cloned.Properties["name"] = "mutated"

	if got := original.Geometry.(orb.Polygon)[0][0]; got != (orb.Point{0, 0}) {
		t.Fatalf("original geometry mutated: %v", got)
	}
	if got := original.Properties["name"]; got != "Western" {
		t.Fatalf("original properties mutated: %v", got)
	}
	if cloned.ID != "prov-1" {
		t.Fatalf("expected ID carried over, got %v", cloned.ID)
	}
}

func TestCloneFeatureNil(t *testing.T) {
	if CloneFeature(nil) != nil {
		t.Fatal("expected nil for nil feature")
	}
	if CloneFeatures(nil) != nil {
		t.Fatal("expected nil for empty slice")
	}
}

func TestCloneFeaturesOrder(t *testing.T) {
	features := []*geojson.Feature{
		geojson.NewFeature(square(0, 0, 1, 1)),
		geojson.NewFeature(square(2, 2, 3, 3)),
	}
	features[0].ID = "a"
	features[1].ID = "b"

	cloned := CloneFeatures(features)
	if len(cloned) != 2 {
		t.Fatalf("expected 2 features, got %d", len(cloned))
	}
	if cloned[0].ID != "a" || cloned[1].ID != "b" {
		t.Fatalf("expected order preserved, got %v %v", cloned[0].ID, cloned[1].ID)
	}
}
