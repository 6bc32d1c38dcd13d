package geo

import (
	"errors"
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

func TestUnionMergesSharedEdge(t *testing.T) {
	union := NewPolygonUnion()
	merged, err := union.Union([]orb.Polygon{square(0, 0, 1, 1), square(1, 0, 2, 1)})
	if err != nil {
		t.Fatalf("union failed: %v", err)
	}
	if len(merged) != 1 {
		t.Fatalf("expected one merged polygon, got %d", len(merged))
	}
	if area := math.Abs(planar.Area(merged[0])); math.Abs(area-2.0) > 1e-9 {
		t.Fatalf("expected merged area 2.0, got %f", area)
	}
}

func TestUnionKeepsDisjointParts(t *testing.T) {
	union := NewPolygonUnion()
	merged, err := union.Union([]orb.Polygon{square(0, 0, 1, 1), square(5, 5, 6, 6)})
	if err != nil {
		t.Fatalf("union failed: %v", err)
	}
	if len(merged) != 2 {
		t.Fatalf("expected two disjoint polygons, got %d", len(merged))
	}
}

func TestUnionOverlapDoesNotDoubleCount(t *testing.T) {
	union := NewPolygonUnion()
	merged, err := union.Union([]orb.Polygon{square(0, 0, 2, 2), square(1, 1, 3, 3)})
	if err != nil {
		t.Fatalf("union failed: %v", err)
	}
	total := 0.0
	for _, polygon := range merged {
		total += math.Abs(planar.Area(polygon))
	}
	if math.Abs(total-7.0) > 1e-9 {
		t.Fatalf("expected combined area 7.0, got %f", total)
	}
}

func TestUnionEmptyInput(t *testing.T) {
	union := NewPolygonUnion()
	if _, err := union.Union(nil); !errors.Is(err, ErrEmptyUnion) {
		t.Fatalf("expected ErrEmptyUnion, got %v", err)
	}
	// Degenerate rings are dropped before clipping.
	if _, err := union.Union([]orb.Polygon{{orb.Ring{{0, 0}, {1, 1}}}}); !errors.Is(err, ErrEmptyUnion) {
		t.Fatalf("expected ErrEmptyUnion for degenerate ring, got %v", err)
	}
}

func TestUnionSinglePolygonPassThrough(t *testing.T) {
	union := NewPolygonUnion()
	merged, err := union.Union([]orb.Polygon{square(0, 0, 1, 1)})
	if err != nil {
		t.Fatalf("union failed: %v", err)
	}
	if len(merged) != 1 {
		t.Fatalf("expected one polygon, got %d", len(merged))
	}
	if area := math.Abs(planar.Area(merged[0])); math.Abs(area-1.0) > 1e-9 {
		t.Fatalf("expected area 1.0, got %f", area)
	}
}
