package geo

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
)

func TestFitViewCentersBound(t *testing.T) {
	bound := orb.Bound{Min: orb.Point{100, 10}, Max: orb.Point{110, 20}}
	view := FitView(bound, 0, 1, 18)

	if math.Abs(view.Center.Lon()-105) > 1e-9 || math.Abs(view.Center.Lat()-15) > 1e-9 {
		t.Fatalf("expected center (105,15), got %v", view.Center)
	}
	// A 10x10 degree bound fits at log2(180/10) ~ 4.17, floored to half steps.
	if view.Zoom != 4 {
		t.Fatalf("expected zoom 4, got %f", view.Zoom)
	}
}

func TestFitViewPaddingZoomsOut(t *testing.T) {
	bound := orb.Bound{Min: orb.Point{100, 10}, Max: orb.Point{110, 20}}
	padded := FitView(bound, 0.5, 1, 18)
	tight := FitView(bound, 0, 1, 18)
	if padded.Zoom >= tight.Zoom {
		t.Fatalf("expected padding to lower zoom: padded=%f tight=%f", padded.Zoom, tight.Zoom)
	}
}

func TestFitViewClampsZoom(t *testing.T) {
	tiny := orb.Bound{Min: orb.Point{100, 10}, Max: orb.Point{100.0001, 10.0001}}
	view := FitView(tiny, 0, 1, 8)
	if view.Zoom != 8 {
		t.Fatalf("expected zoom clamped to 8, got %f", view.Zoom)
	}

	world := orb.Bound{Min: orb.Point{-180, -90}, Max: orb.Point{180, 90}}
	view = FitView(world, 0, 2, 18)
	if view.Zoom != 2 {
		t.Fatalf("expected zoom floored at 2, got %f", view.Zoom)
	}
}

func TestFitViewDegeneratePoint(t *testing.T) {
	point := orb.Bound{Min: orb.Point{120, 15}, Max: orb.Point{120, 15}}
	view := FitView(point, 0, 1, 18)
	if view.Zoom != 10 {
		t.Fatalf("expected default point zoom 10, got %f", view.Zoom)
	}
	if view.Center.Lon() != 120 || view.Center.Lat() != 15 {
		t.Fatalf("expected center at the point, got %v", view.Center)
	}
}
