package geo

import (
	"math"

	"github.com/paulmach/orb"

	"github.com/climate-atlas/boundary-api/internal/domain"
)

// FitView computes the view state that frames the bound inside a viewport with
// the given padding fraction, clamped to the supplied zoom range.
func FitView(bound orb.Bound, padding, minZoom, maxZoom float64) domain.ViewState {
	center := bound.Center()
	view := domain.ViewState{
		Center: domain.LonLat{center[0], center[1]},
		Zoom:   fitZoom(bound, padding),
	}
	return view.ClampZoom(minZoom, maxZoom)
}

// fitZoom derives the largest integer-ish zoom at which the padded bound still
// fits a single 360x180 degree world tile pyramid.
func fitZoom(bound orb.Bound, padding float64) float64 {
	lonSpan := bound.Max[0] - bound.Min[0]
	latSpan := bound.Max[1] - bound.Min[1]
	if padding > 0 {
		lonSpan *= 1 + padding
		latSpan *= 1 + padding
	}
	if lonSpan <= 0 && latSpan <= 0 {
		// Degenerate bound (a point); zoom in close but not past street level.
		return 10
	}

	zoom := math.Inf(1)
	if lonSpan > 0 {
		zoom = math.Log2(360 / lonSpan)
	}
	if latSpan > 0 {
		if z := math.Log2(180 / latSpan); z < zoom {
			zoom = z
		}
	}
	return math.Floor(zoom*2) / 2
}
