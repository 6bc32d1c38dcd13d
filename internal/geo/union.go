package geo

import (
	"errors"
	"fmt"

	"github.com/engelsjk/polygol"
	"github.com/paulmach/orb"
)

// ErrEmptyUnion indicates there was no input geometry to merge.
var ErrEmptyUnion = errors.New("geo: no polygons to union")

// PolygonUnion merges a set of polygons into their combined outline. Adjacent
// shapes sharing an edge must collapse into a single contiguous region.
type PolygonUnion interface {
	Union(polygons []orb.Polygon) (orb.MultiPolygon, error)
}

// NewPolygonUnion returns the default union implementation backed by the
// Martinez-Rueda clipping algorithm.
func NewPolygonUnion() PolygonUnion {
	return martinezUnion{}
}

type martinezUnion struct{}

func (martinezUnion) Union(polygons []orb.Polygon) (orb.MultiPolygon, error) {
	if len(polygons) == 0 {
		return nil, ErrEmptyUnion
	}

	geoms := make([]polygol.Geom, 0, len(polygons))
	for _, polygon := range polygons {
		if len(polygon) == 0 || len(polygon[0]) < 4 {
			continue
		}
		geoms = append(geoms, toGeom(polygon))
	}
	if len(geoms) == 0 {
		return nil, ErrEmptyUnion
	}
	if len(geoms) == 1 {
		return fromGeom(geoms[0]), nil
	}

	merged, err := polygol.Union(geoms[0], geoms[1:]...)
	if err != nil {
		return nil, fmt.Errorf("geo: polygon union: %w", err)
	}
	result := fromGeom(merged)
	if len(result) == 0 {
		return nil, ErrEmptyUnion
	}
	return result, nil
}

// toGeom converts a single polygon into the clipper's multipolygon coordinate form.
func toGeom(polygon orb.Polygon) polygol.Geom {
	rings := make([][][]float64, 0, len(polygon))
	for _, ring := range polygon {
		coords := make([][]float64, 0, len(ring))
		for _, point := range ring {
			coords = append(coords, []float64{point[0], point[1]})
		}
		rings = append(rings, coords)
	}
	return polygol.Geom{rings}
}

func fromGeom(geom polygol.Geom) orb.MultiPolygon {
	result := make(orb.MultiPolygon, 0, len(geom))
	for _, polygon := range geom {
		converted := make(orb.Polygon, 0, len(polygon))
		for _, ring := range polygon {
			points := make(orb.Ring, 0, len(ring))
			for _, coord := range ring {
				if len(coord) < 2 {
					continue
				}
				points = append(points, orb.Point{coord[0], coord[1]})
			}
			if len(points) >= 4 {
				converted = append(converted, points)
			}
		}
		if len(converted) > 0 {
			result = append(result, converted)
		}
	}
	return result
}
