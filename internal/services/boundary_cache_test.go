package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	domain "github.com/climate-atlas/boundary-api/internal/domain"
	"github.com/climate-atlas/boundary-api/internal/geo"
)

func testMaskBuilder() *geo.MaskBuilder {
	return geo.NewMaskBuilder(geo.MaskBuilderDeps{Union: geo.NewPolygonUnion()})
}

func provinceFeature(name string, minX, minY, maxX, maxY float64) *geojson.Feature {
	feature := geojson.NewFeature(orb.Polygon{{
		{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY}, {minX, minY},
	}})
	feature.Properties = geojson.Properties{"shapeName": name}
	return feature
}

func testBoundaryRecord(country string) domain.BoundaryRecord {
	fc := geojson.NewFeatureCollection()
	fc.Append(provinceFeature("North", 0, 1, 1, 2))
	fc.Append(provinceFeature("South", 0, 0, 1, 1))
	return domain.BoundaryRecord{
		Country:        country,
		HoverAttribute: "shapeName",
		Features:       fc,
	}
}

func newTestCache(t *testing.T) *BoundaryCache {
	t.Helper()
	cache, err := NewBoundaryCache(BoundaryCacheDeps{Masks: testMaskBuilder()})
	if err != nil {
		t.Fatalf("NewBoundaryCache: %v", err)
	}
	return cache
}

func TestBoundaryCacheBuildsOnce(t *testing.T) {
	cache := newTestCache(t)
	var loads int64
	load := func(context.Context) (domain.BoundaryRecord, error) {
		atomic.AddInt64(&loads, 1)
		return testBoundaryRecord("kh"), nil
	}

	var wg sync.WaitGroup
	results := make([]domain.BoundaryLayers, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			layers, err := cache.Layers(context.Background(), "kh", load)
			if err != nil {
				t.Errorf("Layers: %v", err)
				return
			}
			results[i] = layers
		}(i)
	}
	wg.Wait()

	if got := atomic.LoadInt64(&loads); got != 1 {
		t.Fatalf("expected a single load, got %d", got)
	}
	for i, layers := range results {
		if layers.Mask == nil {
			t.Fatalf("viewport %d received nil mask", i)
		}
		if len(layers.Boundary) != 2 {
			t.Fatalf("viewport %d received %d boundary features", i, len(layers.Boundary))
		}
	}
}

func TestBoundaryCacheClonesPerCall(t *testing.T) {
	cache := newTestCache(t)
	load := func(context.Context) (domain.BoundaryRecord, error) {
		return testBoundaryRecord("kh"), nil
	}

	first, err := cache.Layers(context.Background(), "kh", load)
	if err != nil {
		t.Fatalf("Layers: %v", err)
	}
	second, err := cache.Layers(context.Background(), "kh", load)
	if err != nil {
		t.Fatalf("Layers: %v", err)
	}

	if first.Mask == second.Mask {
		t.Fatal("mask feature shared between calls")
	}
	if first.Boundary[0] == second.Boundary[0] {
		t.Fatal("boundary feature shared between calls")
	}

	// Mutating one clone must not leak into the other.
	first.Boundary[0].Properties["shapeName"] = "mutated"
	if second.Boundary[0].Properties["shapeName"] != "North" {
		t.Fatal("clone mutation leaked into sibling clone")
	}

	poly := first.Mask.Geometry.(orb.Polygon)
	poly[0][0] = orb.Point{42, 42}
	other := second.Mask.Geometry.(orb.Polygon)
	if other[0][0] == (orb.Point{42, 42}) {
		t.Fatal("mask geometry shared between clones")
	}
}

func TestBoundaryCacheLoadErrorNotCached(t *testing.T) {
	cache := newTestCache(t)
	boom := errors.New("registry down")
	calls := 0
	load := func(context.Context) (domain.BoundaryRecord, error) {
		calls++
		if calls == 1 {
			return domain.BoundaryRecord{}, boom
		}
		return testBoundaryRecord("kh"), nil
	}

	if _, err := cache.Layers(context.Background(), "kh", load); !errors.Is(err, boom) {
		t.Fatalf("expected load error, got %v", err)
	}
	if cache.Contains("kh") {
		t.Fatal("failed load must not be memoized")
	}

	if _, err := cache.Layers(context.Background(), "kh", load); err != nil {
		t.Fatalf("Layers after failure: %v", err)
	}
	if !cache.Contains("kh") {
		t.Fatal("successful load should be memoized")
	}
}

func TestBoundaryCacheInvalidate(t *testing.T) {
	cache := newTestCache(t)
	var loads int64
	load := func(context.Context) (domain.BoundaryRecord, error) {
		atomic.AddInt64(&loads, 1)
		return testBoundaryRecord("KH"), nil
	}

	if _, err := cache.Layers(context.Background(), "KH", load); err != nil {
		t.Fatalf("Layers: %v", err)
	}
	if !cache.Contains("kh") {
		t.Fatal("expected normalized entry")
	}

	cache.Invalidate("Kh")
	if cache.Contains("kh") {
		t.Fatal("expected entry dropped")
	}

	if _, err := cache.Layers(context.Background(), "kh", load); err != nil {
		t.Fatalf("Layers after invalidate: %v", err)
	}
	if got := atomic.LoadInt64(&loads); got != 2 {
		t.Fatalf("expected rebuild after invalidate, got %d loads", got)
	}
}
