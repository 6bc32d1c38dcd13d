package services

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/singleflight"

	domain "github.com/climate-atlas/boundary-api/internal/domain"
	"github.com/climate-atlas/boundary-api/internal/geo"
)

var errCacheMaskBuilderRequired = errors.New("boundary_cache: mask builder is required")

// BoundaryCacheDeps wires dependencies for the memoized mask cache.
type BoundaryCacheDeps struct {
	Masks  *geo.MaskBuilder
	Logger func(context.Context, string, map[string]any)
}

// BoundaryCache memoizes the polygon union per country. The union is expensive
// for large feature collections, so it runs at most once per country no matter
// how many viewports request the layers. The cache owns the canonical
// geometry; every read hands out a deep clone so callers can attach the result
// to a render target without aliasing.
type BoundaryCache struct {
	masks  *geo.MaskBuilder
	logger func(context.Context, string, map[string]any)

	group singleflight.Group

	mu      sync.RWMutex
	entries map[string]*domain.CachedMask
}

// NewBoundaryCache constructs a BoundaryCache.
func NewBoundaryCache(deps BoundaryCacheDeps) (*BoundaryCache, error) {
	if deps.Masks == nil {
		return nil, errCacheMaskBuilderRequired
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &BoundaryCache{
		masks:   deps.Masks,
		logger:  logger,
		entries: make(map[string]*domain.CachedMask),
	}, nil
}

// Layers returns cloned mask and boundary layers for the country, building and
// memoizing them on first use. The load callback supplies the resolved
// boundary record and runs at most once per country across concurrent callers.
func (c *BoundaryCache) Layers(ctx context.Context, country string, load func(context.Context) (domain.BoundaryRecord, error)) (domain.BoundaryLayers, error) {
	if c == nil || c.masks == nil {
		return domain.BoundaryLayers{}, errCacheMaskBuilderRequired
	}
	country = domain.NormalizeCountry(country)

	if entry, ok := c.lookup(country); ok {
		return cloneLayers(entry), nil
	}

	result, err, _ := c.group.Do(country, func() (any, error) {
		if entry, ok := c.lookup(country); ok {
			return entry, nil
		}

		record, err := load(ctx)
		if err != nil {
			return nil, err
		}

		mask := c.masks.BuildCountryMask(ctx, record.Features)
		if mask == nil {
			c.logger(ctx, "boundary_cache.mask_unavailable", map[string]any{"country": country})
		}

		entry := &domain.CachedMask{
			Country: country,
			Mask:    mask,
		}
		if record.Features != nil {
			entry.BoundaryFeatures = record.Features.Features
		}

		c.mu.Lock()
		c.entries[country] = entry
		c.mu.Unlock()
		return entry, nil
	})
	if err != nil {
		return domain.BoundaryLayers{}, err
	}
	return cloneLayers(result.(*domain.CachedMask)), nil
}

// Invalidate drops the cached entry for a country.
func (c *BoundaryCache) Invalidate(country string) {
	if c == nil {
		return
	}
	country = domain.NormalizeCountry(country)
	c.mu.Lock()
	delete(c.entries, country)
	c.mu.Unlock()
	c.group.Forget(country)
}

// Contains reports whether the country currently has a memoized entry.
func (c *BoundaryCache) Contains(country string) bool {
	if c == nil {
		return false
	}
	_, ok := c.lookup(domain.NormalizeCountry(country))
	return ok
}

func (c *BoundaryCache) lookup(country string) (*domain.CachedMask, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[country]
	return entry, ok
}

func cloneLayers(entry *domain.CachedMask) domain.BoundaryLayers {
	if entry == nil {
		return domain.BoundaryLayers{}
	}
	return domain.BoundaryLayers{
		Mask:     geo.CloneFeature(entry.Mask),
		Boundary: geo.CloneFeatures(entry.BoundaryFeatures),
	}
}
