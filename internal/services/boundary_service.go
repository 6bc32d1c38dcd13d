package services

import (
	"context"
	"errors"
	"time"

	"github.com/paulmach/orb/geojson"

	domain "github.com/climate-atlas/boundary-api/internal/domain"
	"github.com/climate-atlas/boundary-api/internal/repositories"
)

var (
	// ErrBoundaryInvalidInput indicates the caller provided invalid data.
	ErrBoundaryInvalidInput = errors.New("boundary: invalid input")
	// ErrBoundaryNotFound indicates no dataset is registered for the country.
	ErrBoundaryNotFound = errors.New("boundary: not found")
	// ErrBoundaryPayload indicates the stored dataset could not be decoded as GeoJSON.
	ErrBoundaryPayload = errors.New("boundary: malformed geojson payload")
	// ErrBoundaryUnavailable indicates the service cannot complete the request due to dependency failures.
	ErrBoundaryUnavailable = errors.New("boundary: service unavailable")

	errBoundaryRepositoryRequired = errors.New("boundary: repository is required")
	errBoundaryLoaderRequired     = errors.New("boundary: payload loader is required")
	errBoundaryCacheRequired      = errors.New("boundary: cache is required")
)

// BoundaryServiceDeps wires repository, loader, and cache dependencies.
type BoundaryServiceDeps struct {
	Repository repositories.BoundaryRepository
	Loader     *BoundaryPayloadLoader
	Cache      *BoundaryCache
	Publisher  InvalidationPublisher
	Clock      func() time.Time
	Logger     func(context.Context, string, map[string]any)
}

type boundaryService struct {
	repo      repositories.BoundaryRepository
	loader    *BoundaryPayloadLoader
	cache     *BoundaryCache
	publisher InvalidationPublisher
	now       func() time.Time
	logger    func(context.Context, string, map[string]any)
}

var _ BoundaryService = (*boundaryService)(nil)

// NewBoundaryService constructs a BoundaryService with the provided dependencies.
func NewBoundaryService(deps BoundaryServiceDeps) (BoundaryService, error) {
	if deps.Repository == nil {
		return nil, errBoundaryRepositoryRequired
	}
	if deps.Loader == nil {
		return nil, errBoundaryLoaderRequired
	}
	if deps.Cache == nil {
		return nil, errBoundaryCacheRequired
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &boundaryService{
		repo:      deps.Repository,
		loader:    deps.Loader,
		cache:     deps.Cache,
		publisher: deps.Publisher,
		now:       func() time.Time { return clock().UTC() },
		logger:    logger,
	}, nil
}

// GetBoundary resolves the full boundary dataset for a country, reading the
// payload inline from the registry row or reassembling it from the chunk store.
func (s *boundaryService) GetBoundary(ctx context.Context, country string) (BoundaryRecord, error) {
	country = domain.NormalizeCountry(country)
	if country == "" {
		return BoundaryRecord{}, ErrBoundaryInvalidInput
	}

	meta, err := s.repo.FindByCountry(ctx, country)
	if err != nil {
		return BoundaryRecord{}, s.translateRepoError(err)
	}

	payload := meta.GeoJSON
	if len(payload) == 0 {
		if meta.DataKey == "" {
			return BoundaryRecord{}, ErrBoundaryPayload
		}
		payload, err = s.loader.Load(ctx, meta.DataKey)
		if err != nil {
			if errors.Is(err, ErrBoundaryDataNotFound) || errors.Is(err, ErrMissingChunk) {
				s.logger(ctx, "boundary.payload_incomplete", map[string]any{
					"country":  country,
					"data_key": meta.DataKey,
					"error":    err.Error(),
				})
			}
			return BoundaryRecord{}, err
		}
	}

	features, err := geojson.UnmarshalFeatureCollection(payload)
	if err != nil {
		s.logger(ctx, "boundary.payload_invalid", map[string]any{
			"country": country,
			"error":   err.Error(),
		})
		return BoundaryRecord{}, ErrBoundaryPayload
	}

	return BoundaryRecord{
		Country:        country,
		HoverAttribute: meta.HoverAttribute,
		Features:       features,
	}, nil
}

// GetLayers returns cloned mask and boundary layers, building the mask at most
// once per country.
func (s *boundaryService) GetLayers(ctx context.Context, country string) (BoundaryLayers, error) {
	country = domain.NormalizeCountry(country)
	if country == "" {
		return BoundaryLayers{}, ErrBoundaryInvalidInput
	}
	return s.cache.Layers(ctx, country, func(ctx context.Context) (BoundaryRecord, error) {
		return s.GetBoundary(ctx, country)
	})
}

// ListBoundaries returns every registered dataset's metadata.
func (s *boundaryService) ListBoundaries(ctx context.Context) ([]BoundaryRecordMeta, error) {
	metas, err := s.repo.List(ctx)
	if err != nil {
		return nil, s.translateRepoError(err)
	}
	return metas, nil
}

// UpsertBoundary registers or replaces a dataset and broadcasts an
// invalidation so all instances drop their cached copies.
func (s *boundaryService) UpsertBoundary(ctx context.Context, cmd UpsertBoundaryCommand) error {
	country := domain.NormalizeCountry(cmd.Country)
	if country == "" {
		return ErrBoundaryInvalidInput
	}
	hasInline := len(cmd.GeoJSON) > 0
	hasKey := cmd.DataKey != ""
	if hasInline == hasKey {
		return ErrBoundaryInvalidInput
	}
	if cmd.FeatureCount < 0 {
		return ErrBoundaryInvalidInput
	}

	meta := domain.BoundaryRecordMeta{
		Country:        country,
		HoverAttribute: cmd.HoverAttribute,
		DataKey:        cmd.DataKey,
		GeoJSON:        cmd.GeoJSON,
		FeatureCount:   cmd.FeatureCount,
		Bounds:         cmd.Bounds,
		UpdatedAt:      s.now(),
	}
	if err := s.repo.Upsert(ctx, meta); err != nil {
		return s.translateRepoError(err)
	}

	s.dropCached(country, cmd.DataKey)

	if s.publisher != nil {
		message := BoundaryInvalidationMessage{
			Country:     country,
			DataKey:     cmd.DataKey,
			Reason:      "upsert",
			PublishedAt: s.now(),
		}
		if _, err := s.publisher.PublishInvalidation(ctx, message); err != nil {
			// Local caches are already dropped; remote instances converge on
			// their next dataset replacement or restart.
			s.logger(ctx, "boundary.invalidation_publish_failed", map[string]any{
				"country": country,
				"error":   err.Error(),
			})
		}
	}
	return nil
}

// Invalidate drops the local cached mask and payload for a country.
func (s *boundaryService) Invalidate(ctx context.Context, country string) {
	country = domain.NormalizeCountry(country)
	if country == "" {
		return
	}
	dataKey := ""
	if meta, err := s.repo.FindByCountry(ctx, country); err == nil {
		dataKey = meta.DataKey
	}
	s.dropCached(country, dataKey)
	s.logger(ctx, "boundary.invalidated", map[string]any{"country": country})
}

func (s *boundaryService) dropCached(country, dataKey string) {
	s.cache.Invalidate(country)
	if dataKey != "" {
		s.loader.Forget(dataKey)
	}
}

func (s *boundaryService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		if repoErr.IsNotFound() {
			return ErrBoundaryNotFound
		}
		return ErrBoundaryUnavailable
	}
	return ErrBoundaryUnavailable
}
