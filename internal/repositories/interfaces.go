package repositories

import (
	"context"

	domain "github.com/climate-atlas/boundary-api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// BoundaryRepository persists boundary dataset metadata keyed by country code.
// The GeoJSON payload itself lives in the chunk store; the repository records
// which data key to load and how to label features on hover.
type BoundaryRepository interface {
	FindByCountry(ctx context.Context, country string) (domain.BoundaryRecordMeta, error)
	List(ctx context.Context) ([]domain.BoundaryRecordMeta, error)
	Upsert(ctx context.Context, meta domain.BoundaryRecordMeta) error
}

// HealthRepository aggregates dependency probes for readiness reporting.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
