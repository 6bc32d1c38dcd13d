package services

import (
	"context"
	"time"

	domain "github.com/climate-atlas/boundary-api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	ViewState          = domain.ViewState
	Layout             = domain.Layout
	LonLat             = domain.LonLat
	BoundaryRecord     = domain.BoundaryRecord
	BoundaryRecordMeta = domain.BoundaryRecordMeta
	BoundaryLayers     = domain.BoundaryLayers
	DrillState         = domain.DrillState
	SystemHealthReport = domain.SystemHealthReport
)

// BoundaryService orchestrates boundary metadata lookups, chunked payload
// loading, and mask layer construction.
type BoundaryService interface {
	GetBoundary(ctx context.Context, country string) (BoundaryRecord, error)
	GetLayers(ctx context.Context, country string) (BoundaryLayers, error)
	ListBoundaries(ctx context.Context) ([]BoundaryRecordMeta, error)
	UpsertBoundary(ctx context.Context, cmd UpsertBoundaryCommand) error
	Invalidate(ctx context.Context, country string)
}

// UpsertBoundaryCommand registers or replaces a country's boundary dataset metadata.
type UpsertBoundaryCommand struct {
	Country        string
	HoverAttribute string
	DataKey        string
	GeoJSON        []byte
	FeatureCount   int
	Bounds         []float64
}

// SessionService owns the lifecycle of interactive map sessions.
type SessionService interface {
	CreateSession(ctx context.Context, cmd CreateSessionCommand) (*MapSession, error)
	GetSession(id string) (*MapSession, bool)
	DeleteSession(id string)
	SweepExpired() int
}

// CreateSessionCommand describes the initial state of a new map session.
type CreateSessionCommand struct {
	Country string
	Layout  Layout
	View    *ViewState
}

// SystemService exposes operational health reporting.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// BoundaryInvalidationMessage is published when a country's boundary dataset
// is replaced so that every running instance drops its cached copy.
type BoundaryInvalidationMessage struct {
	Country     string    `json:"country"`
	DataKey     string    `json:"dataKey,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	PublishedAt time.Time `json:"publishedAt"`
}

// InvalidationPublisher broadcasts boundary invalidation events.
type InvalidationPublisher interface {
	PublishInvalidation(ctx context.Context, message BoundaryInvalidationMessage) (string, error)
}

// AnimationScheduler runs done after the animation duration elapses and
// returns a cancel function. Implementations must invoke done from a separate
// goroutine or a later explicit trigger, never synchronously from the
// scheduling call.
type AnimationScheduler func(d time.Duration, done func()) (cancel func())

// TimerAnimationScheduler schedules animation completion on a real timer.
func TimerAnimationScheduler(d time.Duration, done func()) (cancel func()) {
	timer := time.AfterFunc(d, done)
	return func() { timer.Stop() }
}
