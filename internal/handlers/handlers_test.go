package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	domain "github.com/climate-atlas/boundary-api/internal/domain"
	"github.com/climate-atlas/boundary-api/internal/geo"
	"github.com/climate-atlas/boundary-api/internal/platform/chunkstore"
	"github.com/climate-atlas/boundary-api/internal/repositories"
	"github.com/climate-atlas/boundary-api/internal/services"
)

type memoryBoundaryRepository struct {
	mu      sync.Mutex
	records map[string]domain.BoundaryRecordMeta
}

type repoNotFoundError struct{}

func (repoNotFoundError) Error() string       { return "not found" }
func (repoNotFoundError) IsNotFound() bool    { return true }
func (repoNotFoundError) IsConflict() bool    { return false }
func (repoNotFoundError) IsUnavailable() bool { return false }

var _ repositories.RepositoryError = repoNotFoundError{}

func (r *memoryBoundaryRepository) FindByCountry(_ context.Context, country string) (domain.BoundaryRecordMeta, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	meta, ok := r.records[country]
	if !ok {
		return domain.BoundaryRecordMeta{}, repoNotFoundError{}
	}
	return meta, nil
}

func (r *memoryBoundaryRepository) List(_ context.Context) ([]domain.BoundaryRecordMeta, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.BoundaryRecordMeta, 0, len(r.records))
	for _, meta := range r.records {
		out = append(out, meta)
	}
	return out, nil
}

func (r *memoryBoundaryRepository) Upsert(_ context.Context, meta domain.BoundaryRecordMeta) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	meta.Revision = 1
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = meta.UpdatedAt
	}
	if prev, ok := r.records[meta.Country]; ok {
		meta.Revision = prev.Revision + 1
		if !prev.CreatedAt.IsZero() {
			meta.CreatedAt = prev.CreatedAt
		}
	}
	r.records[meta.Country] = meta
	return nil
}

func sampleCountryGeoJSON(t *testing.T) []byte {
	t.Helper()
	fc := geojson.NewFeatureCollection()
	for _, p := range []struct {
		name                   string
		minX, minY, maxX, maxY float64
	}{
		{"North", 0, 1, 1, 2},
		{"South", 0, 0, 1, 1},
	} {
		feature := geojson.NewFeature(orb.Polygon{{
			{p.minX, p.minY}, {p.maxX, p.minY}, {p.maxX, p.maxY}, {p.minX, p.maxY}, {p.minX, p.minY},
		}})
		feature.Properties = geojson.Properties{"shapeName": p.name}
		fc.Append(feature)
	}
	payload, err := json.Marshal(fc)
	if err != nil {
		t.Fatalf("marshal sample geojson: %v", err)
	}
	return payload
}

type apiFixture struct {
	router     chi.Router
	repo       *memoryBoundaryRepository
	store      *chunkstore.MemoryStore
	boundaries services.BoundaryService
	sessions   services.SessionService
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	repo := &memoryBoundaryRepository{records: map[string]domain.BoundaryRecordMeta{
		"kh": {
			Country:        "kh",
			HoverAttribute: "shapeName",
			GeoJSON:        sampleCountryGeoJSON(t),
			FeatureCount:   2,
		},
	}}
	store := chunkstore.NewMemoryStore()

	loader, err := services.NewBoundaryPayloadLoader(services.BoundaryPayloadLoaderDeps{Store: store})
	if err != nil {
		t.Fatalf("NewBoundaryPayloadLoader: %v", err)
	}
	cache, err := services.NewBoundaryCache(services.BoundaryCacheDeps{
		Masks: geo.NewMaskBuilder(geo.MaskBuilderDeps{Union: geo.NewPolygonUnion()}),
	})
	if err != nil {
		t.Fatalf("NewBoundaryCache: %v", err)
	}
	boundaries, err := services.NewBoundaryService(services.BoundaryServiceDeps{
		Repository: repo,
		Loader:     loader,
		Cache:      cache,
	})
	if err != nil {
		t.Fatalf("NewBoundaryService: %v", err)
	}
	drill, err := services.NewDrillController(services.DrillControllerDeps{
		Masks:   geo.NewMaskBuilder(geo.MaskBuilderDeps{Union: geo.NewPolygonUnion()}),
		MinZoom: 1,
		MaxZoom: 12,
	})
	if err != nil {
		t.Fatalf("NewDrillController: %v", err)
	}
	sessions, err := services.NewSessionService(services.SessionServiceDeps{
		Boundaries:        boundaries,
		Drill:             drill,
		AnimationDuration: time.Millisecond,
		MinZoom:           1,
		MaxZoom:           18,
		FitPadding:        0.1,
		TTL:               time.Hour,
	})
	if err != nil {
		t.Fatalf("NewSessionService: %v", err)
	}

	router := NewRouter(
		WithBoundaryRoutes(NewBoundaryHandlers(boundaries).Routes),
		WithSessionRoutes(NewSessionHandlers(sessions, 0, 0).Routes),
	)
	return &apiFixture{
		router:     router,
		repo:       repo,
		store:      store,
		boundaries: boundaries,
		sessions:   sessions,
	}
}

func (fx *apiFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}
