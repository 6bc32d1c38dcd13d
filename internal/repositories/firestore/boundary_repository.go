package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/climate-atlas/boundary-api/internal/domain"
	pfirestore "github.com/climate-atlas/boundary-api/internal/platform/firestore"
)

const boundariesCollection = "boundaries"

// BoundaryRepository persists boundary dataset metadata keyed by country code.
type BoundaryRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[domain.BoundaryRecordMeta]
}

// NewBoundaryRepository constructs a Firestore-backed boundary metadata repository.
func NewBoundaryRepository(provider *pfirestore.Provider) (*BoundaryRepository, error) {
	if provider == nil {
		return nil, errors.New("boundary repository: firestore provider is required")
	}

	encoder := func(ctx context.Context, value domain.BoundaryRecordMeta) (any, error) {
		return encodeBoundaryDocument(value), nil
	}
	decoder := func(ctx context.Context, snap *firestore.DocumentSnapshot) (domain.BoundaryRecordMeta, error) {
		var doc boundaryDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.BoundaryRecordMeta{}, err
		}
		doc.Country = snap.Ref.ID
		if doc.UpdatedAt.IsZero() {
			doc.UpdatedAt = snap.UpdateTime
		}
		return decodeBoundaryDocument(doc), nil
	}

	base := pfirestore.NewBaseRepository[domain.BoundaryRecordMeta](provider, boundariesCollection, encoder, decoder)
	return &BoundaryRepository{provider: provider, base: base}, nil
}

// FindByCountry loads the metadata record for a country code.
func (r *BoundaryRepository) FindByCountry(ctx context.Context, country string) (domain.BoundaryRecordMeta, error) {
	if r == nil || r.base == nil {
		return domain.BoundaryRecordMeta{}, errors.New("boundary repository not initialised")
	}
	country = domain.NormalizeCountry(country)
	if country == "" {
		return domain.BoundaryRecordMeta{}, errors.New("boundary repository: country is required")
	}
	doc, err := r.base.Get(ctx, country)
	if err != nil {
		return domain.BoundaryRecordMeta{}, err
	}
	return doc.Data, nil
}

// List returns all boundary metadata records ordered by country code.
func (r *BoundaryRepository) List(ctx context.Context) ([]domain.BoundaryRecordMeta, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("boundary repository not initialised")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.OrderBy(firestore.DocumentID, firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.BoundaryRecordMeta, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.Data)
	}
	return out, nil
}

// Upsert replaces the metadata record under its country code. The read and
// write run in one transaction so the revision advances exactly once per
// replacement and the original creation time survives, even when two uploads
// for the same country land together.
func (r *BoundaryRepository) Upsert(ctx context.Context, meta domain.BoundaryRecordMeta) error {
	if r == nil || r.base == nil || r.provider == nil {
		return errors.New("boundary repository not initialised")
	}
	meta.Country = domain.NormalizeCountry(meta.Country)
	if meta.Country == "" {
		return errors.New("boundary repository: country is required")
	}

	ref, err := r.base.DocumentRef(ctx, meta.Country)
	if err != nil {
		return err
	}

	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc := encodeBoundaryDocument(meta)
		if doc.CreatedAt.IsZero() {
			doc.CreatedAt = doc.UpdatedAt
		}
		doc.Revision = 1

		snap, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
		case err != nil:
			return err
		default:
			var prev boundaryDocument
			if err := snap.DataTo(&prev); err != nil {
				return err
			}
			if !prev.CreatedAt.IsZero() {
				doc.CreatedAt = prev.CreatedAt
			}
			doc.Revision = prev.Revision + 1
		}
		return tx.Set(ref, doc)
	})
}

type boundaryDocument struct {
	Country        string    `firestore:"-"`
	HoverAttribute string    `firestore:"hoverAttribute"`
	DataKey        string    `firestore:"dataKey"`
	GeoJSON        []byte    `firestore:"geojson,omitempty"`
	FeatureCount   int       `firestore:"featureCount"`
	Bounds         []float64 `firestore:"bounds,omitempty"`
	Revision       int64     `firestore:"revision"`
	CreatedAt      time.Time `firestore:"createdAt"`
	UpdatedAt      time.Time `firestore:"updatedAt"`
}

func encodeBoundaryDocument(meta domain.BoundaryRecordMeta) boundaryDocument {
	return boundaryDocument{
		HoverAttribute: strings.TrimSpace(meta.HoverAttribute),
		DataKey:        strings.TrimSpace(meta.DataKey),
		GeoJSON:        meta.GeoJSON,
		FeatureCount:   meta.FeatureCount,
		Bounds:         append([]float64(nil), meta.Bounds...),
		Revision:       meta.Revision,
		CreatedAt:      meta.CreatedAt.UTC(),
		UpdatedAt:      meta.UpdatedAt.UTC(),
	}
}

func decodeBoundaryDocument(doc boundaryDocument) domain.BoundaryRecordMeta {
	return domain.BoundaryRecordMeta{
		Country:        doc.Country,
		HoverAttribute: doc.HoverAttribute,
		DataKey:        doc.DataKey,
		GeoJSON:        doc.GeoJSON,
		FeatureCount:   doc.FeatureCount,
		Bounds:         append([]float64(nil), doc.Bounds...),
		Revision:       doc.Revision,
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
	}
}
