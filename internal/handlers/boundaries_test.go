package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/paulmach/orb/geojson"
)

func TestBoundaryGet(t *testing.T) {
	fx := newAPIFixture(t)

	rec := fx.do(t, http.MethodGet, "/api/v1/boundaries/KH", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Country        string                     `json:"country"`
		HoverAttribute string                     `json:"hover_attribute"`
		FeatureCount   int                        `json:"feature_count"`
		Features       *geojson.FeatureCollection `json:"features"`
	}
	decodeJSON(t, rec, &resp)
	if resp.Country != "kh" || resp.HoverAttribute != "shapeName" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.FeatureCount != 2 || len(resp.Features.Features) != 2 {
		t.Fatalf("expected 2 features, got %+v", resp)
	}
}

func TestBoundaryGetUnknownCountry(t *testing.T) {
	fx := newAPIFixture(t)

	rec := fx.do(t, http.MethodGet, "/api/v1/boundaries/zz", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var resp struct {
		Error string `json:"error"`
	}
	decodeJSON(t, rec, &resp)
	if resp.Error != "not_found" {
		t.Fatalf("unexpected error code %q", resp.Error)
	}
}

func TestBoundaryLayers(t *testing.T) {
	fx := newAPIFixture(t)

	rec := fx.do(t, http.MethodGet, "/api/v1/boundaries/kh/layers", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Country  string             `json:"country"`
		Mask     *geojson.Feature   `json:"mask"`
		Boundary []*geojson.Feature `json:"boundary"`
	}
	decodeJSON(t, rec, &resp)
	if resp.Mask == nil {
		t.Fatal("expected a mask layer")
	}
	if resp.Mask.Properties["kind"] != "mask" {
		t.Fatalf("unexpected mask properties %+v", resp.Mask.Properties)
	}
	if len(resp.Boundary) != 2 {
		t.Fatalf("expected 2 boundary features, got %d", len(resp.Boundary))
	}
}

func TestBoundaryList(t *testing.T) {
	fx := newAPIFixture(t)

	rec := fx.do(t, http.MethodGet, "/api/v1/boundaries/", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Boundaries []struct {
			Country string `json:"country"`
			Inline  bool   `json:"inline"`
		} `json:"boundaries"`
	}
	decodeJSON(t, rec, &resp)
	if len(resp.Boundaries) != 1 || resp.Boundaries[0].Country != "kh" || !resp.Boundaries[0].Inline {
		t.Fatalf("unexpected list %+v", resp.Boundaries)
	}
}

func TestBoundaryUpsert(t *testing.T) {
	fx := newAPIFixture(t)

	rec := fx.do(t, http.MethodPut, "/api/v1/boundaries/vn", `{
		"hover_attribute": "shapeName",
		"data_key": "boundaries/vn/adm1",
		"feature_count": 63
	}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}

	meta, err := fx.repo.FindByCountry(context.Background(), "vn")
	if err != nil {
		t.Fatalf("FindByCountry: %v", err)
	}
	if meta.DataKey != "boundaries/vn/adm1" || meta.FeatureCount != 63 {
		t.Fatalf("unexpected stored meta %+v", meta)
	}
	if meta.Revision != 1 {
		t.Fatalf("expected revision 1 on first upsert, got %d", meta.Revision)
	}

	rec = fx.do(t, http.MethodPut, "/api/v1/boundaries/vn", `{
		"hover_attribute": "shapeName",
		"data_key": "boundaries/vn/adm2",
		"feature_count": 64
	}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 on replacement, got %d: %s", rec.Code, rec.Body.String())
	}
	meta, err = fx.repo.FindByCountry(context.Background(), "vn")
	if err != nil {
		t.Fatalf("FindByCountry after replacement: %v", err)
	}
	if meta.Revision != 2 || meta.DataKey != "boundaries/vn/adm2" {
		t.Fatalf("expected revision 2 with replaced data key, got %+v", meta)
	}
}

func TestBoundaryUpsertRejectsAmbiguousPayload(t *testing.T) {
	fx := newAPIFixture(t)

	rec := fx.do(t, http.MethodPut, "/api/v1/boundaries/vn", `{
		"data_key": "boundaries/vn/adm1",
		"geojson": {"type":"FeatureCollection","features":[]}
	}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestBoundaryInvalidate(t *testing.T) {
	fx := newAPIFixture(t)

	// Warm the mask cache first so the invalidation has something to drop.
	if rec := fx.do(t, http.MethodGet, "/api/v1/boundaries/kh/layers", ""); rec.Code != http.StatusOK {
		t.Fatalf("warm layers: %d", rec.Code)
	}

	rec := fx.do(t, http.MethodPost, "/api/v1/boundaries/kh:invalidate", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Country string `json:"country"`
	}
	decodeJSON(t, rec, &resp)
	if resp.Country != "kh" {
		t.Fatalf("unexpected response %+v", resp)
	}
}
