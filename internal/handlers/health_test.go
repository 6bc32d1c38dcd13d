package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/climate-atlas/boundary-api/internal/domain"
)

type stubSystemService struct {
	report domain.SystemHealthReport
	err    error
}

func (s *stubSystemService) HealthReport(context.Context) (domain.SystemHealthReport, error) {
	return s.report, s.err
}

func TestReadyzReportsDependencyHealth(t *testing.T) {
	h := NewHealthHandlers(&stubSystemService{report: domain.SystemHealthReport{
		Status: domain.HealthStatusOK,
		Checks: map[string]domain.SystemHealthCheck{
			"firestore":   {Status: domain.HealthStatusOK, Detail: "ok", Latency: 12 * time.Millisecond},
			"chunk_store": {Status: domain.HealthStatusOK, Detail: "ok"},
		},
		GeneratedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Version:     "1.4.0",
	}})

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Status  string `json:"status"`
		Version string `json:"version"`
		Checks  map[string]struct {
			Status string `json:"status"`
		} `json:"checks"`
	}
	decodeJSON(t, rec, &resp)
	if resp.Status != "ok" || resp.Version != "1.4.0" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Checks["firestore"].Status != "ok" {
		t.Fatalf("unexpected checks %+v", resp.Checks)
	}
}

func TestReadyzDegradedDependency(t *testing.T) {
	h := NewHealthHandlers(&stubSystemService{report: domain.SystemHealthReport{
		Status: domain.HealthStatusDegraded,
		Checks: map[string]domain.SystemHealthCheck{
			"redis": {Status: domain.HealthStatusDegraded, Error: "connection refused"},
		},
	}})

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestReadyzCollectFailure(t *testing.T) {
	h := NewHealthHandlers(&stubSystemService{err: errors.New("boom")})

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var resp struct {
		Error string `json:"error"`
	}
	decodeJSON(t, rec, &resp)
	if resp.Error != "health_unavailable" {
		t.Fatalf("unexpected error code %q", resp.Error)
	}
}

func TestReadyzWithoutSystemService(t *testing.T) {
	h := NewHealthHandlers(nil)

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
