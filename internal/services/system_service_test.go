package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/climate-atlas/boundary-api/internal/domain"
)

type stubHealthRepository struct {
	report domain.SystemHealthReport
	err    error
	calls  int
}

func (s *stubHealthRepository) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	s.calls++
	return s.report, s.err
}

func TestSystemServiceHealthReport(t *testing.T) {
	started := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	now := started.Add(90 * time.Minute)
	repo := &stubHealthRepository{report: domain.SystemHealthReport{
		Status: domain.HealthStatusOK,
		Checks: map[string]domain.SystemHealthCheck{
			"firestore":   {Status: domain.HealthStatusOK, Latency: 9 * time.Millisecond},
			"chunk_store": {Status: domain.HealthStatusOK},
		},
	}}

	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: repo,
		Clock:            func() time.Time { return now },
		Build: BuildInfo{
			Version:     "1.4.0",
			CommitSHA:   "abc1234",
			Environment: "staging",
			StartedAt:   started,
		},
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("expected ok status, got %s", report.Status)
	}
	if report.Version != "1.4.0" || report.CommitSHA != "abc1234" || report.Environment != "staging" {
		t.Fatalf("build info not applied: %+v", report)
	}
	if !report.GeneratedAt.Equal(now) {
		t.Fatalf("unexpected generated time %s", report.GeneratedAt)
	}
	if report.Uptime != 90*time.Minute {
		t.Fatalf("unexpected uptime %s", report.Uptime)
	}
	if repo.calls != 1 {
		t.Fatalf("expected a single collect, got %d", repo.calls)
	}
}

func TestSystemServiceDerivesWorstStatus(t *testing.T) {
	cases := []struct {
		name   string
		checks map[string]domain.SystemHealthCheck
		want   domain.HealthStatus
	}{
		{
			name: "all ok",
			checks: map[string]domain.SystemHealthCheck{
				"firestore": {Status: domain.HealthStatusOK},
			},
			want: domain.HealthStatusOK,
		},
		{
			name: "one degraded",
			checks: map[string]domain.SystemHealthCheck{
				"firestore":   {Status: domain.HealthStatusOK},
				"chunk_store": {Status: domain.HealthStatusDegraded, Error: "slow"},
			},
			want: domain.HealthStatusDegraded,
		},
		{
			name: "error wins over degraded",
			checks: map[string]domain.SystemHealthCheck{
				"firestore":   {Status: domain.HealthStatusDegraded},
				"chunk_store": {Status: domain.HealthStatusError, Error: "unreachable"},
			},
			want: domain.HealthStatusError,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, err := NewSystemService(SystemServiceDeps{
				HealthRepository: &stubHealthRepository{report: domain.SystemHealthReport{Checks: tc.checks}},
			})
			if err != nil {
				t.Fatalf("NewSystemService: %v", err)
			}
			report, err := svc.HealthReport(context.Background())
			if err != nil {
				t.Fatalf("HealthReport: %v", err)
			}
			if report.Status != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, report.Status)
			}
		})
	}
}

func TestSystemServiceCollectFailure(t *testing.T) {
	boom := errors.New("collect failed")
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: &stubHealthRepository{err: boom},
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	if _, err := svc.HealthReport(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected collect error, got %v", err)
	}
}

func TestSystemServiceRequiresRepository(t *testing.T) {
	if _, err := NewSystemService(SystemServiceDeps{}); err == nil {
		t.Fatal("expected an error without a health repository")
	}
}
