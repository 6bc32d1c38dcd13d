//go:build integration

package firestore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	domain "github.com/climate-atlas/boundary-api/internal/domain"
	pconfig "github.com/climate-atlas/boundary-api/internal/platform/config"
	pfirestore "github.com/climate-atlas/boundary-api/internal/platform/firestore"
)

const firestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

func TestBoundaryRepositoryIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}

	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}

	ensureDockerDaemon(t)

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := startFirestoreEmulator(t, port)
	t.Cleanup(func() { stopContainer(containerID) })

	waitForEndpoint(t, endpoint, 30*time.Second)

	cfg := pconfig.FirestoreConfig{
		ProjectID:    "boundary-test",
		EmulatorHost: endpoint,
	}

	provider := pfirestore.NewProvider(cfg)
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})

	repo, err := NewBoundaryRepository(provider)
	if err != nil {
		t.Fatalf("new boundary repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	first := domain.BoundaryRecordMeta{
		Country:        "KH",
		HoverAttribute: "shapeName",
		DataKey:        "boundaries/kh/adm1",
		FeatureCount:   25,
		UpdatedAt:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := repo.Upsert(ctx, first); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	meta, err := repo.FindByCountry(ctx, "kh")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if meta.Revision != 1 {
		t.Fatalf("expected revision 1 on first write, got %d", meta.Revision)
	}
	if meta.CreatedAt.IsZero() {
		t.Fatal("expected creation time on first write")
	}
	created := meta.CreatedAt

	second := first
	second.DataKey = "boundaries/kh/adm2"
	second.UpdatedAt = first.UpdatedAt.Add(time.Hour)
	if err := repo.Upsert(ctx, second); err != nil {
		t.Fatalf("upsert replacement: %v", err)
	}

	meta, err = repo.FindByCountry(ctx, "kh")
	if err != nil {
		t.Fatalf("find after replacement: %v", err)
	}
	if meta.Revision != 2 {
		t.Fatalf("expected revision 2 after replacement, got %d", meta.Revision)
	}
	if !meta.CreatedAt.Equal(created) {
		t.Fatalf("replacement must preserve creation time, got %v want %v", meta.CreatedAt, created)
	}
	if meta.DataKey != "boundaries/kh/adm2" {
		t.Fatalf("unexpected data key %q", meta.DataKey)
	}

	// Concurrent replacements must each claim a distinct revision.
	const writers = 8
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func(i int) {
			defer wg.Done()
			update := first
			update.DataKey = fmt.Sprintf("boundaries/kh/v%d", i)
			update.UpdatedAt = first.UpdatedAt.Add(time.Duration(i) * time.Minute)
			if err := repo.Upsert(ctx, update); err != nil {
				t.Errorf("concurrent upsert %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	meta, err = repo.FindByCountry(ctx, "kh")
	if err != nil {
		t.Fatalf("find after concurrent upserts: %v", err)
	}
	if meta.Revision != 2+writers {
		t.Fatalf("expected revision %d after %d concurrent upserts, got %d", 2+writers, writers, meta.Revision)
	}

	list, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Country != "kh" {
		t.Fatalf("unexpected list %+v", list)
	}

	if _, err := repo.FindByCountry(ctx, "zz"); err == nil {
		t.Fatal("expected not found error")
	} else {
		type repoClassifier interface{ IsNotFound() bool }
		var cls repoClassifier
		if !errors.As(err, &cls) || !cls.IsNotFound() {
			t.Fatalf("expected not found classification, got %v", err)
		}
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	addr, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to allocate port: %v", err)
	}
	defer addr.Close()
	return addr.Addr().(*net.TCPAddr).Port
}

func startFirestoreEmulator(t *testing.T, port int) string {
	t.Helper()
	args := []string{
		"run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		firestoreEmulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080",
		"--quiet",
	}

	cmd := exec.Command("docker", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("failed to start firestore emulator: %v - %s", err, string(out))
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		t.Fatalf("docker returned empty container id")
	}
	// Shorten the ID to match docker CLI behaviour for stop/remove commands.
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}

func stopContainer(id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "docker", "stop", id)
	_ = cmd.Run()
}

func waitForEndpoint(t *testing.T, endpoint string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		lastErr = err
		time.Sleep(250 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = errors.New("timeout waiting for endpoint")
	}
	t.Fatalf("emulator did not become ready: %v", lastErr)
}

func ensureDockerDaemon(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "docker", "info")
	if err := cmd.Run(); err != nil {
		t.Skip("docker daemon unavailable: " + err.Error())
	}
}
