package store

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/ferrost/warden/internal/crash"
)

// startPostgresContainer starts a PostgreSQL container for tests. It skips
// the test if Docker is unavailable.
func startPostgresContainer(t *testing.T) (cfg Config, terminate func()) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("warden"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
	)
	if err != nil {
		cancel()
		t.Skipf("Failed to start PostgreSQL container: %v", err)
		return Config{}, nil
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		cancel()
		t.Skipf("Failed to get host info: %v", err)
		return Config{}, nil
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		_ = container.Terminate(ctx)
		cancel()
		t.Skipf("Failed to get mapped port: %v", err)
		return Config{}, nil
	}

	cfg = Config{
		Type:     "postgres",
		Host:     host,
		Port:     port.Int(),
		Database: "warden",
		Username: "test",
		Password: "test",
		SSLMode:  "disable",
	}
	terminate = func() {
		_ = container.Terminate(ctx)
		cancel()
	}
	return cfg, terminate
}

func newPostgresStore(t *testing.T, cfg Config) *PostgreSQLStore {
	t.Helper()
	// Retry: the container can report ready before accepting connections.
	deadline := time.Now().Add(45 * time.Second)
	for {
		s, err := NewPostgreSQLStore(cfg)
		if err == nil {
			return s
		}
		if time.Now().After(deadline) {
			t.Fatalf("postgres not ready in time: %v", err)
		}
		time.Sleep(500 * time.Millisecond)
	}
}

func TestPostgresRecordListClear(t *testing.T) {
	cfg, terminate := startPostgresContainer(t)
	defer terminate()

	s := newPostgresStore(t, cfg)
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	e := &crash.Event{Server: "alpha", Kind: crash.CrashReport, Detail: "hs_err_pid123.log", OccurredAt: time.Now()}
	if err := s.RecordCrash(ctx, e); err != nil {
		t.Fatalf("RecordCrash: %v", err)
	}
	if e.ID == 0 {
		t.Fatalf("expected assigned id")
	}

	got, err := s.ListCrashes(ctx, "alpha", 10)
	if err != nil {
		t.Fatalf("ListCrashes: %v", err)
	}
	if len(got) != 1 || got[0].Kind != crash.CrashReport || got[0].Detail != "hs_err_pid123.log" {
		t.Fatalf("unexpected events: %+v", got)
	}

	if err := s.MarkRestartOutcome(ctx, e.ID, time.Now(), true); err != nil {
		t.Fatalf("MarkRestartOutcome: %v", err)
	}
	got, err = s.ListCrashes(ctx, "alpha", 10)
	if err != nil {
		t.Fatalf("ListCrashes after outcome: %v", err)
	}
	if !got[0].AutoRestartSucceeded || got[0].RestartAttemptAt.IsZero() {
		t.Fatalf("restart outcome not persisted: %+v", got[0])
	}

	if err := s.ClearCrashes(ctx, "alpha"); err != nil {
		t.Fatalf("ClearCrashes: %v", err)
	}
	got, err = s.ListCrashes(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListCrashes after clear: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty store, got %+v", got)
	}
}
