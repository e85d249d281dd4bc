package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestPostgresStoreIntegration runs a full round trip against a real Postgres container.
// It requires Docker to be running.
func TestPostgresStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	// We wrap this in a function to recover from panics inside testcontainers (e.g. socket not found)
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("testcontainers panicked: %v", r)
			}
		}()
		_, err = testcontainers.NewDockerClientWithOpts(ctx)
		return
	}()
	if err != nil {
		t.Fatalf("Docker not available, cannot run integration test: %v", err)
	}

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("lookout_test"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("Failed to terminate container: %v", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	s, err := NewPostgres(ctx, connStr)
	if err != nil {
		t.Fatalf("Failed to connect to store: %v", err)
	}
	defer s.Close(ctx)

	// Nothing persisted yet
	if _, _, err := s.Load(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load on empty table error = %v, want ErrNotFound", err)
	}

	m, enc := trainedPair(t)
	if err := s.Save(ctx, m, enc); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Saving again upserts instead of failing on the primary key
	m.Generation, enc.Generation = 99, 99
	if err := s.Save(ctx, m, enc); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}

	// A second connection must see identical predictions
	other, err := NewPostgres(ctx, connStr)
	if err != nil {
		t.Fatal(err)
	}
	defer other.Close(ctx)

	loadedM, loadedE, err := other.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loadedM.Generation != 99 || loadedE.Generation != 99 {
		t.Errorf("Expected generation 99, got %d / %d", loadedM.Generation, loadedE.Generation)
	}
	for _, p := range [][]float64{{1, 0}, {0, 1}, {0.3, 0.7}} {
		wantC, wantP, _ := m.Predict(p)
		gotC, gotP, err := loadedM.Predict(p)
		if err != nil {
			t.Fatal(err)
		}
		if gotC != wantC || gotP != wantP {
			t.Errorf("Predict(%v) = (%d, %v), want (%d, %v)", p, gotC, gotP, wantC, wantP)
		}
	}

	if err := s.Delete(ctx); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, _, err := s.Load(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load after Delete error = %v, want ErrNotFound", err)
	}

	// Reset drops the table; reconnecting recreates it empty
	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	fresh, err := NewPostgres(ctx, connStr)
	if err != nil {
		t.Fatalf("reconnect after Reset failed: %v", err)
	}
	defer fresh.Close(ctx)
	if _, _, err := fresh.Load(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load after Reset error = %v, want ErrNotFound", err)
	}
}
