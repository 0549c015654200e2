//go:build integration

package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

func setupTestDB(t *testing.T) *PostgresStore {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	s, err := NewPostgresStore(ctx, dbURL)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}

	t.Cleanup(func() {
		// Truncate in dependency order
		_, _ = s.pool.Exec(ctx, "TRUNCATE run_chunks CASCADE")
		_, _ = s.pool.Exec(ctx, "TRUNCATE analysis_runs CASCADE")
		s.Close()
	})

	return s
}

func TestCreateAndGetRun(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	run := &Run{
		Name:      "ttHbb 2018 integration",
		Submitter: "test-user",
		Config:    "datasets:\n  inline: []\n",
		Status:    StatusQueued,
	}

	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	if run.ID == uuid.Nil {
		t.Fatal("expected non-nil run ID after create")
	}
	if run.CreatedAt.IsZero() {
		t.Fatal("expected CreatedAt to be set")
	}

	got, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected run, got nil")
	}
	if got.Name != "ttHbb 2018 integration" {
		t.Errorf("expected run name, got '%s'", got.Name)
	}
	if got.Status != StatusQueued {
		t.Errorf("expected queued status, got '%s'", got.Status)
	}
}

func TestGetRunNotFound(t *testing.T) {
	s := setupTestDB(t)
	got, err := s.GetRun(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got != nil {
		t.Fatal("expected nil for unknown run")
	}
}

func TestRunLifecycle(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	run := &Run{Name: "lifecycle", Status: StatusQueued, Config: "{}"}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	queued, err := s.GetQueuedRuns(ctx)
	if err != nil {
		t.Fatalf("GetQueuedRuns failed: %v", err)
	}
	if len(queued) != 1 {
		t.Fatalf("expected 1 queued run, got %d", len(queued))
	}

	now := time.Now()
	run.Status = StatusRunning
	run.StartedAt = &now
	if err := s.UpdateRun(ctx, run); err != nil {
		t.Fatalf("UpdateRun failed: %v", err)
	}

	queued, err = s.GetQueuedRuns(ctx)
	if err != nil {
		t.Fatalf("GetQueuedRuns failed: %v", err)
	}
	if len(queued) != 0 {
		t.Fatalf("expected no queued runs after start, got %d", len(queued))
	}

	done := time.Now()
	run.Status = StatusCompleted
	run.CompletedAt = &done
	run.Processed = 400000
	run.Selected = 51234
	if err := s.UpdateRun(ctx, run); err != nil {
		t.Fatalf("UpdateRun failed: %v", err)
	}

	got, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", got.Status)
	}
	if got.Processed != 400000 || got.Selected != 51234 {
		t.Errorf("progress not persisted: %d/%d", got.Processed, got.Selected)
	}
}

func TestRunChunksRoundTrip(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	run := &Run{Name: "chunked", Status: StatusRunning, Config: "{}"}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	chunks := []*RunChunk{
		{RunID: run.ID, Dataset: "ttHTobb_2018", Sample: "ttHTobb", Index: 0, Start: 0, Stop: 100000, Status: ChunkPending},
		{RunID: run.ID, Dataset: "ttHTobb_2018", Sample: "ttHTobb", Index: 1, Start: 100000, Stop: 200000, Status: ChunkPending},
	}
	if err := s.CreateRunChunks(ctx, chunks); err != nil {
		t.Fatalf("CreateRunChunks failed: %v", err)
	}
	for _, c := range chunks {
		if c.ID == uuid.Nil {
			t.Fatal("expected chunk IDs after create")
		}
	}

	chunks[0].Status = ChunkCompleted
	chunks[0].Attempts = 1
	chunks[0].Processed = 100000
	chunks[0].Selected = 12345
	if err := s.UpdateRunChunk(ctx, chunks[0]); err != nil {
		t.Fatalf("UpdateRunChunk failed: %v", err)
	}

	got, err := s.GetRunChunks(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRunChunks failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(got))
	}
	if got[0].Status != ChunkCompleted || got[0].Selected != 12345 {
		t.Errorf("chunk 0 not updated: %+v", got[0])
	}
	if got[1].Status != ChunkPending {
		t.Errorf("chunk 1 should still be pending, got %s", got[1].Status)
	}
}

func TestListRunsFilter(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	for _, spec := range []struct {
		name   string
		status RunStatus
	}{
		{"a", StatusQueued}, {"b", StatusCompleted}, {"c", StatusQueued},
	} {
		run := &Run{Name: spec.name, Status: spec.status, Config: "{}"}
		if err := s.CreateRun(ctx, run); err != nil {
			t.Fatalf("CreateRun failed: %v", err)
		}
	}

	status := StatusQueued
	runs, err := s.ListRuns(ctx, RunFilter{Status: &status})
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 queued runs, got %d", len(runs))
	}

	stats, err := s.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.TotalQueued != 2 || stats.TotalCompleted != 1 {
		t.Errorf("stats wrong: %+v", stats)
	}
}
