package store

import (
	"testing"
)

func TestRunStatusValues(t *testing.T) {
	statuses := []RunStatus{
		StatusQueued, StatusResolving, StatusRunning,
		StatusCompleted, StatusFailed, StatusCancelled,
	}
	expected := []string{"queued", "resolving", "running", "completed", "failed", "cancelled"}
	for i, s := range statuses {
		if string(s) != expected[i] {
			t.Errorf("expected %s, got %s", expected[i], s)
		}
	}
}

func TestRunStatusTerminal(t *testing.T) {
	terminal := []RunStatus{StatusCompleted, StatusFailed, StatusCancelled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	live := []RunStatus{StatusQueued, StatusResolving, StatusRunning}
	for _, s := range live {
		if s.Terminal() {
			t.Errorf("expected %s to be live", s)
		}
	}
}

func TestRunFilterDefaults(t *testing.T) {
	f := RunFilter{}
	if f.Limit != 0 {
		t.Errorf("expected 0 default limit, got %d", f.Limit)
	}
	if f.Status != nil {
		t.Error("expected nil status filter")
	}
	if f.Submitter != "" {
		t.Error("expected empty submitter filter")
	}
}

func TestChunkStatusValues(t *testing.T) {
	statuses := []ChunkStatus{ChunkPending, ChunkRunning, ChunkCompleted, ChunkFailed, ChunkSkipped}
	expected := []string{"pending", "running", "completed", "failed", "skipped"}
	for i, s := range statuses {
		if string(s) != expected[i] {
			t.Errorf("expected %s, got %s", expected[i], s)
		}
	}
}
