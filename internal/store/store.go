package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type RunStatus string

const (
	StatusQueued    RunStatus = "queued"
	StatusResolving RunStatus = "resolving"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
	StatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether a run in this status will never change again.
func (s RunStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

type Run struct {
	ID        uuid.UUID `json:"run_id"`
	Name      string    `json:"name"`
	Submitter string    `json:"submitter,omitempty"`

	// Config is the analysis configuration exactly as submitted (YAML).
	Config string `json:"config,omitempty"`

	// State
	Status RunStatus `json:"status"`
	Error  string    `json:"error,omitempty"`

	// Progress
	Processed int64  `json:"processed"`
	Selected  int64  `json:"selected"`
	OutputDir string `json:"output_dir,omitempty"`

	// Timestamps
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type ChunkStatus string

const (
	ChunkPending   ChunkStatus = "pending"
	ChunkRunning   ChunkStatus = "running"
	ChunkCompleted ChunkStatus = "completed"
	ChunkFailed    ChunkStatus = "failed"
	ChunkSkipped   ChunkStatus = "skipped"
)

// RunChunk is one unit of work of a run: a half-open event range of one
// dataset.
type RunChunk struct {
	ID      uuid.UUID `json:"id"`
	RunID   uuid.UUID `json:"run_id"`
	Dataset string    `json:"dataset"`
	Sample  string    `json:"sample"`
	Index   int       `json:"index"`
	Start   int64     `json:"start"`
	Stop    int64     `json:"stop"`

	Status   ChunkStatus `json:"status"`
	Attempts int         `json:"attempts"`
	Error    string      `json:"error,omitempty"`

	Processed int64 `json:"processed"`
	Selected  int64 `json:"selected"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type RunFilter struct {
	Status    *RunStatus
	Submitter string
	Limit     int
	Offset    int
}

type RunStats struct {
	TotalQueued    int     `json:"total_queued"`
	TotalRunning   int     `json:"total_running"`
	TotalCompleted int     `json:"total_completed"`
	TotalFailed    int     `json:"total_failed"`
	AvgRunMs       float64 `json:"avg_run_ms"`
}

type Store interface {
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id uuid.UUID) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)
	UpdateRun(ctx context.Context, run *Run) error

	// GetQueuedRuns returns queued runs oldest first, for the executor poll.
	GetQueuedRuns(ctx context.Context) ([]*Run, error)

	CreateRunChunks(ctx context.Context, chunks []*RunChunk) error
	UpdateRunChunk(ctx context.Context, chunk *RunChunk) error
	GetRunChunks(ctx context.Context, runID uuid.UUID) ([]*RunChunk, error)

	GetStats(ctx context.Context) (*RunStats, error)

	Close() error
}
