package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no run matches an ID or prefix.
var ErrNotFound = errors.New("run not found")

// RunStatus represents the lifecycle state of a recorded run.
type RunStatus string

const (
	StatusRunning RunStatus = "running"
	StatusExited  RunStatus = "exited"
	StatusFailed  RunStatus = "failed"
)

// Run is the history record of one execution. Source code is never
// stored; only what the process printed and how it ended.
type Run struct {
	ID         string    `json:"id" yaml:"id"`
	Generation uint64    `json:"generation" yaml:"generation"`
	Backend    string    `json:"backend" yaml:"backend"`
	Status     RunStatus `json:"status" yaml:"status"`
	ExitCode   int       `json:"exit_code" yaml:"exit_code"`
	Error      string    `json:"error,omitempty" yaml:"error,omitempty"`
	Output     string    `json:"output" yaml:"output"`
	CreatedAt  time.Time `json:"created_at" yaml:"created_at"`
	FinishedAt time.Time `json:"finished_at,omitzero" yaml:"finished_at,omitempty"`
}

// RunListOptions controls filtering and pagination for ListRuns.
type RunListOptions struct {
	Status RunStatus
	Limit  int
	Offset int
}

// Store is the persistence interface for run history.
type Store interface {
	// CreateRun inserts a new run. The ID field must be set by the caller.
	CreateRun(ctx context.Context, r *Run) error

	// GetRun returns a run by ID or unambiguous ID prefix.
	GetRun(ctx context.Context, id string) (*Run, error)

	// ListRuns returns runs ordered by created_at descending.
	ListRuns(ctx context.Context, opts RunListOptions) ([]Run, error)

	// FinishRun stores the final status, exit code, error and output.
	FinishRun(ctx context.Context, r *Run) error

	// DeleteRun removes a run.
	DeleteRun(ctx context.Context, id string) error

	// Close releases resources.
	Close() error
}
