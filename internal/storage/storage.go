package storage

import (
	"context"
	"time"

	"github.com/michaelbrown/proctor/internal/results"
)

// RunStatus represents the lifecycle state of a recorded run.
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
)

// Run is the metadata for one recorded suite run.
type Run struct {
	ID        string    `json:"id"`
	SuiteName string    `json:"suite_name"`
	Status    RunStatus `json:"status"`
	AllPassed bool      `json:"all_passed"`
	Total     int       `json:"total"`
	Passed    int       `json:"passed"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RunListOptions controls filtering and pagination for ListRuns.
type RunListOptions struct {
	Status RunStatus
	Suite  string
	Limit  int
	Offset int
}

// Store is the persistence interface for runs and their per-test results.
type Store interface {
	// CreateRun inserts a new run. The ID field must be set by the caller.
	CreateRun(ctx context.Context, r *Run) error

	// GetRun returns a run by ID or unique ID prefix.
	GetRun(ctx context.Context, id string) (*Run, error)

	// ListRuns returns runs ordered by updated_at descending.
	ListRuns(ctx context.Context, opts RunListOptions) ([]Run, error)

	// UpdateRun updates mutable fields (status, counts, updated_at).
	UpdateRun(ctx context.Context, r *Run) error

	// DeleteRun removes a run and its results. Accepts an ID prefix.
	DeleteRun(ctx context.Context, id string) error

	// SaveResult upserts one test's result for a run, keyed by test name.
	// runID must be the full run ID.
	SaveResult(ctx context.Context, runID string, res *results.TestResult) error

	// ListResults returns a run's results in the order they were first
	// saved. Accepts an ID prefix.
	ListResults(ctx context.Context, runID string) ([]*results.TestResult, error)

	// GetResult returns one test's result. Accepts a run ID prefix.
	GetResult(ctx context.Context, runID, testName string) (*results.TestResult, error)

	// OverrideResult applies a reviewer verdict to a stored result and
	// returns the updated record.
	OverrideResult(ctx context.Context, runID, testName string, status results.Status, reason string) (*results.TestResult, error)

	// RevertResult undoes an override, restoring the computed status.
	RevertResult(ctx context.Context, runID, testName string) (*results.TestResult, error)

	// Close releases resources.
	Close() error
}
