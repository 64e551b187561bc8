// Package runstate tracks mutable per-workorder and per-step execution
// status. Records are durable and restart-visible; re-attempting a step
// with the same idempotency key returns the prior record unchanged.
package runstate

import (
	"context"
	"errors"
	"time"
)

// Status is the lifecycle state of a run or step run.
type Status string

const (
	StatusPending         Status = "PENDING"
	StatusRunning         Status = "RUNNING"
	StatusCompleted       Status = "COMPLETED"
	StatusFailed          Status = "FAILED"
	StatusPartial         Status = "PARTIAL"
	StatusAwaitingPublish Status = "AWAITING_PUBLISH"
)

// ErrNotFound is returned when a run or step run does not exist.
var ErrNotFound = errors.New("runstate: not found")

// Run is the per-workorder runtime record.
type Run struct {
	RunID       string
	TenantID    string
	WorkOrderID string
	Status      Status
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Metadata    map[string]any
}

// StepRun is one step execution attempt.
type StepRun struct {
	StepRunID      string
	RunID          string
	StepID         string
	ModuleRunID    string
	Status         Status
	OutputsDir     string
	IdempotencyKey string
	EndedAt        time.Time
	Metadata       map[string]any
}

// Store persists runs and step runs.
type Store interface {
	// CreateRun records a new run in PENDING state.
	CreateRun(ctx context.Context, tenantID, workOrderID string, metadata map[string]any) (Run, error)

	// SetRunStatus transitions a run and merges metadata.
	SetRunStatus(ctx context.Context, runID string, status Status, metadata map[string]any) error

	// GetRun returns the latest run for a workorder.
	GetRun(ctx context.Context, tenantID, workOrderID string) (Run, error)

	// CreateStepRun is idempotent on (run's workorder, step_id,
	// idempotency_key): a repeat call returns the prior record with
	// created=false.
	CreateStepRun(ctx context.Context, runID, stepID, idempotencyKey, outputsDir string, metadata map[string]any) (StepRun, bool, error)

	// SetStepStatus finalizes a step run.
	SetStepStatus(ctx context.Context, stepRunID string, status Status, endedAt time.Time, metadata map[string]any) error

	// ListStepRuns returns a run's step records in creation order.
	ListStepRuns(ctx context.Context, runID string) ([]StepRun, error)
}
