package runstate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for tests and self-tests.
type MemoryStore struct {
	mu       sync.Mutex
	clock    func() time.Time
	runs     map[string]*Run
	stepRuns map[string][]*StepRun // runID → ordered step runs
	byKey    map[string]*StepRun   // wo|step|key → record
	runOrder []string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		clock:    time.Now,
		runs:     make(map[string]*Run),
		stepRuns: make(map[string][]*StepRun),
		byKey:    make(map[string]*StepRun),
	}
}

// WithClock overrides the clock for testing.
func (m *MemoryStore) WithClock(clock func() time.Time) *MemoryStore {
	m.clock = clock
	return m
}

func (m *MemoryStore) CreateRun(_ context.Context, tenantID, workOrderID string, metadata map[string]any) (Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock().UTC()
	run := &Run{
		RunID:       uuid.New().String(),
		TenantID:    tenantID,
		WorkOrderID: workOrderID,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		Metadata:    metadata,
	}
	m.runs[run.RunID] = run
	m.runOrder = append(m.runOrder, run.RunID)
	return *run, nil
}

func (m *MemoryStore) SetRunStatus(_ context.Context, runID string, status Status, metadata map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return fmt.Errorf("%w: run %s", ErrNotFound, runID)
	}
	run.Status = status
	run.UpdatedAt = m.clock().UTC()
	if run.Metadata == nil {
		run.Metadata = map[string]any{}
	}
	for k, v := range metadata {
		run.Metadata[k] = v
	}
	return nil
}

func (m *MemoryStore) GetRun(_ context.Context, tenantID, workOrderID string) (Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.runOrder) - 1; i >= 0; i-- {
		run := m.runs[m.runOrder[i]]
		if run.TenantID == tenantID && run.WorkOrderID == workOrderID {
			return *run, nil
		}
	}
	return Run{}, fmt.Errorf("%w: workorder %s/%s", ErrNotFound, tenantID, workOrderID)
}

func (m *MemoryStore) CreateStepRun(_ context.Context, runID, stepID, idempotencyKey, outputsDir string, metadata map[string]any) (StepRun, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return StepRun{}, false, fmt.Errorf("%w: run %s", ErrNotFound, runID)
	}
	key := run.WorkOrderID + "\x00" + stepID + "\x00" + idempotencyKey
	if prior, ok := m.byKey[key]; ok {
		return *prior, false, nil
	}
	sr := &StepRun{
		StepRunID:      uuid.New().String(),
		RunID:          runID,
		StepID:         stepID,
		ModuleRunID:    uuid.New().String(),
		Status:         StatusRunning,
		OutputsDir:     outputsDir,
		IdempotencyKey: idempotencyKey,
		Metadata:       metadata,
	}
	m.stepRuns[runID] = append(m.stepRuns[runID], sr)
	m.byKey[key] = sr
	return *sr, true, nil
}

func (m *MemoryStore) SetStepStatus(_ context.Context, stepRunID string, status Status, endedAt time.Time, metadata map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, srs := range m.stepRuns {
		for _, sr := range srs {
			if sr.StepRunID == stepRunID {
				sr.Status = status
				sr.EndedAt = endedAt.UTC()
				if sr.Metadata == nil {
					sr.Metadata = map[string]any{}
				}
				for k, v := range metadata {
					sr.Metadata[k] = v
				}
				return nil
			}
		}
	}
	return fmt.Errorf("%w: step run %s", ErrNotFound, stepRunID)
}

func (m *MemoryStore) ListStepRuns(_ context.Context, runID string) ([]StepRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	srs := m.stepRuns[runID]
	out := make([]StepRun, len(srs))
	for i, sr := range srs {
		out[i] = *sr
	}
	return out, nil
}
