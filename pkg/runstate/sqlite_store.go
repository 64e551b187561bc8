package runstate

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the durable Store used by the orchestrator daemon.
type SQLiteStore struct {
	db    *sql.DB
	clock func() time.Time
}

// OpenSQLite opens (and migrates) a run-state database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("runstate: open %s: %w", path, err)
	}
	s := &SQLiteStore{db: db, clock: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore wraps an already-open handle; used by tests.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db, clock: time.Now}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// WithClock overrides the clock for testing.
func (s *SQLiteStore) WithClock(clock func() time.Time) *SQLiteStore {
	s.clock = clock
	return s
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		work_order_id TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		metadata JSON
	);
	CREATE INDEX IF NOT EXISTS idx_runs_workorder ON runs(tenant_id, work_order_id, created_at);
	CREATE TABLE IF NOT EXISTS step_runs (
		step_run_id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		work_order_id TEXT NOT NULL,
		step_id TEXT NOT NULL,
		module_run_id TEXT,
		status TEXT NOT NULL,
		outputs_dir TEXT,
		idempotency_key TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		ended_at DATETIME,
		metadata JSON,
		UNIQUE(work_order_id, step_id, idempotency_key)
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteStore) CreateRun(ctx context.Context, tenantID, workOrderID string, metadata map[string]any) (Run, error) {
	now := s.clock().UTC()
	run := Run{
		RunID:       uuid.New().String(),
		TenantID:    tenantID,
		WorkOrderID: workOrderID,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		Metadata:    metadata,
	}
	meta, err := marshalMeta(metadata)
	if err != nil {
		return Run{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, tenant_id, work_order_id, status, created_at, updated_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.TenantID, run.WorkOrderID, run.Status, run.CreatedAt, run.UpdatedAt, meta)
	if err != nil {
		return Run{}, fmt.Errorf("runstate: create run: %w", err)
	}
	return run, nil
}

func (s *SQLiteStore) SetRunStatus(ctx context.Context, runID string, status Status, metadata map[string]any) error {
	meta, err := marshalMeta(metadata)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, updated_at = ?,
			metadata = COALESCE(json_patch(COALESCE(metadata, '{}'), COALESCE(?, '{}')), metadata)
		WHERE run_id = ?`,
		status, s.clock().UTC(), meta, runID)
	if err != nil {
		return fmt.Errorf("runstate: set run status: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("%w: run %s", ErrNotFound, runID)
	}
	return err
}

func (s *SQLiteStore) GetRun(ctx context.Context, tenantID, workOrderID string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, tenant_id, work_order_id, status, created_at, updated_at, metadata
		FROM runs WHERE tenant_id = ? AND work_order_id = ?
		ORDER BY created_at DESC LIMIT 1`, tenantID, workOrderID)

	var run Run
	var meta sql.NullString
	if err := row.Scan(&run.RunID, &run.TenantID, &run.WorkOrderID, &run.Status,
		&run.CreatedAt, &run.UpdatedAt, &meta); err != nil {
		if err == sql.ErrNoRows {
			return Run{}, fmt.Errorf("%w: workorder %s/%s", ErrNotFound, tenantID, workOrderID)
		}
		return Run{}, err
	}
	if err := unmarshalMeta(meta.String, &run.Metadata); err != nil {
		return Run{}, err
	}
	return run, nil
}

func (s *SQLiteStore) CreateStepRun(ctx context.Context, runID, stepID, idempotencyKey, outputsDir string, metadata map[string]any) (StepRun, bool, error) {
	var workOrderID string
	if err := s.db.QueryRowContext(ctx,
		`SELECT work_order_id FROM runs WHERE run_id = ?`, runID).Scan(&workOrderID); err != nil {
		if err == sql.ErrNoRows {
			return StepRun{}, false, fmt.Errorf("%w: run %s", ErrNotFound, runID)
		}
		return StepRun{}, false, err
	}

	// Idempotent re-attempt: same key returns the prior record unchanged.
	if prior, err := s.stepRunByKey(ctx, workOrderID, stepID, idempotencyKey); err == nil {
		return prior, false, nil
	} else if err != ErrNotFound {
		return StepRun{}, false, err
	}

	sr := StepRun{
		StepRunID:      uuid.New().String(),
		RunID:          runID,
		StepID:         stepID,
		ModuleRunID:    uuid.New().String(),
		Status:         StatusRunning,
		OutputsDir:     outputsDir,
		IdempotencyKey: idempotencyKey,
		Metadata:       metadata,
	}
	meta, err := marshalMeta(metadata)
	if err != nil {
		return StepRun{}, false, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO step_runs
			(step_run_id, run_id, work_order_id, step_id, module_run_id, status,
			 outputs_dir, idempotency_key, created_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sr.StepRunID, sr.RunID, workOrderID, sr.StepID, sr.ModuleRunID, sr.Status,
		sr.OutputsDir, sr.IdempotencyKey, s.clock().UTC(), meta)
	if err != nil {
		return StepRun{}, false, fmt.Errorf("runstate: create step run: %w", err)
	}
	return sr, true, nil
}

func (s *SQLiteStore) stepRunByKey(ctx context.Context, workOrderID, stepID, key string) (StepRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT step_run_id, run_id, step_id, module_run_id, status, outputs_dir,
		       idempotency_key, ended_at, metadata
		FROM step_runs
		WHERE work_order_id = ? AND step_id = ? AND idempotency_key = ?`,
		workOrderID, stepID, key)
	return scanStepRun(row)
}

func (s *SQLiteStore) SetStepStatus(ctx context.Context, stepRunID string, status Status, endedAt time.Time, metadata map[string]any) error {
	meta, err := marshalMeta(metadata)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE step_runs SET status = ?, ended_at = ?,
			metadata = COALESCE(json_patch(COALESCE(metadata, '{}'), COALESCE(?, '{}')), metadata)
		WHERE step_run_id = ?`,
		status, endedAt.UTC(), meta, stepRunID)
	if err != nil {
		return fmt.Errorf("runstate: set step status: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("%w: step run %s", ErrNotFound, stepRunID)
	}
	return err
}

func (s *SQLiteStore) ListStepRuns(ctx context.Context, runID string) ([]StepRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT step_run_id, run_id, step_id, module_run_id, status, outputs_dir,
		       idempotency_key, ended_at, metadata
		FROM step_runs WHERE run_id = ? ORDER BY created_at, step_run_id`, runID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []StepRun
	for rows.Next() {
		sr, err := scanStepRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanStepRun(row scanner) (StepRun, error) {
	var sr StepRun
	var moduleRunID, outputsDir, meta sql.NullString
	var endedAt sql.NullTime
	err := row.Scan(&sr.StepRunID, &sr.RunID, &sr.StepID, &moduleRunID, &sr.Status,
		&outputsDir, &sr.IdempotencyKey, &endedAt, &meta)
	if err == sql.ErrNoRows {
		return StepRun{}, ErrNotFound
	}
	if err != nil {
		return StepRun{}, err
	}
	sr.ModuleRunID = moduleRunID.String
	sr.OutputsDir = outputsDir.String
	if endedAt.Valid {
		sr.EndedAt = endedAt.Time.UTC()
	}
	if err := unmarshalMeta(meta.String, &sr.Metadata); err != nil {
		return StepRun{}, err
	}
	return sr, nil
}

func marshalMeta(meta map[string]any) (any, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("runstate: marshal metadata: %w", err)
	}
	return string(b), nil
}

func unmarshalMeta(s string, dst *map[string]any) error {
	if s == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(s), dst); err != nil {
		return fmt.Errorf("runstate: unmarshal metadata: %w", err)
	}
	return nil
}
