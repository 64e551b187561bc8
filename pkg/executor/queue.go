package executor

import (
	"context"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/agenda-podcast/Platform-sub001/pkg/workorder"
)

// QueueResult summarizes one queue entry's execution.
type QueueResult struct {
	Entry   workorder.QueueEntry
	Outcome Outcome
	Err     error
}

// RunQueue executes every enabled queue entry, parallel across workorders
// and bounded by the worker pool. Steps inside each workorder stay
// sequential; cross-workorder ledger and run-state writes serialize inside
// those components. Relative workorder paths resolve against the queue
// file's directory.
//
// An individual workorder failure never aborts the queue; it is reported
// in its QueueResult. The returned error covers only queue-level problems.
func (e *Executor) RunQueue(ctx context.Context, queuePath string, poolSize int) ([]QueueResult, error) {
	entries, err := workorder.LoadQueue(queuePath)
	if err != nil {
		return nil, err
	}
	if poolSize < 1 {
		poolSize = 1
	}

	var enabled []workorder.QueueEntry
	for _, entry := range entries {
		if !entry.Enabled {
			e.logger.Info("queue entry disabled, skipping",
				"tenant_id", entry.TenantID, "work_order_id", entry.WorkOrderID)
			continue
		}
		enabled = append(enabled, entry)
	}

	results := make([]QueueResult, len(enabled))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(poolSize)
	for i, entry := range enabled {
		g.Go(func() error {
			path := entry.Path
			if !filepath.IsAbs(path) {
				path = filepath.Join(filepath.Dir(queuePath), path)
			}
			outcome, execErr := e.Execute(gctx, path)
			mu.Lock()
			results[i] = QueueResult{Entry: entry, Outcome: outcome, Err: execErr}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // workers never return errors; failures live in results
	return results, nil
}
