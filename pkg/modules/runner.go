package modules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/agenda-podcast/Platform-sub001/pkg/reason"
	"github.com/agenda-podcast/Platform-sub001/pkg/registry"
)

// OutputsFile is written into each step's outputs directory so declared
// port values survive into the evidence archive.
const OutputsFile = "outputs.json"

// Run invokes a module under the per-kind deadline and maps every failure
// mode onto a Result: the executor never sees an error escape a module
// call. Timeouts and cancellations are refund eligible by construction;
// the step produced nothing billable.
func Run(ctx context.Context, m Module, kind registry.Kind, timeouts Timeouts, params map[string]any, outputsDir string) Result {
	ctx, cancel := context.WithTimeout(ctx, timeouts.For(kind))
	defer cancel()

	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := m.Invoke(ctx, params, outputsDir)
		done <- outcome{res, err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			if errors.Is(o.err, context.DeadlineExceeded) {
				return failure(reason.SlugTimeout)
			}
			if errors.Is(o.err, context.Canceled) {
				return failure(reason.SlugCancelled)
			}
			return Result{
				Status:         StatusFailed,
				ReasonSlug:     "module_error",
				RefundEligible: true,
				Metadata:       map[string]any{"error": o.err.Error()},
			}
		}
		res := o.res
		if res.Status == StatusCompleted {
			if err := persistOutputs(outputsDir, res.Outputs); err != nil {
				return Result{
					Status:         StatusFailed,
					ReasonSlug:     "module_error",
					RefundEligible: true,
					Metadata:       map[string]any{"error": err.Error()},
				}
			}
		}
		return res
	case <-ctx.Done():
		// The goroutine keeps running until the module honors ctx; its
		// late result is discarded through the buffered channel.
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return failure(reason.SlugTimeout)
		}
		return failure(reason.SlugCancelled)
	}
}

func failure(slug string) Result {
	return Result{Status: StatusFailed, ReasonSlug: slug, RefundEligible: true}
}

// persistOutputs writes the declared port values beside the module's
// artifacts. An empty map still writes the file: an auditor can then tell
// "no outputs" apart from "outputs lost".
func persistOutputs(outputsDir string, outputs map[string]any) error {
	if err := os.MkdirAll(outputsDir, 0o755); err != nil {
		return fmt.Errorf("modules: mkdir %s: %w", outputsDir, err)
	}
	if outputs == nil {
		outputs = map[string]any{}
	}
	payload, err := json.MarshalIndent(outputs, "", "  ")
	if err != nil {
		return fmt.Errorf("modules: marshal outputs: %w", err)
	}
	path := filepath.Join(outputsDir, OutputsFile)
	if err := os.WriteFile(path, append(payload, '\n'), 0o644); err != nil {
		return fmt.Errorf("modules: write %s: %w", path, err)
	}
	return nil
}

// Sleeper is a self-test module that blocks for a fixed delay, used to
// exercise the timeout path.
type Sleeper struct {
	Delay time.Duration
}

func (s Sleeper) Invoke(ctx context.Context, _ map[string]any, _ string) (Result, error) {
	select {
	case <-time.After(s.Delay):
		return Result{Status: StatusCompleted}, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
