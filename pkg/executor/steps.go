package executor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/agenda-podcast/Platform-sub001/pkg/binder"
	"github.com/agenda-podcast/Platform-sub001/pkg/idempotency"
	"github.com/agenda-podcast/Platform-sub001/pkg/ledger"
	"github.com/agenda-podcast/Platform-sub001/pkg/modules"
	"github.com/agenda-podcast/Platform-sub001/pkg/planner"
	"github.com/agenda-podcast/Platform-sub001/pkg/reason"
	"github.com/agenda-podcast/Platform-sub001/pkg/refund"
	"github.com/agenda-podcast/Platform-sub001/pkg/registry"
	"github.com/agenda-podcast/Platform-sub001/pkg/runstate"
	"github.com/agenda-podcast/Platform-sub001/pkg/workorder"
)

// executeSteps runs the plan strictly sequentially. A failure under
// ALL_OR_NOTHING stops invocation; the remaining steps are recorded FAILED
// with the cancelled reason so the refund phase can reverse their
// reservation. PARTIAL_ALLOWED lets siblings continue past a failure.
func (e *Executor) executeSteps(ctx context.Context, wo *workorder.WorkOrder, run runstate.Run, plan *planner.Plan, logger *slog.Logger) []StepOutcome {
	outcomes := make([]StepOutcome, 0, len(plan.Steps))
	prior := make(map[string]binder.StepOutputs, len(plan.Steps))
	stopped := false

	for _, step := range plan.Steps {
		if stopped || ctx.Err() != nil {
			outcomes = append(outcomes, e.recordSkipped(ctx, wo, run, step, reason.SlugCancelled, logger))
			continue
		}

		oc := e.executeStep(ctx, wo, run, step, prior, logger)
		outcomes = append(outcomes, oc)

		if oc.Status == runstate.StatusFailed {
			if e.metricsOK {
				e.deps.Metrics.RecordStepFailure(ctx, step.ModuleID, oc.ReasonSlug)
			}
			if wo.Mode == workorder.ModeAllOrNothing {
				stopped = true
			}
		}
	}
	return outcomes
}

// executeStep runs one step end to end: step-run record, binding, platform
// injection, module invocation, and status write.
func (e *Executor) executeStep(ctx context.Context, wo *workorder.WorkOrder, run runstate.Run, step workorder.Step, prior map[string]binder.StepOutputs, logger *slog.Logger) StepOutcome {
	oc := StepOutcome{StepID: step.StepID, ModuleID: step.ModuleID, Executed: true}
	outputsDir := e.outputsDirFor(wo, step.StepID)
	stepKey := idempotency.StepRun(wo.TenantID, wo.WorkOrderID, step.StepID, step.ModuleID)

	sr, created, err := e.deps.Runs.CreateStepRun(ctx, run.RunID, step.StepID, stepKey, outputsDir, nil)
	if err != nil {
		return e.failStep(ctx, step, runstate.StepRun{}, "module_error", err.Error(), logger)
	}

	// A completed prior attempt under the same key is reused wholesale:
	// outputs come back from the recorded directory, the module never runs
	// again.
	if !created && sr.Status == runstate.StatusCompleted {
		oc.Status = runstate.StatusCompleted
		oc.OutputRef, _ = sr.Metadata["output_ref"].(string)
		prior[step.StepID] = binder.StepOutputs{
			ModuleID: step.ModuleID,
			Values:   loadOutputs(sr.OutputsDir),
		}
		logger.Info("step reused from prior run", "step_id", step.StepID)
		return oc
	}

	contract, err := e.deps.Contracts.GetContract(step.ModuleID)
	if err != nil {
		return e.failStep(ctx, step, sr, reason.SlugValidationError, err.Error(), logger)
	}

	params, err := e.binder.Resolve(step, contract, prior)
	if err != nil {
		slug := reason.SlugValidationError
		if errors.Is(err, binder.ErrBinding) {
			slug = reason.SlugBindingError
		}
		return e.failStep(ctx, step, sr, slug, err.Error(), logger)
	}
	params = binder.InjectPlatform(params, requestedDeliverables(contract.Deliverables, step.RequestedDeliverables))

	module, ok := e.deps.Modules.Get(step.ModuleID)
	if !ok {
		return e.failStep(ctx, step, sr, "module_error", "no implementation registered", logger)
	}

	started := e.clock()
	res := modules.Run(ctx, module, contract.Kind, e.deps.Timeouts, params, outputsDir)
	if e.metricsOK {
		e.deps.Metrics.RecordStepDuration(ctx, step.ModuleID, e.clock().Sub(started))
	}

	if res.Status != modules.StatusCompleted {
		oc = e.failStep(ctx, step, sr, res.ReasonSlug, "", logger)
		oc.RefundEligible = res.RefundEligible
		return oc
	}

	oc.Status = runstate.StatusCompleted
	oc.OutputRef = res.OutputRef
	if err := e.deps.Runs.SetStepStatus(ctx, sr.StepRunID, runstate.StatusCompleted, e.clock().UTC(), map[string]any{
		"output_ref": res.OutputRef,
	}); err != nil {
		logger.Error("step status write failed", "step_id", step.StepID, "error", err)
	}
	prior[step.StepID] = binder.StepOutputs{ModuleID: step.ModuleID, Values: res.Outputs}
	logger.Info("step completed", "step_id", step.StepID, "module_id", step.ModuleID)
	return oc
}

func (e *Executor) failStep(ctx context.Context, step workorder.Step, sr runstate.StepRun, slug, detail string, logger *slog.Logger) StepOutcome {
	oc := StepOutcome{
		StepID:         step.StepID,
		ModuleID:       step.ModuleID,
		Status:         runstate.StatusFailed,
		ReasonSlug:     slug,
		Executed:       true,
		RefundEligible: true,
	}
	if sr.StepRunID != "" {
		if err := e.deps.Runs.SetStepStatus(ctx, sr.StepRunID, runstate.StatusFailed, e.clock().UTC(), map[string]any{
			"reason_slug": slug,
			"detail":      detail,
		}); err != nil {
			logger.Error("step status write failed", "step_id", step.StepID, "error", err)
		}
	}
	logger.Error("step failed", "step_id", step.StepID, "module_id", step.ModuleID,
		"reason_slug", slug, "detail", detail)
	return oc
}

// recordSkipped marks a never-invoked step FAILED so the reduction and the
// refund phase see it. Skipped steps are refund eligible by construction.
func (e *Executor) recordSkipped(ctx context.Context, wo *workorder.WorkOrder, run runstate.Run, step workorder.Step, slug string, logger *slog.Logger) StepOutcome {
	stepKey := idempotency.StepRun(wo.TenantID, wo.WorkOrderID, step.StepID, step.ModuleID)
	sr, created, err := e.deps.Runs.CreateStepRun(ctx, run.RunID, step.StepID, stepKey,
		e.outputsDirFor(wo, step.StepID), nil)
	if err == nil && created {
		_ = e.deps.Runs.SetStepStatus(ctx, sr.StepRunID, runstate.StatusFailed, e.clock().UTC(),
			map[string]any{"reason_slug": slug})
	}
	logger.Warn("step skipped", "step_id", step.StepID, "reason_slug", slug)
	return StepOutcome{
		StepID:         step.StepID,
		ModuleID:       step.ModuleID,
		Status:         runstate.StatusFailed,
		ReasonSlug:     slug,
		Executed:       false,
		RefundEligible: true,
	}
}

// emitRefunds nominates every failed step and lets the refund engine apply
// the policy.
func (e *Executor) emitRefunds(wo *workorder.WorkOrder, reservation ledger.Transaction, steps []StepOutcome) (int64, error) {
	var candidates []refund.Candidate
	for _, s := range steps {
		if s.Status != runstate.StatusFailed {
			continue
		}
		code := e.reasonCode(s.ReasonSlug, s.ModuleID)
		if code == "" {
			// Uncataloged slug: fail closed, no refund.
			continue
		}
		step, _ := wo.Step(s.StepID)
		candidates = append(candidates, refund.Candidate{
			StepID:                s.StepID,
			ModuleID:              s.ModuleID,
			RequestedDeliverables: step.RequestedDeliverables,
			ReasonCode:            code,
			RefundEligible:        s.RefundEligible,
		})
	}
	if len(candidates) == 0 {
		return 0, nil
	}
	res, err := e.refunds.Emit(wo.TenantID, wo.WorkOrderID, reservation, candidates)
	return res.TotalRefunded, err
}

// requestedDeliverables filters the contract's deliverable map down to the
// step's request, preserving request order for deterministic injection.
func requestedDeliverables(all map[string]registry.Deliverable, requested []string) []registry.Deliverable {
	out := make([]registry.Deliverable, 0, len(requested))
	for _, id := range requested {
		if d, ok := all[id]; ok {
			out = append(out, d)
		}
	}
	return out
}

// loadOutputs reads the declared port values a prior completed attempt
// persisted. Missing or unreadable files read as no outputs.
func loadOutputs(outputsDir string) map[string]any {
	raw, err := os.ReadFile(filepath.Join(outputsDir, modules.OutputsFile))
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}
