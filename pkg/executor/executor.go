// Package executor drives a workorder through its full lifecycle: plan,
// preflight, price estimation, credit reservation, sequential step
// execution, refunds, evidence archival, and status reduction. All
// collaborators arrive through an explicit Context; the executor holds no
// globals, and no error escapes the run loop: every failure ends in a
// terminal status plus ledger and audit records.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/agenda-podcast/Platform-sub001/pkg/audit"
	"github.com/agenda-podcast/Platform-sub001/pkg/binder"
	"github.com/agenda-podcast/Platform-sub001/pkg/evidence"
	"github.com/agenda-podcast/Platform-sub001/pkg/idempotency"
	"github.com/agenda-podcast/Platform-sub001/pkg/ledger"
	"github.com/agenda-podcast/Platform-sub001/pkg/modules"
	"github.com/agenda-podcast/Platform-sub001/pkg/observability"
	"github.com/agenda-podcast/Platform-sub001/pkg/planner"
	"github.com/agenda-podcast/Platform-sub001/pkg/preflight"
	"github.com/agenda-podcast/Platform-sub001/pkg/pricebook"
	"github.com/agenda-podcast/Platform-sub001/pkg/publisher"
	"github.com/agenda-podcast/Platform-sub001/pkg/reason"
	"github.com/agenda-podcast/Platform-sub001/pkg/refund"
	"github.com/agenda-podcast/Platform-sub001/pkg/registry"
	"github.com/agenda-podcast/Platform-sub001/pkg/runstate"
	"github.com/agenda-podcast/Platform-sub001/pkg/secrets"
	"github.com/agenda-podcast/Platform-sub001/pkg/status"
	"github.com/agenda-podcast/Platform-sub001/pkg/workorder"
)

// Context carries every collaborator one executor needs. Required fields
// are validated by New; optional ones default to no-ops.
type Context struct {
	Contracts *registry.Registry
	Prices    *pricebook.Book
	Reasons   *reason.Catalog
	Secrets   secrets.Store
	Ledger    *ledger.Ledger
	Runs      runstate.Store
	Modules   *modules.Table
	Archiver  *evidence.Archiver

	Timeouts     modules.Timeouts
	RuntimeRoot  string
	FixturesRoot string

	// Optional.
	Publisher publisher.Publisher
	Audit     audit.Logger
	Metrics   *observability.Provider
	Logger    *slog.Logger
	Clock     func() time.Time
}

// Outcome is the observable result of one workorder execution.
type Outcome struct {
	TenantID    string
	WorkOrderID string
	Status      runstate.Status
	ReasonSlug  string
	Estimated   int64
	Refunded    int64
	Steps       []StepOutcome
	Evidence    string
	Receipts    []publisher.Receipt
}

// StepOutcome is one step's recorded result.
type StepOutcome struct {
	StepID         string
	ModuleID       string
	Status         runstate.Status
	ReasonSlug     string
	OutputRef      string
	Executed       bool
	RefundEligible bool
}

// Executor runs workorders. Safe for concurrent use: per-workorder state
// lives on the stack, shared tables serialize internally.
type Executor struct {
	deps      Context
	gate      *preflight.Gate
	binder    *binder.Binder
	refunds   *refund.Engine
	logger    *slog.Logger
	auditLog  audit.Logger
	clock     func() time.Time
	metricsOK bool
}

// New wires an Executor. Missing required collaborators are a programming
// error and fail fast.
func New(deps Context) (*Executor, error) {
	switch {
	case deps.Contracts == nil, deps.Prices == nil, deps.Reasons == nil,
		deps.Secrets == nil, deps.Ledger == nil, deps.Runs == nil,
		deps.Modules == nil, deps.Archiver == nil:
		return nil, errors.New("executor: incomplete context")
	}
	if deps.Timeouts == nil {
		deps.Timeouts = modules.DefaultTimeouts()
	}
	e := &Executor{
		deps:     deps,
		gate:     preflight.New(deps.Contracts, deps.Secrets),
		binder:   binder.New(deps.Contracts, deps.FixturesRoot),
		refunds:  refund.New(deps.Ledger, deps.Reasons),
		logger:   deps.Logger,
		auditLog: deps.Audit,
		clock:    deps.Clock,
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.auditLog == nil {
		e.auditLog = audit.Nop{}
	}
	if e.clock == nil {
		e.clock = time.Now
	}
	e.metricsOK = deps.Metrics != nil
	return e, nil
}

// Execute drives one workorder document to a terminal status. The returned
// error is reserved for infrastructure failures (unreadable document,
// broken stores); billing and module failures land in the Outcome.
func (e *Executor) Execute(ctx context.Context, workOrderPath string) (Outcome, error) {
	wo, err := workorder.Load(workOrderPath)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{TenantID: wo.TenantID, WorkOrderID: wo.WorkOrderID}
	logger := e.logger.With("tenant_id", wo.TenantID, "work_order_id", wo.WorkOrderID)

	run, err := e.deps.Runs.CreateRun(ctx, wo.TenantID, wo.WorkOrderID, map[string]any{
		"path": workOrderPath,
	})
	if err != nil {
		return out, fmt.Errorf("executor: create run: %w", err)
	}

	// Plan. Unknown modules, missing deps, and cycles are fatal before any
	// SPEND.
	plan, err := planner.Build(wo, e.deps.Contracts)
	if err != nil {
		logger.Error("planning failed", "error", err)
		return e.finishBlocked(ctx, out, run, wo, workOrderPath, reason.SlugValidationError, err.Error())
	}

	// Preflight.
	verdict := e.gate.Check(wo)
	for _, w := range verdict.Warnings {
		logger.Warn("preflight warning", "detail", w)
	}
	switch verdict.Decision {
	case preflight.DecisionValidationFailed:
		logger.Error("preflight validation failed", "problems", verdict.Problems)
		return e.finishBlocked(ctx, out, run, wo, workOrderPath, reason.SlugValidationError,
			fmt.Sprintf("%v", verdict.Problems))
	case preflight.DecisionSecretsMissing:
		logger.Error("preflight secrets missing", "keys", verdict.MissingSecrets)
		return e.finishBlocked(ctx, out, run, wo, workOrderPath, reason.SlugSecretsMissing,
			fmt.Sprintf("missing secrets: %v", verdict.MissingSecrets))
	}

	// Price estimation.
	estimate, charged, err := e.estimate(plan)
	if err != nil {
		logger.Error("price estimation failed", "error", err)
		return e.finishBlocked(ctx, out, run, wo, workOrderPath, reason.SlugValidationError, err.Error())
	}
	out.Estimated = estimate

	// Credit gate, against the in-memory balance including prior writes in
	// this process. A workorder whose reservation already exists replays
	// against the prior rows, so the gate applies only to first-time
	// reservations: the rerun's row set must match the first run's even
	// when the balance has since dropped.
	spendKey := idempotency.WorkOrderSpend(wo.TenantID, wo.WorkOrderID, workOrderPath, plan.Type)
	if _, reserved := e.deps.Ledger.TransactionByKey(wo.TenantID, wo.WorkOrderID, ledger.TypeSpend, spendKey); !reserved {
		if balance := e.deps.Ledger.Balance(wo.TenantID); balance < estimate {
			logger.Error("not enough credits", "available", balance, "estimated", estimate)
			return e.finishBlocked(ctx, out, run, wo, workOrderPath, reason.SlugNotEnoughCredits,
				fmt.Sprintf("available=%d estimated=%d", balance, estimate))
		}
	}

	// Reservation.
	reservation, err := e.reserve(wo, plan, spendKey, estimate, charged)
	if err != nil {
		logger.Error("reservation failed", "error", err)
		return e.finishBlocked(ctx, out, run, wo, workOrderPath, reason.SlugValidationError, err.Error())
	}
	e.auditEvent(wo, "reservation_posted", "transactions", map[string]any{
		"amount_credits": reservation.AmountCredits,
	})
	if e.metricsOK {
		e.deps.Metrics.RecordSpend(ctx, wo.TenantID, estimate)
	}

	if err := e.deps.Runs.SetRunStatus(ctx, run.RunID, runstate.StatusRunning, nil); err != nil {
		return out, fmt.Errorf("executor: set run status: %w", err)
	}

	// Step execution.
	out.Steps = e.executeSteps(ctx, wo, run, plan, logger)

	// Refund phase.
	refunded, err := e.emitRefunds(wo, reservation, out.Steps)
	if err != nil {
		logger.Error("refund emission failed", "error", err)
	}
	out.Refunded = refunded
	if refunded > 0 {
		e.auditEvent(wo, "refunds_posted", "transactions", map[string]any{
			"amount_credits": refunded,
		})
		if e.metricsOK {
			e.deps.Metrics.RecordRefund(ctx, wo.TenantID, refunded)
		}
	}

	// Evidence archival. Failure here is infrastructure, not billing: it is
	// reported but does not revert the run.
	arch, archErr := e.deps.Archiver.Archive(ctx, wo.TenantID, wo.WorkOrderID)
	if archErr != nil {
		logger.Error("evidence archival failed", "error", archErr)
	} else {
		out.Evidence = arch.ZipPath
	}

	// Publish, when required and possible.
	publishCompleted := e.publish(ctx, wo, &out, logger)

	// Status reduction and durable save. A run ended by cancellation
	// carries the cancelled reason on the workorder record, not just on
	// its steps.
	final := status.Reduce(stepStatuses(out.Steps), refunded > 0, wo.ArtifactsRequested, publishCompleted)
	out.Status = final
	terminalMeta := map[string]any{"refunded_credits": refunded}
	if final == runstate.StatusFailed && ctx.Err() != nil {
		out.ReasonSlug = reason.SlugCancelled
		terminalMeta["reason_slug"] = reason.SlugCancelled
	}
	if err := e.deps.Runs.SetRunStatus(ctx, run.RunID, final, terminalMeta); err != nil {
		return out, fmt.Errorf("executor: set terminal status: %w", err)
	}
	if err := e.deps.Ledger.Flush(ctx); err != nil {
		return out, err
	}

	e.auditEvent(wo, "workorder_finished", "runs", map[string]any{"status": string(final)})
	if e.metricsOK {
		e.deps.Metrics.RecordWorkOrder(ctx, wo.TenantID, string(final))
	}
	logger.Info("workorder finished", "status", final,
		"estimated", estimate, "refunded", refunded)
	return out, nil
}

// finishBlocked records a zero-amount audit SPEND, marks the run FAILED,
// and flushes. Used for every pre-execution gate.
func (e *Executor) finishBlocked(ctx context.Context, out Outcome, run runstate.Run, wo *workorder.WorkOrder, path, slug, detail string) (Outcome, error) {
	out.Status = runstate.StatusFailed
	out.ReasonSlug = slug

	code := e.reasonCode(slug, "")
	_, _, err := e.deps.Ledger.PostTransaction(ledger.Transaction{
		TenantID:      wo.TenantID,
		WorkOrderID:   wo.WorkOrderID,
		Type:          ledger.TypeSpend,
		AmountCredits: 0,
		ReasonCode:    string(code),
		Note:          detail,
		Metadata: map[string]any{
			ledger.MetaIdempotencyKey: idempotency.AuditEvent(wo.TenantID, wo.WorkOrderID, path, slug),
		},
	})
	if err != nil {
		return out, fmt.Errorf("executor: audit transaction: %w", err)
	}
	e.auditEvent(wo, "workorder_blocked", "transactions", map[string]any{
		"reason_slug": slug,
		"detail":      detail,
	})

	if err := e.deps.Runs.SetRunStatus(ctx, run.RunID, runstate.StatusFailed, map[string]any{
		"reason_slug": slug,
	}); err != nil {
		return out, fmt.Errorf("executor: set run status: %w", err)
	}
	if err := e.deps.Ledger.Flush(ctx); err != nil {
		return out, err
	}
	if e.metricsOK {
		e.deps.Metrics.RecordWorkOrder(ctx, wo.TenantID, string(runstate.StatusFailed))
	}
	return out, nil
}

// estimate prices the plan and records the per-deliverable charges keyed
// "step_id/deliverable_id". Zero prices are not charged and not recorded.
func (e *Executor) estimate(plan *planner.Plan) (int64, map[string]any, error) {
	now := e.clock().UTC()
	var total int64
	charged := map[string]any{}
	for _, step := range plan.Steps {
		runPrice, err := e.deps.Prices.Price(step.ModuleID, pricebook.RunDeliverable, now)
		if err != nil {
			return 0, nil, err
		}
		if runPrice > 0 {
			charged[step.StepID+"/"+pricebook.RunDeliverable] = runPrice
			total += runPrice
		}
		for _, d := range step.RequestedDeliverables {
			p, err := e.deps.Prices.Price(step.ModuleID, d, now)
			if err != nil {
				return 0, nil, err
			}
			if p > 0 {
				charged[step.StepID+"/"+d] = p
				total += p
			}
		}
	}
	return total, charged, nil
}

// reserve posts the SPEND transaction plus one item per charged
// deliverable. A rerun hits the same keys and reuses the prior rows.
func (e *Executor) reserve(wo *workorder.WorkOrder, plan *planner.Plan, key string, estimate int64, charged map[string]any) (ledger.Transaction, error) {
	tx, applied, err := e.deps.Ledger.PostTransaction(ledger.Transaction{
		TenantID:      wo.TenantID,
		WorkOrderID:   wo.WorkOrderID,
		Type:          ledger.TypeSpend,
		AmountCredits: -estimate,
		Metadata: map[string]any{
			ledger.MetaIdempotencyKey: key,
			ledger.MetaChargedPrices:  charged,
		},
	})
	if err != nil {
		return ledger.Transaction{}, err
	}
	if !applied {
		return tx, nil
	}

	// Items in plan order: the ledger's item order is the observable plan
	// order.
	for _, step := range plan.Steps {
		if err := e.reserveItem(wo, tx, step, pricebook.RunDeliverable, charged,
			idempotency.StepRunCharge(wo.TenantID, wo.WorkOrderID, step.StepID, step.ModuleID)); err != nil {
			return tx, err
		}
		for _, d := range step.RequestedDeliverables {
			if err := e.reserveItem(wo, tx, step, d, charged,
				idempotency.DeliverableCharge(wo.TenantID, wo.WorkOrderID, step.StepID, step.ModuleID, d)); err != nil {
				return tx, err
			}
		}
	}
	return tx, nil
}

func (e *Executor) reserveItem(wo *workorder.WorkOrder, tx ledger.Transaction, step workorder.Step, deliverableID string, charged map[string]any, key string) error {
	price, ok := charged[step.StepID+"/"+deliverableID].(int64)
	if !ok || price <= 0 {
		return nil
	}
	_, _, err := e.deps.Ledger.PostTransactionItem(ledger.Item{
		TransactionID: tx.TransactionID,
		TenantID:      wo.TenantID,
		ModuleID:      step.ModuleID,
		WorkOrderID:   wo.WorkOrderID,
		StepID:        step.StepID,
		DeliverableID: deliverableID,
		Type:          ledger.TypeSpend,
		AmountCredits: -price,
		Metadata:      map[string]any{ledger.MetaIdempotencyKey: key},
	})
	return err
}

// reasonCode resolves a slug module-scoped first, then globally. An
// uncataloged slug yields an empty code; refunds treat that as
// non-refundable.
func (e *Executor) reasonCode(slug, moduleID string) reason.Code {
	if moduleID != "" {
		if code, err := e.deps.Reasons.CodeFor(reason.ScopeModule, moduleID, slug); err == nil {
			return code
		}
	}
	code, err := e.deps.Reasons.CodeFor(reason.ScopeGlobal, "", slug)
	if err != nil {
		e.logger.Warn("uncataloged reason slug", "slug", slug, "module_id", moduleID)
		return ""
	}
	return code
}

func (e *Executor) auditEvent(wo *workorder.WorkOrder, action, resource string, metadata map[string]any) {
	if err := e.auditLog.Record(wo.TenantID, wo.WorkOrderID, audit.EventBilling, action, resource, metadata); err != nil {
		e.logger.Warn("audit record failed", "action", action, "error", err)
	}
}

func stepStatuses(steps []StepOutcome) []runstate.Status {
	out := make([]runstate.Status, len(steps))
	for i, s := range steps {
		out[i] = s.Status
	}
	return out
}

// publish uploads completed packaging artifacts when the workorder asked
// for them and a publisher is wired. Returns true only when every artifact
// published.
func (e *Executor) publish(ctx context.Context, wo *workorder.WorkOrder, out *Outcome, logger *slog.Logger) bool {
	if !wo.ArtifactsRequested || e.deps.Publisher == nil {
		return false
	}
	for _, s := range out.Steps {
		if s.Status != runstate.StatusCompleted {
			return false
		}
	}
	published := false
	for _, s := range out.Steps {
		if s.OutputRef == "" {
			continue
		}
		step, ok := wo.Step(s.StepID)
		if !ok || step.Kind != registry.KindPackaging {
			continue
		}
		r, err := e.deps.Publisher.Publish(ctx, wo.TenantID, wo.WorkOrderID, s.OutputRef)
		if err != nil {
			logger.Error("publish failed", "step_id", s.StepID, "error", err)
			return false
		}
		out.Receipts = append(out.Receipts, r)
		published = true
	}
	return published
}

// outputsDirFor scopes runtime writes per workorder and step; sibling
// workorders never share a tree.
func (e *Executor) outputsDirFor(wo *workorder.WorkOrder, stepID string) string {
	return filepath.Join(e.deps.RuntimeRoot, "runs", wo.TenantID, wo.WorkOrderID, stepID)
}
