// Package idempotency derives the stable keys that make billing and
// execution events logically unique. Keys are pure functions of their
// input tuples: no clocks, no randomness, identical across processes and
// releases. The derivation is SHA-256 over an RFC 8785 canonical JSON
// array carrying a per-key domain tag, so keys from different families
// can never collide even for identical tuples.
package idempotency

import (
	"github.com/agenda-podcast/Platform-sub001/pkg/canonical"
)

const (
	domainWorkOrderSpend    = "workorder_spend"
	domainStepRunCharge     = "step_run_charge"
	domainDeliverableCharge = "deliverable_charge"
	domainRefund            = "refund"
	domainStepRun           = "step_run"
	domainAuditEvent        = "audit_event"
)

func derive(domain string, fields ...string) string {
	tuple := make([]string, 0, len(fields)+1)
	tuple = append(tuple, domain)
	tuple = append(tuple, fields...)
	h, err := canonical.Hash(tuple)
	if err != nil {
		// A []string never fails canonical marshalling; keep the signature pure.
		panic(err)
	}
	return h
}

// WorkOrderSpend identifies the reservation SPEND for one workorder plan.
func WorkOrderSpend(tenantID, workOrderID, workOrderPath, planType string) string {
	return derive(domainWorkOrderSpend, tenantID, workOrderID, workOrderPath, planType)
}

// StepRunCharge identifies the base ("__run__") charge item of one step.
func StepRunCharge(tenantID, workOrderID, stepID, moduleID string) string {
	return derive(domainStepRunCharge, tenantID, workOrderID, stepID, moduleID)
}

// DeliverableCharge identifies the charge item for one named deliverable.
func DeliverableCharge(tenantID, workOrderID, stepID, moduleID, deliverableID string) string {
	return derive(domainDeliverableCharge, tenantID, workOrderID, stepID, moduleID, deliverableID)
}

// Refund identifies one refund event. reasonKey distinguishes refunds of
// the same deliverable issued for different classified reasons.
func Refund(tenantID, workOrderID, stepID, moduleID, deliverableID, reasonKey string) string {
	return derive(domainRefund, tenantID, workOrderID, stepID, moduleID, deliverableID, reasonKey)
}

// StepRun identifies the execution attempt of one step; re-running the
// same workorder reuses the prior step-run record under this key.
func StepRun(tenantID, workOrderID, stepID, moduleID string) string {
	return derive(domainStepRun, tenantID, workOrderID, stepID, moduleID)
}

// AuditEvent identifies a zero-amount transaction recording a blocked
// workorder (failed preflight, insufficient credits). Keyed by slug so a
// workorder blocked for a new reason still gets its own audit row.
func AuditEvent(tenantID, workOrderID, workOrderPath, slug string) string {
	return derive(domainAuditEvent, tenantID, workOrderID, workOrderPath, slug)
}
