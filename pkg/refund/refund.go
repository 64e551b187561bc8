// Package refund reverses reserved credits for steps whose failure is
// classified refundable. Amounts come from the prices recorded on the
// reservation transaction, never from the live price book, so a price
// change between reservation and refund cannot alter what the tenant gets
// back. All writes dedupe through the ledger's idempotency keys.
package refund

import (
	"fmt"

	"github.com/agenda-podcast/Platform-sub001/pkg/idempotency"
	"github.com/agenda-podcast/Platform-sub001/pkg/ledger"
	"github.com/agenda-podcast/Platform-sub001/pkg/pricebook"
	"github.com/agenda-podcast/Platform-sub001/pkg/reason"
)

// Candidate is one step the executor nominates for a refund decision.
type Candidate struct {
	StepID                string
	ModuleID              string
	RequestedDeliverables []string
	ReasonCode            reason.Code
	// RefundEligible is the module's own assertion of non-delivery. Steps
	// that never ran (stopped plan, cancellation) are eligible by
	// construction.
	RefundEligible bool
}

// Result summarizes what the engine emitted for one workorder.
type Result struct {
	TotalRefunded int64
	Transactions  []ledger.Transaction
	SkippedSteps  []string
}

// Engine computes and posts refunds.
type Engine struct {
	ledger  *ledger.Ledger
	catalog *reason.Catalog
}

// New creates a refund engine over the shared ledger and reason catalog.
func New(l *ledger.Ledger, catalog *reason.Catalog) *Engine {
	return &Engine{ledger: l, catalog: catalog}
}

// Emit posts one REFUND transaction per qualifying candidate. A candidate
// qualifies when its reason is refundable in the catalog AND the module
// asserted non-delivery. The refund amount is the sum of the candidate's
// charged prices from the reservation metadata; a step whose charges sum
// to zero emits nothing.
func (e *Engine) Emit(tenantID, workOrderID string, reservation ledger.Transaction, candidates []Candidate) (Result, error) {
	charged := chargedPrices(reservation)
	var res Result

	for _, c := range candidates {
		refundable, err := e.catalog.Refundable(c.ReasonCode)
		if err != nil {
			return res, fmt.Errorf("refund: step %s: %w", c.StepID, err)
		}
		if !refundable || !c.RefundEligible {
			res.SkippedSteps = append(res.SkippedSteps, c.StepID)
			continue
		}

		tx, amount, err := e.emitStep(tenantID, workOrderID, charged, c)
		if err != nil {
			return res, err
		}
		if amount == 0 {
			continue
		}
		res.TotalRefunded += amount
		res.Transactions = append(res.Transactions, tx)
	}
	return res, nil
}

func (e *Engine) emitStep(tenantID, workOrderID string, charged map[string]int64, c Candidate) (ledger.Transaction, int64, error) {
	reasonKey := string(c.ReasonCode)

	type line struct {
		deliverableID string
		key           string
		amount        int64
	}
	var lines []line
	var total int64

	if amount, ok := charged[c.StepID+"/"+pricebook.RunDeliverable]; ok && amount > 0 {
		lines = append(lines, line{
			deliverableID: pricebook.RunDeliverable,
			key:           idempotency.Refund(tenantID, workOrderID, c.StepID, c.ModuleID, pricebook.RunDeliverable, reasonKey),
			amount:        amount,
		})
		total += amount
	}
	for _, d := range c.RequestedDeliverables {
		amount, ok := charged[c.StepID+"/"+d]
		if !ok || amount <= 0 {
			continue
		}
		lines = append(lines, line{
			deliverableID: d,
			key:           idempotency.Refund(tenantID, workOrderID, c.StepID, c.ModuleID, d, reasonKey),
			amount:        amount,
		})
		total += amount
	}
	if total == 0 {
		return ledger.Transaction{}, 0, nil
	}

	txKey := idempotency.Refund(tenantID, workOrderID, c.StepID, c.ModuleID, "", reasonKey)
	tx, applied, err := e.ledger.PostTransaction(ledger.Transaction{
		TenantID:      tenantID,
		WorkOrderID:   workOrderID,
		Type:          ledger.TypeRefund,
		AmountCredits: total,
		ReasonCode:    string(c.ReasonCode),
		Metadata:      map[string]any{ledger.MetaIdempotencyKey: txKey},
	})
	if err != nil {
		return ledger.Transaction{}, 0, fmt.Errorf("refund: step %s: %w", c.StepID, err)
	}
	if !applied {
		// Prior run already refunded this step; items are deduped too.
		return tx, 0, nil
	}

	for _, ln := range lines {
		_, _, err := e.ledger.PostTransactionItem(ledger.Item{
			TransactionID: tx.TransactionID,
			TenantID:      tenantID,
			ModuleID:      c.ModuleID,
			WorkOrderID:   workOrderID,
			StepID:        c.StepID,
			DeliverableID: ln.deliverableID,
			Type:          ledger.TypeRefund,
			AmountCredits: ln.amount,
			Metadata:      map[string]any{ledger.MetaIdempotencyKey: ln.key},
		})
		if err != nil {
			return tx, total, fmt.Errorf("refund: step %s item %s: %w", c.StepID, ln.deliverableID, err)
		}
	}
	return tx, total, nil
}

// chargedPrices reads the reservation's recorded per-deliverable prices.
// Values arrive as float64 after a JSON round trip through the store.
func chargedPrices(reservation ledger.Transaction) map[string]int64 {
	out := map[string]int64{}
	raw, _ := reservation.Metadata[ledger.MetaChargedPrices].(map[string]any)
	for key, v := range raw {
		switch n := v.(type) {
		case int64:
			out[key] = n
		case int:
			out[key] = int64(n)
		case float64:
			out[key] = int64(n)
		}
	}
	return out
}
