// Package pricebook resolves (module, deliverable) pairs to credit prices
// with effective-window selection and a repo-level fallback table.
package pricebook

import (
	"errors"
	"fmt"
	"time"

	"github.com/agenda-podcast/Platform-sub001/pkg/ident"
)

// RunDeliverable is the special deliverable representing the base module
// invocation charge.
const RunDeliverable = "__run__"

// ErrMissingPrice is returned when neither table yields an effective row.
// It is fatal for planning: a workorder is never reserved at a guessed price.
var ErrMissingPrice = errors.New("pricebook: no effective price")

// Row is one price entry. Zero EffectiveFrom/EffectiveTo mean an open bound.
type Row struct {
	ModuleID      string
	DeliverableID string
	Credits       int64
	EffectiveFrom time.Time
	EffectiveTo   time.Time
	Active        bool

	seq int // insertion order; breaks EffectiveFrom ties deterministically
}

// Book holds the tenant-directory price table plus the repo-level fallback.
type Book struct {
	primary  []Row
	fallback []Row
}

// New builds a Book. Row order is preserved and used as the documented
// total order when two effective rows share the same EffectiveFrom: the
// earlier-inserted row wins.
func New(primary, fallback []Row) *Book {
	b := &Book{
		primary:  make([]Row, len(primary)),
		fallback: make([]Row, len(fallback)),
	}
	copy(b.primary, primary)
	copy(b.fallback, fallback)
	for i := range b.primary {
		b.primary[i].seq = i
	}
	for i := range b.fallback {
		b.fallback[i].seq = i
	}
	return b
}

// Price resolves the credit price effective at the given instant.
func (b *Book) Price(moduleID, deliverableID string, at time.Time) (int64, error) {
	moduleID, err := ident.CanonicalForMatch(moduleID)
	if err != nil {
		return 0, fmt.Errorf("pricebook: module id: %w", err)
	}
	deliverableID, err = ident.Canonical(deliverableID)
	if err != nil {
		return 0, fmt.Errorf("pricebook: deliverable id: %w", err)
	}

	if row, ok := pick(b.primary, moduleID, deliverableID, at); ok {
		return row.Credits, nil
	}
	if row, ok := pick(b.fallback, moduleID, deliverableID, at); ok {
		return row.Credits, nil
	}
	return 0, fmt.Errorf("%w: module=%s deliverable=%s at=%s",
		ErrMissingPrice, moduleID, deliverableID, ident.Timestamp(at))
}

func pick(rows []Row, moduleID, deliverableID string, at time.Time) (Row, bool) {
	var best Row
	found := false
	for _, r := range rows {
		m, err := ident.CanonicalForMatch(r.ModuleID)
		if err != nil || m != moduleID || r.DeliverableID != deliverableID {
			continue
		}
		if !r.Active {
			continue
		}
		if !r.EffectiveFrom.IsZero() && r.EffectiveFrom.After(at) {
			continue
		}
		if !r.EffectiveTo.IsZero() && r.EffectiveTo.Before(at) {
			continue
		}
		if !found {
			best, found = r, true
			continue
		}
		if r.EffectiveFrom.After(best.EffectiveFrom) {
			best = r
		}
		// Equal EffectiveFrom: keep the earlier-inserted row (lower seq).
	}
	return best, found
}
