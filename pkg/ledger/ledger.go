// Package ledger owns the append-only billing journal: transactions,
// transaction items, and the per-tenant credit balance cache. Writes are
// deduplicated by idempotency key, accumulated in memory, and flushed
// atomically at the end of a run. On load, balances are recomputed from
// transaction history and reconciled against the stored cache; a mismatch
// warns but does not block.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type is the billable event type of a transaction.
type Type string

const (
	TypeSpend  Type = "SPEND"
	TypeRefund Type = "REFUND"
	TypeTopup  Type = "TOPUP"
)

// MetaIdempotencyKey is the metadata key carrying the dedupe key.
const MetaIdempotencyKey = "idempotency_key"

// MetaChargedPrices stores the per-deliverable prices observed at
// reservation time, keyed "step_id/deliverable_id". Refunds re-use these so
// later price changes never alter refund amounts.
const MetaChargedPrices = "charged_prices"

var (
	// ErrBadTransaction is returned for transactions violating the table
	// invariants (missing key, wrong amount sign for the type).
	ErrBadTransaction = errors.New("ledger: invalid transaction")
	// ErrBadItem is returned for malformed transaction items.
	ErrBadItem = errors.New("ledger: invalid transaction item")
	// ErrInsufficientCredits is returned when a SPEND would take a tenant
	// balance negative.
	ErrInsufficientCredits = errors.New("ledger: insufficient credits")
)

// Transaction is a billable event header.
type Transaction struct {
	TransactionID string         `json:"transaction_id"`
	TenantID      string         `json:"tenant_id"`
	WorkOrderID   string         `json:"work_order_id"`
	Type          Type           `json:"type"`
	AmountCredits int64          `json:"amount_credits"`
	CreatedAt     time.Time      `json:"created_at"`
	ReasonCode    string         `json:"reason_code"`
	Note          string         `json:"note,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// IdempotencyKey returns the dedupe key from metadata, if set.
func (t Transaction) IdempotencyKey() string {
	if t.Metadata == nil {
		return ""
	}
	k, _ := t.Metadata[MetaIdempotencyKey].(string)
	return k
}

// Item is a per-step, per-deliverable breakdown row of a transaction.
type Item struct {
	TransactionItemID string         `json:"transaction_item_id"`
	TransactionID     string         `json:"transaction_id"`
	TenantID          string         `json:"tenant_id"`
	ModuleID          string         `json:"module_id"`
	WorkOrderID       string         `json:"work_order_id"`
	StepID            string         `json:"step_id"`
	DeliverableID     string         `json:"deliverable_id"`
	Feature           string         `json:"feature,omitempty"`
	Type              Type           `json:"type"`
	AmountCredits     int64          `json:"amount_credits"`
	CreatedAt         time.Time      `json:"created_at"`
	Note              string         `json:"note,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// IdempotencyKey returns the dedupe key from metadata, if set.
func (i Item) IdempotencyKey() string {
	if i.Metadata == nil {
		return ""
	}
	k, _ := i.Metadata[MetaIdempotencyKey].(string)
	return k
}

// TenantCredits is the per-tenant balance cache row.
type TenantCredits struct {
	TenantID         string    `json:"tenant_id"`
	CreditsAvailable int64     `json:"credits_available"`
	UpdatedAt        time.Time `json:"updated_at"`
	Status           string    `json:"status"`
}

// Snapshot is the full ledger state a Store persists.
type Snapshot struct {
	Transactions []Transaction
	Items        []Item
	Credits      []TenantCredits
}

// Store persists ledger snapshots. Implementations must be atomic: a
// failed Save leaves the prior state readable.
type Store interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
}

// Ledger is the in-process journal. It is a per-process singleton owned by
// the executor; cross-workorder writes serialize on its mutex.
type Ledger struct {
	mu     sync.Mutex
	store  Store
	clock  func() time.Time
	logger *slog.Logger

	txs     []Transaction
	items   []Item
	credits map[string]TenantCredits

	txByKey   map[string]int // scope key → index in txs
	itemByKey map[string]int // workorder-scoped item key → index in items
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the clock for testing.
func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) { l.clock = clock }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// Open loads the ledger from its store, rebuilds indexes, and reconciles
// stored balances against transaction history.
func Open(ctx context.Context, store Store, opts ...Option) (*Ledger, error) {
	l := &Ledger{
		store:     store,
		clock:     time.Now,
		logger:    slog.Default(),
		credits:   make(map[string]TenantCredits),
		txByKey:   make(map[string]int),
		itemByKey: make(map[string]int),
	}
	for _, opt := range opts {
		opt(l)
	}

	snap, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: load: %w", err)
	}
	l.txs = snap.Transactions
	l.items = snap.Items

	for i, tx := range l.txs {
		if key := tx.IdempotencyKey(); key != "" {
			l.txByKey[txScopeKey(tx.TenantID, tx.WorkOrderID, tx.Type, key)] = i
		}
	}
	for i, it := range l.items {
		if key := it.IdempotencyKey(); key != "" {
			l.itemByKey[itemScopeKey(it.WorkOrderID, key)] = i
		}
	}

	// History is the source of truth; the stored cache is reconciled.
	recomputed := make(map[string]int64)
	for _, tx := range l.txs {
		recomputed[tx.TenantID] += tx.AmountCredits
	}
	stored := make(map[string]TenantCredits, len(snap.Credits))
	for _, c := range snap.Credits {
		stored[c.TenantID] = c
	}
	for tenant, balance := range recomputed {
		row := stored[tenant]
		if row.TenantID != "" && row.CreditsAvailable != balance {
			l.logger.Warn("ledger balance cache disagrees with transaction history",
				"tenant_id", tenant,
				"stored", row.CreditsAvailable,
				"recomputed", balance)
		}
		status := row.Status
		if status == "" {
			status = "ACTIVE"
		}
		updatedAt := row.UpdatedAt
		if updatedAt.IsZero() {
			updatedAt = l.clock()
		}
		l.credits[tenant] = TenantCredits{
			TenantID:         tenant,
			CreditsAvailable: balance,
			UpdatedAt:        updatedAt,
			Status:           status,
		}
	}
	// Tenants with a cache row but no history (e.g. provisioned, never
	// charged) keep their stored row.
	for tenant, row := range stored {
		if _, ok := l.credits[tenant]; !ok {
			l.credits[tenant] = row
		}
	}
	return l, nil
}

func txScopeKey(tenantID, workOrderID string, typ Type, key string) string {
	return tenantID + "\x00" + workOrderID + "\x00" + string(typ) + "\x00" + key
}

func itemScopeKey(workOrderID, key string) string {
	return workOrderID + "\x00" + key
}

// PostTransaction appends a transaction unless one with the same
// idempotency key already exists in its (tenant, workorder, type) scope, in
// which case the prior row is returned with applied=false. Balance updates
// happen inside the same critical section.
func (l *Ledger) PostTransaction(tx Transaction) (Transaction, bool, error) {
	if err := validateTx(tx); err != nil {
		return Transaction{}, false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	scope := txScopeKey(tx.TenantID, tx.WorkOrderID, tx.Type, tx.IdempotencyKey())
	if i, ok := l.txByKey[scope]; ok {
		return l.txs[i], false, nil
	}

	if tx.Type == TypeSpend {
		if bal := l.credits[tx.TenantID].CreditsAvailable; bal+tx.AmountCredits < 0 {
			return Transaction{}, false, fmt.Errorf("%w: tenant=%s available=%d spend=%d",
				ErrInsufficientCredits, tx.TenantID, bal, -tx.AmountCredits)
		}
	}

	if tx.TransactionID == "" {
		tx.TransactionID = uuid.New().String()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = l.clock().UTC()
	}

	l.txs = append(l.txs, tx)
	l.txByKey[scope] = len(l.txs) - 1
	l.applyBalance(tx)
	return tx, true, nil
}

func (l *Ledger) applyBalance(tx Transaction) {
	row, ok := l.credits[tx.TenantID]
	if !ok {
		row = TenantCredits{TenantID: tx.TenantID, Status: "ACTIVE"}
	}
	row.CreditsAvailable += tx.AmountCredits
	row.UpdatedAt = l.clock().UTC()
	l.credits[tx.TenantID] = row
}

func validateTx(tx Transaction) error {
	if tx.TenantID == "" || tx.WorkOrderID == "" {
		return fmt.Errorf("%w: tenant_id and work_order_id required", ErrBadTransaction)
	}
	if tx.IdempotencyKey() == "" {
		return fmt.Errorf("%w: metadata.%s required", ErrBadTransaction, MetaIdempotencyKey)
	}
	switch tx.Type {
	case TypeSpend:
		if tx.AmountCredits > 0 {
			return fmt.Errorf("%w: SPEND amount must be <= 0", ErrBadTransaction)
		}
	case TypeRefund, TypeTopup:
		if tx.AmountCredits < 0 {
			return fmt.Errorf("%w: %s amount must be >= 0", ErrBadTransaction, tx.Type)
		}
	default:
		return fmt.Errorf("%w: type %q", ErrBadTransaction, tx.Type)
	}
	return nil
}

// PostTransactionItem appends an item unless its idempotency key already
// exists among the workorder's items.
func (l *Ledger) PostTransactionItem(item Item) (Item, bool, error) {
	if item.TransactionID == "" || item.WorkOrderID == "" {
		return Item{}, false, fmt.Errorf("%w: transaction_id and work_order_id required", ErrBadItem)
	}
	if item.IdempotencyKey() == "" {
		return Item{}, false, fmt.Errorf("%w: metadata.%s required", ErrBadItem, MetaIdempotencyKey)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	scope := itemScopeKey(item.WorkOrderID, item.IdempotencyKey())
	if i, ok := l.itemByKey[scope]; ok {
		return l.items[i], false, nil
	}

	if item.TransactionItemID == "" {
		item.TransactionItemID = uuid.New().String()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = l.clock().UTC()
	}
	l.items = append(l.items, item)
	l.itemByKey[scope] = len(l.items) - 1
	return item, true, nil
}

// Balance returns the in-memory credit balance, reflecting every prior
// write in this run.
func (l *Ledger) Balance(tenantID string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.credits[tenantID].CreditsAvailable
}

// Credits returns the balance cache row for a tenant.
func (l *Ledger) Credits(tenantID string) (TenantCredits, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	row, ok := l.credits[tenantID]
	return row, ok
}

// Transactions returns a copy of the journal, in append order.
func (l *Ledger) Transactions() []Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Transaction, len(l.txs))
	copy(out, l.txs)
	return out
}

// Items returns a copy of the item journal, in append order.
func (l *Ledger) Items() []Item {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Item, len(l.items))
	copy(out, l.items)
	return out
}

// TransactionByKey returns the transaction posted under the scoped
// idempotency key, if any.
func (l *Ledger) TransactionByKey(tenantID, workOrderID string, typ Type, key string) (Transaction, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i, ok := l.txByKey[txScopeKey(tenantID, workOrderID, typ, key)]; ok {
		return l.txs[i], true
	}
	return Transaction{}, false
}

// Flush persists the full ledger state through the store.
func (l *Ledger) Flush(ctx context.Context) error {
	l.mu.Lock()
	snap := Snapshot{
		Transactions: make([]Transaction, len(l.txs)),
		Items:        make([]Item, len(l.items)),
		Credits:      make([]TenantCredits, 0, len(l.credits)),
	}
	copy(snap.Transactions, l.txs)
	copy(snap.Items, l.items)
	for _, row := range l.credits {
		snap.Credits = append(snap.Credits, row)
	}
	l.mu.Unlock()

	sortCredits(snap.Credits)
	if err := l.store.Save(ctx, snap); err != nil {
		return fmt.Errorf("ledger: flush: %w", err)
	}
	return nil
}

func sortCredits(rows []TenantCredits) {
	// Stable file diffs: order the balance table by tenant.
	sort.Slice(rows, func(i, j int) bool { return rows[i].TenantID < rows[j].TenantID })
}
