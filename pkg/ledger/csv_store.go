package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/agenda-podcast/Platform-sub001/pkg/ident"
	"github.com/agenda-podcast/Platform-sub001/pkg/tabular"
)

// Table file names inside the ledger directory.
const (
	FileTenantsCredits   = "tenants_credits.csv"
	FileTransactions     = "transactions.csv"
	FileTransactionItems = "transaction_items.csv"
)

var (
	transactionHeaders = []string{
		"transaction_id", "tenant_id", "work_order_id", "type",
		"amount_credits", "created_at", "reason_code", "note", "metadata_json",
	}
	itemHeaders = []string{
		"transaction_item_id", "transaction_id", "tenant_id", "module_id",
		"work_order_id", "step_id", "deliverable_id", "feature", "type",
		"amount_credits", "created_at", "note", "metadata_json",
	}
	creditHeaders = []string{"tenant_id", "credits_available", "updated_at", "status"}
)

// CSVStore persists the ledger as the three canonical CSV tables. Each
// Save rewrites every table through a temp-file-then-rename, so readers
// always see either the prior or the new state.
type CSVStore struct {
	dir string
}

// NewCSVStore creates a store rooted at dir.
func NewCSVStore(dir string) *CSVStore {
	return &CSVStore{dir: dir}
}

func (s *CSVStore) Load(_ context.Context) (Snapshot, error) {
	var snap Snapshot

	txRows, err := tabular.Read(filepath.Join(s.dir, FileTransactions))
	if err != nil {
		return Snapshot{}, err
	}
	for i, r := range txRows {
		tx, err := txFromRow(r)
		if err != nil {
			return Snapshot{}, fmt.Errorf("ledger: %s row %d: %w", FileTransactions, i+1, err)
		}
		snap.Transactions = append(snap.Transactions, tx)
	}

	itemRows, err := tabular.Read(filepath.Join(s.dir, FileTransactionItems))
	if err != nil {
		return Snapshot{}, err
	}
	for i, r := range itemRows {
		it, err := itemFromRow(r)
		if err != nil {
			return Snapshot{}, fmt.Errorf("ledger: %s row %d: %w", FileTransactionItems, i+1, err)
		}
		snap.Items = append(snap.Items, it)
	}

	creditRows, err := tabular.Read(filepath.Join(s.dir, FileTenantsCredits))
	if err != nil {
		return Snapshot{}, err
	}
	for i, r := range creditRows {
		row, err := creditFromRow(r)
		if err != nil {
			return Snapshot{}, fmt.Errorf("ledger: %s row %d: %w", FileTenantsCredits, i+1, err)
		}
		snap.Credits = append(snap.Credits, row)
	}
	return snap, nil
}

func (s *CSVStore) Save(_ context.Context, snap Snapshot) error {
	txRows := make([]map[string]string, 0, len(snap.Transactions))
	for _, tx := range snap.Transactions {
		row, err := txToRow(tx)
		if err != nil {
			return err
		}
		txRows = append(txRows, row)
	}
	itemRows := make([]map[string]string, 0, len(snap.Items))
	for _, it := range snap.Items {
		row, err := itemToRow(it)
		if err != nil {
			return err
		}
		itemRows = append(itemRows, row)
	}
	creditRows := make([]map[string]string, 0, len(snap.Credits))
	for _, c := range snap.Credits {
		creditRows = append(creditRows, map[string]string{
			"tenant_id":         c.TenantID,
			"credits_available": strconv.FormatInt(c.CreditsAvailable, 10),
			"updated_at":        ident.Timestamp(c.UpdatedAt),
			"status":            c.Status,
		})
	}

	if err := tabular.WriteAtomic(filepath.Join(s.dir, FileTransactions), transactionHeaders, txRows); err != nil {
		return err
	}
	if err := tabular.WriteAtomic(filepath.Join(s.dir, FileTransactionItems), itemHeaders, itemRows); err != nil {
		return err
	}
	return tabular.WriteAtomic(filepath.Join(s.dir, FileTenantsCredits), creditHeaders, creditRows)
}

func txToRow(tx Transaction) (map[string]string, error) {
	meta, err := marshalMeta(tx.Metadata)
	if err != nil {
		return nil, fmt.Errorf("ledger: transaction %s metadata: %w", tx.TransactionID, err)
	}
	return map[string]string{
		"transaction_id": tx.TransactionID,
		"tenant_id":      tx.TenantID,
		"work_order_id":  tx.WorkOrderID,
		"type":           string(tx.Type),
		"amount_credits": strconv.FormatInt(tx.AmountCredits, 10),
		"created_at":     ident.Timestamp(tx.CreatedAt),
		"reason_code":    tx.ReasonCode,
		"note":           tx.Note,
		"metadata_json":  meta,
	}, nil
}

func txFromRow(r map[string]string) (Transaction, error) {
	amount, err := strconv.ParseInt(r["amount_credits"], 10, 64)
	if err != nil {
		return Transaction{}, fmt.Errorf("amount_credits %q: %w", r["amount_credits"], err)
	}
	createdAt, err := time.Parse(time.RFC3339, r["created_at"])
	if err != nil {
		return Transaction{}, fmt.Errorf("created_at %q: %w", r["created_at"], err)
	}
	meta, err := unmarshalMeta(r["metadata_json"])
	if err != nil {
		return Transaction{}, fmt.Errorf("metadata_json: %w", err)
	}
	return Transaction{
		TransactionID: r["transaction_id"],
		TenantID:      r["tenant_id"],
		WorkOrderID:   r["work_order_id"],
		Type:          Type(r["type"]),
		AmountCredits: amount,
		CreatedAt:     createdAt,
		ReasonCode:    r["reason_code"],
		Note:          r["note"],
		Metadata:      meta,
	}, nil
}

func itemToRow(it Item) (map[string]string, error) {
	meta, err := marshalMeta(it.Metadata)
	if err != nil {
		return nil, fmt.Errorf("ledger: item %s metadata: %w", it.TransactionItemID, err)
	}
	return map[string]string{
		"transaction_item_id": it.TransactionItemID,
		"transaction_id":      it.TransactionID,
		"tenant_id":           it.TenantID,
		"module_id":           it.ModuleID,
		"work_order_id":       it.WorkOrderID,
		"step_id":             it.StepID,
		"deliverable_id":      it.DeliverableID,
		"feature":             it.Feature,
		"type":                string(it.Type),
		"amount_credits":      strconv.FormatInt(it.AmountCredits, 10),
		"created_at":          ident.Timestamp(it.CreatedAt),
		"note":                it.Note,
		"metadata_json":       meta,
	}, nil
}

func itemFromRow(r map[string]string) (Item, error) {
	amount, err := strconv.ParseInt(r["amount_credits"], 10, 64)
	if err != nil {
		return Item{}, fmt.Errorf("amount_credits %q: %w", r["amount_credits"], err)
	}
	createdAt, err := time.Parse(time.RFC3339, r["created_at"])
	if err != nil {
		return Item{}, fmt.Errorf("created_at %q: %w", r["created_at"], err)
	}
	meta, err := unmarshalMeta(r["metadata_json"])
	if err != nil {
		return Item{}, fmt.Errorf("metadata_json: %w", err)
	}
	return Item{
		TransactionItemID: r["transaction_item_id"],
		TransactionID:     r["transaction_id"],
		TenantID:          r["tenant_id"],
		ModuleID:          r["module_id"],
		WorkOrderID:       r["work_order_id"],
		StepID:            r["step_id"],
		DeliverableID:     r["deliverable_id"],
		Feature:           r["feature"],
		Type:              Type(r["type"]),
		AmountCredits:     amount,
		CreatedAt:         createdAt,
		Note:              r["note"],
		Metadata:          meta,
	}, nil
}

func creditFromRow(r map[string]string) (TenantCredits, error) {
	available, err := strconv.ParseInt(r["credits_available"], 10, 64)
	if err != nil {
		return TenantCredits{}, fmt.Errorf("credits_available %q: %w", r["credits_available"], err)
	}
	updatedAt, err := time.Parse(time.RFC3339, r["updated_at"])
	if err != nil {
		return TenantCredits{}, fmt.Errorf("updated_at %q: %w", r["updated_at"], err)
	}
	return TenantCredits{
		TenantID:         r["tenant_id"],
		CreditsAvailable: available,
		UpdatedAt:        updatedAt,
		Status:           r["status"],
	}, nil
}

func marshalMeta(meta map[string]any) (string, error) {
	if len(meta) == 0 {
		return "", nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalMeta(s string) (map[string]any, error) {
	if s == "" {
		return nil, nil
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(s), &meta); err != nil {
		return nil, err
	}
	return meta, nil
}
