package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore mirrors the ledger into PostgreSQL for deployments where
// the CSV directory is not the system of record. Rows are append-only;
// Save inserts with ON CONFLICT DO NOTHING so a re-flush after a partial
// failure never duplicates.
//
// Driver registration (lib/pq) is the caller's concern.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS transactions (
	transaction_id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	work_order_id TEXT NOT NULL,
	type TEXT NOT NULL,
	amount_credits BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	reason_code TEXT,
	note TEXT,
	metadata_json TEXT
);
CREATE TABLE IF NOT EXISTS transaction_items (
	transaction_item_id TEXT PRIMARY KEY,
	transaction_id TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	module_id TEXT,
	work_order_id TEXT NOT NULL,
	step_id TEXT,
	deliverable_id TEXT,
	feature TEXT,
	type TEXT NOT NULL,
	amount_credits BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	note TEXT,
	metadata_json TEXT
);
CREATE TABLE IF NOT EXISTS tenants_credits (
	tenant_id TEXT PRIMARY KEY,
	credits_available BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	status TEXT
);
`

// Init creates the ledger tables.
func (s *PostgresStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, postgresSchema)
	return err
}

func (s *PostgresStore) Load(ctx context.Context) (Snapshot, error) {
	var snap Snapshot

	rows, err := s.db.QueryContext(ctx, `
		SELECT transaction_id, tenant_id, work_order_id, type, amount_credits,
		       created_at, reason_code, note, metadata_json
		FROM transactions ORDER BY created_at, transaction_id`)
	if err != nil {
		return Snapshot{}, fmt.Errorf("ledger: query transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var tx Transaction
		var reason, note, meta sql.NullString
		var createdAt time.Time
		if err := rows.Scan(&tx.TransactionID, &tx.TenantID, &tx.WorkOrderID, &tx.Type,
			&tx.AmountCredits, &createdAt, &reason, &note, &meta); err != nil {
			return Snapshot{}, err
		}
		tx.CreatedAt = createdAt.UTC()
		tx.ReasonCode = reason.String
		tx.Note = note.String
		if tx.Metadata, err = unmarshalMeta(meta.String); err != nil {
			return Snapshot{}, fmt.Errorf("ledger: transaction %s metadata: %w", tx.TransactionID, err)
		}
		snap.Transactions = append(snap.Transactions, tx)
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, err
	}

	itemRows, err := s.db.QueryContext(ctx, `
		SELECT transaction_item_id, transaction_id, tenant_id, module_id, work_order_id,
		       step_id, deliverable_id, feature, type, amount_credits, created_at, note, metadata_json
		FROM transaction_items ORDER BY created_at, transaction_item_id`)
	if err != nil {
		return Snapshot{}, fmt.Errorf("ledger: query transaction_items: %w", err)
	}
	defer func() { _ = itemRows.Close() }()
	for itemRows.Next() {
		var it Item
		var module, step, deliverable, feature, note, meta sql.NullString
		var createdAt time.Time
		if err := itemRows.Scan(&it.TransactionItemID, &it.TransactionID, &it.TenantID,
			&module, &it.WorkOrderID, &step, &deliverable, &feature, &it.Type,
			&it.AmountCredits, &createdAt, &note, &meta); err != nil {
			return Snapshot{}, err
		}
		it.ModuleID, it.StepID, it.DeliverableID = module.String, step.String, deliverable.String
		it.Feature, it.Note = feature.String, note.String
		it.CreatedAt = createdAt.UTC()
		if it.Metadata, err = unmarshalMeta(meta.String); err != nil {
			return Snapshot{}, fmt.Errorf("ledger: item %s metadata: %w", it.TransactionItemID, err)
		}
		snap.Items = append(snap.Items, it)
	}
	if err := itemRows.Err(); err != nil {
		return Snapshot{}, err
	}

	creditRows, err := s.db.QueryContext(ctx,
		`SELECT tenant_id, credits_available, updated_at, status FROM tenants_credits`)
	if err != nil {
		return Snapshot{}, fmt.Errorf("ledger: query tenants_credits: %w", err)
	}
	defer func() { _ = creditRows.Close() }()
	for creditRows.Next() {
		var c TenantCredits
		var status sql.NullString
		var updatedAt time.Time
		if err := creditRows.Scan(&c.TenantID, &c.CreditsAvailable, &updatedAt, &status); err != nil {
			return Snapshot{}, err
		}
		c.UpdatedAt = updatedAt.UTC()
		c.Status = status.String
		snap.Credits = append(snap.Credits, c)
	}
	return snap, creditRows.Err()
}

func (s *PostgresStore) Save(ctx context.Context, snap Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ledger: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, t := range snap.Transactions {
		meta, err := marshalMeta(t.Metadata)
		if err != nil {
			return fmt.Errorf("ledger: transaction %s metadata: %w", t.TransactionID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO transactions
				(transaction_id, tenant_id, work_order_id, type, amount_credits, created_at, reason_code, note, metadata_json)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (transaction_id) DO NOTHING`,
			t.TransactionID, t.TenantID, t.WorkOrderID, t.Type, t.AmountCredits,
			t.CreatedAt, t.ReasonCode, t.Note, meta); err != nil {
			return fmt.Errorf("ledger: insert transaction %s: %w", t.TransactionID, err)
		}
	}
	for _, it := range snap.Items {
		meta, err := marshalMeta(it.Metadata)
		if err != nil {
			return fmt.Errorf("ledger: item %s metadata: %w", it.TransactionItemID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO transaction_items
				(transaction_item_id, transaction_id, tenant_id, module_id, work_order_id,
				 step_id, deliverable_id, feature, type, amount_credits, created_at, note, metadata_json)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			ON CONFLICT (transaction_item_id) DO NOTHING`,
			it.TransactionItemID, it.TransactionID, it.TenantID, it.ModuleID, it.WorkOrderID,
			it.StepID, it.DeliverableID, it.Feature, it.Type, it.AmountCredits,
			it.CreatedAt, it.Note, meta); err != nil {
			return fmt.Errorf("ledger: insert item %s: %w", it.TransactionItemID, err)
		}
	}
	for _, c := range snap.Credits {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tenants_credits (tenant_id, credits_available, updated_at, status)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (tenant_id) DO UPDATE
			SET credits_available = EXCLUDED.credits_available,
			    updated_at = EXCLUDED.updated_at,
			    status = EXCLUDED.status`,
			c.TenantID, c.CreditsAvailable, c.UpdatedAt, c.Status); err != nil {
			return fmt.Errorf("ledger: upsert credits %s: %w", c.TenantID, err)
		}
	}
	return tx.Commit()
}
