package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStoreSaveInsertsWithConflictGuard(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	snap := Snapshot{
		Transactions: []Transaction{{
			TransactionID: "tx1", TenantID: "t1", WorkOrderID: "wo1",
			Type: TypeSpend, AmountCredits: -15, CreatedAt: now,
			Metadata: map[string]any{MetaIdempotencyKey: "k"},
		}},
		Items: []Item{{
			TransactionItemID: "ti1", TransactionID: "tx1", TenantID: "t1",
			WorkOrderID: "wo1", StepID: "s1", DeliverableID: "__run__",
			Type: TypeSpend, AmountCredits: -5, CreatedAt: now,
			Metadata: map[string]any{MetaIdempotencyKey: "ik"},
		}},
		Credits: []TenantCredits{{TenantID: "t1", CreditsAvailable: 85, UpdatedAt: now, Status: "ACTIVE"}},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO transactions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO transaction_items").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO tenants_credits").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	store := NewPostgresStore(db)
	require.NoError(t, store.Save(context.Background(), snap))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreLoad(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT (.+) FROM transactions").WillReturnRows(
		sqlmock.NewRows([]string{"transaction_id", "tenant_id", "work_order_id", "type",
			"amount_credits", "created_at", "reason_code", "note", "metadata_json"}).
			AddRow("tx1", "t1", "wo1", "SPEND", int64(-15), now, "001000001", "",
				`{"idempotency_key":"k"}`))
	mock.ExpectQuery("SELECT (.+) FROM transaction_items").WillReturnRows(
		sqlmock.NewRows([]string{"transaction_item_id", "transaction_id", "tenant_id",
			"module_id", "work_order_id", "step_id", "deliverable_id", "feature", "type",
			"amount_credits", "created_at", "note", "metadata_json"}))
	mock.ExpectQuery("SELECT (.+) FROM tenants_credits").WillReturnRows(
		sqlmock.NewRows([]string{"tenant_id", "credits_available", "updated_at", "status"}).
			AddRow("t1", int64(85), now, "ACTIVE"))

	store := NewPostgresStore(db)
	snap, err := store.Load(context.Background())
	require.NoError(t, err)

	require.Len(t, snap.Transactions, 1)
	assert.Equal(t, "k", snap.Transactions[0].IdempotencyKey())
	require.Len(t, snap.Credits, 1)
	assert.Equal(t, int64(85), snap.Credits[0].CreditsAvailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreSaveRollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO transactions").WillReturnError(assert.AnError)
	mock.ExpectRollback()

	store := NewPostgresStore(db)
	err = store.Save(context.Background(), Snapshot{Transactions: []Transaction{{
		TransactionID: "tx1", TenantID: "t1", WorkOrderID: "wo1", Type: TypeSpend,
	}}})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
