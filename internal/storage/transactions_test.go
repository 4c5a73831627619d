package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docmatch/docmatch/internal/common"
	"github.com/docmatch/docmatch/internal/model"
	"github.com/docmatch/docmatch/internal/service"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()

	store, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testTransaction(id string, date time.Time, amount int64) model.Transaction {
	txn := model.Transaction{
		ID:               id,
		Date:             date,
		Description:      "Card payment " + id,
		CounterpartyName: "Acme GmbH",
		Amount:           amount,
		Currency:         "EUR",
		AccountID:        "acct-1",
	}
	txn.Hash = txn.GenerateHash()
	return txn
}

func TestSaveTransactionsDeduplicatesByHash(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	txn := testTransaction("txn-1", time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), -4523)
	require.NoError(t, store.SaveTransactions(ctx, []model.Transaction{txn}))

	// Same hash under a different id is a re-import of the same statement
	// line and must be ignored.
	dup := txn
	dup.ID = "txn-1-reimport"
	require.NoError(t, store.SaveTransactions(ctx, []model.Transaction{dup}))

	txns, err := store.ListTransactions(ctx, service.TransactionFilter{})
	require.NoError(t, err)
	assert.Len(t, txns, 1)
	assert.Equal(t, "txn-1", txns[0].ID)
}

func TestSaveTransactionsValidation(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	err := store.SaveTransactions(ctx, nil)
	assert.ErrorIs(t, err, ErrNilParameter)

	err = store.SaveTransactions(ctx, []model.Transaction{})
	assert.ErrorIs(t, err, ErrEmptySlice)

	err = store.SaveTransactions(ctx, []model.Transaction{{ID: "txn-1"}})
	assert.ErrorIs(t, err, ErrInvalidTransaction)
}

func TestGetTransactionNotFound(t *testing.T) {
	store := newTestStorage(t)

	_, err := store.GetTransaction(context.Background(), "nope")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestGetTransactionIncludesConnectedDocuments(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	txn := testTransaction("txn-1", time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), -4523)
	require.NoError(t, store.SaveTransactions(ctx, []model.Transaction{txn}))
	require.NoError(t, store.CreateDocument(ctx, &model.Document{ID: "doc-1", Filename: "invoice.pdf"}))
	require.NoError(t, store.ConnectDocument(ctx, "doc-1", "txn-1"))

	got, err := store.GetTransaction(ctx, "txn-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"doc-1"}, got.DocumentIDs)
	assert.Equal(t, txn.Hash, got.Hash)
	assert.Equal(t, int64(-4523), got.Amount)
}

func TestListTransactionsFilters(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	march := testTransaction("txn-march", time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), -4523)
	april := testTransaction("txn-april", time.Date(2025, 4, 5, 0, 0, 0, 0, time.UTC), -1000)
	april.CounterpartyName = "Hosting Ltd"
	april.Description = "Monthly hosting"
	may := testTransaction("txn-may", time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC), -2000)
	may.PartnerID = "partner-1"
	require.NoError(t, store.SaveTransactions(ctx, []model.Transaction{march, april, may}))

	all, err := store.ListTransactions(ctx, service.TransactionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "txn-may", all[0].ID) // newest first

	from := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 4, 30, 0, 0, 0, 0, time.UTC)
	ranged, err := store.ListTransactions(ctx, service.TransactionFilter{StartDate: &from, EndDate: &to})
	require.NoError(t, err)
	require.Len(t, ranged, 1)
	assert.Equal(t, "txn-april", ranged[0].ID)

	byPartner, err := store.ListTransactions(ctx, service.TransactionFilter{PartnerID: "partner-1"})
	require.NoError(t, err)
	require.Len(t, byPartner, 1)
	assert.Equal(t, "txn-may", byPartner[0].ID)

	byQuery, err := store.ListTransactions(ctx, service.TransactionFilter{Query: "hosting"})
	require.NoError(t, err)
	require.Len(t, byQuery, 1)
	assert.Equal(t, "txn-april", byQuery[0].ID)

	limited, err := store.ListTransactions(ctx, service.TransactionFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestGetLedgerDateRange(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	empty, err := store.GetLedgerDateRange(ctx)
	require.NoError(t, err)
	assert.Nil(t, empty)

	early := testTransaction("txn-early", time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC), -100)
	late := testTransaction("txn-late", time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC), -200)
	require.NoError(t, store.SaveTransactions(ctx, []model.Transaction{early, late}))

	ledger, err := store.GetLedgerDateRange(ctx)
	require.NoError(t, err)
	require.NotNil(t, ledger)
	assert.True(t, ledger.Start.Equal(early.Date))
	assert.True(t, ledger.End.Equal(late.Date))
}
