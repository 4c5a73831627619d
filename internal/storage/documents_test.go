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

func testDocument(id, sourceID string) model.Document {
	return model.Document{
		ID:       id,
		SourceID: sourceID,
		Filename: "invoice-" + id + ".pdf",
		MimeType: "application/pdf",
		Email: model.EmailMeta{
			MessageID:   "msg-" + id,
			Subject:     "Your invoice",
			Sender:      "billing@acme.example",
			MessageDate: time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC),
		},
	}
}

func TestCreateAndGetDocument(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	amount := int64(4523)
	extractedDate := time.Date(2025, 3, 8, 0, 0, 0, 0, time.UTC)
	doc := testDocument("doc-1", "src-1")
	doc.ExtractedAmount = &amount
	doc.ExtractedCurrency = "EUR"
	doc.ExtractedDate = &extractedDate
	doc.ExtractedPartner = "Acme GmbH"
	doc.Size = 1234
	doc.ContentHash = "abc123"

	require.NoError(t, store.CreateDocument(ctx, &doc))

	got, err := store.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, doc.Filename, got.Filename)
	assert.Equal(t, doc.SourceID, got.SourceID)
	require.NotNil(t, got.ExtractedAmount)
	assert.Equal(t, amount, *got.ExtractedAmount)
	require.NotNil(t, got.ExtractedDate)
	assert.True(t, got.ExtractedDate.Equal(extractedDate))
	assert.Equal(t, "Acme GmbH", got.ExtractedPartner)
	assert.Equal(t, doc.Email.MessageID, got.Email.MessageID)
	assert.Equal(t, doc.Email.Sender, got.Email.Sender)
	assert.True(t, got.Email.MessageDate.Equal(doc.Email.MessageDate))
	assert.Empty(t, got.TransactionIDs)
	assert.Nil(t, got.DeletedAt)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestGetDocumentNotFound(t *testing.T) {
	store := newTestStorage(t)

	_, err := store.GetDocument(context.Background(), "nope")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestConnectDocumentIdempotent(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	txn := testTransaction("txn-1", time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), -4523)
	require.NoError(t, store.SaveTransactions(ctx, []model.Transaction{txn}))
	doc := testDocument("doc-1", "src-1")
	require.NoError(t, store.CreateDocument(ctx, &doc))

	require.NoError(t, store.ConnectDocument(ctx, "doc-1", "txn-1"))
	require.NoError(t, store.ConnectDocument(ctx, "doc-1", "txn-1"))

	got, err := store.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"txn-1"}, got.TransactionIDs)
}

func TestListDocumentsFilters(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	txn := testTransaction("txn-1", time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), -4523)
	require.NoError(t, store.SaveTransactions(ctx, []model.Transaction{txn}))

	connected := testDocument("doc-connected", "src-1")
	loose := testDocument("doc-loose", "src-1")
	other := testDocument("doc-other", "src-2")
	for _, doc := range []model.Document{connected, loose, other} {
		d := doc
		require.NoError(t, store.CreateDocument(ctx, &d))
	}
	require.NoError(t, store.ConnectDocument(ctx, connected.ID, txn.ID))

	bySource, err := store.ListDocuments(ctx, service.DocumentFilter{SourceID: "src-1"})
	require.NoError(t, err)
	assert.Len(t, bySource, 2)

	unconnected, err := store.ListDocuments(ctx, service.DocumentFilter{Unconnected: true})
	require.NoError(t, err)
	require.Len(t, unconnected, 2)
	for _, doc := range unconnected {
		assert.NotEqual(t, connected.ID, doc.ID)
	}

	byTxn, err := store.ListDocuments(ctx, service.DocumentFilter{TransactionID: txn.ID})
	require.NoError(t, err)
	require.Len(t, byTxn, 1)
	assert.Equal(t, connected.ID, byTxn[0].ID)

	limited, err := store.ListDocuments(ctx, service.DocumentFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSoftDeleteSparesConnectedDocuments(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	txn := testTransaction("txn-1", time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), -4523)
	require.NoError(t, store.SaveTransactions(ctx, []model.Transaction{txn}))

	connected := testDocument("doc-connected", "src-1")
	loose := testDocument("doc-loose", "src-1")
	for _, doc := range []model.Document{connected, loose} {
		d := doc
		require.NoError(t, store.CreateDocument(ctx, &d))
	}
	require.NoError(t, store.ConnectDocument(ctx, connected.ID, txn.ID))

	deleted, err := store.SoftDeleteDocuments(ctx, service.DocumentFilter{SourceID: "src-1", Unconnected: true})
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	visible, err := store.ListDocuments(ctx, service.DocumentFilter{SourceID: "src-1"})
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, connected.ID, visible[0].ID)

	// Tombstoned documents are still fetchable directly and flagged.
	tombstoned, err := store.GetDocument(ctx, loose.ID)
	require.NoError(t, err)
	assert.NotNil(t, tombstoned.DeletedAt)

	restored, err := store.RestoreDocuments(ctx, service.DocumentFilter{SourceID: "src-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, restored)

	visible, err = store.ListDocuments(ctx, service.DocumentFilter{SourceID: "src-1"})
	require.NoError(t, err)
	assert.Len(t, visible, 2)
}
