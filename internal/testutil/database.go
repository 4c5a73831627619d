// Package testutil provides shared helpers for tests that need a real
// storage backend or canned domain fixtures.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/docmatch/docmatch/internal/model"
	"github.com/docmatch/docmatch/internal/service"
	"github.com/docmatch/docmatch/internal/storage"
)

// TestDB wraps an in-memory storage instance for a single test.
type TestDB struct {
	Storage service.Storage
	t       *testing.T
}

// SetupTestDB creates a migrated in-memory SQLite database. Cleanup is
// registered automatically.
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = store.Close()
	})

	return &TestDB{Storage: store, t: t}
}

// SeedTransaction stores a transaction and returns it.
func (db *TestDB) SeedTransaction(txn model.Transaction) model.Transaction {
	db.t.Helper()
	if err := db.Storage.SaveTransactions(context.Background(), []model.Transaction{txn}); err != nil {
		db.t.Fatalf("failed to seed transaction %s: %v", txn.ID, err)
	}
	return txn
}

// SeedDocument stores a document and returns it.
func (db *TestDB) SeedDocument(doc model.Document) model.Document {
	db.t.Helper()
	if err := db.Storage.CreateDocument(context.Background(), &doc); err != nil {
		db.t.Fatalf("failed to seed document %s: %v", doc.ID, err)
	}
	return doc
}

// SeedSource stores a source and returns it.
func (db *TestDB) SeedSource(src model.Source) model.Source {
	db.t.Helper()
	if err := db.Storage.CreateSource(context.Background(), &src); err != nil {
		db.t.Fatalf("failed to seed source %s: %v", src.ID, err)
	}
	return src
}

// Transaction returns a plausible ledger transaction for tests. Overrides
// are applied by the caller on the returned value.
func Transaction(id string, amount int64) model.Transaction {
	txn := model.Transaction{
		ID:               id,
		Date:             time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		Description:      "Card payment " + id,
		CounterpartyName: "Acme GmbH",
		Amount:           amount,
		Currency:         "EUR",
		AccountID:        "acct-1",
	}
	txn.Hash = txn.GenerateHash()
	return txn
}

// Document returns a downloaded document fixture.
func Document(id, sourceID string) model.Document {
	return model.Document{
		ID:        id,
		SourceID:  sourceID,
		Filename:  "invoice-" + id + ".pdf",
		MimeType:  "application/pdf",
		CreatedAt: time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC),
		Email: model.EmailMeta{
			MessageID:   "msg-" + id,
			Subject:     "Your invoice",
			Sender:      "billing@acme.example",
			MessageDate: time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC),
			AccountID:   sourceID,
		},
	}
}

// Source returns a connected, syncable mailbox source fixture.
func Source(id string) model.Source {
	return model.Source{
		ID:                id,
		ExternalAccountID: "ext-" + id,
		Email:             id + "@example.com",
		Active:            true,
	}
}
