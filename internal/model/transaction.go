package model

import (
	"crypto/sha256"
	"fmt"
	"time"
)

// Transaction is a single ledger entry. The reconciliation engine never
// mutates a transaction beyond appending to its connected document set.
type Transaction struct {
	Date             time.Time
	ID               string
	Description      string // Raw bank statement text
	Currency         string // ISO 4217 code
	CounterpartyName string
	CounterpartyIBAN string
	Reference        string // End-to-end / payment reference
	PartnerID        string // Resolved partner, empty if unassigned
	AccountID        string
	Hash             string
	DocumentIDs      []string // Connected documents
	Amount           int64    // Signed, minor units (cents)
}

// GenerateHash creates a unique hash for duplicate detection on import.
func (t *Transaction) GenerateHash() string {
	data := fmt.Sprintf("%s:%d:%s:%s:%s",
		t.Date.Format("2006-01-02"),
		t.Amount,
		t.Currency,
		t.Description,
		t.AccountID)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// HasDocument reports whether the given document is already connected.
func (t *Transaction) HasDocument(docID string) bool {
	for _, id := range t.DocumentIDs {
		if id == docID {
			return true
		}
	}
	return false
}
