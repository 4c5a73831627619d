// Package model defines the core data types shared across the application.
package model

import (
	"fmt"
	"strings"
	"time"
)

// EmailMeta carries the mailbox metadata of a document that originated as an
// email attachment or a whole email. All fields may be empty for uploads.
type EmailMeta struct {
	MessageDate  time.Time
	Subject      string
	Sender       string
	Snippet      string
	Body         string
	MessageID    string
	AttachmentID string
	AccountID    string
}

// Document is a file or email attachment considered as evidence for a
// transaction. A document fetched from a mailbox but not yet downloaded has
// an empty ID; SyntheticID yields a stable identifier for such candidates.
type Document struct {
	CreatedAt         time.Time
	DeletedAt         *time.Time // Soft-delete tombstone
	ExtractedDate     *time.Time
	ExtractedAmount   *int64 // Minor units, absolute value
	ID                string
	MimeType          string
	Filename          string
	SourceID          string // Mailbox source that produced it, empty for uploads
	PartnerID         string
	ExtractedPartner  string
	ExtractedCurrency string // ISO 4217 code, empty when unknown
	ExtractedIBAN     string
	ExtractedText     string
	Email             EmailMeta
	TransactionIDs    []string // Transactions this document is connected to
	Size              int64    // Bytes, 0 when not downloaded
	ContentHash       string   // SHA-256 of the downloaded body
}

// SyntheticID returns the document id, or a deterministic placeholder id for
// candidates that have not been downloaded yet.
func (d *Document) SyntheticID() string {
	if d.ID != "" {
		return d.ID
	}
	if d.Email.AttachmentID != "" {
		return fmt.Sprintf("msg:%s:%s", d.Email.MessageID, d.Email.AttachmentID)
	}
	return fmt.Sprintf("msg:%s", d.Email.MessageID)
}

// IsDownloaded reports whether the document body has been fetched and stored
// locally. Only downloaded documents carry extracted fields.
func (d *Document) IsDownloaded() bool {
	return d.ID != ""
}

// IsConnected reports whether the document is linked to any transaction.
func (d *Document) IsConnected() bool {
	return len(d.TransactionIDs) > 0
}

// IsDeleted reports whether the document is tombstoned.
func (d *Document) IsDeleted() bool {
	return d.DeletedAt != nil
}

// SearchText returns the combined email text used by the heuristic scoring
// signals, lowercased.
func (d *Document) SearchText() string {
	parts := []string{d.Email.Subject, d.Email.Snippet, d.Email.Body}
	return strings.ToLower(strings.Join(parts, " "))
}
