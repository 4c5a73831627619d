// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/docmatch/docmatch/internal/model"
)

// DateRange represents a time period with start and end dates, inclusive.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the range.
func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// TransactionFilter defines filtering options for transaction queries.
type TransactionFilter struct {
	StartDate *time.Time
	EndDate   *time.Time
	Query     string // Case-insensitive substring on description/counterparty
	PartnerID string
	Limit     int
	Offset    int
}

// DocumentFilter defines filtering options for document queries.
type DocumentFilter struct {
	SourceID       string
	TransactionID  string // Only documents connected to this transaction
	Unconnected    bool   // Only documents with no transaction connection
	IncludeDeleted bool   // Include tombstoned documents
	Limit          int
}

// JobFilter defines filtering options for search job queries.
type JobFilter struct {
	TransactionID string
	SourceID      string
	Scope         model.JobScope
	Statuses      []model.JobStatus
	Limit         int
}

// JobPatch is a partial update of a search job. Nil fields are untouched.
type JobPatch struct {
	Status               *model.JobStatus
	CurrentStrategyIndex *int
	Progress             *int
	FilesConnected       *int
	AttachmentsSkipped   *int
	EmailsProcessed      *int
	RetryCount           *int
	StartedAt            *time.Time
	CompletedAt          *time.Time
	Errors               []string // Replaces the stored list when non-nil
	ProcessedMessageIDs  []string // Replaces the stored list when non-nil
}

// SourcePatch is a partial update of a source. Nil fields are untouched.
type SourcePatch struct {
	Active              *bool
	Paused              *bool
	NeedsReauth         *bool
	DisconnectedAt      *time.Time
	ClearDisconnectedAt bool
	SyncedDateFrom      *time.Time
	SyncedDateTo        *time.Time
	LastSyncAt          *time.Time
	LastError           *string
	ProcessedMessageIDs []string // Replaces the stored set when non-nil
}

// Storage defines the contract for the persistence layer: the ledger, the
// document store, the search job queue and the source registry.
type Storage interface {
	// Transaction operations. The ledger is owned by its importer; the
	// engine only reads transactions and connects documents to them.
	SaveTransactions(ctx context.Context, transactions []model.Transaction) error
	GetTransaction(ctx context.Context, id string) (*model.Transaction, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]model.Transaction, error)
	GetLedgerDateRange(ctx context.Context) (*DateRange, error)

	// Document operations.
	CreateDocument(ctx context.Context, doc *model.Document) error
	GetDocument(ctx context.Context, id string) (*model.Document, error)
	ListDocuments(ctx context.Context, filter DocumentFilter) ([]model.Document, error)
	ConnectDocument(ctx context.Context, docID, txnID string) error
	SoftDeleteDocuments(ctx context.Context, filter DocumentFilter) (int, error)
	RestoreDocuments(ctx context.Context, filter DocumentFilter) (int, error)

	// Search job queue operations.
	CreateSearchJob(ctx context.Context, job *model.SearchJob) error
	GetSearchJob(ctx context.Context, id string) (*model.SearchJob, error)
	UpdateSearchJob(ctx context.Context, id string, patch JobPatch) error
	ListSearchJobs(ctx context.Context, filter JobFilter) ([]model.SearchJob, error)
	DeleteSearchJob(ctx context.Context, id string) error

	// Source operations.
	CreateSource(ctx context.Context, source *model.Source) error
	GetSource(ctx context.Context, id string) (*model.Source, error)
	ListSources(ctx context.Context) ([]model.Source, error)
	UpdateSource(ctx context.Context, id string, patch SourcePatch) error
	FindSourceByExternalAccountID(ctx context.Context, externalAccountID string) (*model.Source, error)

	// Partner hint operations: known sender domains and learned sender
	// patterns used by the heuristic scoring signals.
	GetPartnerDomains(ctx context.Context, partnerID string) ([]string, error)
	GetLearnedSenders(ctx context.Context, partnerID string) ([]string, error)
	SaveLearnedSender(ctx context.Context, partnerID, sender, sourceID string) error
	SavePartnerDomain(ctx context.Context, partnerID, domain, sourceID string) error
	RemoveSourceHints(ctx context.Context, sourceID string) error

	// Database management.
	Migrate(ctx context.Context) error
	Close() error
}

// MailMessage is a mailbox message as returned by the mailbox client.
type MailMessage struct {
	Date        time.Time
	ID          string
	Subject     string
	From        string
	Snippet     string
	Body        string
	Attachments []AttachmentMeta
}

// AttachmentMeta describes an attachment without its body.
type AttachmentMeta struct {
	ID       string
	Filename string
	MimeType string
	Size     int64
}

// MailboxClient is the boundary to the remote, rate-limited mail provider.
// Implementations own credential handling; the engine holds an injected
// handle and never caches connections globally.
type MailboxClient interface {
	// SearchAttachments runs the given provider-language queries and
	// returns candidate documents with email metadata only. Bodies are
	// not downloaded.
	SearchAttachments(ctx context.Context, accountID string, queries []string) ([]model.Document, error)
	// SearchMessages returns whole messages matching the queries,
	// without attachment bodies.
	SearchMessages(ctx context.Context, accountID string, queries []string) ([]MailMessage, error)
	// FetchMessage fetches a single message with headers and body.
	FetchMessage(ctx context.Context, accountID, messageID string) (*MailMessage, error)
	// FetchAttachment downloads one attachment and reports its mime type.
	FetchAttachment(ctx context.Context, accountID, messageID, attachmentID string) ([]byte, string, error)
	// RevokeCredential revokes the stored credential for the account.
	RevokeCredential(ctx context.Context, accountID string) error
}

// RateProvider resolves FX rates for the connected-amount aggregation view.
// The transaction date is used as the lookup key.
type RateProvider interface {
	Rate(ctx context.Context, from, to string, on time.Time) (float64, error)
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
