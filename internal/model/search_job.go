package model

import "time"

// JobScope describes what a search job covers.
type JobScope string

const (
	// ScopeSingleTransaction searches candidates for one transaction.
	ScopeSingleTransaction JobScope = "single_transaction"
	// ScopeSyncRange scans a mailbox date range for new documents.
	ScopeSyncRange JobScope = "sync_range"
)

// JobStatus is the lifecycle state of a search job. Terminal states are
// final: a completed or failed job is never resumed, a fresh job is enqueued
// instead.
type JobStatus string

const (
	// JobPending means the job is queued and waiting for a consumer.
	JobPending JobStatus = "pending"
	// JobProcessing means a consumer is executing the job's strategies.
	JobProcessing JobStatus = "processing"
	// JobCompleted means every strategy ran or the pipeline early-exited.
	JobCompleted JobStatus = "completed"
	// JobFailed means the job terminally failed.
	JobFailed JobStatus = "failed"
)

// DefaultMaxRetries bounds how many fresh jobs a producer may enqueue after
// terminal failures of the same request.
const DefaultMaxRetries = 3

// SearchJob is one persisted search or sync request. It is created by a
// trigger, mutated only by the pipeline or scheduler consuming it, and read
// by pollers.
type SearchJob struct {
	CreatedAt            time.Time
	UpdatedAt            time.Time
	StartedAt            *time.Time
	CompletedAt          *time.Time
	DateFrom             *time.Time // sync_range only
	DateTo               *time.Time // sync_range only
	ID                   string
	Scope                JobScope
	Status               JobStatus
	TransactionID        string // single_transaction only
	SourceID             string
	Strategies           []string
	Errors               []string
	ProcessedMessageIDs  []string // Accumulates across a sync run
	CurrentStrategyIndex int
	Progress             int // 0..100, monotonically increasing
	FilesConnected       int
	AttachmentsSkipped   int
	EmailsProcessed      int
	RetryCount           int
	MaxRetries           int
}

// IsTerminal reports whether the job reached a final state.
func (j *SearchJob) IsTerminal() bool {
	return j.Status == JobCompleted || j.Status == JobFailed
}

// IsOpen reports whether the job still counts against the one-open-job
// exclusivity invariant for its transaction or source.
func (j *SearchJob) IsOpen() bool {
	return j.Status == JobPending || j.Status == JobProcessing
}

// HasProcessedMessage reports whether a mailbox message id was already
// handled by this job.
func (j *SearchJob) HasProcessedMessage(messageID string) bool {
	for _, id := range j.ProcessedMessageIDs {
		if id == messageID {
			return true
		}
	}
	return false
}
