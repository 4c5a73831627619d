package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/docmatch/docmatch/internal/common"
	"github.com/docmatch/docmatch/internal/match"
	"github.com/docmatch/docmatch/internal/model"
	"github.com/docmatch/docmatch/internal/service"
)

// txnMatchWindow is how far around an email date the runner looks for
// transactions to match a new document against. Invoices precede payment,
// so the window reaches much further forward than back.
const (
	txnMatchBack    = 30 * 24 * time.Hour
	txnMatchForward = 180 * 24 * time.Hour
)

// SyncRunner consumes sync_range jobs: it scans one mailbox date gap for new
// attachments, imports the ones that look like documents, and auto-connects
// those that strongly match a ledger transaction.
type SyncRunner struct {
	storage service.Storage
	mailbox service.MailboxClient
	ranker  *match.Ranker
	cfg     Config
}

// NewSyncRunner creates a sync runner.
func NewSyncRunner(storage service.Storage, mailbox service.MailboxClient, ranker *match.Ranker, cfg Config) *SyncRunner {
	if cfg.ExecutionCeiling <= 0 {
		cfg.ExecutionCeiling = DefaultConfig().ExecutionCeiling
	}
	return &SyncRunner{
		storage: storage,
		mailbox: mailbox,
		ranker:  ranker,
		cfg:     cfg,
	}
}

// Run executes one pending sync_range job to a terminal state.
func (r *SyncRunner) Run(ctx context.Context, jobID string) error {
	job, err := r.storage.GetSearchJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load job: %w", err)
	}
	if job.Status != model.JobPending {
		return fmt.Errorf("job %s is %s, expected pending", jobID, job.Status)
	}
	if job.Scope != model.ScopeSyncRange || job.DateFrom == nil || job.DateTo == nil {
		return fmt.Errorf("job %s is not a valid sync_range job", jobID)
	}

	source, err := r.storage.GetSource(ctx, job.SourceID)
	if err != nil {
		return r.fail(ctx, job, fmt.Sprintf("failed to load source %s: %v", job.SourceID, err))
	}
	if source.NeedsReauth {
		return r.fail(ctx, job, fmt.Sprintf("reauth_required: %v", common.ErrReauthRequired))
	}
	if !source.CanSync() {
		return r.fail(ctx, job, fmt.Sprintf("source not syncable: %v", common.ErrSourceDisconnected))
	}

	now := time.Now()
	processing := model.JobProcessing
	if err := r.storage.UpdateSearchJob(ctx, job.ID, service.JobPatch{
		Status:    &processing,
		StartedAt: &now,
	}); err != nil {
		return fmt.Errorf("failed to mark job processing: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, r.cfg.ExecutionCeiling)
	defer cancel()

	slog.Info("Starting mailbox sync",
		"job_id", job.ID,
		"source_id", source.ID,
		"date_from", job.DateFrom.Format("2006-01-02"),
		"date_to", job.DateTo.Format("2006-01-02"))

	query := syncRangeQuery(*job.DateFrom, *job.DateTo)
	candidates, err := r.mailbox.SearchAttachments(runCtx, source.ExternalAccountID, []string{query + " has:attachment"})
	if err != nil {
		return r.failRemote(ctx, job, source, err)
	}

	processed := append([]string{}, job.ProcessedMessageIDs...)
	seen := make(map[string]bool, len(processed))
	for _, id := range processed {
		seen[id] = true
	}

	for i := range candidates {
		if runCtx.Err() != nil {
			return r.fail(ctx, job, fmt.Sprintf("timeout: %v", common.ErrJobTimeout))
		}

		doc := &candidates[i]
		msgID := doc.Email.MessageID
		if seen[msgID] || source.HasProcessedMessage(msgID) {
			job.AttachmentsSkipped++
			continue
		}

		doc.SourceID = source.ID
		doc.Email.AccountID = source.ExternalAccountID

		procErr := r.processCandidate(runCtx, job, doc)
		if procErr != nil {
			if errors.Is(procErr, common.ErrReauthRequired) {
				return r.failRemote(ctx, job, source, procErr)
			}
			job.Errors = append(job.Errors, fmt.Sprintf("message %s: %v", msgID, procErr))
			slog.Warn("Failed to process candidate, continuing",
				"job_id", job.ID,
				"message_id", msgID,
				"error", procErr)
		}

		// A transiently failed message stays unmarked so a later sync
		// retries it.
		if procErr == nil || !common.IsRetryable(procErr) {
			job.EmailsProcessed++
			if !seen[msgID] {
				seen[msgID] = true
				processed = append(processed, msgID)
			}
		}

		// Persist counters incrementally so pollers see progress and a
		// crash never reprocesses handled messages.
		progress := (i + 1) * 100 / len(candidates)
		if err := r.storage.UpdateSearchJob(ctx, job.ID, service.JobPatch{
			Progress:            &progress,
			FilesConnected:      &job.FilesConnected,
			AttachmentsSkipped:  &job.AttachmentsSkipped,
			EmailsProcessed:     &job.EmailsProcessed,
			Errors:              job.Errors,
			ProcessedMessageIDs: processed,
		}); err != nil {
			return fmt.Errorf("failed to persist sync progress: %w", err)
		}
	}

	if err := r.finishSource(ctx, job, source, processed); err != nil {
		return err
	}

	completed := model.JobCompleted
	done := time.Now()
	full := 100
	if err := r.storage.UpdateSearchJob(ctx, job.ID, service.JobPatch{
		Status:              &completed,
		Progress:            &full,
		CompletedAt:         &done,
		FilesConnected:      &job.FilesConnected,
		AttachmentsSkipped:  &job.AttachmentsSkipped,
		EmailsProcessed:     &job.EmailsProcessed,
		Errors:              job.Errors,
		ProcessedMessageIDs: processed,
	}); err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}

	slog.Info("Mailbox sync completed",
		"job_id", job.ID,
		"source_id", source.ID,
		"emails_processed", job.EmailsProcessed,
		"files_connected", job.FilesConnected,
		"attachments_skipped", job.AttachmentsSkipped)
	return nil
}

// processCandidate decides what to do with one new attachment: connect it to
// the best-matching transaction, import it unconnected when it looks like an
// invoice, or drop it.
func (r *SyncRunner) processCandidate(ctx context.Context, job *model.SearchJob, doc *model.Document) error {
	best, txn, err := r.bestTransaction(ctx, doc)
	if err != nil {
		return err
	}

	if best != nil && best.Score >= TransactionMatchThreshold {
		if err := downloadDocument(ctx, r.mailbox, doc); err != nil {
			return err
		}
		if err := r.storage.CreateDocument(ctx, doc); err != nil {
			return fmt.Errorf("failed to store document: %w", err)
		}
		if err := r.storage.ConnectDocument(ctx, doc.ID, txn.ID); err != nil {
			return fmt.Errorf("failed to connect document: %w", err)
		}
		job.FilesConnected++
		saveSenderHints(ctx, r.storage, txn.PartnerID, doc)

		slog.Info("Sync auto-connected document",
			"job_id", job.ID,
			"transaction_id", txn.ID,
			"document_id", doc.ID,
			"score", best.Score)
		return nil
	}

	if match.LooksLikeInvoice(doc) {
		if err := downloadDocument(ctx, r.mailbox, doc); err != nil {
			return err
		}
		if err := r.storage.CreateDocument(ctx, doc); err != nil {
			return fmt.Errorf("failed to store document: %w", err)
		}
		return nil
	}

	job.AttachmentsSkipped++
	return nil
}

// bestTransaction scores the candidate against ledger transactions around
// the email date and returns the best result.
func (r *SyncRunner) bestTransaction(ctx context.Context, doc *model.Document) (*model.MatchResult, *model.Transaction, error) {
	if doc.Email.MessageDate.IsZero() {
		return nil, nil, nil
	}

	from := doc.Email.MessageDate.Add(-txnMatchBack)
	to := doc.Email.MessageDate.Add(txnMatchForward)
	txns, err := r.storage.ListTransactions(ctx, service.TransactionFilter{
		StartDate: &from,
		EndDate:   &to,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	var (
		best    *model.MatchResult
		bestTxn *model.Transaction
	)
	for i := range txns {
		txn := &txns[i]
		hints, hintErr := r.ranker.HintsFor(ctx, txn)
		if hintErr != nil {
			return nil, nil, hintErr
		}

		result := match.Score(txn, doc, hints)
		if best == nil || result.Score > best.Score {
			best = &result
			bestTxn = txn
		}
	}
	return best, bestTxn, nil
}

// finishSource merges the job's dedup state and coverage into the source.
func (r *SyncRunner) finishSource(ctx context.Context, job *model.SearchJob, source *model.Source, processed []string) error {
	merged := append([]string{}, source.ProcessedMessageIDs...)
	have := make(map[string]bool, len(merged))
	for _, id := range merged {
		have[id] = true
	}
	for _, id := range processed {
		if !have[id] {
			merged = append(merged, id)
			have[id] = true
		}
	}

	from := *job.DateFrom
	to := *job.DateTo
	if source.SyncedDateFrom != nil && source.SyncedDateFrom.Before(from) {
		from = *source.SyncedDateFrom
	}
	if source.SyncedDateTo != nil && source.SyncedDateTo.After(to) {
		to = *source.SyncedDateTo
	}

	now := time.Now()
	if err := r.storage.UpdateSource(ctx, source.ID, service.SourcePatch{
		SyncedDateFrom:      &from,
		SyncedDateTo:        &to,
		LastSyncAt:          &now,
		ProcessedMessageIDs: merged,
	}); err != nil {
		return fmt.Errorf("failed to update source sync state: %w", err)
	}
	return nil
}

// failRemote maps a mailbox failure onto the job and, for credential
// failures, flags the source for reauthorization.
func (r *SyncRunner) failRemote(ctx context.Context, job *model.SearchJob, source *model.Source, cause error) error {
	if errors.Is(cause, common.ErrReauthRequired) {
		needsReauth := true
		lastErr := cause.Error()
		if err := r.storage.UpdateSource(ctx, source.ID, service.SourcePatch{
			NeedsReauth: &needsReauth,
			LastError:   &lastErr,
		}); err != nil {
			slog.Error("Failed to flag source for reauth", "source_id", source.ID, "error", err)
		}
		return r.fail(ctx, job, fmt.Sprintf("reauth_required: %v", cause))
	}
	return r.fail(ctx, job, fmt.Sprintf("mailbox error: %v", cause))
}

func (r *SyncRunner) fail(ctx context.Context, job *model.SearchJob, reason string) error {
	failed := model.JobFailed
	done := time.Now()
	jobErrors := append(append([]string{}, job.Errors...), reason)
	if err := r.storage.UpdateSearchJob(ctx, job.ID, service.JobPatch{
		Status:      &failed,
		CompletedAt: &done,
		Errors:      jobErrors,
	}); err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}

	slog.Error("Sync job failed", "job_id", job.ID, "reason", reason)
	return fmt.Errorf("job %s failed: %s", job.ID, reason)
}
