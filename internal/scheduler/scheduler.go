package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/docmatch/docmatch/internal/common"
	"github.com/docmatch/docmatch/internal/model"
	"github.com/docmatch/docmatch/internal/service"
)

const (
	// StaleAfter is how long a job may sit in processing before the
	// sweep declares its worker dead and fails it.
	StaleAfter = 30 * time.Minute
	// ManualTriggerInterval rate-limits manual sync triggers per source.
	ManualTriggerInterval = 5 * time.Minute
)

// Scheduler is the producer side of the search job queue. It validates
// requests, enforces exclusivity and rate limits, and computes sync gaps.
type Scheduler struct {
	storage    service.Storage
	now        func() time.Time
	strategies []string // Valid strategy names for single-transaction jobs
}

// New creates a scheduler. strategies is the registered pipeline strategy
// set used to validate trigger requests.
func New(storage service.Storage, strategies []string) *Scheduler {
	return &Scheduler{
		storage:    storage,
		now:        time.Now,
		strategies: strategies,
	}
}

// TriggerSearch enqueues a single-transaction search job. Malformed requests
// are rejected synchronously and never create a job. An open job for the
// same transaction makes this a duplicate; retries of a failed job are
// bounded by the failed job's MaxRetries.
func (s *Scheduler) TriggerSearch(ctx context.Context, txnID string, strategies []string) (*model.SearchJob, error) {
	if txnID == "" {
		return nil, common.NewUserError("transaction id is required", common.ErrInvalidConfig)
	}
	if len(strategies) == 0 {
		strategies = s.strategies
	}
	for _, name := range strategies {
		if !s.knownStrategy(name) {
			return nil, common.NewUserError(fmt.Sprintf("unknown strategy %q", name), common.ErrInvalidConfig)
		}
	}

	if _, err := s.storage.GetTransaction(ctx, txnID); err != nil {
		return nil, fmt.Errorf("failed to load transaction %s: %w", txnID, err)
	}

	open, err := s.openJobs(ctx, service.JobFilter{
		TransactionID: txnID,
		Scope:         model.ScopeSingleTransaction,
	})
	if err != nil {
		return nil, err
	}
	if len(open) > 0 {
		return &open[0], common.ErrDuplicateJob
	}

	retryCount, err := s.nextRetryCount(ctx, service.JobFilter{
		TransactionID: txnID,
		Scope:         model.ScopeSingleTransaction,
	})
	if err != nil {
		return nil, err
	}

	now := s.now()
	job := &model.SearchJob{
		ID:            uuid.NewString(),
		Scope:         model.ScopeSingleTransaction,
		Status:        model.JobPending,
		TransactionID: txnID,
		Strategies:    strategies,
		RetryCount:    retryCount,
		MaxRetries:    model.DefaultMaxRetries,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.storage.CreateSearchJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create search job: %w", err)
	}

	slog.Info("Enqueued search job",
		"job_id", job.ID,
		"transaction_id", txnID,
		"retry_count", retryCount)
	return job, nil
}

// ScheduleSync computes the source's uncovered date gaps and enqueues one
// sync_range job per gap. It never silently drops a request: an open job
// reports ErrAlreadySyncing, a rate-limited manual trigger reports
// ErrRateLimit, and a fully covered range returns an empty slice.
func (s *Scheduler) ScheduleSync(ctx context.Context, sourceID string, manual bool) ([]model.SearchJob, error) {
	if sourceID == "" {
		return nil, common.NewUserError("source id is required", common.ErrInvalidConfig)
	}

	// Fail stuck jobs first so a crashed worker never blocks future
	// syncs indefinitely.
	if _, err := s.SweepStale(ctx); err != nil {
		return nil, err
	}

	source, err := s.storage.GetSource(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load source %s: %w", sourceID, err)
	}
	switch {
	case source.NeedsReauth:
		return nil, common.ErrReauthRequired
	case !source.IsConnected():
		return nil, common.ErrSourceDisconnected
	case source.Paused:
		return nil, common.ErrSourcePaused
	}

	if manual {
		if err := s.checkManualRateLimit(ctx, sourceID); err != nil {
			return nil, err
		}
	}

	open, err := s.openJobs(ctx, service.JobFilter{
		SourceID: sourceID,
		Scope:    model.ScopeSyncRange,
	})
	if err != nil {
		return nil, err
	}
	if len(open) > 0 {
		return nil, common.ErrAlreadySyncing
	}

	ledger, err := s.storage.GetLedgerDateRange(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger range: %w", err)
	}

	now := s.now()
	gaps := ComputeGaps(source, ledger, now)
	if len(gaps) == 0 {
		slog.Info("Source fully synced, nothing to do", "source_id", sourceID)
		return nil, nil
	}

	jobs := make([]model.SearchJob, 0, len(gaps))
	for _, gap := range gaps {
		job := gapJob(source, gap, uuid.NewString(), now)
		if err := s.storage.CreateSearchJob(ctx, job); err != nil {
			return jobs, fmt.Errorf("failed to enqueue gap %s..%s: %w",
				gap.Start.Format("2006-01-02"), gap.End.Format("2006-01-02"), err)
		}
		jobs = append(jobs, *job)

		slog.Info("Enqueued sync job",
			"job_id", job.ID,
			"source_id", sourceID,
			"date_from", gap.Start.Format("2006-01-02"),
			"date_to", gap.End.Format("2006-01-02"))
	}
	return jobs, nil
}

// SweepStale force-fails every job stuck in processing past the staleness
// window and returns how many were swept. Swept jobs are terminal and never
// picked up again.
func (s *Scheduler) SweepStale(ctx context.Context) (int, error) {
	jobs, err := s.storage.ListSearchJobs(ctx, service.JobFilter{
		Statuses: []model.JobStatus{model.JobProcessing},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list processing jobs: %w", err)
	}

	cutoff := s.now().Add(-StaleAfter)
	swept := 0
	for i := range jobs {
		job := &jobs[i]

		started := job.UpdatedAt
		if job.StartedAt != nil && job.StartedAt.After(started) {
			started = *job.StartedAt
		}
		if started.After(cutoff) {
			continue
		}

		failed := model.JobFailed
		done := s.now()
		reason := fmt.Sprintf("timeout: stuck in processing for more than %s", StaleAfter)
		if err := s.storage.UpdateSearchJob(ctx, job.ID, service.JobPatch{
			Status:      &failed,
			CompletedAt: &done,
			Errors:      append(append([]string{}, job.Errors...), reason),
		}); err != nil {
			return swept, fmt.Errorf("failed to sweep job %s: %w", job.ID, err)
		}

		swept++
		slog.Warn("Swept stale job", "job_id", job.ID, "started", started)
	}
	return swept, nil
}

// checkManualRateLimit rejects a manual trigger when any sync job for the
// source was created within the rate-limit window.
func (s *Scheduler) checkManualRateLimit(ctx context.Context, sourceID string) error {
	jobs, err := s.storage.ListSearchJobs(ctx, service.JobFilter{
		SourceID: sourceID,
		Scope:    model.ScopeSyncRange,
	})
	if err != nil {
		return err
	}

	cutoff := s.now().Add(-ManualTriggerInterval)
	for i := range jobs {
		if jobs[i].CreatedAt.After(cutoff) {
			return common.ErrRateLimit
		}
	}
	return nil
}

// openJobs lists the pending or processing jobs matching the filter.
func (s *Scheduler) openJobs(ctx context.Context, filter service.JobFilter) ([]model.SearchJob, error) {
	filter.Statuses = []model.JobStatus{model.JobPending, model.JobProcessing}
	jobs, err := s.storage.ListSearchJobs(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list open jobs: %w", err)
	}
	return jobs, nil
}

// nextRetryCount derives the retry count for a fresh job from the most
// recent terminal job for the same target. A success resets the chain; a
// failure continues it, bounded by its MaxRetries.
func (s *Scheduler) nextRetryCount(ctx context.Context, filter service.JobFilter) (int, error) {
	filter.Statuses = []model.JobStatus{model.JobFailed, model.JobCompleted}
	jobs, err := s.storage.ListSearchJobs(ctx, filter)
	if err != nil {
		return 0, err
	}
	if len(jobs) == 0 {
		return 0, nil
	}

	latest := jobs[0]
	for _, job := range jobs[1:] {
		if job.CreatedAt.After(latest.CreatedAt) {
			latest = job
		}
	}

	if latest.Status == model.JobCompleted {
		return 0, nil
	}
	if latest.RetryCount >= latest.MaxRetries {
		return 0, common.NewUserError(
			fmt.Sprintf("giving up after %d failed attempts", latest.MaxRetries),
			common.ErrMaxRetries)
	}
	return latest.RetryCount + 1, nil
}

func (s *Scheduler) knownStrategy(name string) bool {
	for _, known := range s.strategies {
		if known == name {
			return true
		}
	}
	return false
}
