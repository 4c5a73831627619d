// Package engine implements the cascading search strategy pipeline that
// finds and connects candidate documents to transactions.
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

// CostClass orders strategies from cheap to expensive.
type CostClass string

const (
	// CostLocal strategies only read the local document store.
	CostLocal CostClass = "local"
	// CostRemote strategies call the rate-limited mailbox.
	CostRemote CostClass = "remote"
)

// Strategy is one named search technique. Strategies are plain records, not
// a type hierarchy: registering a new one means appending to the list.
type Strategy struct {
	Supply    func(ctx context.Context, txn *model.Transaction) ([]model.Document, error)
	Name      string
	Cost      CostClass
	Threshold int // Auto-connect threshold, 0 means the pipeline default
}

// Config holds the pipeline's decision thresholds.
type Config struct {
	// AutoConnectThreshold is the score at which a candidate is connected
	// without confirmation.
	AutoConnectThreshold int
	// GreatMatchTarget stops the pipeline once this many documents
	// scoring at or above the strong threshold are connected.
	GreatMatchTarget int
	// ExecutionCeiling bounds one job's total run time.
	ExecutionCeiling time.Duration
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() Config {
	return Config{
		AutoConnectThreshold: 75,
		GreatMatchTarget:     2,
		ExecutionCeiling:     120 * time.Second,
	}
}

// Pipeline consumes single-transaction search jobs, running every registered
// strategy in priority order until the transaction is adequately explained.
type Pipeline struct {
	storage    service.Storage
	mailbox    service.MailboxClient
	ranker     *match.Ranker
	strategies []Strategy
	cfg        Config
}

// NewPipeline creates a pipeline with the given strategies in priority order.
func NewPipeline(storage service.Storage, mailbox service.MailboxClient, ranker *match.Ranker, strategies []Strategy, cfg Config) *Pipeline {
	if cfg.AutoConnectThreshold <= 0 {
		cfg.AutoConnectThreshold = DefaultConfig().AutoConnectThreshold
	}
	if cfg.GreatMatchTarget <= 0 {
		cfg.GreatMatchTarget = DefaultConfig().GreatMatchTarget
	}
	if cfg.ExecutionCeiling <= 0 {
		cfg.ExecutionCeiling = DefaultConfig().ExecutionCeiling
	}
	return &Pipeline{
		storage:    storage,
		mailbox:    mailbox,
		ranker:     ranker,
		strategies: strategies,
		cfg:        cfg,
	}
}

// StrategyNames returns the registered strategy names in priority order.
func (p *Pipeline) StrategyNames() []string {
	names := make([]string, len(p.strategies))
	for i, s := range p.strategies {
		names[i] = s.Name
	}
	return names
}

// Run executes one pending single-transaction job to a terminal state. A
// strategy failure is recorded and skipped; the job only fails when every
// strategy fails or the execution ceiling is hit.
func (p *Pipeline) Run(ctx context.Context, jobID string) error {
	job, err := p.storage.GetSearchJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load job: %w", err)
	}
	if job.Status != model.JobPending {
		return fmt.Errorf("job %s is %s, expected pending", jobID, job.Status)
	}
	if job.Scope != model.ScopeSingleTransaction {
		return fmt.Errorf("job %s has scope %s, expected %s", jobID, job.Scope, model.ScopeSingleTransaction)
	}

	txn, err := p.storage.GetTransaction(ctx, job.TransactionID)
	if err != nil {
		return p.failJob(ctx, job, fmt.Sprintf("failed to load transaction %s: %v", job.TransactionID, err))
	}

	now := time.Now()
	processing := model.JobProcessing
	if err := p.storage.UpdateSearchJob(ctx, job.ID, service.JobPatch{
		Status:    &processing,
		StartedAt: &now,
	}); err != nil {
		return fmt.Errorf("failed to mark job processing: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, p.cfg.ExecutionCeiling)
	defer cancel()

	strategies := p.selectStrategies(job)

	slog.Info("Starting search pipeline",
		"job_id", job.ID,
		"transaction_id", txn.ID,
		"strategies", len(strategies))

	greatMatches := 0
	failures := 0
	jobErrors := append([]string{}, job.Errors...)

	for i, strategy := range strategies {
		if runCtx.Err() != nil {
			return p.failJob(ctx, job, fmt.Sprintf("timeout: %v", common.ErrJobTimeout))
		}
		if greatMatches >= p.cfg.GreatMatchTarget {
			slog.Info("Great-match early exit",
				"job_id", job.ID,
				"connected", greatMatches,
				"skipped_strategies", len(strategies)-i)
			break
		}

		connected, stratErr := p.runStrategy(runCtx, job, txn, strategy, &greatMatches)
		job.FilesConnected += connected
		if stratErr != nil {
			failures++
			jobErrors = append(jobErrors, fmt.Sprintf("%s: %v", strategy.Name, stratErr))
			slog.Warn("Strategy failed, continuing",
				"job_id", job.ID,
				"strategy", strategy.Name,
				"error", stratErr)

			if errors.Is(stratErr, common.ErrReauthRequired) {
				return p.failJobWithErrors(ctx, job, jobErrors, "reauth_required")
			}
			if errors.Is(stratErr, context.DeadlineExceeded) {
				return p.failJobWithErrors(ctx, job, jobErrors, fmt.Sprintf("timeout: %v", common.ErrJobTimeout))
			}
		}

		// Persist progress after every strategy so pollers observe
		// monotonically increasing progress.
		idx := i + 1
		progress := idx * 100 / len(strategies)
		if err := p.storage.UpdateSearchJob(ctx, job.ID, service.JobPatch{
			CurrentStrategyIndex: &idx,
			Progress:             &progress,
			FilesConnected:       &job.FilesConnected,
			EmailsProcessed:      &job.EmailsProcessed,
			AttachmentsSkipped:   &job.AttachmentsSkipped,
			Errors:               jobErrors,
		}); err != nil {
			return fmt.Errorf("failed to persist strategy progress: %w", err)
		}
	}

	if failures == len(strategies) && len(strategies) > 0 {
		return p.failJobWithErrors(ctx, job, jobErrors, "all strategies failed")
	}

	completed := model.JobCompleted
	done := time.Now()
	full := 100
	if err := p.storage.UpdateSearchJob(ctx, job.ID, service.JobPatch{
		Status:      &completed,
		Progress:    &full,
		CompletedAt: &done,
		Errors:      jobErrors,
	}); err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}

	slog.Info("Search pipeline completed",
		"job_id", job.ID,
		"files_connected", job.FilesConnected)
	return nil
}

// selectStrategies narrows the registered strategies to the subset the job
// requested, preserving priority order. A job with no stored subset runs
// everything.
func (p *Pipeline) selectStrategies(job *model.SearchJob) []Strategy {
	if len(job.Strategies) == 0 {
		return p.strategies
	}

	requested := make(map[string]bool, len(job.Strategies))
	for _, name := range job.Strategies {
		requested[name] = true
	}

	selected := make([]Strategy, 0, len(job.Strategies))
	for _, s := range p.strategies {
		if requested[s.Name] {
			selected = append(selected, s)
		}
	}
	return selected
}

// runStrategy supplies candidates from one strategy, scores them and
// connects everything clearing the auto-connect threshold. It returns the
// number of documents connected.
func (p *Pipeline) runStrategy(ctx context.Context, job *model.SearchJob, txn *model.Transaction, strategy Strategy, greatMatches *int) (int, error) {
	candidates, err := strategy.Supply(ctx, txn)
	if err != nil {
		return 0, err
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	results, err := p.ranker.Rank(ctx, txn, candidates, nil, "", len(candidates))
	if err != nil {
		return 0, err
	}

	byID := make(map[string]*model.Document, len(candidates))
	for i := range candidates {
		byID[candidates[i].SyntheticID()] = &candidates[i]
	}

	threshold := strategy.Threshold
	if threshold <= 0 {
		threshold = p.cfg.AutoConnectThreshold
	}

	connected := 0
	for _, result := range results {
		if result.Score < threshold {
			if doc := byID[result.DocumentID]; doc != nil && !doc.IsDownloaded() {
				job.AttachmentsSkipped++
			}
			continue
		}
		if *greatMatches >= p.cfg.GreatMatchTarget {
			break
		}

		doc := byID[result.DocumentID]
		if doc == nil {
			continue
		}

		docID, connectErr := p.connectCandidate(ctx, txn, doc)
		if connectErr != nil {
			return connected, connectErr
		}

		connected++
		if !doc.IsDownloaded() {
			job.EmailsProcessed++
		}
		if result.Score >= model.StrongScoreMin {
			*greatMatches++
		}

		slog.Info("Auto-connected document",
			"job_id", job.ID,
			"transaction_id", txn.ID,
			"document_id", docID,
			"strategy", strategy.Name,
			"score", result.Score)
	}
	return connected, nil
}

// connectCandidate downloads the candidate if needed, persists it and links
// it to the transaction. Re-connecting an already-connected document is a
// no-op at the storage layer, which keeps a rare duplicate-job race safe.
func (p *Pipeline) connectCandidate(ctx context.Context, txn *model.Transaction, doc *model.Document) (string, error) {
	if !doc.IsDownloaded() {
		if err := downloadDocument(ctx, p.mailbox, doc); err != nil {
			return "", err
		}
		if err := p.storage.CreateDocument(ctx, doc); err != nil {
			return "", fmt.Errorf("failed to store document: %w", err)
		}
	}

	if err := p.storage.ConnectDocument(ctx, doc.ID, txn.ID); err != nil {
		return "", fmt.Errorf("failed to connect document: %w", err)
	}

	saveSenderHints(ctx, p.storage, txn.PartnerID, doc)
	return doc.ID, nil
}

func (p *Pipeline) failJob(ctx context.Context, job *model.SearchJob, reason string) error {
	return p.failJobWithErrors(ctx, job, append(append([]string{}, job.Errors...), reason), reason)
}

func (p *Pipeline) failJobWithErrors(ctx context.Context, job *model.SearchJob, jobErrors []string, reason string) error {
	failed := model.JobFailed
	done := time.Now()
	if err := p.storage.UpdateSearchJob(ctx, job.ID, service.JobPatch{
		Status:      &failed,
		CompletedAt: &done,
		Errors:      jobErrors,
	}); err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}

	slog.Error("Search job failed", "job_id", job.ID, "reason", reason)
	return fmt.Errorf("job %s failed: %s", job.ID, reason)
}
