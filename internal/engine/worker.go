package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/docmatch/docmatch/internal/model"
	"github.com/docmatch/docmatch/internal/service"
)

// Sweeper marks stale processing jobs failed before new work is claimed.
type Sweeper interface {
	SweepStale(ctx context.Context) (int, error)
}

// Worker is the background consumer of the search job queue. It polls for
// pending jobs and dispatches them by scope. Jobs for distinct transactions
// or sources may run in any order; the exclusivity check at enqueue time
// keeps two jobs for the same target from being open at once.
type Worker struct {
	storage    service.Storage
	pipeline   *Pipeline
	syncRunner *SyncRunner
	sweeper    Sweeper
	interval   time.Duration
}

// NewWorker creates a queue worker polling at the given interval.
func NewWorker(storage service.Storage, pipeline *Pipeline, syncRunner *SyncRunner, sweeper Sweeper, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Worker{
		storage:    storage,
		pipeline:   pipeline,
		syncRunner: syncRunner,
		sweeper:    sweeper,
		interval:   interval,
	}
}

// Start runs the polling loop until the context is cancelled. Pending jobs
// left over from previous runs are picked up on the first tick.
func (w *Worker) Start(ctx context.Context) error {
	slog.Info("Starting search job worker", "poll_interval", w.interval)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if err := w.RunOnce(ctx); err != nil {
			slog.Error("Worker pass failed", "error", err)
		}

		select {
		case <-ctx.Done():
			slog.Info("Search job worker stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce sweeps stale jobs and drains every currently pending job.
func (w *Worker) RunOnce(ctx context.Context) error {
	if w.sweeper != nil {
		if swept, err := w.sweeper.SweepStale(ctx); err != nil {
			slog.Error("Staleness sweep failed", "error", err)
		} else if swept > 0 {
			slog.Warn("Swept stale jobs", "count", swept)
		}
	}

	jobs, err := w.storage.ListSearchJobs(ctx, service.JobFilter{
		Statuses: []model.JobStatus{model.JobPending},
	})
	if err != nil {
		return err
	}

	for i := range jobs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		job := &jobs[i]

		var runErr error
		switch job.Scope {
		case model.ScopeSingleTransaction:
			runErr = w.pipeline.Run(ctx, job.ID)
		case model.ScopeSyncRange:
			runErr = w.syncRunner.Run(ctx, job.ID)
		default:
			slog.Error("Unknown job scope, skipping", "job_id", job.ID, "scope", job.Scope)
			continue
		}

		if runErr != nil {
			// The job itself carries the failure state; the worker
			// just moves on to the next one.
			slog.Warn("Job finished with error", "job_id", job.ID, "error", runErr)
		}
	}
	return nil
}
