// Package source manages the lifecycle of connected mailbox sources:
// pause/resume, disconnect/reconnect and reauthorization state.
package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/docmatch/docmatch/internal/common"
	"github.com/docmatch/docmatch/internal/model"
	"github.com/docmatch/docmatch/internal/service"
)

// Manager drives source state transitions. Disconnect is a soft delete:
// dedup state and sync watermarks survive so a reconnect resumes exactly
// where sync left off.
type Manager struct {
	storage service.Storage
	mailbox service.MailboxClient
	now     func() time.Time
}

// NewManager creates a source lifecycle manager.
func NewManager(storage service.Storage, mailbox service.MailboxClient) *Manager {
	return &Manager{
		storage: storage,
		mailbox: mailbox,
		now:     time.Now,
	}
}

// Pause stops new sync jobs for the source without touching its documents.
func (m *Manager) Pause(ctx context.Context, sourceID string) error {
	paused := true
	if err := m.storage.UpdateSource(ctx, sourceID, service.SourcePatch{Paused: &paused}); err != nil {
		return fmt.Errorf("failed to pause source: %w", err)
	}
	slog.Info("Paused source", "source_id", sourceID)
	return nil
}

// Resume re-enables sync jobs for a paused source.
func (m *Manager) Resume(ctx context.Context, sourceID string) error {
	paused := false
	if err := m.storage.UpdateSource(ctx, sourceID, service.SourcePatch{Paused: &paused}); err != nil {
		return fmt.Errorf("failed to resume source: %w", err)
	}
	slog.Info("Resumed source", "source_id", sourceID)
	return nil
}

// Disconnect soft-disconnects a source: the external credential is revoked
// best-effort, in-flight job state is salvaged into the source record, the
// source's unconnected documents are tombstoned, and its partner hints are
// scrubbed. Documents connected to a transaction are left untouched; they
// remain useful evidence even without the source.
func (m *Manager) Disconnect(ctx context.Context, sourceID string) error {
	source, err := m.storage.GetSource(ctx, sourceID)
	if err != nil {
		return fmt.Errorf("failed to load source %s: %w", sourceID, err)
	}

	if err := m.mailbox.RevokeCredential(ctx, source.ExternalAccountID); err != nil {
		slog.Warn("Failed to revoke mailbox credential",
			"source_id", sourceID,
			"error", err)
	}

	processedIDs, coverage, err := m.salvageJobs(ctx, source)
	if err != nil {
		return err
	}

	deleted, err := m.storage.SoftDeleteDocuments(ctx, service.DocumentFilter{
		SourceID:    sourceID,
		Unconnected: true,
	})
	if err != nil {
		return fmt.Errorf("failed to soft-delete documents: %w", err)
	}

	if err := m.storage.RemoveSourceHints(ctx, sourceID); err != nil {
		return fmt.Errorf("failed to remove partner hints: %w", err)
	}

	now := m.now()
	active := false
	patch := service.SourcePatch{
		Active:              &active,
		DisconnectedAt:      &now,
		ProcessedMessageIDs: processedIDs,
	}
	if coverage != nil {
		patch.SyncedDateFrom = &coverage.Start
		patch.SyncedDateTo = &coverage.End
	}
	if err := m.storage.UpdateSource(ctx, sourceID, patch); err != nil {
		return fmt.Errorf("failed to mark source disconnected: %w", err)
	}

	slog.Info("Disconnected source",
		"source_id", sourceID,
		"documents_tombstoned", deleted,
		"salvaged_message_ids", len(processedIDs))
	return nil
}

// Reconnect restores the most-recently-disconnected source with the given
// external account id: tombstoned documents come back, reauth flags clear,
// and the preserved watermarks let the next gap computation resume instead
// of re-scanning. A never-seen account id creates a fresh source.
func (m *Manager) Reconnect(ctx context.Context, externalAccountID, email string) (*model.Source, error) {
	existing, err := m.storage.FindSourceByExternalAccountID(ctx, externalAccountID)
	if err != nil && !isNotFound(err) {
		return nil, fmt.Errorf("failed to look up source: %w", err)
	}

	if existing == nil {
		src := &model.Source{
			ID:                uuid.NewString(),
			ExternalAccountID: externalAccountID,
			Email:             email,
			Active:            true,
			CreatedAt:         m.now(),
		}
		if createErr := m.storage.CreateSource(ctx, src); createErr != nil {
			return nil, fmt.Errorf("failed to create source: %w", createErr)
		}
		slog.Info("Connected new source", "source_id", src.ID, "account_id", externalAccountID)
		return src, nil
	}

	restored, err := m.storage.RestoreDocuments(ctx, service.DocumentFilter{
		SourceID: existing.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to restore documents: %w", err)
	}

	active := true
	needsReauth := false
	noError := ""
	if err := m.storage.UpdateSource(ctx, existing.ID, service.SourcePatch{
		Active:              &active,
		NeedsReauth:         &needsReauth,
		ClearDisconnectedAt: true,
		LastError:           &noError,
	}); err != nil {
		return nil, fmt.Errorf("failed to reactivate source: %w", err)
	}

	slog.Info("Reconnected source",
		"source_id", existing.ID,
		"account_id", externalAccountID,
		"documents_restored", restored)
	return m.storage.GetSource(ctx, existing.ID)
}

// MarkReauthRequired flags the source after a credential failure. New jobs
// are blocked until a fresh authorization clears the flag.
func (m *Manager) MarkReauthRequired(ctx context.Context, sourceID string, cause error) error {
	needsReauth := true
	lastErr := common.ErrReauthRequired.Error()
	if cause != nil {
		lastErr = cause.Error()
	}
	if err := m.storage.UpdateSource(ctx, sourceID, service.SourcePatch{
		NeedsReauth: &needsReauth,
		LastError:   &lastErr,
	}); err != nil {
		return fmt.Errorf("failed to flag source for reauth: %w", err)
	}
	slog.Warn("Source needs reauthorization", "source_id", sourceID, "cause", lastErr)
	return nil
}

// ClearReauth resets the reauth flag after a successful authorization.
func (m *Manager) ClearReauth(ctx context.Context, sourceID string) error {
	needsReauth := false
	noError := ""
	if err := m.storage.UpdateSource(ctx, sourceID, service.SourcePatch{
		NeedsReauth: &needsReauth,
		LastError:   &noError,
	}); err != nil {
		return fmt.Errorf("failed to clear reauth flag: %w", err)
	}
	slog.Info("Cleared reauth flag", "source_id", sourceID)
	return nil
}

// salvageJobs merges the processed-message sets and observed coverage of
// every queued or in-flight job for the source into return values, then
// deletes the job records.
func (m *Manager) salvageJobs(ctx context.Context, source *model.Source) ([]string, *service.DateRange, error) {
	jobs, err := m.storage.ListSearchJobs(ctx, service.JobFilter{
		SourceID: source.ID,
		Scope:    model.ScopeSyncRange,
		Statuses: []model.JobStatus{model.JobPending, model.JobProcessing},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list jobs to salvage: %w", err)
	}

	merged := append([]string{}, source.ProcessedMessageIDs...)
	have := make(map[string]bool, len(merged))
	for _, id := range merged {
		have[id] = true
	}

	var coverage *service.DateRange
	if source.SyncedDateFrom != nil && source.SyncedDateTo != nil {
		coverage = &service.DateRange{Start: *source.SyncedDateFrom, End: *source.SyncedDateTo}
	}

	for i := range jobs {
		job := &jobs[i]
		for _, id := range job.ProcessedMessageIDs {
			if !have[id] {
				merged = append(merged, id)
				have[id] = true
			}
		}

		// A job that made progress observed coverage worth keeping.
		if len(job.ProcessedMessageIDs) > 0 && job.DateFrom != nil && job.DateTo != nil {
			if coverage == nil {
				coverage = &service.DateRange{Start: *job.DateFrom, End: *job.DateTo}
			} else {
				if job.DateFrom.Before(coverage.Start) {
					coverage.Start = *job.DateFrom
				}
				if job.DateTo.After(coverage.End) {
					coverage.End = *job.DateTo
				}
			}
		}

		if err := m.storage.DeleteSearchJob(ctx, job.ID); err != nil {
			return nil, nil, fmt.Errorf("failed to delete salvaged job %s: %w", job.ID, err)
		}
	}
	return merged, coverage, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, common.ErrNotFound)
}
