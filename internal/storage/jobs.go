package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/docmatch/docmatch/internal/common"
	"github.com/docmatch/docmatch/internal/model"
	"github.com/docmatch/docmatch/internal/service"
)

const jobColumns = `
	id, scope, status, transaction_id, source_id, strategies,
	current_strategy_index, progress, files_connected, attachments_skipped,
	emails_processed, errors, retry_count, max_retries,
	date_from, date_to, processed_message_ids,
	created_at, updated_at, started_at, completed_at`

// CreateSearchJob persists a new search job.
func (s *SQLiteStorage) CreateSearchJob(ctx context.Context, job *model.SearchJob) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateJob(job); err != nil {
		return err
	}

	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = now
	}
	if job.MaxRetries <= 0 {
		job.MaxRetries = model.DefaultMaxRetries
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO search_jobs (
			id, scope, status, transaction_id, source_id, strategies,
			current_strategy_index, progress, files_connected, attachments_skipped,
			emails_processed, errors, retry_count, max_retries,
			date_from, date_to, processed_message_ids,
			created_at, updated_at, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		job.ID, job.Scope, job.Status, job.TransactionID, job.SourceID, marshalStrings(job.Strategies),
		job.CurrentStrategyIndex, job.Progress, job.FilesConnected, job.AttachmentsSkipped,
		job.EmailsProcessed, marshalStrings(job.Errors), job.RetryCount, job.MaxRetries,
		job.DateFrom, job.DateTo, marshalStrings(job.ProcessedMessageIDs),
		job.CreatedAt, job.UpdatedAt, job.StartedAt, job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create search job: %w", err)
	}
	return nil
}

// GetSearchJob fetches one search job.
func (s *SQLiteStorage) GetSearchJob(ctx context.Context, id string) (*model.SearchJob, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		"SELECT "+jobColumns+" FROM search_jobs WHERE id = ?", id)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("search job %s: %w", id, common.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get search job: %w", err)
	}
	return job, nil
}

// UpdateSearchJob applies a partial update. Nil patch fields are untouched;
// updated_at is always refreshed.
func (s *SQLiteStorage) UpdateSearchJob(ctx context.Context, id string, patch service.JobPatch) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	sets := []string{"updated_at = ?"}
	args := []any{time.Now()}

	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *patch.Status)
	}
	if patch.CurrentStrategyIndex != nil {
		sets = append(sets, "current_strategy_index = ?")
		args = append(args, *patch.CurrentStrategyIndex)
	}
	if patch.Progress != nil {
		sets = append(sets, "progress = ?")
		args = append(args, *patch.Progress)
	}
	if patch.FilesConnected != nil {
		sets = append(sets, "files_connected = ?")
		args = append(args, *patch.FilesConnected)
	}
	if patch.AttachmentsSkipped != nil {
		sets = append(sets, "attachments_skipped = ?")
		args = append(args, *patch.AttachmentsSkipped)
	}
	if patch.EmailsProcessed != nil {
		sets = append(sets, "emails_processed = ?")
		args = append(args, *patch.EmailsProcessed)
	}
	if patch.RetryCount != nil {
		sets = append(sets, "retry_count = ?")
		args = append(args, *patch.RetryCount)
	}
	if patch.StartedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, *patch.StartedAt)
	}
	if patch.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *patch.CompletedAt)
	}
	if patch.Errors != nil {
		sets = append(sets, "errors = ?")
		args = append(args, marshalStrings(patch.Errors))
	}
	if patch.ProcessedMessageIDs != nil {
		sets = append(sets, "processed_message_ids = ?")
		args = append(args, marshalStrings(patch.ProcessedMessageIDs))
	}

	args = append(args, id)
	result, err := s.db.ExecContext(ctx,
		"UPDATE search_jobs SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("failed to update search job: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("search job %s: %w", id, common.ErrNotFound)
	}
	return nil
}

// ListSearchJobs returns jobs matching the filter, newest first.
func (s *SQLiteStorage) ListSearchJobs(ctx context.Context, filter service.JobFilter) ([]model.SearchJob, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := "SELECT " + jobColumns + " FROM search_jobs WHERE 1=1"
	var args []any

	if filter.TransactionID != "" {
		query += " AND transaction_id = ?"
		args = append(args, filter.TransactionID)
	}
	if filter.SourceID != "" {
		query += " AND source_id = ?"
		args = append(args, filter.SourceID)
	}
	if filter.Scope != "" {
		query += " AND scope = ?"
		args = append(args, filter.Scope)
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, status)
		}
		query += " AND status IN (" + strings.Join(placeholders, ", ") + ")"
	}

	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list search jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []model.SearchJob
	for rows.Next() {
		job, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan search job: %w", scanErr)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// DeleteSearchJob removes a job record entirely. Used when salvaging job
// state during a source disconnect.
func (s *SQLiteStorage) DeleteSearchJob(ctx context.Context, id string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, "DELETE FROM search_jobs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete search job: %w", err)
	}
	return nil
}

func scanJob(row scanner) (*model.SearchJob, error) {
	var (
		job          model.SearchJob
		txnID        sql.NullString
		sourceID     sql.NullString
		strategies   sql.NullString
		jobErrors    sql.NullString
		processedIDs sql.NullString
		dateFrom     sql.NullTime
		dateTo       sql.NullTime
		startedAt    sql.NullTime
		completedAt  sql.NullTime
	)

	if err := row.Scan(
		&job.ID, &job.Scope, &job.Status, &txnID, &sourceID, &strategies,
		&job.CurrentStrategyIndex, &job.Progress, &job.FilesConnected, &job.AttachmentsSkipped,
		&job.EmailsProcessed, &jobErrors, &job.RetryCount, &job.MaxRetries,
		&dateFrom, &dateTo, &processedIDs,
		&job.CreatedAt, &job.UpdatedAt, &startedAt, &completedAt,
	); err != nil {
		return nil, err
	}

	job.TransactionID = txnID.String
	job.SourceID = sourceID.String
	job.Strategies = unmarshalStrings(strategies.String)
	job.Errors = unmarshalStrings(jobErrors.String)
	job.ProcessedMessageIDs = unmarshalStrings(processedIDs.String)
	if dateFrom.Valid {
		t := dateFrom.Time
		job.DateFrom = &t
	}
	if dateTo.Valid {
		t := dateTo.Time
		job.DateTo = &t
	}
	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	return &job, nil
}

// marshalStrings encodes a string slice as JSON for a TEXT column.
func marshalStrings(values []string) string {
	if len(values) == 0 {
		return ""
	}
	data, err := json.Marshal(values)
	if err != nil {
		return ""
	}
	return string(data)
}

// unmarshalStrings decodes a JSON TEXT column back into a slice.
func unmarshalStrings(data string) []string {
	if data == "" {
		return nil
	}
	var values []string
	if err := json.Unmarshal([]byte(data), &values); err != nil {
		return nil
	}
	return values
}
