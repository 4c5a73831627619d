package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/docmatch/docmatch/internal/common"
	"github.com/docmatch/docmatch/internal/model"
	"github.com/docmatch/docmatch/internal/service"
)

const sourceColumns = `
	id, external_account_id, email, active, needs_reauth, paused,
	disconnected_at, synced_date_from, synced_date_to, last_sync_at,
	last_error, processed_message_ids, created_at`

// CreateSource persists a new mailbox source.
func (s *SQLiteStorage) CreateSource(ctx context.Context, source *model.Source) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateSource(source); err != nil {
		return err
	}
	if source.CreatedAt.IsZero() {
		source.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sources (
			id, external_account_id, email, active, needs_reauth, paused,
			disconnected_at, synced_date_from, synced_date_to, last_sync_at,
			last_error, processed_message_ids, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		source.ID, source.ExternalAccountID, source.Email,
		source.Active, source.NeedsReauth, source.Paused,
		source.DisconnectedAt, source.SyncedDateFrom, source.SyncedDateTo, source.LastSyncAt,
		source.LastError, marshalStrings(source.ProcessedMessageIDs), source.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create source: %w", err)
	}
	return nil
}

// GetSource fetches one source.
func (s *SQLiteStorage) GetSource(ctx context.Context, id string) (*model.Source, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		"SELECT "+sourceColumns+" FROM sources WHERE id = ?", id)

	source, err := scanSource(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("source %s: %w", id, common.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get source: %w", err)
	}
	return source, nil
}

// ListSources returns all sources, newest first.
func (s *SQLiteStorage) ListSources(ctx context.Context) ([]model.Source, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+sourceColumns+" FROM sources ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sources []model.Source
	for rows.Next() {
		source, scanErr := scanSource(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan source: %w", scanErr)
		}
		sources = append(sources, *source)
	}
	return sources, rows.Err()
}

// UpdateSource applies a partial update. Nil patch fields are untouched.
func (s *SQLiteStorage) UpdateSource(ctx context.Context, id string, patch service.SourcePatch) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	var sets []string
	var args []any

	if patch.Active != nil {
		sets = append(sets, "active = ?")
		args = append(args, *patch.Active)
	}
	if patch.Paused != nil {
		sets = append(sets, "paused = ?")
		args = append(args, *patch.Paused)
	}
	if patch.NeedsReauth != nil {
		sets = append(sets, "needs_reauth = ?")
		args = append(args, *patch.NeedsReauth)
	}
	if patch.ClearDisconnectedAt {
		sets = append(sets, "disconnected_at = NULL")
	} else if patch.DisconnectedAt != nil {
		sets = append(sets, "disconnected_at = ?")
		args = append(args, *patch.DisconnectedAt)
	}
	if patch.SyncedDateFrom != nil {
		sets = append(sets, "synced_date_from = ?")
		args = append(args, *patch.SyncedDateFrom)
	}
	if patch.SyncedDateTo != nil {
		sets = append(sets, "synced_date_to = ?")
		args = append(args, *patch.SyncedDateTo)
	}
	if patch.LastSyncAt != nil {
		sets = append(sets, "last_sync_at = ?")
		args = append(args, *patch.LastSyncAt)
	}
	if patch.LastError != nil {
		sets = append(sets, "last_error = ?")
		args = append(args, *patch.LastError)
	}
	if patch.ProcessedMessageIDs != nil {
		sets = append(sets, "processed_message_ids = ?")
		args = append(args, marshalStrings(patch.ProcessedMessageIDs))
	}

	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	result, err := s.db.ExecContext(ctx,
		"UPDATE sources SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("failed to update source: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("source %s: %w", id, common.ErrNotFound)
	}
	return nil
}

// FindSourceByExternalAccountID returns the source for the stable provider
// account id, preferring a connected source, then the most recently
// disconnected one.
func (s *SQLiteStorage) FindSourceByExternalAccountID(ctx context.Context, externalAccountID string) (*model.Source, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(externalAccountID, "externalAccountID"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT `+sourceColumns+` FROM sources
		WHERE external_account_id = ?
		ORDER BY CASE WHEN disconnected_at IS NULL THEN 1 ELSE 0 END DESC,
		         disconnected_at DESC
		LIMIT 1
	`, externalAccountID)

	source, err := scanSource(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("source for account %s: %w", externalAccountID, common.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find source: %w", err)
	}
	return source, nil
}

func scanSource(row scanner) (*model.Source, error) {
	var (
		source         model.Source
		email          sql.NullString
		disconnectedAt sql.NullTime
		syncedFrom     sql.NullTime
		syncedTo       sql.NullTime
		lastSyncAt     sql.NullTime
		lastError      sql.NullString
		processedIDs   sql.NullString
	)

	if err := row.Scan(
		&source.ID, &source.ExternalAccountID, &email,
		&source.Active, &source.NeedsReauth, &source.Paused,
		&disconnectedAt, &syncedFrom, &syncedTo, &lastSyncAt,
		&lastError, &processedIDs, &source.CreatedAt,
	); err != nil {
		return nil, err
	}

	source.Email = email.String
	source.LastError = lastError.String
	source.ProcessedMessageIDs = unmarshalStrings(processedIDs.String)
	if disconnectedAt.Valid {
		t := disconnectedAt.Time
		source.DisconnectedAt = &t
	}
	if syncedFrom.Valid {
		t := syncedFrom.Time
		source.SyncedDateFrom = &t
	}
	if syncedTo.Valid {
		t := syncedTo.Time
		source.SyncedDateTo = &t
	}
	if lastSyncAt.Valid {
		t := lastSyncAt.Time
		source.LastSyncAt = &t
	}
	return &source, nil
}
