package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application
// expects. If the database cannot be migrated to this version, it's a fatal
// error.
const ExpectedSchemaVersion = 3

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Ledger and document store",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS transactions (
					id TEXT PRIMARY KEY,
					hash TEXT UNIQUE NOT NULL,
					date DATETIME NOT NULL,
					description TEXT NOT NULL,
					currency TEXT NOT NULL DEFAULT 'EUR',
					amount INTEGER NOT NULL,
					counterparty_name TEXT,
					counterparty_iban TEXT,
					reference TEXT,
					partner_id TEXT,
					account_id TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_transactions_date ON transactions(date)`,
				`CREATE INDEX idx_transactions_partner ON transactions(partner_id)`,

				`CREATE TABLE IF NOT EXISTS documents (
					id TEXT PRIMARY KEY,
					mime_type TEXT,
					filename TEXT,
					source_id TEXT,
					partner_id TEXT,
					extracted_amount INTEGER,
					extracted_currency TEXT,
					extracted_date DATETIME,
					extracted_partner TEXT,
					extracted_iban TEXT,
					extracted_text TEXT,
					email_subject TEXT,
					email_sender TEXT,
					email_snippet TEXT,
					email_body TEXT,
					email_message_id TEXT,
					email_attachment_id TEXT,
					email_account_id TEXT,
					email_date DATETIME,
					size INTEGER DEFAULT 0,
					content_hash TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					deleted_at DATETIME
				)`,
				`CREATE INDEX idx_documents_source ON documents(source_id)`,
				`CREATE INDEX idx_documents_deleted ON documents(deleted_at)`,
				`CREATE INDEX idx_documents_message ON documents(email_message_id)`,

				`CREATE TABLE IF NOT EXISTS transaction_documents (
					transaction_id TEXT NOT NULL,
					document_id TEXT NOT NULL,
					connected_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (transaction_id, document_id),
					FOREIGN KEY (transaction_id) REFERENCES transactions(id),
					FOREIGN KEY (document_id) REFERENCES documents(id)
				)`,
				`CREATE INDEX idx_txn_docs_document ON transaction_documents(document_id)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     2,
		Description: "Search job queue",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS search_jobs (
					id TEXT PRIMARY KEY,
					scope TEXT NOT NULL,
					status TEXT NOT NULL,
					transaction_id TEXT,
					source_id TEXT,
					strategies TEXT,
					current_strategy_index INTEGER DEFAULT 0,
					progress INTEGER DEFAULT 0,
					files_connected INTEGER DEFAULT 0,
					attachments_skipped INTEGER DEFAULT 0,
					emails_processed INTEGER DEFAULT 0,
					errors TEXT,
					retry_count INTEGER DEFAULT 0,
					max_retries INTEGER DEFAULT 3,
					date_from DATETIME,
					date_to DATETIME,
					processed_message_ids TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					started_at DATETIME,
					completed_at DATETIME
				)`,
				`CREATE INDEX idx_search_jobs_status ON search_jobs(status)`,
				`CREATE INDEX idx_search_jobs_transaction ON search_jobs(transaction_id)`,
				`CREATE INDEX idx_search_jobs_source ON search_jobs(source_id)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     3,
		Description: "Sources and partner hints",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS sources (
					id TEXT PRIMARY KEY,
					external_account_id TEXT NOT NULL,
					email TEXT,
					active INTEGER NOT NULL DEFAULT 1,
					needs_reauth INTEGER NOT NULL DEFAULT 0,
					paused INTEGER NOT NULL DEFAULT 0,
					disconnected_at DATETIME,
					synced_date_from DATETIME,
					synced_date_to DATETIME,
					last_sync_at DATETIME,
					last_error TEXT,
					processed_message_ids TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_sources_account ON sources(external_account_id)`,

				`CREATE TABLE IF NOT EXISTS partner_domains (
					partner_id TEXT NOT NULL,
					domain TEXT NOT NULL,
					source_id TEXT,
					PRIMARY KEY (partner_id, domain)
				)`,

				`CREATE TABLE IF NOT EXISTS learned_senders (
					partner_id TEXT NOT NULL,
					sender TEXT NOT NULL,
					source_id TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (partner_id, sender)
				)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
}

// SchemaVersion reports the currently applied schema version.
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}

// Migrate applies all pending database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	var finalVersion int
	err = s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}
