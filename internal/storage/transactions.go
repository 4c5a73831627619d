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

// SaveTransactions saves multiple transactions, ignoring duplicates by hash.
func (s *SQLiteStorage) SaveTransactions(ctx context.Context, transactions []model.Transaction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateTransactions(transactions); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO transactions (
			id, hash, date, description, currency, amount,
			counterparty_name, counterparty_iban, reference, partner_id, account_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, txn := range transactions {
		if txn.Hash == "" {
			txn.Hash = txn.GenerateHash()
		}
		if _, err = stmt.ExecContext(ctx,
			txn.ID,
			txn.Hash,
			txn.Date,
			txn.Description,
			txn.Currency,
			txn.Amount,
			txn.CounterpartyName,
			txn.CounterpartyIBAN,
			txn.Reference,
			txn.PartnerID,
			txn.AccountID,
		); err != nil {
			return fmt.Errorf("failed to insert transaction %s: %w", txn.ID, err)
		}
	}

	return tx.Commit()
}

// GetTransaction fetches one transaction with its connected document ids.
func (s *SQLiteStorage) GetTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, hash, date, description, currency, amount,
		       counterparty_name, counterparty_iban, reference, partner_id, account_id
		FROM transactions WHERE id = ?
	`, id)

	txn, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("transaction %s: %w", id, common.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	docIDs, err := s.connectedDocumentIDs(ctx, id)
	if err != nil {
		return nil, err
	}
	txn.DocumentIDs = docIDs
	return txn, nil
}

// ListTransactions returns transactions matching the filter, newest first.
func (s *SQLiteStorage) ListTransactions(ctx context.Context, filter service.TransactionFilter) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `
		SELECT id, hash, date, description, currency, amount,
		       counterparty_name, counterparty_iban, reference, partner_id, account_id
		FROM transactions WHERE 1=1`
	var args []any

	if filter.StartDate != nil {
		query += " AND date >= ?"
		args = append(args, *filter.StartDate)
	}
	if filter.EndDate != nil {
		query += " AND date <= ?"
		args = append(args, *filter.EndDate)
	}
	if filter.PartnerID != "" {
		query += " AND partner_id = ?"
		args = append(args, filter.PartnerID)
	}
	if filter.Query != "" {
		query += " AND (LOWER(description) LIKE ? OR LOWER(counterparty_name) LIKE ?)"
		like := "%" + strings.ToLower(filter.Query) + "%"
		args = append(args, like, like)
	}

	query += " ORDER BY date DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var txns []model.Transaction
	for rows.Next() {
		txn, scanErr := scanTransaction(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", scanErr)
		}
		txns = append(txns, *txn)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range txns {
		docIDs, docErr := s.connectedDocumentIDs(ctx, txns[i].ID)
		if docErr != nil {
			return nil, docErr
		}
		txns[i].DocumentIDs = docIDs
	}
	return txns, nil
}

// GetLedgerDateRange returns the span of the ledger, or nil when empty.
func (s *SQLiteStorage) GetLedgerDateRange(ctx context.Context) (*service.DateRange, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var minDate, maxDate sql.NullTime
	err := s.db.QueryRowContext(ctx,
		"SELECT MIN(date), MAX(date) FROM transactions").Scan(&minDate, &maxDate)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger range: %w", err)
	}
	if !minDate.Valid || !maxDate.Valid {
		return nil, nil
	}
	return &service.DateRange{Start: minDate.Time, End: maxDate.Time}, nil
}

// connectedDocumentIDs lists the document ids connected to a transaction.
func (s *SQLiteStorage) connectedDocumentIDs(ctx context.Context, txnID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT document_id FROM transaction_documents
		WHERE transaction_id = ? ORDER BY connected_at
	`, txnID)
	if err != nil {
		return nil, fmt.Errorf("failed to list connected documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// scanner abstracts sql.Row and sql.Rows for shared scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row scanner) (*model.Transaction, error) {
	var (
		txn          model.Transaction
		date         time.Time
		counterparty sql.NullString
		iban         sql.NullString
		reference    sql.NullString
		partnerID    sql.NullString
		accountID    sql.NullString
	)
	if err := row.Scan(
		&txn.ID, &txn.Hash, &date, &txn.Description, &txn.Currency, &txn.Amount,
		&counterparty, &iban, &reference, &partnerID, &accountID,
	); err != nil {
		return nil, err
	}

	txn.Date = date
	txn.CounterpartyName = counterparty.String
	txn.CounterpartyIBAN = iban.String
	txn.Reference = reference.String
	txn.PartnerID = partnerID.String
	txn.AccountID = accountID.String
	return &txn, nil
}
