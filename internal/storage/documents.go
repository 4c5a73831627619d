package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/docmatch/docmatch/internal/common"
	"github.com/docmatch/docmatch/internal/model"
	"github.com/docmatch/docmatch/internal/service"
)

const documentColumns = `
	id, mime_type, filename, source_id, partner_id,
	extracted_amount, extracted_currency, extracted_date, extracted_partner,
	extracted_iban, extracted_text,
	email_subject, email_sender, email_snippet, email_body,
	email_message_id, email_attachment_id, email_account_id, email_date,
	size, content_hash, created_at, deleted_at`

// CreateDocument persists a new document.
func (s *SQLiteStorage) CreateDocument(ctx context.Context, doc *model.Document) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateDocument(doc); err != nil {
		return err
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (
			id, mime_type, filename, source_id, partner_id,
			extracted_amount, extracted_currency, extracted_date, extracted_partner,
			extracted_iban, extracted_text,
			email_subject, email_sender, email_snippet, email_body,
			email_message_id, email_attachment_id, email_account_id, email_date,
			size, content_hash, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		doc.ID, doc.MimeType, doc.Filename, doc.SourceID, doc.PartnerID,
		doc.ExtractedAmount, doc.ExtractedCurrency, doc.ExtractedDate, doc.ExtractedPartner,
		doc.ExtractedIBAN, doc.ExtractedText,
		doc.Email.Subject, doc.Email.Sender, doc.Email.Snippet, doc.Email.Body,
		doc.Email.MessageID, doc.Email.AttachmentID, doc.Email.AccountID, nullableTime(doc.Email.MessageDate),
		doc.Size, doc.ContentHash, doc.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

// GetDocument fetches one document with its connected transaction ids.
func (s *SQLiteStorage) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE id = ?", id)

	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("document %s: %w", id, common.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	txnIDs, err := s.connectedTransactionIDs(ctx, id)
	if err != nil {
		return nil, err
	}
	doc.TransactionIDs = txnIDs
	return doc, nil
}

// ListDocuments returns documents matching the filter. Tombstoned documents
// are excluded unless the filter asks for them.
func (s *SQLiteStorage) ListDocuments(ctx context.Context, filter service.DocumentFilter) ([]model.Document, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := "SELECT " + documentColumns + " FROM documents WHERE 1=1"
	var args []any

	if !filter.IncludeDeleted {
		query += " AND deleted_at IS NULL"
	}
	if filter.SourceID != "" {
		query += " AND source_id = ?"
		args = append(args, filter.SourceID)
	}
	if filter.TransactionID != "" {
		query += " AND id IN (SELECT document_id FROM transaction_documents WHERE transaction_id = ?)"
		args = append(args, filter.TransactionID)
	}
	if filter.Unconnected {
		query += " AND id NOT IN (SELECT document_id FROM transaction_documents)"
	}

	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var docs []model.Document
	for rows.Next() {
		doc, scanErr := scanDocument(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan document: %w", scanErr)
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range docs {
		txnIDs, txnErr := s.connectedTransactionIDs(ctx, docs[i].ID)
		if txnErr != nil {
			return nil, txnErr
		}
		docs[i].TransactionIDs = txnIDs
	}
	return docs, nil
}

// ConnectDocument links a document to a transaction. Connecting an already
// connected pair is a no-op, which keeps duplicate-job races harmless.
func (s *SQLiteStorage) ConnectDocument(ctx context.Context, docID, txnID string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(docID, "docID"); err != nil {
		return err
	}
	if err := validateString(txnID, "txnID"); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO transaction_documents (transaction_id, document_id)
		VALUES (?, ?)
	`, txnID, docID)
	if err != nil {
		return fmt.Errorf("failed to connect document: %w", err)
	}
	return nil
}

// SoftDeleteDocuments tombstones the documents matching the filter and
// returns how many were affected. The Unconnected flag is what protects
// transaction evidence during a source disconnect.
func (s *SQLiteStorage) SoftDeleteDocuments(ctx context.Context, filter service.DocumentFilter) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	query := "UPDATE documents SET deleted_at = ? WHERE deleted_at IS NULL"
	args := []any{time.Now()}

	if filter.SourceID != "" {
		query += " AND source_id = ?"
		args = append(args, filter.SourceID)
	}
	if filter.Unconnected {
		query += " AND id NOT IN (SELECT document_id FROM transaction_documents)"
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to soft-delete documents: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

// RestoreDocuments clears the tombstone on documents matching the filter and
// returns how many came back.
func (s *SQLiteStorage) RestoreDocuments(ctx context.Context, filter service.DocumentFilter) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	query := "UPDATE documents SET deleted_at = NULL WHERE deleted_at IS NOT NULL"
	var args []any

	if filter.SourceID != "" {
		query += " AND source_id = ?"
		args = append(args, filter.SourceID)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to restore documents: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

// connectedTransactionIDs lists the transaction ids a document is linked to.
func (s *SQLiteStorage) connectedTransactionIDs(ctx context.Context, docID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT transaction_id FROM transaction_documents
		WHERE document_id = ? ORDER BY connected_at
	`, docID)
	if err != nil {
		return nil, fmt.Errorf("failed to list connected transactions: %w", err)
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

func scanDocument(row scanner) (*model.Document, error) {
	var (
		doc             model.Document
		mimeType        sql.NullString
		filename        sql.NullString
		sourceID        sql.NullString
		partnerID       sql.NullString
		extractedAmount sql.NullInt64
		extractedCur    sql.NullString
		extractedDate   sql.NullTime
		extractedPart   sql.NullString
		extractedIBAN   sql.NullString
		extractedText   sql.NullString
		subject         sql.NullString
		sender          sql.NullString
		snippet         sql.NullString
		body            sql.NullString
		messageID       sql.NullString
		attachmentID    sql.NullString
		accountID       sql.NullString
		emailDate       sql.NullTime
		contentHash     sql.NullString
		deletedAt       sql.NullTime
	)

	if err := row.Scan(
		&doc.ID, &mimeType, &filename, &sourceID, &partnerID,
		&extractedAmount, &extractedCur, &extractedDate, &extractedPart,
		&extractedIBAN, &extractedText,
		&subject, &sender, &snippet, &body,
		&messageID, &attachmentID, &accountID, &emailDate,
		&doc.Size, &contentHash, &doc.CreatedAt, &deletedAt,
	); err != nil {
		return nil, err
	}

	doc.MimeType = mimeType.String
	doc.Filename = filename.String
	doc.SourceID = sourceID.String
	doc.PartnerID = partnerID.String
	doc.ExtractedCurrency = extractedCur.String
	doc.ExtractedPartner = extractedPart.String
	doc.ExtractedIBAN = extractedIBAN.String
	doc.ExtractedText = extractedText.String
	doc.ContentHash = contentHash.String
	doc.Email = model.EmailMeta{
		Subject:      subject.String,
		Sender:       sender.String,
		Snippet:      snippet.String,
		Body:         body.String,
		MessageID:    messageID.String,
		AttachmentID: attachmentID.String,
		AccountID:    accountID.String,
	}
	if extractedAmount.Valid {
		amount := extractedAmount.Int64
		doc.ExtractedAmount = &amount
	}
	if extractedDate.Valid {
		date := extractedDate.Time
		doc.ExtractedDate = &date
	}
	if emailDate.Valid {
		doc.Email.MessageDate = emailDate.Time
	}
	if deletedAt.Valid {
		deleted := deletedAt.Time
		doc.DeletedAt = &deleted
	}
	return &doc, nil
}

// nullableTime maps a zero time to NULL.
func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
