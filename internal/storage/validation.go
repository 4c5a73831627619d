package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/docmatch/docmatch/internal/model"
)

// Validation errors.
var (
	ErrNilContext         = errors.New("context cannot be nil")
	ErrEmptyString        = errors.New("string parameter cannot be empty")
	ErrNilParameter       = errors.New("parameter cannot be nil")
	ErrEmptySlice         = errors.New("slice cannot be empty")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrInvalidDocument    = errors.New("invalid document")
	ErrInvalidJob         = errors.New("invalid search job")
	ErrInvalidSource      = errors.New("invalid source")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateTransactions validates a slice of transactions.
func validateTransactions(transactions []model.Transaction) error {
	if transactions == nil {
		return fmt.Errorf("%w: transactions", ErrNilParameter)
	}
	if len(transactions) == 0 {
		return fmt.Errorf("%w: transactions", ErrEmptySlice)
	}

	for i, txn := range transactions {
		if err := validateTransaction(&txn); err != nil {
			return fmt.Errorf("transaction at index %d: %w", i, err)
		}
	}
	return nil
}

// validateTransaction validates a single transaction.
func validateTransaction(txn *model.Transaction) error {
	if txn.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidTransaction)
	}
	if txn.Date.IsZero() {
		return fmt.Errorf("%w: missing date", ErrInvalidTransaction)
	}
	if txn.Description == "" {
		return fmt.Errorf("%w: missing description", ErrInvalidTransaction)
	}
	return nil
}

// validateDocument validates a document before persisting it.
func validateDocument(doc *model.Document) error {
	if doc == nil {
		return fmt.Errorf("%w: document", ErrNilParameter)
	}
	if doc.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidDocument)
	}
	return nil
}

// validateJob validates a search job before persisting it.
func validateJob(job *model.SearchJob) error {
	if job == nil {
		return fmt.Errorf("%w: job", ErrNilParameter)
	}
	if job.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidJob)
	}
	switch job.Scope {
	case model.ScopeSingleTransaction:
		if job.TransactionID == "" {
			return fmt.Errorf("%w: single_transaction job without transaction id", ErrInvalidJob)
		}
	case model.ScopeSyncRange:
		if job.SourceID == "" {
			return fmt.Errorf("%w: sync_range job without source id", ErrInvalidJob)
		}
		if job.DateFrom == nil || job.DateTo == nil {
			return fmt.Errorf("%w: sync_range job without date range", ErrInvalidJob)
		}
	default:
		return fmt.Errorf("%w: unknown scope %q", ErrInvalidJob, job.Scope)
	}
	return nil
}

// validateSource validates a source before persisting it.
func validateSource(source *model.Source) error {
	if source == nil {
		return fmt.Errorf("%w: source", ErrNilParameter)
	}
	if source.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidSource)
	}
	if source.ExternalAccountID == "" {
		return fmt.Errorf("%w: missing external account id", ErrInvalidSource)
	}
	return nil
}
