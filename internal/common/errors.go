// Package common provides shared utilities and types used across the application.
package common

import (
	"context"
	"errors"
	"fmt"
)

// Common application errors.
var (
	// Database errors.
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEntry = errors.New("duplicate entry")

	// Job queue errors.
	ErrDuplicateJob   = errors.New("an open job already exists for this target")
	ErrAlreadySyncing = errors.New("a sync is already running for this source")
	ErrJobTimeout     = errors.New("job exceeded its execution ceiling")

	// Mailbox errors.
	ErrReauthRequired     = errors.New("mailbox credential expired, reauthorization required")
	ErrMailboxUnavailable = errors.New("mailbox provider unavailable")

	// Source errors.
	ErrSourceDisconnected = errors.New("source is disconnected")
	ErrSourcePaused       = errors.New("source is paused")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}

// IsRetryable determines if an error should trigger a retry.
func IsRetryable(err error) bool {
	// Credential failures need a human, never a retry
	if errors.Is(err, ErrReauthRequired) {
		return false
	}

	if errors.Is(err, ErrRateLimit) ||
		errors.Is(err, ErrMailboxUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	return false
}
