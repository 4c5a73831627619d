package model

import "time"

// Source is a connected mailbox integration. Sources are soft-disconnected
// rather than deleted so that dedup state and sync watermarks survive a
// disconnect/reconnect cycle.
type Source struct {
	CreatedAt           time.Time
	DisconnectedAt      *time.Time // Nil while active
	SyncedDateFrom      *time.Time // Low-water mark of sync coverage
	SyncedDateTo        *time.Time // High-water mark of sync coverage
	LastSyncAt          *time.Time
	ID                  string
	ExternalAccountID   string // Stable id at the mailbox provider
	Email               string
	LastError           string
	ProcessedMessageIDs []string // Cumulative, preserved across disconnect
	Active              bool
	NeedsReauth         bool
	Paused              bool
}

// IsConnected reports whether the source is currently connected.
func (s *Source) IsConnected() bool {
	return s.DisconnectedAt == nil
}

// CanSync reports whether new sync jobs may run for this source.
func (s *Source) CanSync() bool {
	return s.Active && !s.Paused && !s.NeedsReauth && s.IsConnected()
}

// HasProcessedMessage reports whether a message id was already processed in
// any previous sync of this source.
func (s *Source) HasProcessedMessage(messageID string) bool {
	for _, id := range s.ProcessedMessageIDs {
		if id == messageID {
			return true
		}
	}
	return false
}
