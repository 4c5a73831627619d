package storage

import (
	"context"
	"fmt"
	"strings"
)

// GetPartnerDomains lists the known sender domains for a partner.
func (s *SQLiteStorage) GetPartnerDomains(ctx context.Context, partnerID string) ([]string, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(partnerID, "partnerID"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT domain FROM partner_domains WHERE partner_id = ? ORDER BY domain", partnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list partner domains: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var domains []string
	for rows.Next() {
		var domain string
		if err := rows.Scan(&domain); err != nil {
			return nil, err
		}
		domains = append(domains, domain)
	}
	return domains, rows.Err()
}

// SavePartnerDomain records a known sender domain for a partner.
func (s *SQLiteStorage) SavePartnerDomain(ctx context.Context, partnerID, domain, sourceID string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(partnerID, "partnerID"); err != nil {
		return err
	}
	if err := validateString(domain, "domain"); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO partner_domains (partner_id, domain, source_id)
		VALUES (?, ?, ?)
	`, partnerID, strings.ToLower(domain), sourceID)
	if err != nil {
		return fmt.Errorf("failed to save partner domain: %w", err)
	}
	return nil
}

// GetLearnedSenders lists the senders with a learned pattern for a partner.
func (s *SQLiteStorage) GetLearnedSenders(ctx context.Context, partnerID string) ([]string, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(partnerID, "partnerID"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT sender FROM learned_senders WHERE partner_id = ? ORDER BY created_at", partnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list learned senders: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var senders []string
	for rows.Next() {
		var sender string
		if err := rows.Scan(&sender); err != nil {
			return nil, err
		}
		senders = append(senders, sender)
	}
	return senders, rows.Err()
}

// SaveLearnedSender records that a sender's documents matched a partner.
func (s *SQLiteStorage) SaveLearnedSender(ctx context.Context, partnerID, sender, sourceID string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(partnerID, "partnerID"); err != nil {
		return err
	}
	if err := validateString(sender, "sender"); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO learned_senders (partner_id, sender, source_id)
		VALUES (?, ?, ?)
	`, partnerID, sender, sourceID)
	if err != nil {
		return fmt.Errorf("failed to save learned sender: %w", err)
	}
	return nil
}

// RemoveSourceHints scrubs every hint cross-referencing the given source,
// part of the disconnect cleanup.
func (s *SQLiteStorage) RemoveSourceHints(ctx context.Context, sourceID string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(sourceID, "sourceID"); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM partner_domains WHERE source_id = ?", sourceID); err != nil {
		return fmt.Errorf("failed to remove partner domains: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM learned_senders WHERE source_id = ?", sourceID); err != nil {
		return fmt.Errorf("failed to remove learned senders: %w", err)
	}
	return nil
}
