package engine

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/docmatch/docmatch/internal/match"
	"github.com/docmatch/docmatch/internal/model"
	"github.com/docmatch/docmatch/internal/service"
)

// downloadDocument fetches a candidate's attachment body from the mailbox
// and assigns its local identity. Whole-email candidates have no body to
// fetch and just get an id. Content storage is the document store's concern;
// the engine records size and hash only.
func downloadDocument(ctx context.Context, mailbox service.MailboxClient, doc *model.Document) error {
	if doc.Email.AttachmentID == "" {
		doc.ID = uuid.NewString()
		doc.CreatedAt = time.Now()
		return nil
	}

	data, mimeType, err := mailbox.FetchAttachment(ctx, doc.Email.AccountID, doc.Email.MessageID, doc.Email.AttachmentID)
	if err != nil {
		return fmt.Errorf("failed to fetch attachment: %w", err)
	}

	doc.ID = uuid.NewString()
	doc.CreatedAt = time.Now()
	if mimeType != "" {
		doc.MimeType = mimeType
	}
	doc.Size = int64(len(data))
	doc.ContentHash = fmt.Sprintf("%x", sha256.Sum256(data))
	return nil
}

// saveSenderHints remembers the sender address and its domain for the
// transaction's partner so future candidates from the same sender score
// higher. Hint failures never fail a connection.
func saveSenderHints(ctx context.Context, storage service.Storage, partnerID string, doc *model.Document) {
	if partnerID == "" || doc.Email.Sender == "" {
		return
	}

	if err := storage.SaveLearnedSender(ctx, partnerID, doc.Email.Sender, doc.SourceID); err != nil {
		slog.Warn("Failed to save learned sender", "partner_id", partnerID, "error", err)
	}
	if domain := match.SenderDomain(doc.Email.Sender); domain != "" {
		if err := storage.SavePartnerDomain(ctx, partnerID, domain, doc.SourceID); err != nil {
			slog.Warn("Failed to save partner domain", "partner_id", partnerID, "domain", domain, "error", err)
		}
	}
}
