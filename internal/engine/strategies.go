package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/docmatch/docmatch/internal/model"
	"github.com/docmatch/docmatch/internal/service"
)

// Built-in strategy names, in priority order: cheap local lookups first,
// remote mailbox calls last.
const (
	StrategyLocalDocuments     = "local_documents"
	StrategyLocalAmount        = "local_amount"
	StrategyMailboxAttachments = "mailbox_attachments"
	StrategyMailboxEmails      = "mailbox_emails"
)

// TransactionMatchThreshold is the auto-connect threshold for whole emails
// classified as documents. It is deliberately stricter than the file
// threshold: an email body is weaker evidence than an attached invoice.
const TransactionMatchThreshold = 85

// DefaultStrategies returns the built-in strategy set in priority order.
func DefaultStrategies(storage service.Storage, mailbox service.MailboxClient) []Strategy {
	return []Strategy{
		LocalDocumentsStrategy(storage),
		LocalAmountStrategy(storage),
		MailboxAttachmentsStrategy(storage, mailbox),
		MailboxEmailsStrategy(storage, mailbox),
	}
}

// LocalDocumentsStrategy matches the transaction against documents already
// in the store, using the full extracted-field signal set.
func LocalDocumentsStrategy(storage service.Storage) Strategy {
	return Strategy{
		Name: StrategyLocalDocuments,
		Cost: CostLocal,
		Supply: func(ctx context.Context, _ *model.Transaction) ([]model.Document, error) {
			return storage.ListDocuments(ctx, service.DocumentFilter{Unconnected: true})
		},
	}
}

// LocalAmountStrategy narrows the local pool to documents whose extracted
// amount is within 10% of the transaction amount. It exists to surface
// amount-anchored matches that the broader local pass may rank below its
// suggestion cutoff.
func LocalAmountStrategy(storage service.Storage) Strategy {
	return Strategy{
		Name: StrategyLocalAmount,
		Cost: CostLocal,
		Supply: func(ctx context.Context, txn *model.Transaction) ([]model.Document, error) {
			docs, err := storage.ListDocuments(ctx, service.DocumentFilter{Unconnected: true})
			if err != nil {
				return nil, err
			}

			txnAbs := txn.Amount
			if txnAbs < 0 {
				txnAbs = -txnAbs
			}
			if txnAbs == 0 {
				return nil, nil
			}

			var narrowed []model.Document
			for _, doc := range docs {
				if doc.ExtractedAmount == nil {
					continue
				}
				docAbs := *doc.ExtractedAmount
				if docAbs < 0 {
					docAbs = -docAbs
				}
				diff := docAbs - txnAbs
				if diff < 0 {
					diff = -diff
				}
				if float64(diff)/float64(txnAbs) <= 0.10 {
					narrowed = append(narrowed, doc)
				}
			}
			return narrowed, nil
		},
	}
}

// MailboxAttachmentsStrategy searches connected mailboxes for attachments
// around the transaction date. Candidates are scored on email metadata alone
// and only downloaded when they clear the auto-connect threshold.
func MailboxAttachmentsStrategy(storage service.Storage, mailbox service.MailboxClient) Strategy {
	return Strategy{
		Name: StrategyMailboxAttachments,
		Cost: CostRemote,
		Supply: func(ctx context.Context, txn *model.Transaction) ([]model.Document, error) {
			return supplyFromSources(ctx, storage, txn, func(ctx context.Context, src *model.Source, queries []string) ([]model.Document, error) {
				docs, err := mailbox.SearchAttachments(ctx, src.ExternalAccountID, queries)
				if err != nil {
					return nil, err
				}
				for i := range docs {
					docs[i].SourceID = src.ID
					docs[i].Email.AccountID = src.ExternalAccountID
				}
				return docs, nil
			})
		},
	}
}

// MailboxEmailsStrategy treats whole emails (no attachment required) as
// candidate documents, for receipts that arrive as plain mail bodies. It
// auto-connects at the stricter transaction-match threshold.
func MailboxEmailsStrategy(storage service.Storage, mailbox service.MailboxClient) Strategy {
	return Strategy{
		Name:      StrategyMailboxEmails,
		Cost:      CostRemote,
		Threshold: TransactionMatchThreshold,
		Supply: func(ctx context.Context, txn *model.Transaction) ([]model.Document, error) {
			return supplyFromSources(ctx, storage, txn, func(ctx context.Context, src *model.Source, queries []string) ([]model.Document, error) {
				messages, err := mailbox.SearchMessages(ctx, src.ExternalAccountID, queries)
				if err != nil {
					return nil, err
				}

				docs := make([]model.Document, 0, len(messages))
				for _, msg := range messages {
					if len(msg.Attachments) > 0 {
						// Attachments are the attachment strategy's job.
						continue
					}
					docs = append(docs, EmailAsDocument(msg, src))
				}
				return docs, nil
			})
		},
	}
}

// EmailAsDocument converts a whole mail message into a candidate document.
func EmailAsDocument(msg service.MailMessage, src *model.Source) model.Document {
	return model.Document{
		MimeType: "message/rfc822",
		Filename: msg.Subject,
		SourceID: src.ID,
		Email: model.EmailMeta{
			MessageDate: msg.Date,
			Subject:     msg.Subject,
			Sender:      msg.From,
			Snippet:     msg.Snippet,
			Body:        msg.Body,
			MessageID:   msg.ID,
			AccountID:   src.ExternalAccountID,
		},
	}
}

// supplyFromSources fans a remote search out over every source that is
// currently allowed to sync.
func supplyFromSources(ctx context.Context, storage service.Storage, txn *model.Transaction, search func(context.Context, *model.Source, []string) ([]model.Document, error)) ([]model.Document, error) {
	sources, err := storage.ListSources(ctx)
	if err != nil {
		return nil, err
	}

	queries := MailboxQueries(txn)
	var candidates []model.Document
	for i := range sources {
		src := &sources[i]
		if !src.CanSync() {
			continue
		}

		docs, searchErr := search(ctx, src, queries)
		if searchErr != nil {
			return candidates, searchErr
		}
		candidates = append(candidates, docs...)
	}
	return candidates, nil
}

// MailboxQueries builds the provider search queries for one transaction:
// the counterparty text and the amount in its locale spellings, windowed
// around the transaction date. Interpreting them is the provider's concern.
func MailboxQueries(txn *model.Transaction) []string {
	window := fmt.Sprintf("after:%s before:%s",
		txn.Date.AddDate(0, -6, 0).Format("2006/01/02"),
		txn.Date.AddDate(0, 3, 0).Format("2006/01/02"))

	var queries []string
	if partner := strings.TrimSpace(txn.CounterpartyName); partner != "" {
		queries = append(queries, fmt.Sprintf("%q %s", partner, window))
	}

	amount := txn.Amount
	if amount < 0 {
		amount = -amount
	}
	if amount != 0 {
		units := amount / 100
		cents := amount % 100
		queries = append(queries,
			fmt.Sprintf("%d.%02d %s", units, cents, window),
			fmt.Sprintf("%d,%02d %s", units, cents, window))
	}

	if len(queries) == 0 {
		queries = append(queries, window)
	}
	return queries
}

// syncRangeQuery builds the provider query covering one sync gap.
func syncRangeQuery(from, to time.Time) string {
	return fmt.Sprintf("after:%s before:%s",
		from.Format("2006/01/02"),
		to.AddDate(0, 0, 1).Format("2006/01/02"))
}
