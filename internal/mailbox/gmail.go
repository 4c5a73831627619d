// Package mailbox implements the MailboxClient boundary against the Gmail
// API. The client is an injected handle owned by the caller; it holds no
// process-wide connection state.
package mailbox

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/docmatch/docmatch/internal/common"
	"github.com/docmatch/docmatch/internal/model"
	"github.com/docmatch/docmatch/internal/service"
)

// searchPageSize bounds one provider search. The scheduler splits large
// ranges into gap jobs, so a single page per query is enough.
const searchPageSize = 100

// mailboxRetry bounds backoff against transient Gmail faults.
var mailboxRetry = service.RetryOptions{
	MaxAttempts:  3,
	InitialDelay: 500 * time.Millisecond,
	MaxDelay:     10 * time.Second,
}

// TokenStore resolves the OAuth token for a mailbox account. The OAuth
// dance itself lives outside the engine.
type TokenStore interface {
	Token(ctx context.Context, accountID string) (*oauth2.Token, error)
	Delete(ctx context.Context, accountID string) error
}

// GmailClient implements service.MailboxClient on top of the Gmail API.
type GmailClient struct {
	tokens TokenStore
}

// NewGmailClient creates a Gmail mailbox client.
func NewGmailClient(tokens TokenStore) *GmailClient {
	return &GmailClient{tokens: tokens}
}

var _ service.MailboxClient = (*GmailClient)(nil)

// SearchAttachments runs the queries and returns candidate documents built
// from attachment metadata only. Nothing is downloaded.
func (c *GmailClient) SearchAttachments(ctx context.Context, accountID string, queries []string) ([]model.Document, error) {
	svc, err := c.service(ctx, accountID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var candidates []model.Document
	for _, query := range queries {
		ids, listErr := c.listMessageIDs(ctx, svc, query)
		if listErr != nil {
			return candidates, listErr
		}

		for _, id := range ids {
			if seen[id] {
				continue
			}
			seen[id] = true

			msg, getErr := c.getMessage(ctx, svc, id)
			if getErr != nil {
				if errors.Is(getErr, common.ErrReauthRequired) {
					return candidates, fmt.Errorf("gmail message fetch: %w", common.ErrReauthRequired)
				}
				slog.Warn("Failed to fetch message, skipping", "message_id", id, "error", getErr)
				continue
			}

			parsed := parseMessage(msg)
			for _, att := range parsed.Attachments {
				doc := model.Document{
					MimeType: att.MimeType,
					Filename: att.Filename,
					Email: model.EmailMeta{
						MessageDate:  parsed.Date,
						Subject:      parsed.Subject,
						Sender:       parsed.From,
						Snippet:      parsed.Snippet,
						Body:         parsed.Body,
						MessageID:    parsed.ID,
						AttachmentID: att.ID,
						AccountID:    accountID,
					},
				}
				candidates = append(candidates, doc)
			}
		}
	}
	return candidates, nil
}

// SearchMessages returns whole messages matching the queries.
func (c *GmailClient) SearchMessages(ctx context.Context, accountID string, queries []string) ([]service.MailMessage, error) {
	svc, err := c.service(ctx, accountID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var messages []service.MailMessage
	for _, query := range queries {
		ids, listErr := c.listMessageIDs(ctx, svc, query)
		if listErr != nil {
			return messages, listErr
		}

		for _, id := range ids {
			if seen[id] {
				continue
			}
			seen[id] = true

			msg, getErr := c.getMessage(ctx, svc, id)
			if getErr != nil {
				if errors.Is(getErr, common.ErrReauthRequired) {
					return messages, fmt.Errorf("gmail message fetch: %w", common.ErrReauthRequired)
				}
				slog.Warn("Failed to fetch message, skipping", "message_id", id, "error", getErr)
				continue
			}
			messages = append(messages, parseMessage(msg))
		}
	}
	return messages, nil
}

// FetchMessage fetches one message with headers and body.
func (c *GmailClient) FetchMessage(ctx context.Context, accountID, messageID string) (*service.MailMessage, error) {
	svc, err := c.service(ctx, accountID)
	if err != nil {
		return nil, err
	}

	msg, err := c.getMessage(ctx, svc, messageID)
	if err != nil {
		if errors.Is(err, common.ErrReauthRequired) {
			return nil, fmt.Errorf("gmail message fetch: %w", common.ErrReauthRequired)
		}
		return nil, fmt.Errorf("failed to get message %s: %w", messageID, err)
	}

	parsed := parseMessage(msg)
	return &parsed, nil
}

// FetchAttachment downloads one attachment body.
func (c *GmailClient) FetchAttachment(ctx context.Context, accountID, messageID, attachmentID string) ([]byte, string, error) {
	svc, err := c.service(ctx, accountID)
	if err != nil {
		return nil, "", err
	}

	var att *gmail.MessagePartBody
	err = common.WithRetry(ctx, func() error {
		var doErr error
		att, doErr = svc.Users.Messages.Attachments.Get("me", messageID, attachmentID).Context(ctx).Do()
		return classifyAPIError(doErr)
	}, mailboxRetry)
	if err != nil {
		if errors.Is(err, common.ErrReauthRequired) {
			return nil, "", fmt.Errorf("gmail attachment fetch: %w", common.ErrReauthRequired)
		}
		return nil, "", fmt.Errorf("failed to get attachment: %w", err)
	}

	data, err := base64.URLEncoding.DecodeString(att.Data)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode attachment data: %w", err)
	}

	// The attachment resource carries no mime type; the caller keeps the
	// one from the message part metadata.
	return data, "", nil
}

// revokeEndpoint is Google's OAuth token revocation endpoint. Overridable
// for tests.
var revokeEndpoint = "https://oauth2.googleapis.com/revoke"

// RevokeCredential revokes the account's token with the provider and deletes
// it locally. Provider-side revocation is best-effort; the local deletion is
// what disconnects the source.
func (c *GmailClient) RevokeCredential(ctx context.Context, accountID string) error {
	if token, err := c.tokens.Token(ctx, accountID); err == nil {
		if revokeErr := revokeToken(ctx, token); revokeErr != nil {
			slog.Warn("Failed to revoke token with provider, removing locally",
				"account_id", accountID,
				"error", revokeErr)
		}
	}

	if err := c.tokens.Delete(ctx, accountID); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}

// revokeToken posts the credential to the provider's revocation endpoint.
// Revoking the refresh token invalidates every access token minted from it.
func revokeToken(ctx context.Context, token *oauth2.Token) error {
	cred := token.RefreshToken
	if cred == "" {
		cred = token.AccessToken
	}
	if cred == "" {
		return nil
	}

	form := url.Values{"token": {cred}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, revokeEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("revoke endpoint returned %s", resp.Status)
	}
	return nil
}

func (c *GmailClient) service(ctx context.Context, accountID string) (*gmail.Service, error) {
	token, err := c.tokens.Token(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("no credential for account %s: %w", accountID, common.ErrReauthRequired)
	}

	svc, err := gmail.NewService(ctx, option.WithTokenSource(oauth2.StaticTokenSource(token)))
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}
	return svc, nil
}

func (c *GmailClient) getMessage(ctx context.Context, svc *gmail.Service, messageID string) (*gmail.Message, error) {
	var msg *gmail.Message
	err := common.WithRetry(ctx, func() error {
		var doErr error
		msg, doErr = svc.Users.Messages.Get("me", messageID).Format("full").Context(ctx).Do()
		return classifyAPIError(doErr)
	}, mailboxRetry)
	return msg, err
}

func (c *GmailClient) listMessageIDs(ctx context.Context, svc *gmail.Service, query string) ([]string, error) {
	var resp *gmail.ListMessagesResponse
	err := common.WithRetry(ctx, func() error {
		var doErr error
		resp, doErr = svc.Users.Messages.List("me").Q(query).MaxResults(searchPageSize).Context(ctx).Do()
		return classifyAPIError(doErr)
	}, mailboxRetry)
	if err != nil {
		if errors.Is(err, common.ErrReauthRequired) {
			return nil, fmt.Errorf("gmail search: %w", common.ErrReauthRequired)
		}
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	ids := make([]string, 0, len(resp.Messages))
	for _, msg := range resp.Messages {
		ids = append(ids, msg.Id)
	}
	return ids, nil
}

// parseMessage flattens a Gmail message into the boundary type.
func parseMessage(msg *gmail.Message) service.MailMessage {
	parsed := service.MailMessage{
		ID:      msg.Id,
		Snippet: msg.Snippet,
	}
	if msg.InternalDate > 0 {
		parsed.Date = time.UnixMilli(msg.InternalDate)
	}
	if msg.Payload == nil {
		return parsed
	}

	for _, header := range msg.Payload.Headers {
		switch header.Name {
		case "Subject":
			parsed.Subject = header.Value
		case "From":
			parsed.From = header.Value
		case "Date":
			if parsed.Date.IsZero() {
				if date, err := mail.ParseDate(header.Value); err == nil {
					parsed.Date = date
				}
			}
		}
	}

	parsed.Body = extractBody(msg.Payload)
	parsed.Attachments = extractAttachments(msg.Payload)
	return parsed
}

// extractBody pulls the first text/plain part, falling back to text/html.
func extractBody(payload *gmail.MessagePart) string {
	var plain, html string
	walkParts(payload, func(part *gmail.MessagePart) {
		if part.Body == nil || part.Body.Data == "" || part.Filename != "" {
			return
		}
		decoded, err := base64.URLEncoding.DecodeString(part.Body.Data)
		if err != nil {
			return
		}
		switch {
		case part.MimeType == "text/plain" && plain == "":
			plain = string(decoded)
		case part.MimeType == "text/html" && html == "":
			html = string(decoded)
		}
	})

	if plain != "" {
		return plain
	}
	return html
}

// extractAttachments collects attachment metadata from all message parts.
func extractAttachments(payload *gmail.MessagePart) []service.AttachmentMeta {
	var attachments []service.AttachmentMeta
	walkParts(payload, func(part *gmail.MessagePart) {
		if part.Filename == "" || part.Body == nil || part.Body.AttachmentId == "" {
			return
		}
		attachments = append(attachments, service.AttachmentMeta{
			ID:       part.Body.AttachmentId,
			Filename: part.Filename,
			MimeType: part.MimeType,
			Size:     part.Body.Size,
		})
	})
	return attachments
}

func walkParts(part *gmail.MessagePart, fn func(*gmail.MessagePart)) {
	if part == nil {
		return
	}
	fn(part)
	for _, child := range part.Parts {
		walkParts(child, fn)
	}
}

// classifyAPIError maps Gmail API failures onto the shared sentinels so the
// retry loop can tell transient faults from credential ones.
func classifyAPIError(err error) error {
	if err == nil {
		return nil
	}
	if isAuthError(err) {
		return fmt.Errorf("%w: %v", common.ErrReauthRequired, err)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 429:
			return fmt.Errorf("%w: %v", common.ErrRateLimit, err)
		case apiErr.Code >= 500:
			return fmt.Errorf("%w: %v", common.ErrMailboxUnavailable, err)
		}
	}
	return err
}

// isAuthError reports whether a Gmail API error means the credential is
// expired or revoked.
func isAuthError(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == 401 || apiErr.Code == 403
	}
	return strings.Contains(err.Error(), "invalid_grant")
}
