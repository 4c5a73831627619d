package mailbox

import (
	"context"

	"github.com/docmatch/docmatch/internal/model"
	"github.com/docmatch/docmatch/internal/service"
)

// MockClient is a mock implementation of service.MailboxClient for testing.
type MockClient struct {
	// Functions that can be set by tests to control behavior
	SearchAttachmentsFn func(ctx context.Context, accountID string, queries []string) ([]model.Document, error)
	SearchMessagesFn    func(ctx context.Context, accountID string, queries []string) ([]service.MailMessage, error)
	FetchMessageFn      func(ctx context.Context, accountID, messageID string) (*service.MailMessage, error)
	FetchAttachmentFn   func(ctx context.Context, accountID, messageID, attachmentID string) ([]byte, string, error)
	RevokeCredentialFn  func(ctx context.Context, accountID string) error

	// Call tracking
	SearchAttachmentsCalls []SearchCall
	SearchMessagesCalls    []SearchCall
	FetchAttachmentCalls   []FetchAttachmentCall
	RevokeCredentialCalls  []string
}

// SearchCall records the parameters of a search call.
type SearchCall struct {
	AccountID string
	Queries   []string
}

// FetchAttachmentCall records the parameters of a FetchAttachment call.
type FetchAttachmentCall struct {
	AccountID    string
	MessageID    string
	AttachmentID string
}

// NewMockClient creates a new mock mailbox client.
func NewMockClient() *MockClient {
	return &MockClient{}
}

var _ service.MailboxClient = (*MockClient)(nil)

// SearchAttachments implements service.MailboxClient.
func (m *MockClient) SearchAttachments(ctx context.Context, accountID string, queries []string) ([]model.Document, error) {
	m.SearchAttachmentsCalls = append(m.SearchAttachmentsCalls, SearchCall{AccountID: accountID, Queries: queries})
	if m.SearchAttachmentsFn != nil {
		return m.SearchAttachmentsFn(ctx, accountID, queries)
	}
	return nil, nil
}

// SearchMessages implements service.MailboxClient.
func (m *MockClient) SearchMessages(ctx context.Context, accountID string, queries []string) ([]service.MailMessage, error) {
	m.SearchMessagesCalls = append(m.SearchMessagesCalls, SearchCall{AccountID: accountID, Queries: queries})
	if m.SearchMessagesFn != nil {
		return m.SearchMessagesFn(ctx, accountID, queries)
	}
	return nil, nil
}

// FetchMessage implements service.MailboxClient.
func (m *MockClient) FetchMessage(ctx context.Context, accountID, messageID string) (*service.MailMessage, error) {
	if m.FetchMessageFn != nil {
		return m.FetchMessageFn(ctx, accountID, messageID)
	}
	return &service.MailMessage{ID: messageID}, nil
}

// FetchAttachment implements service.MailboxClient.
func (m *MockClient) FetchAttachment(ctx context.Context, accountID, messageID, attachmentID string) ([]byte, string, error) {
	m.FetchAttachmentCalls = append(m.FetchAttachmentCalls, FetchAttachmentCall{
		AccountID:    accountID,
		MessageID:    messageID,
		AttachmentID: attachmentID,
	})
	if m.FetchAttachmentFn != nil {
		return m.FetchAttachmentFn(ctx, accountID, messageID, attachmentID)
	}
	return []byte("mock attachment"), "application/pdf", nil
}

// RevokeCredential implements service.MailboxClient.
func (m *MockClient) RevokeCredential(ctx context.Context, accountID string) error {
	m.RevokeCredentialCalls = append(m.RevokeCredentialCalls, accountID)
	if m.RevokeCredentialFn != nil {
		return m.RevokeCredentialFn(ctx, accountID)
	}
	return nil
}
