package match

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/docmatch/docmatch/internal/model"
)

func TestLooksLikeInvoice(t *testing.T) {
	tests := []struct {
		name     string
		doc      model.Document
		expected bool
	}{
		{
			name:     "invoice keyword in filename",
			doc:      model.Document{Filename: "Rechnung_2025_03.pdf"},
			expected: true,
		},
		{
			name:     "invoice keyword in subject",
			doc:      model.Document{Email: model.EmailMeta{Subject: "Your receipt from Acme"}},
			expected: true,
		},
		{
			name: "pdf with keyword in body",
			doc: model.Document{
				MimeType: "application/pdf",
				Email:    model.EmailMeta{Body: "attached you find the faktura"},
			},
			expected: true,
		},
		{
			name:     "newsletter",
			doc:      model.Document{Filename: "banner.png", Email: model.EmailMeta{Subject: "March deals"}},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := tt.doc
			assert.Equal(t, tt.expected, LooksLikeInvoice(&doc))
		})
	}
}

func TestIsReceiptMimeType(t *testing.T) {
	assert.True(t, isReceiptMimeType("application/pdf"))
	assert.True(t, isReceiptMimeType("APPLICATION/PDF"))
	assert.True(t, isReceiptMimeType("image/png; charset=binary"))
	assert.False(t, isReceiptMimeType("text/html"))
	assert.False(t, isReceiptMimeType(""))
}

func TestAmountSpellings(t *testing.T) {
	assert.ElementsMatch(t, []string{"45.23", "45,23"}, amountSpellings(4523))
	assert.ElementsMatch(t, []string{"45.23", "45,23"}, amountSpellings(-4523))
	assert.ElementsMatch(t, []string{"120.00", "120,00", "120"}, amountSpellings(12000))
}

func TestSenderDomain(t *testing.T) {
	tests := []struct {
		sender   string
		expected string
	}{
		{sender: "billing@acme.example", expected: "acme.example"},
		{sender: "Acme Billing <billing@ACME.example>", expected: "acme.example"},
		{sender: "no-address", expected: ""},
		{sender: "", expected: ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, SenderDomain(tt.sender), tt.sender)
	}
}

func TestTokenize(t *testing.T) {
	tokens := tokenize("REWE Markt GmbH & Co. KG", 3)
	assert.Equal(t, []string{"rewe", "markt", "gmbh"}, tokens)
}
