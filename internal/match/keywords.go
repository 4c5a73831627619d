package match

import (
	"fmt"
	"strings"

	"github.com/docmatch/docmatch/internal/model"
)

// invoiceKeywords are filename/subject/body markers that suggest an email or
// attachment carries an invoice or receipt. The list is multilingual because
// ledgers routinely mix German, English and Scandinavian counterparties.
var invoiceKeywords = []string{
	"invoice",
	"rechnung",
	"receipt",
	"beleg",
	"quittung",
	"faktura",
	"bon",
	"bill",
}

// receiptMimeTypes are mime types a receipt or invoice plausibly arrives as.
var receiptMimeTypes = map[string]bool{
	"application/pdf": true,
	"image/jpeg":      true,
	"image/jpg":       true,
	"image/png":       true,
	"image/tiff":      true,
	"image/heic":      true,
}

// containsInvoiceKeyword reports whether the lowercased text contains any
// invoice keyword.
func containsInvoiceKeyword(text string) bool {
	if text == "" {
		return false
	}
	lower := strings.ToLower(text)
	for _, kw := range invoiceKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// LooksLikeInvoice reports whether a candidate's metadata alone suggests it
// carries an invoice or receipt. Sync uses it to decide which unmatched
// attachments are still worth importing as local candidates.
func LooksLikeInvoice(doc *model.Document) bool {
	return containsInvoiceKeyword(doc.Filename) ||
		containsInvoiceKeyword(doc.Email.Subject) ||
		(isReceiptMimeType(doc.MimeType) && containsInvoiceKeyword(doc.SearchText()))
}

// isReceiptMimeType reports whether the mime type plausibly carries a receipt.
func isReceiptMimeType(mimeType string) bool {
	base := mimeType
	if idx := strings.Index(base, ";"); idx >= 0 {
		base = base[:idx]
	}
	return receiptMimeTypes[strings.ToLower(strings.TrimSpace(base))]
}

// amountSpellings renders an amount in minor units in the locale variants a
// mail body or filename may use: "45.23", "45,23" and, for round amounts,
// the bare integer.
func amountSpellings(amount int64) []string {
	if amount < 0 {
		amount = -amount
	}
	units := amount / 100
	cents := amount % 100

	spellings := []string{
		fmt.Sprintf("%d.%02d", units, cents),
		fmt.Sprintf("%d,%02d", units, cents),
	}
	if cents == 0 {
		spellings = append(spellings, fmt.Sprintf("%d", units))
	}
	return spellings
}

// tokenize splits text into lowercase tokens of at least minLen runes,
// dropping punctuation.
func tokenize(text string, minLen int) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return false
		case r > 127: // keep umlauts and other non-ASCII letters
			return false
		}
		return true
	})

	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) >= minLen {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// anyTokenContained reports whether any token appears as a substring of the
// lowercased haystack.
func anyTokenContained(tokens []string, haystack string) bool {
	if haystack == "" {
		return false
	}
	lower := strings.ToLower(haystack)
	for _, tok := range tokens {
		if strings.Contains(lower, tok) {
			return true
		}
	}
	return false
}

// SenderDomain extracts the domain part of an email sender header, which may
// be a bare address or a "Name <addr@domain>" form.
func SenderDomain(sender string) string {
	addr := sender
	if start := strings.LastIndex(addr, "<"); start >= 0 {
		addr = addr[start+1:]
		if end := strings.Index(addr, ">"); end >= 0 {
			addr = addr[:end]
		}
	}
	at := strings.LastIndex(addr, "@")
	if at < 0 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(addr[at+1:]))
}
