// Package match implements the transaction–document match scorer and ranker.
package match

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/docmatch/docmatch/internal/model"
)

// Signal weights in points. Scores are additive, then the date-distance
// multiplier and the amount-mismatch penalty are applied, then the total is
// clamped to model.MaxScore.
const (
	weightPartnerIdentity = 35

	weightAmountExact    = 40
	weightAmountWithin1  = 38
	weightAmountWithin5  = 30
	weightAmountWithin10 = 20

	weightPartnerText     = 20
	weightPartnerFilename = 15

	weightDateSameDay  = 15
	weightDateWithin3  = 12
	weightDateWithin7  = 8
	weightDateWithin14 = 4

	weightMimeType        = 15
	weightFilenameKeyword = 25
	weightSubjectKeyword  = 15
	weightBodyKeyword     = 10
	weightAmountInText    = 20
	weightPartnerInText   = 10
	weightReferenceInText = 10
	weightKnownDomain     = 20
	weightLearnedSender   = 10

	// Exact amount landing on the transaction date corroborates both hard
	// signals at once and is worth more than either alone.
	weightExactCorroboration = 15

	// A numeric amount off by more than half contradicts the match no
	// matter how many soft signals agree.
	amountMismatchRatio   = 0.5
	amountMismatchPenalty = 0.4
)

// Breakdown categories.
const (
	CategoryPartner       = "partner"
	CategoryAmount        = "amount"
	CategoryDate          = "date"
	CategoryEmail         = "email"
	CategoryCorroboration = "corroboration"
)

// Hints are partner-specific lookups feeding the email heuristics. They are
// resolved by the caller so that Score stays a pure function.
type Hints struct {
	PartnerDomains []string // Known sender domains for the transaction's partner
	LearnedSenders []string // Senders with a previously learned pattern
}

// Score evaluates one candidate document against one transaction. It is
// deterministic, performs no I/O, and tolerates any field being absent.
func Score(txn *model.Transaction, doc *model.Document, hints Hints) model.MatchResult {
	result := model.MatchResult{
		TransactionID: txn.ID,
		DocumentID:    doc.SyntheticID(),
		Breakdown:     make(map[string]int),
	}

	points := 0.0
	amountMismatch := false
	amountExact := false
	partnerIdentity := false

	add := func(category string, pts int, reason string) {
		points += float64(pts)
		result.Breakdown[category] += pts
		result.Reasons = append(result.Reasons, reason)
	}

	// Partner identity dominates the weaker partner heuristics.
	if txn.PartnerID != "" && doc.PartnerID == txn.PartnerID {
		partnerIdentity = true
		add(CategoryPartner, weightPartnerIdentity, "Same partner assigned on both sides")
	}

	// Amount comparison against the extracted document amount.
	if doc.ExtractedAmount != nil && txn.Amount != 0 {
		txnAbs := txn.Amount
		if txnAbs < 0 {
			txnAbs = -txnAbs
		}
		docAbs := *doc.ExtractedAmount
		if docAbs < 0 {
			docAbs = -docAbs
		}
		diff := math.Abs(float64(docAbs-txnAbs)) / float64(txnAbs)

		switch {
		case diff == 0:
			amountExact = true
			add(CategoryAmount, weightAmountExact, "Amount matches exactly")
		case diff <= 0.01:
			add(CategoryAmount, weightAmountWithin1, "Amount matches within 1%")
		case diff <= 0.05:
			add(CategoryAmount, weightAmountWithin5, "Amount matches within 5%")
		case diff <= 0.10:
			add(CategoryAmount, weightAmountWithin10, "Amount matches within 10%")
		case diff > amountMismatchRatio:
			amountMismatch = true
		}
	}

	// Partner text heuristics, skipped when identity already matched.
	if !partnerIdentity {
		partner := partnerText(txn)
		switch {
		case partner != "" && doc.ExtractedPartner != "":
			if substringEitherWay(partner, doc.ExtractedPartner) {
				add(CategoryPartner, weightPartnerText, "Partner name matches document")
			}
		case partner != "" && doc.Filename != "":
			if anyTokenContained(tokenize(partner, 3), doc.Filename) {
				add(CategoryPartner, weightPartnerFilename, "Partner name appears in filename")
			}
		}
	}

	// Proximity of the extracted document date to the transaction date.
	sameDay := false
	if doc.ExtractedDate != nil {
		days := absDays(*doc.ExtractedDate, txn.Date)
		switch {
		case days == 0:
			sameDay = true
			add(CategoryDate, weightDateSameDay, "Document dated on the transaction date")
		case days <= 3:
			add(CategoryDate, weightDateWithin3, "Document dated within 3 days")
		case days <= 7:
			add(CategoryDate, weightDateWithin7, "Document dated within a week")
		case days <= 14:
			add(CategoryDate, weightDateWithin14, "Document dated within two weeks")
		}
	}

	if amountExact && sameDay {
		add(CategoryCorroboration, weightExactCorroboration, "Exact amount on the transaction date")
	}

	// Email heuristics carry the score for candidates that have not been
	// downloaded yet and therefore have no extracted fields.
	if !doc.IsDownloaded() {
		scoreEmailSignals(txn, doc, hints, add)
	}

	// Date-distance decay, applied once when the email date is known.
	if !doc.Email.MessageDate.IsZero() {
		multiplier, reason := dateDistanceMultiplier(doc.Email.MessageDate, txn.Date)
		if multiplier < 1.0 {
			points *= multiplier
			result.Reasons = append(result.Reasons, reason)
		}
	}

	if amountMismatch {
		points *= amountMismatchPenalty
		result.Reasons = append(result.Reasons, "Amount differs by more than 50% (score reduced)")
	}

	score := int(math.Round(points))
	if score < 0 {
		score = 0
	}
	if score > model.MaxScore {
		score = model.MaxScore
	}

	result.Score = score
	result.Label = model.LabelForScore(score)
	return result
}

// scoreEmailSignals applies the document-likelihood heuristics for mailbox
// candidates whose bodies have not been fetched.
func scoreEmailSignals(txn *model.Transaction, doc *model.Document, hints Hints, add func(string, int, string)) {
	if isReceiptMimeType(doc.MimeType) {
		add(CategoryEmail, weightMimeType, "Attachment type is a plausible receipt")
	}
	if containsInvoiceKeyword(doc.Filename) {
		add(CategoryEmail, weightFilenameKeyword, "Filename contains an invoice keyword")
	}
	if containsInvoiceKeyword(doc.Email.Subject) {
		add(CategoryEmail, weightSubjectKeyword, "Email subject contains an invoice keyword")
	}

	text := doc.SearchText()
	if containsInvoiceKeyword(text) {
		add(CategoryEmail, weightBodyKeyword, "Email text contains an invoice keyword")
	}

	if txn.Amount != 0 {
		for _, spelling := range amountSpellings(txn.Amount) {
			if strings.Contains(text, spelling) || strings.Contains(strings.ToLower(doc.Filename), spelling) {
				add(CategoryEmail, weightAmountInText, "Transaction amount appears in the email")
				break
			}
		}
	}

	if partner := partnerText(txn); partner != "" {
		if anyTokenContained(tokenize(partner, 3), text) {
			add(CategoryEmail, weightPartnerInText, "Partner name appears in the email text")
		}
	}
	if txn.Reference != "" {
		if anyTokenContained(tokenize(txn.Reference, 3), text) {
			add(CategoryEmail, weightReferenceInText, "Payment reference appears in the email text")
		}
	}

	if domain := SenderDomain(doc.Email.Sender); domain != "" {
		for _, known := range hints.PartnerDomains {
			if strings.EqualFold(known, domain) {
				add(CategoryEmail, weightKnownDomain, "Sender domain is known for this partner")
				break
			}
		}
	}
	if doc.Email.Sender != "" {
		for _, sender := range hints.LearnedSenders {
			if strings.EqualFold(sender, doc.Email.Sender) {
				add(CategoryEmail, weightLearnedSender, "Sender previously matched this partner")
				break
			}
		}
	}
}

// dateDistanceMultiplier decays the score as the email date drifts away from
// the transaction date. Invoices normally precede payment, so evidence from
// after the transaction decays faster than evidence from before it.
func dateDistanceMultiplier(emailDate, txnDate time.Time) (float64, string) {
	if !emailDate.After(txnDate) {
		days := absDays(emailDate, txnDate)
		switch {
		case days <= 14:
			return 1.0, ""
		case days > 180:
			return 0.6, "Email predates the transaction by more than 6 months (score reduced)"
		default:
			// Linear decay from 1.0 at 14 days to 0.6 at 180 days.
			m := 1.0 - 0.4*float64(days-14)/float64(180-14)
			return m, fmt.Sprintf("Email predates the transaction by %d days (score reduced)", days)
		}
	}

	days := absDays(emailDate, txnDate)
	switch {
	case days <= 7:
		return 1.0, ""
	case days > 90:
		return 0.3, "Email postdates the transaction by more than 3 months (score reduced)"
	default:
		// Linear decay from 1.0 at 7 days to 0.3 at 90 days.
		m := 1.0 - 0.7*float64(days-7)/float64(90-7)
		return m, fmt.Sprintf("Email postdates the transaction by %d days (score reduced)", days)
	}
}

// partnerText picks the best available partner text on the transaction side.
func partnerText(txn *model.Transaction) string {
	if txn.CounterpartyName != "" {
		return txn.CounterpartyName
	}
	return txn.Description
}

// substringEitherWay reports a case-insensitive substring match in either
// direction.
func substringEitherWay(a, b string) bool {
	la, lb := strings.ToLower(strings.TrimSpace(a)), strings.ToLower(strings.TrimSpace(b))
	if la == "" || lb == "" {
		return false
	}
	return strings.Contains(la, lb) || strings.Contains(lb, la)
}

// absDays returns the absolute distance between two dates in whole days,
// ignoring the time of day.
func absDays(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	at := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	bt := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)

	days := int(at.Sub(bt).Hours() / 24)
	if days < 0 {
		days = -days
	}
	return days
}
