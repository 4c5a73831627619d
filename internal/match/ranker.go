package match

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/docmatch/docmatch/internal/model"
	"github.com/docmatch/docmatch/internal/service"
)

// Defaults for ranking output.
const (
	// DefaultSuggestionFloor is the minimum score a candidate needs to be
	// reported as a suggestion at all.
	DefaultSuggestionFloor = 20
	// DefaultRankLimit caps the number of suggestions returned.
	DefaultRankLimit = 20

	// residualToleranceMinor is one whole unit of currency in minor units.
	// A residual at or below it counts as settled.
	residualToleranceMinor = 100
)

// Aggregation is the read-only view over a transaction's already-connected
// documents: how much of the transaction amount they explain. It feeds
// telemetry, never matching decisions.
type Aggregation struct {
	Currency       string
	ConnectedTotal int64 // Sum of connected document amounts, minor units
	Residual       int64 // Open amount still unexplained, minor units
	DocumentCount  int
	Settled        bool // Residual within one unit of currency
}

// Ranker scores candidate pools against transactions and produces ordered
// suggestions. Partner hints and FX rates are resolved through injected
// collaborators.
type Ranker struct {
	storage service.Storage
	rates   service.RateProvider
	floor   int
}

// NewRanker creates a ranker with the default suggestion floor.
func NewRanker(storage service.Storage, rates service.RateProvider) *Ranker {
	return &Ranker{
		storage: storage,
		rates:   rates,
		floor:   DefaultSuggestionFloor,
	}
}

// HintsFor resolves the partner hints used by the heuristic email signals.
// A transaction without an assigned partner gets empty hints.
func (r *Ranker) HintsFor(ctx context.Context, txn *model.Transaction) (Hints, error) {
	if txn.PartnerID == "" {
		return Hints{}, nil
	}

	domains, err := r.storage.GetPartnerDomains(ctx, txn.PartnerID)
	if err != nil {
		return Hints{}, fmt.Errorf("failed to load partner domains: %w", err)
	}
	senders, err := r.storage.GetLearnedSenders(ctx, txn.PartnerID)
	if err != nil {
		return Hints{}, fmt.Errorf("failed to load learned senders: %w", err)
	}

	return Hints{PartnerDomains: domains, LearnedSenders: senders}, nil
}

// Rank scores every candidate against the transaction and returns results at
// or above the suggestion floor, sorted by descending score and truncated to
// limit. Candidates whose id appears in excludeIDs or in the transaction's
// connected set are skipped. A non-empty query pre-filters candidates by
// case-insensitive substring before scoring; scoring itself ignores it.
func (r *Ranker) Rank(ctx context.Context, txn *model.Transaction, candidates []model.Document, excludeIDs []string, query string, limit int) ([]model.MatchResult, error) {
	if limit <= 0 {
		limit = DefaultRankLimit
	}

	excluded := make(map[string]bool, len(excludeIDs)+len(txn.DocumentIDs))
	for _, id := range excludeIDs {
		excluded[id] = true
	}
	for _, id := range txn.DocumentIDs {
		excluded[id] = true
	}

	hints, err := r.HintsFor(ctx, txn)
	if err != nil {
		return nil, err
	}

	results := make([]model.MatchResult, 0, len(candidates))
	for i := range candidates {
		doc := &candidates[i]
		if excluded[doc.SyntheticID()] || doc.IsDeleted() {
			continue
		}
		if query != "" && !matchesQuery(doc, query) {
			continue
		}

		result := Score(txn, doc, hints)
		if result.Score >= r.floor {
			results = append(results, result)
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Aggregate sums the amounts of the transaction's connected documents and
// reports the residual open amount. Document amounts in a foreign currency
// are converted using the transaction date as the FX lookup key.
func (r *Ranker) Aggregate(ctx context.Context, txn *model.Transaction) (*Aggregation, error) {
	docs, err := r.storage.ListDocuments(ctx, service.DocumentFilter{TransactionID: txn.ID})
	if err != nil {
		return nil, fmt.Errorf("failed to list connected documents: %w", err)
	}

	agg := &Aggregation{Currency: txn.Currency, DocumentCount: len(docs)}
	for i := range docs {
		doc := &docs[i]
		if doc.ExtractedAmount == nil {
			continue
		}

		amount := *doc.ExtractedAmount
		if amount < 0 {
			amount = -amount
		}
		if doc.ExtractedCurrency != "" && !strings.EqualFold(doc.ExtractedCurrency, txn.Currency) {
			rate, rateErr := r.rates.Rate(ctx, doc.ExtractedCurrency, txn.Currency, txn.Date)
			if rateErr != nil {
				return nil, fmt.Errorf("failed to convert %s to %s: %w", doc.ExtractedCurrency, txn.Currency, rateErr)
			}
			amount = int64(math.Round(float64(amount) * rate))
		}
		agg.ConnectedTotal += amount
	}

	txnAbs := txn.Amount
	if txnAbs < 0 {
		txnAbs = -txnAbs
	}
	agg.Residual = txnAbs - agg.ConnectedTotal
	if agg.Residual < 0 {
		agg.Settled = -agg.Residual <= residualToleranceMinor
	} else {
		agg.Settled = agg.Residual <= residualToleranceMinor
	}
	return agg, nil
}

// matchesQuery checks the candidate's descriptive fields for a
// case-insensitive substring of the query.
func matchesQuery(doc *model.Document, query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	for _, field := range []string{doc.Filename, doc.ExtractedPartner, doc.Email.Subject, doc.Email.Sender} {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}
