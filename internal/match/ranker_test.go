package match_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docmatch/docmatch/internal/fx"
	"github.com/docmatch/docmatch/internal/match"
	"github.com/docmatch/docmatch/internal/model"
	"github.com/docmatch/docmatch/internal/testutil"
)

func ptrInt64(v int64) *int64 { return &v }

func ptrTime(t time.Time) *time.Time { return &t }

func newTestRanker(t *testing.T) (*match.Ranker, *testutil.TestDB) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	return match.NewRanker(db.Storage, fx.NewStaticProvider(nil)), db
}

func TestRankOrdersByScore(t *testing.T) {
	ranker, db := newTestRanker(t)
	ctx := context.Background()

	txn := db.SeedTransaction(testutil.Transaction("txn-1", -4523))

	strong := testutil.Document("doc-strong", "src-1")
	strong.ExtractedAmount = ptrInt64(4523)
	strong.ExtractedDate = ptrTime(txn.Date)

	weak := testutil.Document("doc-weak", "src-1")
	weak.ExtractedDate = ptrTime(txn.Date)

	noise := testutil.Document("doc-noise", "src-1")
	noise.Filename = "newsletter.html"
	noise.Email.Subject = "March deals"
	noise.Email.Sender = "news@shop.example"

	results, err := ranker.Rank(ctx, &txn, []model.Document{weak, noise, strong}, nil, "", 10)
	require.NoError(t, err)

	require.NotEmpty(t, results)
	assert.Equal(t, "doc-strong", results[0].DocumentID)
	for i := 1; i < len(results); i++ {
		assert.LessOrEqual(t, results[i].Score, results[i-1].Score)
	}
	for _, res := range results {
		assert.GreaterOrEqual(t, res.Score, match.DefaultSuggestionFloor)
		assert.NotEqual(t, "doc-noise", res.DocumentID)
	}
}

func TestRankExcludesConnectedAndDeleted(t *testing.T) {
	ranker, db := newTestRanker(t)
	ctx := context.Background()

	txn := db.SeedTransaction(testutil.Transaction("txn-1", -4523))

	connected := testutil.Document("doc-connected", "src-1")
	connected.ExtractedAmount = ptrInt64(4523)
	connected.ExtractedDate = ptrTime(txn.Date)
	txn.DocumentIDs = []string{"doc-connected"}

	deleted := testutil.Document("doc-deleted", "src-1")
	deleted.ExtractedAmount = ptrInt64(4523)
	deleted.ExtractedDate = ptrTime(txn.Date)
	now := time.Now()
	deleted.DeletedAt = &now

	excluded := testutil.Document("doc-excluded", "src-1")
	excluded.ExtractedAmount = ptrInt64(4523)
	excluded.ExtractedDate = ptrTime(txn.Date)

	results, err := ranker.Rank(ctx, &txn,
		[]model.Document{connected, deleted, excluded},
		[]string{"doc-excluded"}, "", 10)
	require.NoError(t, err)

	assert.Empty(t, results)
}

func TestRankQueryPreFilter(t *testing.T) {
	ranker, db := newTestRanker(t)
	ctx := context.Background()

	txn := db.SeedTransaction(testutil.Transaction("txn-1", -4523))

	matching := testutil.Document("doc-match", "src-1")
	matching.Filename = "acme-invoice.pdf"
	matching.ExtractedAmount = ptrInt64(4523)

	other := testutil.Document("doc-other", "src-1")
	other.Filename = "globex-invoice.pdf"
	other.ExtractedAmount = ptrInt64(4523)

	results, err := ranker.Rank(ctx, &txn, []model.Document{matching, other}, nil, "acme", 10)
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, "doc-match", results[0].DocumentID)
}

func TestRankLimit(t *testing.T) {
	ranker, db := newTestRanker(t)
	ctx := context.Background()

	txn := db.SeedTransaction(testutil.Transaction("txn-1", -4523))

	candidates := make([]model.Document, 5)
	for i := range candidates {
		doc := testutil.Document(string(rune('a'+i))+"-doc", "src-1")
		doc.ExtractedAmount = ptrInt64(4523)
		doc.ExtractedDate = ptrTime(txn.Date)
		candidates[i] = doc
	}

	results, err := ranker.Rank(ctx, &txn, candidates, nil, "", 2)
	require.NoError(t, err)

	assert.Len(t, results, 2)
}

func TestHintsForWithoutPartner(t *testing.T) {
	ranker, db := newTestRanker(t)
	ctx := context.Background()

	txn := db.SeedTransaction(testutil.Transaction("txn-1", -4523))

	hints, err := ranker.HintsFor(ctx, &txn)
	require.NoError(t, err)
	assert.Empty(t, hints.PartnerDomains)
	assert.Empty(t, hints.LearnedSenders)
}

func TestAggregate(t *testing.T) {
	db := testutil.SetupTestDB(t)
	rates := fx.NewStaticProvider(map[string]float64{"USD/EUR": 0.5})
	ranker := match.NewRanker(db.Storage, rates)
	ctx := context.Background()

	txn := db.SeedTransaction(testutil.Transaction("txn-1", -10000))

	local := testutil.Document("doc-eur", "src-1")
	local.ExtractedAmount = ptrInt64(6000)
	local.ExtractedCurrency = "EUR"
	db.SeedDocument(local)

	foreign := testutil.Document("doc-usd", "src-1")
	foreign.ExtractedAmount = ptrInt64(8000) // 40.00 EUR at 0.5
	foreign.ExtractedCurrency = "USD"
	db.SeedDocument(foreign)

	require.NoError(t, db.Storage.ConnectDocument(ctx, "doc-eur", "txn-1"))
	require.NoError(t, db.Storage.ConnectDocument(ctx, "doc-usd", "txn-1"))

	agg, err := ranker.Aggregate(ctx, &txn)
	require.NoError(t, err)

	assert.Equal(t, 2, agg.DocumentCount)
	assert.Equal(t, int64(10000), agg.ConnectedTotal)
	assert.Equal(t, int64(0), agg.Residual)
	assert.True(t, agg.Settled)
	assert.Equal(t, "EUR", agg.Currency)
}

func TestAggregatePartialCoverage(t *testing.T) {
	ranker, db := newTestRanker(t)
	ctx := context.Background()

	txn := db.SeedTransaction(testutil.Transaction("txn-1", -10000))

	doc := testutil.Document("doc-1", "src-1")
	doc.ExtractedAmount = ptrInt64(2500)
	db.SeedDocument(doc)
	require.NoError(t, db.Storage.ConnectDocument(ctx, "doc-1", "txn-1"))

	agg, err := ranker.Aggregate(ctx, &txn)
	require.NoError(t, err)

	assert.Equal(t, int64(2500), agg.ConnectedTotal)
	assert.Equal(t, int64(7500), agg.Residual)
	assert.False(t, agg.Settled)
}
