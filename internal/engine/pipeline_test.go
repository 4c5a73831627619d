package engine_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docmatch/docmatch/internal/common"
	"github.com/docmatch/docmatch/internal/engine"
	"github.com/docmatch/docmatch/internal/fx"
	"github.com/docmatch/docmatch/internal/mailbox"
	"github.com/docmatch/docmatch/internal/match"
	"github.com/docmatch/docmatch/internal/model"
	"github.com/docmatch/docmatch/internal/testutil"
)

// strategyStub records how often its supply function was invoked.
type strategyStub struct {
	calls int
	docs  []model.Document
	err   error
}

func (s *strategyStub) strategy(name string) engine.Strategy {
	return engine.Strategy{
		Name: name,
		Cost: engine.CostLocal,
		Supply: func(_ context.Context, _ *model.Transaction) ([]model.Document, error) {
			s.calls++
			return s.docs, s.err
		},
	}
}

func newPipeline(t *testing.T, db *testutil.TestDB, mock *mailbox.MockClient, strategies []engine.Strategy) *engine.Pipeline {
	t.Helper()
	ranker := match.NewRanker(db.Storage, fx.NewStaticProvider(nil))
	return engine.NewPipeline(db.Storage, mock, ranker, strategies, engine.DefaultConfig())
}

// strongDoc builds a stored document that scores above the auto-connect
// threshold for the given transaction.
func strongDoc(id string, txn model.Transaction) model.Document {
	doc := testutil.Document(id, "src-1")
	amount := txn.Amount
	if amount < 0 {
		amount = -amount
	}
	doc.ExtractedAmount = &amount
	doc.ExtractedDate = &txn.Date
	doc.ExtractedPartner = txn.CounterpartyName
	return doc
}

func seedJob(t *testing.T, db *testutil.TestDB, txnID string, strategies []string) *model.SearchJob {
	t.Helper()
	job := &model.SearchJob{
		ID:            "job-" + txnID,
		Scope:         model.ScopeSingleTransaction,
		Status:        model.JobPending,
		TransactionID: txnID,
		Strategies:    strategies,
	}
	require.NoError(t, db.Storage.CreateSearchJob(context.Background(), job))
	return job
}

func TestPipelineConnectsStrongMatches(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	txn := db.SeedTransaction(testutil.Transaction("txn-1", -4523))
	db.SeedDocument(strongDoc("doc-1", txn))

	stub := &strategyStub{}
	stub.docs = []model.Document{strongDoc("doc-1", txn)}

	pipeline := newPipeline(t, db, mailbox.NewMockClient(), []engine.Strategy{stub.strategy("local_documents")})
	job := seedJob(t, db, txn.ID, pipeline.StrategyNames())

	require.NoError(t, pipeline.Run(ctx, job.ID))

	done, err := db.Storage.GetSearchJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, done.Status)
	assert.Equal(t, 100, done.Progress)
	assert.Equal(t, 1, done.FilesConnected)
	assert.NotNil(t, done.CompletedAt)

	got, err := db.Storage.GetTransaction(ctx, txn.ID)
	require.NoError(t, err)
	assert.Contains(t, got.DocumentIDs, "doc-1")
}

func TestPipelineGreatMatchEarlyExit(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	txn := db.SeedTransaction(testutil.Transaction("txn-1", -4523))
	db.SeedDocument(strongDoc("doc-1", txn))
	db.SeedDocument(strongDoc("doc-2", txn))

	first := &strategyStub{docs: []model.Document{strongDoc("doc-1", txn), strongDoc("doc-2", txn)}}
	second := &strategyStub{}

	pipeline := newPipeline(t, db, mailbox.NewMockClient(), []engine.Strategy{
		first.strategy("local_documents"),
		second.strategy("mailbox_attachments"),
	})
	job := seedJob(t, db, txn.ID, pipeline.StrategyNames())

	require.NoError(t, pipeline.Run(ctx, job.ID))

	// Two strong connections satisfy the target; the second strategy must
	// never run.
	assert.Equal(t, 1, first.calls)
	assert.Zero(t, second.calls)

	done, err := db.Storage.GetSearchJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, done.Status)
	assert.Equal(t, 2, done.FilesConnected)
}

func TestPipelineStrategyFailureContinues(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	txn := db.SeedTransaction(testutil.Transaction("txn-1", -4523))
	db.SeedDocument(strongDoc("doc-1", txn))

	failing := &strategyStub{err: errors.New("provider hiccup")}
	succeeding := &strategyStub{docs: []model.Document{strongDoc("doc-1", txn)}}

	pipeline := newPipeline(t, db, mailbox.NewMockClient(), []engine.Strategy{
		failing.strategy("local_amount"),
		succeeding.strategy("local_documents"),
	})
	job := seedJob(t, db, txn.ID, pipeline.StrategyNames())

	require.NoError(t, pipeline.Run(ctx, job.ID))

	done, err := db.Storage.GetSearchJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, done.Status)
	assert.Equal(t, 1, done.FilesConnected)
	require.Len(t, done.Errors, 1)
	assert.Contains(t, done.Errors[0], "provider hiccup")
}

func TestPipelineAllStrategiesFailed(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	txn := db.SeedTransaction(testutil.Transaction("txn-1", -4523))

	first := &strategyStub{err: errors.New("boom one")}
	second := &strategyStub{err: errors.New("boom two")}

	pipeline := newPipeline(t, db, mailbox.NewMockClient(), []engine.Strategy{
		first.strategy("local_documents"),
		second.strategy("local_amount"),
	})
	job := seedJob(t, db, txn.ID, pipeline.StrategyNames())

	err := pipeline.Run(ctx, job.ID)
	require.Error(t, err)

	done, getErr := db.Storage.GetSearchJob(ctx, job.ID)
	require.NoError(t, getErr)
	assert.Equal(t, model.JobFailed, done.Status)
	assert.Len(t, done.Errors, 2)
}

func TestPipelineDownloadsMailboxCandidates(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	txn := db.SeedTransaction(testutil.Transaction("txn-1", -4523))

	// Metadata-only candidate whose email signals clear the threshold.
	candidate := model.Document{
		MimeType: "application/pdf",
		Filename: "rechnung-acme.pdf",
		SourceID: "src-1",
		Email: model.EmailMeta{
			MessageID:    "msg-1",
			AttachmentID: "att-1",
			AccountID:    "ext-1",
			Subject:      "Ihre Rechnung von Acme",
			Snippet:      "Gesamtbetrag 45,23 EUR",
			Sender:       "billing@acme.example",
			MessageDate:  txn.Date.AddDate(0, 0, -1),
		},
	}

	stub := &strategyStub{docs: []model.Document{candidate}}
	mock := mailbox.NewMockClient()

	pipeline := newPipeline(t, db, mock, []engine.Strategy{stub.strategy("mailbox_attachments")})
	job := seedJob(t, db, txn.ID, pipeline.StrategyNames())

	require.NoError(t, pipeline.Run(ctx, job.ID))

	require.Len(t, mock.FetchAttachmentCalls, 1)
	assert.Equal(t, "msg-1", mock.FetchAttachmentCalls[0].MessageID)
	assert.Equal(t, "att-1", mock.FetchAttachmentCalls[0].AttachmentID)

	done, err := db.Storage.GetSearchJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, done.Status)
	assert.Equal(t, 1, done.FilesConnected)
	assert.Equal(t, 1, done.EmailsProcessed)

	got, err := db.Storage.GetTransaction(ctx, txn.ID)
	require.NoError(t, err)
	require.Len(t, got.DocumentIDs, 1)

	stored, err := db.Storage.GetDocument(ctx, got.DocumentIDs[0])
	require.NoError(t, err)
	assert.True(t, stored.IsDownloaded())
	assert.NotEmpty(t, stored.ContentHash)
	assert.Equal(t, int64(len("mock attachment")), stored.Size)
}

func TestPipelineSkipsWeakUndownloadedCandidates(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	txn := db.SeedTransaction(testutil.Transaction("txn-1", -4523))

	// Plausible-looking attachment without any amount or partner signal.
	weak := model.Document{
		MimeType: "application/pdf",
		Filename: "statement.pdf",
		SourceID: "src-1",
		Email: model.EmailMeta{
			MessageID:    "msg-weak",
			AttachmentID: "att-weak",
			AccountID:    "ext-1",
			Subject:      "Your receipt",
			Sender:       "noreply@somewhere.example",
			MessageDate:  txn.Date,
		},
	}

	stub := &strategyStub{docs: []model.Document{weak}}
	mock := mailbox.NewMockClient()

	pipeline := newPipeline(t, db, mock, []engine.Strategy{stub.strategy("mailbox_attachments")})
	job := seedJob(t, db, txn.ID, pipeline.StrategyNames())

	require.NoError(t, pipeline.Run(ctx, job.ID))

	assert.Empty(t, mock.FetchAttachmentCalls)

	done, err := db.Storage.GetSearchJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, done.Status)
	assert.Zero(t, done.FilesConnected)
	assert.Equal(t, 1, done.AttachmentsSkipped)
}

func TestPipelineLearnsSenderHints(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	fixture := testutil.Transaction("txn-1", -4523)
	fixture.PartnerID = "partner-1"
	txn := db.SeedTransaction(fixture)
	db.SeedDocument(strongDoc("doc-1", txn))

	stub := &strategyStub{docs: []model.Document{strongDoc("doc-1", txn)}}

	pipeline := newPipeline(t, db, mailbox.NewMockClient(), []engine.Strategy{stub.strategy("local_documents")})
	job := seedJob(t, db, txn.ID, pipeline.StrategyNames())

	require.NoError(t, pipeline.Run(ctx, job.ID))

	senders, err := db.Storage.GetLearnedSenders(ctx, "partner-1")
	require.NoError(t, err)
	assert.Contains(t, senders, "billing@acme.example")

	domains, err := db.Storage.GetPartnerDomains(ctx, "partner-1")
	require.NoError(t, err)
	assert.Contains(t, domains, "acme.example")
}

func TestPipelineHonorsRequestedStrategies(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	txn := db.SeedTransaction(testutil.Transaction("txn-1", -4523))
	db.SeedDocument(strongDoc("doc-1", txn))

	local := &strategyStub{docs: []model.Document{strongDoc("doc-1", txn)}}
	remote := &strategyStub{}

	pipeline := newPipeline(t, db, mailbox.NewMockClient(), []engine.Strategy{
		local.strategy("local_documents"),
		remote.strategy("mailbox_attachments"),
	})
	// The job asks for the local strategy only; the remote one must stay
	// untouched even though it is registered.
	job := seedJob(t, db, txn.ID, []string{"local_documents"})

	require.NoError(t, pipeline.Run(ctx, job.ID))

	assert.Equal(t, 1, local.calls)
	assert.Zero(t, remote.calls)

	done, err := db.Storage.GetSearchJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, done.Status)
	assert.Equal(t, 100, done.Progress)
	assert.Equal(t, 1, done.CurrentStrategyIndex)
	assert.Equal(t, 1, done.FilesConnected)
}

func TestPipelineReauthFailsJob(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	txn := db.SeedTransaction(testutil.Transaction("txn-1", -4523))

	stub := &strategyStub{err: fmt.Errorf("mailbox search: %w", common.ErrReauthRequired)}

	pipeline := newPipeline(t, db, mailbox.NewMockClient(), []engine.Strategy{stub.strategy("mailbox_attachments")})
	job := seedJob(t, db, txn.ID, pipeline.StrategyNames())

	err := pipeline.Run(ctx, job.ID)
	require.Error(t, err)

	done, getErr := db.Storage.GetSearchJob(ctx, job.ID)
	require.NoError(t, getErr)
	assert.Equal(t, model.JobFailed, done.Status)
}

func TestPipelineRejectsWrongState(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	txn := db.SeedTransaction(testutil.Transaction("txn-1", -4523))

	pipeline := newPipeline(t, db, mailbox.NewMockClient(), nil)

	job := &model.SearchJob{
		ID:            "job-done",
		Scope:         model.ScopeSingleTransaction,
		Status:        model.JobCompleted,
		TransactionID: txn.ID,
	}
	require.NoError(t, db.Storage.CreateSearchJob(ctx, job))

	err := pipeline.Run(ctx, job.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected pending")
}
