package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docmatch/docmatch/internal/engine"
	"github.com/docmatch/docmatch/internal/fx"
	"github.com/docmatch/docmatch/internal/mailbox"
	"github.com/docmatch/docmatch/internal/match"
	"github.com/docmatch/docmatch/internal/model"
	"github.com/docmatch/docmatch/internal/testutil"
)

type sweeperStub struct {
	calls int
}

func (s *sweeperStub) SweepStale(context.Context) (int, error) {
	s.calls++
	return 0, nil
}

func TestWorkerRunOnceDispatchesByScope(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	txn := db.SeedTransaction(testutil.Transaction("txn-1", -4523))
	db.SeedDocument(strongDoc("doc-1", txn))
	src := db.SeedSource(testutil.Source("src-1"))

	stub := &strategyStub{docs: []model.Document{strongDoc("doc-1", txn)}}
	mock := mailbox.NewMockClient()
	ranker := match.NewRanker(db.Storage, fx.NewStaticProvider(nil))

	pipeline := engine.NewPipeline(db.Storage, mock, ranker,
		[]engine.Strategy{stub.strategy("local_documents")}, engine.DefaultConfig())
	syncRunner := engine.NewSyncRunner(db.Storage, mock, ranker, engine.DefaultConfig())
	sweeper := &sweeperStub{}
	worker := engine.NewWorker(db.Storage, pipeline, syncRunner, sweeper, time.Second)

	searchJob := seedJob(t, db, txn.ID, pipeline.StrategyNames())

	from := txn.Date.AddDate(0, 0, -30)
	to := txn.Date.AddDate(0, 0, 1)
	syncJob := &model.SearchJob{
		ID:       "job-sync",
		Scope:    model.ScopeSyncRange,
		Status:   model.JobPending,
		SourceID: src.ID,
		DateFrom: &from,
		DateTo:   &to,
	}
	require.NoError(t, db.Storage.CreateSearchJob(ctx, syncJob))

	require.NoError(t, worker.RunOnce(ctx))

	assert.Equal(t, 1, sweeper.calls)

	doneSearch, err := db.Storage.GetSearchJob(ctx, searchJob.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, doneSearch.Status)

	doneSync, err := db.Storage.GetSearchJob(ctx, syncJob.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, doneSync.Status)

	// A second pass finds no pending work and changes nothing.
	require.NoError(t, worker.RunOnce(ctx))
	assert.Equal(t, 2, sweeper.calls)
}
