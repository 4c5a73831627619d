package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docmatch/docmatch/internal/common"
	"github.com/docmatch/docmatch/internal/model"
	"github.com/docmatch/docmatch/internal/service"
)

func testSearchJob(id, txnID string) *model.SearchJob {
	return &model.SearchJob{
		ID:            id,
		Scope:         model.ScopeSingleTransaction,
		Status:        model.JobPending,
		TransactionID: txnID,
		Strategies:    []string{"local_documents", "mailbox_attachments"},
	}
}

func TestCreateSearchJobDefaults(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	job := testSearchJob("job-1", "txn-1")
	require.NoError(t, store.CreateSearchJob(ctx, job))

	got, err := store.GetSearchJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobPending, got.Status)
	assert.Equal(t, model.ScopeSingleTransaction, got.Scope)
	assert.Equal(t, "txn-1", got.TransactionID)
	assert.Equal(t, []string{"local_documents", "mailbox_attachments"}, got.Strategies)
	assert.Equal(t, model.DefaultMaxRetries, got.MaxRetries)
	assert.False(t, got.CreatedAt.IsZero())
	assert.False(t, got.UpdatedAt.IsZero())
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.CompletedAt)
	assert.Empty(t, got.Errors)
}

func TestCreateSearchJobValidation(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	err := store.CreateSearchJob(ctx, &model.SearchJob{
		ID:    "job-bad",
		Scope: model.ScopeSingleTransaction,
	})
	assert.ErrorIs(t, err, ErrInvalidJob)

	err = store.CreateSearchJob(ctx, &model.SearchJob{
		ID:       "job-bad",
		Scope:    model.ScopeSyncRange,
		SourceID: "src-1",
	})
	assert.ErrorIs(t, err, ErrInvalidJob)

	err = store.CreateSearchJob(ctx, &model.SearchJob{
		ID:            "job-bad",
		Scope:         "bulk",
		TransactionID: "txn-1",
	})
	assert.ErrorIs(t, err, ErrInvalidJob)
}

func TestUpdateSearchJobPatch(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	job := testSearchJob("job-1", "txn-1")
	require.NoError(t, store.CreateSearchJob(ctx, job))

	processing := model.JobProcessing
	progress := 50
	files := 2
	started := time.Now()
	require.NoError(t, store.UpdateSearchJob(ctx, "job-1", service.JobPatch{
		Status:              &processing,
		Progress:            &progress,
		FilesConnected:      &files,
		StartedAt:           &started,
		Errors:              []string{"mailbox_attachments: transient"},
		ProcessedMessageIDs: []string{"msg-1", "msg-2"},
	}))

	got, err := store.GetSearchJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobProcessing, got.Status)
	assert.Equal(t, 50, got.Progress)
	assert.Equal(t, 2, got.FilesConnected)
	require.NotNil(t, got.StartedAt)
	assert.Equal(t, []string{"mailbox_attachments: transient"}, got.Errors)
	assert.Equal(t, []string{"msg-1", "msg-2"}, got.ProcessedMessageIDs)

	// Untouched fields survive a later partial patch.
	completed := model.JobCompleted
	require.NoError(t, store.UpdateSearchJob(ctx, "job-1", service.JobPatch{Status: &completed}))

	got, err = store.GetSearchJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, got.Status)
	assert.Equal(t, 50, got.Progress)
	assert.Equal(t, []string{"msg-1", "msg-2"}, got.ProcessedMessageIDs)
}

func TestUpdateSearchJobNotFound(t *testing.T) {
	store := newTestStorage(t)

	progress := 10
	err := store.UpdateSearchJob(context.Background(), "nope", service.JobPatch{Progress: &progress})
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestListSearchJobsFilters(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	older := testSearchJob("job-older", "txn-1")
	older.Status = model.JobFailed
	older.CreatedAt = time.Now().Add(-time.Hour)
	older.UpdatedAt = older.CreatedAt
	require.NoError(t, store.CreateSearchJob(ctx, older))

	require.NoError(t, store.CreateSearchJob(ctx, testSearchJob("job-open", "txn-1")))

	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)
	sync := &model.SearchJob{
		ID:       "job-sync",
		Scope:    model.ScopeSyncRange,
		Status:   model.JobProcessing,
		SourceID: "src-1",
		DateFrom: &from,
		DateTo:   &to,
	}
	require.NoError(t, store.CreateSearchJob(ctx, sync))

	byTxn, err := store.ListSearchJobs(ctx, service.JobFilter{TransactionID: "txn-1"})
	require.NoError(t, err)
	assert.Len(t, byTxn, 2)
	assert.Equal(t, "job-open", byTxn[0].ID) // newest first

	bySource, err := store.ListSearchJobs(ctx, service.JobFilter{SourceID: "src-1"})
	require.NoError(t, err)
	require.Len(t, bySource, 1)
	assert.Equal(t, "job-sync", bySource[0].ID)

	byScope, err := store.ListSearchJobs(ctx, service.JobFilter{Scope: model.ScopeSyncRange})
	require.NoError(t, err)
	require.Len(t, byScope, 1)
	require.NotNil(t, byScope[0].DateFrom)
	assert.True(t, byScope[0].DateFrom.Equal(from))

	open, err := store.ListSearchJobs(ctx, service.JobFilter{
		Statuses: []model.JobStatus{model.JobPending, model.JobProcessing},
	})
	require.NoError(t, err)
	assert.Len(t, open, 2)

	limited, err := store.ListSearchJobs(ctx, service.JobFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestDeleteSearchJob(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, store.CreateSearchJob(ctx, testSearchJob("job-1", "txn-1")))
	require.NoError(t, store.DeleteSearchJob(ctx, "job-1"))

	_, err := store.GetSearchJob(ctx, "job-1")
	assert.ErrorIs(t, err, common.ErrNotFound)
}
