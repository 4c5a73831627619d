package source

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docmatch/docmatch/internal/common"
	"github.com/docmatch/docmatch/internal/mailbox"
	"github.com/docmatch/docmatch/internal/model"
	"github.com/docmatch/docmatch/internal/service"
	"github.com/docmatch/docmatch/internal/testutil"
)

func TestPauseResume(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	mgr := NewManager(db.Storage, mailbox.NewMockClient())

	src := db.SeedSource(testutil.Source("src-1"))

	require.NoError(t, mgr.Pause(ctx, src.ID))
	paused, err := db.Storage.GetSource(ctx, src.ID)
	require.NoError(t, err)
	assert.True(t, paused.Paused)
	assert.False(t, paused.CanSync())

	require.NoError(t, mgr.Resume(ctx, src.ID))
	resumed, err := db.Storage.GetSource(ctx, src.ID)
	require.NoError(t, err)
	assert.False(t, resumed.Paused)
	assert.True(t, resumed.CanSync())
}

func TestDisconnect(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	mock := mailbox.NewMockClient()
	mgr := NewManager(db.Storage, mock)

	src := db.SeedSource(testutil.Source("src-1"))
	txn := db.SeedTransaction(testutil.Transaction("txn-1", -4523))

	connected := db.SeedDocument(testutil.Document("doc-connected", src.ID))
	db.SeedDocument(testutil.Document("doc-loose", src.ID))
	require.NoError(t, db.Storage.ConnectDocument(ctx, connected.ID, txn.ID))

	// An in-flight sync job carries dedup state worth salvaging.
	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)
	inflight := &model.SearchJob{
		ID:                  "job-inflight",
		Scope:               model.ScopeSyncRange,
		Status:              model.JobProcessing,
		SourceID:            src.ID,
		DateFrom:            &from,
		DateTo:              &to,
		ProcessedMessageIDs: []string{"msg-1", "msg-2"},
	}
	require.NoError(t, db.Storage.CreateSearchJob(ctx, inflight))

	require.NoError(t, db.Storage.SaveLearnedSender(ctx, "partner-1", "billing@acme.example", src.ID))

	require.NoError(t, mgr.Disconnect(ctx, src.ID))

	// Credential revoked at the provider.
	require.Len(t, mock.RevokeCredentialCalls, 1)
	assert.Equal(t, src.ExternalAccountID, mock.RevokeCredentialCalls[0])

	after, err := db.Storage.GetSource(ctx, src.ID)
	require.NoError(t, err)
	assert.False(t, after.Active)
	assert.NotNil(t, after.DisconnectedAt)
	assert.False(t, after.CanSync())
	assert.ElementsMatch(t, []string{"msg-1", "msg-2"}, after.ProcessedMessageIDs)
	require.NotNil(t, after.SyncedDateFrom)
	assert.True(t, after.SyncedDateFrom.Equal(from))
	require.NotNil(t, after.SyncedDateTo)
	assert.True(t, after.SyncedDateTo.Equal(to))

	// The salvaged job is gone.
	_, err = db.Storage.GetSearchJob(ctx, inflight.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)

	// Unconnected documents are tombstoned, connected ones survive.
	visible, err := db.Storage.ListDocuments(ctx, service.DocumentFilter{SourceID: src.ID})
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, connected.ID, visible[0].ID)

	all, err := db.Storage.ListDocuments(ctx, service.DocumentFilter{SourceID: src.ID, IncludeDeleted: true})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	// Partner hints learned from this source are scrubbed.
	senders, err := db.Storage.GetLearnedSenders(ctx, "partner-1")
	require.NoError(t, err)
	assert.Empty(t, senders)
}

func TestReconnectRestoresExistingSource(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	mgr := NewManager(db.Storage, mailbox.NewMockClient())

	src := db.SeedSource(testutil.Source("src-1"))
	db.SeedDocument(testutil.Document("doc-loose", src.ID))

	require.NoError(t, mgr.Disconnect(ctx, src.ID))

	restored, err := mgr.Reconnect(ctx, src.ExternalAccountID, src.Email)
	require.NoError(t, err)
	assert.Equal(t, src.ID, restored.ID)
	assert.True(t, restored.Active)
	assert.False(t, restored.NeedsReauth)
	assert.Nil(t, restored.DisconnectedAt)
	assert.Empty(t, restored.LastError)
	assert.True(t, restored.CanSync())

	// Tombstoned documents come back.
	visible, err := db.Storage.ListDocuments(ctx, service.DocumentFilter{SourceID: src.ID})
	require.NoError(t, err)
	assert.Len(t, visible, 1)
}

func TestReconnectCreatesFreshSource(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	mgr := NewManager(db.Storage, mailbox.NewMockClient())

	src, err := mgr.Reconnect(ctx, "ext-new", "new@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, src.ID)
	assert.Equal(t, "ext-new", src.ExternalAccountID)
	assert.Equal(t, "new@example.com", src.Email)
	assert.True(t, src.Active)

	stored, err := db.Storage.GetSource(ctx, src.ID)
	require.NoError(t, err)
	assert.True(t, stored.CanSync())
}

func TestReauthFlag(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	mgr := NewManager(db.Storage, mailbox.NewMockClient())

	src := db.SeedSource(testutil.Source("src-1"))

	require.NoError(t, mgr.MarkReauthRequired(ctx, src.ID, common.ErrReauthRequired))
	flagged, err := db.Storage.GetSource(ctx, src.ID)
	require.NoError(t, err)
	assert.True(t, flagged.NeedsReauth)
	assert.NotEmpty(t, flagged.LastError)
	assert.False(t, flagged.CanSync())

	require.NoError(t, mgr.ClearReauth(ctx, src.ID))
	cleared, err := db.Storage.GetSource(ctx, src.ID)
	require.NoError(t, err)
	assert.False(t, cleared.NeedsReauth)
	assert.Empty(t, cleared.LastError)
	assert.True(t, cleared.CanSync())
}
