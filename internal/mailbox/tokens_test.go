package mailbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/docmatch/docmatch/internal/common"
)

func TestFileTokenStoreRoundTrip(t *testing.T) {
	store, err := NewFileTokenStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	token := &oauth2.Token{
		AccessToken:  "access-123",
		RefreshToken: "refresh-456",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Hour).UTC(),
	}
	require.NoError(t, store.Save(ctx, "ext-1", token))

	loaded, err := store.Token(ctx, "ext-1")
	require.NoError(t, err)
	assert.Equal(t, token.AccessToken, loaded.AccessToken)
	assert.Equal(t, token.RefreshToken, loaded.RefreshToken)
	assert.True(t, loaded.Valid())
}

func TestFileTokenStoreMissing(t *testing.T) {
	store, err := NewFileTokenStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Token(context.Background(), "ext-absent")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestFileTokenStoreDelete(t *testing.T) {
	store, err := NewFileTokenStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "ext-1", &oauth2.Token{AccessToken: "access-123"}))
	require.NoError(t, store.Delete(ctx, "ext-1"))

	_, err = store.Token(ctx, "ext-1")
	assert.ErrorIs(t, err, common.ErrNotFound)

	// Deleting an absent token is not an error.
	require.NoError(t, store.Delete(ctx, "ext-1"))
}
