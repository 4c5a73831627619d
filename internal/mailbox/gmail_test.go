package mailbox

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/docmatch/docmatch/internal/common"
)

func revokeTestStore(t *testing.T) *FileTokenStore {
	t.Helper()
	store, err := NewFileTokenStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), "acct-1", &oauth2.Token{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		Expiry:       time.Now().Add(time.Hour),
	}))
	return store
}

func TestRevokeCredentialRevokesWithProvider(t *testing.T) {
	var revoked string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		revoked = r.PostFormValue("token")
	}))
	defer server.Close()

	orig := revokeEndpoint
	revokeEndpoint = server.URL
	defer func() { revokeEndpoint = orig }()

	store := revokeTestStore(t)
	client := NewGmailClient(store)

	require.NoError(t, client.RevokeCredential(context.Background(), "acct-1"))

	// The refresh token goes to the provider and the local copy is gone.
	assert.Equal(t, "refresh-1", revoked)
	_, err := store.Token(context.Background(), "acct-1")
	assert.True(t, errors.Is(err, common.ErrNotFound))
}

func TestRevokeCredentialDeletesDespiteProviderFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	orig := revokeEndpoint
	revokeEndpoint = server.URL
	defer func() { revokeEndpoint = orig }()

	store := revokeTestStore(t)
	client := NewGmailClient(store)

	require.NoError(t, client.RevokeCredential(context.Background(), "acct-1"))

	_, err := store.Token(context.Background(), "acct-1")
	assert.True(t, errors.Is(err, common.ErrNotFound))
}

func TestRevokeCredentialWithoutStoredToken(t *testing.T) {
	store, err := NewFileTokenStore(t.TempDir())
	require.NoError(t, err)
	client := NewGmailClient(store)

	// Nothing stored means nothing to revoke; deletion tolerates absence.
	require.NoError(t, client.RevokeCredential(context.Background(), "acct-missing"))
}
