package credentials_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notiva/notiva-sync/credentials"
	"github.com/notiva/notiva-sync/metrics"
)

func seedCredential(t *testing.T, store *credentials.MemoryStore, expiresIn time.Duration) {
	t.Helper()

	expiresAt := time.Now().Add(expiresIn)

	err := store.Save(context.Background(), &credentials.Credential{
		IntegrationID: "gmail:work",
		AccessToken:   "old-access",
		RefreshToken:  "refresh-1",
		ExpiresAt:     &expiresAt,
	})
	require.NoError(t, err)
}

func tokenEndpoint(t *testing.T, hits *atomic.Int64, status int, body any) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}

		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "refresh-1", r.Form.Get("refresh_token"))
		assert.Equal(t, "client-id", r.Form.Get("client_id"))

		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
}

func newManager(store credentials.Store, tokenURL string, opts ...credentials.ManagerOption) *credentials.Manager {
	provider := credentials.ProviderConfig{
		TokenURL:     tokenURL,
		ClientID:     "client-id",
		ClientSecret: "client-secret",
	}

	return credentials.NewManager(store, provider, opts...)
}

func TestGetValidTokenNoRefreshInsideMargin(t *testing.T) {
	store := credentials.NewMemoryStore()
	seedCredential(t, store, 10*time.Minute)

	var hits atomic.Int64

	srv := tokenEndpoint(t, &hits, http.StatusOK, map[string]any{"access_token": "new", "expires_in": 3600})
	defer srv.Close()

	mgr := newManager(store, srv.URL)

	token, err := mgr.GetValidToken(context.Background(), "gmail:work")
	require.NoError(t, err)
	assert.Equal(t, "old-access", token)
	assert.Equal(t, int64(0), hits.Load(), "a token valid for 10 minutes must not be refreshed")
}

func TestGetValidTokenRefreshesNearExpiry(t *testing.T) {
	store := credentials.NewMemoryStore()
	seedCredential(t, store, 4*time.Minute)

	var hits atomic.Int64

	srv := tokenEndpoint(t, &hits, http.StatusOK, map[string]any{
		"access_token":  "new-access",
		"expires_in":    3600,
		"refresh_token": "refresh-2",
	})
	defer srv.Close()

	counters := metrics.NewCounters()
	mgr := newManager(store, srv.URL, credentials.WithCounters(counters))

	token, err := mgr.GetValidToken(context.Background(), "gmail:work")
	require.NoError(t, err)
	assert.Equal(t, "new-access", token)
	assert.Equal(t, int64(1), hits.Load())
	assert.Equal(t, int64(1), counters.Snapshot().RefreshCalls)

	// The rotated refresh token and new expiry must be persisted.
	cred, err := store.Get(context.Background(), "gmail:work")
	require.NoError(t, err)
	assert.Equal(t, "new-access", cred.AccessToken)
	assert.Equal(t, "refresh-2", cred.RefreshToken)
	require.NotNil(t, cred.ExpiresAt)
	assert.True(t, cred.ExpiresAt.After(time.Now().Add(50*time.Minute)))
}

func TestGetValidTokenNilExpiryForcesRefresh(t *testing.T) {
	store := credentials.NewMemoryStore()

	err := store.Save(context.Background(), &credentials.Credential{
		IntegrationID: "gmail:work",
		AccessToken:   "old-access",
		RefreshToken:  "refresh-1",
	})
	require.NoError(t, err)

	var hits atomic.Int64

	srv := tokenEndpoint(t, &hits, http.StatusOK, map[string]any{"access_token": "new-access", "expires_in": 3600})
	defer srv.Close()

	mgr := newManager(store, srv.URL)

	token, err := mgr.GetValidToken(context.Background(), "gmail:work")
	require.NoError(t, err)
	assert.Equal(t, "new-access", token)
	assert.Equal(t, int64(1), hits.Load())
}

func TestRefreshRejectedDeletesCredential(t *testing.T) {
	store := credentials.NewMemoryStore()
	seedCredential(t, store, time.Minute)

	srv := tokenEndpoint(t, nil, http.StatusBadRequest, map[string]any{"error": "invalid_grant"})
	defer srv.Close()

	mgr := newManager(store, srv.URL)

	_, err := mgr.GetValidToken(context.Background(), "gmail:work")
	assert.ErrorIs(t, err, credentials.ErrAuthExpired)

	_, err = store.Get(context.Background(), "gmail:work")
	assert.ErrorIs(t, err, credentials.ErrNotFound)
}

func TestRefreshNetworkErrorKeepsCredential(t *testing.T) {
	store := credentials.NewMemoryStore()
	seedCredential(t, store, time.Minute)

	// Closed server: connection refused.
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	mgr := newManager(store, srv.URL)

	_, err := mgr.GetValidToken(context.Background(), "gmail:work")
	assert.ErrorIs(t, err, credentials.ErrNetwork)

	cred, err := store.Get(context.Background(), "gmail:work")
	require.NoError(t, err)
	assert.Equal(t, "refresh-1", cred.RefreshToken)
}

func TestRefreshServerErrorKeepsCredential(t *testing.T) {
	store := credentials.NewMemoryStore()
	seedCredential(t, store, time.Minute)

	srv := tokenEndpoint(t, nil, http.StatusBadGateway, map[string]any{})
	defer srv.Close()

	mgr := newManager(store, srv.URL)

	_, err := mgr.GetValidToken(context.Background(), "gmail:work")
	assert.ErrorIs(t, err, credentials.ErrNetwork)

	_, err = store.Get(context.Background(), "gmail:work")
	assert.NoError(t, err)
}

func TestMissingCredentialIsAuthExpired(t *testing.T) {
	mgr := newManager(credentials.NewMemoryStore(), "http://localhost:0")

	_, err := mgr.GetValidToken(context.Background(), "gmail:missing")
	assert.ErrorIs(t, err, credentials.ErrAuthExpired)
}

func TestConcurrentCallersShareOneRefresh(t *testing.T) {
	store := credentials.NewMemoryStore()
	seedCredential(t, store, time.Minute)

	var hits atomic.Int64

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		time.Sleep(50 * time.Millisecond) // widen the race window

		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "new-access", "expires_in": 3600})
	}))
	defer srv.Close()

	mgr := newManager(store, srv.URL)

	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			token, err := mgr.GetValidToken(context.Background(), "gmail:work")
			assert.NoError(t, err)
			assert.Equal(t, "new-access", token)
		}()
	}

	wg.Wait()

	assert.Equal(t, int64(1), hits.Load(), "concurrent refreshes must converge on one flight")
}
