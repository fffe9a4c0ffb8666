package sqlite_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notiva/notiva-sync/cache"
	"github.com/notiva/notiva-sync/credentials"
	"github.com/notiva/notiva-sync/sqlite"
	"github.com/notiva/notiva-sync/syncer"
	"github.com/notiva/notiva-sync/toolserver"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "notiva.db"))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}

func TestCredentialStoreRoundTrip(t *testing.T) {
	store := sqlite.NewCredentialStore(openTestDB(t))
	ctx := context.Background()

	_, err := store.Get(ctx, "gmail:work")
	assert.ErrorIs(t, err, credentials.ErrNotFound)

	expiresAt := time.Now().Add(time.Hour).Truncate(time.Second).UTC()
	cred := credentials.Credential{
		IntegrationID: "gmail:work",
		AccessToken:   "ya29.a0",
		RefreshToken:  "1//refresh",
		ExpiresAt:     &expiresAt,
		Scopes:        []string{"https://www.googleapis.com/auth/gmail.readonly"},
	}
	require.NoError(t, store.Save(ctx, &cred))

	got, err := store.Get(ctx, "gmail:work")
	require.NoError(t, err)
	assert.Equal(t, "ya29.a0", got.AccessToken)
	assert.Equal(t, "1//refresh", got.RefreshToken)
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, got.ExpiresAt.Equal(expiresAt))
	assert.Equal(t, cred.Scopes, got.Scopes)

	cred.AccessToken = "ya29.b1"
	require.NoError(t, store.Save(ctx, &cred))

	got, err = store.Get(ctx, "gmail:work")
	require.NoError(t, err)
	assert.Equal(t, "ya29.b1", got.AccessToken)

	require.NoError(t, store.Delete(ctx, "gmail:work"))

	_, err = store.Get(ctx, "gmail:work")
	assert.ErrorIs(t, err, credentials.ErrNotFound)
}

func TestCredentialStoreNilExpiry(t *testing.T) {
	store := sqlite.NewCredentialStore(openTestDB(t))
	ctx := context.Background()

	cred := credentials.Credential{
		IntegrationID: "notion:tickets",
		AccessToken:   "secret",
		RefreshToken:  "refresh",
	}
	require.NoError(t, store.Save(ctx, &cred))

	got, err := store.Get(ctx, "notion:tickets")
	require.NoError(t, err)
	assert.Nil(t, got.ExpiresAt)
}

func newJob(integrationID, jobID string) *syncer.SyncJob {
	return &syncer.SyncJob{
		JobID:         jobID,
		IntegrationID: integrationID,
		State:         syncer.StateRunning,
		StartedAt:     time.Now().Truncate(time.Second).UTC(),
	}
}

func TestJobRepositoryClaimIsExclusive(t *testing.T) {
	repo := sqlite.NewJobRepository(openTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Claim(ctx, newJob("gmail:work", "job-1")))

	err := repo.Claim(ctx, newJob("gmail:work", "job-2"))
	assert.ErrorIs(t, err, syncer.ErrAlreadyRunning)

	// a different integration is unaffected
	require.NoError(t, repo.Claim(ctx, newJob("notion:tickets", "job-3")))
}

func TestJobRepositoryClaimReplacesTerminalJob(t *testing.T) {
	repo := sqlite.NewJobRepository(openTestDB(t))
	ctx := context.Background()

	first := newJob("gmail:work", "job-1")
	require.NoError(t, repo.Claim(ctx, first))

	first.State = syncer.StateDone
	first.PageCount = 4
	now := time.Now().Truncate(time.Second).UTC()
	first.FinishedAt = &now
	require.NoError(t, repo.Finish(ctx, first))

	require.NoError(t, repo.Claim(ctx, newJob("gmail:work", "job-2")))

	got, err := repo.Get(ctx, "gmail:work")
	require.NoError(t, err)
	assert.Equal(t, "job-2", got.JobID)
	assert.Equal(t, syncer.StateRunning, got.State)
	assert.Zero(t, got.PageCount)
	assert.Empty(t, got.Cursor)
	assert.Nil(t, got.FinishedAt)
}

func TestJobRepositoryProgressAndCancel(t *testing.T) {
	repo := sqlite.NewJobRepository(openTestDB(t))
	ctx := context.Background()

	job := newJob("gmail:work", "job-1")
	require.NoError(t, repo.Claim(ctx, job))

	job.Cursor = "cursor-3"
	job.PageCount = 3
	job.ItemsProcessed = 280
	job.ItemsFailed = 2
	require.NoError(t, repo.UpdateProgress(ctx, job))

	accepted, err := repo.RequestCancel(ctx, "gmail:work")
	require.NoError(t, err)
	assert.True(t, accepted)

	got, err := repo.Get(ctx, "gmail:work")
	require.NoError(t, err)
	assert.Equal(t, syncer.StateCancelling, got.State)
	assert.True(t, got.CancelRequested)
	assert.Equal(t, "cursor-3", got.Cursor)
	assert.Equal(t, 280, got.ItemsProcessed)

	// progress writes must not clear the cancel flag
	job.PageCount = 4
	require.NoError(t, repo.UpdateProgress(ctx, job))

	got, err = repo.Get(ctx, "gmail:work")
	require.NoError(t, err)
	assert.True(t, got.CancelRequested)
	assert.Equal(t, syncer.StateCancelling, got.State)
}

func TestJobRepositoryCancelNothingRunning(t *testing.T) {
	repo := sqlite.NewJobRepository(openTestDB(t))
	ctx := context.Background()

	accepted, err := repo.RequestCancel(ctx, "gmail:work")
	require.NoError(t, err)
	assert.False(t, accepted)
}

func TestJobRepositoryResetOrphans(t *testing.T) {
	repo := sqlite.NewJobRepository(openTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Claim(ctx, newJob("gmail:work", "job-1")))
	require.NoError(t, repo.ResetOrphans(ctx))

	got, err := repo.Get(ctx, "gmail:work")
	require.NoError(t, err)
	assert.Equal(t, syncer.StateError, got.State)
	assert.Equal(t, "interrupted by shutdown", got.LastError)
	require.NotNil(t, got.FinishedAt)

	// the slot is claimable again
	require.NoError(t, repo.Claim(ctx, newJob("gmail:work", "job-2")))
}

func TestCacheRepositoryUpsert(t *testing.T) {
	repo := sqlite.NewCacheRepository(openTestDB(t))
	ctx := context.Background()

	first := time.Now().Add(-time.Hour).Truncate(time.Second).UTC()
	rec := cache.Record{
		IntegrationID: "gmail:work",
		ExternalID:    "msg-1",
		Title:         "Quarterly numbers",
		Labels:        []string{"INBOX", "IMPORTANT"},
		SyncedAt:      first,
	}

	outcome, err := repo.Upsert(ctx, &rec)
	require.NoError(t, err)
	assert.Equal(t, cache.Inserted, outcome)

	rec.Title = "Quarterly numbers (updated)"
	rec.SyncedAt = first.Add(30 * time.Minute)

	outcome, err = repo.Upsert(ctx, &rec)
	require.NoError(t, err)
	assert.Equal(t, cache.Updated, outcome)

	got, err := repo.Get(ctx, "gmail:work", "msg-1")
	require.NoError(t, err)
	assert.Equal(t, "Quarterly numbers (updated)", got.Title)
	assert.Equal(t, []string{"INBOX", "IMPORTANT"}, got.Labels)
	// created_at stays from the first insert, updated_at follows the write
	assert.True(t, got.CreatedAt.Equal(first))
	assert.True(t, got.UpdatedAt.Equal(first.Add(30*time.Minute)))

	count, err := repo.Count(ctx, "gmail:work")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCacheRepositoryClearIsScoped(t *testing.T) {
	repo := sqlite.NewCacheRepository(openTestDB(t))
	ctx := context.Background()
	now := time.Now().Truncate(time.Second).UTC()

	for _, id := range []string{"gmail:work", "notion:tickets"} {
		_, err := repo.Upsert(ctx, &cache.Record{
			IntegrationID: id,
			ExternalID:    "item-1",
			SyncedAt:      now,
		})
		require.NoError(t, err)
	}

	require.NoError(t, repo.Clear(ctx, "gmail:work"))

	_, err := repo.Get(ctx, "gmail:work", "item-1")
	assert.ErrorIs(t, err, cache.ErrNotFound)

	count, err := repo.Count(ctx, "notion:tickets")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestConfigStoreRoundTrip(t *testing.T) {
	store := sqlite.NewConfigStore(openTestDB(t))
	ctx := context.Background()

	_, err := store.Get(ctx, "srv-1")
	assert.ErrorIs(t, err, toolserver.ErrConfigNotFound)

	cfg := toolserver.ServerConfig{
		ID:      "srv-1",
		Name:    "notion bridge",
		Type:    toolserver.TypeStdio,
		Command: "notion-bridge",
		Args:    []string{"--workspace", "acme"},
		Env:     map[string]string{"NOTION_TOKEN": "secret"},
	}
	require.NoError(t, store.Save(ctx, &cfg))

	got, err := store.Get(ctx, "srv-1")
	require.NoError(t, err)
	assert.Equal(t, toolserver.TypeStdio, got.Type)
	assert.Equal(t, "notion-bridge", got.Command)
	assert.Equal(t, []string{"--workspace", "acme"}, got.Args)
	assert.Equal(t, map[string]string{"NOTION_TOKEN": "secret"}, got.Env)
	assert.Nil(t, got.LastConnectedAt)

	httpCfg := toolserver.ServerConfig{
		ID:      "srv-2",
		Name:    "hosted bridge",
		Type:    toolserver.TypeHTTP,
		URL:     "https://bridge.example.com/rpc",
		Headers: map[string]string{"Authorization": "Bearer abc"},
	}
	require.NoError(t, store.Save(ctx, &httpCfg))

	all, err := store.Select(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, store.Delete(ctx, "srv-1"))

	all, err = store.Select(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Equal(t, "srv-2", all[0].ID)
}

func TestConfigStoreConnectionMarks(t *testing.T) {
	store := sqlite.NewConfigStore(openTestDB(t))
	ctx := context.Background()

	cfg := toolserver.ServerConfig{
		ID:   "srv-1",
		Name: "hosted bridge",
		Type: toolserver.TypeHTTP,
		URL:  "https://bridge.example.com/rpc",
	}
	require.NoError(t, store.Save(ctx, &cfg))

	require.NoError(t, store.MarkError(ctx, "srv-1", "connection refused"))

	got, err := store.Get(ctx, "srv-1")
	require.NoError(t, err)
	assert.Equal(t, "connection refused", got.LastError)

	at := time.Now().Truncate(time.Second).UTC()
	require.NoError(t, store.MarkConnected(ctx, "srv-1", at))

	got, err = store.Get(ctx, "srv-1")
	require.NoError(t, err)
	require.NotNil(t, got.LastConnectedAt)
	assert.True(t, got.LastConnectedAt.Equal(at))
	assert.Empty(t, got.LastError)
}
