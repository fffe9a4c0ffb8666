package redis_test

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notiva/notiva-sync/cache"
	"github.com/notiva/notiva-sync/fetcher"
	"github.com/notiva/notiva-sync/redis"
	"github.com/notiva/notiva-sync/syncer"
)

type singlePageFetcher struct {
	calls int
}

func (f *singlePageFetcher) FetchPage(_ context.Context, _ string) (fetcher.Page, error) {
	f.calls++

	return fetcher.Page{
		Records: []fetcher.Record{
			{ExternalID: "msg-1", Title: "hello"},
			{ExternalID: "msg-2", Title: "world"},
		},
	}, nil
}

func newHandler(t *testing.T, f fetcher.PagedFetcher) (*redis.Handler, *syncer.Syncer, *syncer.MemoryJobRepository) {
	t.Helper()

	registry := fetcher.NewRegistry()
	registry.Register("gmail", func(string) (fetcher.PagedFetcher, error) {
		return f, nil
	})

	jobs := syncer.NewMemoryJobRepository()
	s := syncer.New(jobs, cache.NewLayer(cache.NewMemoryRepository(), nil), registry)

	return redis.NewHandler(s, nil), s, jobs
}

func TestProcessSyncTask(t *testing.T) {
	fake := &singlePageFetcher{}
	handler, _, jobs := newHandler(t, fake)

	taskType, payload, err := redis.NewSyncTask("gmail:work", "")
	require.NoError(t, err)
	assert.Equal(t, redis.TypeIntegrationSync, taskType)

	err = handler.ProcessTask(context.Background(), asynq.NewTask(taskType, payload))
	require.NoError(t, err)

	job, err := jobs.Get(context.Background(), "gmail:work")
	require.NoError(t, err)
	assert.Equal(t, syncer.StateDone, job.State)
	assert.Equal(t, 2, job.ItemsProcessed)
	assert.Equal(t, 1, fake.calls)
}

func TestProcessSyncTaskSkipsWhenAlreadyRunning(t *testing.T) {
	handler, _, jobs := newHandler(t, &singlePageFetcher{})

	running := &syncer.SyncJob{
		JobID:         "job-1",
		IntegrationID: "gmail:work",
		State:         syncer.StateRunning,
	}
	require.NoError(t, jobs.Claim(context.Background(), running))

	_, payload, err := redis.NewSyncTask("gmail:work", "")
	require.NoError(t, err)

	err = handler.ProcessTask(context.Background(), asynq.NewTask(redis.TypeIntegrationSync, payload))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestProcessTaskRejectsUnknownType(t *testing.T) {
	handler, _, _ := newHandler(t, &singlePageFetcher{})

	err := handler.ProcessTask(context.Background(), asynq.NewTask("sync:unknown", nil))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestProcessTaskRejectsMalformedPayload(t *testing.T) {
	handler, _, _ := newHandler(t, &singlePageFetcher{})

	err := handler.ProcessTask(context.Background(), asynq.NewTask(redis.TypeIntegrationSync, []byte("{")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	err = handler.ProcessTask(context.Background(), asynq.NewTask(redis.TypeIntegrationSync, []byte("{}")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestProcessSyncTaskResumesClaimedJob(t *testing.T) {
	fake := &singlePageFetcher{}
	handler, engine, jobs := newHandler(t, fake)

	jobID, err := engine.Begin(context.Background(), "gmail:work")
	require.NoError(t, err)

	taskType, payload, err := redis.NewSyncTask("gmail:work", jobID)
	require.NoError(t, err)

	err = handler.ProcessTask(context.Background(), asynq.NewTask(taskType, payload))
	require.NoError(t, err)

	job, err := jobs.Get(context.Background(), "gmail:work")
	require.NoError(t, err)
	assert.Equal(t, jobID, job.JobID)
	assert.Equal(t, syncer.StateDone, job.State)
	assert.Equal(t, 2, job.ItemsProcessed)
	assert.Equal(t, 1, fake.calls)
}

func TestProcessSyncTaskDropsStaleJobID(t *testing.T) {
	fake := &singlePageFetcher{}
	handler, engine, jobs := newHandler(t, fake)

	jobID, err := engine.Begin(context.Background(), "gmail:work")
	require.NoError(t, err)

	_, payload, err := redis.NewSyncTask("gmail:work", "job-stale")
	require.NoError(t, err)

	err = handler.ProcessTask(context.Background(), asynq.NewTask(redis.TypeIntegrationSync, payload))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
	assert.Equal(t, 0, fake.calls)

	job, err := jobs.Get(context.Background(), "gmail:work")
	require.NoError(t, err)
	assert.Equal(t, jobID, job.JobID)
	assert.Equal(t, syncer.StateRunning, job.State)
}
