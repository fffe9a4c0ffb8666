package syncer

import (
	"context"
	"sync"
)

var _ JobRepository = (*MemoryJobRepository)(nil)

// MemoryJobRepository keeps jobs in a map guarded by a mutex, so Claim is
// atomic the same way the SQL implementations make it atomic with a
// conditional upsert.
type MemoryJobRepository struct {
	mu   sync.Mutex
	jobs map[string]SyncJob
}

func NewMemoryJobRepository() *MemoryJobRepository {
	return &MemoryJobRepository{jobs: make(map[string]SyncJob)}
}

func (r *MemoryJobRepository) Claim(_ context.Context, job *SyncJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.jobs[job.IntegrationID]; ok && !existing.State.Terminal() {
		return ErrAlreadyRunning
	}

	r.jobs[job.IntegrationID] = *job

	return nil
}

func (r *MemoryJobRepository) Get(_ context.Context, integrationID string) (SyncJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[integrationID]
	if !ok {
		return SyncJob{}, ErrJobNotFound
	}

	return job, nil
}

func (r *MemoryJobRepository) UpdateProgress(_ context.Context, job *SyncJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.jobs[job.IntegrationID]
	if !ok {
		return ErrJobNotFound
	}

	existing.Cursor = job.Cursor
	existing.PageCount = job.PageCount
	existing.ItemsProcessed = job.ItemsProcessed
	existing.ItemsFailed = job.ItemsFailed
	r.jobs[job.IntegrationID] = existing

	return nil
}

func (r *MemoryJobRepository) Finish(_ context.Context, job *SyncJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.jobs[job.IntegrationID]
	if !ok {
		return ErrJobNotFound
	}

	existing.State = job.State
	existing.Cursor = job.Cursor
	existing.PageCount = job.PageCount
	existing.ItemsProcessed = job.ItemsProcessed
	existing.ItemsFailed = job.ItemsFailed
	existing.Message = job.Message
	existing.LastError = job.LastError
	existing.FinishedAt = job.FinishedAt
	r.jobs[job.IntegrationID] = existing

	return nil
}

func (r *MemoryJobRepository) RequestCancel(_ context.Context, integrationID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.jobs[integrationID]
	if !ok || existing.State.Terminal() {
		return false, nil
	}

	existing.CancelRequested = true
	existing.State = StateCancelling
	r.jobs[integrationID] = existing

	return true, nil
}
