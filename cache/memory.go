package cache

import (
	"context"
	"sync"
)

type memoryKey struct {
	integrationID string
	externalID    string
}

// MemoryRepository is a map-backed Repository used by tests.
type MemoryRepository struct {
	mu    sync.RWMutex
	items map[memoryKey]Record

	// FailFor makes Upsert fail for the listed external ids; tests use it
	// to exercise the partial-failure path.
	FailFor map[string]error
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{items: make(map[memoryKey]Record)}
}

func (r *MemoryRepository) Upsert(_ context.Context, rec *Record) (UpsertOutcome, error) {
	if err, ok := r.FailFor[rec.ExternalID]; ok {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := memoryKey{rec.IntegrationID, rec.ExternalID}

	existing, ok := r.items[key]
	if !ok {
		rec.CreatedAt = rec.SyncedAt
		rec.UpdatedAt = rec.SyncedAt
		r.items[key] = *rec

		return Inserted, nil
	}

	rec.CreatedAt = existing.CreatedAt
	rec.UpdatedAt = rec.SyncedAt
	r.items[key] = *rec

	return Updated, nil
}

func (r *MemoryRepository) Get(_ context.Context, integrationID, externalID string) (Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.items[memoryKey{integrationID, externalID}]
	if !ok {
		return Record{}, ErrNotFound
	}

	return rec, nil
}

func (r *MemoryRepository) Count(_ context.Context, integrationID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0

	for key := range r.items {
		if key.integrationID == integrationID {
			count++
		}
	}

	return count, nil
}

func (r *MemoryRepository) Clear(_ context.Context, integrationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key := range r.items {
		if key.integrationID == integrationID {
			delete(r.items, key)
		}
	}

	return nil
}
