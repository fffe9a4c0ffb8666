package credentials

import (
	"context"
	"sync"
)

// MemoryStore is a map-backed Store used by tests and by deployments that
// have no database configured.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]Credential
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]Credential)}
}

func (s *MemoryStore) Get(_ context.Context, integrationID string) (Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.items[integrationID]
	if !ok {
		return Credential{}, ErrNotFound
	}

	return cred, nil
}

func (s *MemoryStore) Save(_ context.Context, cred *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[cred.IntegrationID] = *cred

	return nil
}

func (s *MemoryStore) Delete(_ context.Context, integrationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[integrationID]; !ok {
		return ErrNotFound
	}

	delete(s.items, integrationID)

	return nil
}
