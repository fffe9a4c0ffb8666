package toolserver

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryConfigStore is a map-backed ConfigStore used by tests and by
// deployments without a database.
type MemoryConfigStore struct {
	mu    sync.RWMutex
	items map[string]ServerConfig
}

var _ ConfigStore = (*MemoryConfigStore)(nil)

func NewMemoryConfigStore() *MemoryConfigStore {
	return &MemoryConfigStore{items: make(map[string]ServerConfig)}
}

func (s *MemoryConfigStore) Get(_ context.Context, id string) (ServerConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.items[id]
	if !ok {
		return ServerConfig{}, ErrConfigNotFound
	}

	return cfg, nil
}

func (s *MemoryConfigStore) Select(_ context.Context) ([]ServerConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ans := make([]ServerConfig, 0, len(s.items))
	for _, cfg := range s.items {
		ans = append(ans, cfg)
	}

	sort.Slice(ans, func(i, j int) bool { return ans[i].Name < ans[j].Name })

	return ans, nil
}

func (s *MemoryConfigStore) Save(_ context.Context, cfg *ServerConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[cfg.ID] = *cfg

	return nil
}

func (s *MemoryConfigStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; !ok {
		return ErrConfigNotFound
	}

	delete(s.items, id)

	return nil
}

func (s *MemoryConfigStore) MarkConnected(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, ok := s.items[id]
	if !ok {
		return ErrConfigNotFound
	}

	cfg.LastConnectedAt = &at
	cfg.LastError = ""
	s.items[id] = cfg

	return nil
}

func (s *MemoryConfigStore) MarkError(_ context.Context, id string, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, ok := s.items[id]
	if !ok {
		return ErrConfigNotFound
	}

	cfg.LastError = msg
	s.items[id] = cfg

	return nil
}
