// Package fetcher defines the page-at-a-time fetch contract that every
// integration implements. A fetcher knows how to pull one page of records
// from an external provider given an opaque cursor; it never loops, never
// sorts, and never writes to the cache.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

var ErrUnknownProvider = errors.New("unknown provider")

// Record is a single external item in provider-neutral form. ExternalID is
// the stable id assigned by the source system. LoadError is set when the
// provider listed the item but its full content could not be loaded; such
// records are persisted as placeholders instead of failing the page.
type Record struct {
	ExternalID string
	Title      string
	Body       string
	Labels     []string
	Owner      string
	Lifecycle  string
	LoadError  string
}

// Page is the result of fetching one page. NextCursor is passed back
// unchanged on the next call; an empty cursor means the first page.
type Page struct {
	Records    []Record
	NextCursor string
	HasMore    bool
}

// PagedFetcher fetches one page of records per call. Implementations must
// resolve credentials on every call so a mid-job token refresh is
// transparent to the loop driving them.
type PagedFetcher interface {
	FetchPage(ctx context.Context, cursor string) (Page, error)
}

// Builder creates a fetcher bound to one integration.
type Builder func(integrationID string) (PagedFetcher, error)

// Registry resolves integration ids to fetchers. Integration ids follow the
// "<provider>:<name>" convention, e.g. "gmail:work" or "notion:tickets".
type Registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

func NewRegistry() *Registry {
	return &Registry{builders: make(map[string]Builder)}
}

func (r *Registry) Register(provider string, b Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.builders[provider] = b
}

func (r *Registry) Resolve(_ context.Context, integrationID string) (PagedFetcher, error) {
	provider := integrationID
	if idx := strings.Index(integrationID, ":"); idx > 0 {
		provider = integrationID[:idx]
	}

	r.mu.RLock()
	b, ok := r.builders[provider]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}

	return b(integrationID)
}
