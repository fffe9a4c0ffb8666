// Package deduper tracks external ids already observed during a single sync
// run, so overlapping provider pages do not trigger duplicate downstream work.
package deduper

import (
	"context"
	"sync"
)

type Deduper interface {
	// AddIfNotExists records the key and reports whether it was new.
	AddIfNotExists(ctx context.Context, key string) bool
	// Len returns the number of distinct keys seen so far.
	Len() int
}

func New() Deduper {
	return &seenSet{seen: make(map[string]struct{})}
}

var _ Deduper = (*seenSet)(nil)

type seenSet struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

func (d *seenSet) AddIfNotExists(_ context.Context, key string) bool {
	d.mu.RLock()
	_, ok := d.seen[key]
	d.mu.RUnlock()

	if ok {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[key]; ok {
		return false
	}

	d.seen[key] = struct{}{}

	return true
}

func (d *seenSet) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return len(d.seen)
}
