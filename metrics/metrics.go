// Package metrics provides process-scoped counters for outbound provider
// calls. Counters are injected into the components that make network calls
// instead of living as package globals, so tests can observe them in
// isolation and a process restart starts from zero.
package metrics

import "sync"

type Snapshot struct {
	APICalls     map[string]int64
	RefreshCalls int64
	ToolCalls    int64
}

type Counters struct {
	mu        sync.Mutex
	apiCalls  map[string]int64
	refreshes int64
	toolCalls int64
}

func NewCounters() *Counters {
	return &Counters{apiCalls: make(map[string]int64)}
}

// IncAPICall counts one provider API call, keyed by provider name.
func (c *Counters) IncAPICall(provider string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.apiCalls[provider]++
}

// IncRefresh counts one OAuth token refresh attempt.
func (c *Counters) IncRefresh() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.refreshes++
}

// IncToolCall counts one tool-server invocation.
func (c *Counters) IncToolCall() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.toolCalls++
}

func (c *Counters) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	calls := make(map[string]int64, len(c.apiCalls))
	for k, v := range c.apiCalls {
		calls[k] = v
	}

	return Snapshot{
		APICalls:     calls,
		RefreshCalls: c.refreshes,
		ToolCalls:    c.toolCalls,
	}
}

// Reset zeroes all counters without replacing the shared instance.
func (c *Counters) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.apiCalls = make(map[string]int64)
	c.refreshes = 0
	c.toolCalls = 0
}
