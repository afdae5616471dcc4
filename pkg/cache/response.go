package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// CachedResponse is the stored slice of a successful invocation.
type CachedResponse struct {
	CapabilityID string         `json:"capability_id"`
	Outputs      map[string]any `json:"outputs"`
	CachedAt     time.Time      `json:"cached_at"`
}

// Stats is a point-in-time view of cache effectiveness.
type Stats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
}

// ResponseCache stores successful invocation outputs under canonical request
// keys with a per-capability adaptive TTL. Reads never touch breaker state
// or executor selection.
type ResponseCache struct {
	store  Store
	tuner  *TTLTuner
	logger *slog.Logger

	hits   atomic.Uint64
	misses atomic.Uint64
}

func NewResponseCache(store Store, initialTTL time.Duration) *ResponseCache {
	if store == nil {
		store = NewMemoryStore()
	}
	return &ResponseCache{
		store:  store,
		tuner:  NewTTLTuner(initialTTL),
		logger: slog.Default().With("component", "response_cache"),
	}
}

// Get returns the cached response for a canonical request key, recording the
// hit or miss in the capability's adaptive window.
func (c *ResponseCache) Get(ctx context.Context, capabilityID, key string) (*CachedResponse, bool) {
	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		// Backend trouble degrades to a miss; the cache is advisory.
		c.logger.Warn("cache read failed", "capability", capabilityID, "error", err)
		ok = false
	}
	c.tuner.Observe(capabilityID, ok)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}

	var resp CachedResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		c.logger.Warn("cache entry corrupt, dropping", "capability", capabilityID, "error", err)
		_ = c.store.Delete(ctx, key)
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return &resp, true
}

// Put stores a successful response under the capability's current TTL.
func (c *ResponseCache) Put(ctx context.Context, capabilityID, key string, outputs map[string]any) error {
	resp := CachedResponse{
		CapabilityID: capabilityID,
		Outputs:      outputs,
		CachedAt:     time.Now(),
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("response cache encode: %w", err)
	}
	return c.store.Set(ctx, key, raw, c.tuner.TTL(capabilityID))
}

// TTL exposes the current adaptive TTL for status reporting.
func (c *ResponseCache) TTL(capabilityID string) time.Duration {
	return c.tuner.TTL(capabilityID)
}

// Sweep drops expired entries when the backend supports on-demand sweeping
// and returns how many were removed.
func (c *ResponseCache) Sweep() int {
	if s, ok := c.store.(Sweeper); ok {
		return s.Sweep()
	}
	return 0
}

// Stats returns cumulative hit/miss counters.
func (c *ResponseCache) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}
