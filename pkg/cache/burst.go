package cache

import (
	"maps"
	"time"
)

const (
	DefaultBurstTTL      = 5 * time.Second
	defaultBurstCapacity = 1024
)

// BurstCache absorbs bursty duplicate traffic arriving just after a
// completed call: a short-TTL content-hash cache, independent of the
// adaptive response cache and the in-flight coalescer.
type BurstCache struct {
	entries *Bounded[map[string]any]
}

func NewBurstCache(ttl time.Duration) *BurstCache {
	if ttl <= 0 {
		ttl = DefaultBurstTTL
	}
	return &BurstCache{entries: NewBounded[map[string]any](defaultBurstCapacity, ttl)}
}

// Get returns recently completed outputs for a content hash. The map is a
// fresh shallow copy per caller; nested values remain shared.
func (b *BurstCache) Get(contentHash string) (map[string]any, bool) {
	outputs, ok := b.entries.Get(contentHash)
	if !ok {
		return nil, false
	}
	return maps.Clone(outputs), true
}

// Put records completed outputs under their content hash. A shallow copy is
// stored so later writes to the caller's map cannot reach the cache.
func (b *BurstCache) Put(contentHash string, outputs map[string]any) {
	b.entries.Put(contentHash, maps.Clone(outputs))
}

// Sweep drops expired burst entries.
func (b *BurstCache) Sweep() int {
	return b.entries.Sweep()
}
