package cache

import (
	"sync"
	"time"
)

// Bounded is a reusable capacity+TTL map. It consolidates the bounded-map
// eviction every component needs (burst absorption, learner edges, pending
// prefetches) behind one policy: expired entries are dropped on read, and
// inserting past capacity evicts the oldest entry by insertion time.
type Bounded[V any] struct {
	mu       sync.Mutex
	items    map[string]boundedItem[V]
	capacity int
	ttl      time.Duration
	now      func() time.Time
}

type boundedItem[V any] struct {
	value      V
	insertedAt time.Time
	expiresAt  time.Time
}

// NewBounded creates a bounded map. A zero ttl disables expiry; capacity
// must be positive.
func NewBounded[V any](capacity int, ttl time.Duration) *Bounded[V] {
	return &Bounded[V]{
		items:    make(map[string]boundedItem[V], capacity),
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
	}
}

// WithClock injects a clock for tests.
func (b *Bounded[V]) WithClock(now func() time.Time) *Bounded[V] {
	b.now = now
	return b
}

// Get returns the live value for key.
func (b *Bounded[V]) Get(key string) (V, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	item, ok := b.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	if b.ttl > 0 && b.now().After(item.expiresAt) {
		delete(b.items, key)
		var zero V
		return zero, false
	}
	return item.value, true
}

// Put inserts or replaces a value, evicting the oldest entry at capacity.
func (b *Bounded[V]) Put(key string, value V) {
	b.PutTTL(key, value, b.ttl)
}

// PutTTL inserts with an entry-specific ttl overriding the default.
func (b *Bounded[V]) PutTTL(key string, value V, ttl time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	if _, exists := b.items[key]; !exists && len(b.items) >= b.capacity {
		b.evictOldestLocked()
	}
	item := boundedItem[V]{value: value, insertedAt: now}
	if ttl > 0 {
		item.expiresAt = now.Add(ttl)
	} else {
		item.expiresAt = now.Add(100 * 365 * 24 * time.Hour)
	}
	b.items[key] = item
}

func (b *Bounded[V]) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time
	first := true
	for k, item := range b.items {
		if first || item.insertedAt.Before(oldestAt) {
			oldestKey, oldestAt = k, item.insertedAt
			first = false
		}
	}
	if !first {
		delete(b.items, oldestKey)
	}
}

// Delete removes a key.
func (b *Bounded[V]) Delete(key string) {
	b.mu.Lock()
	delete(b.items, key)
	b.mu.Unlock()
}

// Len reports the number of stored entries, expired included.
func (b *Bounded[V]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Sweep drops expired entries and returns how many were removed.
func (b *Bounded[V]) Sweep() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ttl == 0 {
		return 0
	}
	now := b.now()
	removed := 0
	for k, item := range b.items {
		if now.After(item.expiresAt) {
			delete(b.items, k)
			removed++
		}
	}
	return removed
}

// Range calls fn for every live entry; fn must not call back into the map.
func (b *Bounded[V]) Range(fn func(key string, value V) bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	for k, item := range b.items {
		if b.ttl > 0 && now.After(item.expiresAt) {
			continue
		}
		if !fn(k, item.value) {
			return
		}
	}
}
