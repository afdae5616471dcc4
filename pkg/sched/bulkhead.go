package sched

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Bulkheads isolates named resource pools, each with an independent
// concurrency ceiling and FIFO waiting, so one overloaded pool cannot
// starve another.
type Bulkheads struct {
	mu    sync.RWMutex
	pools map[string]*bulkheadPool
}

type bulkheadPool struct {
	sem     *semaphore.Weighted
	limit   int64
	active  atomic.Int64
	waiting atomic.Int64
}

func NewBulkheads() *Bulkheads {
	return &Bulkheads{pools: make(map[string]*bulkheadPool)}
}

// Register creates a pool with the given concurrency ceiling. Registering an
// existing pool replaces its ceiling for future admissions.
func (b *Bulkheads) Register(name string, limit int64) error {
	if limit <= 0 {
		return fmt.Errorf("bulkhead %s: limit must be positive", name)
	}
	b.mu.Lock()
	b.pools[name] = &bulkheadPool{sem: semaphore.NewWeighted(limit), limit: limit}
	b.mu.Unlock()
	return nil
}

func (b *Bulkheads) get(name string) (*bulkheadPool, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.pools[name]
	return p, ok
}

// Do runs fn inside the named pool, waiting FIFO for a slot. The wait is
// bounded by ctx.
func (b *Bulkheads) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	pool, ok := b.get(name)
	if !ok {
		return fmt.Errorf("bulkhead %s: not registered", name)
	}

	pool.waiting.Add(1)
	err := pool.sem.Acquire(ctx, 1)
	pool.waiting.Add(-1)
	if err != nil {
		return fmt.Errorf("bulkhead %s: admission aborted: %w", name, err)
	}
	pool.active.Add(1)
	defer func() {
		pool.active.Add(-1)
		pool.sem.Release(1)
	}()
	return fn(ctx)
}

// PoolStats reports one pool's occupancy.
type PoolStats struct {
	Name    string `json:"name"`
	Limit   int64  `json:"limit"`
	Active  int64  `json:"active"`
	Waiting int64  `json:"waiting"`
}

// Snapshot returns occupancy for every registered pool.
func (b *Bulkheads) Snapshot() []PoolStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]PoolStats, 0, len(b.pools))
	for name, p := range b.pools {
		out = append(out, PoolStats{
			Name:    name,
			Limit:   p.limit,
			Active:  p.active.Load(),
			Waiting: p.waiting.Load(),
		})
	}
	return out
}
