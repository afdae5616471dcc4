// Package coalesce merges concurrent requests that share a canonical key
// into a single in-flight execution. At most one execution exists per key at
// any instant; every waiter receives the same outcome.
package coalesce

import (
	"golang.org/x/sync/singleflight"
)

// Coalescer deduplicates in-flight work by key.
type Coalescer struct {
	group singleflight.Group
}

func New() *Coalescer {
	return &Coalescer{}
}

// Do executes fn for the key, or joins an execution already in flight.
// shared is true when the result was produced by another caller's execution.
func (c *Coalescer) Do(key string, fn func() (any, error)) (result any, shared bool, err error) {
	v, err, shared := c.group.Do(key, fn)
	return v, shared, err
}

// Forget drops the key so the next call executes fresh. Used after failures
// so an error is not replayed to later arrivals.
func (c *Coalescer) Forget(key string) {
	c.group.Forget(key)
}
