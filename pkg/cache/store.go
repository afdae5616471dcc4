// Package cache provides the successful-response cache: a Store interface
// with in-memory and Redis backends, a per-capability adaptive TTL, and a
// short-TTL burst cache for near-duplicate sequential traffic. All cached
// state is advisory; durability across restarts is a non-goal.
package cache

import (
	"context"
	"time"
)

// Store is the byte-level cache backend.
type Store interface {
	// Get returns the value and true when the key exists and has not
	// expired.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores the value with the given TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes a key; deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Sweeper is implemented by backends that hold expired entries until swept.
// Backends with server-side expiry (Redis) do not need it.
type Sweeper interface {
	// Sweep drops expired entries and returns how many were removed.
	Sweep() int
}
