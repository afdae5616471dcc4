package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct{ t time.Time }

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestMemoryStore_ExpiryAndSweep(t *testing.T) {
	clock := &testClock{t: time.Unix(1700000000, 0)}
	s := NewMemoryStore().WithClock(clock.now)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte("v"), 10*time.Second))
	_, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	clock.advance(11 * time.Second)
	_, ok, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "entries must never be returned past expiry")

	assert.Equal(t, 1, s.Sweep())
	assert.Equal(t, 0, s.Len())
}

func TestTTLTuner_RaisesOnHighHitRate(t *testing.T) {
	tuner := NewTTLTuner(10 * time.Second)
	for i := 0; i < windowSize; i++ {
		tuner.Observe("cap", true)
	}
	assert.Equal(t, 12*time.Second, tuner.TTL("cap"))
}

func TestTTLTuner_LowersOnHighMissRate(t *testing.T) {
	tuner := NewTTLTuner(10 * time.Second)
	for i := 0; i < windowSize; i++ {
		tuner.Observe("cap", i%3 == 0) // ~33% hits, 67% misses
	}
	assert.Equal(t, 8*time.Second, tuner.TTL("cap"))
}

func TestTTLTuner_RespectsBounds(t *testing.T) {
	tuner := NewTTLTuner(55 * time.Second)
	for w := 0; w < 10; w++ {
		for i := 0; i < windowSize; i++ {
			tuner.Observe("hot", true)
		}
	}
	assert.Equal(t, MaxTTL, tuner.TTL("hot"), "TTL capped at 60s")

	tuner = NewTTLTuner(1200 * time.Millisecond)
	for w := 0; w < 10; w++ {
		for i := 0; i < windowSize; i++ {
			tuner.Observe("cold", false)
		}
	}
	assert.Equal(t, MinTTL, tuner.TTL("cold"), "TTL floored at 1s")
}

func TestTTLTuner_MiddlingRatioLeavesTTL(t *testing.T) {
	tuner := NewTTLTuner(10 * time.Second)
	for i := 0; i < windowSize; i++ {
		tuner.Observe("cap", i%2 == 0) // 50/50
	}
	assert.Equal(t, 10*time.Second, tuner.TTL("cap"))
}

func TestResponseCache_RoundTrip(t *testing.T) {
	c := NewResponseCache(NewMemoryStore(), 10*time.Second)
	ctx := context.Background()

	_, ok := c.Get(ctx, "price.lookup", "key-1")
	assert.False(t, ok)

	outputs := map[string]any{"price": 42.5}
	require.NoError(t, c.Put(ctx, "price.lookup", "key-1", outputs))

	resp, ok := c.Get(ctx, "price.lookup", "key-1")
	require.True(t, ok)
	assert.Equal(t, "price.lookup", resp.CapabilityID)
	assert.InDelta(t, 42.5, resp.Outputs["price"], 0.001)

	stats := c.Stats()
	assert.EqualValues(t, 1, stats.Hits)
	assert.EqualValues(t, 1, stats.Misses)
}

func TestResponseCache_SweepDropsExpiredEntries(t *testing.T) {
	clock := &testClock{t: time.Unix(1700000000, 0)}
	store := NewMemoryStore().WithClock(clock.now)
	c := NewResponseCache(store, 10*time.Second)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "price.lookup", "key-1", map[string]any{"price": 42.5}))
	require.NoError(t, c.Put(ctx, "price.lookup", "key-2", map[string]any{"price": 43.0}))

	clock.advance(11 * time.Second)
	assert.Equal(t, 2, c.Sweep())
	assert.Equal(t, 0, store.Len(), "expired entries must not accumulate in the backend")
}

type sweeplessStore struct{ Store }

func TestResponseCache_SweepWithoutSweeperBackendIsNoop(t *testing.T) {
	c := NewResponseCache(&sweeplessStore{NewMemoryStore()}, 10*time.Second)
	assert.Equal(t, 0, c.Sweep())
}

func TestBounded_EvictsOldestAtCapacity(t *testing.T) {
	clock := &testClock{t: time.Unix(1700000000, 0)}
	b := NewBounded[int](2, 0).WithClock(clock.now)

	b.Put("a", 1)
	clock.advance(time.Second)
	b.Put("b", 2)
	clock.advance(time.Second)
	b.Put("c", 3)

	_, ok := b.Get("a")
	assert.False(t, ok, "oldest entry should be evicted")
	_, ok = b.Get("b")
	assert.True(t, ok)
	_, ok = b.Get("c")
	assert.True(t, ok)
	assert.Equal(t, 2, b.Len())
}

func TestBounded_TTLExpiry(t *testing.T) {
	clock := &testClock{t: time.Unix(1700000000, 0)}
	b := NewBounded[string](10, 5*time.Second).WithClock(clock.now)

	b.Put("k", "v")
	clock.advance(6 * time.Second)
	_, ok := b.Get("k")
	assert.False(t, ok)
}

func TestBurstCache_AbsorbsRecentDuplicates(t *testing.T) {
	b := NewBurstCache(5 * time.Second)
	outputs := map[string]any{"x": 1}
	b.Put("hash", outputs)

	got, ok := b.Get("hash")
	require.True(t, ok)
	assert.Equal(t, outputs, got)

	_, ok = b.Get("other")
	assert.False(t, ok)
}

func TestBurstCache_IsolatesCallersFromSharedOutputs(t *testing.T) {
	b := NewBurstCache(5 * time.Second)
	original := map[string]any{"x": 1}
	b.Put("hash", original)

	// Writes through the producer's map or a consumer's map must not be
	// visible to later readers.
	original["x"] = "tampered"
	first, ok := b.Get("hash")
	require.True(t, ok)
	first["x"] = "also tampered"

	second, ok := b.Get("hash")
	require.True(t, ok)
	assert.Equal(t, 1, second["x"])
}
