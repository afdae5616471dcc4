package cache

import (
	"sync"
	"time"
)

const (
	DefaultTTL    = 10 * time.Second
	MinTTL        = time.Second
	MaxTTL        = 60 * time.Second
	raiseFactor   = 1.2
	lowerFactor   = 0.8
	raiseHitRate  = 0.8
	lowerMissRate = 0.5
	// windowSize is the number of observations per tuning window.
	windowSize = 10
)

// adaptiveTTL self-tunes one capability's cache TTL from its observed hit
// ratio over a rolling window.
type adaptiveTTL struct {
	ttl    time.Duration
	hits   int
	misses int
}

func (a *adaptiveTTL) observe(hit bool) {
	if hit {
		a.hits++
	} else {
		a.misses++
	}
	total := a.hits + a.misses
	if total < windowSize {
		return
	}

	hitRate := float64(a.hits) / float64(total)
	switch {
	case hitRate > raiseHitRate:
		a.ttl = time.Duration(float64(a.ttl) * raiseFactor)
		if a.ttl > MaxTTL {
			a.ttl = MaxTTL
		}
	case float64(a.misses)/float64(total) > lowerMissRate:
		a.ttl = time.Duration(float64(a.ttl) * lowerFactor)
		if a.ttl < MinTTL {
			a.ttl = MinTTL
		}
	}
	a.hits = 0
	a.misses = 0
}

// TTLTuner tracks per-capability adaptive TTLs.
type TTLTuner struct {
	mu      sync.Mutex
	entries map[string]*adaptiveTTL
	initial time.Duration
}

func NewTTLTuner(initial time.Duration) *TTLTuner {
	if initial <= 0 {
		initial = DefaultTTL
	}
	return &TTLTuner{entries: make(map[string]*adaptiveTTL), initial: initial}
}

func (t *TTLTuner) get(id string) *adaptiveTTL {
	a, ok := t.entries[id]
	if !ok {
		a = &adaptiveTTL{ttl: t.initial}
		t.entries[id] = a
	}
	return a
}

// Observe records a hit or miss for the capability.
func (t *TTLTuner) Observe(id string, hit bool) {
	t.mu.Lock()
	t.get(id).observe(hit)
	t.mu.Unlock()
}

// TTL returns the current TTL for the capability.
func (t *TTLTuner) TTL(id string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.get(id).ttl
}
