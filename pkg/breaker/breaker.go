// Package breaker implements a per-capability circuit breaker bank. One
// breaker exists per capability id, created lazily, mutated only after an
// execution outcome. A rejected call short-circuits before the executor and
// retry engine are touched.
package breaker

import (
	"fmt"
	"sync"
	"time"
)

// State is the breaker state machine position.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

const (
	DefaultFailureThreshold = 5
	DefaultCooldown         = 30 * time.Second
)

// Rejection explains a fast-fail, with an estimated retry-after.
type Rejection struct {
	CapabilityID string
	State        State
	RetryAfter   time.Duration
}

func (r *Rejection) Reason() string {
	return fmt.Sprintf("circuit %s for %s, retry after %s", r.State, r.CapabilityID, r.RetryAfter)
}

// entry holds the mutable state of one capability's breaker.
type entry struct {
	failures    int
	lastFailure time.Time
	lastTouched time.Time
	state       State
	probing     bool
}

// Snapshot is a read-only view of one breaker for status reporting.
type Snapshot struct {
	CapabilityID string    `json:"capability_id"`
	State        State     `json:"state"`
	Failures     int       `json:"failures"`
	LastFailure  time.Time `json:"last_failure,omitempty"`
}

// Bank owns every breaker. Instances are independent so multiple routers
// coexist cleanly in tests.
type Bank struct {
	mu        sync.Mutex
	entries   map[string]*entry
	threshold int
	cooldown  time.Duration
	now       func() time.Time
}

// Option configures a Bank.
type Option func(*Bank)

// WithThreshold overrides the consecutive-failure threshold.
func WithThreshold(n int) Option {
	return func(b *Bank) { b.threshold = n }
}

// WithCooldown overrides the open-state cooldown.
func WithCooldown(d time.Duration) Option {
	return func(b *Bank) { b.cooldown = d }
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Bank) { b.now = now }
}

func NewBank(opts ...Option) *Bank {
	b := &Bank{
		entries:   make(map[string]*entry),
		threshold: DefaultFailureThreshold,
		cooldown:  DefaultCooldown,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bank) get(id string) *entry {
	e, ok := b.entries[id]
	if !ok {
		e = &entry{state: StateClosed}
		b.entries[id] = e
	}
	return e
}

// Allow reports whether a call to the capability may proceed. The open to
// half-open transition is evaluated lazily here once the cooldown elapsed;
// half-open admits a single trial until its outcome is recorded.
func (b *Bank) Allow(id string) (bool, *Rejection) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.get(id)
	e.lastTouched = b.now()

	switch e.state {
	case StateOpen:
		elapsed := b.now().Sub(e.lastFailure)
		if elapsed >= b.cooldown {
			e.state = StateHalfOpen
			e.probing = true
			return true, nil
		}
		return false, &Rejection{
			CapabilityID: id,
			State:        StateOpen,
			RetryAfter:   b.cooldown - elapsed,
		}
	case StateHalfOpen:
		if e.probing {
			// A trial is already in flight; reject until it resolves.
			return false, &Rejection{
				CapabilityID: id,
				State:        StateHalfOpen,
				RetryAfter:   b.cooldown,
			}
		}
		e.probing = true
		return true, nil
	default:
		return true, nil
	}
}

// Record registers an execution outcome. Cache hits and breaker rejections
// must never reach here.
func (b *Bank) Record(id string, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.get(id)
	e.lastTouched = b.now()
	e.probing = false

	if success {
		// Half-open closes on the first success; closed resets its
		// consecutive-failure count.
		e.state = StateClosed
		e.failures = 0
		return
	}

	e.failures++
	e.lastFailure = b.now()
	if e.state == StateHalfOpen || e.failures >= b.threshold {
		e.state = StateOpen
	}
}

// Release returns a slot admitted by Allow without recording an outcome, for
// calls that never exercised the capability (caller faults). A half-open
// probe slot reopens for the next caller instead of staying consumed.
func (b *Bank) Release(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[id]
	if !ok {
		return
	}
	e.lastTouched = b.now()
	e.probing = false
}

// Reset forces a breaker back to closed, for manual operator recovery.
func (b *Bank) Reset(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[id]
	if !ok {
		return false
	}
	e.state = StateClosed
	e.failures = 0
	e.probing = false
	return true
}

// Cleanup removes entries idle longer than maxIdle and returns how many were
// swept. Runs on demand; never on the dispatch path.
func (b *Bank) Cleanup(maxIdle time.Duration) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	removed := 0
	cutoff := b.now().Add(-maxIdle)
	for id, e := range b.entries {
		if e.lastTouched.Before(cutoff) {
			delete(b.entries, id)
			removed++
		}
	}
	return removed
}

// Snapshots returns the current state of every breaker.
func (b *Bank) Snapshots() []Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Snapshot, 0, len(b.entries))
	for id, e := range b.entries {
		out = append(out, Snapshot{
			CapabilityID: id,
			State:        e.state,
			Failures:     e.failures,
			LastFailure:  e.lastFailure,
		})
	}
	return out
}
