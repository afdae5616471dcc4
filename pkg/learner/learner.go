// Package learner observes capability sequences per caller, accumulates
// weighted dependency edges, and speculatively warms likely next calls.
package learner

import (
	"sort"
	"sync"
	"time"
)

const (
	// DefaultMaxGap bounds the inter-arrival time for two invocations to
	// count as a sequence.
	DefaultMaxGap = 30 * time.Second
	// maxSuccessors bounds the successor fan-out kept per capability;
	// inserting past it evicts the lowest-weight edge.
	maxSuccessors = 16
	// maxSources bounds how many source capabilities are tracked.
	maxSources = 512
	// gapAlpha is the smoothing factor for the exponential average gap.
	gapAlpha = 0.3
)

// Edge is one directed co-occurrence a→b. Weights accumulate without decay;
// only bounded-map eviction forgets.
type Edge struct {
	Weight int           `json:"weight"`
	AvgGap time.Duration `json:"avg_gap"`
}

// Prediction is one likely successor of a capability.
type Prediction struct {
	CapabilityID string        `json:"capability_id"`
	Probability  float64       `json:"probability"`
	AvgGap       time.Duration `json:"avg_gap"`
}

type observation struct {
	capabilityID string
	at           time.Time
}

// Learner tracks dependency edges between capabilities invoked by the same
// caller within the configured gap.
type Learner struct {
	mu       sync.Mutex
	lastSeen map[string]observation
	edges    map[string]map[string]*Edge
	maxGap   time.Duration
	now      func() time.Time
}

// Option configures a Learner.
type Option func(*Learner)

// WithMaxGap overrides the sequence gap bound.
func WithMaxGap(d time.Duration) Option {
	return func(l *Learner) { l.maxGap = d }
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Learner) { l.now = now }
}

func New(opts ...Option) *Learner {
	l := &Learner{
		lastSeen: make(map[string]observation),
		edges:    make(map[string]map[string]*Edge),
		maxGap:   DefaultMaxGap,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record notes that a caller invoked a capability, updating the edge from
// the caller's previous invocation when it happened within the gap bound.
func (l *Learner) Record(callerID, capabilityID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	prev, ok := l.lastSeen[callerID]
	l.lastSeen[callerID] = observation{capabilityID: capabilityID, at: now}

	if !ok || prev.capabilityID == capabilityID {
		return
	}
	gap := now.Sub(prev.at)
	if gap >= l.maxGap {
		return
	}
	l.bump(prev.capabilityID, capabilityID, gap)
}

func (l *Learner) bump(from, to string, gap time.Duration) {
	successors, ok := l.edges[from]
	if !ok {
		if len(l.edges) >= maxSources {
			l.evictColdestSource()
		}
		successors = make(map[string]*Edge)
		l.edges[from] = successors
	}

	e, ok := successors[to]
	if !ok {
		if len(successors) >= maxSuccessors {
			evictLightestEdge(successors)
		}
		successors[to] = &Edge{Weight: 1, AvgGap: gap}
		return
	}
	e.Weight++
	e.AvgGap = time.Duration(float64(e.AvgGap)*(1-gapAlpha) + float64(gap)*gapAlpha)
}

// evictColdestSource drops the source with the smallest total weight.
func (l *Learner) evictColdestSource() {
	var coldest string
	coldestWeight := -1
	for from, successors := range l.edges {
		total := 0
		for _, e := range successors {
			total += e.Weight
		}
		if coldestWeight == -1 || total < coldestWeight {
			coldest, coldestWeight = from, total
		}
	}
	if coldest != "" {
		delete(l.edges, coldest)
	}
}

func evictLightestEdge(successors map[string]*Edge) {
	var lightest string
	lightestWeight := -1
	for to, e := range successors {
		if lightestWeight == -1 || e.Weight < lightestWeight {
			lightest, lightestWeight = to, e.Weight
		}
	}
	if lightest != "" {
		delete(successors, lightest)
	}
}

// PredictNext returns the top-n successors of a capability by weight, with
// probability normalized over every outgoing edge.
func (l *Learner) PredictNext(capabilityID string, n int) []Prediction {
	l.mu.Lock()
	defer l.mu.Unlock()

	successors := l.edges[capabilityID]
	if len(successors) == 0 || n <= 0 {
		return nil
	}

	total := 0
	for _, e := range successors {
		total += e.Weight
	}

	preds := make([]Prediction, 0, len(successors))
	for to, e := range successors {
		preds = append(preds, Prediction{
			CapabilityID: to,
			Probability:  float64(e.Weight) / float64(total),
			AvgGap:       e.AvgGap,
		})
	}
	sort.Slice(preds, func(i, j int) bool {
		if preds[i].Probability != preds[j].Probability {
			return preds[i].Probability > preds[j].Probability
		}
		return preds[i].CapabilityID < preds[j].CapabilityID
	})
	if len(preds) > n {
		preds = preds[:n]
	}
	return preds
}

// EdgeCount reports how many edges are tracked, for status reporting.
func (l *Learner) EdgeCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	count := 0
	for _, successors := range l.edges {
		count += len(successors)
	}
	return count
}
