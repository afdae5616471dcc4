package learner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct{ t time.Time }

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLearner() (*Learner, *testClock) {
	clock := &testClock{t: time.Unix(1700000000, 0)}
	return New(WithClock(clock.now)), clock
}

func TestLearner_RecordsSequenceWithinGap(t *testing.T) {
	l, clock := newTestLearner()

	l.Record("agent-1", "price.lookup")
	clock.advance(2 * time.Second)
	l.Record("agent-1", "swap.quote")

	preds := l.PredictNext("price.lookup", 5)
	require.Len(t, preds, 1)
	assert.Equal(t, "swap.quote", preds[0].CapabilityID)
	assert.Equal(t, 1.0, preds[0].Probability)
	assert.Equal(t, 2*time.Second, preds[0].AvgGap)
}

func TestLearner_IgnoresSequenceBeyondGap(t *testing.T) {
	l, clock := newTestLearner()

	l.Record("agent-1", "price.lookup")
	clock.advance(31 * time.Second)
	l.Record("agent-1", "swap.quote")

	assert.Empty(t, l.PredictNext("price.lookup", 5))
}

func TestLearner_SeparatesCallers(t *testing.T) {
	l, clock := newTestLearner()

	l.Record("agent-1", "price.lookup")
	clock.advance(time.Second)
	l.Record("agent-2", "swap.quote")

	assert.Empty(t, l.PredictNext("price.lookup", 5),
		"sequences must be per caller, not global")
}

func TestLearner_ProbabilityNormalization(t *testing.T) {
	l, clock := newTestLearner()

	// price.lookup → swap.quote three times, → risk.score once.
	for i := 0; i < 3; i++ {
		l.Record("agent-1", "price.lookup")
		clock.advance(time.Second)
		l.Record("agent-1", "swap.quote")
		clock.advance(time.Minute)
	}
	l.Record("agent-1", "price.lookup")
	clock.advance(time.Second)
	l.Record("agent-1", "risk.score")

	preds := l.PredictNext("price.lookup", 5)
	require.Len(t, preds, 2)
	assert.Equal(t, "swap.quote", preds[0].CapabilityID)
	assert.InDelta(t, 0.75, preds[0].Probability, 0.001)
	assert.InDelta(t, 0.25, preds[1].Probability, 0.001)
}

func TestLearner_ExponentialGapUpdate(t *testing.T) {
	l, clock := newTestLearner()

	l.Record("agent-1", "a")
	clock.advance(time.Second)
	l.Record("agent-1", "b") // edge created, gap 1s
	clock.advance(time.Minute)

	l.Record("agent-1", "a")
	clock.advance(3 * time.Second)
	l.Record("agent-1", "b") // EMA: 1s*0.7 + 3s*0.3 = 1.6s

	preds := l.PredictNext("a", 1)
	require.Len(t, preds, 1)
	assert.InDelta(t, float64(1600*time.Millisecond), float64(preds[0].AvgGap), float64(time.Millisecond))
}

func TestLearner_TopNBound(t *testing.T) {
	l, clock := newTestLearner()
	successors := []string{"b", "c", "d", "e"}
	for _, s := range successors {
		l.Record("agent-1", "a")
		clock.advance(time.Second)
		l.Record("agent-1", s)
		clock.advance(time.Minute)
	}
	assert.Len(t, l.PredictNext("a", 2), 2)
}

func TestPrefetcher_WarmsAboveThreshold(t *testing.T) {
	l, clock := newTestLearner()
	for i := 0; i < 4; i++ {
		l.Record("agent-1", "price.lookup")
		clock.advance(time.Second)
		l.Record("agent-1", "swap.quote")
		clock.advance(time.Minute)
	}

	var mu sync.Mutex
	warmedIDs := map[string]int{}
	done := make(chan struct{}, 1)
	p := NewPrefetcher(l, func(_ context.Context, id string) {
		mu.Lock()
		warmedIDs[id]++
		mu.Unlock()
		done <- struct{}{}
	})

	marked := p.After(context.Background(), "price.lookup")
	require.Equal(t, []string{"swap.quote"}, marked)
	assert.True(t, p.IsPending("swap.quote"))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("warm function never ran")
	}
	mu.Lock()
	assert.Equal(t, 1, warmedIDs["swap.quote"])
	mu.Unlock()

	// A second completion while the prefetch is pending must deduplicate.
	assert.Empty(t, p.After(context.Background(), "price.lookup"))
}

func TestPrefetcher_SkipsBelowThreshold(t *testing.T) {
	l, clock := newTestLearner()
	// Four distinct successors, 25% each: below the 30% threshold.
	for _, s := range []string{"b", "c", "d", "e"} {
		l.Record("agent-1", "a")
		clock.advance(time.Second)
		l.Record("agent-1", s)
		clock.advance(time.Minute)
	}

	p := NewPrefetcher(l, func(context.Context, string) {
		t.Error("nothing should be warmed below threshold")
	})
	assert.Empty(t, p.After(context.Background(), "a"))
}
