package learner

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/TheQuantumChronicle/cap402-sub002/pkg/cache"
)

const (
	// prefetchThreshold is the minimum successor probability worth warming.
	prefetchThreshold = 0.3
	// prefetchTopN bounds how many successors one completion may warm.
	prefetchTopN = 3
	// defaultPendingTTL covers edges whose average gap is not yet
	// meaningful.
	defaultPendingTTL = 5 * time.Second
	pendingCapacity   = 256
)

// WarmFunc performs one speculative invocation whose result may populate
// the response cache. Failures are the callee's to swallow.
type WarmFunc func(ctx context.Context, capabilityID string)

// Prefetcher speculatively warms predicted successors after a successful
// prefetch-enabled invocation. Warming never blocks the foreground request;
// a rate limiter keeps background traffic from flooding executors.
type Prefetcher struct {
	learner *Learner
	pending *cache.Bounded[time.Time]
	limiter *rate.Limiter
	warm    WarmFunc
	logger  *slog.Logger
}

func NewPrefetcher(l *Learner, warm WarmFunc) *Prefetcher {
	return &Prefetcher{
		learner: l,
		pending: cache.NewBounded[time.Time](pendingCapacity, defaultPendingTTL),
		limiter: rate.NewLimiter(rate.Limit(10), 20),
		warm:    warm,
		logger:  slog.Default().With("component", "prefetcher"),
	}
}

// After schedules warming for the successors of a completed capability.
// Returns the capability ids actually marked pending, for introspection.
func (p *Prefetcher) After(ctx context.Context, completedID string) []string {
	preds := p.learner.PredictNext(completedID, prefetchTopN)
	var warmed []string
	for _, pred := range preds {
		if pred.Probability <= prefetchThreshold {
			continue
		}
		if _, exists := p.pending.Get(pred.CapabilityID); exists {
			continue // already pending, dedupe
		}
		ttl := pred.AvgGap
		if ttl <= 0 {
			ttl = defaultPendingTTL
		}
		if !p.limiter.Allow() {
			continue
		}
		p.pending.PutTTL(pred.CapabilityID, time.Now(), ttl)
		warmed = append(warmed, pred.CapabilityID)
		go func(id string) {
			defer func() {
				if r := recover(); r != nil {
					p.logger.Warn("prefetch warm panicked", "capability", id)
				}
			}()
			p.warm(context.WithoutCancel(ctx), id)
		}(pred.CapabilityID)
	}
	return warmed
}

// IsPending reports whether a capability has a live speculative warm.
func (p *Prefetcher) IsPending(capabilityID string) bool {
	_, ok := p.pending.Get(capabilityID)
	return ok
}

// Sweep drops expired pending entries.
func (p *Prefetcher) Sweep() int {
	return p.pending.Sweep()
}
