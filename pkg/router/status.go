package router

import (
	"context"
	"time"

	"github.com/TheQuantumChronicle/cap402-sub002/pkg/audit"
	"github.com/TheQuantumChronicle/cap402-sub002/pkg/breaker"
	"github.com/TheQuantumChronicle/cap402-sub002/pkg/cache"
	"github.com/TheQuantumChronicle/cap402-sub002/pkg/sched"
)

// Status is a point-in-time view of the dispatch pipeline.
type Status struct {
	Breakers  []breaker.Snapshot          `json:"breakers"`
	Cache     cache.Stats                 `json:"cache"`
	Scheduler sched.Stats                 `json:"scheduler"`
	Bulkheads []sched.PoolStats           `json:"bulkheads"`
	Edges     int                         `json:"dependency_edges"`
	Health    map[string]CapabilityHealth `json:"health"`
}

// Status reports breaker, cache, scheduler, bulkhead, learner and health
// state, computed on demand.
func (r *Router) Status() Status {
	return Status{
		Breakers:  r.breakers.Snapshots(),
		Cache:     r.respCache.Stats(),
		Scheduler: r.scheduler.Snapshot(),
		Bulkheads: r.bulkheads.Snapshot(),
		Edges:     r.learner.EdgeCount(),
		Health:    r.health.Scores(),
	}
}

// ResetCircuitBreaker forces a capability's breaker closed and audit-logs the
// operator action. Returns false when no breaker exists for the id.
func (r *Router) ResetCircuitBreaker(ctx context.Context, operator, capabilityID string) bool {
	ok := r.breakers.Reset(capabilityID)
	if err := r.auditor.Record(ctx, operator, audit.EventOperator, "breaker.reset", capabilityID,
		map[string]any{"found": ok}); err != nil {
		r.logger.Warn("audit record failed", "action", "breaker.reset", "error", err)
	}
	return ok
}

// CleanupCircuitBreakers sweeps breakers idle longer than maxIdle and
// audit-logs the sweep. Returns how many were removed.
func (r *Router) CleanupCircuitBreakers(ctx context.Context, operator string, maxIdle time.Duration) int {
	removed := r.breakers.Cleanup(maxIdle)
	if err := r.auditor.Record(ctx, operator, audit.EventOperator, "breaker.cleanup", "",
		map[string]any{"removed": removed, "max_idle": maxIdle.String()}); err != nil {
		r.logger.Warn("audit record failed", "action", "breaker.cleanup", "error", err)
	}
	return removed
}

// Sweep drops expired response and burst cache entries and pending prefetch
// marks. Intended to run from a periodic driver outside the dispatch path.
func (r *Router) Sweep() {
	r.respCache.Sweep()
	r.burst.Sweep()
	r.prefetcher.Sweep()
}
