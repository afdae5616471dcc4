package router

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/TheQuantumChronicle/cap402-sub002/pkg/capability"
)

// BatchResult aggregates a fan-out invocation.
type BatchResult struct {
	Results   []*capability.InvocationResult `json:"results"`
	Succeeded int                            `json:"succeeded"`
	Failed    int                            `json:"failed"`
	// MaxParallel is the peak number of invocations observed in flight,
	// reported so callers can verify fan-out actually happened.
	MaxParallel int `json:"max_parallel"`
}

// BatchInvoke dispatches every request concurrently. Individual failures
// stay inside their slot; the batch itself never fails.
func (r *Router) BatchInvoke(ctx context.Context, reqs []*capability.InvocationRequest) *BatchResult {
	results := make([]*capability.InvocationResult, len(reqs))
	var active, peak atomic.Int64

	var g errgroup.Group
	for i, req := range reqs {
		g.Go(func() error {
			cur := active.Add(1)
			for {
				p := peak.Load()
				if cur <= p || peak.CompareAndSwap(p, cur) {
					break
				}
			}
			defer active.Add(-1)
			results[i] = r.Invoke(ctx, req)
			return nil
		})
	}
	_ = g.Wait()

	batch := &BatchResult{Results: results, MaxParallel: int(peak.Load())}
	for _, res := range results {
		if res != nil && res.Success {
			batch.Succeeded++
		} else {
			batch.Failed++
		}
	}
	return batch
}

// QueuedInvoke admits the request through the priority scheduler and returns
// its completion handle. The channel receives exactly one result.
func (r *Router) QueuedInvoke(ctx context.Context, req *capability.InvocationRequest, priority capability.Priority) <-chan *capability.InvocationResult {
	return r.scheduler.Enqueue(ctx, req, priority)
}
