// Package sched bounds global concurrency and orders pending work by
// priority. Equal priorities dispatch in enqueue order; running work is
// never preempted.
package sched

import (
	"container/heap"
	"context"
	"time"

	"github.com/TheQuantumChronicle/cap402-sub002/pkg/capability"
)

// queuedRequest is one pending unit of work plus its completion handle.
type queuedRequest struct {
	ctx        context.Context
	req        *capability.InvocationRequest
	priority   capability.Priority
	enqueuedAt time.Time
	seq        uint64
	done       chan *capability.InvocationResult
	index      int
}

// requestHeap orders by (priority rank, enqueue time, arrival sequence).
// The sequence keeps ordering stable when clocks tie.
type requestHeap []*queuedRequest

func (h requestHeap) Len() int { return len(h) }

func (h requestHeap) Less(i, j int) bool {
	ri, rj := h[i].priority.Rank(), h[j].priority.Rank()
	if ri != rj {
		return ri < rj
	}
	if !h[i].enqueuedAt.Equal(h[j].enqueuedAt) {
		return h[i].enqueuedAt.Before(h[j].enqueuedAt)
	}
	return h[i].seq < h[j].seq
}

func (h requestHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *requestHeap) Push(x any) {
	qr := x.(*queuedRequest)
	qr.index = len(*h)
	*h = append(*h, qr)
}

func (h *requestHeap) Pop() any {
	old := *h
	n := len(old)
	qr := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return qr
}

var _ heap.Interface = (*requestHeap)(nil)
