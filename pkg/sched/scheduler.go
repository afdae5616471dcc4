package sched

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/TheQuantumChronicle/cap402-sub002/pkg/capability"
)

const DefaultMaxConcurrent = 10

// Escalation thresholds: a request waiting past each threshold is reported
// one priority higher. Advisory only; dispatch order is not re-sorted.
const (
	escalateLowAfter    = 5 * time.Second
	escalateNormalAfter = 10 * time.Second
	escalateHighAfter   = 15 * time.Second
)

// Task executes one admitted request.
type Task func(ctx context.Context, req *capability.InvocationRequest) *capability.InvocationResult

// Scheduler admits requests under a global concurrency ceiling, draining the
// pending heap from the front whenever capacity frees up.
type Scheduler struct {
	mu            sync.Mutex
	pending       requestHeap
	active        int
	maxConcurrent int
	seq           uint64
	task          Task
	now           func() time.Time
	logger        *slog.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMaxConcurrent overrides the global concurrency ceiling.
func WithMaxConcurrent(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxConcurrent = n
		}
	}
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func NewScheduler(task Task, opts ...Option) *Scheduler {
	s := &Scheduler{
		maxConcurrent: DefaultMaxConcurrent,
		task:          task,
		now:           time.Now,
		logger:        slog.Default().With("component", "scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enqueue admits a request at the given priority and returns its completion
// handle. The channel receives exactly one result.
func (s *Scheduler) Enqueue(ctx context.Context, req *capability.InvocationRequest, priority capability.Priority) <-chan *capability.InvocationResult {
	qr := &queuedRequest{
		ctx:      ctx,
		req:      req,
		priority: priority,
		done:     make(chan *capability.InvocationResult, 1),
	}

	s.mu.Lock()
	s.seq++
	qr.seq = s.seq
	qr.enqueuedAt = s.now()
	heap.Push(&s.pending, qr)
	s.drainLocked()
	s.mu.Unlock()

	return qr.done
}

// drainLocked dispatches from the front of the heap while capacity remains.
func (s *Scheduler) drainLocked() {
	for s.active < s.maxConcurrent && s.pending.Len() > 0 {
		qr := heap.Pop(&s.pending).(*queuedRequest)
		s.active++
		go s.run(qr)
	}
}

func (s *Scheduler) run(qr *queuedRequest) {
	defer func() {
		s.mu.Lock()
		s.active--
		s.drainLocked()
		s.mu.Unlock()
	}()

	if err := qr.ctx.Err(); err != nil {
		qr.done <- &capability.InvocationResult{
			Success:      false,
			CapabilityID: qr.req.CapabilityID,
			Err:          capability.NewTransientError(err, 0),
		}
		return
	}
	qr.done <- s.task(qr.ctx, qr.req)
}

// Escalate returns the advisory priority for a request of priority p that
// has waited for the given duration. Escalation chains: a low request that
// has waited past every threshold reports as critical.
func Escalate(p capability.Priority, waited time.Duration) capability.Priority {
	if p == capability.PriorityLow && waited >= escalateLowAfter {
		p = capability.PriorityNormal
	}
	if p == capability.PriorityNormal && waited >= escalateNormalAfter {
		p = capability.PriorityHigh
	}
	if p == capability.PriorityHigh && waited >= escalateHighAfter {
		p = capability.PriorityCritical
	}
	return p
}

// PendingInfo describes one queued request for status reporting.
type PendingInfo struct {
	CapabilityID string              `json:"capability_id"`
	Priority     capability.Priority `json:"priority"`
	Effective    capability.Priority `json:"effective_priority"`
	Waited       time.Duration       `json:"waited"`
}

// Stats is a point-in-time scheduler view.
type Stats struct {
	Active  int           `json:"active"`
	Ceiling int           `json:"ceiling"`
	Pending []PendingInfo `json:"pending"`
}

// Snapshot reports active count and the pending set with advisory escalated
// priorities, computed on demand.
func (s *Scheduler) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	pending := make([]PendingInfo, 0, s.pending.Len())
	for _, qr := range s.pending {
		waited := now.Sub(qr.enqueuedAt)
		pending = append(pending, PendingInfo{
			CapabilityID: qr.req.CapabilityID,
			Priority:     qr.priority,
			Effective:    Escalate(qr.priority, waited),
			Waited:       waited,
		})
	}
	return Stats{Active: s.active, Ceiling: s.maxConcurrent, Pending: pending}
}
