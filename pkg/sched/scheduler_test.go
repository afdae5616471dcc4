package sched

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheQuantumChronicle/cap402-sub002/pkg/capability"
)

func req(id string) *capability.InvocationRequest {
	return &capability.InvocationRequest{CapabilityID: id, Inputs: map[string]any{}}
}

func TestScheduler_PriorityOrderingAtConcurrencyOne(t *testing.T) {
	var mu sync.Mutex
	var order []string
	blocker := make(chan struct{})

	task := func(_ context.Context, r *capability.InvocationRequest) *capability.InvocationResult {
		if r.CapabilityID == "blocker" {
			<-blocker
		} else {
			mu.Lock()
			order = append(order, r.CapabilityID)
			mu.Unlock()
		}
		return &capability.InvocationResult{Success: true, CapabilityID: r.CapabilityID}
	}

	s := NewScheduler(task, WithMaxConcurrent(1))

	// Occupy the single slot so the next five stay pending.
	blockerDone := s.Enqueue(context.Background(), req("blocker"), capability.PriorityCritical)

	var handles []<-chan *capability.InvocationResult
	enqueue := func(id string, p capability.Priority) {
		handles = append(handles, s.Enqueue(context.Background(), req(id), p))
		time.Sleep(2 * time.Millisecond) // distinct enqueue times
	}
	enqueue("low-1", capability.PriorityLow)
	enqueue("critical-1", capability.PriorityCritical)
	enqueue("normal-1", capability.PriorityNormal)
	enqueue("critical-2", capability.PriorityCritical)
	enqueue("low-2", capability.PriorityLow)

	close(blocker)
	<-blockerDone
	for _, h := range handles {
		res := <-h
		require.True(t, res.Success)
	}

	assert.Equal(t,
		[]string{"critical-1", "critical-2", "normal-1", "low-1", "low-2"},
		order,
		"criticals in enqueue order, then normal, then lows in enqueue order")
}

func TestScheduler_RespectsConcurrencyCeiling(t *testing.T) {
	var mu sync.Mutex
	running, peak := 0, 0
	release := make(chan struct{})

	task := func(context.Context, *capability.InvocationRequest) *capability.InvocationResult {
		mu.Lock()
		running++
		if running > peak {
			peak = running
		}
		mu.Unlock()
		<-release
		mu.Lock()
		running--
		mu.Unlock()
		return &capability.InvocationResult{Success: true}
	}

	s := NewScheduler(task, WithMaxConcurrent(3))
	var handles []<-chan *capability.InvocationResult
	for i := 0; i < 10; i++ {
		handles = append(handles, s.Enqueue(context.Background(), req("cap"), capability.PriorityNormal))
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	for _, h := range handles {
		<-h
	}

	assert.Equal(t, 3, peak, "active work must never exceed the ceiling")
}

func TestScheduler_CancelledWhileQueued(t *testing.T) {
	release := make(chan struct{})
	task := func(context.Context, *capability.InvocationRequest) *capability.InvocationResult {
		<-release
		return &capability.InvocationResult{Success: true}
	}
	s := NewScheduler(task, WithMaxConcurrent(1))

	first := s.Enqueue(context.Background(), req("a"), capability.PriorityNormal)
	ctx, cancel := context.WithCancel(context.Background())
	second := s.Enqueue(ctx, req("b"), capability.PriorityNormal)
	cancel()
	close(release)

	<-first
	res := <-second
	assert.False(t, res.Success)
	require.NotNil(t, res.Err)
}

func TestEscalate_AdvisoryChain(t *testing.T) {
	cases := []struct {
		p      capability.Priority
		waited time.Duration
		want   capability.Priority
	}{
		{capability.PriorityLow, 4 * time.Second, capability.PriorityLow},
		{capability.PriorityLow, 6 * time.Second, capability.PriorityNormal},
		{capability.PriorityLow, 11 * time.Second, capability.PriorityHigh},
		{capability.PriorityLow, 16 * time.Second, capability.PriorityCritical},
		{capability.PriorityNormal, 9 * time.Second, capability.PriorityNormal},
		{capability.PriorityNormal, 10 * time.Second, capability.PriorityHigh},
		{capability.PriorityHigh, 15 * time.Second, capability.PriorityCritical},
		{capability.PriorityCritical, time.Hour, capability.PriorityCritical},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Escalate(tc.p, tc.waited), "%s waited %s", tc.p, tc.waited)
	}
}

func TestScheduler_SnapshotReportsEscalation(t *testing.T) {
	clock := time.Unix(1700000000, 0)
	now := clock
	task := func(context.Context, *capability.InvocationRequest) *capability.InvocationResult {
		select {} // never completes; keeps the slot busy
	}
	s := NewScheduler(task, WithMaxConcurrent(1), WithClock(func() time.Time { return now }))

	s.Enqueue(context.Background(), req("busy"), capability.PriorityCritical)
	s.Enqueue(context.Background(), req("waiting"), capability.PriorityLow)
	time.Sleep(10 * time.Millisecond) // let the drain goroutine start the first task

	now = clock.Add(6 * time.Second)
	snap := s.Snapshot()
	assert.Equal(t, 1, snap.Active)
	require.Len(t, snap.Pending, 1)
	assert.Equal(t, capability.PriorityLow, snap.Pending[0].Priority)
	assert.Equal(t, capability.PriorityNormal, snap.Pending[0].Effective)
}
