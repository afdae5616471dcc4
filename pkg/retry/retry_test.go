package retry

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheQuantumChronicle/cap402-sub002/pkg/capability"
)

// recordingSleeper captures backoff delays instead of sleeping.
type recordingSleeper struct {
	delays []time.Duration
}

func (s *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

func newTestEngine(sleeper *recordingSleeper, opts ...Option) *Engine {
	base := []Option{
		WithMaxAttempts(3),
		WithBaseBackoff(100 * time.Millisecond),
		WithAttemptTimeout(time.Second),
		WithSleeper(sleeper.sleep),
	}
	return NewEngine(append(base, opts...)...)
}

func TestExecute_SuccessFirstAttempt(t *testing.T) {
	sleeper := &recordingSleeper{}
	e := newTestEngine(sleeper)

	var calls int32
	outcome, ierr := e.Execute(context.Background(), "price.lookup", func(ctx context.Context) (*capability.ExecutionOutcome, error) {
		atomic.AddInt32(&calls, 1)
		return &capability.ExecutionOutcome{Success: true, Outputs: map[string]any{"price": 42.0}}, nil
	})

	require.Nil(t, ierr)
	require.NotNil(t, outcome)
	assert.EqualValues(t, 1, calls)
	assert.Empty(t, sleeper.delays)
}

func TestExecute_AlwaysFailingConsumesExactlyMaxAttempts(t *testing.T) {
	sleeper := &recordingSleeper{}
	e := newTestEngine(sleeper)

	var calls int32
	_, ierr := e.Execute(context.Background(), "price.lookup", func(ctx context.Context) (*capability.ExecutionOutcome, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("upstream unavailable")
	})

	require.NotNil(t, ierr)
	assert.Equal(t, capability.ErrTransient, ierr.Kind)
	assert.Equal(t, 3, ierr.Attempts)
	assert.EqualValues(t, 3, calls)
	assert.Contains(t, ierr.Message, "upstream unavailable")
}

func TestExecute_BackoffDelaysWithinJitterWindow(t *testing.T) {
	sleeper := &recordingSleeper{}
	e := newTestEngine(sleeper)

	_, _ = e.Execute(context.Background(), "price.lookup", func(ctx context.Context) (*capability.ExecutionOutcome, error) {
		return nil, errors.New("flaky")
	})

	require.Len(t, sleeper.delays, 2, "max_attempts=3 means two inter-attempt delays")
	base := 100 * time.Millisecond
	for k, delay := range sleeper.delays {
		lower := base << k
		upper := time.Duration(float64(lower) * 1.3)
		assert.GreaterOrEqual(t, delay, lower, "delay %d below 2^k floor", k)
		assert.LessOrEqual(t, delay, upper, "delay %d above 30%% jitter ceiling", k)
	}
}

func TestExecute_CallerFaultNotRetried(t *testing.T) {
	sleeper := &recordingSleeper{}
	e := newTestEngine(sleeper)

	var calls int32
	_, ierr := e.Execute(context.Background(), "price.lookup", func(ctx context.Context) (*capability.ExecutionOutcome, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("missing required input: symbol")
	})

	require.NotNil(t, ierr)
	assert.Equal(t, capability.ErrCaller, ierr.Kind)
	assert.EqualValues(t, 1, calls, "caller faults must not consume retries")
	assert.Empty(t, sleeper.delays)
}

func TestExecute_TimeoutTreatedAsTransient(t *testing.T) {
	sleeper := &recordingSleeper{}
	e := newTestEngine(sleeper, WithAttemptTimeout(20*time.Millisecond))

	var calls int32
	_, ierr := e.Execute(context.Background(), "slow.cap", func(ctx context.Context) (*capability.ExecutionOutcome, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(200 * time.Millisecond)
		return &capability.ExecutionOutcome{Success: true}, nil
	})

	require.NotNil(t, ierr)
	assert.Equal(t, capability.ErrTimeout, ierr.Kind)
	assert.EqualValues(t, 3, calls, "timeouts are transient and retried")
}

func TestExecute_LateCompletionIgnored(t *testing.T) {
	sleeper := &recordingSleeper{}
	e := newTestEngine(sleeper, WithMaxAttempts(1), WithAttemptTimeout(20*time.Millisecond))

	release := make(chan struct{})
	outcome, ierr := e.Execute(context.Background(), "slow.cap", func(ctx context.Context) (*capability.ExecutionOutcome, error) {
		<-release
		return &capability.ExecutionOutcome{Success: true}, nil
	})
	close(release)

	// The abandoned call completing later must not change the observed
	// result.
	assert.Nil(t, outcome)
	require.NotNil(t, ierr)
	assert.Equal(t, capability.ErrTimeout, ierr.Kind)
}

func TestExecute_FailedOutcomeWithoutErrorRetried(t *testing.T) {
	sleeper := &recordingSleeper{}
	e := newTestEngine(sleeper)

	var calls int32
	_, ierr := e.Execute(context.Background(), "price.lookup", func(ctx context.Context) (*capability.ExecutionOutcome, error) {
		atomic.AddInt32(&calls, 1)
		return &capability.ExecutionOutcome{Success: false}, nil
	})

	require.NotNil(t, ierr)
	assert.Equal(t, capability.ErrTransient, ierr.Kind)
	assert.EqualValues(t, 3, calls)
}

func TestExecute_WrappedInvocationErrorKeepsKind(t *testing.T) {
	sleeper := &recordingSleeper{}
	e := newTestEngine(sleeper, WithMaxAttempts(1))

	_, ierr := e.Execute(context.Background(), "slow.cap", func(ctx context.Context) (*capability.ExecutionOutcome, error) {
		return nil, fmt.Errorf("bulkhead wait: %w", capability.NewTimeoutError(time.Second))
	})

	require.NotNil(t, ierr)
	assert.Equal(t, capability.ErrTimeout, ierr.Kind, "wrapping must not erase the error kind")
	assert.Equal(t, 1, ierr.Attempts)
}

func TestExecute_RecoversExecutorPanic(t *testing.T) {
	sleeper := &recordingSleeper{}
	e := newTestEngine(sleeper, WithMaxAttempts(2))

	_, ierr := e.Execute(context.Background(), "bad.cap", func(ctx context.Context) (*capability.ExecutionOutcome, error) {
		panic("executor bug")
	})
	require.NotNil(t, ierr)
	assert.Equal(t, capability.ErrTransient, ierr.Kind)
}
