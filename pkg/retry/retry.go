// Package retry wraps a single executor call with bounded retries and a
// per-attempt deadline. Deadlines are a race: losing abandons the underlying
// call rather than cancelling it, and late completions are dropped so at most
// one result is ever observed per attempt.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/TheQuantumChronicle/cap402-sub002/pkg/capability"
)

const (
	DefaultMaxAttempts    = 3
	DefaultAttemptTimeout = 30 * time.Second
	DefaultBaseBackoff    = 100 * time.Millisecond
	// jitterFraction bounds the one-sided random jitter added to each
	// backoff delay: delay in [base*2^(k-1), base*2^(k-1)*1.3].
	jitterFraction = 0.3
)

// AttemptFunc performs one executor attempt.
type AttemptFunc func(ctx context.Context) (*capability.ExecutionOutcome, error)

// Engine executes attempts under the configured bounds.
type Engine struct {
	maxAttempts    int
	attemptTimeout time.Duration
	baseBackoff    time.Duration
	sleep          func(ctx context.Context, d time.Duration) error
	jitter         func() float64
	logger         *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

func WithMaxAttempts(n int) Option {
	return func(e *Engine) { e.maxAttempts = n }
}

func WithAttemptTimeout(d time.Duration) Option {
	return func(e *Engine) { e.attemptTimeout = d }
}

func WithBaseBackoff(d time.Duration) Option {
	return func(e *Engine) { e.baseBackoff = d }
}

// WithSleeper injects the inter-attempt delay function for tests.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) { e.sleep = sleep }
}

// WithJitterSource injects the [0,1) jitter source for tests.
func WithJitterSource(f func() float64) Option {
	return func(e *Engine) { e.jitter = f }
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		maxAttempts:    DefaultMaxAttempts,
		attemptTimeout: DefaultAttemptTimeout,
		baseBackoff:    DefaultBaseBackoff,
		sleep:          sleepCtx,
		jitter:         rand.Float64,
		logger:         slog.Default().With("component", "retry"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Backoff returns the delay before attempt k (1-based counting of completed
// attempts): base*2^(k-1) plus up to 30% one-sided jitter.
func (e *Engine) Backoff(attempt int) time.Duration {
	base := e.baseBackoff << (attempt - 1)
	return base + time.Duration(e.jitter()*jitterFraction*float64(base))
}

// Execute runs fn up to maxAttempts times. Caller faults return immediately
// without consuming retries; timeouts are treated as transient. The returned
// error, when non-nil, carries the attempt count and the last failure.
func (e *Engine) Execute(ctx context.Context, capabilityID string, fn AttemptFunc) (*capability.ExecutionOutcome, *capability.InvocationError) {
	var lastErr *capability.InvocationError

	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		outcome, err := e.runAttempt(ctx, fn)
		if err == nil && outcome != nil && outcome.Success {
			return outcome, nil
		}
		if err == nil && outcome != nil {
			err = outcome.Err
		}

		switch {
		case err == nil:
			// Executor reported failure without an error value.
			lastErr = capability.NewTransientError(errUnspecified, attempt)
		case capability.IsCallerFault(err):
			ie := capability.NewCallerError("%s", err.Error())
			ie.Attempts = attempt
			return nil, ie
		default:
			var ie *capability.InvocationError
			if errors.As(err, &ie) {
				lastErr = ie
				lastErr.Attempts = attempt
			} else {
				lastErr = capability.NewTransientError(err, attempt)
			}
		}

		if attempt == e.maxAttempts {
			break
		}
		delay := e.Backoff(attempt)
		e.logger.Debug("attempt failed, backing off",
			"capability", capabilityID, "attempt", attempt, "delay", delay, "error", lastErr.Message)
		if serr := e.sleep(ctx, delay); serr != nil {
			lastErr.Attempts = attempt
			return nil, lastErr
		}
	}

	lastErr.Attempts = e.maxAttempts
	return nil, lastErr
}

type attemptResult struct {
	outcome *capability.ExecutionOutcome
	err     error
}

// runAttempt races fn against the attempt deadline. The buffered channel
// lets an abandoned call finish without blocking or being observed.
func (e *Engine) runAttempt(ctx context.Context, fn AttemptFunc) (*capability.ExecutionOutcome, error) {
	done := make(chan attemptResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- attemptResult{err: capability.NewTransientError(panicError{r}, 0)}
			}
		}()
		outcome, err := fn(ctx)
		done <- attemptResult{outcome: outcome, err: err}
	}()

	timer := time.NewTimer(e.attemptTimeout)
	defer timer.Stop()
	select {
	case res := <-done:
		return res.outcome, res.err
	case <-timer.C:
		return nil, capability.NewTimeoutError(e.attemptTimeout)
	case <-ctx.Done():
		return nil, capability.NewTimeoutError(e.attemptTimeout)
	}
}

type staticError string

func (e staticError) Error() string { return string(e) }

const errUnspecified = staticError("executor reported failure without error detail")

type panicError struct{ v any }

func (e panicError) Error() string { return "executor panic recovered" }
