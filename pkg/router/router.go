// Package router is the invocation orchestrator: one dispatch point that
// composes caching, coalescing, circuit breaking, retries, bulkheads,
// scheduling and usage-pattern prefetch around pluggable executors.
package router

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/TheQuantumChronicle/cap402-sub002/pkg/audit"
	"github.com/TheQuantumChronicle/cap402-sub002/pkg/breaker"
	"github.com/TheQuantumChronicle/cap402-sub002/pkg/cache"
	"github.com/TheQuantumChronicle/cap402-sub002/pkg/canonical"
	"github.com/TheQuantumChronicle/cap402-sub002/pkg/capability"
	"github.com/TheQuantumChronicle/cap402-sub002/pkg/coalesce"
	"github.com/TheQuantumChronicle/cap402-sub002/pkg/learner"
	"github.com/TheQuantumChronicle/cap402-sub002/pkg/observability"
	"github.com/TheQuantumChronicle/cap402-sub002/pkg/retry"
	"github.com/TheQuantumChronicle/cap402-sub002/pkg/sched"
)

const (
	// DefaultCacheTTL seeds each capability's adaptive TTL.
	DefaultCacheTTL = 10 * time.Second
	// defaultBulkheadLimit is the per-pool concurrency ceiling for executor
	// calls, one pool per capability type.
	defaultBulkheadLimit = 8
	bulkheadDefaultPool  = "default"
)

// Router dispatches capability invocations through the full pipeline. Each
// Router owns its component state; instances are independent.
type Router struct {
	registry   capability.Registry
	validator  *capability.Validator
	executors  []Executor
	breakers   *breaker.Bank
	retrier    *retry.Engine
	respCache  *cache.ResponseCache
	burst      *cache.BurstCache
	coalescer  *coalesce.Coalescer
	learner    *learner.Learner
	prefetcher *learner.Prefetcher
	scheduler  *sched.Scheduler
	bulkheads  *sched.Bulkheads
	health     *HealthMonitor
	telemetry  *observability.Provider
	settlement SettlementEmitter
	auditor    audit.Logger
	logger     *slog.Logger

	cacheTTL      time.Duration
	maxConcurrent int
}

// Option configures a Router.
type Option func(*Router)

// WithExecutors installs the executor chain. Selection takes the first
// executor claiming a capability, in the given order.
func WithExecutors(executors ...Executor) Option {
	return func(r *Router) { r.executors = append(r.executors, executors...) }
}

// WithBreakerBank replaces the default breaker bank, for tuned thresholds.
func WithBreakerBank(b *breaker.Bank) Option {
	return func(r *Router) { r.breakers = b }
}

// WithRetryEngine replaces the default retry engine.
func WithRetryEngine(e *retry.Engine) Option {
	return func(r *Router) { r.retrier = e }
}

// WithCacheStore selects the response cache backend (memory by default,
// Redis for shared deployments).
func WithCacheStore(store cache.Store) Option {
	return func(r *Router) { r.respCache = cache.NewResponseCache(store, r.cacheTTL) }
}

// WithCacheTTL seeds the adaptive TTL. Must precede WithCacheStore when both
// are given.
func WithCacheTTL(ttl time.Duration) Option {
	return func(r *Router) {
		r.cacheTTL = ttl
		r.respCache = nil
	}
}

// WithMaxConcurrent sets the queued-invocation ceiling.
func WithMaxConcurrent(n int) Option {
	return func(r *Router) { r.maxConcurrent = n }
}

// WithTelemetry installs an observability provider.
func WithTelemetry(p *observability.Provider) Option {
	return func(r *Router) { r.telemetry = p }
}

// WithSettlementEmitter installs the settlement signal sink.
func WithSettlementEmitter(e SettlementEmitter) Option {
	return func(r *Router) { r.settlement = e }
}

// WithAuditor records operator actions to an audit trail.
func WithAuditor(a audit.Logger) Option {
	return func(r *Router) { r.auditor = a }
}

func NewRouter(registry capability.Registry, opts ...Option) *Router {
	r := &Router{
		registry:      registry,
		validator:     capability.NewValidator(),
		burst:         cache.NewBurstCache(cache.DefaultBurstTTL),
		coalescer:     coalesce.New(),
		learner:       learner.New(),
		bulkheads:     sched.NewBulkheads(),
		health:        NewHealthMonitor(),
		auditor:       audit.Nop(),
		logger:        slog.Default().With("component", "router"),
		cacheTTL:      DefaultCacheTTL,
		maxConcurrent: sched.DefaultMaxConcurrent,
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.breakers == nil {
		r.breakers = breaker.NewBank()
	}
	if r.retrier == nil {
		r.retrier = retry.NewEngine()
	}
	if r.respCache == nil {
		r.respCache = cache.NewResponseCache(nil, r.cacheTTL)
	}
	if r.telemetry == nil {
		// A disabled provider keeps every telemetry call inert.
		r.telemetry, _ = observability.New(context.Background(), &observability.Config{Enabled: false})
	}

	for _, t := range []capability.Type{capability.TypeCompute, capability.TypeData, capability.TypeSwap, capability.TypeProof} {
		_ = r.bulkheads.Register(string(t), defaultBulkheadLimit)
	}
	_ = r.bulkheads.Register(bulkheadDefaultPool, defaultBulkheadLimit)

	r.prefetcher = learner.NewPrefetcher(r.learner, r.warmCapability)
	r.scheduler = sched.NewScheduler(func(ctx context.Context, req *capability.InvocationRequest) *capability.InvocationResult {
		return r.Invoke(ctx, req)
	}, sched.WithMaxConcurrent(r.maxConcurrent))

	return r
}

// Invoke dispatches one request through the full pipeline and always returns
// a result; errors travel inside it.
func (r *Router) Invoke(ctx context.Context, req *capability.InvocationRequest) *capability.InvocationResult {
	return r.invoke(ctx, req, false)
}

func (r *Router) invoke(ctx context.Context, req *capability.InvocationRequest, speculative bool) *capability.InvocationResult {
	start := time.Now()
	requestID := uuid.New().String()
	ctx, finish := r.telemetry.TrackInvocation(ctx, req.CapabilityID)

	result := r.dispatch(ctx, requestID, req, speculative)
	result.RequestID = requestID
	result.Metadata.Duration = time.Since(start)

	var terminalErr error
	if result.Err != nil {
		terminalErr = result.Err
	}
	finish(terminalErr)

	if !speculative {
		errText := ""
		if result.Err != nil {
			errText = result.Err.Message
		}
		r.health.Report(req.CapabilityID, result.Success, result.Metadata.Duration, errText)
	}
	return result
}

// flight is the shared outcome of one coalesced execution.
type flight struct {
	outcome    *capability.ExecutionOutcome
	ierr       *capability.InvocationError
	attempts   int
	executorID string
}

func (r *Router) dispatch(ctx context.Context, requestID string, req *capability.InvocationRequest, speculative bool) *capability.InvocationResult {
	key, err := canonical.RequestKey(req.CapabilityID, req.Inputs)
	if err != nil {
		return failure(req, capability.NewCallerError("inputs are not canonicalizable: %v", err))
	}

	if cached, ok := r.respCache.Get(ctx, req.CapabilityID, key); ok {
		r.telemetry.RecordCacheHit(ctx)
		res := success(req, cached.Outputs)
		res.Metadata.CacheHit = true
		res.Metadata.Prefetched = r.prefetcher.IsPending(req.CapabilityID)
		return res
	}
	if outputs, ok := r.burst.Get(key); ok {
		r.telemetry.RecordCacheHit(ctx)
		res := success(req, outputs)
		res.Metadata.CacheHit = true
		return res
	}

	c, ok := r.registry.Get(req.CapabilityID)
	if !ok {
		return failure(req, capability.NewCallerError("capability not found: %s", req.CapabilityID))
	}
	if verr := r.validator.ValidateInputs(c, req.Inputs); verr != nil {
		return failure(req, verr)
	}

	v, shared, _ := r.coalescer.Do(key, func() (any, error) {
		return r.execute(ctx, requestID, c, req, key), nil
	})
	fl := v.(*flight)

	var res *capability.InvocationResult
	if fl.ierr != nil {
		res = failure(req, fl.ierr)
	} else {
		res = success(req, fl.outcome.Outputs)
	}
	res.Metadata.Attempts = fl.attempts
	res.Metadata.Coalesced = shared
	res.Metadata.ExecutorID = fl.executorID
	res.Metadata.Privacy = privacyFor(c, req)

	r.attachEconomics(res, c)

	if res.Success && !speculative {
		r.learner.Record(req.CallerID(), req.CapabilityID)
		if req.Preferences != nil && req.Preferences.Prefetch {
			r.prefetcher.After(ctx, req.CapabilityID)
		}
		r.emitSettlement(ctx, res, c, req)
	}
	return res
}

// execute runs once per coalesced flight: breaker gate, executor selection,
// retried execution inside the type's bulkhead, then breaker and cache
// bookkeeping.
func (r *Router) execute(ctx context.Context, requestID string, c *capability.Capability, req *capability.InvocationRequest, key string) *flight {
	exec := r.selectExecutor(c.ID)
	if exec == nil {
		return &flight{ierr: capability.NewCallerError("no executor can run capability %s", c.ID)}
	}

	if ok, rej := r.breakers.Allow(c.ID); !ok {
		return &flight{ierr: capability.NewCircuitOpenError(c.ID, rej.RetryAfter)}
	}

	ectx := &capability.ExecutionContext{
		RequestID:    requestID,
		CapabilityID: c.ID,
		Inputs:       req.Inputs,
		Capability:   c,
		Confidential: privacyFor(c, req) == capability.PrivacyConfidential,
	}

	var attempts atomic.Int64
	pool := r.poolFor(c.Type)
	outcome, ierr := r.retrier.Execute(ctx, c.ID, func(ctx context.Context) (*capability.ExecutionOutcome, error) {
		attempts.Add(1)
		var out *capability.ExecutionOutcome
		err := r.bulkheads.Do(ctx, pool, func(ctx context.Context) error {
			o, execErr := exec.Execute(ctx, ectx)
			out = o
			return execErr
		})
		return out, err
	})

	fl := &flight{
		outcome:    outcome,
		ierr:       ierr,
		attempts:   int(attempts.Load()),
		executorID: exec.ID(),
	}

	switch {
	case ierr == nil:
		r.breakers.Record(c.ID, true)
		if err := r.respCache.Put(ctx, c.ID, key, outcome.Outputs); err != nil {
			r.logger.Warn("response cache write failed", "capability", c.ID, "error", err)
		}
		r.burst.Put(key, outcome.Outputs)
	case ierr.Kind == capability.ErrCaller:
		// Caller faults say nothing about capability health; the breaker
		// only counts transient and timeout outcomes. The admitted slot is
		// released so a half-open probe is not consumed by one.
		r.breakers.Release(c.ID)
	default:
		r.breakers.Record(c.ID, false)
	}
	return fl
}

func (r *Router) selectExecutor(capabilityID string) Executor {
	for _, e := range r.executors {
		if e.CanExecute(capabilityID) {
			return e
		}
	}
	return nil
}

func (r *Router) poolFor(t capability.Type) string {
	switch t {
	case capability.TypeCompute, capability.TypeData, capability.TypeSwap, capability.TypeProof:
		return string(t)
	}
	return bulkheadDefaultPool
}

func (r *Router) attachEconomics(res *capability.InvocationResult, c *capability.Capability) {
	if c.Economics.BasePrice <= 0 && !c.Economics.PaymentSignal {
		return
	}
	hint := &capability.EconomicHint{
		EstimatedCost: c.Economics.BasePrice,
		Currency:      c.Economics.Currency,
		PaymentSignal: c.Economics.PaymentSignal,
	}
	if res.Metadata.Privacy == capability.PrivacyConfidential {
		hint.PrivacyNote = "settlement details withheld for confidential execution"
	}
	res.Metadata.EconomicHint = hint
}

// emitSettlement awaits the external signal but isolates every failure mode;
// the invocation result is already decided.
func (r *Router) emitSettlement(ctx context.Context, res *capability.InvocationResult, c *capability.Capability, req *capability.InvocationRequest) {
	if r.settlement == nil || !c.Economics.PaymentSignal {
		return
	}
	notice := &SettlementNotice{
		RequestID:     res.RequestID,
		CapabilityID:  c.ID,
		CallerID:      req.CallerID(),
		EstimatedCost: c.Economics.BasePrice,
		Currency:      c.Economics.Currency,
		Confidential:  res.Metadata.Privacy == capability.PrivacyConfidential,
		CompletedAt:   time.Now().UTC(),
	}

	outcome := &capability.SignalOutcome{}
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				outcome.Error = "settlement emitter panicked"
			}
		}()
		if err := r.settlement.Emit(ctx, notice); err != nil {
			outcome.Error = err.Error()
		} else {
			outcome.Emitted = true
		}
	}()
	if outcome.Error != "" {
		r.logger.Warn("settlement signal failed", "capability", c.ID, "error", outcome.Error)
	}
	res.Metadata.ExternalSignal = outcome
}

// warmCapability is the prefetcher's background warm: a speculative
// zero-input invocation whose only useful side effect is a cache fill.
func (r *Router) warmCapability(ctx context.Context, capabilityID string) {
	req := &capability.InvocationRequest{CapabilityID: capabilityID, Inputs: map[string]any{}}
	res := r.invoke(ctx, req, true)
	if !res.Success {
		r.logger.Debug("speculative warm failed", "capability", capabilityID, "error", res.Err)
	}
}

func privacyFor(c *capability.Capability, req *capability.InvocationRequest) capability.PrivacyLevel {
	if c.Privacy == capability.PrivacyConfidential {
		return capability.PrivacyConfidential
	}
	if req.Preferences != nil && req.Preferences.Confidential {
		return capability.PrivacyConfidential
	}
	return capability.PrivacyPublic
}

func success(req *capability.InvocationRequest, outputs map[string]any) *capability.InvocationResult {
	return &capability.InvocationResult{
		Success:      true,
		CapabilityID: req.CapabilityID,
		Outputs:      outputs,
	}
}

func failure(req *capability.InvocationRequest, ierr *capability.InvocationError) *capability.InvocationResult {
	return &capability.InvocationResult{
		Success:      false,
		CapabilityID: req.CapabilityID,
		Err:          ierr,
	}
}
