package policy

import (
	"context"
	"log/slog"

	"github.com/TheQuantumChronicle/cap402-sub002/pkg/audit"
	"github.com/TheQuantumChronicle/cap402-sub002/pkg/capability"
)

// Invoker executes one invocation through the orchestrator. Declared here so
// the policy layer sits above the orchestrator without importing it.
type Invoker interface {
	Invoke(ctx context.Context, req *capability.InvocationRequest) *capability.InvocationResult
}

// ProofSink persists sealed compliance proofs.
type ProofSink interface {
	Save(ctx context.Context, proof *ComplianceProof) error
}

// Router checks a caller-declared policy, selects the cheapest compliant
// route, executes it, and returns a replayable ComplianceProof alongside the
// result.
type Router struct {
	registry capability.Registry
	invoker  Invoker
	builder  *RouteBuilder
	eval     *ExpressionEvaluator
	proofs   ProofSink
	auditor  audit.Logger
	logger   *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithProofSink persists sealed proofs; without it proofs are only
// returned.
func WithProofSink(sink ProofSink) Option {
	return func(r *Router) { r.proofs = sink }
}

// WithAuditor records policy decisions to an audit trail.
func WithAuditor(a audit.Logger) Option {
	return func(r *Router) { r.auditor = a }
}

func NewRouter(registry capability.Registry, invoker Invoker, opts ...Option) (*Router, error) {
	eval, err := NewExpressionEvaluator()
	if err != nil {
		return nil, err
	}
	r := &Router{
		registry: registry,
		invoker:  invoker,
		builder:  NewRouteBuilder(),
		eval:     eval,
		auditor:  audit.Nop(),
		logger:   slog.Default().With("component", "policy_router"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// ExecuteWithPolicy runs the request under the declared policy. Every check
// is recorded as a proof step; a failed validation short-circuits before
// execution, surfacing every violated constraint at once.
func (r *Router) ExecuteWithPolicy(ctx context.Context, req *capability.InvocationRequest, pol *Policy) (*capability.InvocationResult, *ComplianceProof) {
	proof := newProof(req.CapabilityID, req.CallerID())

	c, ok := r.registry.Get(req.CapabilityID)
	if !ok {
		proof.addStep(StepPolicyValidation, false, map[string]any{
			"violations": []string{"unknown capability: " + req.CapabilityID},
		})
		return r.finish(ctx, proof, failedResult(req,
			capability.NewCallerError("unknown capability: %s", req.CapabilityID)))
	}

	violations := pol.Validate(c, r.eval)
	proof.addStep(StepPolicyValidation, len(violations) == 0, map[string]any{
		"violations": violations,
	})
	if len(violations) > 0 {
		return r.finish(ctx, proof, failedResult(req, capability.NewPolicyViolationError(violations)))
	}

	candidates := r.builder.Build(c)
	b := pol.bounds()
	chosen, rejections := pol.selectRoute(candidates, b, r.eval)
	proof.addStep(StepRouteSelection, chosen != nil, map[string]any{
		"candidates": len(candidates),
		"rejections": rejections,
		"route":      chosen,
	})

	if chosen == nil && pol.AllowFallback {
		relaxed := b.relaxed()
		chosen, rejections = pol.selectRoute(candidates, relaxed, r.eval)
		proof.addStep(StepFallback, chosen != nil, map[string]any{
			"cost_factor":    fallbackCostFactor,
			"latency_factor": fallbackLatencyFactor,
			"rejections":     rejections,
			"route":          chosen,
		})
	}
	if chosen == nil {
		reasons := append([]string{"no compliant route"}, rejections...)
		return r.finish(ctx, proof, failedResult(req, capability.NewPolicyViolationError(reasons)))
	}

	routed := *req
	if chosen.Privacy == capability.PrivacyConfidential {
		prefs := capability.Preferences{}
		if req.Preferences != nil {
			prefs = *req.Preferences
		}
		prefs.Confidential = true
		routed.Preferences = &prefs
	}

	result := r.invoker.Invoke(ctx, &routed)
	details := map[string]any{
		"success":  result.Success,
		"attempts": result.Metadata.Attempts,
	}
	if result.Err != nil {
		details["error"] = result.Err.Error()
	}
	proof.addStep(StepExecution, result.Success, details)
	proof.RequestID = result.RequestID

	return r.finish(ctx, proof, result)
}

// finish seals the proof, persists it best-effort, and audit-logs the
// decision. Sink and audit failures never fail the invocation.
func (r *Router) finish(ctx context.Context, proof *ComplianceProof, result *capability.InvocationResult) (*capability.InvocationResult, *ComplianceProof) {
	if err := proof.Seal(); err != nil {
		r.logger.Warn("proof seal failed", "capability", proof.CapabilityID, "error", err)
	}
	if r.proofs != nil {
		if err := r.proofs.Save(ctx, proof); err != nil {
			r.logger.Warn("proof persistence failed", "proof", proof.ID, "error", err)
		}
	}
	passed := true
	for _, s := range proof.Steps {
		if !s.Passed {
			passed = false
			break
		}
	}
	if err := r.auditor.Record(ctx, proof.CallerID, audit.EventPolicy, "policy.execute", proof.CapabilityID,
		map[string]any{"proof_id": proof.ID, "passed": passed, "steps": len(proof.Steps)}); err != nil {
		r.logger.Warn("audit record failed", "proof", proof.ID, "error", err)
	}
	return result, proof
}

func failedResult(req *capability.InvocationRequest, ierr *capability.InvocationError) *capability.InvocationResult {
	return &capability.InvocationResult{
		Success:      false,
		CapabilityID: req.CapabilityID,
		Err:          ierr,
	}
}
