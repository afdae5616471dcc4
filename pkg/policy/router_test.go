package policy

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheQuantumChronicle/cap402-sub002/pkg/capability"
)

type stubInvoker struct {
	mu       sync.Mutex
	requests []*capability.InvocationRequest
	result   *capability.InvocationResult
}

func (s *stubInvoker) Invoke(_ context.Context, req *capability.InvocationRequest) *capability.InvocationResult {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	if s.result != nil {
		return s.result
	}
	return &capability.InvocationResult{
		Success:      true,
		RequestID:    "req-1",
		CapabilityID: req.CapabilityID,
		Outputs:      map[string]any{"ok": true},
		Metadata:     capability.ResultMetadata{Attempts: 1},
	}
}

type memorySink struct {
	mu     sync.Mutex
	proofs []*ComplianceProof
}

func (m *memorySink) Save(_ context.Context, p *ComplianceProof) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.proofs = append(m.proofs, p)
	return nil
}

func newTestRouter(t *testing.T, invoker Invoker, opts ...Option) *Router {
	t.Helper()
	reg := capability.NewInMemoryRegistry()
	require.NoError(t, reg.Register(swapCapability()))
	r, err := NewRouter(reg, invoker, opts...)
	require.NoError(t, err)
	return r
}

func stepNames(p *ComplianceProof) []string {
	names := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		names[i] = s.Step
	}
	return names
}

func TestExecuteWithPolicyHappyPath(t *testing.T) {
	invoker := &stubInvoker{}
	sink := &memorySink{}
	router := newTestRouter(t, invoker, WithProofSink(sink))

	req := &capability.InvocationRequest{CapabilityID: "cap.swap.v1", Inputs: map[string]any{"pair": "ETH/USDC"}}
	result, proof := router.ExecuteWithPolicy(context.Background(), req, &Policy{MaxCost: 10})

	require.True(t, result.Success)
	require.Len(t, invoker.requests, 1)

	assert.Equal(t, []string{StepPolicyValidation, StepRouteSelection, StepExecution}, stepNames(proof))
	for _, s := range proof.Steps {
		assert.True(t, s.Passed, s.Step)
	}
	assert.Equal(t, "req-1", proof.RequestID)
	assert.NotEmpty(t, proof.Digest)
	assert.NoError(t, proof.Verify())

	require.Len(t, sink.proofs, 1)
	assert.Equal(t, proof.ID, sink.proofs[0].ID)
}

func TestExecuteWithPolicyValidationShortCircuits(t *testing.T) {
	invoker := &stubInvoker{}
	router := newTestRouter(t, invoker)

	pol := &Policy{MaxCost: -5, MaxSlippage: 2}
	req := &capability.InvocationRequest{CapabilityID: "cap.swap.v1"}
	result, proof := router.ExecuteWithPolicy(context.Background(), req, pol)

	assert.False(t, result.Success)
	require.NotNil(t, result.Err)
	assert.Equal(t, capability.ErrPolicyViolation, result.Err.Kind)
	assert.Len(t, result.Err.Violations, 2)
	assert.Empty(t, invoker.requests)

	require.Equal(t, []string{StepPolicyValidation}, stepNames(proof))
	assert.False(t, proof.Steps[0].Passed)
	assert.NoError(t, proof.Verify())
}

func TestExecuteWithPolicyUnknownCapability(t *testing.T) {
	invoker := &stubInvoker{}
	router := newTestRouter(t, invoker)

	req := &capability.InvocationRequest{CapabilityID: "cap.missing"}
	result, proof := router.ExecuteWithPolicy(context.Background(), req, &Policy{})

	assert.False(t, result.Success)
	require.NotNil(t, result.Err)
	assert.Equal(t, capability.ErrCaller, result.Err.Kind)
	require.Len(t, proof.Steps, 1)
	assert.False(t, proof.Steps[0].Passed)
}

func TestExecuteWithPolicyFallbackRelaxation(t *testing.T) {
	invoker := &stubInvoker{}
	router := newTestRouter(t, invoker)

	// Ceiling 1.6 rejects the 2.0 public route strictly but admits it after
	// the single 1.5x relaxation.
	pol := &Policy{MaxCost: 1.6, AllowFallback: true}
	req := &capability.InvocationRequest{CapabilityID: "cap.swap.v1"}
	result, proof := router.ExecuteWithPolicy(context.Background(), req, pol)

	require.True(t, result.Success)
	assert.Equal(t, []string{StepPolicyValidation, StepRouteSelection, StepFallback, StepExecution}, stepNames(proof))
	assert.False(t, proof.Steps[1].Passed)
	assert.True(t, proof.Steps[2].Passed)
	assert.Equal(t, fallbackCostFactor, proof.Steps[2].Details["cost_factor"])
}

func TestExecuteWithPolicyNoCompliantRouteAfterFallback(t *testing.T) {
	invoker := &stubInvoker{}
	router := newTestRouter(t, invoker)

	pol := &Policy{MaxCost: 0.5, AllowFallback: true}
	req := &capability.InvocationRequest{CapabilityID: "cap.swap.v1"}
	result, proof := router.ExecuteWithPolicy(context.Background(), req, pol)

	assert.False(t, result.Success)
	require.NotNil(t, result.Err)
	assert.Equal(t, capability.ErrPolicyViolation, result.Err.Kind)
	assert.Contains(t, result.Err.Violations, "no compliant route")
	assert.Empty(t, invoker.requests)
	assert.Equal(t, []string{StepPolicyValidation, StepRouteSelection, StepFallback}, stepNames(proof))
}

func TestExecuteWithPolicyConfidentialRouteSetsPreference(t *testing.T) {
	invoker := &stubInvoker{}
	router := newTestRouter(t, invoker)

	pol := &Policy{MinPrivacy: capability.PrivacyConfidential, MaxCost: 10}
	req := &capability.InvocationRequest{
		CapabilityID: "cap.swap.v1",
		Preferences:  &capability.Preferences{CallerID: "agent-7"},
	}
	result, proof := router.ExecuteWithPolicy(context.Background(), req, pol)

	require.True(t, result.Success)
	require.Len(t, invoker.requests, 1)
	routed := invoker.requests[0]
	require.NotNil(t, routed.Preferences)
	assert.True(t, routed.Preferences.Confidential)
	assert.Equal(t, "agent-7", routed.Preferences.CallerID)

	// The submitted request is never mutated.
	assert.False(t, req.Preferences.Confidential)
	assert.Equal(t, "agent-7", proof.CallerID)
}

func TestExecuteWithPolicyExecutionFailureRecorded(t *testing.T) {
	invoker := &stubInvoker{result: &capability.InvocationResult{
		Success:      false,
		RequestID:    "req-9",
		CapabilityID: "cap.swap.v1",
		Err:          capability.NewTransientError(assert.AnError, 3),
		Metadata:     capability.ResultMetadata{Attempts: 3},
	}}
	router := newTestRouter(t, invoker)

	req := &capability.InvocationRequest{CapabilityID: "cap.swap.v1"}
	result, proof := router.ExecuteWithPolicy(context.Background(), req, &Policy{})

	assert.False(t, result.Success)
	last := proof.Steps[len(proof.Steps)-1]
	assert.Equal(t, StepExecution, last.Step)
	assert.False(t, last.Passed)
	assert.Equal(t, 3, last.Details["attempts"])
	assert.NotEmpty(t, last.Details["error"])
	assert.NoError(t, proof.Verify())
}

func TestProofVerifyDetectsTampering(t *testing.T) {
	invoker := &stubInvoker{}
	router := newTestRouter(t, invoker)

	req := &capability.InvocationRequest{CapabilityID: "cap.swap.v1"}
	_, proof := router.ExecuteWithPolicy(context.Background(), req, &Policy{})
	require.NoError(t, proof.Verify())

	proof.Steps[0].Passed = false
	assert.Error(t, proof.Verify())
}
