package policy

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/TheQuantumChronicle/cap402-sub002/pkg/canonical"
)

// Proof step names, in lifecycle order.
const (
	StepPolicyValidation = "policy_validation"
	StepRouteSelection   = "route_selection"
	StepFallback         = "fallback_relaxation"
	StepExecution        = "execution"
)

// ProofStep is one recorded policy check.
type ProofStep struct {
	Step    string         `json:"step"`
	Passed  bool           `json:"passed"`
	Details map[string]any `json:"details,omitempty"`
	At      time.Time      `json:"at"`
}

// ComplianceProof is the ordered, replayable record of every policy check
// for one execution. It is audit evidence, not a cryptographic proof; the
// digest is a SHA-256 over the canonical step sequence so a reviewer can
// detect tampering with an exported record.
type ComplianceProof struct {
	ID           string      `json:"id"`
	RequestID    string      `json:"request_id,omitempty"`
	CapabilityID string      `json:"capability_id"`
	CallerID     string      `json:"caller_id"`
	Steps        []ProofStep `json:"steps"`
	Digest       string      `json:"digest"`
	CreatedAt    time.Time   `json:"created_at"`
}

func newProof(capabilityID, callerID string) *ComplianceProof {
	return &ComplianceProof{
		ID:           uuid.New().String(),
		CapabilityID: capabilityID,
		CallerID:     callerID,
		CreatedAt:    time.Now().UTC(),
	}
}

func (p *ComplianceProof) addStep(step string, passed bool, details map[string]any) {
	p.Steps = append(p.Steps, ProofStep{
		Step:    step,
		Passed:  passed,
		Details: details,
		At:      time.Now().UTC(),
	})
}

// Seal computes the digest over the canonical step sequence. Called once,
// after the final step.
func (p *ComplianceProof) Seal() error {
	digest, err := canonical.Hash(p.Steps)
	if err != nil {
		return fmt.Errorf("proof seal: %w", err)
	}
	p.Digest = digest
	return nil
}

// Verify recomputes the digest and reports whether the step sequence still
// matches the seal.
func (p *ComplianceProof) Verify() error {
	digest, err := canonical.Hash(p.Steps)
	if err != nil {
		return fmt.Errorf("proof verify: %w", err)
	}
	if digest != p.Digest {
		return fmt.Errorf("proof digest mismatch: recorded %s, recomputed %s", p.Digest, digest)
	}
	return nil
}
