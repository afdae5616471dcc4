// Package policy scores candidate execution routes against a caller-declared
// execution policy and builds a replayable compliance record for every
// policy-checked execution.
package policy

import (
	"fmt"
	"strings"

	"github.com/TheQuantumChronicle/cap402-sub002/pkg/capability"
)

// LatencyPreference expresses how latency-sensitive the caller is.
type LatencyPreference string

const (
	LatencyLow      LatencyPreference = "low"
	LatencyBalanced LatencyPreference = "balanced"
	LatencyAny      LatencyPreference = "any"
)

// Policy is the caller-declared execution policy. Zero ceilings mean
// unlimited; empty lists mean unrestricted.
type Policy struct {
	// MinPrivacy is the privacy floor a route must meet or exceed.
	MinPrivacy capability.PrivacyLevel `json:"min_privacy,omitempty"`
	// MaxCost is the cost ceiling in the capability's declared currency.
	MaxCost float64 `json:"max_cost,omitempty"`
	// MaxSlippage is the slippage ceiling as a fraction in [0,1].
	MaxSlippage float64 `json:"max_slippage,omitempty"`
	// Allow restricts routes to these counterparty plugins when non-empty.
	Allow []string `json:"allow,omitempty"`
	// Deny rejects any route touching these counterparty plugins.
	Deny []string `json:"deny,omitempty"`
	// Latency bounds estimated route latency per preference tier.
	Latency LatencyPreference `json:"latency,omitempty"`
	// Expression is an optional CEL constraint evaluated per route.
	Expression string `json:"expression,omitempty"`
	// AllowFallback permits one relaxation pass (cost x1.5, latency x2)
	// when no route is compliant.
	AllowFallback bool `json:"allow_fallback,omitempty"`
}

func privacyRank(p capability.PrivacyLevel) (int, bool) {
	switch p {
	case "", capability.PrivacyPublic:
		return 0, true
	case capability.PrivacyConfidential:
		return 1, true
	}
	return 0, false
}

// Validate checks the declared policy against the capability's proposed
// parameters and returns every violation at once. Validation never
// partially enforces: one failed check does not hide the rest.
func (p *Policy) Validate(c *capability.Capability, eval *ExpressionEvaluator) []string {
	var violations []string

	if p.MaxCost < 0 {
		violations = append(violations, fmt.Sprintf("max_cost must be non-negative, got %g", p.MaxCost))
	}
	if p.MaxSlippage < 0 || p.MaxSlippage > 1 {
		violations = append(violations, fmt.Sprintf("max_slippage must be within [0,1], got %g", p.MaxSlippage))
	}

	floor, ok := privacyRank(p.MinPrivacy)
	if !ok {
		violations = append(violations, fmt.Sprintf("unknown privacy floor %q", p.MinPrivacy))
	}
	capRank, _ := privacyRank(c.Privacy)
	if ok && capRank < floor {
		violations = append(violations, fmt.Sprintf(
			"capability %s offers %s execution, below declared floor %s", c.ID, c.Privacy, p.MinPrivacy))
	}

	switch p.Latency {
	case "", LatencyLow, LatencyBalanced, LatencyAny:
	default:
		violations = append(violations, fmt.Sprintf("unknown latency preference %q", p.Latency))
	}

	if conflict := intersect(p.Allow, p.Deny); len(conflict) > 0 {
		violations = append(violations, fmt.Sprintf(
			"counterparties both allowed and denied: %s", strings.Join(conflict, ", ")))
	}

	if p.MaxCost > 0 && c.Economics.BasePrice > p.MaxCost && !p.AllowFallback {
		violations = append(violations, fmt.Sprintf(
			"capability base price %g exceeds cost ceiling %g", c.Economics.BasePrice, p.MaxCost))
	}

	if p.Expression != "" && eval != nil {
		if err := eval.Check(p.Expression); err != nil {
			violations = append(violations, fmt.Sprintf("constraint expression invalid: %v", err))
		}
	}

	return violations
}

func intersect(a, b []string) []string {
	set := make(map[string]bool, len(a))
	for _, s := range a {
		set[s] = true
	}
	var out []string
	for _, s := range b {
		if set[s] {
			out = append(out, s)
		}
	}
	return out
}
