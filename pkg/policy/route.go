package policy

import (
	"slices"
	"sort"
	"time"

	"github.com/TheQuantumChronicle/cap402-sub002/pkg/capability"
)

// Route is an ephemeral candidate execution path, produced at routing time
// and never persisted.
type Route struct {
	CapabilityID     string                  `json:"capability_id"`
	Plugins          []string                `json:"plugins"`
	Privacy          capability.PrivacyLevel `json:"privacy"`
	EstimatedCost    float64                 `json:"estimated_cost"`
	EstimatedLatency time.Duration           `json:"estimated_latency"`
	EstimatedSlip    float64                 `json:"estimated_slippage,omitempty"`
}

// Latency ceilings per preference tier.
const (
	lowLatencyCeiling      = 500 * time.Millisecond
	balancedLatencyCeiling = 2 * time.Second
)

// Relaxation factors applied by the single permitted fallback pass.
const (
	fallbackCostFactor    = 1.5
	fallbackLatencyFactor = 2
)

// Multipliers for confidential variants over the declared base economics.
// Confidential execution is priced and paced above public execution.
const (
	confidentialCostFactor    = 2.5
	confidentialLatencyFactor = 4
)

// RouteBuilder derives candidate routes from a capability's declared type,
// privacy level and economics.
type RouteBuilder struct{}

func NewRouteBuilder() *RouteBuilder {
	return &RouteBuilder{}
}

// Build returns the candidate routes for a capability. A public capability
// yields a single public route over its declared plugins; a confidential
// capability additionally yields privacy-provider variants.
func (b *RouteBuilder) Build(c *capability.Capability) []Route {
	baseLatency := baseLatencyFor(c.Type)
	plugins := c.Plugins
	if len(plugins) == 0 {
		plugins = []string{"default"}
	}

	routes := []Route{{
		CapabilityID:     c.ID,
		Plugins:          plugins,
		Privacy:          capability.PrivacyPublic,
		EstimatedCost:    c.Economics.BasePrice,
		EstimatedLatency: baseLatency,
		EstimatedSlip:    baseSlippageFor(c.Type),
	}}

	if c.Privacy == capability.PrivacyConfidential {
		for _, provider := range []string{"zk", "mpc", "fhe"} {
			routes = append(routes, Route{
				CapabilityID:     c.ID,
				Plugins:          append(slices.Clone(plugins), provider),
				Privacy:          capability.PrivacyConfidential,
				EstimatedCost:    c.Economics.BasePrice * confidentialCostFactor,
				EstimatedLatency: baseLatency * confidentialLatencyFactor,
				EstimatedSlip:    baseSlippageFor(c.Type),
			})
		}
	}
	return routes
}

func baseLatencyFor(t capability.Type) time.Duration {
	switch t {
	case capability.TypeData:
		return 100 * time.Millisecond
	case capability.TypeSwap:
		return 400 * time.Millisecond
	case capability.TypeProof:
		return 1500 * time.Millisecond
	default:
		return 250 * time.Millisecond
	}
}

func baseSlippageFor(t capability.Type) float64 {
	if t == capability.TypeSwap {
		return 0.005
	}
	return 0
}

// bounds carries the (possibly relaxed) ceilings one selection pass uses.
type bounds struct {
	maxCost    float64
	maxLatency time.Duration
}

func (p *Policy) bounds() bounds {
	b := bounds{maxCost: p.MaxCost}
	switch p.Latency {
	case LatencyLow:
		b.maxLatency = lowLatencyCeiling
	case LatencyBalanced:
		b.maxLatency = balancedLatencyCeiling
	}
	return b
}

func (b bounds) relaxed() bounds {
	out := b
	if out.maxCost > 0 {
		out.maxCost *= fallbackCostFactor
	}
	if out.maxLatency > 0 {
		out.maxLatency *= fallbackLatencyFactor
	}
	return out
}

// compliant reports whether the route satisfies the policy under the given
// bounds, returning the first failed constraint for proof details.
func (p *Policy) compliant(r Route, b bounds, eval *ExpressionEvaluator) (bool, string) {
	floor, _ := privacyRank(p.MinPrivacy)
	rank, _ := privacyRank(r.Privacy)
	if rank < floor {
		return false, "privacy below floor"
	}
	if b.maxCost > 0 && r.EstimatedCost > b.maxCost {
		return false, "estimated cost above ceiling"
	}
	if p.MaxSlippage > 0 && r.EstimatedSlip > p.MaxSlippage {
		return false, "estimated slippage above ceiling"
	}
	if b.maxLatency > 0 && r.EstimatedLatency > b.maxLatency {
		return false, "estimated latency above preference bound"
	}
	if len(p.Allow) > 0 {
		for _, plugin := range r.Plugins {
			if !slices.Contains(p.Allow, plugin) {
				return false, "plugin outside counterparty allowlist: " + plugin
			}
		}
	}
	for _, plugin := range r.Plugins {
		if slices.Contains(p.Deny, plugin) {
			return false, "plugin on counterparty denylist: " + plugin
		}
	}
	if p.Expression != "" && eval != nil {
		ok, err := eval.Eval(p.Expression, r)
		if err != nil {
			return false, "constraint expression error: " + err.Error()
		}
		if !ok {
			return false, "constraint expression rejected route"
		}
	}
	return true, ""
}

// selectRoute filters candidates under the bounds and picks the compliant
// route with the lowest estimated cost. Ties break toward lower latency.
func (p *Policy) selectRoute(candidates []Route, b bounds, eval *ExpressionEvaluator) (*Route, []string) {
	var compliantRoutes []Route
	var rejections []string
	for _, r := range candidates {
		ok, reason := p.compliant(r, b, eval)
		if ok {
			compliantRoutes = append(compliantRoutes, r)
		} else {
			rejections = append(rejections, reason)
		}
	}
	if len(compliantRoutes) == 0 {
		return nil, rejections
	}
	sort.Slice(compliantRoutes, func(i, j int) bool {
		if compliantRoutes[i].EstimatedCost != compliantRoutes[j].EstimatedCost {
			return compliantRoutes[i].EstimatedCost < compliantRoutes[j].EstimatedCost
		}
		return compliantRoutes[i].EstimatedLatency < compliantRoutes[j].EstimatedLatency
	})
	chosen := compliantRoutes[0]
	return &chosen, rejections
}
