// Package capability defines the data model for discretely priced, versioned
// units of work and the registry collaborators the dispatch core consumes.
package capability

import (
	"encoding/json"
	"time"
)

// PrivacyLevel classifies how an execution handles caller data.
type PrivacyLevel string

const (
	PrivacyPublic       PrivacyLevel = "public"
	PrivacyConfidential PrivacyLevel = "confidential"
)

// Type categorizes a capability for route construction.
type Type string

const (
	TypeCompute Type = "compute"
	TypeData    Type = "data"
	TypeSwap    Type = "swap"
	TypeProof   Type = "proof"
)

// Economics declares the pricing surface of a capability. The dispatch core
// never settles payments; it only derives hints from these fields.
type Economics struct {
	BasePrice     float64 `json:"base_price"`
	Currency      string  `json:"currency"`
	PaymentSignal bool    `json:"payment_signal"`
}

// Capability describes one versioned unit of executable work.
type Capability struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Version     string          `json:"version"`
	Description string          `json:"description,omitempty"`
	Type        Type            `json:"type"`
	Privacy     PrivacyLevel    `json:"privacy"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
	Required    []string        `json:"required,omitempty"`
	Plugins     []string        `json:"plugins,omitempty"`
	Economics   Economics       `json:"economics"`
}

// Priority orders queued work. Lower rank dispatches first.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

// Rank returns the dispatch rank for a priority; unknown values sort last.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityNormal:
		return 2
	case PriorityLow:
		return 3
	}
	return 4
}

// Preferences carries caller-declared, advisory invocation options.
type Preferences struct {
	CallerID     string   `json:"caller_id,omitempty"`
	Priority     Priority `json:"priority,omitempty"`
	Prefetch     bool     `json:"prefetch,omitempty"`
	Confidential bool     `json:"confidential,omitempty"`
}

// InvocationRequest is immutable once submitted. Callers must not mutate
// Inputs after handing the request to the router.
type InvocationRequest struct {
	CapabilityID string         `json:"capability_id"`
	Inputs       map[string]any `json:"inputs"`
	Preferences  *Preferences   `json:"preferences,omitempty"`
}

// CallerID returns the declared caller, or "anonymous" when absent.
func (r *InvocationRequest) CallerID() string {
	if r.Preferences != nil && r.Preferences.CallerID != "" {
		return r.Preferences.CallerID
	}
	return "anonymous"
}

// EconomicHint is the payment-related block attached to result metadata when
// a capability declares economics. It is advisory: settlement happens
// elsewhere.
type EconomicHint struct {
	EstimatedCost float64 `json:"estimated_cost"`
	Currency      string  `json:"currency"`
	PaymentSignal bool    `json:"payment_signal"`
	PrivacyNote   string  `json:"privacy_note,omitempty"`
}

// SignalOutcome records the best-effort external settlement/telemetry signal.
type SignalOutcome struct {
	Emitted bool   `json:"emitted"`
	Error   string `json:"error,omitempty"`
}

// ResultMetadata carries execution statistics and advisory annotations.
type ResultMetadata struct {
	Attempts       int            `json:"attempts"`
	Duration       time.Duration  `json:"duration"`
	CacheHit       bool           `json:"cache_hit"`
	Coalesced      bool           `json:"coalesced"`
	Prefetched     bool           `json:"prefetched"`
	ExecutorID     string         `json:"executor_id,omitempty"`
	Privacy        PrivacyLevel   `json:"privacy"`
	EconomicHint   *EconomicHint  `json:"economic_hint,omitempty"`
	ExternalSignal *SignalOutcome `json:"external_signal,omitempty"`
}

// InvocationResult is the immutable outcome of one invocation. Errors are
// carried inside the result, never thrown across the public boundary.
type InvocationResult struct {
	Success      bool             `json:"success"`
	RequestID    string           `json:"request_id"`
	CapabilityID string           `json:"capability_id"`
	Outputs      map[string]any   `json:"outputs,omitempty"`
	Err          *InvocationError `json:"error,omitempty"`
	Metadata     ResultMetadata   `json:"metadata"`
}

// ExecutionContext is the contract handed to an executor for one attempt.
type ExecutionContext struct {
	RequestID    string
	CapabilityID string
	Inputs       map[string]any
	Capability   *Capability
	Confidential bool
}

// ExecutionOutcome is what an executor reports back.
type ExecutionOutcome struct {
	Success  bool
	Outputs  map[string]any
	Err      error
	Metadata map[string]any
}
