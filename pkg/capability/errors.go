package capability

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorKind is the dispatch-level error taxonomy. Callers of batch and queued
// surfaces rely on it to distinguish individual failures.
type ErrorKind string

const (
	// ErrCaller marks unknown capabilities or missing required inputs.
	// Never retried.
	ErrCaller ErrorKind = "CALLER_ERROR"
	// ErrTransient marks executor failures that may succeed on retry.
	ErrTransient ErrorKind = "TRANSIENT_EXECUTION_ERROR"
	// ErrTimeout marks an attempt that exceeded its deadline. Retried as
	// transient.
	ErrTimeout ErrorKind = "TIMEOUT_ERROR"
	// ErrCircuitOpen marks a rejection before dispatch; no breaker mutation.
	ErrCircuitOpen ErrorKind = "CIRCUIT_OPEN_ERROR"
	// ErrPolicyViolation is produced only by the policy router and lists
	// every violated constraint.
	ErrPolicyViolation ErrorKind = "POLICY_VIOLATION_ERROR"
)

// InvocationError is the structured error carried inside results.
type InvocationError struct {
	Kind       ErrorKind     `json:"kind"`
	Message    string        `json:"message"`
	Attempts   int           `json:"attempts,omitempty"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	Violations []string      `json:"violations,omitempty"`
}

func (e *InvocationError) Error() string {
	if len(e.Violations) > 0 {
		return fmt.Sprintf("%s: %s [%s]", e.Kind, e.Message, strings.Join(e.Violations, "; "))
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewCallerError builds a non-retryable caller fault.
func NewCallerError(format string, args ...any) *InvocationError {
	return &InvocationError{Kind: ErrCaller, Message: fmt.Sprintf(format, args...)}
}

// NewTransientError wraps an executor failure eligible for retry.
func NewTransientError(err error, attempts int) *InvocationError {
	return &InvocationError{Kind: ErrTransient, Message: err.Error(), Attempts: attempts}
}

// NewTimeoutError marks an attempt that lost its deadline race.
func NewTimeoutError(deadline time.Duration) *InvocationError {
	return &InvocationError{Kind: ErrTimeout, Message: fmt.Sprintf("attempt exceeded %s deadline", deadline)}
}

// NewCircuitOpenError carries the estimated retry-after for a fast rejection.
func NewCircuitOpenError(id string, retryAfter time.Duration) *InvocationError {
	return &InvocationError{
		Kind:       ErrCircuitOpen,
		Message:    fmt.Sprintf("circuit open for capability %s", id),
		RetryAfter: retryAfter,
	}
}

// NewPolicyViolationError surfaces every violated constraint at once.
func NewPolicyViolationError(violations []string) *InvocationError {
	return &InvocationError{
		Kind:       ErrPolicyViolation,
		Message:    "declared policy rejected the request",
		Violations: violations,
	}
}

// callerFaultMarkers classify executor error text that must not be retried.
var callerFaultMarkers = []string{"not found", "missing required input"}

// IsCallerFault reports whether an executor error is a caller fault by
// content. Executors are opaque, so classification is textual.
func IsCallerFault(err error) bool {
	if err == nil {
		return false
	}
	var ie *InvocationError
	if errors.As(err, &ie) {
		return ie.Kind == ErrCaller
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range callerFaultMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
