package router

import (
	"context"

	"github.com/TheQuantumChronicle/cap402-sub002/pkg/capability"
)

// Executor runs capability attempts. Implementations live outside the
// dispatch core; the router only needs match-and-run.
type Executor interface {
	// ID identifies the executor in result metadata and status output.
	ID() string
	// CanExecute reports whether this executor handles the capability.
	CanExecute(capabilityID string) bool
	// Execute performs one attempt. Returning an error or a failed outcome
	// makes the attempt eligible for retry unless classified as a caller
	// fault.
	Execute(ctx context.Context, ectx *capability.ExecutionContext) (*capability.ExecutionOutcome, error)
}

// FuncExecutor adapts a function to the Executor interface, for demos and
// tests.
type FuncExecutor struct {
	Name    string
	Matches func(capabilityID string) bool
	Run     func(ctx context.Context, ectx *capability.ExecutionContext) (*capability.ExecutionOutcome, error)
}

func (f *FuncExecutor) ID() string { return f.Name }

func (f *FuncExecutor) CanExecute(capabilityID string) bool {
	if f.Matches == nil {
		return true
	}
	return f.Matches(capabilityID)
}

func (f *FuncExecutor) Execute(ctx context.Context, ectx *capability.ExecutionContext) (*capability.ExecutionOutcome, error) {
	return f.Run(ctx, ectx)
}
