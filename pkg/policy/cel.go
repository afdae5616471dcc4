package policy

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// ExpressionEvaluator compiles and caches caller-declared CEL constraint
// expressions. Expressions see a single `route` variable carrying the
// candidate's attributes.
type ExpressionEvaluator struct {
	env      *cel.Env
	mu       sync.RWMutex
	programs map[string]cel.Program
}

func NewExpressionEvaluator() (*ExpressionEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("route", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("cel environment: %w", err)
	}
	return &ExpressionEvaluator{env: env, programs: make(map[string]cel.Program)}, nil
}

// Check compiles the expression without evaluating it, for policy
// validation.
func (e *ExpressionEvaluator) Check(expr string) error {
	_, err := e.program(expr)
	return err
}

// Eval runs the expression against a candidate route and reports whether it
// holds.
func (e *ExpressionEvaluator) Eval(expr string, r Route) (bool, error) {
	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(map[string]any{
		"route": map[string]any{
			"capability_id": r.CapabilityID,
			"plugins":       r.Plugins,
			"privacy":       string(r.Privacy),
			"cost":          r.EstimatedCost,
			"latency_ms":    r.EstimatedLatency.Milliseconds(),
			"slippage":      r.EstimatedSlip,
		},
	})
	if err != nil {
		return false, fmt.Errorf("constraint evaluation: %w", err)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("constraint expression must yield bool, got %T", out.Value())
	}
	return allowed, nil
}

func (e *ExpressionEvaluator) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.programs[expr]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("constraint compile: %w", issues.Err())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("constraint program: %w", err)
	}

	e.mu.Lock()
	e.programs[expr] = prg
	e.mu.Unlock()
	return prg, nil
}
