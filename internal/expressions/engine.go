package expressions

import (
	"context"
	"fmt"
)

// Engine evaluates expressions over execution data.
// Implementations: CEL (guards, default), Expr (alternative guards and the expr.eval action),
// GoJQ (the jq action).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// New returns the condition engine registered under name ("cel" or "expr").
func New(name string) (Engine, error) {
	switch name {
	case "", "cel":
		return NewCELEngine()
	case "expr":
		return NewExprEngine(), nil
	case "jq":
		return NewGoJQEngine(), nil
	default:
		return nil, fmt.Errorf("unknown expression engine %q (want cel, expr or jq)", name)
	}
}
