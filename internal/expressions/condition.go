package expressions

import (
	"context"
	"strings"

	"github.com/rendis/stepflow/pkg/schema"
)

// Checker is implemented by engines that can validate an expression without running it.
type Checker interface {
	Check(expression string) error
}

// ConditionEvaluator adapts an Engine to boolean guard evaluation over execution variables.
type ConditionEvaluator struct {
	engine Engine
}

// NewConditionEvaluator wraps engine.
func NewConditionEvaluator(engine Engine) *ConditionEvaluator {
	return &ConditionEvaluator{engine: engine}
}

// Engine returns the wrapped engine.
func (c *ConditionEvaluator) Engine() Engine { return c.engine }

// EvaluateBool evaluates expression with vars bound to the `vars` name.
// An empty expression is true; a non-boolean result is a validation error.
func (c *ConditionEvaluator) EvaluateBool(ctx context.Context, expression string, vars map[string]any) (bool, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return true, nil
	}
	out, err := c.engine.Evaluate(ctx, expression, (&Scope{Vars: vars}).Data())
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeValidation,
			"condition %q must evaluate to a boolean, got %T", expression, out).
			WithDetails(map[string]any{"expression": expression})
	}
	return b, nil
}

// Check validates expression syntax when the engine supports it.
func (c *ConditionEvaluator) Check(expression string) error {
	if strings.TrimSpace(expression) == "" {
		return nil
	}
	if ch, ok := c.engine.(Checker); ok {
		return ch.Check(expression)
	}
	return nil
}
