package actions

import (
	"context"
	"maps"

	"github.com/rendis/stepflow/internal/expressions"
	"github.com/rendis/stepflow/pkg/schema"
)

// ExprActions returns the expression evaluation actions.
func ExprActions() []Action {
	return []Action{
		&exprEvalAction{engine: expressions.NewExprEngine()},
		&jqAction{engine: expressions.NewGoJQEngine()},
	}
}

// --- expr.eval ---

type exprEvalAction struct {
	engine *expressions.ExprEngine
}

func (a *exprEvalAction) Name() string { return "expr.eval" }

func (a *exprEvalAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Evaluate an Expr expression against vars, execution, context and optional data",
	}
}

func (a *exprEvalAction) Validate(input map[string]any) error {
	if stringParam(input, "expression", "") == "" {
		return schema.NewError(schema.ErrCodeValidation, "expr.eval requires non-empty 'expression' string parameter")
	}
	return nil
}

func (a *exprEvalAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	expression := stringParam(input.Params, "expression", "")

	scope := maps.Clone(input.Context)
	if scope == nil {
		scope = map[string]any{}
	}
	if data, ok := input.Params["data"]; ok {
		scope["data"] = data
	}

	result, err := a.engine.Evaluate(ctx, expression, scope)
	if err != nil {
		return nil, err
	}
	return output(map[string]any{"result": result}), nil
}

// --- jq ---

type jqAction struct {
	engine *expressions.GoJQEngine
}

func (a *jqAction) Name() string { return "jq" }

func (a *jqAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Run a jq query over 'input' (defaults to the vars, execution and context scopes)",
	}
}

func (a *jqAction) Validate(input map[string]any) error {
	query := stringParam(input, "query", "")
	if query == "" {
		return schema.NewError(schema.ErrCodeValidation, "jq requires non-empty 'query' string parameter")
	}
	if err := a.engine.Check(query); err != nil {
		return err
	}
	return nil
}

func (a *jqAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	query := stringParam(input.Params, "query", "")

	data := input.Context
	if in, ok := input.Params["input"]; ok {
		data = map[string]any{"input": in}
		// A query over explicit input addresses it as the document root.
		query = ".input | " + query
	}

	result, err := a.engine.Evaluate(ctx, query, data)
	if err != nil {
		return nil, err
	}
	return output(map[string]any{"result": result}), nil
}
