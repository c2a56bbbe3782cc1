package actions

import (
	"context"
	"maps"

	"github.com/rendis/stepflow/pkg/schema"
)

// VarsActions returns the variable manipulation actions.
func VarsActions() []Action {
	return []Action{
		&varsSetAction{},
		&varsDefaultAction{},
	}
}

// --- vars.set ---

type varsSetAction struct{}

func (a *varsSetAction) Name() string { return "vars.set" }

func (a *varsSetAction) Schema() ActionSchema {
	return ActionSchema{Description: "Set execution variables from the 'values' object"}
}

func (a *varsSetAction) Validate(input map[string]any) error {
	if _, ok := input["values"].(map[string]any); !ok {
		return schema.NewError(schema.ErrCodeValidation, "vars.set requires 'values' object parameter")
	}
	return nil
}

func (a *varsSetAction) Execute(_ context.Context, input ActionInput) (*ActionOutput, error) {
	values, _ := input.Params["values"].(map[string]any)
	return output(maps.Clone(values)), nil
}

// --- vars.default ---

// varsDefaultAction sets only the variables that are currently unset or empty.
type varsDefaultAction struct{}

func (a *varsDefaultAction) Name() string { return "vars.default" }

func (a *varsDefaultAction) Schema() ActionSchema {
	return ActionSchema{Description: "Set execution variables that are missing or empty"}
}

func (a *varsDefaultAction) Validate(input map[string]any) error {
	return (&varsSetAction{}).Validate(input)
}

func (a *varsDefaultAction) Execute(_ context.Context, input ActionInput) (*ActionOutput, error) {
	values, _ := input.Params["values"].(map[string]any)
	current, _ := input.Context["vars"].(map[string]any)

	out := make(map[string]any, len(values))
	for k, v := range values {
		if existing, ok := current[k]; ok && existing != nil && existing != "" {
			continue
		}
		out[k] = v
	}
	return output(out), nil
}
