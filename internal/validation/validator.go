package validation

import "github.com/rendis/stepflow/pkg/schema"

// Validator checks workflow and agent definitions before they are handed to the engine.
// Uses JSON Schema Draft 2020-12 for the structural stage and for caller input.
type Validator interface {
	ValidateDefinition(def *schema.WorkflowDefinition) error
	ValidateAgent(agent *schema.AgentDefinition) error
	ValidateInput(input map[string]any, inputSchema []byte) error
}

// ActionLookup checks whether an action name is registered.
type ActionLookup interface {
	Has(name string) bool
}

// ExpressionChecker validates expression syntax without evaluating it.
type ExpressionChecker interface {
	Check(expression string) error
}
