package validation

import (
	"errors"

	"github.com/rendis/stepflow/pkg/schema"
)

// WorkflowValidator runs the two-stage validation pipeline:
// 1. Structural (JSON Schema)
// 2. Semantic (ids, dependencies, goto ranges, durations, expressions, actions)
type WorkflowValidator struct {
	jsonSchema  *JSONSchemaValidator
	actions     ActionLookup
	expressions ExpressionChecker
}

// NewWorkflowValidator creates a WorkflowValidator.
// lookup and checker may be nil to skip action and expression checks.
func NewWorkflowValidator(lookup ActionLookup, checker ExpressionChecker) (*WorkflowValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &WorkflowValidator{
		jsonSchema:  jsv,
		actions:     lookup,
		expressions: checker,
	}, nil
}

// Validate runs the pipeline and returns an aggregated result.
// Structural errors short-circuit the semantic stage.
func (wv *WorkflowValidator) Validate(def *schema.WorkflowDefinition) *schema.ValidationResult {
	if def == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "workflow definition is nil")
		return r
	}

	result := structural(wv.jsonSchema.ValidateDefinition(def))
	if !result.Valid() {
		return result
	}
	result.Merge(validateSemantic(def, wv.actions, wv.expressions))
	return result
}

// ValidateAgentWith validates an agent; workflows reports whether a menu target exists
// and may be nil to skip that check.
func (wv *WorkflowValidator) ValidateAgentWith(agent *schema.AgentDefinition, workflows func(string) bool) *schema.ValidationResult {
	if agent == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "agent definition is nil")
		return r
	}

	result := structural(wv.jsonSchema.ValidateAgent(agent))
	if !result.Valid() {
		return result
	}
	result.Merge(validateAgentSemantic(agent, workflows, wv.actions))
	return result
}

// ValidateDefinition satisfies the Validator interface.
func (wv *WorkflowValidator) ValidateDefinition(def *schema.WorkflowDefinition) error {
	return wv.Validate(def).ToError()
}

// ValidateAgent satisfies the Validator interface without checking workflow targets.
func (wv *WorkflowValidator) ValidateAgent(agent *schema.AgentDefinition) error {
	return wv.ValidateAgentWith(agent, nil).ToError()
}

// ValidateInput delegates to the underlying JSONSchemaValidator.
func (wv *WorkflowValidator) ValidateInput(input map[string]any, inputSchema []byte) error {
	return wv.jsonSchema.ValidateInput(input, inputSchema)
}

// structural converts a JSON Schema error into a ValidationResult, one issue per violation.
func structural(err error) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if err == nil {
		return result
	}

	var sErr *schema.Error
	if !errors.As(err, &sErr) {
		result.AddError("/", schema.IssueSchema, err.Error())
		return result
	}
	if violations, ok := sErr.Details["violations"].([]string); ok {
		for _, v := range violations {
			result.AddError("/", schema.IssueSchema, v)
		}
		return result
	}
	result.AddError("/", schema.IssueSchema, sErr.Message)
	return result
}
