package engine

import (
	"context"
	"maps"

	"github.com/rendis/stepflow/internal/streaming"
	"github.com/rendis/stepflow/pkg/schema"
)

// Execution modes.
const (
	ModeInteractive = "interactive"
	ModeAutonomous  = "autonomous"
)

// ExecutionContext carries caller-supplied context for one engine operation.
type ExecutionContext struct {
	ProjectID string
	UserID    string
	SessionID string
	Mode      string         // interactive (default) | autonomous
	Config    map[string]any // overrides engine-level config for variable resolution
	Documents map[string]string
	Values    map[string]any
}

// IsAutonomous reports whether produced artifacts are accepted without a confirmation prompt.
func (ec ExecutionContext) IsAutonomous() bool {
	return ec.Mode == ModeAutonomous
}

func (ec ExecutionContext) projectID() string {
	if ec.ProjectID == "" {
		return schema.DefaultProjectID
	}
	return ec.ProjectID
}

// ContextValues returns the caller context as seen by `context` variable sources and
// the `context` expression namespace. Values override the named fields.
func (ec ExecutionContext) ContextValues() map[string]any {
	out := map[string]any{
		"project_id": ec.projectID(),
		"user_id":    ec.UserID,
		"session_id": ec.SessionID,
		"mode":       ec.Mode,
		"documents":  ec.Documents,
	}
	maps.Copy(out, ec.Values)
	return out
}

// ActionRunner executes one declared step action. The returned map is merged into the
// execution variables (or stored under ActionSpec.Output when set).
type ActionRunner interface {
	Run(ctx context.Context, spec schema.ActionSpec, rec *schema.ExecutionRecord, ec ExecutionContext) (map[string]any, error)
}

// ContentGenerator renders the artifact declared by a produces directive.
type ContentGenerator interface {
	Generate(ctx context.Context, p schema.ProducesDirective, rec *schema.ExecutionRecord, ec ExecutionContext) (string, error)
}

// ConditionEvaluator evaluates guard, goto and halt expressions against execution variables.
type ConditionEvaluator interface {
	EvaluateBool(ctx context.Context, expr string, vars map[string]any) (bool, error)
}

// HookRunner runs the registered callbacks of an extension point.
// Before-hooks veto an operation by returning an error coded HOOK_CANCELLED.
type HookRunner interface {
	ExecuteHook(ctx context.Context, name string, payload map[string]any) (map[string]any, error)
}

// DefinitionSource resolves workflow definitions by ID.
type DefinitionSource interface {
	Workflow(ctx context.Context, id string) (*schema.WorkflowDefinition, error)
}

// StaticDefinitions is an in-memory DefinitionSource.
type StaticDefinitions map[string]*schema.WorkflowDefinition

// Workflow implements DefinitionSource.
func (d StaticDefinitions) Workflow(_ context.Context, id string) (*schema.WorkflowDefinition, error) {
	wf, ok := d[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %q not found", id)
	}
	return wf, nil
}

// Journal durably records execution events. Record is called synchronously, in emission order.
type Journal interface {
	Record(ctx context.Context, ev streaming.StreamEvent) error
}
