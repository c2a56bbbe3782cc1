package engine

import (
	"maps"
	"strings"
	"time"

	"github.com/rendis/stepflow/pkg/schema"
)

// resolveVariables computes the initial variables of a new execution from the workflow's
// declarations. Caller input is layered on top by Start.
func (e *engineImpl) resolveVariables(def *schema.WorkflowDefinition, executionID string, ec ExecutionContext, now time.Time) map[string]any {
	config := maps.Clone(e.config)
	if config == nil {
		config = map[string]any{}
	}
	maps.Copy(config, ec.Config)

	system := map[string]any{
		"date":         now.Format(time.DateOnly),
		"datetime":     now.Format(time.RFC3339),
		"timestamp":    now.Unix(),
		"execution_id": executionID,
		"workflow_id":  def.ID,
		"project_id":   ec.projectID(),
	}
	maps.Copy(system, e.system)

	callerCtx := ec.ContextValues()

	vars := make(map[string]any, len(def.Variables))
	for name, vd := range def.Variables {
		path := vd.Path
		if path == "" {
			path = name
		}
		var (
			val   any
			found bool
		)
		switch vd.Source {
		case schema.VariableSourceConfig:
			val, found = lookupPath(config, path)
		case schema.VariableSourceSystem:
			val, found = lookupPath(system, path)
		case schema.VariableSourceContext:
			val, found = lookupPath(callerCtx, path)
		}
		switch {
		case found:
			vars[name] = val
		case vd.Default != nil:
			vars[name] = vd.Default
		}
	}
	return vars
}

// lookupPath walks dotted keys through nested maps.
func lookupPath(m map[string]any, path string) (any, bool) {
	var cur any = m
	for _, part := range strings.Split(path, ".") {
		node, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = node[part]
		if !ok {
			return nil, false
		}
	}
	return cur, cur != nil
}
