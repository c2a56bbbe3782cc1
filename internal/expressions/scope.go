package expressions

import "maps"

// Scope holds the data visible to expressions and ${{ }} references.
type Scope struct {
	Vars      map[string]any // execution variables
	Execution map[string]any // id, workflow_id, project_id, step_index
	Context   map[string]any // caller-supplied execution context
}

// Data returns the scope as the top-level map handed to an Engine.
// Nested values are copied so evaluation can never write back into the scope.
func (s *Scope) Data() map[string]any {
	return map[string]any{
		"vars":      deepCopyMap(nonNil(s.Vars)),
		"execution": deepCopyMap(nonNil(s.Execution)),
		"context":   deepCopyMap(nonNil(s.Context)),
	}
}

// With returns a copy of the scope whose Vars are overlaid with extra.
func (s *Scope) With(extra map[string]any) *Scope {
	vars := maps.Clone(nonNil(s.Vars))
	maps.Copy(vars, extra)
	return &Scope{Vars: vars, Execution: s.Execution, Context: s.Context}
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = deepCopyAny(v)
	}
	return cp
}

func deepCopyAny(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = deepCopyAny(item)
		}
		return cp
	default:
		return v
	}
}
