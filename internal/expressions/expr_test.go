package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/stepflow/pkg/schema"
)

func TestExpr_Evaluate(t *testing.T) {
	e := NewExprEngine()
	assert.Equal(t, "expr", e.Name())

	data := (&Scope{Vars: map[string]any{
		"count": 4,
		"items": []any{1, 2, 3, 4},
		"user":  map[string]any{"name": "ada"},
	}}).Data()

	tests := []struct {
		name string
		expr string
		want any
	}{
		{"arithmetic", "vars.count * 2", 8},
		{"filter", "len(filter(vars.items, # > 2))", 2},
		{"nil coalescing", `vars.missing ?? "default"`, "default"},
		{"optional chaining", "vars.user?.name", "ada"},
		{"undefined top-level", "nope == nil", true},
		{"let binding", "let x = vars.count; x + 1", 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := e.Evaluate(context.Background(), tt.expr, data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestExpr_Errors(t *testing.T) {
	e := NewExprEngine()
	ctx := context.Background()

	_, err := e.Evaluate(ctx, "", nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	_, err = e.Evaluate(ctx, "1 +", nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	_, err = e.Evaluate(ctx, `vars.s + 1`, map[string]any{"vars": map[string]any{"s": "x"}})
	assert.True(t, schema.IsCode(err, schema.ErrCodeExecution))

	assert.Error(t, e.Check("1 +"))
}

func TestExpr_CacheIgnoresEnvShape(t *testing.T) {
	e := NewExprEngine()
	ctx := context.Background()

	out, err := e.Evaluate(ctx, "vars.a", map[string]any{"vars": map[string]any{"a": 1}})
	require.NoError(t, err)
	assert.Equal(t, 1, out)

	out, err = e.Evaluate(ctx, "vars.a", map[string]any{"vars": map[string]any{"a": "text"}})
	require.NoError(t, err)
	assert.Equal(t, "text", out)
}
