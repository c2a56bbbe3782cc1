package expressions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/stepflow/pkg/schema"
)

func testScope() *Scope {
	return &Scope{
		Vars: map[string]any{
			"topic":      "state machines",
			"count":      3,
			"approved":   true,
			"author":     map[string]any{"name": "ada", "langs": []any{"go"}},
			"dotted.key": "direct",
		},
		Execution: map[string]any{"id": "exec_1", "step_index": 2},
		Context:   map[string]any{"user": "u-1"},
	}
}

func TestInterpolator_Resolve(t *testing.T) {
	interp := NewInterpolator()
	s := testScope()

	tests := []struct {
		in, want string
	}{
		{"no refs", "no refs"},
		{"About ${{ vars.topic }}.", "About state machines."},
		{"${{vars.count}} items", "3 items"},
		{"by ${{ vars.author.name }} for ${{ context.user }}", "by ada for u-1"},
		{"run ${{ execution.id }}", "run exec_1"},
		{"obj ${{ vars.author.langs }}", `obj ["go"]`},
		{"ok=${{ vars.approved }}", "ok=true"},
		{"${{ vars.dotted.key }}", "direct"},
	}
	for _, tt := range tests {
		got, err := interp.Resolve(tt.in, s)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestInterpolator_ResolveErrors(t *testing.T) {
	interp := NewInterpolator()
	s := testScope()

	for _, in := range []string{
		"${{ vars.topic",
		"${{ }}",
		"${{ secrets.key }}",
		"${{ vars.missing }}",
		"${{ vars.topic.deeper }}",
		"${{ vars..x }}",
	} {
		_, err := interp.Resolve(in, s)
		require.Error(t, err, in)
		assert.True(t, schema.IsCode(err, schema.ErrCodeInterpolation), in)
	}
}

func TestInterpolator_ResolveParamsKeepsTypes(t *testing.T) {
	interp := NewInterpolator()
	params := map[string]any{
		"n":      "${{ vars.count }}",
		"author": "${{ vars.author }}",
		"label":  "topic: ${{ vars.topic }}",
		"nested": map[string]any{"list": []any{"${{ vars.approved }}", 1}},
		"plain":  42,
	}

	out, err := interp.ResolveParams(params, testScope())
	require.NoError(t, err)
	assert.Equal(t, 3, out["n"])
	assert.Equal(t, map[string]any{"name": "ada", "langs": []any{"go"}}, out["author"])
	assert.Equal(t, "topic: state machines", out["label"])
	assert.Equal(t, []any{true, 1}, out["nested"].(map[string]any)["list"])
	assert.Equal(t, 42, out["plain"])

	assert.Equal(t, "${{ vars.count }}", params["n"], "input params untouched")
}

func TestInterpolator_EmptyParams(t *testing.T) {
	out, err := NewInterpolator().ResolveParams(nil, testScope())
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestReferences(t *testing.T) {
	assert.Equal(t, []string{"vars.a", "context.b"}, References("x ${{ vars.a }} y ${{context.b}}"))
	assert.Nil(t, References("none"))
	assert.True(t, HasInterpolation("${{ vars.a }}"))
	assert.False(t, HasInterpolation("plain"))
}

func TestConditionEvaluator(t *testing.T) {
	cel, err := NewCELEngine()
	require.NoError(t, err)

	for _, eng := range []Engine{cel, NewExprEngine()} {
		t.Run(eng.Name(), func(t *testing.T) {
			c := NewConditionEvaluator(eng)
			vars := map[string]any{"approved": true, "n": 2}

			ok, err := c.EvaluateBool(t.Context(), "vars.approved == true", vars)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = c.EvaluateBool(t.Context(), "vars.n > 5", vars)
			require.NoError(t, err)
			assert.False(t, ok)

			ok, err = c.EvaluateBool(t.Context(), "   ", vars)
			require.NoError(t, err)
			assert.True(t, ok, "empty guard passes")

			_, err = c.EvaluateBool(t.Context(), "vars.n + 1", vars)
			assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

			assert.Error(t, c.Check("vars.n >"))
			assert.NoError(t, c.Check(""))
		})
	}
}

func TestNewEngineByName(t *testing.T) {
	for _, name := range []string{"", "cel", "expr", "jq"} {
		e, err := New(name)
		require.NoError(t, err)
		assert.NotNil(t, e)
	}
	_, err := New("lua")
	assert.Error(t, err)
}
