package validation

import (
	"testing"

	"github.com/rendis/stepflow/internal/expressions"
	"github.com/rendis/stepflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockActionLookup implements ActionLookup for tests.
type mockActionLookup struct {
	registered map[string]bool
}

func (m *mockActionLookup) Has(name string) bool {
	return m.registered[name]
}

func newMockLookup(names ...string) *mockActionLookup {
	m := &mockActionLookup{registered: make(map[string]bool)}
	for _, n := range names {
		m.registered[n] = true
	}
	return m
}

func celChecker(t *testing.T) ExpressionChecker {
	t.Helper()
	e, err := expressions.NewCELEngine()
	require.NoError(t, err)
	return e
}

func issueCodes(issues []schema.ValidationIssue) []string {
	codes := make([]string, 0, len(issues))
	for _, i := range issues {
		codes = append(codes, i.Code)
	}
	return codes
}

func TestSemantic_Valid(t *testing.T) {
	def := &schema.WorkflowDefinition{
		ID: "wf",
		Steps: []schema.StepDefinition{
			{ID: "a", Actions: []schema.ActionSpec{{Action: "vars.set"}}},
			{ID: "b", DependsOn: []string{"a"}, Condition: "vars.x > 1"},
			{ID: "c", Goto: &schema.GotoDirective{Step: 1, When: "vars.again"}},
		},
	}
	result := validateSemantic(def, newMockLookup("vars.set"), celChecker(t))
	assert.True(t, result.Valid(), "%v", result.Errors)
}

func TestSemantic_EmptyWorkflowWarns(t *testing.T) {
	result := validateSemantic(&schema.WorkflowDefinition{ID: "wf", Steps: []schema.StepDefinition{}}, nil, nil)
	assert.True(t, result.Valid())
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, schema.IssueEmptyWorkflow, result.Warnings[0].Code)
}

func TestSemantic_Issues(t *testing.T) {
	tests := []struct {
		name string
		step schema.StepDefinition
		path string
		code string
	}{
		{"unknown dependency", schema.StepDefinition{ID: "b", DependsOn: []string{"ghost"}},
			"steps[1].depends_on[0]", schema.IssueUnknownDependency},
		{"forward dependency", schema.StepDefinition{ID: "b", DependsOn: []string{"b"}},
			"steps[1].depends_on[0]", schema.IssueForwardDependency},
		{"goto below range", schema.StepDefinition{ID: "b", Goto: &schema.GotoDirective{Step: 0}},
			"steps[1].goto.step", schema.IssueGotoOutOfRange},
		{"goto above range", schema.StepDefinition{ID: "b", Goto: &schema.GotoDirective{Step: 3}},
			"steps[1].goto.step", schema.IssueGotoOutOfRange},
		{"bad timeout", schema.StepDefinition{ID: "b", Timeout: "soon"},
			"steps[1].timeout", schema.IssueBadDuration},
		{"negative delay", schema.StepDefinition{ID: "b", Retry: &schema.RetryPolicy{MaxAttempts: 2, Delay: "-1s"}},
			"steps[1].retry.delay", schema.IssueBadDuration},
		{"bad condition", schema.StepDefinition{ID: "b", Condition: "vars.x >"},
			"steps[1].condition", schema.IssueBadExpression},
		{"bad halt", schema.StepDefinition{ID: "b", Halt: &schema.HaltDirective{When: "(("}},
			"steps[1].halt.when", schema.IssueBadExpression},
		{"unknown action", schema.StepDefinition{ID: "b", Actions: []schema.ActionSpec{{Action: "nope"}}},
			"steps[1].actions[0].action", schema.IssueUnknownAction},
		{"unknown namespace", schema.StepDefinition{ID: "b", Ask: &schema.AskDirective{Prompt: "hi ${{ env.USER }}"}},
			"steps[1].ask.prompt", schema.IssueBadExpression},
		{"duplicate id", schema.StepDefinition{ID: "a"},
			"steps[1].id", schema.IssueDuplicateID},
	}

	checker := celChecker(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := &schema.WorkflowDefinition{
				ID:    "wf",
				Steps: []schema.StepDefinition{{ID: "a"}, tt.step},
			}
			result := validateSemantic(def, newMockLookup("vars.set"), checker)
			require.Len(t, result.Errors, 1, "%v", result.Errors)
			assert.Equal(t, tt.path, result.Errors[0].Path)
			assert.Equal(t, tt.code, result.Errors[0].Code)
		})
	}
}

func TestSemantic_NilCollaboratorsSkipChecks(t *testing.T) {
	def := &schema.WorkflowDefinition{
		ID: "wf",
		Steps: []schema.StepDefinition{
			{ID: "a", Condition: "((", Actions: []schema.ActionSpec{{Action: "nope"}}},
		},
	}
	assert.True(t, validateSemantic(def, nil, nil).Valid())
}

func TestSemantic_Warnings(t *testing.T) {
	def := &schema.WorkflowDefinition{
		ID: "wf",
		Steps: []schema.StepDefinition{
			{ID: "a", Retry: &schema.RetryPolicy{MaxAttempts: 50}},
			{ID: "b", Produces: &schema.ProducesDirective{Section: "s", Template: "t", TemplateFile: "f.md"}},
		},
	}
	result := validateSemantic(def, nil, nil)
	assert.True(t, result.Valid())
	assert.Len(t, result.Warnings, 2)
}

func TestAgentSemantic(t *testing.T) {
	workflows := func(id string) bool { return id == "prd" }
	agent := &schema.AgentDefinition{
		ID: "pm",
		Menu: []schema.MenuItem{
			{Trigger: "prd", Workflow: "prd"},
			{Trigger: "prd", Workflow: "prd"},
			{Trigger: "both", Workflow: "prd", Task: &schema.ActionSpec{Action: "log"}},
			{Trigger: "none"},
			{Trigger: "ghost", Workflow: "ghost"},
			{Trigger: "task", Task: &schema.ActionSpec{Action: "missing"}},
		},
	}
	result := validateAgentSemantic(agent, workflows, newMockLookup("log"))
	assert.Equal(t, []string{
		schema.IssueDuplicateID,
		schema.IssueMenuTarget,
		schema.IssueMenuTarget,
		schema.IssueMenuTarget,
		schema.IssueUnknownAction,
	}, issueCodes(result.Errors))
}
