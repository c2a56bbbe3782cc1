package validation

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/rendis/stepflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const prdWorkflowYAML = `
name: Product requirements
variables:
  project_name:
    source: config
    path: project.name
    default: demo
steps:
  - goal: Capture the vision
    ask:
      prompt: "What is ${{ vars.project_name }} about?"
      variables: [vision]
  - id: draft
    depends_on: [step-1]
    produces:
      section: vision
      template: "# ${{ vars.project_name }}\n${{ vars.vision }}"
  - id: review
    goto: 2
    retry:
      max_attempts: 2
      delay: 10ms
`

const pmAgentYAML = `
id: pm
name: John
role: Product manager
menu:
  - trigger: prd
    workflow: prd
  - trigger: hello
    task:
      action: log
      params:
        message: hi
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newLoader(t *testing.T) *Loader {
	t.Helper()
	return NewLoader(newValidator(t, "log"), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestParseWorkflow_Defaults(t *testing.T) {
	def, err := ParseWorkflow([]byte(prdWorkflowYAML), "prd")
	require.NoError(t, err)

	assert.Equal(t, "prd", def.ID)
	require.Len(t, def.Steps, 3)
	assert.Equal(t, "step-1", def.Steps[0].ID)
	assert.Equal(t, []string{"vision"}, def.Steps[0].Ask.Variables)
	require.NotNil(t, def.Steps[2].Goto)
	assert.Equal(t, 2, def.Steps[2].Goto.Step)
	assert.Equal(t, "demo", def.Variables["project_name"].Default)
}

func TestParseWorkflow_RejectsUnknownKeys(t *testing.T) {
	_, err := ParseWorkflow([]byte("steps:\n  - id: a\n    action: http.get\n"), "wf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "action")
}

func TestLoader_LoadDir(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, WorkflowsDir, "prd.yaml"), prdWorkflowYAML)
	writeFile(t, filepath.Join(root, AgentsDir, "pm.yml"), pmAgentYAML)
	writeFile(t, filepath.Join(root, WorkflowsDir, "README.md"), "ignored")

	l := newLoader(t)
	result, err := l.LoadDir(root)
	require.NoError(t, err)
	assert.True(t, result.Valid())

	def, err := l.Workflow(context.Background(), "prd")
	require.NoError(t, err)
	assert.Equal(t, "Product requirements", def.Name)

	agent, err := l.Agent("pm")
	require.NoError(t, err)
	assert.Len(t, agent.Menu, 2)

	assert.Len(t, l.Workflows(), 1)
	assert.Len(t, l.Agents(), 1)

	_, err = l.Workflow(context.Background(), "missing")
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
	_, err = l.Agent("missing")
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}

func TestLoader_MissingDirsAreEmpty(t *testing.T) {
	l := newLoader(t)
	result, err := l.LoadDir(t.TempDir())
	require.NoError(t, err)
	assert.True(t, result.Valid())
	assert.Empty(t, l.Workflows())
}

func TestLoader_InvalidDefinitionRegistersNothing(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, WorkflowsDir, "prd.yaml"), prdWorkflowYAML)
	writeFile(t, filepath.Join(root, WorkflowsDir, "broken.yaml"), "steps:\n  - id: a\n    goto: 9\n")
	writeFile(t, filepath.Join(root, AgentsDir, "pm.yaml"), "id: pm\nmenu:\n  - trigger: x\n    workflow: ghost\n")

	l := newLoader(t)
	result, err := l.LoadDir(root)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
	assert.Equal(t, []string{schema.IssueGotoOutOfRange, schema.IssueMenuTarget}, issueCodes(result.Errors))
	assert.Contains(t, result.Errors[0].Path, "broken.yaml:")
	assert.Empty(t, l.Workflows())
}

func TestLoader_AddWorkflow(t *testing.T) {
	l := newLoader(t)
	require.NoError(t, l.AddWorkflow(&schema.WorkflowDefinition{
		ID:    "inline",
		Steps: []schema.StepDefinition{{Name: "only"}},
	}))
	def, err := l.Workflow(context.Background(), "inline")
	require.NoError(t, err)
	assert.Equal(t, "step-1", def.Steps[0].ID)

	assert.Error(t, l.AddWorkflow(&schema.WorkflowDefinition{ID: "bad", Steps: []schema.StepDefinition{{ID: "a", Timeout: "x"}}}))
	assert.Error(t, l.AddWorkflow(nil))
}
