package mcp

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/stepflow/internal/router"
	"github.com/rendis/stepflow/internal/store"
	"github.com/rendis/stepflow/pkg/schema"
)

type fakeTraces map[string]map[string]*store.StepTrace

func (f fakeTraces) ReplayEvents(_ context.Context, id string) (map[string]*store.StepTrace, error) {
	tr, ok := f[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "no journal for %q", id)
	}
	return tr, nil
}

func startBrief(t *testing.T, s *Server, args map[string]any) schema.Result {
	t.Helper()
	if args == nil {
		args = map[string]any{}
	}
	args["workflow_id"] = "brief"
	var res schema.Result
	unmarshalResult(t, call(t, s.handleStart, "flow.start", args), &res)
	return res
}

func TestStartAndInput(t *testing.T) {
	s := newTestEnv(t, nil, nil).server

	res := startBrief(t, s, map[string]any{"project_id": "acme"})
	assert.Equal(t, schema.StatusAwaitingInput, res.Status)
	assert.Equal(t, []string{"topic"}, res.InputRequired)
	assert.Equal(t, "What topic?", res.Prompt)
	require.NotEmpty(t, res.ExecutionID)

	var done schema.Result
	unmarshalResult(t, call(t, s.handleInput, "flow.input", map[string]any{
		"execution_id": res.ExecutionID,
		"input":        map[string]any{"topic": "search"},
	}), &done)
	assert.Equal(t, schema.StatusCompleted, done.Status)
	assert.Equal(t, schema.Progress{Total: 2, Completed: 2, Percentage: 100}, done.Progress)

	var status struct {
		ID          string                 `json:"id"`
		ProjectID   string                 `json:"project_id"`
		Status      schema.ExecutionStatus `json:"status"`
		Variables   map[string]any         `json:"variables"`
		Checkpoints []schema.Checkpoint    `json:"checkpoints"`
		Progress    schema.Progress        `json:"progress"`
	}
	unmarshalResult(t, call(t, s.handleStatus, "flow.status", map[string]any{"execution_id": res.ExecutionID}), &status)
	assert.Equal(t, "acme", status.ProjectID)
	assert.Equal(t, schema.StatusCompleted, status.Status)
	assert.Equal(t, "Brief: search", status.Variables["title"])
	assert.Empty(t, status.Checkpoints)
	assert.Equal(t, 100, status.Progress.Percentage)

	unmarshalResult(t, call(t, s.handleStatus, "flow.status", map[string]any{
		"execution_id": res.ExecutionID, "include_checkpoints": true,
	}), &status)
	assert.NotEmpty(t, status.Checkpoints)
}

func TestStartContinuesActiveExecution(t *testing.T) {
	s := newTestEnv(t, nil, nil).server

	first := startBrief(t, s, nil)
	second := startBrief(t, s, nil)
	assert.Equal(t, first.ExecutionID, second.ExecutionID)

	var cont schema.Result
	unmarshalResult(t, call(t, s.handleContinue, "flow.continue", map[string]any{"workflow_id": "brief"}), &cont)
	assert.Equal(t, first.ExecutionID, cont.ExecutionID)
	assert.Equal(t, schema.StatusAwaitingInput, cont.Status)
}

func TestInputErrors(t *testing.T) {
	s := newTestEnv(t, nil, nil).server
	res := startBrief(t, s, nil)

	out := call(t, s.handleInput, "flow.input", map[string]any{"execution_id": res.ExecutionID})
	assert.True(t, out.IsError)

	out = call(t, s.handleInput, "flow.input", map[string]any{
		"execution_id": res.ExecutionID, "input": map[string]any{"unrelated": 1},
	})
	assert.True(t, out.IsError)
	assert.Contains(t, extractText(t, out), schema.ErrCodeValidation)
}

func TestCancel(t *testing.T) {
	s := newTestEnv(t, nil, nil).server
	res := startBrief(t, s, nil)

	var cancelled schema.Result
	unmarshalResult(t, call(t, s.handleCancel, "flow.cancel", map[string]any{
		"execution_id": res.ExecutionID, "reason": "scope changed",
	}), &cancelled)
	assert.Equal(t, schema.StatusCancelled, cancelled.Status)

	out := call(t, s.handlePause, "flow.pause", map[string]any{"execution_id": res.ExecutionID})
	assert.True(t, out.IsError)
	assert.Contains(t, extractText(t, out), schema.ErrCodeInvalidTransition)
}

func TestMissingRequiredArguments(t *testing.T) {
	s := newTestEnv(t, nil, fakeTraces{}).server
	cases := []struct {
		tool    string
		handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)
	}{
		{"flow.start", s.handleStart},
		{"flow.continue", s.handleContinue},
		{"flow.input", s.handleInput},
		{"flow.pause", s.handlePause},
		{"flow.resume", s.handleResume},
		{"flow.cancel", s.handleCancel},
		{"flow.restore", s.handleRestore},
		{"flow.status", s.handleStatus},
		{"flow.trace", s.handleTrace},
		{"agent.commands", s.handleCommands},
		{"agent.command", s.handleCommand},
	}
	for _, tc := range cases {
		t.Run(tc.tool, func(t *testing.T) {
			out := call(t, tc.handler, tc.tool, map[string]any{})
			assert.True(t, out.IsError)
			assert.Contains(t, extractText(t, out), "required")
		})
	}
}

func TestStatusNotFound(t *testing.T) {
	s := newTestEnv(t, nil, nil).server
	out := call(t, s.handleStatus, "flow.status", map[string]any{"execution_id": "exec_missing"})
	assert.True(t, out.IsError)
	assert.Contains(t, extractText(t, out), schema.ErrCodeNotFound)
}

func TestRestoreCheckpoint(t *testing.T) {
	s := newTestEnv(t, nil, nil).server
	res := startBrief(t, s, nil)

	out := call(t, s.handleRestore, "flow.restore", map[string]any{"execution_id": res.ExecutionID, "step_index": 0})
	assert.True(t, out.IsError)

	out = call(t, s.handleRestore, "flow.restore", map[string]any{"execution_id": res.ExecutionID, "step_index": float64(99)})
	assert.True(t, out.IsError)
	assert.Contains(t, extractText(t, out), schema.ErrCodeCheckpointNotFound)
}

func TestList(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	s := env.server
	a := startBrief(t, s, map[string]any{"project_id": "acme"})
	startBrief(t, s, map[string]any{"project_id": "globex"})
	call(t, s.handleCancel, "flow.cancel", map[string]any{"execution_id": a.ExecutionID})

	var listed struct {
		Executions []executionSummary `json:"executions"`
	}
	unmarshalResult(t, call(t, s.handleList, "flow.list", map[string]any{}), &listed)
	require.Len(t, listed.Executions, 1, "terminal executions are hidden by default")
	assert.Equal(t, "globex", listed.Executions[0].ProjectID)

	unmarshalResult(t, call(t, s.handleList, "flow.list", map[string]any{
		"filter": map[string]any{"status": "cancelled,awaiting_input", "project_id": "acme"},
	}), &listed)
	require.Len(t, listed.Executions, 1)
	assert.Equal(t, a.ExecutionID, listed.Executions[0].ID)
	assert.Equal(t, schema.StatusCancelled, listed.Executions[0].Status)

	out := call(t, s.handleList, "flow.list", map[string]any{"filter": map[string]any{"since": "yesterday"}})
	assert.True(t, out.IsError)
}

func TestWorkflows(t *testing.T) {
	s := newTestEnv(t, nil, nil).server
	var out struct {
		Workflows []workflowSummary `json:"workflows"`
	}
	unmarshalResult(t, call(t, s.handleWorkflows, "flow.workflows", nil), &out)
	assert.Equal(t, []workflowSummary{{ID: "brief", Name: "Project brief", Steps: 2}}, out.Workflows)
}

func TestTraceSortsSteps(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Second)
	s := newTestEnv(t, nil, fakeTraces{"exec_1": {
		"b": {StepID: "b", Status: store.TraceCompleted, StartedAt: &t1},
		"a": {StepID: "a", Status: store.TraceCompleted, StartedAt: &t0},
	}}).server

	var out struct {
		Steps []store.StepTrace `json:"steps"`
	}
	unmarshalResult(t, call(t, s.handleTrace, "flow.trace", map[string]any{"execution_id": "exec_1"}), &out)
	require.Len(t, out.Steps, 2)
	assert.Equal(t, "a", out.Steps[0].StepID)
	assert.Equal(t, "b", out.Steps[1].StepID)

	res := call(t, s.handleTrace, "flow.trace", map[string]any{"execution_id": "exec_2"})
	assert.True(t, res.IsError)
}

func TestTraceFromJournal(t *testing.T) {
	db, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "trace.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(context.Background()))

	env := newTestEnv(t, db, store.NewEventLog(db))

	res := startBrief(t, env.server, nil)
	call(t, env.server.handleInput, "flow.input", map[string]any{
		"execution_id": res.ExecutionID, "input": map[string]any{"topic": "search"},
	})

	var out struct {
		Steps []store.StepTrace `json:"steps"`
	}
	unmarshalResult(t, call(t, env.server.handleTrace, "flow.trace", map[string]any{"execution_id": res.ExecutionID}), &out)
	statuses := map[string]string{}
	for _, st := range out.Steps {
		statuses[st.StepID] = st.Status
	}
	assert.Equal(t, store.TraceCompleted, statuses["title"])
}

func TestAgentCommands(t *testing.T) {
	s := newTestEnv(t, nil, nil).server

	var listed struct {
		Commands []router.Command `json:"commands"`
	}
	unmarshalResult(t, call(t, s.handleCommands, "agent.commands", map[string]any{"agent_id": "pm"}), &listed)
	require.Len(t, listed.Commands, 2)
	assert.Equal(t, router.KindWorkflow, listed.Commands[0].Kind)

	var wf router.Outcome
	unmarshalResult(t, call(t, s.handleCommand, "agent.command", map[string]any{"agent_id": "pm", "trigger": "brief"}), &wf)
	require.NotNil(t, wf.Result)
	assert.Equal(t, schema.StatusAwaitingInput, wf.Result.Status)

	var task router.Outcome
	unmarshalResult(t, call(t, s.handleCommand, "agent.command", map[string]any{
		"agent_id": "pm", "trigger": "hash", "input": map[string]any{"text": "abc"},
	}), &task)
	assert.Equal(t, router.KindTask, task.Kind)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", task.Output["hash"])

	out := call(t, s.handleCommand, "agent.command", map[string]any{"agent_id": "pm", "trigger": "nope"})
	assert.True(t, out.IsError)
}

func TestExtractInt(t *testing.T) {
	args := map[string]any{"f": float64(3), "i": 4, "s": "5", "bad": "x"}
	assert.Equal(t, 3, extractInt(args, "f", 0))
	assert.Equal(t, 4, extractInt(args, "i", 0))
	assert.Equal(t, 5, extractInt(args, "s", 0))
	assert.Equal(t, 9, extractInt(args, "bad", 9))
	assert.Equal(t, 9, extractInt(nil, "f", 9))
}
