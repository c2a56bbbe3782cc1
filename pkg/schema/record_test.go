package schema

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestNewExecutionRecord_Defaults(t *testing.T) {
	rec := NewExecutionRecord("wf-1", RecordOptions{StepsTotal: 3, Now: t0})

	assert.True(t, strings.HasPrefix(rec.ID, "exec_"))
	assert.Equal(t, DefaultProjectID, rec.ProjectID)
	assert.Equal(t, StatusPending, rec.Status)
	assert.Equal(t, 1, rec.CurrentStepIndex)
	assert.Empty(t, rec.CompletedSteps)
	require.Len(t, rec.History, 1)
	assert.Equal(t, StatusPending, rec.History[0].To)
	assert.Equal(t, ExecutionStatus(""), rec.History[0].From)
	assert.Equal(t, t0, rec.CreatedAt)
}

func TestNewExecutionRecord_CopiesVariables(t *testing.T) {
	vars := map[string]any{"nested": map[string]any{"k": "v"}}
	rec := NewExecutionRecord("wf-1", RecordOptions{Variables: vars, Now: t0})

	vars["nested"].(map[string]any)["k"] = "changed"
	assert.Equal(t, "v", rec.Variables["nested"].(map[string]any)["k"])
}

func TestMarkStepCompleted_NoDuplicates(t *testing.T) {
	rec := NewExecutionRecord("wf-1", RecordOptions{Now: t0})
	rec.MarkStepCompleted("a")
	rec.MarkStepCompleted("b")
	rec.MarkStepCompleted("a")

	assert.Equal(t, []string{"a", "b"}, rec.CompletedSteps)

	rec.UnmarkStepCompleted("a")
	assert.Equal(t, []string{"b"}, rec.CompletedSteps)
}

func TestCheckpoint_RoundTrip(t *testing.T) {
	rec := NewExecutionRecord("wf-1", RecordOptions{Variables: map[string]any{"x": 1}, Now: t0})
	rec.Status = StatusInProgress
	rec.CurrentStepIndex = 2
	rec.MarkStepCompleted("s1")
	rec.AddArtifact(Artifact{Section: "intro", Content: "hello"})

	wantVars := rec.Clone().Variables
	wantSteps := append([]string(nil), rec.CompletedSteps...)

	cp := rec.Checkpoint(t0.Add(time.Second))
	assert.Equal(t, 2, cp.StepIndex)
	require.Len(t, cp.ArtifactIDs, 1)

	rec.Variables["x"] = 99
	rec.MarkStepCompleted("s2")
	rec.CurrentStepIndex = 3
	rec.Status = StatusError

	require.NoError(t, rec.RestoreCheckpoint(2, t0.Add(2*time.Second)))
	assert.Equal(t, wantVars, rec.Variables)
	assert.Equal(t, wantSteps, rec.CompletedSteps)
	assert.Equal(t, 2, rec.CurrentStepIndex)
	assert.Equal(t, StatusInProgress, rec.Status)

	last := rec.History[len(rec.History)-1]
	assert.Equal(t, TriggerCheckpointRestored, last.Trigger)
	assert.Equal(t, StatusError, last.From)
	assert.Equal(t, StatusInProgress, last.To)
	assert.Len(t, rec.Checkpoints, 1, "restore never deletes checkpoints")
}

func TestCheckpoint_SnapshotIsIsolated(t *testing.T) {
	rec := NewExecutionRecord("wf-1", RecordOptions{Variables: map[string]any{"list": []any{"a"}}, Now: t0})
	cp := rec.Checkpoint(t0)
	cp.Variables["list"].([]any)[0] = "mutated"

	assert.Equal(t, "a", rec.Checkpoints[0].Variables["list"].([]any)[0])
}

func TestCheckpoint_MonotonicTimestamps(t *testing.T) {
	rec := NewExecutionRecord("wf-1", RecordOptions{Now: t0})
	rec.Checkpoint(t0.Add(time.Minute))
	cp := rec.Checkpoint(t0)

	assert.False(t, cp.Timestamp.Before(rec.Checkpoints[0].Timestamp))
}

func TestRestoreCheckpoint_NotFoundLeavesRecord(t *testing.T) {
	rec := NewExecutionRecord("wf-1", RecordOptions{Now: t0})
	rec.Checkpoint(t0)
	before := rec.Clone()

	err := rec.RestoreCheckpoint(5, t0.Add(time.Second))
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeCheckpointNotFound))
	assert.Equal(t, before, rec)
}

func TestRestoreCheckpoint_PicksLatestForIndex(t *testing.T) {
	rec := NewExecutionRecord("wf-1", RecordOptions{Now: t0})
	rec.Variables["v"] = "first"
	rec.Checkpoint(t0)
	rec.Variables["v"] = "second"
	rec.Checkpoint(t0.Add(time.Second))
	rec.Variables["v"] = "third"

	require.NoError(t, rec.RestoreCheckpoint(1, t0.Add(2*time.Second)))
	assert.Equal(t, "second", rec.Variables["v"])
}

func TestClone_DeepCopy(t *testing.T) {
	rec := NewExecutionRecord("wf-1", RecordOptions{Variables: map[string]any{"m": map[string]any{"a": 1}}, Now: t0})
	rec.AwaitingInput = &AwaitingInput{StepID: "s", Variables: []string{"x"}}
	now := t0
	rec.CompletedAt = &now

	c := rec.Clone()
	c.Variables["m"].(map[string]any)["a"] = 2
	c.AwaitingInput.Variables[0] = "y"
	c.History[0].Trigger = "changed"

	assert.Equal(t, 1, rec.Variables["m"].(map[string]any)["a"])
	assert.Equal(t, "x", rec.AwaitingInput.Variables[0])
	assert.Equal(t, TriggerCreated, rec.History[0].Trigger)
}

func TestProgress(t *testing.T) {
	rec := NewExecutionRecord("wf-1", RecordOptions{StepsTotal: 4, Now: t0})
	rec.MarkStepCompleted("a")

	assert.Equal(t, Progress{Total: 4, Completed: 1, Percentage: 25}, rec.Progress())

	empty := NewExecutionRecord("wf-2", RecordOptions{Now: t0})
	assert.Equal(t, 0, empty.Progress().Percentage)
}

func TestParseInputAction(t *testing.T) {
	assert.Equal(t, InputRegenerate, ParseInputAction("r"))
	assert.Equal(t, InputEdit, ParseInputAction("edit"))
	assert.Equal(t, InputContinue, ParseInputAction("c"))
	assert.Equal(t, InputContinue, ParseInputAction(nil))
	assert.Equal(t, "Generated intro. [c] Continue, [r] Regenerate, [e] Edit", ArtifactPrompt("intro"))
}
