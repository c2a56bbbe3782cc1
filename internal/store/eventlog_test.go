package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/stepflow/pkg/schema"
)

func TestEventLog_AppendMonotonicSequence(t *testing.T) {
	el := NewEventLog(newTestStore(t))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		e := &Event{ExecutionID: "exec_1", StepID: "s1", Type: schema.EventStepStart}
		require.NoError(t, el.AppendEvent(ctx, e))
		assert.Equal(t, int64(i+1), e.Sequence)
	}

	other := &Event{ExecutionID: "exec_2", Type: schema.EventStateChange}
	require.NoError(t, el.AppendEvent(ctx, other))
	assert.Equal(t, int64(1), other.Sequence, "sequence is per execution")
}

func TestEventLog_GetEventsSince(t *testing.T) {
	el := NewEventLog(newTestStore(t))
	ctx := context.Background()

	for _, et := range []string{schema.EventStepStart, schema.EventStepComplete, schema.EventProgress} {
		require.NoError(t, el.AppendEvent(ctx, &Event{ExecutionID: "exec_1", StepID: "s1", Type: et}))
	}

	all, err := el.GetEvents(ctx, "exec_1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	tail, err := el.GetEvents(ctx, "exec_1", 1)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, int64(2), tail[0].Sequence)
	assert.Equal(t, schema.EventStepComplete, tail[0].Type)
}

func TestEventLog_ReplayEvents(t *testing.T) {
	el := NewEventLog(newTestStore(t))
	ctx := context.Background()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	failure, _ := json.Marshal(map[string]any{"message": "boom"})
	events := []*Event{
		{ExecutionID: "exec_1", StepID: "s1", Type: schema.EventStepStart, Timestamp: t0},
		{ExecutionID: "exec_1", StepID: "s1", Type: schema.EventStepComplete, Timestamp: t0.Add(1500 * time.Millisecond)},
		{ExecutionID: "exec_1", StepID: "s2", Type: schema.EventStepStart, Timestamp: t0.Add(2 * time.Second)},
		{ExecutionID: "exec_1", StepID: "s2", Type: schema.EventStepRetry, Payload: failure, Timestamp: t0.Add(3 * time.Second)},
		{ExecutionID: "exec_1", StepID: "s2", Type: schema.EventStepFail, Payload: failure, Timestamp: t0.Add(4 * time.Second)},
		{ExecutionID: "exec_1", StepID: "s3", Type: schema.EventStepSkip, Timestamp: t0.Add(5 * time.Second)},
		{ExecutionID: "exec_1", Type: schema.EventStateChange, Timestamp: t0.Add(6 * time.Second)},
	}
	for _, e := range events {
		require.NoError(t, el.AppendEvent(ctx, e))
	}

	traces, err := el.ReplayEvents(ctx, "exec_1")
	require.NoError(t, err)
	require.Len(t, traces, 3)

	assert.Equal(t, TraceCompleted, traces["s1"].Status)
	assert.Equal(t, int64(1500), traces["s1"].DurationMs)

	assert.Equal(t, TraceFailed, traces["s2"].Status)
	assert.Equal(t, 2, traces["s2"].Attempts)
	assert.Equal(t, "boom", traces["s2"].LastError)

	assert.Equal(t, TraceSkipped, traces["s3"].Status)
}

func TestEventLog_ReplayEmpty(t *testing.T) {
	el := NewEventLog(newTestStore(t))
	traces, err := el.ReplayEvents(context.Background(), "exec_none")
	require.NoError(t, err)
	assert.Empty(t, traces)
}

func TestEventLog_DeletedWithExecution(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rec := seedRecord("wf", "p", schema.StatusCompleted, base)
	require.NoError(t, s.Set(ctx, rec))
	require.NoError(t, s.AppendEvent(ctx, &Event{ExecutionID: rec.ID, Type: schema.EventStateChange}))

	require.NoError(t, s.Delete(ctx, rec.ID))
	events, err := s.GetEvents(ctx, rec.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}
