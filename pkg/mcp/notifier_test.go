package mcp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/stepflow/internal/logging"
	"github.com/rendis/stepflow/internal/streaming"
	"github.com/rendis/stepflow/pkg/schema"
)

type notification struct {
	executionID string
	payload     map[string]any
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification
	err  error
}

func (r *recordingNotifier) Notify(_ context.Context, executionID string, payload map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, notification{executionID, payload})
	return r.err
}

func (r *recordingNotifier) all() []notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notification(nil), r.sent...)
}

func TestForwarder_RelaysSelectedEvents(t *testing.T) {
	hub := streaming.NewMemoryHub()
	n := &recordingNotifier{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewForwarder(hub, n, logging.Discard()).Run(ctx) }()
	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	pub := func(ev streaming.StreamEvent) { require.NoError(t, hub.Publish(context.Background(), ev)) }
	pub(streaming.StreamEvent{ExecutionID: "exec_1", WorkflowID: "brief", EventType: schema.EventStepStart})
	pub(streaming.StreamEvent{ExecutionID: "exec_1", WorkflowID: "brief", EventType: schema.EventStateChange,
		Payload: map[string]any{"to": "completed"}})
	pub(streaming.StreamEvent{EventType: schema.EventProgress})
	pub(streaming.StreamEvent{ExecutionID: "exec_2", EventType: schema.EventProgress})

	require.Eventually(t, func() bool { return len(n.all()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	sent := n.all()
	assert.Equal(t, "exec_1", sent[0].executionID)
	data := sent[0].payload["data"].(map[string]any)
	assert.Equal(t, schema.EventStateChange, data["event_type"])
	assert.Equal(t, "brief", data["workflow_id"])
	assert.Equal(t, "exec_2", sent[1].executionID)
}

func TestForwarder_NotifyErrorDoesNotStop(t *testing.T) {
	hub := streaming.NewMemoryHub()
	n := &recordingNotifier{err: errors.New("pipe closed")}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = NewForwarder(hub, n, logging.Discard()).Run(ctx) }()
	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	for range 3 {
		require.NoError(t, hub.Publish(context.Background(), streaming.StreamEvent{ExecutionID: "exec_1", EventType: schema.EventError}))
	}
	require.Eventually(t, func() bool { return len(n.all()) == 3 }, time.Second, 5*time.Millisecond)
}

func TestMCPNotifier_NoSessionIsNoop(t *testing.T) {
	s := NewServer(ServerDeps{})
	n := NewMCPNotifier(s.MCPServer(), s.Sessions())
	assert.NoError(t, n.Notify(context.Background(), "exec_1", map[string]any{"x": 1}))
}
