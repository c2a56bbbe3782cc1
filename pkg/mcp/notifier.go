package mcp

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/stepflow/internal/streaming"
	"github.com/rendis/stepflow/pkg/schema"
)

// NotificationMethod is the MCP method used for execution event pushes.
const NotificationMethod = "notifications/message"

// ForwardedEvents are the event types pushed to clients. Step-level chatter stays in
// the journal.
var ForwardedEvents = []string{
	schema.EventStateChange,
	schema.EventProgress,
	schema.EventStepFail,
	schema.EventError,
}

// ExecutionNotifier pushes notifications about an execution to whoever drives it.
type ExecutionNotifier interface {
	Notify(ctx context.Context, executionID string, payload map[string]any) error
}

// MCPNotifier implements ExecutionNotifier using MCP server push.
type MCPNotifier struct {
	mcpServer *server.MCPServer
	sessions  *SessionRegistry
}

// NewMCPNotifier creates a notifier that pushes to the session registered for an execution.
func NewMCPNotifier(mcpServer *server.MCPServer, sessions *SessionRegistry) *MCPNotifier {
	return &MCPNotifier{mcpServer: mcpServer, sessions: sessions}
}

// Notify sends a notification to the execution's session.
// Best-effort: returns nil if no session drives the execution.
func (n *MCPNotifier) Notify(_ context.Context, executionID string, payload map[string]any) error {
	sessionID, ok := n.sessions.SessionFor(executionID)
	if !ok {
		return nil
	}
	err := n.mcpServer.SendNotificationToSpecificClient(sessionID, NotificationMethod, payload)
	if errors.Is(err, server.ErrSessionNotFound) {
		// Session expired between lookup and send.
		n.sessions.Remove(sessionID)
		return nil
	}
	return err
}

// Forwarder relays hub events to an ExecutionNotifier.
type Forwarder struct {
	hub      streaming.EventHub
	notifier ExecutionNotifier
	logger   *slog.Logger
}

// NewForwarder creates a Forwarder.
func NewForwarder(hub streaming.EventHub, notifier ExecutionNotifier, logger *slog.Logger) *Forwarder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Forwarder{hub: hub, notifier: notifier, logger: logger}
}

// Run subscribes to ForwardedEvents and notifies until ctx is done.
func (f *Forwarder) Run(ctx context.Context) error {
	ch, cancel, err := f.hub.Subscribe(ctx, streaming.EventFilter{EventTypes: slices.Clone(ForwardedEvents)})
	if err != nil {
		return err
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if ev.ExecutionID == "" {
				continue
			}
			payload := map[string]any{
				"level":  "info",
				"logger": "stepflow",
				"data": map[string]any{
					"execution_id": ev.ExecutionID,
					"workflow_id":  ev.WorkflowID,
					"step_id":      ev.StepID,
					"event_type":   ev.EventType,
					"payload":      ev.Payload,
					"timestamp":    ev.Timestamp,
				},
			}
			if err := f.notifier.Notify(ctx, ev.ExecutionID, payload); err != nil {
				f.logger.Warn("notify failed",
					slog.String("execution_id", ev.ExecutionID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
