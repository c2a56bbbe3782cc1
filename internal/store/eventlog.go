package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rendis/stepflow/pkg/schema"
)

// EventAppender is satisfied by LibSQLStore and EventLog; the stream recorder writes through it.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *Event) error
}

// EventLog provides journal operations on top of a LibSQLStore.
type EventLog struct {
	store *LibSQLStore
}

// NewEventLog wraps a LibSQLStore.
func NewEventLog(s *LibSQLStore) *EventLog {
	return &EventLog{store: s}
}

// AppendEvent appends an event with a monotonically increasing per-execution sequence.
func (el *EventLog) AppendEvent(ctx context.Context, event *Event) error {
	return el.store.AppendEvent(ctx, event)
}

// GetEvents returns events for an execution with sequence > since, ordered by sequence.
func (el *EventLog) GetEvents(ctx context.Context, executionID string, since int64) ([]*Event, error) {
	return el.store.GetEvents(ctx, executionID, since)
}

// ReplayEvents folds an execution's journal into a per-step trace.
// Returns an error if sequence gaps are detected.
func (el *EventLog) ReplayEvents(ctx context.Context, executionID string) (map[string]*StepTrace, error) {
	events, err := el.store.GetEvents(ctx, executionID, 0)
	if err != nil {
		return nil, fmt.Errorf("get events for replay: %w", err)
	}

	for i, e := range events {
		if want := int64(i + 1); e.Sequence != want {
			return nil, schema.NewErrorf(schema.ErrCodeIO,
				"sequence gap in execution %s: expected %d, got %d", executionID, want, e.Sequence)
		}
	}

	traces := make(map[string]*StepTrace)
	for _, e := range events {
		if e.StepID == "" {
			continue
		}
		tr, ok := traces[e.StepID]
		if !ok {
			tr = &StepTrace{StepID: e.StepID}
			traces[e.StepID] = tr
		}

		ts := e.Timestamp
		switch e.Type {
		case schema.EventStepStart:
			tr.Status = TraceRunning
			tr.Attempts++
			tr.StartedAt = &ts
			tr.CompletedAt = nil
			tr.DurationMs = 0
		case schema.EventStepComplete:
			tr.Status = TraceCompleted
			tr.CompletedAt = &ts
			if tr.StartedAt != nil {
				tr.DurationMs = ts.Sub(*tr.StartedAt).Milliseconds()
			}
		case schema.EventStepFail:
			tr.Status = TraceFailed
			tr.LastError = payloadMessage(e.Payload)
		case schema.EventStepSkip:
			tr.Status = TraceSkipped
		case schema.EventStepRetry:
			tr.Status = TraceRetrying
			tr.Attempts++
			tr.LastError = payloadMessage(e.Payload)
		}
	}
	return traces, nil
}

func payloadMessage(raw json.RawMessage) string {
	var p struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if len(raw) == 0 || json.Unmarshal(raw, &p) != nil {
		return ""
	}
	if p.Message != "" {
		return p.Message
	}
	return p.Error
}
