package streaming

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/rendis/stepflow/internal/store"
)

// Recorder journals execution events through a store.EventAppender. The engine calls
// Record inline, so an event is on disk before the operation that emitted it returns.
type Recorder struct {
	appender store.EventAppender
	logger   *slog.Logger
}

// NewRecorder creates a Recorder.
func NewRecorder(appender store.EventAppender, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{appender: appender, logger: logger}
}

// Record appends ev. Events without an execution are not journaled.
func (r *Recorder) Record(ctx context.Context, ev StreamEvent) error {
	if ev.ExecutionID == "" {
		return nil
	}
	var payload json.RawMessage
	if ev.Payload != nil {
		b, err := json.Marshal(ev.Payload)
		if err != nil {
			r.logger.WarnContext(ctx, "journal: payload dropped", "event_type", ev.EventType, "error", err)
		} else {
			payload = b
		}
	}
	return r.appender.AppendEvent(ctx, &store.Event{
		ExecutionID: ev.ExecutionID,
		StepID:      ev.StepID,
		Type:        ev.EventType,
		Payload:     payload,
		Timestamp:   ev.Timestamp,
	})
}
