package engine

import (
	"context"
	"errors"

	"github.com/rendis/stepflow/internal/logging"
	"github.com/rendis/stepflow/internal/streaming"
	"github.com/rendis/stepflow/pkg/schema"
)

func (e *engineImpl) publish(ctx context.Context, rec *schema.ExecutionRecord, stepID, eventType string, payload map[string]any) {
	e.emit(ctx, streaming.StreamEvent{
		ExecutionID: rec.ID,
		WorkflowID:  rec.WorkflowID,
		StepID:      stepID,
		EventType:   eventType,
		Payload:     payload,
		Timestamp:   e.now(),
	})
}

func (e *engineImpl) onRetry(ctx context.Context, step *schema.StepDefinition, attempt int, err error) {
	e.emit(ctx, streaming.StreamEvent{
		ExecutionID: logging.ExecutionID(ctx),
		WorkflowID:  logging.WorkflowID(ctx),
		StepID:      step.ID,
		EventType:   schema.EventStepRetry,
		Payload:     map[string]any{"attempt": attempt, "error": err.Error()},
		Timestamp:   e.now(),
	})
}

// emit journals ev before returning, then offers it to the hub. Hub delivery is best effort;
// the journal is the record of what happened.
func (e *engineImpl) emit(ctx context.Context, ev streaming.StreamEvent) {
	ctx = context.WithoutCancel(ctx)
	if e.journal != nil {
		if err := e.journal.Record(ctx, ev); err != nil {
			e.logger.WarnContext(ctx, "journal event failed", "event_type", ev.EventType, "error", err)
		}
	}
	if e.hub == nil {
		return
	}
	if err := e.hub.Publish(ctx, ev); err != nil {
		e.logger.DebugContext(ctx, "publish event failed", "event_type", ev.EventType, "error", err)
	}
}

// runBeforeHook runs a cancellable hook. A non-nil error vetoes the operation.
// Hook failures other than a veto are logged and ignored.
func (e *engineImpl) runBeforeHook(ctx context.Context, name string, payload map[string]any) (map[string]any, *schema.Error) {
	if e.hooks == nil {
		return nil, nil
	}
	out, err := e.hooks.ExecuteHook(ctx, name, payload)
	if err != nil {
		var se *schema.Error
		if errors.As(err, &se) && se.Code == schema.ErrCodeHookCancelled {
			return nil, se
		}
		e.logger.WarnContext(ctx, "hook failed", "hook", name, "error", err)
		return nil, nil
	}
	if cancelled, _ := out["cancelled"].(bool); cancelled {
		reason, _ := out["reason"].(string)
		if reason == "" {
			reason = name + " hook cancelled the operation"
		}
		return nil, schema.NewError(schema.ErrCodeHookCancelled, reason)
	}
	return out, nil
}

// runHook runs a notification hook; failures are logged.
func (e *engineImpl) runHook(ctx context.Context, name string, payload map[string]any) {
	if e.hooks == nil {
		return
	}
	if _, err := e.hooks.ExecuteHook(ctx, name, payload); err != nil {
		e.logger.WarnContext(ctx, "hook failed", "hook", name, "error", err)
	}
}
