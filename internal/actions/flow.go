package actions

import (
	"context"
	"log/slog"

	"github.com/rendis/stepflow/internal/logging"
	"github.com/rendis/stepflow/pkg/schema"
)

// FlowActions returns the actions that report on or fail the running step.
func FlowActions(logger *slog.Logger) []Action {
	if logger == nil {
		logger = slog.Default()
	}
	return []Action{
		&logAction{logger: logger},
		&failAction{},
	}
}

// --- log ---

type logAction struct {
	logger *slog.Logger
}

func (a *logAction) Name() string { return "log" }

func (a *logAction) Schema() ActionSchema {
	return ActionSchema{Description: "Write a structured log entry correlated with the execution"}
}

func (a *logAction) Validate(input map[string]any) error {
	if stringParam(input, "message", "") == "" {
		return schema.NewError(schema.ErrCodeValidation, "log: missing required param 'message'")
	}
	switch stringParam(input, "level", "info") {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return schema.NewError(schema.ErrCodeValidation, "log: 'level' must be debug, info, warn or error")
	}
}

func (a *logAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	p := input.Params
	var attrs []any
	if data, ok := p["data"]; ok {
		attrs = append(attrs, slog.Any("data", data))
	}

	logger := logging.LogWith(ctx, a.logger)
	message := stringParam(p, "message", "")
	switch stringParam(p, "level", "info") {
	case "debug":
		logger.DebugContext(ctx, message, attrs...)
	case "warn":
		logger.WarnContext(ctx, message, attrs...)
	case "error":
		logger.ErrorContext(ctx, message, attrs...)
	default:
		logger.InfoContext(ctx, message, attrs...)
	}
	return output(nil), nil
}

// --- fail ---

type failAction struct{}

func (a *failAction) Name() string { return "fail" }

func (a *failAction) Schema() ActionSchema {
	return ActionSchema{Description: "Fail the current step with a reason"}
}

func (a *failAction) Validate(input map[string]any) error {
	if stringParam(input, "reason", "") == "" {
		return schema.NewError(schema.ErrCodeValidation, "fail: missing required param 'reason'")
	}
	return nil
}

func (a *failAction) Execute(_ context.Context, input ActionInput) (*ActionOutput, error) {
	return nil, schema.NewError(schema.ErrCodeStepFailed, stringParam(input.Params, "reason", "fail invoked")).
		WithDetails(map[string]any{"retryable": boolParam(input.Params, "retryable", true)})
}
