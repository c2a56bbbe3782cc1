package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextKeys(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "", ExecutionID(ctx))
	assert.Equal(t, "", StepID(ctx))

	ctx = WithExecution(ctx, "exec_1", "wf-1", "proj")
	ctx = WithStepID(ctx, "step-1")

	assert.Equal(t, "exec_1", ExecutionID(ctx))
	assert.Equal(t, "wf-1", WorkflowID(ctx))
	assert.Equal(t, "proj", ProjectID(ctx))
	assert.Equal(t, "step-1", StepID(ctx))
}

func TestLogWith(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx := WithExecution(context.Background(), "exec_abc", "wf-abc", "")
	ctx = WithStepID(ctx, "step-x")

	LogWith(ctx, logger).Info("test message")

	out := buf.String()
	assert.Contains(t, out, "execution_id=exec_abc")
	assert.Contains(t, out, "workflow_id=wf-abc")
	assert.Contains(t, out, "step_id=step-x")
	assert.NotContains(t, out, "project_id")
}

func TestCorrelationHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	ctx := WithExecutionID(context.Background(), "exec_9")
	logger.InfoContext(ctx, "hello", "k", "v")

	out := buf.String()
	assert.Contains(t, out, "execution_id=exec_9")
	assert.Contains(t, out, "k=v")
	assert.NotContains(t, out, "step_id")
}

func TestCorrelationHandler_WithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewTextHandler(&buf, nil))).
		With("component", "engine").
		WithGroup("g")

	logger.InfoContext(WithStepID(context.Background(), "s1"), "msg", "a", 1)

	out := buf.String()
	assert.Contains(t, out, "component=engine")
	assert.Contains(t, out, "g.a=1")
	assert.Contains(t, out, "g.step_id=s1")
}

func TestNewLoggerNoColorForBuffers(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, slog.LevelInfo).InfoContext(WithWorkflowID(context.Background(), "wf"), "plain")

	out := buf.String()
	assert.Contains(t, out, "plain")
	assert.Contains(t, out, "workflow_id=wf")
	assert.NotContains(t, out, "\x1b[")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}
