package plugins

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/stepflow/pkg/schema"
)

func TestAuditPlugin_LogsMilestones(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	hooks := NewRegistry()
	m := NewManager(hooks, nil, logger)
	require.NoError(t, m.Load(context.Background(), NewAuditPlugin(logger)))

	out, err := hooks.ExecuteHook(context.Background(), schema.HookOnError, map[string]any{
		"execution_id": "exec_1",
		"step_id":      "draft",
		"error":        "boom",
	})
	require.NoError(t, err)
	assert.Equal(t, "exec_1", out["execution_id"], "audit must not alter the payload")

	logs := buf.String()
	assert.Contains(t, logs, "audit: execution error")
	assert.Contains(t, logs, "execution_id=exec_1")
	assert.Contains(t, logs, "step_id=draft")
}

func TestAuditPlugin_DoesNotVeto(t *testing.T) {
	hooks := NewRegistry()
	m := NewManager(hooks, nil, nil)
	require.NoError(t, m.Load(context.Background(), NewAuditPlugin(nil)))

	out, err := hooks.ExecuteHook(context.Background(), schema.HookBeforeStart, map[string]any{"workflow_id": "prd"})
	require.NoError(t, err)
	assert.NotContains(t, out, "cancelled")
}
