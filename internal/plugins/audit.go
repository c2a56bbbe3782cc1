package plugins

import (
	"context"
	"log/slog"

	"github.com/rendis/stepflow/internal/actions"
	"github.com/rendis/stepflow/internal/logging"
	"github.com/rendis/stepflow/pkg/schema"
)

// AuditPlugin logs execution milestones observed through the engine hooks.
type AuditPlugin struct {
	logger *slog.Logger
}

// NewAuditPlugin creates an AuditPlugin writing to logger.
func NewAuditPlugin(logger *slog.Logger) *AuditPlugin {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditPlugin{logger: logger}
}

func (p *AuditPlugin) Name() string { return "audit" }

func (p *AuditPlugin) Actions() []actions.Action { return nil }

// Hooks runs late so other plugins see (and may veto) operations first.
func (p *AuditPlugin) Hooks() []Hook {
	return []Hook{
		{Point: schema.HookBeforeStart, Priority: 1000, Handler: p.record(slog.LevelInfo, "execution starting")},
		{Point: schema.HookAfterStep, Priority: 1000, Handler: p.record(slog.LevelDebug, "step finished")},
		{Point: schema.HookAfterComplete, Priority: 1000, Handler: p.record(slog.LevelInfo, "execution completed")},
		{Point: schema.HookOnError, Priority: 1000, Handler: p.record(slog.LevelWarn, "execution error")},
		{Point: schema.HookOnCancel, Priority: 1000, Handler: p.record(slog.LevelInfo, "execution cancelled")},
	}
}

func (p *AuditPlugin) record(level slog.Level, msg string) HookFunc {
	return func(ctx context.Context, payload map[string]any) (map[string]any, error) {
		attrs := make([]slog.Attr, 0, 4)
		for _, key := range []string{"execution_id", "workflow_id", "step_id", "reason", "error"} {
			if v, ok := payload[key]; ok && v != nil && v != "" {
				attrs = append(attrs, slog.Any(key, v))
			}
		}
		logging.LogWith(ctx, p.logger).LogAttrs(ctx, level, "audit: "+msg, attrs...)
		return nil, nil
	}
}
