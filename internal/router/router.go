// Package router dispatches agent menu triggers to workflows or atomic tasks.
package router

import (
	"context"
	"log/slog"
	"time"

	"github.com/rendis/stepflow/internal/engine"
	"github.com/rendis/stepflow/internal/logging"
	"github.com/rendis/stepflow/pkg/schema"
)

// CommandKind tags what a menu trigger targets.
type CommandKind string

const (
	KindWorkflow CommandKind = "workflow"
	KindTask     CommandKind = "task"
)

// Command is one resolved menu entry. Exactly one of Workflow or Task is set, matching Kind.
type Command struct {
	Trigger     string             `json:"trigger"`
	Description string             `json:"description,omitempty"`
	Kind        CommandKind        `json:"kind"`
	Workflow    string             `json:"workflow,omitempty"`
	Task        *schema.ActionSpec `json:"task,omitempty"`
}

// Outcome is the result of dispatching a trigger. Result is set for workflow commands,
// Output for task commands.
type Outcome struct {
	Trigger string         `json:"trigger"`
	Kind    CommandKind    `json:"kind"`
	Result  *schema.Result `json:"result,omitempty"`
	Output  map[string]any `json:"output,omitempty"`
}

// AgentSource resolves agent definitions by ID.
type AgentSource interface {
	Agent(id string) (*schema.AgentDefinition, error)
}

// WorkflowStarter starts or continues a workflow execution.
type WorkflowStarter interface {
	Start(ctx context.Context, workflowID string, input map[string]any, ec engine.ExecutionContext) (*schema.Result, error)
}

type handlerFunc func(ctx context.Context, cmd Command, input map[string]any, ec engine.ExecutionContext) (*Outcome, error)

// Router maps agent triggers to handlers keyed by CommandKind.
type Router struct {
	agents   AgentSource
	handlers map[CommandKind]handlerFunc
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Router. tasks runs atomic task commands; it may be nil when no agent
// declares tasks.
func New(agents AgentSource, workflows WorkflowStarter, tasks engine.ActionRunner, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{agents: agents, logger: logger, now: func() time.Time { return time.Now().UTC() }}
	r.handlers = map[CommandKind]handlerFunc{
		KindWorkflow: func(ctx context.Context, cmd Command, input map[string]any, ec engine.ExecutionContext) (*Outcome, error) {
			res, err := workflows.Start(ctx, cmd.Workflow, input, ec)
			if err != nil {
				return nil, err
			}
			return &Outcome{Trigger: cmd.Trigger, Kind: KindWorkflow, Result: res}, nil
		},
		KindTask: func(ctx context.Context, cmd Command, input map[string]any, ec engine.ExecutionContext) (*Outcome, error) {
			if tasks == nil {
				return nil, schema.NewErrorf(schema.ErrCodeActionUnavailable, "no task runner configured for %q", cmd.Trigger)
			}
			// Tasks run against a transient record so params can reference ${{ vars.* }}.
			rec := schema.NewExecutionRecord("task:"+cmd.Trigger, schema.RecordOptions{
				ProjectID: ec.ProjectID,
				Variables: input,
				Now:       r.now(),
			})
			out, err := tasks.Run(ctx, *cmd.Task, rec, ec)
			if err != nil {
				return nil, err
			}
			return &Outcome{Trigger: cmd.Trigger, Kind: KindTask, Output: out}, nil
		},
	}
	return r
}

// Commands lists the menu of agentID in declared order.
func (r *Router) Commands(agentID string) ([]Command, error) {
	agent, err := r.agents.Agent(agentID)
	if err != nil {
		return nil, err
	}
	cmds := make([]Command, 0, len(agent.Menu))
	for _, item := range agent.Menu {
		cmd, err := commandOf(agentID, item)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}

// Resolve finds the command bound to trigger in agentID's menu.
func (r *Router) Resolve(agentID, trigger string) (Command, error) {
	agent, err := r.agents.Agent(agentID)
	if err != nil {
		return Command{}, err
	}
	for _, item := range agent.Menu {
		if item.Trigger == trigger {
			return commandOf(agentID, item)
		}
	}
	return Command{}, schema.NewErrorf(schema.ErrCodeNotFound, "agent %q has no command %q", agentID, trigger).
		WithDetails(map[string]any{"agent_id": agentID, "trigger": trigger})
}

// Dispatch resolves trigger and runs its handler.
func (r *Router) Dispatch(ctx context.Context, agentID, trigger string, input map[string]any, ec engine.ExecutionContext) (*Outcome, error) {
	cmd, err := r.Resolve(agentID, trigger)
	if err != nil {
		return nil, err
	}
	h, ok := r.handlers[cmd.Kind]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidStep, "no handler for command kind %q", cmd.Kind)
	}

	logger := logging.LogWith(ctx, r.logger)
	logger.Info("dispatching command",
		slog.String("agent_id", agentID),
		slog.String("trigger", trigger),
		slog.String("kind", string(cmd.Kind)),
	)
	out, err := h(ctx, cmd, input, ec)
	if err != nil {
		logger.Warn("command failed", slog.String("trigger", trigger), slog.Any("error", err))
		return nil, err
	}
	return out, nil
}

func commandOf(agentID string, item schema.MenuItem) (Command, error) {
	cmd := Command{Trigger: item.Trigger, Description: item.Description}
	switch {
	case item.Workflow != "" && item.Task != nil:
		return Command{}, menuError(agentID, item.Trigger, "declares both workflow and task")
	case item.Workflow != "":
		cmd.Kind = KindWorkflow
		cmd.Workflow = item.Workflow
	case item.Task != nil:
		cmd.Kind = KindTask
		task := *item.Task
		cmd.Task = &task
	default:
		return Command{}, menuError(agentID, item.Trigger, "declares neither workflow nor task")
	}
	return cmd, nil
}

func menuError(agentID, trigger, msg string) error {
	return schema.NewErrorf(schema.ErrCodeValidation, "menu item %q %s", trigger, msg).
		WithDetails(map[string]any{"agent_id": agentID, "trigger": trigger})
}
