package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/stepflow/internal/engine"
	"github.com/rendis/stepflow/internal/store"
	"github.com/rendis/stepflow/pkg/schema"
)

// --- Tool definitions ---

func withContextParams(opts ...mcp.ToolOption) []mcp.ToolOption {
	return append(opts,
		mcp.WithString("project_id", mcp.Description("Project scope (default: \"default\")")),
		mcp.WithString("user_id", mcp.Description("Caller identity exposed to the context namespace")),
		mcp.WithString("mode", mcp.Enum(engine.ModeInteractive, engine.ModeAutonomous),
			mcp.Description("interactive (default) asks for confirmation of artifacts; autonomous accepts them")),
		mcp.WithObject("context", mcp.Description("Extra values exposed to the context namespace")),
	)
}

func startTool() mcp.Tool {
	return mcp.NewTool("flow.start", withContextParams(
		mcp.WithDescription("Start a workflow, or continue its active execution in the project"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow definition")),
		mcp.WithObject("input", mcp.Description("Initial variables")),
	)...)
}

func continueTool() mcp.Tool {
	return mcp.NewTool("flow.continue", withContextParams(
		mcp.WithDescription("Advance the active execution of a workflow from its current step"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow definition")),
	)...)
}

func inputTool() mcp.Tool {
	return mcp.NewTool("flow.input", withContextParams(
		mcp.WithDescription("Answer the prompt of an execution awaiting input"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the execution")),
		mcp.WithObject("input", mcp.Required(), mcp.Description("Values for the requested variables")),
	)...)
}

func pauseTool() mcp.Tool {
	return mcp.NewTool("flow.pause",
		mcp.WithDescription("Pause an execution"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the execution")),
	)
}

func resumeTool() mcp.Tool {
	return mcp.NewTool("flow.resume", withContextParams(
		mcp.WithDescription("Resume a paused execution"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the execution")),
	)...)
}

func cancelTool() mcp.Tool {
	return mcp.NewTool("flow.cancel",
		mcp.WithDescription("Cancel an execution"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the execution")),
		mcp.WithString("reason", mcp.Description("Why the execution is cancelled")),
	)
}

func restoreTool() mcp.Tool {
	return mcp.NewTool("flow.restore",
		mcp.WithDescription("Rewind an execution to the checkpoint taken at a step index"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the execution")),
		mcp.WithNumber("step_index", mcp.Required(), mcp.Description("1-based step index of the checkpoint")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("flow.status",
		mcp.WithDescription("Get the state of an execution"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the execution")),
		mcp.WithBoolean("include_checkpoints", mcp.Description("Include checkpoint snapshots (default: false)")),
	)
}

func listTool() mcp.Tool {
	return mcp.NewTool("flow.list",
		mcp.WithDescription("List executions"),
		mcp.WithObject("filter", mcp.Description("Filter criteria (status, workflow_id, project_id, since, limit). Without status, only non-terminal executions are listed")),
	)
}

func workflowsTool() mcp.Tool {
	return mcp.NewTool("flow.workflows",
		mcp.WithDescription("List loaded workflow definitions"),
	)
}

func traceTool() mcp.Tool {
	return mcp.NewTool("flow.trace",
		mcp.WithDescription("Per-step trace of an execution reconstructed from its event journal"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the execution")),
	)
}

func commandsTool() mcp.Tool {
	return mcp.NewTool("agent.commands",
		mcp.WithDescription("List the menu commands of an agent"),
		mcp.WithString("agent_id", mcp.Required(), mcp.Description("ID of the agent definition")),
	)
}

func commandTool() mcp.Tool {
	return mcp.NewTool("agent.command", withContextParams(
		mcp.WithDescription("Run an agent menu command: start its workflow or run its task"),
		mcp.WithString("agent_id", mcp.Required(), mcp.Description("ID of the agent definition")),
		mcp.WithString("trigger", mcp.Required(), mcp.Description("Menu trigger")),
		mcp.WithObject("input", mcp.Description("Input variables")),
	)...)
}

// --- Handlers ---

func (s *Server) handleStart(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	input := mcp.ParseStringMap(req, "input", nil)

	res, err := s.engine.Start(ctx, workflowID, input, executionContext(ctx, req))
	if err != nil {
		return toolError("start failed", err), nil
	}
	s.captureSession(ctx, res.ExecutionID)
	return marshalResult(res)
}

func (s *Server) handleContinue(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	res, err := s.engine.Continue(ctx, workflowID, executionContext(ctx, req))
	if err != nil {
		return toolError("continue failed", err), nil
	}
	s.captureSession(ctx, res.ExecutionID)
	return marshalResult(res)
}

func (s *Server) handleInput(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	executionID, err := req.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError("execution_id is required"), nil
	}
	input := mcp.ParseStringMap(req, "input", nil)
	if input == nil {
		return mcp.NewToolResultError("input is required"), nil
	}
	s.captureSession(ctx, executionID)

	res, err := s.engine.ProvideInput(ctx, executionID, input, executionContext(ctx, req))
	if err != nil {
		return toolError("input rejected", err), nil
	}
	return marshalResult(res)
}

func (s *Server) handlePause(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	executionID, err := req.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError("execution_id is required"), nil
	}
	res, err := s.engine.Pause(ctx, executionID)
	if err != nil {
		return toolError("pause failed", err), nil
	}
	return marshalResult(res)
}

func (s *Server) handleResume(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	executionID, err := req.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError("execution_id is required"), nil
	}
	s.captureSession(ctx, executionID)
	res, err := s.engine.Resume(ctx, executionID, executionContext(ctx, req))
	if err != nil {
		return toolError("resume failed", err), nil
	}
	return marshalResult(res)
}

func (s *Server) handleCancel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	executionID, err := req.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError("execution_id is required"), nil
	}
	res, err := s.engine.Cancel(ctx, executionID, req.GetString("reason", ""))
	if err != nil {
		return toolError("cancel failed", err), nil
	}
	s.sessions.Forget(executionID)
	return marshalResult(res)
}

func (s *Server) handleRestore(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	executionID, err := req.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError("execution_id is required"), nil
	}
	idx := extractInt(req.GetArguments(), "step_index", 0)
	if idx < 1 {
		return mcp.NewToolResultError("step_index must be a positive integer"), nil
	}
	res, err := s.engine.RestoreCheckpoint(ctx, executionID, idx)
	if err != nil {
		return toolError("restore failed", err), nil
	}
	return marshalResult(res)
}

// statusView is the flow.status payload: the record minus bulky fields, plus progress.
type statusView struct {
	*schema.ExecutionRecord
	Checkpoints []schema.Checkpoint `json:"checkpoints,omitempty"`
	Progress    schema.Progress     `json:"progress"`
}

func (s *Server) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	executionID, err := req.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError("execution_id is required"), nil
	}
	rec, err := s.engine.GetExecution(ctx, executionID)
	if err != nil {
		return toolError("status query failed", err), nil
	}
	view := statusView{ExecutionRecord: rec, Progress: rec.Progress()}
	if req.GetBool("include_checkpoints", false) {
		view.Checkpoints = rec.Checkpoints
	}
	return marshalResult(view)
}

// executionSummary is one row of flow.list.
type executionSummary struct {
	ID               string                 `json:"id"`
	WorkflowID       string                 `json:"workflow_id"`
	ProjectID        string                 `json:"project_id"`
	Status           schema.ExecutionStatus `json:"status"`
	CurrentStepIndex int                    `json:"current_step_index"`
	Progress         schema.Progress        `json:"progress"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

func (s *Server) handleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw := mcp.ParseStringMap(req, "filter", nil)
	filter := store.Filter{Limit: extractInt(raw, "limit", 50)}
	if status, ok := raw["status"].(string); ok && status != "" {
		for _, st := range strings.Split(status, ",") {
			filter.Statuses = append(filter.Statuses, schema.ExecutionStatus(strings.TrimSpace(st)))
		}
	}
	if wf, ok := raw["workflow_id"].(string); ok {
		filter.WorkflowID = wf
	}
	if p, ok := raw["project_id"].(string); ok {
		filter.ProjectID = p
	}
	if since, ok := raw["since"].(string); ok && since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("since must be RFC3339: %v", err)), nil
		}
		filter.UpdatedSince = &t
	}

	recs, err := s.engine.ActiveExecutions(ctx, filter)
	if err != nil {
		return toolError("list failed", err), nil
	}
	out := make([]executionSummary, 0, len(recs))
	for _, r := range recs {
		out = append(out, executionSummary{
			ID:               r.ID,
			WorkflowID:       r.WorkflowID,
			ProjectID:        r.ProjectID,
			Status:           r.Status,
			CurrentStepIndex: r.CurrentStepIndex,
			Progress:         r.Progress(),
			UpdatedAt:        r.UpdatedAt,
		})
	}
	return marshalResult(map[string]any{"executions": out})
}

type workflowSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Steps       int    `json:"steps"`
}

func (s *Server) handleWorkflows(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	defs := s.catalog.Workflows()
	out := make([]workflowSummary, 0, len(defs))
	for _, d := range defs {
		out = append(out, workflowSummary{ID: d.ID, Name: d.Name, Description: d.Description, Steps: len(d.Steps)})
	}
	slices.SortFunc(out, func(a, b workflowSummary) int { return strings.Compare(a.ID, b.ID) })
	return marshalResult(map[string]any{"workflows": out})
}

func (s *Server) handleTrace(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	executionID, err := req.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError("execution_id is required"), nil
	}
	traces, err := s.traces.ReplayEvents(ctx, executionID)
	if err != nil {
		return toolError("trace failed", err), nil
	}
	steps := make([]*store.StepTrace, 0, len(traces))
	for _, t := range traces {
		steps = append(steps, t)
	}
	slices.SortFunc(steps, func(a, b *store.StepTrace) int {
		switch {
		case a.StartedAt == nil || b.StartedAt == nil:
			return strings.Compare(a.StepID, b.StepID)
		case a.StartedAt.Equal(*b.StartedAt):
			return strings.Compare(a.StepID, b.StepID)
		}
		return a.StartedAt.Compare(*b.StartedAt)
	})
	return marshalResult(map[string]any{"execution_id": executionID, "steps": steps})
}

func (s *Server) handleCommands(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentID, err := req.RequireString("agent_id")
	if err != nil {
		return mcp.NewToolResultError("agent_id is required"), nil
	}
	cmds, err := s.router.Commands(agentID)
	if err != nil {
		return toolError("commands lookup failed", err), nil
	}
	return marshalResult(map[string]any{"agent_id": agentID, "commands": cmds})
}

func (s *Server) handleCommand(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentID, err := req.RequireString("agent_id")
	if err != nil {
		return mcp.NewToolResultError("agent_id is required"), nil
	}
	trigger, err := req.RequireString("trigger")
	if err != nil {
		return mcp.NewToolResultError("trigger is required"), nil
	}
	out, err := s.router.Dispatch(ctx, agentID, trigger, mcp.ParseStringMap(req, "input", nil), executionContext(ctx, req))
	if err != nil {
		return toolError("command failed", err), nil
	}
	if out.Result != nil {
		s.captureSession(ctx, out.Result.ExecutionID)
	}
	return marshalResult(out)
}

// --- Internal helpers ---

// executionContext builds the engine caller context from the shared tool parameters.
// The MCP session ID doubles as the execution session.
func executionContext(ctx context.Context, req mcp.CallToolRequest) engine.ExecutionContext {
	ec := engine.ExecutionContext{
		ProjectID: req.GetString("project_id", ""),
		UserID:    req.GetString("user_id", ""),
		Mode:      req.GetString("mode", ""),
		Values:    mcp.ParseStringMap(req, "context", nil),
	}
	if session := server.ClientSessionFromContext(ctx); session != nil {
		ec.SessionID = session.SessionID()
	}
	return ec
}

// captureSession maps the execution to the current MCP session for notifications.
func (s *Server) captureSession(ctx context.Context, executionID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(executionID, session.SessionID())
	}
}

// toolError renders err as a tool error, keeping the structured code when present.
func toolError(prefix string, err error) *mcp.CallToolResult {
	if code := schema.CodeOf(err); code != "" {
		return mcp.NewToolResultError(fmt.Sprintf("%s: %v (code %s)", prefix, err, code))
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", prefix, err))
}

// extractInt safely extracts an integer from an argument map.
func extractInt(args map[string]any, key string, defaultVal int) int {
	if args == nil {
		return defaultVal
	}
	v, ok := args[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
