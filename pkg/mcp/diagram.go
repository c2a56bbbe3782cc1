package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/stepflow/internal/diagram"
	"github.com/rendis/stepflow/internal/store"
	"github.com/rendis/stepflow/pkg/schema"
)

// Diagram formats returned as text.
const (
	diagramMermaid = "mermaid"
	diagramASCII   = "ascii"
	diagramSVG     = "svg"
)

func diagramTool() mcp.Tool {
	return mcp.NewTool("flow.diagram",
		mcp.WithDescription("Render a workflow as a diagram. With execution_id the diagram shows that execution's progress"),
		mcp.WithString("workflow_id", mcp.Description("Workflow to render; optional when execution_id is given")),
		mcp.WithString("execution_id", mcp.Description("Execution whose state is overlaid on the diagram")),
		mcp.WithString("format", mcp.Enum(diagramMermaid, diagramASCII, diagramSVG), mcp.Description("Output format (default mermaid)")),
	)
}

func (s *Server) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID := req.GetString("workflow_id", "")
	executionID := req.GetString("execution_id", "")
	format := req.GetString("format", diagramMermaid)
	if workflowID == "" && executionID == "" {
		return mcp.NewToolResultError("workflow_id or execution_id is required"), nil
	}

	var rec *schema.ExecutionRecord
	if executionID != "" {
		var err error
		if rec, err = s.engine.GetExecution(ctx, executionID); err != nil {
			return toolError("diagram failed", err), nil
		}
		if workflowID != "" && workflowID != rec.WorkflowID {
			return mcp.NewToolResultError("execution " + executionID + " belongs to workflow " + rec.WorkflowID), nil
		}
		workflowID = rec.WorkflowID
	}

	def, err := s.defs.Workflow(ctx, workflowID)
	if err != nil {
		return toolError("diagram failed", err), nil
	}

	var traces map[string]*store.StepTrace
	if rec != nil && s.traces != nil {
		if traces, err = s.traces.ReplayEvents(ctx, rec.ID); err != nil {
			s.logger.WarnContext(ctx, "diagram without trace", "execution_id", rec.ID, "error", err.Error())
			traces = nil
		}
	}

	model, err := diagram.Build(def, rec, traces)
	if err != nil {
		return toolError("diagram failed", err), nil
	}

	var out string
	switch format {
	case diagramMermaid:
		out = diagram.RenderMermaid(model)
	case diagramASCII:
		out = diagram.RenderASCII(model)
	case diagramSVG:
		svg, err := diagram.RenderImage(ctx, model, diagram.FormatSVG)
		if err != nil {
			return toolError("diagram failed", err), nil
		}
		out = string(svg)
	default:
		return mcp.NewToolResultError("format must be mermaid, ascii or svg"), nil
	}

	return marshalResult(map[string]any{
		"workflow_id":  workflowID,
		"execution_id": executionID,
		"format":       format,
		"diagram":      out,
	})
}
