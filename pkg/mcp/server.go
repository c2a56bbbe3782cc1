// Package mcp exposes the workflow engine as Model Context Protocol tools.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/stepflow/internal/engine"
	"github.com/rendis/stepflow/internal/logging"
	"github.com/rendis/stepflow/internal/router"
	"github.com/rendis/stepflow/internal/store"
	"github.com/rendis/stepflow/internal/streaming"
	"github.com/rendis/stepflow/pkg/schema"
)

// Version is reported to MCP clients during initialization.
var Version = "dev"

// WorkflowCatalog lists loaded workflow definitions.
type WorkflowCatalog interface {
	Workflows() []*schema.WorkflowDefinition
}

// TraceSource folds an execution's event journal into per-step traces.
type TraceSource interface {
	ReplayEvents(ctx context.Context, executionID string) (map[string]*store.StepTrace, error)
}

// ServerDeps holds the dependencies for creating a Server. Engine is required;
// the rest disable their tools when nil.
type ServerDeps struct {
	Engine      engine.Engine
	Definitions engine.DefinitionSource
	Catalog     WorkflowCatalog
	Router      *router.Router
	Traces      TraceSource
	Hub         streaming.EventHub
	Logger      *slog.Logger
}

// Server wraps an MCP server with stepflow tool handlers.
type Server struct {
	engine    engine.Engine
	defs      engine.DefinitionSource
	catalog   WorkflowCatalog
	router    *router.Router
	traces    TraceSource
	hub       streaming.EventHub
	sessions  *SessionRegistry
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewServer creates a Server with every tool its dependencies support.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	s := &Server{
		engine:   deps.Engine,
		defs:     deps.Definitions,
		catalog:  deps.Catalog,
		router:   deps.Router,
		traces:   deps.Traces,
		hub:      deps.Hub,
		sessions: NewSessionRegistry(),
		logger:   logger,
	}

	hooks := &server.Hooks{}
	hooks.AddOnUnregisterSession(func(_ context.Context, session server.ClientSession) {
		s.sessions.Remove(session.SessionID())
	})

	mcpSrv := server.NewMCPServer(
		"stepflow",
		Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithHooks(hooks),
		server.WithInstructions("stepflow runs declarative multi-step workflows. Use flow.start to begin a workflow, "+
			"flow.input to answer a prompt, flow.status to inspect an execution, and flow.pause, flow.resume or "+
			"flow.cancel to control it. flow.list and flow.workflows enumerate executions and definitions."),
	)
	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
// Engine events for executions started in this session are pushed as notifications.
func (s *Server) Serve(ctx context.Context) error {
	if s.hub != nil {
		fwd := NewForwarder(s.hub, NewMCPNotifier(s.mcpServer, s.sessions), s.logger)
		go func() {
			if err := fwd.Run(ctx); err != nil {
				s.logger.Warn("event forwarder stopped", slog.String("error", err.Error()))
			}
		}()
	}
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Sessions returns the execution to session mapping maintained by the tools.
func (s *Server) Sessions() *SessionRegistry {
	return s.sessions
}

func (s *Server) tools() []server.ServerTool {
	tools := []server.ServerTool{
		{Tool: startTool(), Handler: s.handleStart},
		{Tool: continueTool(), Handler: s.handleContinue},
		{Tool: inputTool(), Handler: s.handleInput},
		{Tool: pauseTool(), Handler: s.handlePause},
		{Tool: resumeTool(), Handler: s.handleResume},
		{Tool: cancelTool(), Handler: s.handleCancel},
		{Tool: restoreTool(), Handler: s.handleRestore},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: listTool(), Handler: s.handleList},
	}
	if s.catalog != nil {
		tools = append(tools, server.ServerTool{Tool: workflowsTool(), Handler: s.handleWorkflows})
	}
	if s.traces != nil {
		tools = append(tools, server.ServerTool{Tool: traceTool(), Handler: s.handleTrace})
	}
	if s.defs != nil {
		tools = append(tools, server.ServerTool{Tool: diagramTool(), Handler: s.handleDiagram})
	}
	if s.router != nil {
		tools = append(tools,
			server.ServerTool{Tool: commandsTool(), Handler: s.handleCommands},
			server.ServerTool{Tool: commandTool(), Handler: s.handleCommand},
		)
	}
	return tools
}
