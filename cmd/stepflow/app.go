package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rendis/stepflow/internal/actions"
	"github.com/rendis/stepflow/internal/content"
	"github.com/rendis/stepflow/internal/engine"
	"github.com/rendis/stepflow/internal/expressions"
	"github.com/rendis/stepflow/internal/logging"
	"github.com/rendis/stepflow/internal/plugins"
	"github.com/rendis/stepflow/internal/router"
	"github.com/rendis/stepflow/internal/scheduler"
	"github.com/rendis/stepflow/internal/store"
	"github.com/rendis/stepflow/internal/streaming"
	"github.com/rendis/stepflow/internal/validation"
	"github.com/rendis/stepflow/pkg/mcp"
	"github.com/rendis/stepflow/pkg/schema"
)

// app holds the wired components shared by every subcommand.
type app struct {
	cfg    Config
	logger *slog.Logger

	store      *store.LibSQLStore
	journal    *store.EventLog
	hub        *streaming.MemoryHub
	registry   *actions.Registry
	hooks      *plugins.Registry
	plugins    *plugins.Manager
	loader     *validation.Loader
	engine     engine.Engine
	router     *router.Router
	loadResult *schema.ValidationResult
}

func newLogger(cfg Config, w io.Writer) *slog.Logger {
	level := logging.ParseLevel(cfg.LogLevel)
	if cfg.LogFormat == "json" {
		return logging.NewJSONLogger(w, level)
	}
	return logging.NewLogger(w, level)
}

// newDefinitions builds the action registry, the expression evaluator and a loader over
// the definitions directory. It touches no database, so validate can run on its own.
func newDefinitions(cfg Config, logger *slog.Logger) (*actions.Registry, *expressions.ConditionEvaluator, *validation.Loader, *schema.ValidationResult, error) {
	exprEngine, err := expressions.New(cfg.Evaluator)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("evaluator: %w", err)
	}
	conditions := expressions.NewConditionEvaluator(exprEngine)

	jsonSchemas, err := validation.NewJSONSchemaValidator()
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("json schema validator: %w", err)
	}
	docs, err := content.NewDocumentLoader(cfg.ProjectRoot)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("project root: %w", err)
	}

	registry := actions.NewRegistry(actions.WithLogger(logger))
	if err := actions.RegisterBuiltins(registry, actions.BuiltinConfig{
		Validator: jsonSchemas,
		Documents: docs,
		Logger:    logger,
	}); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("register builtins: %w", err)
	}

	validator, err := validation.NewWorkflowValidator(registry, conditions)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("workflow validator: %w", err)
	}
	loader := validation.NewLoader(validator, logger)
	result, err := loader.LoadDir(cfg.DefinitionsDir)
	return registry, conditions, loader, result, err
}

// newApp wires the full runtime: store, journal, engine, plugins and router.
func newApp(ctx context.Context, cfg Config, logger *slog.Logger) (*app, error) {
	registry, conditions, loader, result, err := newDefinitions(cfg, logger)
	if err != nil {
		return nil, err
	}
	for _, w := range result.Warnings {
		logger.Warn("definition warning", slog.String("path", w.Path), slog.String("message", w.Message))
	}

	for _, dir := range []string{filepath.Dir(strings.TrimPrefix(cfg.DBPath, "file:")), cfg.DefinitionsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	db, err := store.NewLibSQLStore(cfg.dbURI())
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	a := &app{
		cfg:        cfg,
		logger:     logger,
		store:      db,
		journal:    store.NewEventLog(db),
		hub:        streaming.NewMemoryHub(),
		registry:   registry,
		hooks:      plugins.NewRegistry(plugins.WithLogger(logger)),
		loader:     loader,
		loadResult: result,
	}
	a.plugins = plugins.NewManager(a.hooks, registry, logger)
	if err := a.plugins.Load(ctx, plugins.NewAuditPlugin(logger)); err != nil {
		_ = db.Close()
		return nil, err
	}

	templates, err := content.NewDocumentLoader(cfg.DefinitionsDir)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("definitions dir: %w", err)
	}

	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithHooks(a.hooks),
		engine.WithEventHub(a.hub),
		engine.WithJournal(streaming.NewRecorder(db, logger)),
		engine.WithCheckpointEvery(cfg.CheckpointEvery),
		engine.WithLoopLimitFactor(cfg.LoopLimitFactor),
		engine.WithConfig(cfg.Variables),
		engine.WithSystemValues(map[string]any{
			"project_root":    cfg.ProjectRoot,
			"definitions_dir": cfg.DefinitionsDir,
			"version":         version,
		}),
	}
	if cfg.OperatorResume {
		opts = append(opts, engine.WithOperatorResume())
	}
	a.engine = engine.New(engine.Deps{
		Store:       db,
		Definitions: loader,
		Actions:     registry,
		Content:     content.NewTemplateGenerator(templates, logger),
		Conditions:  conditions,
	}, opts...)
	a.router = router.New(loader, a.engine, registry, logger)

	return a, nil
}

func (a *app) mcpServer() *mcp.Server {
	mcp.Version = version
	return mcp.NewServer(mcp.ServerDeps{
		Engine:      a.engine,
		Definitions: a.loader,
		Catalog:     a.loader,
		Router:      a.router,
		Traces:      a.journal,
		Hub:         a.hub,
		Logger:      a.logger,
	})
}

func (a *app) sweeper() (*scheduler.Sweeper, error) {
	return scheduler.NewSweeper(a.store, scheduler.Config{
		Retention: time.Duration(a.cfg.Retention),
		Schedule:  a.cfg.CleanupCron,
	}, a.logger)
}

func (a *app) Close(ctx context.Context) {
	a.plugins.UnloadAll(ctx)
	if err := a.store.Close(); err != nil {
		a.logger.Warn("close store", slog.String("error", err.Error()))
	}
}
