package plugins

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/rendis/stepflow/internal/actions"
	"github.com/rendis/stepflow/pkg/schema"
)

// Plugin contributes hook handlers and, optionally, actions registered under its name.
type Plugin interface {
	Name() string
	Hooks() []Hook
	Actions() []actions.Action
}

// Initializer is implemented by plugins that need setup before their hooks are added.
type Initializer interface {
	Init(ctx context.Context) error
}

// Shutdowner is implemented by plugins that release resources on unload.
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// Manager loads and unloads plugins, wiring their hooks into a Registry and their actions
// into an action registry.
type Manager struct {
	hooks   *Registry
	actions *actions.Registry
	logger  *slog.Logger

	mu      sync.Mutex
	loaded  map[string]Plugin
	ordered []string
}

// NewManager creates a Manager. acts may be nil when plugins contribute no actions.
func NewManager(hooks *Registry, acts *actions.Registry, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		hooks:   hooks,
		actions: acts,
		logger:  logger,
		loaded:  make(map[string]Plugin),
	}
}

// Load initializes p and registers its hooks and actions. A failing hook registration
// rolls back the hooks already added.
func (m *Manager) Load(ctx context.Context, p Plugin) error {
	name := p.Name()
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "plugin name is empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.loaded[name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "plugin %q already loaded", name)
	}

	if init, ok := p.(Initializer); ok {
		if err := init.Init(ctx); err != nil {
			return schema.NewErrorf(schema.ErrCodeExecution, "init plugin %q", name).WithCause(err)
		}
	}

	for _, h := range p.Hooks() {
		if err := m.hooks.AddHook(name, h); err != nil {
			m.hooks.RemoveHooks(name)
			return err
		}
	}

	acts := p.Actions()
	if len(acts) > 0 {
		if m.actions == nil {
			m.hooks.RemoveHooks(name)
			return schema.NewErrorf(schema.ErrCodeValidation, "plugin %q provides actions but no action registry is configured", name)
		}
		if _, err := m.actions.RegisterPlugin(name, acts); err != nil {
			m.hooks.RemoveHooks(name)
			return err
		}
	}

	m.loaded[name] = p
	m.ordered = append(m.ordered, name)
	m.logger.Info("plugin loaded",
		slog.String("plugin", name),
		slog.Int("hooks", len(p.Hooks())),
		slog.Int("actions", len(acts)),
	)
	return nil
}

// Unload removes p's hooks and calls its Shutdown. Actions stay registered; the action
// registry has no removal.
func (m *Manager) Unload(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unloadLocked(ctx, name)
}

func (m *Manager) unloadLocked(ctx context.Context, name string) error {
	p, ok := m.loaded[name]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "plugin %q not loaded", name)
	}
	m.hooks.RemoveHooks(name)
	delete(m.loaded, name)
	m.ordered = slices.DeleteFunc(m.ordered, func(n string) bool { return n == name })

	if s, ok := p.(Shutdowner); ok {
		if err := s.Shutdown(ctx); err != nil {
			m.logger.Warn("plugin shutdown failed", slog.String("plugin", name), slog.Any("error", err))
		}
	}
	m.logger.Info("plugin unloaded", slog.String("plugin", name))
	return nil
}

// UnloadAll unloads every plugin in reverse load order.
func (m *Manager) UnloadAll(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.ordered) - 1; i >= 0; i-- {
		_ = m.unloadLocked(ctx, m.ordered[i])
	}
}

// Loaded returns the names of loaded plugins in load order.
func (m *Manager) Loaded() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.ordered)
}
