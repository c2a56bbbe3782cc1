package plugins

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/rendis/stepflow/internal/logging"
	"github.com/rendis/stepflow/pkg/schema"
)

// Phase classifies how an extension point treats handler results.
type Phase string

const (
	// PhaseBefore handlers run ahead of an operation. Results are merged into the payload
	// and, when the point is cancellable, may veto the operation.
	PhaseBefore Phase = "before"
	// PhaseAfter handlers observe a finished operation; results are ignored.
	PhaseAfter Phase = "after"
	// PhaseOn handlers transform the payload; results are merged into it.
	PhaseOn Phase = "on"
)

// DefaultPriority orders handlers registered without an explicit priority.
const DefaultPriority = 100

// ExtensionPoint is a named hook the engine (or another caller) executes.
type ExtensionPoint struct {
	Name        string
	Phase       Phase
	Cancellable bool
}

// EnginePoints are the extension points executed by the workflow engine.
var EnginePoints = []ExtensionPoint{
	{Name: schema.HookBeforeStart, Phase: PhaseBefore, Cancellable: true},
	{Name: schema.HookAfterComplete, Phase: PhaseAfter},
	{Name: schema.HookBeforeStep, Phase: PhaseBefore, Cancellable: true},
	{Name: schema.HookAfterStep, Phase: PhaseAfter},
	{Name: schema.HookOnError, Phase: PhaseOn},
	{Name: schema.HookOnCancel, Phase: PhaseOn},
}

// HookFunc handles one extension point invocation. It receives a copy of the payload.
type HookFunc func(ctx context.Context, payload map[string]any) (map[string]any, error)

// Hook binds a handler to an extension point.
type Hook struct {
	Point    string
	Priority int // lower runs first; zero means DefaultPriority
	Handler  HookFunc
}

type handler struct {
	plugin   string
	priority int
	seq      int
	fn       HookFunc
}

// Registry holds extension points and their handlers. It implements engine.HookRunner
// and is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	points   map[string]ExtensionPoint
	handlers map[string][]handler
	seq      int
	strict   bool
	logger   *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for handler failures.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithStrict makes handler failures abort ExecuteHook instead of being logged and skipped.
func WithStrict() Option {
	return func(r *Registry) { r.strict = true }
}

// NewRegistry creates a Registry with the engine extension points registered.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		points:   make(map[string]ExtensionPoint, len(EnginePoints)),
		handlers: make(map[string][]handler),
		logger:   slog.Default(),
	}
	for _, p := range EnginePoints {
		r.points[p.Name] = p
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// RegisterExtensionPoint adds a custom extension point.
func (r *Registry) RegisterExtensionPoint(p ExtensionPoint) error {
	if p.Name == "" {
		return schema.NewError(schema.ErrCodeValidation, "extension point name is empty")
	}
	if p.Phase == "" {
		p.Phase = PhaseOn
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.points[p.Name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "extension point %q already registered", p.Name)
	}
	r.points[p.Name] = p
	return nil
}

// AddHook registers h on behalf of plugin. Handlers of equal priority run in
// registration order.
func (r *Registry) AddHook(plugin string, h Hook) error {
	if h.Handler == nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "hook %q of plugin %q has no handler", h.Point, plugin)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.points[h.Point]; !ok {
		return schema.NewErrorf(schema.ErrCodeValidation, "unknown extension point %q", h.Point)
	}
	prio := h.Priority
	if prio == 0 {
		prio = DefaultPriority
	}
	r.seq++
	list := append(r.handlers[h.Point], handler{plugin: plugin, priority: prio, seq: r.seq, fn: h.Handler})
	slices.SortStableFunc(list, func(a, b handler) int {
		if a.priority != b.priority {
			return a.priority - b.priority
		}
		return a.seq - b.seq
	})
	r.handlers[h.Point] = list
	return nil
}

// RemoveHooks drops every handler registered by plugin.
func (r *Registry) RemoveHooks(plugin string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for point, list := range r.handlers {
		kept := slices.DeleteFunc(list, func(h handler) bool { return h.plugin == plugin })
		removed += len(list) - len(kept)
		r.handlers[point] = kept
	}
	return removed
}

// Handlers returns the number of handlers registered for point.
func (r *Registry) Handlers(point string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[point])
}

// ExecuteHook runs every handler of name in priority order.
//
// Before and on handlers have their results merged into the payload seen by later
// handlers. On a cancellable point a result with "cancelled": true stops the chain and the
// returned payload carries cancelled, cancelled_by and reason. A handler error coded
// HOOK_CANCELLED on a cancellable point is returned as is. Other handler errors are
// logged and skipped unless the registry is strict. Unknown points return the payload
// unchanged.
func (r *Registry) ExecuteHook(ctx context.Context, name string, payload map[string]any) (map[string]any, error) {
	r.mu.RLock()
	point, known := r.points[name]
	list := slices.Clone(r.handlers[name])
	r.mu.RUnlock()

	result := maps.Clone(payload)
	if result == nil {
		result = map[string]any{}
	}
	logger := logging.LogWith(ctx, r.logger)
	if !known {
		logger.Warn("unknown hook", slog.String("hook", name))
		return result, nil
	}

	for _, h := range list {
		out, err := h.fn(ctx, maps.Clone(result))
		if err != nil {
			var sErr *schema.Error
			if point.Cancellable && errors.As(err, &sErr) && sErr.Code == schema.ErrCodeHookCancelled {
				if sErr.Details == nil {
					sErr.Details = map[string]any{}
				}
				sErr.Details["cancelled_by"] = h.plugin
				return nil, sErr
			}
			if r.strict {
				return nil, fmt.Errorf("hook %s (plugin %s): %w", name, h.plugin, err)
			}
			logger.Warn("hook handler failed",
				slog.String("hook", name),
				slog.String("plugin", h.plugin),
				slog.Any("error", err),
			)
			continue
		}

		if point.Cancellable {
			if cancelled, _ := out["cancelled"].(bool); cancelled {
				result["cancelled"] = true
				result["cancelled_by"] = h.plugin
				if reason, ok := out["reason"].(string); ok {
					result["reason"] = reason
				}
				logger.Info("hook cancelled operation", slog.String("hook", name), slog.String("plugin", h.plugin))
				return result, nil
			}
		}
		if point.Phase != PhaseAfter && out != nil {
			maps.Copy(result, out)
		}
	}
	return result, nil
}
