package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rendis/stepflow/internal/store"
	"github.com/rendis/stepflow/internal/streaming"
	"github.com/rendis/stepflow/pkg/schema"
)

type actionFunc func(ctx context.Context, spec schema.ActionSpec, rec *schema.ExecutionRecord) (map[string]any, error)

// scriptedRunner dispatches actions by name and counts calls.
type scriptedRunner struct {
	mu      sync.Mutex
	actions map[string]actionFunc
	calls   map[string]int
}

func newScriptedRunner() *scriptedRunner {
	r := &scriptedRunner{actions: map[string]actionFunc{}, calls: map[string]int{}}
	r.on("ok", func(context.Context, schema.ActionSpec, *schema.ExecutionRecord) (map[string]any, error) {
		return nil, nil
	})
	r.on("set", func(_ context.Context, spec schema.ActionSpec, _ *schema.ExecutionRecord) (map[string]any, error) {
		return spec.Params, nil
	})
	r.on("fail", func(context.Context, schema.ActionSpec, *schema.ExecutionRecord) (map[string]any, error) {
		return nil, errors.New("boom")
	})
	return r
}

func (r *scriptedRunner) on(name string, fn actionFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[name] = fn
}

func (r *scriptedRunner) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[name]
}

func (r *scriptedRunner) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		n += c
	}
	return n
}

func (r *scriptedRunner) Run(ctx context.Context, spec schema.ActionSpec, rec *schema.ExecutionRecord, _ ExecutionContext) (map[string]any, error) {
	r.mu.Lock()
	fn, ok := r.actions[spec.Action]
	r.calls[spec.Action]++
	r.mu.Unlock()
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeActionUnavailable, "unknown action %q", spec.Action)
	}
	return fn(ctx, spec, rec)
}

// countingContent renders "<section> draft N".
type countingContent struct {
	mu sync.Mutex
	n  int
}

func (c *countingContent) Generate(_ context.Context, p schema.ProducesDirective, _ *schema.ExecutionRecord, _ ExecutionContext) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return fmt.Sprintf("%s draft %d", p.Section, c.n), nil
}

type hookFunc func(ctx context.Context, name string, payload map[string]any) (map[string]any, error)

func (f hookFunc) ExecuteHook(ctx context.Context, name string, payload map[string]any) (map[string]any, error) {
	return f(ctx, name, payload)
}

// flakyStore fails Set while failing is true.
type flakyStore struct {
	store.Store
	mu      sync.Mutex
	failing bool
}

func (s *flakyStore) setFailing(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = v
}

func (s *flakyStore) Set(ctx context.Context, rec *schema.ExecutionRecord) error {
	s.mu.Lock()
	failing := s.failing
	s.mu.Unlock()
	if failing {
		return schema.IOError("set execution", errors.New("disk full"))
	}
	return s.Store.Set(ctx, rec)
}

func act(name string) []schema.ActionSpec {
	return []schema.ActionSpec{{Action: name}}
}

func linearWorkflow(id string, n int) *schema.WorkflowDefinition {
	wf := &schema.WorkflowDefinition{ID: id}
	for i := 1; i <= n; i++ {
		wf.Steps = append(wf.Steps, schema.StepDefinition{ID: fmt.Sprintf("s%d", i), Actions: act("ok")})
	}
	return wf
}

func boolPtr(b bool) *bool { return &b }

type recordingJournal struct {
	mu     sync.Mutex
	events []streaming.StreamEvent
	err    error
}

func (j *recordingJournal) Record(_ context.Context, ev streaming.StreamEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return j.err
	}
	j.events = append(j.events, ev)
	return nil
}

func (j *recordingJournal) count(eventType string) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	n := 0
	for _, ev := range j.events {
		if ev.EventType == eventType {
			n++
		}
	}
	return n
}
