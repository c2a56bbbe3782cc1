package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rendis/stepflow/internal/expressions"
	"github.com/rendis/stepflow/internal/logging"
	"github.com/rendis/stepflow/internal/store"
	"github.com/rendis/stepflow/internal/streaming"
	"github.com/rendis/stepflow/pkg/schema"
)

// Defaults.
const (
	DefaultCheckpointEvery = 1
	DefaultLoopLimitFactor = 10
)

// Engine drives workflow executions through their lifecycle.
type Engine interface {
	// Start begins a workflow for ec.ProjectID, or continues the active execution if one exists.
	Start(ctx context.Context, workflowID string, input map[string]any, ec ExecutionContext) (*schema.Result, error)
	// Continue advances the active execution of a workflow from its current step.
	Continue(ctx context.Context, workflowID string, ec ExecutionContext) (*schema.Result, error)
	Pause(ctx context.Context, executionID string) (*schema.Result, error)
	Resume(ctx context.Context, executionID string, ec ExecutionContext) (*schema.Result, error)
	Cancel(ctx context.Context, executionID, reason string) (*schema.Result, error)
	// ProvideInput answers the prompt of an execution awaiting input.
	ProvideInput(ctx context.Context, executionID string, input map[string]any, ec ExecutionContext) (*schema.Result, error)
	RestoreCheckpoint(ctx context.Context, executionID string, stepIndex int) (*schema.Result, error)
	GetExecution(ctx context.Context, executionID string) (*schema.ExecutionRecord, error)
	// ActiveExecutions lists executions matching filter; with no statuses it lists non-terminal ones.
	ActiveExecutions(ctx context.Context, filter store.Filter) ([]*schema.ExecutionRecord, error)
}

// Deps are the collaborators the engine is built from.
type Deps struct {
	Store       store.Store
	Definitions DefinitionSource
	Actions     ActionRunner
	Content     ContentGenerator
	Conditions  ConditionEvaluator // nil = CEL
}

// Option configures the engine.
type Option func(*engineImpl)

// WithHooks sets the hook runner invoked at the engine's extension points.
func WithHooks(h HookRunner) Option { return func(e *engineImpl) { e.hooks = h } }

// WithEventHub publishes execution events to hub.
func WithEventHub(hub streaming.EventHub) Option { return func(e *engineImpl) { e.hub = hub } }

// WithJournal appends every execution event to j before the call that produced it returns.
func WithJournal(j Journal) Option { return func(e *engineImpl) { e.journal = j } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(e *engineImpl) { e.logger = l } }

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option { return func(e *engineImpl) { e.now = now } }

// WithCheckpointEvery takes a checkpoint after every n completed steps (0 disables periodic checkpoints).
func WithCheckpointEvery(n int) Option { return func(e *engineImpl) { e.checkpointEvery = n } }

// WithLoopLimitFactor bounds step executions per run to factor * len(steps).
func WithLoopLimitFactor(factor int) Option {
	return func(e *engineImpl) { e.loopLimitFactor = factor }
}

// WithOperatorResume allows Resume to re-open halted executions.
func WithOperatorResume() Option { return func(e *engineImpl) { e.table = OperatorTable() } }

// WithTable replaces the transition table.
func WithTable(t *Table) Option { return func(e *engineImpl) { e.table = t } }

// WithConfig sets the values that `config` sourced variables resolve against.
func WithConfig(cfg map[string]any) Option { return func(e *engineImpl) { e.config = cfg } }

// WithSystemValues sets extra values for `system` sourced variables (e.g. project_root).
func WithSystemValues(v map[string]any) Option { return func(e *engineImpl) { e.system = v } }

type engineImpl struct {
	store      store.Store
	defs       DefinitionSource
	executor   *StepExecutor
	conditions ConditionEvaluator
	hooks      HookRunner
	hub        streaming.EventHub
	journal    Journal
	table      *Table
	logger     *slog.Logger
	now        func() time.Time

	checkpointEvery int
	loopLimitFactor int
	config          map[string]any
	system          map[string]any

	// startMu serializes find-active-or-create. It is never held across hooks.
	startMu sync.Mutex

	// mu guards running.
	mu      sync.Mutex
	running map[string]*executionRun
}

// New creates an Engine.
func New(deps Deps, opts ...Option) Engine {
	return newEngine(deps, opts...)
}

func newEngine(deps Deps, opts ...Option) *engineImpl {
	e := &engineImpl{
		store:           deps.Store,
		defs:            deps.Definitions,
		conditions:      deps.Conditions,
		table:           DefaultTable(),
		logger:          slog.Default(),
		now:             func() time.Time { return time.Now().UTC() },
		checkpointEvery: DefaultCheckpointEvery,
		loopLimitFactor: DefaultLoopLimitFactor,
		running:         make(map[string]*executionRun),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.conditions == nil {
		// CEL is optional; steps with expressions fail as malformed without it.
		if cel, err := expressions.New("cel"); err == nil {
			e.conditions = expressions.NewConditionEvaluator(cel)
		}
	}
	e.executor = NewStepExecutor(deps.Actions, deps.Content, e.conditions, e.logger)
	e.executor.now = e.now
	e.executor.onRetry = e.onRetry
	return e
}

func (e *engineImpl) Start(ctx context.Context, workflowID string, input map[string]any, ec ExecutionContext) (*schema.Result, error) {
	def, err := e.defs.Workflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithWorkflowID(logging.WithProjectID(ctx, ec.projectID()), workflowID)

	rec, run, res, err := e.startOrFind(ctx, def, input, ec)
	if err != nil || res != nil {
		return res, err
	}
	defer e.release(run)
	return e.drive(ctx, run, def, rec, ec)
}

// startOrFind resolves the record Start should drive. A non-nil Result ends Start immediately.
// The before_start hook runs without startMu so a slow plugin cannot stall other Starts; the
// active lookup is repeated under the lock before creating.
func (e *engineImpl) startOrFind(ctx context.Context, def *schema.WorkflowDefinition, input map[string]any, ec ExecutionContext) (*schema.ExecutionRecord, *executionRun, *schema.Result, error) {
	e.startMu.Lock()
	active, err := e.findActive(ctx, def.ID, ec.projectID())
	if err != nil || active != nil {
		defer e.startMu.Unlock()
		if err != nil {
			return nil, nil, nil, err
		}
		e.logger.InfoContext(ctx, "active execution found, continuing", "execution_id", active.ID)
		return e.prepareContinue(ctx, active)
	}
	e.startMu.Unlock()

	hookOut, veto := e.runBeforeHook(ctx, schema.HookBeforeStart, map[string]any{
		"workflow_id": def.ID,
		"project_id":  ec.projectID(),
		"input":       input,
	})
	if veto != nil {
		e.logger.InfoContext(ctx, "start vetoed by hook", "reason", veto.Message)
		return nil, nil, vetoedStartResult(def, veto), nil
	}

	e.startMu.Lock()
	defer e.startMu.Unlock()
	active, err = e.findActive(ctx, def.ID, ec.projectID())
	if err != nil {
		return nil, nil, nil, err
	}
	if active != nil {
		e.logger.InfoContext(ctx, "execution started concurrently, continuing", "execution_id", active.ID)
		return e.prepareContinue(ctx, active)
	}

	now := e.now()
	id := schema.NewExecutionID()
	vars := e.resolveVariables(def, id, ec, now)
	if extra, ok := hookOut["variables"].(map[string]any); ok {
		for k, v := range extra {
			vars[k] = v
		}
	}
	for k, v := range input {
		vars[k] = v
	}

	rec := schema.NewExecutionRecord(def.ID, schema.RecordOptions{
		ID:         id,
		ProjectID:  ec.projectID(),
		Variables:  vars,
		StepsTotal: len(def.Steps),
		Now:        now,
	})
	if err := e.transition(ctx, rec, schema.StatusInProgress, nil); err != nil {
		return nil, nil, nil, err
	}
	run, err := e.claim(ctx, rec.ID)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := e.persist(ctx, rec); err != nil {
		e.release(run)
		return nil, nil, nil, err
	}
	e.logger.InfoContext(ctx, "execution started", "execution_id", rec.ID, "steps", len(def.Steps))
	return rec, run, nil, nil
}

// prepareContinue claims an active record. Records that are not runnable yield their result.
func (e *engineImpl) prepareContinue(ctx context.Context, rec *schema.ExecutionRecord) (*schema.ExecutionRecord, *executionRun, *schema.Result, error) {
	switch rec.Status {
	case schema.StatusPending, schema.StatusInProgress:
	default:
		return nil, nil, e.resultFor(rec), nil
	}

	run, err := e.claim(ctx, rec.ID)
	if err != nil {
		return nil, nil, nil, err
	}
	if rec.Status == schema.StatusPending {
		if err := e.transition(ctx, rec, schema.StatusInProgress, nil); err != nil {
			e.release(run)
			return nil, nil, nil, err
		}
		if err := e.persist(ctx, rec); err != nil {
			e.release(run)
			return nil, nil, nil, err
		}
	}
	return rec, run, nil, nil
}

func (e *engineImpl) Continue(ctx context.Context, workflowID string, ec ExecutionContext) (*schema.Result, error) {
	def, err := e.defs.Workflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithWorkflowID(logging.WithProjectID(ctx, ec.projectID()), workflowID)

	active, err := e.findActive(ctx, workflowID, ec.projectID())
	if err != nil {
		return nil, err
	}
	if active == nil {
		last, err := e.findLatest(ctx, workflowID, ec.projectID())
		if err != nil {
			return nil, err
		}
		if last == nil {
			return nil, schema.NewErrorf(schema.ErrCodeNotFound, "no execution of workflow %q for project %q",
				workflowID, ec.projectID())
		}
		return e.resultFor(last), nil
	}

	rec, run, res, err := e.prepareContinue(ctx, active)
	if err != nil || res != nil {
		return res, err
	}
	defer e.release(run)
	return e.drive(ctx, run, def, rec, ec)
}

func (e *engineImpl) Pause(ctx context.Context, executionID string) (*schema.Result, error) {
	rep, handled, err := e.deliver(ctx, executionID, controlRequest{kind: controlPause})
	if err != nil {
		return nil, err
	}
	if handled {
		return rep.result, rep.err
	}

	run, err := e.claim(ctx, executionID)
	if err != nil {
		return nil, err
	}
	defer e.release(run)

	rec, err := e.load(ctx, executionID)
	if err != nil {
		return nil, err
	}
	return e.pauseRecord(e.correlate(ctx, rec), rec)
}

// pauseRecord checkpoints rec and moves it to paused.
func (e *engineImpl) pauseRecord(ctx context.Context, rec *schema.ExecutionRecord) (*schema.Result, error) {
	if rec.Status != schema.StatusInProgress {
		return nil, invalidTransition(rec, schema.StatusPaused)
	}
	cp := rec.Checkpoint(e.now())
	if err := e.transition(ctx, rec, schema.StatusPaused, map[string]any{"step_index": rec.CurrentStepIndex}); err != nil {
		return nil, err
	}
	if err := e.persist(ctx, rec); err != nil {
		return nil, err
	}
	e.publish(ctx, rec, "", schema.EventCheckpointCreated, map[string]any{"step_index": cp.StepIndex})
	e.logger.InfoContext(ctx, "execution paused", "step_index", rec.CurrentStepIndex)
	return e.resultFor(rec), nil
}

func (e *engineImpl) Resume(ctx context.Context, executionID string, ec ExecutionContext) (*schema.Result, error) {
	run, err := e.claim(ctx, executionID)
	if err != nil {
		return nil, err
	}
	defer e.release(run)

	rec, err := e.load(ctx, executionID)
	if err != nil {
		return nil, err
	}
	ctx = e.correlate(ctx, rec)
	if rec.Status != schema.StatusPaused && rec.Status != schema.StatusHalted {
		return nil, invalidTransition(rec, schema.StatusInProgress)
	}
	def, err := e.defs.Workflow(ctx, rec.WorkflowID)
	if err != nil {
		return nil, err
	}
	if err := e.transition(ctx, rec, schema.StatusInProgress, map[string]any{"step_index": rec.CurrentStepIndex}); err != nil {
		return nil, err
	}
	if err := e.persist(ctx, rec); err != nil {
		return nil, err
	}
	e.logger.InfoContext(ctx, "execution resumed", "step_index", rec.CurrentStepIndex)
	return e.drive(ctx, run, def, rec, ec)
}

func (e *engineImpl) Cancel(ctx context.Context, executionID, reason string) (*schema.Result, error) {
	rep, handled, err := e.deliver(ctx, executionID, controlRequest{kind: controlCancel, reason: reason})
	if err != nil {
		return nil, err
	}
	if handled {
		return rep.result, rep.err
	}

	run, err := e.claim(ctx, executionID)
	if err != nil {
		return nil, err
	}
	defer e.release(run)

	rec, err := e.load(ctx, executionID)
	if err != nil {
		return nil, err
	}
	return e.cancelRecord(e.correlate(ctx, rec), rec, reason)
}

// cancelRecord moves rec to cancelled and records a CANCELLED error entry.
func (e *engineImpl) cancelRecord(ctx context.Context, rec *schema.ExecutionRecord, reason string) (*schema.Result, error) {
	if rec.Status.IsTerminal() {
		return nil, invalidTransition(rec, schema.StatusCancelled)
	}
	if reason == "" {
		reason = "cancelled by user"
	}
	rec.AddError(schema.ExecutionError{
		Code:      schema.ErrCodeCancelled,
		Message:   reason,
		Timestamp: e.now(),
	})
	if err := e.transition(ctx, rec, schema.StatusCancelled, map[string]any{"reason": reason}); err != nil {
		return nil, err
	}
	e.runHook(ctx, schema.HookOnCancel, map[string]any{
		"execution_id": rec.ID,
		"workflow_id":  rec.WorkflowID,
		"reason":       reason,
	})
	if err := e.persist(ctx, rec); err != nil {
		return nil, err
	}
	e.logger.InfoContext(ctx, "execution cancelled", "reason", reason)
	return e.resultFor(rec), nil
}

func (e *engineImpl) ProvideInput(ctx context.Context, executionID string, input map[string]any, ec ExecutionContext) (*schema.Result, error) {
	run, err := e.claim(ctx, executionID)
	if err != nil {
		return nil, err
	}
	defer e.release(run)

	rec, err := e.load(ctx, executionID)
	if err != nil {
		return nil, err
	}
	ctx = e.correlate(ctx, rec)
	if rec.Status != schema.StatusAwaitingInput || rec.AwaitingInput == nil {
		return nil, invalidTransition(rec, schema.StatusInProgress)
	}
	def, err := e.defs.Workflow(ctx, rec.WorkflowID)
	if err != nil {
		return nil, err
	}
	idx, step := awaitedStep(def, rec)
	if step == nil {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidStep, "awaited step %q not found in workflow %q",
			rec.AwaitingInput.StepID, def.ID)
	}

	if err := e.acceptInput(ctx, def, rec, idx, step, input); err != nil {
		return nil, err
	}
	if rec.Status.IsTerminal() {
		return e.resultFor(rec), nil
	}
	if rec.CurrentStepIndex <= len(def.Steps) {
		if err := e.persist(ctx, rec); err != nil {
			return nil, err
		}
	}
	return e.drive(ctx, run, def, rec, ec)
}

func (e *engineImpl) RestoreCheckpoint(ctx context.Context, executionID string, stepIndex int) (*schema.Result, error) {
	run, err := e.claim(ctx, executionID)
	if err != nil {
		return nil, err
	}
	defer e.release(run)

	rec, err := e.load(ctx, executionID)
	if err != nil {
		return nil, err
	}
	ctx = e.correlate(ctx, rec)
	switch rec.Status {
	case schema.StatusCompleted, schema.StatusCancelled, schema.StatusPending:
		return nil, invalidTransition(rec, schema.StatusInProgress)
	case schema.StatusHalted:
		// Re-opening a halt is an operator decision, same as Resume.
		if e.table.Find(schema.StatusHalted, schema.StatusInProgress) == nil {
			return nil, invalidTransition(rec, schema.StatusInProgress)
		}
	}

	from := rec.Status
	if err := rec.RestoreCheckpoint(stepIndex, e.now()); err != nil {
		return nil, err
	}
	rec.StepExecutions = 0
	if err := e.persist(ctx, rec); err != nil {
		return nil, err
	}
	e.publish(ctx, rec, "", schema.EventStateChange, map[string]any{
		"from":    string(from),
		"to":      string(rec.Status),
		"trigger": schema.TriggerCheckpointRestored,
	})
	e.logger.InfoContext(ctx, "checkpoint restored", "step_index", stepIndex)
	return e.resultFor(rec), nil
}

func (e *engineImpl) GetExecution(ctx context.Context, executionID string) (*schema.ExecutionRecord, error) {
	return e.load(ctx, executionID)
}

func (e *engineImpl) ActiveExecutions(ctx context.Context, filter store.Filter) ([]*schema.ExecutionRecord, error) {
	if len(filter.Statuses) == 0 {
		filter.Statuses = activeStatuses
	}
	return e.store.List(ctx, filter)
}

var activeStatuses = []schema.ExecutionStatus{
	schema.StatusPending, schema.StatusInProgress, schema.StatusPaused, schema.StatusAwaitingInput,
}

var terminalStatuses = []schema.ExecutionStatus{
	schema.StatusCompleted, schema.StatusHalted, schema.StatusError, schema.StatusCancelled,
}

func (e *engineImpl) findActive(ctx context.Context, workflowID, projectID string) (*schema.ExecutionRecord, error) {
	return e.first(ctx, store.Filter{WorkflowID: workflowID, ProjectID: projectID, Statuses: activeStatuses, Limit: 1})
}

func (e *engineImpl) findLatest(ctx context.Context, workflowID, projectID string) (*schema.ExecutionRecord, error) {
	return e.first(ctx, store.Filter{WorkflowID: workflowID, ProjectID: projectID, Statuses: terminalStatuses, Limit: 1})
}

func (e *engineImpl) first(ctx context.Context, f store.Filter) (*schema.ExecutionRecord, error) {
	recs, err := e.store.List(ctx, f)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return recs[0], nil
}

func (e *engineImpl) load(ctx context.Context, id string) (*schema.ExecutionRecord, error) {
	rec, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "execution %q not found", id).
			WithDetails(map[string]any{"execution_id": id})
	}
	return rec, nil
}

// persist writes the whole working record. On failure the stored record is the previous one.
func (e *engineImpl) persist(ctx context.Context, rec *schema.ExecutionRecord) error {
	if now := e.now(); now.After(rec.UpdatedAt) {
		rec.UpdatedAt = now
	}
	if err := e.store.Set(context.WithoutCancel(ctx), rec); err != nil {
		e.logger.ErrorContext(ctx, "persist execution failed", "error", err)
		if schema.CodeOf(err) == "" {
			return schema.IOError("persist execution", err)
		}
		return err
	}
	return nil
}

// transition applies a table move and publishes a state_change event.
func (e *engineImpl) transition(ctx context.Context, rec *schema.ExecutionRecord, to schema.ExecutionStatus, details map[string]any) error {
	from := rec.Status
	if err := e.table.Apply(rec, to, details, e.now()); err != nil {
		return err
	}
	trigger := rec.History[len(rec.History)-1].Trigger
	e.logger.DebugContext(ctx, "status transition", "from", from, "to", to, "trigger", trigger)
	e.publish(ctx, rec, "", schema.EventStateChange, map[string]any{
		"from":    string(from),
		"to":      string(to),
		"trigger": trigger,
	})
	return nil
}

func (e *engineImpl) correlate(ctx context.Context, rec *schema.ExecutionRecord) context.Context {
	return logging.WithExecution(ctx, rec.ID, rec.WorkflowID, rec.ProjectID)
}

func invalidTransition(rec *schema.ExecutionRecord, to schema.ExecutionStatus) error {
	return schema.NewErrorf(schema.ErrCodeInvalidTransition, "execution %s cannot move from %s to %s",
		rec.ID, rec.Status, to).
		WithDetails(map[string]any{"execution_id": rec.ID, "from": string(rec.Status), "to": string(to)})
}
