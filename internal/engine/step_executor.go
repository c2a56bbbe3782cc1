package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/rendis/stepflow/internal/expressions"
	"github.com/rendis/stepflow/internal/logging"
	"github.com/rendis/stepflow/pkg/schema"
)

// OutcomeKind classifies the result of running one step.
type OutcomeKind string

const (
	OutcomeSuccess    OutcomeKind = "success"
	OutcomeSkip       OutcomeKind = "skip"
	OutcomeAwaitInput OutcomeKind = "await_input"
	OutcomeHalt       OutcomeKind = "halt"
	OutcomeFailed     OutcomeKind = "failed"
)

// Outcome is what a step produced. It is a delta: the engine applies it to the record.
type Outcome struct {
	Kind          OutcomeKind
	Variables     map[string]any
	Artifacts     []schema.Artifact
	Error         *schema.ExecutionError
	Prompt        string
	InputRequired []string
	InputKind     string
	HaltReason    string
	Goto          int // 1-based target index, 0 when no jump
	Attempts      int
}

// RetryFunc is notified before an action attempt is retried.
type RetryFunc func(ctx context.Context, step *schema.StepDefinition, attempt int, err error)

// StepExecutor runs a single step. It reads the record and never mutates it.
type StepExecutor struct {
	actions    ActionRunner
	content    ContentGenerator
	conditions ConditionEvaluator
	interp     *expressions.Interpolator
	logger     *slog.Logger
	now        func() time.Time
	onRetry    RetryFunc
}

// NewStepExecutor creates a StepExecutor. actions and content may be nil when no step needs them.
func NewStepExecutor(actions ActionRunner, content ContentGenerator, conditions ConditionEvaluator, logger *slog.Logger) *StepExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &StepExecutor{
		actions:    actions,
		content:    content,
		conditions: conditions,
		interp:     expressions.NewInterpolator(),
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Execute runs step (at 1-based index) against rec.
// A non-nil error means the step itself is malformed or ctx was cancelled; step failures are
// reported as an OutcomeFailed outcome.
func (x *StepExecutor) Execute(ctx context.Context, step *schema.StepDefinition, index int, rec *schema.ExecutionRecord, ec ExecutionContext) (*Outcome, error) {
	ctx = logging.WithStepID(ctx, step.ID)
	out := &Outcome{Variables: map[string]any{}}

	ok, err := x.eval(ctx, step, "condition", step.Condition, rec.Variables)
	if err != nil {
		return nil, err
	}
	if !ok {
		out.Kind = OutcomeSkip
		return out, nil
	}

	timeout, err := parseStepTimeout(step)
	if err != nil {
		return nil, err
	}
	if _, err := ComputeBackoff(step.Retry, 1); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidStep, "invalid retry delay %q", step.Retry.Delay).
			WithStep(step.ID).WithCause(err)
	}

	for _, spec := range step.Actions {
		view := withVariables(rec, out.Variables)
		result, attempts, runErr := x.runAction(ctx, step, spec, view, ec, timeout)
		out.Attempts += attempts
		if runErr != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			out.Kind = OutcomeFailed
			out.Error = x.stepError(step, runErr)
			return out, nil
		}
		mergeOutput(out.Variables, spec, result)
	}

	vars := mergedVars(rec.Variables, out.Variables)

	if step.Halt != nil {
		halt, err := x.eval(ctx, step, "halt.when", step.Halt.When, vars)
		if err != nil {
			return nil, err
		}
		if halt {
			out.Kind = OutcomeHalt
			out.HaltReason = x.render(step.Halt.Reason, rec, vars, index, ec)
			if out.HaltReason == "" {
				out.HaltReason = fmt.Sprintf("workflow halted at step %s", step.ID)
			}
			return out, nil
		}
	}

	if step.Produces != nil {
		art, genErr := x.generate(ctx, step, withVariables(rec, out.Variables), ec)
		if genErr != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			out.Kind = OutcomeFailed
			out.Error = x.stepError(step, genErr)
			return out, nil
		}
		out.Artifacts = append(out.Artifacts, art)
		if !ec.IsAutonomous() {
			out.Kind = OutcomeAwaitInput
			out.Prompt = schema.ArtifactPrompt(step.Produces.Section)
			out.InputRequired = []string{schema.InputKeyAction}
			out.InputKind = schema.InputKindArtifact
			return out, nil
		}
	}

	if step.Ask != nil {
		out.Kind = OutcomeAwaitInput
		out.Prompt = x.render(step.Ask.Prompt, rec, vars, index, ec)
		out.InputRequired = append([]string(nil), step.Ask.Variables...)
		out.InputKind = schema.InputKindAsk
		return out, nil
	}

	out.Kind = OutcomeSuccess
	target, err := x.gotoTarget(ctx, step, vars)
	if err != nil {
		return nil, err
	}
	out.Goto = target
	return out, nil
}

// gotoTarget returns the jump target of a successful step, or 0.
func (x *StepExecutor) gotoTarget(ctx context.Context, step *schema.StepDefinition, vars map[string]any) (int, error) {
	if step.Goto == nil {
		return 0, nil
	}
	jump, err := x.eval(ctx, step, "goto.when", step.Goto.When, vars)
	if err != nil || !jump {
		return 0, err
	}
	return step.Goto.Step, nil
}

func (x *StepExecutor) eval(ctx context.Context, step *schema.StepDefinition, field, expr string, vars map[string]any) (bool, error) {
	if expr == "" {
		return true, nil
	}
	if x.conditions == nil {
		return false, schema.NewErrorf(schema.ErrCodeInvalidStep, "%s: no condition evaluator configured", field).
			WithStep(step.ID)
	}
	ok, err := x.conditions.EvaluateBool(ctx, expr, vars)
	if err != nil {
		return false, schema.NewErrorf(schema.ErrCodeInvalidStep, "%s %q: %s", field, expr, err.Error()).
			WithStep(step.ID).WithCause(err)
	}
	return ok, nil
}

// runAction runs one action with per-attempt timeout and the step's retry policy.
func (x *StepExecutor) runAction(ctx context.Context, step *schema.StepDefinition, spec schema.ActionSpec, rec *schema.ExecutionRecord, ec ExecutionContext, timeout time.Duration) (map[string]any, int, error) {
	if x.actions == nil {
		return nil, 0, schema.NewErrorf(schema.ErrCodeActionUnavailable, "no action runner configured for %q", spec.Action)
	}

	maxAttempts := MaxAttempts(step.Retry)
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := x.attempt(ctx, spec, rec, ec, timeout)
		if err == nil {
			return result, attempt, nil
		}
		lastErr = err
		if ctx.Err() != nil || !IsRetryableError(err) || attempt == maxAttempts {
			return nil, attempt, lastErr
		}

		x.logger.WarnContext(ctx, "action attempt failed, retrying",
			"action", spec.Action, "attempt", attempt, "max_attempts", maxAttempts, "error", err)
		if x.onRetry != nil {
			x.onRetry(ctx, step, attempt, err)
		}
		delay, _ := ComputeBackoff(step.Retry, attempt)
		if err := WaitForBackoff(ctx, delay); err != nil {
			return nil, attempt, err
		}
	}
	return nil, maxAttempts, lastErr
}

type actionResult struct {
	out map[string]any
	err error
}

// attempt runs the action once. The action runs in its own goroutine so a runner that ignores
// its context still cannot hold the step past its timeout.
func (x *StepExecutor) attempt(ctx context.Context, spec schema.ActionSpec, rec *schema.ExecutionRecord, ec ExecutionContext, timeout time.Duration) (map[string]any, error) {
	actx := ctx
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		actx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	done := make(chan actionResult, 1)
	go func() {
		out, err := x.actions.Run(actx, spec, rec, ec)
		done <- actionResult{out: out, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
			return nil, timeoutError(spec, timeout)
		}
		return r.out, r.err
	case <-actx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, timeoutError(spec, timeout)
	}
}

func timeoutError(spec schema.ActionSpec, timeout time.Duration) error {
	return schema.NewErrorf(schema.ErrCodeStepTimeout, "action %q timed out after %s", spec.Action, timeout).
		WithCause(context.DeadlineExceeded)
}

func (x *StepExecutor) generate(ctx context.Context, step *schema.StepDefinition, rec *schema.ExecutionRecord, ec ExecutionContext) (schema.Artifact, error) {
	if x.content == nil {
		return schema.Artifact{}, schema.NewErrorf(schema.ErrCodeActionUnavailable,
			"no content generator configured for section %q", step.Produces.Section)
	}
	content, err := x.content.Generate(ctx, *step.Produces, rec, ec)
	if err != nil {
		return schema.Artifact{}, err
	}
	return schema.Artifact{
		StepID:      step.ID,
		Section:     step.Produces.Section,
		Content:     content,
		GeneratedAt: x.now(),
	}, nil
}

// render resolves ${{ }} references in s. Unresolvable text is returned as written.
func (x *StepExecutor) render(s string, rec *schema.ExecutionRecord, vars map[string]any, index int, ec ExecutionContext) string {
	if !expressions.HasInterpolation(s) {
		return s
	}
	out, err := x.interp.Resolve(s, &expressions.Scope{
		Vars:      vars,
		Execution: executionScope(rec, index),
		Context:   ec.ContextValues(),
	})
	if err != nil {
		x.logger.Warn("prompt interpolation failed", "error", err)
		return s
	}
	return out
}

func (x *StepExecutor) stepError(step *schema.StepDefinition, err error) *schema.ExecutionError {
	code := schema.ErrCodeStepFailed
	if schema.IsCode(err, schema.ErrCodeStepTimeout) {
		code = schema.ErrCodeStepTimeout
	}
	return &schema.ExecutionError{
		StepID:      step.ID,
		Code:        code,
		Message:     err.Error(),
		Timestamp:   x.now(),
		Recoverable: !step.IsRequired(),
	}
}

func parseStepTimeout(step *schema.StepDefinition) (time.Duration, error) {
	if step.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(step.Timeout)
	if err != nil || d < 0 {
		return 0, schema.NewErrorf(schema.ErrCodeInvalidStep, "invalid timeout %q", step.Timeout).
			WithStep(step.ID).WithCause(err)
	}
	return d, nil
}

func mergeOutput(dst map[string]any, spec schema.ActionSpec, result map[string]any) {
	if result == nil {
		return
	}
	if spec.Output != "" {
		dst[spec.Output] = result
		return
	}
	maps.Copy(dst, result)
}

func mergedVars(base, delta map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(delta))
	maps.Copy(out, base)
	maps.Copy(out, delta)
	return out
}

// withVariables returns a copy of rec with delta applied, for collaborators that need to see
// outputs of earlier actions in the same step.
func withVariables(rec *schema.ExecutionRecord, delta map[string]any) *schema.ExecutionRecord {
	view := rec.Clone()
	view.MergeVariables(delta)
	return view
}

func executionScope(rec *schema.ExecutionRecord, index int) map[string]any {
	return map[string]any{
		"id":          rec.ID,
		"workflow_id": rec.WorkflowID,
		"project_id":  rec.ProjectID,
		"step_index":  index,
	}
}
