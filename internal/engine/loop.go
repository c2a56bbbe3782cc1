package engine

import (
	"context"
	"fmt"
	"maps"

	"github.com/rendis/stepflow/pkg/schema"
)

// drive runs the step loop on rec until the execution suspends or terminates.
// rec is the operation's working copy; every durable change goes through persist.
func (e *engineImpl) drive(ctx context.Context, run *executionRun, def *schema.WorkflowDefinition, rec *schema.ExecutionRecord, ec ExecutionContext) (*schema.Result, error) {
	ctx = e.correlate(ctx, rec)
	steps := def.Steps
	rec.StepsTotal = len(steps)
	limit := e.loopLimit(len(steps))

	for {
		if req, ok := run.poll(); ok {
			return e.applyControl(ctx, req, rec)
		}
		if rec.CurrentStepIndex > len(steps) {
			return e.complete(ctx, rec)
		}

		idx := rec.CurrentStepIndex
		step := &steps[idx-1]
		if rec.IsStepCompleted(step.ID) {
			rec.CurrentStepIndex++
			continue
		}
		if missing := unmetDependencies(step, rec); len(missing) > 0 {
			e.logger.InfoContext(ctx, "skipping step with unmet dependencies", "step_id", step.ID, "missing", missing)
			e.publish(ctx, rec, step.ID, schema.EventStepSkip, map[string]any{
				"reason":  "unmet_dependencies",
				"missing": missing,
			})
			rec.CurrentStepIndex = idx + 1
			if done, res, err := e.boundary(ctx, rec, false); done {
				return res, err
			}
			continue
		}
		if rec.StepExecutions >= limit {
			return e.fail(ctx, rec, schema.ExecutionError{
				StepID:    step.ID,
				Code:      schema.ErrCodeStepLoopLimit,
				Message:   fmt.Sprintf("step loop limit reached after %d step executions", rec.StepExecutions),
				Timestamp: e.now(),
			})
		}

		if _, veto := e.runBeforeHook(ctx, schema.HookBeforeStep, stepPayload(rec, step, idx)); veto != nil {
			e.logger.InfoContext(ctx, "step vetoed by hook", "step_id", step.ID, "reason", veto.Message)
			if err := e.persist(ctx, rec); err != nil {
				return nil, err
			}
			return vetoedStepResult(e.resultFor(rec), step, veto), nil
		}

		rec.StepExecutions++
		e.logger.InfoContext(ctx, "step started", "step_id", step.ID, "step_index", idx)
		e.publish(ctx, rec, step.ID, schema.EventStepStart, map[string]any{"step_index": idx, "title": step.Title()})

		outcome, err := e.executor.Execute(e.correlate(run.stepCtx, rec), step, idx, rec, ec)
		if err != nil {
			if run.stepCtx.Err() != nil {
				if req, ok := run.poll(); ok {
					return e.applyControl(ctx, req, rec)
				}
				return nil, schema.NewError(schema.ErrCodeCancelled, "execution interrupted").WithCause(err)
			}
			e.logger.ErrorContext(ctx, "malformed step", "step_id", step.ID, "error", err)
			return e.fail(ctx, rec, schema.ExecutionError{
				StepID:    step.ID,
				Code:      schema.ErrCodeInvalidStep,
				Message:   err.Error(),
				Timestamp: e.now(),
			})
		}

		after := stepPayload(rec, step, idx)
		after["outcome"] = string(outcome.Kind)
		e.runHook(ctx, schema.HookAfterStep, after)

		if done, res, err := e.applyOutcome(ctx, def, rec, step, idx, outcome); done {
			return res, err
		}
	}
}

// applyOutcome folds an executor outcome into rec. done reports that the loop must return.
func (e *engineImpl) applyOutcome(ctx context.Context, def *schema.WorkflowDefinition, rec *schema.ExecutionRecord, step *schema.StepDefinition, idx int, o *Outcome) (bool, *schema.Result, error) {
	rec.MergeVariables(o.Variables)
	for _, a := range o.Artifacts {
		rec.AddArtifact(a)
	}

	switch o.Kind {
	case OutcomeSuccess:
		rec.MarkStepCompleted(step.ID)
		e.logger.InfoContext(ctx, "step completed", "step_id", step.ID, "attempts", o.Attempts)
		e.publish(ctx, rec, step.ID, schema.EventStepComplete, map[string]any{"step_index": idx, "attempts": o.Attempts})
		if err := e.moveCursor(def, rec, idx, o.Goto); err != nil {
			res, ferr := e.fail(ctx, rec, schema.ExecutionError{
				StepID: step.ID, Code: schema.ErrCodeInvalidStep, Message: err.Error(), Timestamp: e.now(),
			})
			return true, res, ferr
		}
		return e.boundary(ctx, rec, true)

	case OutcomeSkip:
		e.logger.InfoContext(ctx, "step skipped", "step_id", step.ID)
		e.publish(ctx, rec, step.ID, schema.EventStepSkip, map[string]any{"reason": "condition"})
		rec.CurrentStepIndex = idx + 1
		return e.boundary(ctx, rec, false)

	case OutcomeFailed:
		rec.AddError(*o.Error)
		e.publish(ctx, rec, step.ID, schema.EventStepFail, map[string]any{
			"code":        o.Error.Code,
			"message":     o.Error.Message,
			"attempts":    o.Attempts,
			"recoverable": o.Error.Recoverable,
		})
		if step.IsRequired() {
			e.logger.ErrorContext(ctx, "required step failed", "step_id", step.ID, "error", o.Error.Message)
			res, err := e.terminateWithError(ctx, rec, *o.Error)
			return true, res, err
		}
		e.logger.WarnContext(ctx, "optional step failed, continuing", "step_id", step.ID, "error", o.Error.Message)
		e.publish(ctx, rec, step.ID, schema.EventWarning, map[string]any{"message": o.Error.Message})
		rec.CurrentStepIndex = idx + 1
		return e.boundary(ctx, rec, false)

	case OutcomeAwaitInput:
		rec.AwaitingInput = &schema.AwaitingInput{
			StepID:    step.ID,
			Prompt:    o.Prompt,
			Variables: o.InputRequired,
			Kind:      o.InputKind,
		}
		if err := e.transition(ctx, rec, schema.StatusAwaitingInput, map[string]any{"step_id": step.ID}); err != nil {
			return true, nil, err
		}
		if err := e.persist(ctx, rec); err != nil {
			return true, nil, err
		}
		e.logger.InfoContext(ctx, "awaiting input", "step_id", step.ID, "variables", o.InputRequired)
		return true, e.resultFor(rec), nil

	case OutcomeHalt:
		if err := e.transition(ctx, rec, schema.StatusHalted, map[string]any{
			"step_id": step.ID,
			"reason":  o.HaltReason,
		}); err != nil {
			return true, nil, err
		}
		if err := e.persist(ctx, rec); err != nil {
			return true, nil, err
		}
		e.logger.InfoContext(ctx, "execution halted", "step_id", step.ID, "reason", o.HaltReason)
		return true, e.resultFor(rec), nil
	}

	return true, nil, schema.NewErrorf(schema.ErrCodeExecution, "unknown step outcome %q", o.Kind)
}

// boundary finishes a step that kept the execution running: it completes the execution when
// the cursor ran past the end, otherwise checkpoints (after successes) and persists.
func (e *engineImpl) boundary(ctx context.Context, rec *schema.ExecutionRecord, succeeded bool) (bool, *schema.Result, error) {
	if rec.CurrentStepIndex > rec.StepsTotal {
		res, err := e.complete(ctx, rec)
		return true, res, err
	}
	var cp *schema.Checkpoint
	if succeeded && e.checkpointEvery > 0 && len(rec.CompletedSteps)%e.checkpointEvery == 0 {
		c := rec.Checkpoint(e.now())
		cp = &c
	}
	if err := e.persist(ctx, rec); err != nil {
		return true, nil, err
	}
	if cp != nil {
		e.publish(ctx, rec, "", schema.EventCheckpointCreated, map[string]any{"step_index": cp.StepIndex})
	}
	p := rec.Progress()
	e.publish(ctx, rec, "", schema.EventProgress, map[string]any{
		"total":      p.Total,
		"completed":  p.Completed,
		"percentage": p.Percentage,
	})
	return false, nil, nil
}

// moveCursor advances past idx, or jumps to target. A backward jump reopens every step from the
// target up to idx so they run again.
func (e *engineImpl) moveCursor(def *schema.WorkflowDefinition, rec *schema.ExecutionRecord, idx, target int) error {
	if target == 0 {
		rec.CurrentStepIndex = idx + 1
		return nil
	}
	if target < 1 || target > len(def.Steps) {
		return fmt.Errorf("goto target %d out of range 1..%d", target, len(def.Steps))
	}
	if target <= idx {
		for i := target; i <= idx; i++ {
			rec.UnmarkStepCompleted(def.Steps[i-1].ID)
		}
	}
	rec.CurrentStepIndex = target
	return nil
}

func (e *engineImpl) complete(ctx context.Context, rec *schema.ExecutionRecord) (*schema.Result, error) {
	if err := e.transition(ctx, rec, schema.StatusCompleted, nil); err != nil {
		return nil, err
	}
	e.runHook(ctx, schema.HookAfterComplete, map[string]any{
		"execution_id": rec.ID,
		"workflow_id":  rec.WorkflowID,
		"artifacts":    len(rec.Artifacts),
		"variables":    maps.Clone(rec.Variables),
	})
	if err := e.persist(ctx, rec); err != nil {
		return nil, err
	}
	e.logger.InfoContext(ctx, "execution completed", "completed_steps", len(rec.CompletedSteps))
	return e.resultFor(rec), nil
}

// fail records an execution-level error entry and terminates the execution.
func (e *engineImpl) fail(ctx context.Context, rec *schema.ExecutionRecord, execErr schema.ExecutionError) (*schema.Result, error) {
	rec.AddError(execErr)
	return e.terminateWithError(ctx, rec, execErr)
}

func (e *engineImpl) terminateWithError(ctx context.Context, rec *schema.ExecutionRecord, execErr schema.ExecutionError) (*schema.Result, error) {
	if err := e.transition(ctx, rec, schema.StatusError, map[string]any{
		"step_id": execErr.StepID,
		"code":    execErr.Code,
	}); err != nil {
		return nil, err
	}
	e.runHook(ctx, schema.HookOnError, map[string]any{
		"execution_id": rec.ID,
		"workflow_id":  rec.WorkflowID,
		"step_id":      execErr.StepID,
		"code":         execErr.Code,
		"message":      execErr.Message,
	})
	if err := e.persist(ctx, rec); err != nil {
		return nil, err
	}
	e.publish(ctx, rec, execErr.StepID, schema.EventError, map[string]any{
		"code":    execErr.Code,
		"message": execErr.Message,
	})
	return e.resultFor(rec), nil
}

// acceptInput applies caller input to an awaiting record and moves it back to in_progress.
func (e *engineImpl) acceptInput(ctx context.Context, def *schema.WorkflowDefinition, rec *schema.ExecutionRecord, idx int, step *schema.StepDefinition, input map[string]any) error {
	aw := *rec.AwaitingInput

	if aw.Kind == schema.InputKindArtifact {
		action := schema.ParseInputAction(input[schema.InputKeyAction])
		content, _ := input[schema.InputKeyContent].(string)
		if action == schema.InputEdit && content == "" {
			return schema.NewError(schema.ErrCodeValidation, "edit requires non-empty content").
				WithStep(step.ID).WithDetails(map[string]any{"missing": []string{schema.InputKeyContent}})
		}
		rec.MergeVariables(input)
		if err := e.transition(ctx, rec, schema.StatusInProgress, map[string]any{
			"step_id": step.ID,
			"action":  string(action),
		}); err != nil {
			return err
		}

		switch action {
		case schema.InputRegenerate:
			e.logger.InfoContext(ctx, "regenerating artifact", "step_id", step.ID)
			return nil
		case schema.InputEdit:
			rec.AddArtifact(schema.Artifact{
				StepID:      step.ID,
				Section:     sectionOf(step),
				Content:     content,
				GeneratedAt: e.now(),
			})
		}
		return e.completeAwaited(ctx, def, rec, idx, step)
	}

	var missing []string
	for _, name := range aw.Variables {
		if _, ok := input[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return schema.NewErrorf(schema.ErrCodeValidation, "missing input variables: %v", missing).
			WithStep(step.ID).WithDetails(map[string]any{"missing": missing})
	}
	rec.MergeVariables(input)
	if err := e.transition(ctx, rec, schema.StatusInProgress, map[string]any{"step_id": step.ID}); err != nil {
		return err
	}
	return e.completeAwaited(ctx, def, rec, idx, step)
}

// completeAwaited marks the answered step completed and moves the cursor, honouring goto.
func (e *engineImpl) completeAwaited(ctx context.Context, def *schema.WorkflowDefinition, rec *schema.ExecutionRecord, idx int, step *schema.StepDefinition) error {
	rec.MarkStepCompleted(step.ID)
	e.publish(ctx, rec, step.ID, schema.EventStepComplete, map[string]any{"step_index": idx})

	target, err := e.executor.gotoTarget(ctx, step, rec.Variables)
	if err == nil {
		err = e.moveCursor(def, rec, idx, target)
	}
	if err != nil {
		_, ferr := e.fail(ctx, rec, schema.ExecutionError{
			StepID: step.ID, Code: schema.ErrCodeInvalidStep, Message: err.Error(), Timestamp: e.now(),
		})
		return ferr
	}
	return nil
}

func (e *engineImpl) loopLimit(steps int) int {
	factor := e.loopLimitFactor
	if factor <= 0 {
		factor = DefaultLoopLimitFactor
	}
	return max(factor*steps, 1)
}

// awaitedStep locates the step a record is waiting on.
func awaitedStep(def *schema.WorkflowDefinition, rec *schema.ExecutionRecord) (int, *schema.StepDefinition) {
	idx := rec.CurrentStepIndex
	if idx >= 1 && idx <= len(def.Steps) && def.Steps[idx-1].ID == rec.AwaitingInput.StepID {
		return idx, &def.Steps[idx-1]
	}
	for i := range def.Steps {
		if def.Steps[i].ID == rec.AwaitingInput.StepID {
			return i + 1, &def.Steps[i]
		}
	}
	return 0, nil
}

func unmetDependencies(step *schema.StepDefinition, rec *schema.ExecutionRecord) []string {
	var missing []string
	for _, dep := range step.DependsOn {
		if !rec.IsStepCompleted(dep) {
			missing = append(missing, dep)
		}
	}
	return missing
}

func sectionOf(step *schema.StepDefinition) string {
	if step.Produces != nil {
		return step.Produces.Section
	}
	return step.ID
}

func stepPayload(rec *schema.ExecutionRecord, step *schema.StepDefinition, idx int) map[string]any {
	return map[string]any{
		"execution_id": rec.ID,
		"workflow_id":  rec.WorkflowID,
		"step_id":      step.ID,
		"step_index":   idx,
		"variables":    maps.Clone(rec.Variables),
	}
}
