package engine

import (
	"fmt"
	"slices"
	"strings"

	"github.com/rendis/stepflow/pkg/schema"
)

// resultFor summarises rec for the caller.
func (e *engineImpl) resultFor(rec *schema.ExecutionRecord) *schema.Result {
	res := &schema.Result{
		ExecutionID: rec.ID,
		WorkflowID:  rec.WorkflowID,
		Status:      rec.Status,
		Artifacts:   slices.Clone(rec.Artifacts),
		Progress:    rec.Progress(),
	}

	switch rec.Status {
	case schema.StatusCompleted:
		res.Message = fmt.Sprintf("Workflow %s completed (%d/%d steps)", rec.WorkflowID, res.Progress.Completed, res.Progress.Total)
	case schema.StatusAwaitingInput:
		if aw := rec.AwaitingInput; aw != nil {
			res.Prompt = aw.Prompt
			res.InputRequired = slices.Clone(aw.Variables)
		}
		res.Message = "Waiting for input"
		if len(res.InputRequired) > 0 {
			res.Message += ": " + strings.Join(res.InputRequired, ", ")
		}
	case schema.StatusHalted:
		res.Message = haltReason(rec)
	case schema.StatusError:
		res.Error = rec.LastError()
		res.Message = "Execution failed"
		if res.Error != nil {
			res.Message += ": " + res.Error.Message
		}
	case schema.StatusCancelled:
		res.Error = rec.LastError()
		res.Message = "Execution cancelled"
		if res.Error != nil && res.Error.Message != "" {
			res.Message += ": " + res.Error.Message
		}
	case schema.StatusPaused:
		res.Message = fmt.Sprintf("Execution paused at step %d of %d", rec.CurrentStepIndex, rec.StepsTotal)
	case schema.StatusInProgress:
		res.Message = fmt.Sprintf("Execution in progress at step %d of %d", rec.CurrentStepIndex, rec.StepsTotal)
	default:
		res.Message = "Execution pending"
	}
	return res
}

func haltReason(rec *schema.ExecutionRecord) string {
	for i := len(rec.History) - 1; i >= 0; i-- {
		h := rec.History[i]
		if h.To != schema.StatusHalted {
			continue
		}
		if reason, ok := h.Details["reason"].(string); ok && reason != "" {
			return reason
		}
		break
	}
	return "Workflow halted"
}

func vetoedStartResult(def *schema.WorkflowDefinition, veto *schema.Error) *schema.Result {
	return &schema.Result{
		WorkflowID: def.ID,
		Status:     schema.StatusHalted,
		Message:    "Start vetoed: " + veto.Message,
		Vetoed:     true,
		Error:      &schema.ExecutionError{Code: veto.Code, Message: veto.Message},
		Progress:   schema.Progress{Total: len(def.Steps)},
	}
}

func vetoedStepResult(res *schema.Result, step *schema.StepDefinition, veto *schema.Error) *schema.Result {
	res.Vetoed = true
	res.Message = fmt.Sprintf("Step %s vetoed: %s", step.ID, veto.Message)
	res.Error = &schema.ExecutionError{StepID: step.ID, Code: veto.Code, Message: veto.Message}
	return res
}
