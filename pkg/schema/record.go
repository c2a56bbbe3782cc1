package schema

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// Record model operations. None of these perform I/O; the engine persists the result.

// TriggerCreated and TriggerCheckpointRestored tag history entries written by the record model.
const (
	TriggerCreated            = "created"
	TriggerCheckpointRestored = "checkpoint_restored"
)

// RecordOptions configures a new execution record.
type RecordOptions struct {
	ID         string
	ProjectID  string
	Variables  map[string]any
	StepsTotal int
	Now        time.Time
}

// NewExecutionRecord creates a pending record positioned at step 1.
func NewExecutionRecord(workflowID string, opts RecordOptions) *ExecutionRecord {
	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id := opts.ID
	if id == "" {
		id = NewExecutionID()
	}
	project := opts.ProjectID
	if project == "" {
		project = DefaultProjectID
	}
	vars := make(map[string]any, len(opts.Variables))
	for k, v := range opts.Variables {
		vars[k] = copyValue(v)
	}
	return &ExecutionRecord{
		ID:               id,
		WorkflowID:       workflowID,
		ProjectID:        project,
		Status:           StatusPending,
		CurrentStepIndex: 1,
		StepsTotal:       opts.StepsTotal,
		CompletedSteps:   []string{},
		Variables:        vars,
		Artifacts:        []Artifact{},
		Checkpoints:      []Checkpoint{},
		History: []Transition{{
			To:        StatusPending,
			Trigger:   TriggerCreated,
			Timestamp: now,
		}},
		Errors:    []ExecutionError{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy that shares no mutable state with r.
func (r *ExecutionRecord) Clone() *ExecutionRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.CompletedSteps = slices.Clone(r.CompletedSteps)
	c.Variables = copyMap(r.Variables)
	c.Artifacts = slices.Clone(r.Artifacts)
	c.Errors = slices.Clone(r.Errors)

	c.Checkpoints = make([]Checkpoint, len(r.Checkpoints))
	for i, cp := range r.Checkpoints {
		cp.Variables = copyMap(cp.Variables)
		cp.CompletedSteps = slices.Clone(cp.CompletedSteps)
		cp.ArtifactIDs = slices.Clone(cp.ArtifactIDs)
		c.Checkpoints[i] = cp
	}
	c.History = make([]Transition, len(r.History))
	for i, h := range r.History {
		h.Details = copyMap(h.Details)
		c.History[i] = h
	}
	if r.AwaitingInput != nil {
		ai := *r.AwaitingInput
		ai.Variables = slices.Clone(ai.Variables)
		c.AwaitingInput = &ai
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// AddArtifact appends a, assigning an ID when it has none.
func (r *ExecutionRecord) AddArtifact(a Artifact) Artifact {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	r.Artifacts = append(r.Artifacts, a)
	return a
}

// IsStepCompleted reports whether stepID already reported success.
func (r *ExecutionRecord) IsStepCompleted(stepID string) bool {
	return slices.Contains(r.CompletedSteps, stepID)
}

// MarkStepCompleted records stepID as completed. It is a no-op when already present.
func (r *ExecutionRecord) MarkStepCompleted(stepID string) {
	if !r.IsStepCompleted(stepID) {
		r.CompletedSteps = append(r.CompletedSteps, stepID)
	}
}

// UnmarkStepCompleted removes stepID from the completed set.
func (r *ExecutionRecord) UnmarkStepCompleted(stepID string) {
	r.CompletedSteps = slices.DeleteFunc(r.CompletedSteps, func(s string) bool { return s == stepID })
}

// Checkpoint snapshots variables, completed steps and artifact IDs at the current step index
// and appends it. Timestamps never go backwards relative to earlier checkpoints.
func (r *ExecutionRecord) Checkpoint(now time.Time) Checkpoint {
	if n := len(r.Checkpoints); n > 0 && now.Before(r.Checkpoints[n-1].Timestamp) {
		now = r.Checkpoints[n-1].Timestamp
	}
	ids := make([]string, 0, len(r.Artifacts))
	for _, a := range r.Artifacts {
		ids = append(ids, a.ID)
	}
	cp := Checkpoint{
		StepIndex:      r.CurrentStepIndex,
		Timestamp:      now,
		Variables:      copyMap(r.Variables),
		CompletedSteps: slices.Clone(r.CompletedSteps),
		ArtifactIDs:    ids,
	}
	r.Checkpoints = append(r.Checkpoints, cp)

	// Return a copy so the caller cannot alias the stored snapshot.
	out := cp
	out.Variables = copyMap(cp.Variables)
	out.CompletedSteps = slices.Clone(cp.CompletedSteps)
	out.ArtifactIDs = slices.Clone(cp.ArtifactIDs)
	return out
}

// RestoreCheckpoint rewinds the record to the latest checkpoint taken at stepIndex and forces
// status back to in_progress. The record is untouched when no checkpoint matches.
func (r *ExecutionRecord) RestoreCheckpoint(stepIndex int, now time.Time) error {
	found := -1
	for i := len(r.Checkpoints) - 1; i >= 0; i-- {
		if r.Checkpoints[i].StepIndex == stepIndex {
			found = i
			break
		}
	}
	if found < 0 {
		return NewErrorf(ErrCodeCheckpointNotFound, "no checkpoint for step index %d", stepIndex).
			WithDetails(map[string]any{"execution_id": r.ID, "step_index": stepIndex})
	}

	cp := r.Checkpoints[found]
	from := r.Status
	r.CurrentStepIndex = cp.StepIndex
	r.Variables = copyMap(cp.Variables)
	r.CompletedSteps = slices.Clone(cp.CompletedSteps)
	r.AwaitingInput = nil
	r.CompletedAt = nil
	r.Status = StatusInProgress
	r.History = append(r.History, Transition{
		From:      from,
		To:        StatusInProgress,
		Trigger:   TriggerCheckpointRestored,
		Timestamp: now,
		Details:   map[string]any{"step_index": stepIndex},
	})
	r.UpdatedAt = now
	return nil
}

// AddError appends an error entry.
func (r *ExecutionRecord) AddError(e ExecutionError) {
	r.Errors = append(r.Errors, e)
}

// LastError returns the most recent error entry, or nil.
func (r *ExecutionRecord) LastError() *ExecutionError {
	if len(r.Errors) == 0 {
		return nil
	}
	e := r.Errors[len(r.Errors)-1]
	return &e
}

// Progress reports completed steps against the total.
func (r *ExecutionRecord) Progress() Progress {
	p := Progress{Total: r.StepsTotal, Completed: len(r.CompletedSteps)}
	if p.Total > 0 {
		p.Percentage = p.Completed * 100 / p.Total
		if p.Percentage > 100 {
			p.Percentage = 100
		}
	}
	return p
}

// MergeVariables shallow-merges vars into the record; later keys win.
func (r *ExecutionRecord) MergeVariables(vars map[string]any) {
	if r.Variables == nil {
		r.Variables = make(map[string]any, len(vars))
	}
	for k, v := range vars {
		r.Variables[k] = copyValue(v)
	}
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	case []string:
		return slices.Clone(t)
	default:
		return v
	}
}
