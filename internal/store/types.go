package store

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/rendis/stepflow/pkg/schema"
)

// Filter narrows List results. Zero-valued fields do not filter.
type Filter struct {
	Statuses      []schema.ExecutionStatus `json:"statuses,omitempty"`
	WorkflowID    string                   `json:"workflow_id,omitempty"`
	ProjectID     string                   `json:"project_id,omitempty"`
	UpdatedSince  *time.Time               `json:"updated_since,omitempty"`
	UpdatedBefore *time.Time               `json:"updated_before,omitempty"`
	Limit         int                      `json:"limit,omitempty"`
}

// Matches reports whether rec passes every criterion except Limit.
func (f Filter) Matches(rec *schema.ExecutionRecord) bool {
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, rec.Status) {
		return false
	}
	if f.WorkflowID != "" && f.WorkflowID != rec.WorkflowID {
		return false
	}
	if f.ProjectID != "" && f.ProjectID != rec.ProjectID {
		return false
	}
	if f.UpdatedSince != nil && rec.UpdatedAt.Before(*f.UpdatedSince) {
		return false
	}
	if f.UpdatedBefore != nil && !rec.UpdatedAt.Before(*f.UpdatedBefore) {
		return false
	}
	return true
}

// Event is an immutable entry in the per-execution event journal.
type Event struct {
	ID          int64           `json:"id"`
	ExecutionID string          `json:"execution_id"`
	StepID      string          `json:"step_id,omitempty"`
	Type        string          `json:"event_type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	Sequence    int64           `json:"sequence"`
}

// StepTrace is the per-step view reconstructed from an execution's event journal.
type StepTrace struct {
	StepID      string     `json:"step_id"`
	Status      string     `json:"status"`
	Attempts    int        `json:"attempts"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMs  int64      `json:"duration_ms,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

// Step trace statuses.
const (
	TraceRunning   = "running"
	TraceCompleted = "completed"
	TraceFailed    = "failed"
	TraceSkipped   = "skipped"
	TraceRetrying  = "retrying"
)
