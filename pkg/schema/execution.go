package schema

import (
	"time"

	"go.jetify.com/typeid"
)

// ExecutionStatus represents the lifecycle state of a workflow execution.
type ExecutionStatus string

const (
	StatusPending       ExecutionStatus = "pending"
	StatusInProgress    ExecutionStatus = "in_progress"
	StatusPaused        ExecutionStatus = "paused"
	StatusAwaitingInput ExecutionStatus = "awaiting_input"
	StatusCompleted     ExecutionStatus = "completed"
	StatusHalted        ExecutionStatus = "halted"
	StatusError         ExecutionStatus = "error"
	StatusCancelled     ExecutionStatus = "cancelled"
)

// IsTerminal reports whether the engine will no longer advance an execution in this status.
// Halted executions are terminal but may be re-opened by an operator.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusHalted, StatusError, StatusCancelled:
		return true
	}
	return false
}

// DefaultProjectID is used when the caller does not scope an execution to a project.
const DefaultProjectID = "default"

// ExecutionRecord is the persisted state of one workflow run.
type ExecutionRecord struct {
	ID               string           `json:"id"`
	WorkflowID       string           `json:"workflow_id"`
	ProjectID        string           `json:"project_id"`
	Status           ExecutionStatus  `json:"status"`
	CurrentStepIndex int              `json:"current_step_index"`
	StepsTotal       int              `json:"steps_total"`
	StepExecutions   int              `json:"step_executions"`
	CompletedSteps   []string         `json:"completed_steps"`
	Variables        map[string]any   `json:"variables"`
	Artifacts        []Artifact       `json:"artifacts"`
	Checkpoints      []Checkpoint     `json:"checkpoints"`
	History          []Transition     `json:"history"`
	Errors           []ExecutionError `json:"errors"`
	AwaitingInput    *AwaitingInput   `json:"awaiting_input,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
	CompletedAt      *time.Time       `json:"completed_at,omitempty"`
}

// Artifact is a generated output attached to an execution.
type Artifact struct {
	ID          string    `json:"id"`
	StepID      string    `json:"step_id,omitempty"`
	Section     string    `json:"section"`
	Content     string    `json:"content"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Checkpoint snapshots enough state to rewind an execution to StepIndex.
type Checkpoint struct {
	StepIndex      int            `json:"step_index"`
	Timestamp      time.Time      `json:"timestamp"`
	Variables      map[string]any `json:"variables"`
	CompletedSteps []string       `json:"completed_steps"`
	ArtifactIDs    []string       `json:"artifact_ids"`
}

// Transition is one entry of the audit trail.
type Transition struct {
	From      ExecutionStatus `json:"from"`
	To        ExecutionStatus `json:"to"`
	Trigger   string          `json:"trigger"`
	Timestamp time.Time       `json:"timestamp"`
	Details   map[string]any  `json:"details,omitempty"`
}

// ExecutionError records a failure observed during an execution.
type ExecutionError struct {
	StepID      string    `json:"step_id,omitempty"`
	Code        string    `json:"code"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	Recoverable bool      `json:"recoverable"`
}

// AwaitingInput kinds.
const (
	InputKindAsk      = "ask"
	InputKindArtifact = "artifact"
)

// AwaitingInput describes what the caller must supply to resume a suspended execution.
type AwaitingInput struct {
	StepID    string   `json:"step_id"`
	Prompt    string   `json:"prompt"`
	Variables []string `json:"variables"`
	Kind      string   `json:"kind"`
}

// Progress summarises step completion.
type Progress struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	Percentage int `json:"percentage"`
}

// Result is returned by every engine operation that drives an execution.
type Result struct {
	ExecutionID   string          `json:"execution_id,omitempty"`
	WorkflowID    string          `json:"workflow_id"`
	Status        ExecutionStatus `json:"status"`
	Message       string          `json:"message"`
	Prompt        string          `json:"prompt,omitempty"`
	InputRequired []string        `json:"input_required,omitempty"`
	Artifacts     []Artifact      `json:"artifacts,omitempty"`
	Error         *ExecutionError `json:"error,omitempty"`
	Vetoed        bool            `json:"vetoed,omitempty"`
	Progress      Progress        `json:"progress"`
}

// NewExecutionID returns a fresh prefixed execution identifier.
func NewExecutionID() string {
	id, err := typeid.WithPrefix("exec")
	if err != nil {
		panic(err)
	}
	return id.String()
}
