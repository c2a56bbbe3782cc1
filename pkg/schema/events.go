package schema

// Event types published on the execution event stream.
const (
	EventStateChange       = "state_change"
	EventStepStart         = "step_start"
	EventStepComplete      = "step_complete"
	EventStepFail          = "step_fail"
	EventStepSkip          = "step_skip"
	EventStepRetry         = "step_retry"
	EventCheckpointCreated = "checkpoint_created"
	EventProgress          = "progress"
	EventError             = "error"
	EventWarning           = "warning"
)

// Transition triggers recorded in execution history.
const (
	TriggerWorkflowStarted   = "workflow_started"
	TriggerInputRequired     = "input_required"
	TriggerInputReceived     = "input_received"
	TriggerUserPaused        = "user_paused"
	TriggerUserResumed       = "user_resumed"
	TriggerWorkflowCompleted = "workflow_completed"
	TriggerWorkflowHalted    = "workflow_halted"
	TriggerErrorOccurred     = "error_occurred"
	TriggerUserCancelled     = "user_cancelled"
	TriggerOperatorResumed   = "operator_resumed"
)

// Hook extension points invoked by the engine.
const (
	HookBeforeStart   = "before_start"
	HookAfterComplete = "after_complete"
	HookBeforeStep    = "before_step"
	HookAfterStep     = "after_step"
	HookOnError       = "on_error"
	HookOnCancel      = "on_cancel"
)
