package engine

import (
	"time"

	"github.com/rendis/stepflow/pkg/schema"
)

// Guard reports whether a transition may fire for the record.
type Guard func(rec *schema.ExecutionRecord) bool

// TransitionAction mutates the record as part of a transition, before status is set.
type TransitionAction func(rec *schema.ExecutionRecord, now time.Time)

// Rule is one legal status move.
type Rule struct {
	From    schema.ExecutionStatus
	To      schema.ExecutionStatus
	Trigger string
	Guard   Guard
	Action  TransitionAction
}

type ruleKey struct {
	from, to schema.ExecutionStatus
}

// Table is the authoritative set of legal status moves. It is immutable after construction.
type Table struct {
	rules map[ruleKey]Rule
}

// NewTable builds a table from rules. A later rule for the same pair replaces an earlier one.
func NewTable(rules ...Rule) *Table {
	t := &Table{rules: make(map[ruleKey]Rule, len(rules))}
	for _, r := range rules {
		t.rules[ruleKey{r.From, r.To}] = r
	}
	return t
}

// DefaultTable returns the standard execution lifecycle.
func DefaultTable() *Table {
	return NewTable(defaultRules()...)
}

// OperatorTable is DefaultTable plus halted -> in_progress, for operators re-opening halted runs.
func OperatorTable() *Table {
	return NewTable(append(defaultRules(), Rule{
		From:    schema.StatusHalted,
		To:      schema.StatusInProgress,
		Trigger: schema.TriggerOperatorResumed,
		Action:  clearCompletedAt,
	})...)
}

func defaultRules() []Rule {
	rules := []Rule{
		{From: schema.StatusPending, To: schema.StatusInProgress, Trigger: schema.TriggerWorkflowStarted},
		{
			From: schema.StatusInProgress, To: schema.StatusAwaitingInput, Trigger: schema.TriggerInputRequired,
			Guard: func(rec *schema.ExecutionRecord) bool { return rec.AwaitingInput != nil },
		},
		{From: schema.StatusAwaitingInput, To: schema.StatusInProgress, Trigger: schema.TriggerInputReceived},
		{From: schema.StatusInProgress, To: schema.StatusPaused, Trigger: schema.TriggerUserPaused},
		{From: schema.StatusPaused, To: schema.StatusInProgress, Trigger: schema.TriggerUserResumed},
	}
	for _, from := range []schema.ExecutionStatus{schema.StatusInProgress, schema.StatusAwaitingInput} {
		rules = append(rules,
			Rule{
				From: from, To: schema.StatusCompleted, Trigger: schema.TriggerWorkflowCompleted,
				Guard:  func(rec *schema.ExecutionRecord) bool { return rec.CurrentStepIndex > rec.StepsTotal },
				Action: stampCompletedAt,
			},
			Rule{From: from, To: schema.StatusHalted, Trigger: schema.TriggerWorkflowHalted, Action: stampCompletedAt},
		)
	}
	for _, from := range []schema.ExecutionStatus{
		schema.StatusPending, schema.StatusInProgress, schema.StatusAwaitingInput, schema.StatusPaused,
	} {
		rules = append(rules,
			Rule{From: from, To: schema.StatusError, Trigger: schema.TriggerErrorOccurred, Action: stampCompletedAt},
			Rule{From: from, To: schema.StatusCancelled, Trigger: schema.TriggerUserCancelled, Action: stampCompletedAt},
		)
	}
	return rules
}

func stampCompletedAt(rec *schema.ExecutionRecord, now time.Time) {
	rec.CompletedAt = &now
}

func clearCompletedAt(rec *schema.ExecutionRecord, _ time.Time) {
	rec.CompletedAt = nil
}

// Find returns the rule for from -> to, or nil.
func (t *Table) Find(from, to schema.ExecutionStatus) *Rule {
	r, ok := t.rules[ruleKey{from, to}]
	if !ok {
		return nil
	}
	return &r
}

// Allowed returns the statuses reachable from from.
func (t *Table) Allowed(from schema.ExecutionStatus) []schema.ExecutionStatus {
	var out []schema.ExecutionStatus
	for k := range t.rules {
		if k.from == from {
			out = append(out, k.to)
		}
	}
	return out
}

// Apply moves rec to status to. On error the record is unchanged.
// Leaving awaiting_input always clears the pending input request.
func (t *Table) Apply(rec *schema.ExecutionRecord, to schema.ExecutionStatus, details map[string]any, now time.Time) error {
	from := rec.Status
	rule := t.Find(from, to)
	if rule == nil {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition, "invalid transition: %s -> %s", from, to).
			WithDetails(map[string]any{"execution_id": rec.ID, "from": string(from), "to": string(to)})
	}
	if rule.Guard != nil && !rule.Guard(rec) {
		return schema.NewErrorf(schema.ErrCodeTransitionCondition, "transition condition not met: %s -> %s", from, to).
			WithDetails(map[string]any{"execution_id": rec.ID, "from": string(from), "to": string(to)})
	}

	if rule.Action != nil {
		rule.Action(rec, now)
	}
	if to != schema.StatusAwaitingInput {
		rec.AwaitingInput = nil
	}
	rec.Status = to
	rec.History = append(rec.History, schema.Transition{
		From:      from,
		To:        to,
		Trigger:   rule.Trigger,
		Timestamp: now,
		Details:   details,
	})
	rec.UpdatedAt = now
	return nil
}
