package validation

import (
	"fmt"
	"strings"
	"time"

	"github.com/rendis/stepflow/internal/expressions"
	"github.com/rendis/stepflow/pkg/schema"
)

// maxRetryAttempts is the attempt count above which a warning is raised.
const maxRetryAttempts = 10

// validateSemantic checks what the JSON Schema cannot express: unique step IDs,
// dependency ordering, goto ranges, durations, expressions and action names.
func validateSemantic(def *schema.WorkflowDefinition, lookup ActionLookup, checker ExpressionChecker) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	if len(def.Steps) == 0 {
		result.AddWarning("steps", schema.IssueEmptyWorkflow,
			fmt.Sprintf("workflow %q has no steps and completes immediately", def.ID))
		return result
	}

	// position maps step ID to its 0-based index; the first occurrence wins.
	position := make(map[string]int, len(def.Steps))
	for i, s := range def.Steps {
		if prev, dup := position[s.ID]; dup {
			result.AddError(fmt.Sprintf("steps[%d].id", i), schema.IssueDuplicateID,
				fmt.Sprintf("step id %q already used by steps[%d]", s.ID, prev))
			continue
		}
		position[s.ID] = i
	}

	for i := range def.Steps {
		validateStepSemantic(&def.Steps[i], i, len(def.Steps), position, lookup, checker, result)
	}

	return result
}

func validateStepSemantic(step *schema.StepDefinition, index, total int, position map[string]int,
	lookup ActionLookup, checker ExpressionChecker, result *schema.ValidationResult) {
	path := fmt.Sprintf("steps[%d]", index)

	// Dependencies must name an earlier step; steps run in declared order.
	for j, dep := range step.DependsOn {
		depPath := fmt.Sprintf("%s.depends_on[%d]", path, j)
		at, ok := position[dep]
		switch {
		case !ok:
			result.AddError(depPath, schema.IssueUnknownDependency,
				fmt.Sprintf("references non-existent step %q", dep))
		case at >= index:
			result.AddError(depPath, schema.IssueForwardDependency,
				fmt.Sprintf("step %q does not run before %q", dep, step.ID))
		}
	}

	if step.Goto != nil {
		if step.Goto.Step < 1 || step.Goto.Step > total {
			result.AddError(path+".goto.step", schema.IssueGotoOutOfRange,
				fmt.Sprintf("goto target %d outside 1..%d", step.Goto.Step, total))
		}
		checkExpression(checker, path+".goto.when", step.Goto.When, result)
	}

	checkDuration(path+".timeout", step.Timeout, result)
	if step.Retry != nil {
		checkDuration(path+".retry.delay", step.Retry.Delay, result)
		if step.Retry.MaxAttempts > maxRetryAttempts {
			result.AddWarning(path+".retry.max_attempts", schema.ErrCodeValidation,
				fmt.Sprintf("high attempt count (%d) may cause excessive delays", step.Retry.MaxAttempts))
		}
	}

	checkExpression(checker, path+".condition", step.Condition, result)
	if step.Halt != nil {
		checkExpression(checker, path+".halt.when", step.Halt.When, result)
	}

	for j, a := range step.Actions {
		checkAction(lookup, fmt.Sprintf("%s.actions[%d].action", path, j), a.Action, result)
	}

	if step.Produces != nil && step.Produces.Template != "" && step.Produces.TemplateFile != "" {
		result.AddWarning(path+".produces", schema.IssueSchema,
			"template and template_file both set; template wins")
	}
	if step.Ask != nil && step.Produces != nil {
		result.AddWarning(path, schema.IssueSchema,
			"ask and produces on the same step; the artifact review prompt is shown first")
	}

	checkReferences(path, step, result)
}

func checkAction(lookup ActionLookup, path, name string, result *schema.ValidationResult) {
	if lookup == nil || name == "" {
		return
	}
	if !lookup.Has(name) {
		result.AddError(path, schema.IssueUnknownAction, fmt.Sprintf("action %q not registered", name))
	}
}

func checkDuration(path, value string, result *schema.ValidationResult) {
	if value == "" {
		return
	}
	if d, err := time.ParseDuration(value); err != nil || d < 0 {
		result.AddError(path, schema.IssueBadDuration, fmt.Sprintf("invalid duration %q", value))
	}
}

func checkExpression(checker ExpressionChecker, path, expr string, result *schema.ValidationResult) {
	if checker == nil || strings.TrimSpace(expr) == "" {
		return
	}
	if err := checker.Check(expr); err != nil {
		result.AddError(path, schema.IssueBadExpression, fmt.Sprintf("expression %q: %v", expr, err))
	}
}

// checkReferences flags ${{ }} references outside the known namespaces in prompts and reasons.
func checkReferences(path string, step *schema.StepDefinition, result *schema.ValidationResult) {
	texts := map[string]string{}
	if step.Ask != nil {
		texts[path+".ask.prompt"] = step.Ask.Prompt
	}
	if step.Halt != nil {
		texts[path+".halt.reason"] = step.Halt.Reason
	}
	if step.Produces != nil {
		texts[path+".produces.template"] = step.Produces.Template
	}
	for p, text := range texts {
		for _, ref := range expressions.References(text) {
			if !expressions.KnownNamespace(ref) {
				result.AddError(p, schema.IssueBadExpression,
					fmt.Sprintf("reference %q must start with vars, execution or context", ref))
			}
		}
	}
}

// validateAgentSemantic checks that every menu item targets exactly one known workflow or action.
func validateAgentSemantic(agent *schema.AgentDefinition, workflows func(string) bool, lookup ActionLookup) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	triggers := make(map[string]int, len(agent.Menu))
	for i, item := range agent.Menu {
		path := fmt.Sprintf("menu[%d]", i)
		if prev, dup := triggers[item.Trigger]; dup {
			result.AddError(path+".trigger", schema.IssueDuplicateID,
				fmt.Sprintf("trigger %q already used by menu[%d]", item.Trigger, prev))
		} else {
			triggers[item.Trigger] = i
		}

		switch {
		case item.Workflow != "" && item.Task != nil:
			result.AddError(path, schema.IssueMenuTarget, "menu item has both workflow and task")
		case item.Workflow == "" && item.Task == nil:
			result.AddError(path, schema.IssueMenuTarget, "menu item has neither workflow nor task")
		case item.Workflow != "":
			if workflows != nil && !workflows(item.Workflow) {
				result.AddError(path+".workflow", schema.IssueMenuTarget,
					fmt.Sprintf("workflow %q not found", item.Workflow))
			}
		default:
			checkAction(lookup, path+".task.action", item.Task.Action, result)
		}
	}
	return result
}
