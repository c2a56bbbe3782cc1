package schema

import (
	"encoding/json"
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

// WorkflowDefinition is the declarative workflow format loaded from YAML.
// Steps run in declared order; Goto directives may redirect the cursor.
type WorkflowDefinition struct {
	ID          string                        `json:"id" yaml:"id"`
	Name        string                        `json:"name,omitempty" yaml:"name,omitempty"`
	Description string                        `json:"description,omitempty" yaml:"description,omitempty"`
	Variables   map[string]VariableDefinition `json:"variables,omitempty" yaml:"variables,omitempty"`
	Steps       []StepDefinition              `json:"steps" yaml:"steps"`
	Metadata    map[string]any                `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// VariableDefinition declares a workflow variable and where its initial value comes from.
type VariableDefinition struct {
	Default any    `json:"default,omitempty" yaml:"default,omitempty"`
	Source  string `json:"source,omitempty" yaml:"source,omitempty"` // config | system | context (empty: default only)
	Path    string `json:"path,omitempty" yaml:"path,omitempty"`
}

// Variable sources.
const (
	VariableSourceConfig  = "config"
	VariableSourceSystem  = "system"
	VariableSourceContext = "context"
)

// StepDefinition describes a single step in a workflow.
type StepDefinition struct {
	ID        string             `json:"id" yaml:"id"`
	Name      string             `json:"name,omitempty" yaml:"name,omitempty"`
	Goal      string             `json:"goal,omitempty" yaml:"goal,omitempty"`
	Condition string             `json:"condition,omitempty" yaml:"condition,omitempty"` // guard, evaluated before execution
	Actions   []ActionSpec       `json:"actions,omitempty" yaml:"actions,omitempty"`
	Produces  *ProducesDirective `json:"produces,omitempty" yaml:"produces,omitempty"`
	Ask       *AskDirective      `json:"ask,omitempty" yaml:"ask,omitempty"`
	DependsOn []string           `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Retry     *RetryPolicy       `json:"retry,omitempty" yaml:"retry,omitempty"`
	Timeout   string             `json:"timeout,omitempty" yaml:"timeout,omitempty"` // per action attempt (e.g. "30s")
	Required  *bool              `json:"required,omitempty" yaml:"required,omitempty"`
	Goto      *GotoDirective     `json:"goto,omitempty" yaml:"goto,omitempty"`
	Halt      *HaltDirective     `json:"halt,omitempty" yaml:"halt,omitempty"`
}

// IsRequired reports whether a failure of this step fails the execution. Defaults to true.
func (s *StepDefinition) IsRequired() bool {
	return s.Required == nil || *s.Required
}

// Title returns the most descriptive label available for the step.
func (s *StepDefinition) Title() string {
	switch {
	case s.Name != "":
		return s.Name
	case s.Goal != "":
		return s.Goal
	default:
		return s.ID
	}
}

// ActionSpec is one declared action of a step. Actions are opaque to the engine.
type ActionSpec struct {
	Action string         `json:"action" yaml:"action"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
	Output string         `json:"output,omitempty" yaml:"output,omitempty"` // variable receiving the action output
}

// ProducesDirective makes a step generate an artifact.
type ProducesDirective struct {
	Section      string `json:"section" yaml:"section"`
	Template     string `json:"template,omitempty" yaml:"template,omitempty"`
	TemplateFile string `json:"template_file,omitempty" yaml:"template_file,omitempty"`
}

// AskDirective suspends the workflow until the caller supplies the listed variables.
type AskDirective struct {
	Prompt    string   `json:"prompt" yaml:"prompt"`
	Variables []string `json:"variables,omitempty" yaml:"variables,omitempty"`
}

// RetryPolicy configures retry behavior for a step's actions.
// MaxAttempts counts every attempt, the first one included.
type RetryPolicy struct {
	MaxAttempts int    `json:"max_attempts" yaml:"max_attempts"`
	Delay       string `json:"delay,omitempty" yaml:"delay,omitempty"` // base delay, doubled per attempt
}

// HaltDirective stops the workflow when When holds (or unconditionally when empty).
type HaltDirective struct {
	When   string `json:"when,omitempty" yaml:"when,omitempty"`
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// GotoDirective redirects the step cursor to a 1-based step index after the step succeeds.
// It accepts either a bare integer or an object with step and when.
type GotoDirective struct {
	Step int    `json:"step" yaml:"step"`
	When string `json:"when,omitempty" yaml:"when,omitempty"`
}

type gotoObject GotoDirective

// UnmarshalYAML accepts `goto: 3` as well as `goto: {step: 3, when: ...}`.
func (g *GotoDirective) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		n, err := strconv.Atoi(node.Value)
		if err != nil {
			return fmt.Errorf("goto: expected step index, got %q", node.Value)
		}
		*g = GotoDirective{Step: n}
		return nil
	}
	var obj gotoObject
	if err := node.Decode(&obj); err != nil {
		return err
	}
	*g = GotoDirective(obj)
	return nil
}

// UnmarshalJSON accepts `"goto": 3` as well as `"goto": {"step": 3}`.
func (g *GotoDirective) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*g = GotoDirective{Step: n}
		return nil
	}
	var obj gotoObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*g = GotoDirective(obj)
	return nil
}

// AgentDefinition is a declarative agent: a persona plus a menu of commands.
type AgentDefinition struct {
	ID          string         `json:"id" yaml:"id"`
	Name        string         `json:"name,omitempty" yaml:"name,omitempty"`
	Role        string         `json:"role,omitempty" yaml:"role,omitempty"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Principles  []string       `json:"principles,omitempty" yaml:"principles,omitempty"`
	Menu        []MenuItem     `json:"menu,omitempty" yaml:"menu,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// MenuItem binds a user trigger to exactly one target: a workflow or an atomic task.
type MenuItem struct {
	Trigger     string      `json:"trigger" yaml:"trigger"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Workflow    string      `json:"workflow,omitempty" yaml:"workflow,omitempty"`
	Task        *ActionSpec `json:"task,omitempty" yaml:"task,omitempty"`
}
