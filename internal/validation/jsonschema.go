package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rendis/stepflow/pkg/schema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

const (
	workflowSchemaURL = "https://stepflow.dev/schemas/workflow.json"
	agentSchemaURL    = "https://stepflow.dev/schemas/agent.json"
)

// workflowSchemaJSON is the JSON Schema for WorkflowDefinition.
// Durations and expressions are plain strings here; the semantic stage parses them.
const workflowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://stepflow.dev/schemas/workflow.json",
  "type": "object",
  "required": ["id", "steps"],
  "properties": {
    "id": { "type": "string", "minLength": 1 },
    "name": { "type": "string" },
    "description": { "type": "string" },
    "variables": {
      "type": "object",
      "additionalProperties": { "$ref": "#/$defs/variable" }
    },
    "steps": {
      "type": "array",
      "items": { "$ref": "#/$defs/step" }
    },
    "metadata": { "type": "object" }
  },
  "additionalProperties": false,
  "$defs": {
    "variable": {
      "type": "object",
      "properties": {
        "default": {},
        "source": { "type": "string", "enum": ["", "config", "system", "context"] },
        "path": { "type": "string" }
      },
      "additionalProperties": false
    },
    "action": {
      "type": "object",
      "required": ["action"],
      "properties": {
        "action": { "type": "string", "minLength": 1 },
        "params": { "type": "object" },
        "output": { "type": "string" }
      },
      "additionalProperties": false
    },
    "step": {
      "type": "object",
      "required": ["id"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "name": { "type": "string" },
        "goal": { "type": "string" },
        "condition": { "type": "string" },
        "actions": { "type": "array", "items": { "$ref": "#/$defs/action" } },
        "produces": {
          "type": "object",
          "required": ["section"],
          "properties": {
            "section": { "type": "string", "minLength": 1 },
            "template": { "type": "string" },
            "template_file": { "type": "string" }
          },
          "additionalProperties": false
        },
        "ask": {
          "type": "object",
          "required": ["prompt"],
          "properties": {
            "prompt": { "type": "string", "minLength": 1 },
            "variables": { "type": "array", "items": { "type": "string", "minLength": 1 } }
          },
          "additionalProperties": false
        },
        "depends_on": { "type": "array", "items": { "type": "string" } },
        "retry": {
          "type": "object",
          "required": ["max_attempts"],
          "properties": {
            "max_attempts": { "type": "integer", "minimum": 1 },
            "delay": { "type": "string" }
          },
          "additionalProperties": false
        },
        "timeout": { "type": "string" },
        "required": { "type": "boolean" },
        "goto": {
          "type": "object",
          "required": ["step"],
          "properties": {
            "step": { "type": "integer" },
            "when": { "type": "string" }
          },
          "additionalProperties": false
        },
        "halt": {
          "type": "object",
          "properties": {
            "when": { "type": "string" },
            "reason": { "type": "string" }
          },
          "additionalProperties": false
        }
      },
      "additionalProperties": false
    }
  }
}`

// agentSchemaJSON is the JSON Schema for AgentDefinition.
const agentSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://stepflow.dev/schemas/agent.json",
  "type": "object",
  "required": ["id"],
  "properties": {
    "id": { "type": "string", "minLength": 1 },
    "name": { "type": "string" },
    "role": { "type": "string" },
    "description": { "type": "string" },
    "principles": { "type": "array", "items": { "type": "string" } },
    "menu": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["trigger"],
        "properties": {
          "trigger": { "type": "string", "minLength": 1 },
          "description": { "type": "string" },
          "workflow": { "type": "string" },
          "task": {
            "type": "object",
            "required": ["action"],
            "properties": {
              "action": { "type": "string", "minLength": 1 },
              "params": { "type": "object" },
              "output": { "type": "string" }
            },
            "additionalProperties": false
          }
        },
        "additionalProperties": false
      }
    },
    "metadata": { "type": "object" }
  },
  "additionalProperties": false
}`

// JSONSchemaValidator validates definitions and caller input against JSON Schema.
// It is safe for concurrent use.
type JSONSchemaValidator struct {
	workflowSchema *jsonschema.Schema
	agentSchema    *jsonschema.Schema

	// mu guards the cache of dynamically compiled input schemas.
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewJSONSchemaValidator compiles the workflow and agent schemas.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := newInputCompiler()
	for url, doc := range map[string]string{
		workflowSchemaURL: workflowSchemaJSON,
		agentSchemaURL:    agentSchemaJSON,
	} {
		parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(doc))
		if err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", url, err)
		}
		if err := c.AddResource(url, parsed); err != nil {
			return nil, fmt.Errorf("add schema resource %s: %w", url, err)
		}
	}

	wf, err := c.Compile(workflowSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}
	agent, err := c.Compile(agentSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile agent schema: %w", err)
	}

	return &JSONSchemaValidator{
		workflowSchema: wf,
		agentSchema:    agent,
		cache:          make(map[string]*jsonschema.Schema),
	}, nil
}

// ValidateDefinition checks the structure of a WorkflowDefinition.
func (v *JSONSchemaValidator) ValidateDefinition(def *schema.WorkflowDefinition) error {
	if def == nil {
		return schema.NewError(schema.ErrCodeValidation, "workflow definition is nil")
	}
	return validateAgainst(v.workflowSchema, def, "workflow definition")
}

// ValidateAgent checks the structure of an AgentDefinition.
func (v *JSONSchemaValidator) ValidateAgent(agent *schema.AgentDefinition) error {
	if agent == nil {
		return schema.NewError(schema.ErrCodeValidation, "agent definition is nil")
	}
	return validateAgainst(v.agentSchema, agent, "agent definition")
}

// ValidateInput validates input data against a JSON Schema provided as raw bytes.
// The schema is compiled once and cached for subsequent calls with the same bytes.
func (v *JSONSchemaValidator) ValidateInput(input map[string]any, inputSchema []byte) error {
	if input == nil {
		return schema.NewError(schema.ErrCodeValidation, "input is nil")
	}
	if len(inputSchema) == 0 {
		return nil
	}

	compiled, err := v.getOrCompile(inputSchema)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid input schema").WithCause(err)
	}
	return validateAgainst(compiled, input, "input")
}

func validateAgainst(s *jsonschema.Schema, v any, what string) error {
	doc, err := toJSONValue(v)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "failed to serialize %s", what).WithCause(err)
	}
	if err := s.Validate(doc); err != nil {
		return toSchemaError(err)
	}
	return nil
}

// getOrCompile returns a cached compiled schema or compiles and caches a new one.
func (v *JSONSchemaValidator) getOrCompile(schemaBytes []byte) (*jsonschema.Schema, error) {
	key := string(schemaBytes)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	// Fresh compiler and URL per schema so resources never collide.
	url := fmt.Sprintf("stepflow://input-schema/%d", len(v.cache))
	c := newInputCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.cache[key] = compiled
	return compiled, nil
}

func newInputCompiler() *jsonschema.Compiler {
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	return c
}

// toJSONValue round-trips a Go value through JSON so numbers become json.Number,
// which is what the jsonschema library expects.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toSchemaError flattens a jsonschema.ValidationError into a VALIDATION_ERROR whose
// details list every leaf violation with its instance location.
func toSchemaError(err error) *schema.Error {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	switch len(violations) {
	case 0:
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	case 1:
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	default:
		return schema.NewErrorf(schema.ErrCodeValidation, "validation failed with %d errors", len(violations)).
			WithDetails(map[string]any{"violations": violations})
	}
}

func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
