package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/rendis/stepflow/internal/validation"
	"github.com/rendis/stepflow/pkg/schema"
)

// checkFunc evaluates one assertion. A false result with a nil error fails the step with
// ASSERTION_FAILED; a non-nil error reports malformed params.
type checkFunc func(params map[string]any) (ok bool, extra map[string]any, err error)

// assertion is a guard action: it either passes or stops the step with details a reviewer
// can act on. Params listed in required must be present before check runs.
type assertion struct {
	name     string
	summary  string
	required []string
	failure  string
	check    checkFunc
}

// AssertActions returns the assert.* guard actions.
func AssertActions(validator *validation.JSONSchemaValidator) []Action {
	return []Action{
		&assertion{
			name:     "assert.equals",
			summary:  "Fail the step unless expected and actual are deeply equal",
			required: []string{"expected", "actual"},
			failure:  "values are not equal",
			check:    checkEquals,
		},
		&assertion{
			name:     "assert.contains",
			summary:  "Fail the step unless a string or list holds needle",
			required: []string{"haystack", "needle"},
			failure:  "value not found",
			check:    checkContains,
		},
		&assertion{
			name:     "assert.matches",
			summary:  "Fail the step unless value matches a regular expression",
			required: []string{"value", "pattern"},
			failure:  "value does not match pattern",
			check:    checkMatches,
		},
		&assertion{
			name:     "assert.schema",
			summary:  "Fail the step unless data conforms to a JSON Schema",
			required: []string{"data", "schema"},
			failure:  "data does not match schema",
			check:    schemaCheck(validator),
		},
	}
}

func (a *assertion) Name() string { return a.name }

func (a *assertion) Schema() ActionSchema {
	return ActionSchema{Description: a.summary}
}

func (a *assertion) Validate(params map[string]any) error {
	var missing []string
	for _, key := range a.required {
		if _, ok := params[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s requires %s", a.name, strings.Join(missing, ", "))
	}
	return nil
}

func (a *assertion) Execute(_ context.Context, input ActionInput) (*ActionOutput, error) {
	ok, extra, err := a.check(input.Params)
	if err != nil {
		return nil, err
	}
	if !ok {
		details := map[string]any{"assertion": a.name}
		for _, key := range a.required {
			details[key] = input.Params[key]
		}
		for k, v := range extra {
			details[k] = v
		}
		msg := messageParam(input.Params, "assertion failed: "+a.failure)
		return nil, schema.NewError(schema.ErrCodeAssertionFailed, msg).WithDetails(details)
	}
	data := map[string]any{"pass": true}
	for k, v := range extra {
		data[k] = v
	}
	return output(data), nil
}

func checkEquals(p map[string]any) (bool, map[string]any, error) {
	return sameJSON(p["expected"], p["actual"]), nil, nil
}

func checkContains(p map[string]any) (bool, map[string]any, error) {
	needle := p["needle"]
	switch hs := p["haystack"].(type) {
	case string:
		return strings.Contains(hs, fmt.Sprint(needle)), nil, nil
	case []any:
		for _, item := range hs {
			if sameJSON(item, needle) {
				return true, nil, nil
			}
		}
		return false, nil, nil
	case []string:
		for _, item := range hs {
			if item == fmt.Sprint(needle) {
				return true, nil, nil
			}
		}
		return false, nil, nil
	default:
		return false, nil, schema.NewErrorf(schema.ErrCodeValidation,
			"assert.contains: haystack must be a string or list, got %T", hs)
	}
}

func checkMatches(p map[string]any) (bool, map[string]any, error) {
	value, vok := p["value"].(string)
	pattern, pok := p["pattern"].(string)
	if !vok || !pok {
		return false, nil, schema.NewError(schema.ErrCodeValidation, "assert.matches: value and pattern must be strings")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, nil, schema.NewErrorf(schema.ErrCodeValidation, "assert.matches: invalid pattern: %s", err).WithCause(err)
	}
	if !re.MatchString(value) {
		return false, nil, nil
	}
	return true, map[string]any{"matches": re.FindString(value)}, nil
}

func schemaCheck(validator *validation.JSONSchemaValidator) checkFunc {
	return func(p map[string]any) (bool, map[string]any, error) {
		data, ok := p["data"].(map[string]any)
		if !ok {
			return false, nil, schema.NewError(schema.ErrCodeValidation, "assert.schema: data must be an object")
		}
		raw, err := json.Marshal(p["schema"])
		if err != nil {
			return false, nil, schema.NewErrorf(schema.ErrCodeValidation, "assert.schema: schema is not serializable: %s", err)
		}
		verr := validator.ValidateInput(data, raw)
		if verr == nil {
			return true, nil, nil
		}
		extra := map[string]any{"error": verr.Error()}
		var se *schema.Error
		if errors.As(verr, &se) && se.Details != nil {
			extra["violations"] = se.Details["violations"]
		}
		return false, extra, nil
	}
}

// sameJSON compares a and b as they would look after a JSON round trip, so 3 and 3.0
// are equal and typed slices compare against []any.
func sameJSON(a, b any) bool {
	return reflect.DeepEqual(asJSON(a), asJSON(b))
}

func asJSON(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}
