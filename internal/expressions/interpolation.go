package expressions

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/rendis/stepflow/pkg/schema"
)

// namespaces lists the roots a ${{ }} reference may start with.
var namespaces = []string{"vars", "execution", "context"}

// Interpolator resolves ${{ namespace.path }} references in templates and action params.
type Interpolator struct{}

// NewInterpolator creates an Interpolator.
func NewInterpolator() *Interpolator {
	return &Interpolator{}
}

// Resolve substitutes every reference in template with its stringified value.
func (interp *Interpolator) Resolve(template string, scope *Scope) (string, error) {
	var out strings.Builder
	out.Grow(len(template))

	rest := template
	for {
		idx := strings.Index(rest, "${{")
		if idx == -1 {
			out.WriteString(rest)
			return out.String(), nil
		}
		out.WriteString(rest[:idx])

		ref, tail, err := nextRef(rest[idx+3:])
		if err != nil {
			return "", err
		}
		val, err := interp.lookup(ref, scope)
		if err != nil {
			return "", err
		}
		out.WriteString(stringify(val))
		rest = tail
	}
}

// ResolveValue walks maps and slices, resolving references in every string.
// A string that is exactly one reference is replaced by the raw referenced value,
// so `${{ vars.count }}` stays a number.
func (interp *Interpolator) ResolveValue(v any, scope *Scope) (any, error) {
	switch val := v.(type) {
	case string:
		if ref, ok := soleRef(val); ok {
			return interp.lookup(ref, scope)
		}
		if !strings.Contains(val, "${{") {
			return val, nil
		}
		return interp.Resolve(val, scope)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			r, err := interp.ResolveValue(item, scope)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			r, err := interp.ResolveValue(item, scope)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

// ResolveParams resolves every reference in an action's params.
func (interp *Interpolator) ResolveParams(params map[string]any, scope *Scope) (map[string]any, error) {
	if len(params) == 0 {
		return map[string]any{}, nil
	}
	out, err := interp.ResolveValue(params, scope)
	if err != nil {
		return nil, err
	}
	return out.(map[string]any), nil
}

func (interp *Interpolator) lookup(ref string, scope *Scope) (any, error) {
	ns, path, _ := strings.Cut(ref, ".")
	var root map[string]any
	switch ns {
	case "vars":
		root = scope.Vars
	case "execution":
		root = scope.Execution
	case "context":
		root = scope.Context
	default:
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"unknown namespace %q in ${{%s}}; available: %s", ns, ref, strings.Join(namespaces, ", ")).
			WithDetails(map[string]any{"expression": ref, "available_namespaces": namespaces})
	}
	if path == "" {
		return nonNil(root), nil
	}
	if root == nil {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation, "cannot resolve %q: %s scope is empty", ref, ns).
			WithDetails(map[string]any{"expression": ref})
	}
	// Direct key lookup first so keys containing dots still resolve.
	if val, ok := root[path]; ok {
		return val, nil
	}
	return traversePath(root, path, ref)
}

// traversePath navigates nested maps along a dot-delimited path.
func traversePath(root any, path, ref string) (any, error) {
	current := root
	for i, seg := range strings.Split(path, ".") {
		if seg == "" {
			return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
				"empty segment in path %q at position %d", ref, i).
				WithDetails(map[string]any{"expression": ref})
		}
		m, ok := current.(map[string]any)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
				"cannot traverse into non-object at %q in %q (type: %T)", seg, ref, current).
				WithDetails(map[string]any{"expression": ref})
		}
		val, ok := m[seg]
		if !ok {
			keys := sortedKeys(m)
			return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
				"field %q not found in %q; available: [%s]", seg, ref, strings.Join(keys, ", ")).
				WithDetails(map[string]any{"expression": ref, "available_fields": keys})
		}
		current = val
	}
	return current, nil
}

// nextRef parses the reference body after "${{" and returns it with the remaining input.
func nextRef(s string) (ref, tail string, err error) {
	end := strings.Index(s, "}}")
	if end == -1 {
		return "", "", schema.NewError(schema.ErrCodeInterpolation, "unclosed ${{ expression")
	}
	ref = strings.TrimSpace(s[:end])
	if strings.Contains(ref, "${{") {
		return "", "", schema.NewError(schema.ErrCodeInterpolation, "nested interpolation not allowed")
	}
	if ref == "" {
		return "", "", schema.NewError(schema.ErrCodeInterpolation, "empty variable reference: ${{ }}")
	}
	return ref, s[end+2:], nil
}

func soleRef(s string) (string, bool) {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "${{") || !strings.HasSuffix(t, "}}") {
		return "", false
	}
	body := t[3 : len(t)-2]
	if strings.Contains(body, "${{") || strings.Contains(body, "}}") {
		return "", false
	}
	body = strings.TrimSpace(body)
	return body, body != ""
}

// References returns every reference found in s, in order of appearance.
func References(s string) []string {
	var refs []string
	for {
		idx := strings.Index(s, "${{")
		if idx == -1 {
			return refs
		}
		ref, tail, err := nextRef(s[idx+3:])
		if err != nil {
			return refs
		}
		refs = append(refs, ref)
		s = tail
	}
}

// KnownNamespace reports whether ref starts with a namespace the Interpolator resolves.
func KnownNamespace(ref string) bool {
	ns, _, _ := strings.Cut(ref, ".")
	return slices.Contains(namespaces, ns)
}

// HasInterpolation reports whether s contains a ${{ }} reference.
func HasInterpolation(s string) bool {
	return strings.Contains(s, "${{")
}

func stringify(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return ""
	case bool, int, int64, float64:
		return fmt.Sprintf("%v", v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
