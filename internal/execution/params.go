package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/flowmesh/flowmesh/internal/expressions"
	"github.com/flowmesh/flowmesh/pkg/schema"
)

// ParameterOption adjusts how NodeParameter resolves a value.
type ParameterOption func(*parameterOptions)

type parameterOptions struct {
	fallback    any
	hasFallback bool
	ensureType  string
	raw         bool
}

// WithFallback supplies the value returned when the parameter is not defined
// on the node.
func WithFallback(v any) ParameterOption {
	return func(o *parameterOptions) {
		o.fallback = v
		o.hasFallback = true
	}
}

// EnsureType coerces the resolved value to "string", "number", "boolean" or
// "json". Coercion failure is a validation error.
func EnsureType(t string) ParameterOption {
	return func(o *parameterOptions) { o.ensureType = t }
}

// RawValue returns the parameter exactly as defined on the node, skipping
// expression resolution. Configuration introspection uses this to read the
// expression text itself.
func RawValue() ParameterOption {
	return func(o *parameterOptions) { o.raw = true }
}

// NodeParameter resolves a (possibly expression-valued) static parameter for
// the given item index. Dotted names address into nested parameter values
// ("options.batchSize"); a flat key containing dots wins over traversal. The
// same parameter definition may yield different values per item, since
// expressions can reference the corresponding input item.
func (c *Context) NodeParameter(ctx context.Context, name string, itemIndex int, opts ...ParameterOption) (any, error) {
	var o parameterOptions
	for _, opt := range opts {
		opt(&o)
	}

	raw, ok := lookupParameter(c.node.Parameters, name)
	if !ok {
		if o.hasFallback {
			return o.fallback, nil
		}
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"parameter %q is not defined", name).WithNode(c.node.Name)
	}
	if o.raw {
		return raw, nil
	}

	resolved, err := c.evaluator.ResolveValue(ctx, raw, c.scope(itemIndex))
	if err != nil {
		return nil, err
	}

	if o.ensureType != "" {
		coerced, err := coerceType(resolved, o.ensureType)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"parameter %q: %s", name, err.Error()).WithNode(c.node.Name)
		}
		return coerced, nil
	}
	return resolved, nil
}

// lookupParameter finds a parameter by name. A direct key match wins; a name
// with dots otherwise traverses nested map values segment by segment.
func lookupParameter(params map[string]any, name string) (any, bool) {
	if v, ok := params[name]; ok {
		return v, true
	}
	if !strings.Contains(name, ".") {
		return nil, false
	}

	segments := strings.Split(name, ".")
	var current any = params
	for _, seg := range segments {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// EvaluateExpression evaluates a bare expression for the given item index and
// returns the raw value. No fallback and no type coercion; this is the
// primitive NodeParameter is built on.
func (c *Context) EvaluateExpression(ctx context.Context, expr string, itemIndex int) (any, error) {
	return c.evaluator.Evaluate(ctx, expressions.Marker+expr, c.scope(itemIndex))
}

// scope assembles the per-item evaluation environment: the addressed input
// item, sibling node outputs from the run record, workflow and execution
// identity, and the additional keys.
func (c *Context) scope(itemIndex int) *expressions.Scope {
	s := &expressions.Scope{
		ItemIndex: itemIndex,
		RunIndex:  c.runIndex,
		Workflow: map[string]any{
			"id":     c.workflow.ID,
			"name":   c.workflow.Name,
			"active": c.workflow.Active,
		},
		Execution: map[string]any{
			"id":   c.executionID,
			"mode": string(c.mode),
		},
		Env:    c.envVars,
		Vars:   c.vars,
		Params: c.node.Parameters,
	}

	if itemIndex >= 0 && itemIndex < len(c.inputItems) {
		item := c.inputItems[itemIndex]
		s.JSON = item.JSON
		s.Binary = binaryScope(item.Binary)
	}

	s.Input = make([]map[string]any, len(c.inputItems))
	for i, item := range c.inputItems {
		s.Input[i] = item.JSON
	}

	s.Nodes = c.nodeOutputs()
	return s
}

// nodeOutputs exposes every sibling node's latest primary-channel output to
// expressions, keyed by node name.
func (c *Context) nodeOutputs() map[string]any {
	out := make(map[string]any)
	for _, name := range c.record.NodeNames() {
		last := c.record.LastRun(name)
		if last == nil || last.Data == nil {
			continue
		}
		batches, ok := last.Data[schema.ChannelMain]
		if !ok || len(batches) == 0 {
			continue
		}
		items := make([]map[string]any, len(batches[0]))
		for i, item := range batches[0] {
			items[i] = item.JSON
		}
		out[name] = items
	}
	return out
}

// binaryScope flattens binary references into expression-visible metadata.
func binaryScope(refs map[string]*schema.BinaryReference) map[string]any {
	if len(refs) == 0 {
		return nil
	}
	out := make(map[string]any, len(refs))
	for prop, ref := range refs {
		if ref == nil {
			continue
		}
		out[prop] = map[string]any{
			"id":        ref.ID,
			"file_name": ref.FileName,
			"mime_type": ref.MimeType,
			"file_size": ref.FileSize,
		}
	}
	return out
}

func coerceType(v any, t string) (any, error) {
	switch t {
	case "string":
		switch s := v.(type) {
		case string:
			return s, nil
		case nil:
			return "", nil
		default:
			return fmt.Sprintf("%v", v), nil
		}
	case "number":
		switch n := v.(type) {
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case json.Number:
			return n.Float64()
		case string:
			f, err := strconv.ParseFloat(n, 64)
			if err != nil {
				return nil, fmt.Errorf("cannot coerce %q to number", n)
			}
			return f, nil
		default:
			return nil, fmt.Errorf("cannot coerce %T to number", v)
		}
	case "boolean":
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			parsed, err := strconv.ParseBool(b)
			if err != nil {
				return nil, fmt.Errorf("cannot coerce %q to boolean", b)
			}
			return parsed, nil
		default:
			return nil, fmt.Errorf("cannot coerce %T to boolean", v)
		}
	case "json":
		switch j := v.(type) {
		case map[string]any, []any:
			return j, nil
		case string:
			var out any
			if err := json.Unmarshal([]byte(j), &out); err != nil {
				return nil, fmt.Errorf("cannot parse %q as json", j)
			}
			return out, nil
		default:
			return v, nil
		}
	default:
		return nil, fmt.Errorf("unknown ensure type %q", t)
	}
}
