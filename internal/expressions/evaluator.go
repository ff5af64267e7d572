package expressions

import (
	"context"
	"fmt"
	"strings"

	"github.com/flowmesh/flowmesh/pkg/schema"
)

// Marker prefixes a parameter string value to mark it as an expression.
// Everything after the marker is the expression text, optionally carrying an
// engine prefix ("jq:" or "cel:"); without a prefix the Expr engine is used.
const Marker = "="

// Engine prefixes routing an expression to a non-default engine.
const (
	prefixJQ  = "jq:"
	prefixCEL = "cel:"
)

// Evaluator routes expression strings to the configured engines and resolves
// parameter values (including nested maps and slices) against a per-item Scope.
type Evaluator struct {
	expr *ExprEngine
	jq   *GoJQEngine
	cel  *CELEngine
}

// NewEvaluator creates an Evaluator with all three engines ready.
func NewEvaluator() (*Evaluator, error) {
	celEngine, err := NewCELEngine()
	if err != nil {
		return nil, fmt.Errorf("evaluator: %w", err)
	}
	return &Evaluator{
		expr: NewExprEngine(),
		jq:   NewGoJQEngine(),
		cel:  celEngine,
	}, nil
}

// IsExpression reports whether a parameter value is an expression string.
func IsExpression(value any) bool {
	s, ok := value.(string)
	return ok && strings.HasPrefix(s, Marker)
}

// Evaluate evaluates a marked expression string (including the leading
// marker) against the scope and returns the raw result. No fallback and no
// type coercion happen here.
func (ev *Evaluator) Evaluate(ctx context.Context, marked string, scope *Scope) (any, error) {
	if !strings.HasPrefix(marked, Marker) {
		return nil, schema.NewErrorf(schema.ErrCodeExpression,
			"not an expression: %q", marked).
			WithDetails(map[string]any{"expression": marked, "item_index": scopeIndex(scope)})
	}

	text := strings.TrimSpace(strings.TrimPrefix(marked, Marker))
	data := scope.Data()

	var (
		out any
		err error
	)
	switch {
	case strings.HasPrefix(text, prefixJQ):
		out, err = ev.jq.Evaluate(ctx, strings.TrimSpace(strings.TrimPrefix(text, prefixJQ)), data)
	case strings.HasPrefix(text, prefixCEL):
		out, err = ev.cel.Evaluate(ctx, strings.TrimSpace(strings.TrimPrefix(text, prefixCEL)), data)
	default:
		out, err = ev.expr.Evaluate(ctx, text, data)
	}
	if err != nil {
		// Engines already wrap with ErrCodeExpression; attach the item index
		// so the node can report which item failed.
		if ee, ok := err.(*schema.EngineError); ok {
			if ee.Details == nil {
				ee.Details = map[string]any{}
			}
			ee.Details["item_index"] = scopeIndex(scope)
			return nil, ee
		}
		return nil, schema.NewErrorf(schema.ErrCodeExpression, "%s", err.Error()).WithCause(err)
	}
	return out, nil
}

// ResolveValue resolves a parameter value of any shape. Expression strings
// are evaluated; maps and slices are resolved recursively; everything else is
// returned as-is.
func (ev *Evaluator) ResolveValue(ctx context.Context, value any, scope *Scope) (any, error) {
	switch v := value.(type) {
	case string:
		if strings.HasPrefix(v, Marker) {
			return ev.Evaluate(ctx, v, scope)
		}
		return v, nil
	case map[string]any:
		resolved := make(map[string]any, len(v))
		for key, val := range v {
			rv, err := ev.ResolveValue(ctx, val, scope)
			if err != nil {
				return nil, err
			}
			resolved[key] = rv
		}
		return resolved, nil
	case []any:
		resolved := make([]any, len(v))
		for i, val := range v {
			rv, err := ev.ResolveValue(ctx, val, scope)
			if err != nil {
				return nil, err
			}
			resolved[i] = rv
		}
		return resolved, nil
	default:
		return value, nil
	}
}

func scopeIndex(scope *Scope) int {
	if scope == nil {
		return 0
	}
	return scope.ItemIndex
}
