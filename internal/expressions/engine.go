package expressions

import "context"

// Engine evaluates a single expression against a per-item data environment.
// Three implementations: Expr (default logic), GoJQ (transforms), CEL (conditions).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
