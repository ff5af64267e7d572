// Package credentials resolves node credentials: lookup by assigned type,
// decryption, and per-item expression resolution of credential properties.
// Resolution failures are always fatal for the run and never silently
// defaulted.
package credentials

import (
	"context"

	"github.com/flowmesh/flowmesh/internal/expressions"
	"github.com/flowmesh/flowmesh/pkg/schema"
)

// Request carries the full addressing context of the resolving node so
// credential property values that are expressions can be evaluated against
// the same per-item scope as node parameters.
type Request struct {
	Workflow  *schema.Workflow
	Node      *schema.Node
	ItemIndex int
	RunIndex  int
	Scope     *expressions.Scope
}

// Resolver returns decrypted, expression-resolved credential data for a
// credential type assigned to a node.
type Resolver interface {
	Resolve(ctx context.Context, credType string, req Request) (map[string]any, error)
}
