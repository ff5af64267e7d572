package execution

import (
	"context"

	"github.com/flowmesh/flowmesh/internal/credentials"
	"github.com/flowmesh/flowmesh/pkg/schema"
)

// Credentials resolves the decrypted credential data of the given type for
// the node, evaluating expression-valued credential properties against the
// item at itemIndex. Failure is always fatal for the run and never silently
// defaulted; whether a caught failure becomes an item-level error is the
// node's continue-on-fail decision.
func (c *Context) Credentials(ctx context.Context, credType string, itemIndex int) (map[string]any, error) {
	if c.credentials == nil {
		return nil, schema.NewError(schema.ErrCodeCredentials,
			"no credential resolver configured").WithNode(c.node.Name)
	}
	return c.credentials.Resolve(ctx, credType, credentials.Request{
		Workflow:  c.workflow,
		Node:      c.node,
		ItemIndex: itemIndex,
		RunIndex:  c.runIndex,
		Scope:     c.scope(itemIndex),
	})
}
