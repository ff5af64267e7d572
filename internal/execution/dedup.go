package execution

import (
	"context"

	"github.com/flowmesh/flowmesh/internal/store"
	"github.com/flowmesh/flowmesh/pkg/schema"
)

func (c *Context) dedupScope(kind store.ScopeKind, contextKey string) store.DedupScope {
	return store.DedupScope{
		Kind:       kind,
		WorkflowID: c.workflow.ID,
		NodeID:     c.node.Name,
		ContextKey: contextKey,
	}
}

func (c *Context) requireProcessedItems() error {
	if c.processedItems == nil {
		return schema.NewError(schema.ErrCodeDedupStore,
			"no processed-item store configured").WithNode(c.node.Name)
	}
	return nil
}

// CheckProcessedAndRecord atomically checks a single item signature against
// the ledger, recording it when unseen. Returns true when the signature is
// new and this caller owns processing it.
func (c *Context) CheckProcessedAndRecord(ctx context.Context, kind store.ScopeKind, contextKey, signature string) (bool, error) {
	if err := c.requireProcessedItems(); err != nil {
		return false, err
	}
	newSigs, _, err := c.processedItems.CheckAndRecord(ctx, c.dedupScope(kind, contextKey), []string{signature})
	if err != nil {
		return false, err
	}
	return len(newSigs) == 1, nil
}

// CheckProcessedItemsAndRecord atomically checks a batch of item signatures,
// recording the unseen ones. New and already-processed signatures are
// returned separately, each preserving input order.
func (c *Context) CheckProcessedItemsAndRecord(ctx context.Context, kind store.ScopeKind, contextKey string, signatures []string) (newSigs, processed []string, err error) {
	if err := c.requireProcessedItems(); err != nil {
		return nil, nil, err
	}
	return c.processedItems.CheckAndRecord(ctx, c.dedupScope(kind, contextKey), signatures)
}

// RemoveProcessed deletes the given signatures from the ledger (scoped
// rollback after a failed downstream handoff).
func (c *Context) RemoveProcessed(ctx context.Context, kind store.ScopeKind, contextKey string, signatures []string) error {
	if err := c.requireProcessedItems(); err != nil {
		return err
	}
	return c.processedItems.Remove(ctx, c.dedupScope(kind, contextKey), signatures)
}

// ClearAllProcessedItems deletes every signature recorded under the node's
// scope.
func (c *Context) ClearAllProcessedItems(ctx context.Context, kind store.ScopeKind, contextKey string) error {
	if err := c.requireProcessedItems(); err != nil {
		return err
	}
	return c.processedItems.Clear(ctx, c.dedupScope(kind, contextKey))
}

// ProcessedDataCount reports how many signatures the node's scope holds.
func (c *Context) ProcessedDataCount(ctx context.Context, kind store.ScopeKind, contextKey string) (int64, error) {
	if err := c.requireProcessedItems(); err != nil {
		return 0, err
	}
	return c.processedItems.Count(ctx, c.dedupScope(kind, contextKey))
}
