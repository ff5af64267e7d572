package execution

import (
	"context"

	"github.com/flowmesh/flowmesh/internal/engine"
	"github.com/flowmesh/flowmesh/internal/store"
	"github.com/flowmesh/flowmesh/pkg/schema"
)

// FetchFunc fetches candidate items from an external system on one poll.
// It returns the items alongside one stable signature per item, same order
// and length.
type FetchFunc func(ctx context.Context) ([]schema.Item, []string, error)

// HandleFunc receives the items of one poll that were not seen before.
type HandleFunc func(ctx context.Context, items []schema.Item) error

// pollContextKey partitions trigger-poll signatures from other ledger users
// of the same node.
const pollContextKey = "poll"

// NewDedupPollFunc builds the poll body for a polling trigger node: fetch
// candidates, drop every signature already recorded in the processed-item
// ledger, and hand only the unseen items to the handler. A handler failure
// rolls the poll's signatures back out of the ledger so the next poll
// retries them.
func NewDedupPollFunc(ledger store.ProcessedItemStore, workflowID, nodeName string, fetch FetchFunc, handle HandleFunc) (engine.PollFunc, error) {
	if ledger == nil {
		return nil, schema.NewError(schema.ErrCodeDedupStore, "processed-item store is required")
	}
	if fetch == nil || handle == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "fetch and handle functions are required")
	}

	scope := store.DedupScope{
		Kind:       store.ScopeNode,
		WorkflowID: workflowID,
		NodeID:     nodeName,
		ContextKey: pollContextKey,
	}

	return func(ctx context.Context) error {
		items, signatures, err := fetch(ctx)
		if err != nil {
			return err
		}
		if len(items) != len(signatures) {
			return schema.NewErrorf(schema.ErrCodeValidation,
				"fetch returned %d items but %d signatures", len(items), len(signatures))
		}
		if len(items) == 0 {
			return nil
		}

		newSigs, _, err := ledger.CheckAndRecord(ctx, scope, signatures)
		if err != nil {
			return err
		}
		if len(newSigs) == 0 {
			return nil
		}

		unseen := make(map[string]struct{}, len(newSigs))
		for _, sig := range newSigs {
			unseen[sig] = struct{}{}
		}
		fresh := make([]schema.Item, 0, len(newSigs))
		for i, sig := range signatures {
			if _, ok := unseen[sig]; ok {
				fresh = append(fresh, items[i])
			}
		}

		if err := handle(ctx, fresh); err != nil {
			// Roll the recorded signatures back so the next poll retries.
			_ = ledger.Remove(ctx, scope, newSigs)
			return err
		}
		return nil
	}, nil
}

// RegisterPollTrigger wires a polling trigger node into the scheduler with
// ledger-backed deduplication across polls.
func RegisterPollTrigger(sched *engine.PollScheduler, ledger store.ProcessedItemStore,
	workflow *schema.Workflow, node *schema.Node, cronExpr string,
	fetch FetchFunc, handle HandleFunc) error {
	if sched == nil {
		return schema.NewError(schema.ErrCodeValidation, "poll scheduler is required")
	}
	if workflow == nil || node == nil {
		return schema.NewError(schema.ErrCodeValidation, "workflow and node are required")
	}
	poll, err := NewDedupPollFunc(ledger, workflow.ID, node.Name, fetch, handle)
	if err != nil {
		return err
	}
	return sched.Register(workflow.ID, node.Name, cronExpr, poll)
}
