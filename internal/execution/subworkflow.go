package execution

import (
	"context"

	"github.com/flowmesh/flowmesh/internal/logging"
	"github.com/flowmesh/flowmesh/pkg/schema"
)

// InvokeRequest describes a nested workflow execution: the workflow to run,
// its input, and parent linkage so the invoker can enforce caller policies
// and attribute the sub-execution.
type InvokeRequest struct {
	// WorkflowID names a stored workflow to run; Workflow supplies an inline
	// definition instead. Exactly one must be set.
	WorkflowID string
	Workflow   *schema.Workflow

	Input []schema.Item

	ParentExecutionID string
	ParentWorkflowID  string
	ParentNode        string
	ParentSettings    schema.WorkflowSettings
}

// InvokeResult is the outcome of a nested workflow execution. Output holds
// one batch per output slot of the sub-workflow's terminal node.
type InvokeResult struct {
	ExecutionID string
	Output      [][]schema.Item
}

// Invoker executes a nested workflow. Implementations observe the caller's
// context for cooperative cancellation; the execution context never retries
// a nested failure.
type Invoker interface {
	Invoke(ctx context.Context, req InvokeRequest) (*InvokeResult, error)
}

// ExecuteWorkflow runs a nested workflow and returns its output with every
// binary reference re-homed into this execution's store. Re-homing is
// mandatory: references are scoped to the execution that produced them, and
// the sub-workflow's storage may be reclaimed as soon as it finishes.
func (c *Context) ExecuteWorkflow(ctx context.Context, req InvokeRequest) (*InvokeResult, error) {
	if c.invoker == nil {
		return nil, schema.NewError(schema.ErrCodeSubWorkflow,
			"no sub-workflow invoker configured").WithNode(c.node.Name)
	}

	req.ParentExecutionID = c.executionID
	req.ParentWorkflowID = c.workflow.ID
	req.ParentNode = c.node.Name
	req.ParentSettings = c.workflow.Settings

	result, err := c.invoker.Invoke(ctx, req)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeSubWorkflow,
			"sub-workflow %s failed: %s", subWorkflowName(req), err.Error()).
			WithNode(c.node.Name).WithCause(err)
	}

	if err := c.rehomeOutput(ctx, result); err != nil {
		return nil, err
	}

	logging.LogWith(ctx, c.logger).Debug("sub-workflow completed",
		"sub_execution_id", result.ExecutionID,
		"workflow", subWorkflowName(req))
	return result, nil
}

// rehomeOutput duplicates every binary reference in the sub-workflow output
// into this execution's store, replacing the references in place.
func (c *Context) rehomeOutput(ctx context.Context, result *InvokeResult) error {
	if c.binaryStore == nil {
		return nil
	}
	for _, batch := range result.Output {
		for i := range batch {
			for prop, ref := range batch[i].Binary {
				if ref == nil {
					continue
				}
				copied, err := c.binaryStore.Copy(ctx, ref, c.executionID)
				if err != nil {
					return schema.NewErrorf(schema.ErrCodeSubWorkflow,
						"re-home binary %q of sub-workflow output: %s", ref.ID, err.Error()).
						WithNode(c.node.Name).WithCause(err)
				}
				batch[i].Binary[prop] = copied
			}
		}
	}
	return nil
}

func subWorkflowName(req InvokeRequest) string {
	if req.WorkflowID != "" {
		return req.WorkflowID
	}
	if req.Workflow != nil && req.Workflow.ID != "" {
		return req.Workflow.ID
	}
	return "(inline)"
}
