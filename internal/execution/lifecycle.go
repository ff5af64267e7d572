package execution

import (
	"context"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/flowmesh/flowmesh/internal/logging"
	"github.com/flowmesh/flowmesh/pkg/schema"
)

// EnvLogNodeOutput gates whether node debug output is echoed to process-level
// logs outside manual mode.
const EnvLogNodeOutput = "FLOWMESH_LOG_NODE_OUTPUT"

// CancelSignal exposes the execution's cooperative cancellation signal. The
// context never polls it; long-running operations the node invokes are
// responsible for observing it and unwinding.
func (c *Context) CancelSignal() <-chan struct{} {
	return c.cancelSignal
}

// OnCancel registers a one-shot cancellation listener. The handler fires at
// most once, when the execution is cancelled, and the listener unregisters
// itself afterward. Listeners that never fire unwind at teardown.
func (c *Context) OnCancel(handler func()) {
	if c.cancelSignal == nil || handler == nil {
		return
	}
	var once sync.Once
	go func() {
		select {
		case <-c.cancelSignal:
			once.Do(handler)
		case <-c.done:
		}
	}()
}

// PutExecutionToWait marks the run record as waiting until t and notifies the
// engine's status hooks. Only the record's wait timestamp is touched; used by
// nodes that suspend pending an external event.
func (c *Context) PutExecutionToWait(ctx context.Context, t time.Time) error {
	c.record.SetWaitUntil(t)
	c.hooks.SetStatus(ctx, c.executionID, schema.ExecutionStatusWaiting)
	if c.resumer != nil && c.executionID != "" {
		c.resumer.Park(c.executionID, t)
	}
	logging.LogWith(ctx, c.logger).Info("execution put to wait",
		"node", c.node.Name,
		"wait_until", t)
	return nil
}

// SendResponse immediately fulfills a pending external caller (e.g. a
// webhook reply) independent of the eventual node output. Delivery is
// best-effort and never fails the run.
func (c *Context) SendResponse(ctx context.Context, payload map[string]any) {
	c.hooks.SendResponse(ctx, c.executionID, payload)
}

// LogNodeOutput streams debug output to the observing UI in manual mode. In
// every other mode it logs at debug level only when EnvLogNodeOutput is set.
// Delivery is best-effort.
func (c *Context) LogNodeOutput(ctx context.Context, output map[string]any) {
	rendered := renderTimes(output).(map[string]any)

	if c.mode == schema.ModeManual {
		c.hooks.SendNodeOutput(ctx, c.executionID, c.node.Name, rendered)
		return
	}
	if enabled, _ := strconv.ParseBool(os.Getenv(EnvLogNodeOutput)); enabled {
		logging.LogWith(ctx, c.logger).Debug("node output",
			"node", c.node.Name,
			"output", rendered)
	}
}

// LogAIEvent forwards a structured telemetry event tagged with execution,
// workflow, and node identity. Ephemeral executions that were never persisted
// use the sentinel execution ID. Best-effort; failures never propagate.
func (c *Context) LogAIEvent(ctx context.Context, name string, payload map[string]any) {
	executionID := c.executionID
	if executionID == "" {
		executionID = schema.UnsavedExecutionID
	}
	c.hooks.EmitEvent(ctx, schema.TelemetryEvent{
		Name:         name,
		ExecutionID:  executionID,
		WorkflowID:   c.workflow.ID,
		WorkflowName: c.workflow.Name,
		NodeName:     c.node.Name,
		NodeType:     c.node.Type,
		Payload:      payload,
		Timestamp:    time.Now().UTC(),
	})
}

// renderTimes walks a value and renders time values human-readably so a
// zero or timezone-carrying time survives serialization instead of becoming
// null.
func renderTimes(v any) any {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return "invalid date"
		}
		return t.Format(time.RFC3339Nano)
	case *time.Time:
		if t == nil {
			return nil
		}
		return renderTimes(*t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = renderTimes(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = renderTimes(val)
		}
		return out
	default:
		return v
	}
}
