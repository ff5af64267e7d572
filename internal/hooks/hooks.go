// Package hooks delivers execution lifecycle signals to external consumers:
// status changes, response chunks, node debug output, and telemetry events.
// All delivery is best-effort; a failed send is logged and never propagated
// back into the node run.
package hooks

import (
	"context"
	"log/slog"
	"time"

	"github.com/flowmesh/flowmesh/internal/engine"
	"github.com/flowmesh/flowmesh/internal/logging"
	"github.com/flowmesh/flowmesh/pkg/schema"
)

// Sender delivers lifecycle signals to an external consumer.
type Sender interface {
	// SetStatus reports an execution status transition.
	SetStatus(ctx context.Context, executionID string, status schema.ExecutionStatus) error

	// SendResponse forwards a response chunk produced mid-execution, such as
	// a webhook reply or a streamed partial result.
	SendResponse(ctx context.Context, executionID string, response map[string]any) error

	// SendNodeOutput forwards the debug output of a single node run.
	SendNodeOutput(ctx context.Context, executionID, nodeName string, output map[string]any) error

	// EmitEvent forwards a telemetry event.
	EmitEvent(ctx context.Context, event schema.TelemetryEvent) error
}

// Dispatcher fans signals out to zero or more senders. Every send is detached
// from the caller and runs on a bounded worker pool: the dispatch methods
// return immediately, failures are logged at WARN and swallowed, and the
// caller's context cancellation does not abort an in-flight delivery. A slow
// or retrying sender therefore never stalls a node run.
type Dispatcher struct {
	senders []Sender
	logger  *slog.Logger
	timeout time.Duration
	pool    *engine.WorkerPool
}

// poolSize bounds concurrent in-flight deliveries across all senders.
const poolSize = 8

// NewDispatcher creates a Dispatcher over the given senders. A nil logger
// falls back to slog.Default().
func NewDispatcher(logger *slog.Logger, senders ...Sender) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		senders: senders,
		logger:  logger,
		timeout: 10 * time.Second,
		pool:    engine.NewWorkerPool(poolSize),
	}
}

// Wait blocks until every delivery dispatched so far has completed.
func (d *Dispatcher) Wait() {
	d.pool.Wait()
}

// Close stops the dispatcher, waiting for in-flight deliveries to finish.
// Deliveries dispatched after Close are dropped with a WARN log.
func (d *Dispatcher) Close() {
	d.pool.Shutdown()
}

// SetStatus reports a status transition to all senders.
func (d *Dispatcher) SetStatus(ctx context.Context, executionID string, status schema.ExecutionStatus) {
	d.each(ctx, executionID, "set_status", func(sctx context.Context, s Sender) error {
		return s.SetStatus(sctx, executionID, status)
	})
}

// SendResponse forwards a response chunk to all senders.
func (d *Dispatcher) SendResponse(ctx context.Context, executionID string, response map[string]any) {
	d.each(ctx, executionID, "send_response", func(sctx context.Context, s Sender) error {
		return s.SendResponse(sctx, executionID, response)
	})
}

// SendNodeOutput forwards node debug output to all senders.
func (d *Dispatcher) SendNodeOutput(ctx context.Context, executionID, nodeName string, output map[string]any) {
	d.each(ctx, executionID, "send_node_output", func(sctx context.Context, s Sender) error {
		return s.SendNodeOutput(sctx, executionID, nodeName, output)
	})
}

// EmitEvent forwards a telemetry event to all senders.
func (d *Dispatcher) EmitEvent(ctx context.Context, event schema.TelemetryEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	d.each(ctx, event.ExecutionID, "emit_event", func(sctx context.Context, s Sender) error {
		return s.EmitEvent(sctx, event)
	})
}

// each submits fn for every sender onto the worker pool and returns without
// awaiting delivery. Each delivery runs under a detached, bounded context:
// the caller's context supplies correlation values only, never cancellation.
func (d *Dispatcher) each(ctx context.Context, executionID, op string, fn func(context.Context, Sender) error) {
	base := context.WithoutCancel(ctx)

	for _, s := range d.senders {
		sender := s
		err := d.pool.Submit(base, func(context.Context) error {
			sctx, cancel := context.WithTimeout(base, d.timeout)
			defer cancel()

			if err := fn(sctx, sender); err != nil {
				logging.LogWith(sctx, d.logger).Warn("hook delivery failed",
					"operation", op,
					"execution_id", executionID,
					"error", err)
				return err
			}
			return nil
		})
		if err != nil {
			logging.LogWith(base, d.logger).Warn("hook delivery dropped",
				"operation", op,
				"execution_id", executionID,
				"error", err)
		}
	}
}
