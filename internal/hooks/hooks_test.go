package hooks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmesh/flowmesh/pkg/schema"
)

type recordingSender struct {
	mu     sync.Mutex
	fail   bool
	gate   chan struct{} // when non-nil, every send blocks until the gate closes
	events []schema.TelemetryEvent
	calls  int
}

func (r *recordingSender) record() error {
	if r.gate != nil {
		<-r.gate
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.fail {
		return errors.New("sink unavailable")
	}
	return nil
}

func (r *recordingSender) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func (r *recordingSender) SetStatus(ctx context.Context, executionID string, status schema.ExecutionStatus) error {
	return r.record()
}

func (r *recordingSender) SendResponse(ctx context.Context, executionID string, response map[string]any) error {
	return r.record()
}

func (r *recordingSender) SendNodeOutput(ctx context.Context, executionID, nodeName string, output map[string]any) error {
	return r.record()
}

func (r *recordingSender) EmitEvent(ctx context.Context, event schema.TelemetryEvent) error {
	if r.gate != nil {
		<-r.gate
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.events = append(r.events, event)
	if r.fail {
		return errors.New("sink unavailable")
	}
	return nil
}

func TestDispatcher_FansOutToAllSenders(t *testing.T) {
	a := &recordingSender{}
	b := &recordingSender{}
	d := NewDispatcher(nil, a, b)

	d.SetStatus(context.Background(), "exec-1", schema.ExecutionStatusRunning)
	d.Wait()

	assert.Equal(t, 1, a.callCount())
	assert.Equal(t, 1, b.callCount())
}

func TestDispatcher_DoesNotBlockCaller(t *testing.T) {
	gate := make(chan struct{})
	slow := &recordingSender{gate: gate}
	d := NewDispatcher(nil, slow)

	start := time.Now()
	d.SetStatus(context.Background(), "exec-1", schema.ExecutionStatusRunning)
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 500*time.Millisecond,
		"dispatch must return without awaiting the sender")
	assert.Equal(t, 0, slow.callCount(), "delivery still pending behind the gate")

	close(gate)
	d.Wait()
	assert.Equal(t, 1, slow.callCount())
}

func TestDispatcher_FailuresNeverPropagate(t *testing.T) {
	failing := &recordingSender{fail: true}
	healthy := &recordingSender{}
	d := NewDispatcher(nil, failing, healthy)

	// None of these return errors; a failing sink must not stop the others.
	d.SetStatus(context.Background(), "exec-1", schema.ExecutionStatusError)
	d.SendResponse(context.Background(), "exec-1", map[string]any{"k": "v"})
	d.SendNodeOutput(context.Background(), "exec-1", "Node", nil)
	d.EmitEvent(context.Background(), schema.TelemetryEvent{Name: "e", ExecutionID: "exec-1"})
	d.Wait()

	assert.Equal(t, 4, failing.callCount())
	assert.Equal(t, 4, healthy.callCount())
}

func TestDispatcher_DeliveryDetachedFromCallerCancellation(t *testing.T) {
	s := &recordingSender{}
	d := NewDispatcher(nil, s)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d.SetStatus(ctx, "exec-1", schema.ExecutionStatusSuccess)
	d.Wait()
	assert.Equal(t, 1, s.callCount(), "cancelled caller context must not block delivery")
}

func TestDispatcher_EmitEventStampsTimestamp(t *testing.T) {
	s := &recordingSender{}
	d := NewDispatcher(nil, s)

	d.EmitEvent(context.Background(), schema.TelemetryEvent{Name: "e", ExecutionID: "exec-1"})
	d.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	require.Len(t, s.events, 1)
	assert.False(t, s.events[0].Timestamp.IsZero())
	assert.WithinDuration(t, time.Now().UTC(), s.events[0].Timestamp, time.Minute)
}

func TestDispatcher_NoSenders(t *testing.T) {
	d := NewDispatcher(nil)
	// Must be safe with zero senders.
	d.SetStatus(context.Background(), "exec-1", schema.ExecutionStatusSuccess)
	d.EmitEvent(context.Background(), schema.TelemetryEvent{})
	d.Wait()
}

func TestDispatcher_CloseDropsLaterDeliveries(t *testing.T) {
	s := &recordingSender{}
	d := NewDispatcher(nil, s)

	d.SetStatus(context.Background(), "exec-1", schema.ExecutionStatusRunning)
	d.Close()

	d.SetStatus(context.Background(), "exec-1", schema.ExecutionStatusSuccess)
	assert.Equal(t, 1, s.callCount(), "post-close dispatch is dropped, not delivered")
}
