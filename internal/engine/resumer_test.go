package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestResumer_SweepResumesDueExecutions(t *testing.T) {
	var mu sync.Mutex
	var resumed []string

	r := NewResumer(func(ctx context.Context, executionID string) error {
		mu.Lock()
		resumed = append(resumed, executionID)
		mu.Unlock()
		return nil
	}, time.Minute, nil)

	now := time.Now().UTC()
	r.Park("due", now.Add(-time.Second))
	r.Park("future", now.Add(time.Hour))

	r.Sweep(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if len(resumed) != 1 || resumed[0] != "due" {
		t.Errorf("expected only the due execution resumed, got %v", resumed)
	}
	if r.WaitingCount() != 1 {
		t.Errorf("future execution must stay parked, waiting=%d", r.WaitingCount())
	}
}

func TestResumer_FailedResumeStaysParked(t *testing.T) {
	calls := 0
	r := NewResumer(func(ctx context.Context, executionID string) error {
		calls++
		if calls == 1 {
			return errors.New("transient")
		}
		return nil
	}, time.Minute, nil)

	r.Park("exec-1", time.Now().UTC().Add(-time.Second))

	r.Sweep(context.Background())
	if r.WaitingCount() != 1 {
		t.Fatal("failed resume must keep the execution parked")
	}

	r.Sweep(context.Background())
	if r.WaitingCount() != 0 {
		t.Error("successful resume must unpark the execution")
	}
	if calls != 2 {
		t.Errorf("expected 2 resume attempts, got %d", calls)
	}
}

func TestResumer_ParkReplacesWakeTime(t *testing.T) {
	r := NewResumer(func(ctx context.Context, executionID string) error { return nil }, time.Minute, nil)

	r.Park("exec-1", time.Now().UTC().Add(time.Hour))
	r.Park("exec-1", time.Now().UTC().Add(-time.Second))

	r.Sweep(context.Background())
	if r.WaitingCount() != 0 {
		t.Error("re-parked execution must resume at its latest wake time")
	}
}

func TestResumer_Unpark(t *testing.T) {
	resumed := false
	r := NewResumer(func(ctx context.Context, executionID string) error {
		resumed = true
		return nil
	}, time.Minute, nil)

	r.Park("exec-1", time.Now().UTC().Add(-time.Second))
	r.Unpark("exec-1")

	r.Sweep(context.Background())
	if resumed {
		t.Error("unparked execution must not resume")
	}
}

func TestResumer_StartStop(t *testing.T) {
	r := NewResumer(func(ctx context.Context, executionID string) error { return nil }, 10*time.Millisecond, nil)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	if err := r.Start(context.Background()); err == nil {
		t.Error("second Start must fail")
	}
	if err := r.Stop(); err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}
	// Stop again is a no-op.
	if err := r.Stop(); err != nil {
		t.Fatalf("second stop must be a no-op: %v", err)
	}
}
