package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ResumeFunc picks a waiting execution back up once its wake time has passed.
type ResumeFunc func(ctx context.Context, executionID string) error

// Resumer tracks executions parked in a waiting state and hands them to a
// resume callback once their wake time passes. Executions register when they
// go to sleep; a background loop sweeps for due entries.
type Resumer struct {
	resume   ResumeFunc
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	waiting map[string]time.Time // execution ID -> wake time

	inflightMu sync.Mutex
	inflight   map[string]struct{} // execution IDs currently resuming (dedup)

	loopMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewResumer creates a Resumer that sweeps at the given interval. A zero or
// negative interval defaults to 10 seconds.
func NewResumer(resume ResumeFunc, interval time.Duration, logger *slog.Logger) *Resumer {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resumer{
		resume:   resume,
		interval: interval,
		logger:   logger,
		waiting:  make(map[string]time.Time),
		inflight: make(map[string]struct{}),
	}
}

// Park registers an execution to be resumed at wakeAt. Parking an already
// parked execution replaces its wake time.
func (r *Resumer) Park(executionID string, wakeAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waiting[executionID] = wakeAt
}

// Unpark removes an execution from the waiting set, e.g. on cancellation.
func (r *Resumer) Unpark(executionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.waiting, executionID)
}

// WaitingCount returns the number of parked executions.
func (r *Resumer) WaitingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiting)
}

// Start launches the background sweep loop.
func (r *Resumer) Start(ctx context.Context) error {
	r.loopMu.Lock()
	if r.done != nil {
		r.loopMu.Unlock()
		return fmt.Errorf("resumer already started")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.loopMu.Unlock()

	go r.loop(loopCtx)
	r.logger.Info("wait resumer started", slog.Duration("interval", r.interval))
	return nil
}

func (r *Resumer) loop(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep resumes every parked execution whose wake time has passed. A failed
// resume keeps the execution parked for the next sweep.
func (r *Resumer) Sweep(ctx context.Context) {
	now := time.Now().UTC()

	r.mu.Lock()
	var due []string
	for id, wakeAt := range r.waiting {
		if !wakeAt.After(now) {
			due = append(due, id)
		}
	}
	r.mu.Unlock()

	for _, id := range due {
		if !r.tryAcquire(id) {
			continue // already resuming (dedup)
		}
		if err := r.resume(ctx, id); err != nil {
			r.logger.Error("failed to resume waiting execution",
				slog.String("execution_id", id),
				slog.String("error", err.Error()),
			)
			r.release(id)
			continue
		}
		r.Unpark(id)
		r.release(id)
	}
}

func (r *Resumer) tryAcquire(executionID string) bool {
	r.inflightMu.Lock()
	defer r.inflightMu.Unlock()
	if _, ok := r.inflight[executionID]; ok {
		return false
	}
	r.inflight[executionID] = struct{}{}
	return true
}

func (r *Resumer) release(executionID string) {
	r.inflightMu.Lock()
	defer r.inflightMu.Unlock()
	delete(r.inflight, executionID)
}

// Stop gracefully shuts down the sweep loop.
func (r *Resumer) Stop() error {
	r.loopMu.Lock()
	defer r.loopMu.Unlock()

	if r.cancel == nil {
		return nil
	}

	r.cancel()
	<-r.done
	r.cancel = nil
	r.done = nil

	r.logger.Info("wait resumer stopped")
	return nil
}
