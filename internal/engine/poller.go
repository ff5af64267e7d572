package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// PollFunc runs one poll of a trigger node. Implementations typically fetch
// new items from an external system and rely on the processed-item ledger to
// skip signatures already seen on previous polls.
type PollFunc func(ctx context.Context) error

// PollSchedule describes a registered polling trigger.
type PollSchedule struct {
	WorkflowID     string
	NodeName       string
	CronExpression string
	Poll           PollFunc

	nextRunAt time.Time
	lastRunAt time.Time
	lastErr   error
}

// PollScheduler drives polling trigger nodes on cron schedules. A background
// loop ticks every minute and runs every schedule whose next run time has
// passed; a schedule never overlaps itself.
type PollScheduler struct {
	parser cron.Parser
	logger *slog.Logger

	mu        sync.Mutex
	schedules map[string]*PollSchedule // keyed by workflowID/nodeName

	inflightMu sync.Mutex
	inflight   map[string]struct{}

	loopMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPollScheduler creates an empty PollScheduler.
func NewPollScheduler(logger *slog.Logger) *PollScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PollScheduler{
		parser:    cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:    logger,
		schedules: make(map[string]*PollSchedule),
		inflight:  make(map[string]struct{}),
	}
}

func scheduleKey(workflowID, nodeName string) string {
	return workflowID + "/" + nodeName
}

// Register adds or replaces the polling schedule for a trigger node. The cron
// expression is validated and the first run time computed immediately.
func (p *PollScheduler) Register(workflowID, nodeName, cronExpr string, poll PollFunc) error {
	if poll == nil {
		return fmt.Errorf("poll function is required")
	}
	next, err := p.nextRun(cronExpr, time.Now().UTC())
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.schedules[scheduleKey(workflowID, nodeName)] = &PollSchedule{
		WorkflowID:     workflowID,
		NodeName:       nodeName,
		CronExpression: cronExpr,
		Poll:           poll,
		nextRunAt:      next,
	}
	return nil
}

// Unregister removes a trigger node's schedule, e.g. when its workflow is
// deactivated.
func (p *PollScheduler) Unregister(workflowID, nodeName string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.schedules, scheduleKey(workflowID, nodeName))
}

// Start launches the background scheduling loop with a 60s ticker.
func (p *PollScheduler) Start(ctx context.Context) error {
	p.loopMu.Lock()
	if p.done != nil {
		p.loopMu.Unlock()
		return fmt.Errorf("poll scheduler already started")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.loopMu.Unlock()

	go p.loop(loopCtx)
	p.logger.Info("poll scheduler started")
	return nil
}

func (p *PollScheduler) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	// Run an initial tick immediately.
	p.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// tick runs every schedule that is due.
func (p *PollScheduler) tick(ctx context.Context) {
	now := time.Now().UTC()

	p.mu.Lock()
	var due []*PollSchedule
	for _, s := range p.schedules {
		if !s.nextRunAt.After(now) {
			due = append(due, s)
		}
	}
	p.mu.Unlock()

	for _, s := range due {
		key := scheduleKey(s.WorkflowID, s.NodeName)
		if !p.tryAcquire(key) {
			continue // previous poll still running (dedup)
		}
		if err := p.runPoll(ctx, s, now); err != nil {
			p.logger.Error("poll failed",
				slog.String("workflow_id", s.WorkflowID),
				slog.String("node", s.NodeName),
				slog.String("error", err.Error()),
			)
		}
		p.release(key)
	}
}

// runPoll executes one poll and advances the schedule's timestamps.
func (p *PollScheduler) runPoll(ctx context.Context, s *PollSchedule, now time.Time) error {
	p.logger.Info("running poll",
		slog.String("workflow_id", s.WorkflowID),
		slog.String("node", s.NodeName),
	)

	err := s.Poll(ctx)

	next, nextErr := p.nextRun(s.CronExpression, now)
	if nextErr != nil {
		return nextErr
	}

	p.mu.Lock()
	s.lastRunAt = now
	s.lastErr = err
	s.nextRunAt = next
	p.mu.Unlock()

	return err
}

func (p *PollScheduler) tryAcquire(key string) bool {
	p.inflightMu.Lock()
	defer p.inflightMu.Unlock()
	if _, ok := p.inflight[key]; ok {
		return false
	}
	p.inflight[key] = struct{}{}
	return true
}

func (p *PollScheduler) release(key string) {
	p.inflightMu.Lock()
	defer p.inflightMu.Unlock()
	delete(p.inflight, key)
}

// nextRun computes the next run time for a cron expression.
func (p *PollScheduler) nextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := p.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop gracefully shuts down the scheduler.
func (p *PollScheduler) Stop() error {
	p.loopMu.Lock()
	defer p.loopMu.Unlock()

	if p.cancel == nil {
		return nil
	}

	p.cancel()
	<-p.done
	p.cancel = nil
	p.done = nil

	p.logger.Info("poll scheduler stopped")
	return nil
}
