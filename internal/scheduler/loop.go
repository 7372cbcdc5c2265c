// Package scheduler polls for due tasks and hands each one to the dispatcher
// exactly once.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"call-scheduler/internal/dispatch"
	"call-scheduler/internal/tasks"
	"call-scheduler/pkg/logger"

	"golang.org/x/sync/errgroup"
)

var ErrAlreadyRunning = errors.New("scheduler: loop already running")

const (
	staleReason = "call was never confirmed by the provider; retry by rescheduling the task"
	panicReason = "internal error while placing call; retry by rescheduling the task"
)

// Dispatcher places the call for a claimed task.
type Dispatcher interface {
	Dispatch(ctx context.Context, t tasks.Task) (dispatch.Placement, error)
}

type Config struct {
	Interval          time.Duration
	StartDelay        time.Duration
	BatchSize         int
	Concurrency       int
	StoreTimeout      time.Duration
	StalePendingAfter time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.StartDelay < 0 {
		c.StartDelay = 0
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 10 * time.Second
	}
	if c.StalePendingAfter <= 0 {
		c.StalePendingAfter = 15 * time.Minute
	}
	return c
}

// TickResult summarises one tick.
type TickResult struct {
	Skipped   bool
	Stale     int
	Due       int
	Claimed   int
	Completed int
	Failed    int
	// Lost counts tasks whose outcome was not recorded because they left
	// pending in the meantime, or another replica claimed them first.
	Lost int
}

// Loop is the scheduler handle. Lock and events are optional.
type Loop struct {
	repo       tasks.Repository
	dispatcher Dispatcher
	lock       TickLock
	events     tasks.EventRecorder
	cfg        Config
	clock      func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewLoop(repo tasks.Repository, d Dispatcher, lock TickLock, events tasks.EventRecorder, cfg Config) *Loop {
	return &Loop{
		repo:       repo,
		dispatcher: d,
		lock:       lock,
		events:     events,
		cfg:        cfg.withDefaults(),
		clock:      time.Now,
	}
}

// Start runs the loop in the background until ctx is cancelled or Stop is called.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.run(ctx, l.done)
	return nil
}

// Stop cancels the loop and waits for the current tick to finish.
func (l *Loop) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancel != nil
}

// Run blocks until ctx is done. It suits an errgroup in main.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	l.Stop()
	return nil
}

func (l *Loop) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	log := logger.From(ctx).With("component", "scheduler")
	ctx = logger.With(ctx, log)
	log.Info("scheduler started", "interval", l.cfg.Interval, "start_delay", l.cfg.StartDelay, "batch_size", l.cfg.BatchSize, "concurrency", l.cfg.Concurrency)

	if l.cfg.StartDelay > 0 {
		select {
		case <-ctx.Done():
			log.Info("scheduler stopped before first tick")
			return
		case <-time.After(l.cfg.StartDelay):
		}
	}

	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := l.Tick(ctx); err != nil && ctx.Err() == nil {
			log.Error("scheduler tick failed", "error", err)
		}
		select {
		case <-ctx.Done():
			log.Info("scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}

// Tick runs one poll: stale sweep, fetch, claim and dispatch. Per-task errors
// are recorded on the task; only store-level failures are returned.
func (l *Loop) Tick(ctx context.Context) (res TickResult, err error) {
	started := time.Now()
	defer func() {
		tickDurationHist.Observe(time.Since(started).Seconds())
		switch {
		case err != nil:
			ticksCounter.WithLabelValues("error").Inc()
		case res.Skipped:
			ticksCounter.WithLabelValues("skipped").Inc()
		default:
			ticksCounter.WithLabelValues("ran").Inc()
		}
	}()

	if l.lock != nil {
		release, ok, err := l.lock.Acquire(ctx)
		if err != nil {
			return res, fmt.Errorf("acquire tick lock: %w", err)
		}
		if !ok {
			logger.From(ctx).Debug("tick lock held elsewhere; skipping")
			res.Skipped = true
			return res, nil
		}
		defer func() {
			rctx, cancel := l.storeContext(ctx)
			defer cancel()
			if rerr := release(rctx); rerr != nil {
				logger.From(ctx).Warn("release tick lock", "error", rerr)
			}
		}()
	}

	now := l.clock()
	res.Stale = l.sweepStale(ctx, now)

	fctx, cancel := l.storeContext(ctx)
	due, err := l.repo.FetchDue(fctx, now, l.cfg.BatchSize)
	cancel()
	if err != nil {
		return res, fmt.Errorf("fetch due tasks: %w", err)
	}
	res.Due = len(due)
	if len(due) == 0 {
		return res, nil
	}

	var claimed, completed, failed, lost atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.cfg.Concurrency)
	for _, t := range due {
		g.Go(func() error {
			switch l.process(gctx, t) {
			case outcomeCompleted:
				claimed.Add(1)
				completed.Add(1)
			case outcomeFailed:
				claimed.Add(1)
				failed.Add(1)
			case outcomeLost:
				claimed.Add(1)
				lost.Add(1)
			case outcomeNotClaimed:
				lost.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	res.Claimed = int(claimed.Load())
	res.Completed = int(completed.Load())
	res.Failed = int(failed.Load())
	res.Lost = int(lost.Load())
	logger.From(ctx).Info("scheduler tick",
		"due", res.Due, "claimed", res.Claimed, "completed", res.Completed,
		"failed", res.Failed, "lost", res.Lost, "stale", res.Stale)
	return res, nil
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeNotClaimed
	outcomeCompleted
	outcomeFailed
	outcomeLost
)

func (l *Loop) process(ctx context.Context, t tasks.Task) (out outcome) {
	ctx = logger.ForTask(ctx, t.ID, t.TenantID)
	log := logger.From(ctx)

	var isClaimed bool
	defer func() {
		if r := recover(); r != nil {
			tasksCounter.WithLabelValues("panic").Inc()
			log.Error("panic while dispatching task", "panic", fmt.Sprint(r))
			if !isClaimed {
				out = outcomeSkipped
				return
			}
			out = l.fail(ctx, t, panicReason)
		}
	}()

	cctx, cancel := l.storeContext(ctx)
	ok, err := l.repo.Claim(cctx, t.ID, l.clock())
	cancel()
	if err != nil {
		log.Error("claim task", "error", err)
		return outcomeSkipped
	}
	if !ok {
		log.Debug("task claimed elsewhere or no longer scheduled")
		return outcomeNotClaimed
	}
	isClaimed = true
	t.Status = tasks.StatusPending
	l.record(ctx, t, tasks.StatusPending, "claimed for dispatch")

	placement, derr := func() (dispatch.Placement, error) {
		inFlightGauge.Inc()
		defer inFlightGauge.Dec()
		return l.dispatcher.Dispatch(ctx, t)
	}()
	if derr != nil {
		log.Warn("dispatch failed", "error", derr)
		return l.fail(ctx, t, dispatch.FailureMessage(derr))
	}
	return l.complete(ctx, t, placement)
}

func (l *Loop) complete(ctx context.Context, t tasks.Task, p dispatch.Placement) outcome {
	msg := dispatch.SuccessMessage(p)
	sctx, cancel := l.storeContext(context.WithoutCancel(ctx))
	defer cancel()
	err := l.repo.Complete(sctx, t.ID, p.SessionID, msg, l.clock())
	switch {
	case errors.Is(err, tasks.ErrNotPending):
		logger.From(ctx).Info("call placed but task left pending first; outcome dropped", "session_id", p.SessionID)
		tasksCounter.WithLabelValues("lost").Inc()
		return outcomeLost
	case err != nil:
		logger.From(ctx).Error("record completed outcome", "error", err, "session_id", p.SessionID)
		tasksCounter.WithLabelValues("lost").Inc()
		return outcomeLost
	}
	logger.From(ctx).Info("call placed", "path", p.Path, "session_id", p.SessionID)
	tasksCounter.WithLabelValues("completed").Inc()
	l.record(ctx, t, tasks.StatusCompleted, msg)
	return outcomeCompleted
}

func (l *Loop) fail(ctx context.Context, t tasks.Task, reason string) outcome {
	sctx, cancel := l.storeContext(context.WithoutCancel(ctx))
	defer cancel()
	err := l.repo.Fail(sctx, t.ID, reason, l.clock())
	switch {
	case errors.Is(err, tasks.ErrNotPending):
		logger.From(ctx).Info("task left pending before failure was recorded", "reason", reason)
		tasksCounter.WithLabelValues("lost").Inc()
		return outcomeLost
	case err != nil:
		logger.From(ctx).Error("record failed outcome", "error", err)
		tasksCounter.WithLabelValues("lost").Inc()
		return outcomeLost
	}
	tasksCounter.WithLabelValues("failed").Inc()
	l.record(ctx, t, tasks.StatusFailed, reason)
	return outcomeFailed
}

func (l *Loop) sweepStale(ctx context.Context, now time.Time) int {
	sctx, cancel := l.storeContext(ctx)
	defer cancel()
	stale, err := l.repo.FailStalePending(sctx, now.Add(-l.cfg.StalePendingAfter), staleReason, now)
	if err != nil {
		logger.From(ctx).Error("fail stale pending tasks", "error", err)
		return 0
	}
	for _, t := range stale {
		tctx := logger.ForTask(ctx, t.ID, t.TenantID)
		logger.From(tctx).Warn("pending task timed out", "claimed_at", t.ClaimedAt)
		l.record(tctx, t, tasks.StatusFailed, staleReason)
	}
	tasksCounter.WithLabelValues("stale").Add(float64(len(stale)))
	return len(stale)
}

func (l *Loop) record(ctx context.Context, t tasks.Task, status tasks.Status, msg string) {
	if l.events == nil {
		return
	}
	if err := l.events.RecordTaskEvent(ctx, t.TenantID, t.ID, status, msg); err != nil {
		logger.From(ctx).Warn("record task event", "error", err)
	}
}

func (l *Loop) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, l.cfg.StoreTimeout)
}
