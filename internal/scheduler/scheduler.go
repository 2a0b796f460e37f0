// Package scheduler owns when pipeline runs happen: a fixed-interval timer,
// manual triggers, and the single-run guarantee shared between them.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/spigell/job-radar/internal/model"
	"github.com/spigell/job-radar/internal/store"
	"github.com/spigell/job-radar/internal/workday"
)

// ErrRunInProgress is returned when a trigger finds another run holding the
// run state. The trigger is dropped, never queued.
var ErrRunInProgress = errors.New("a run is already in progress")

// TriggerKind tells the scheduler who asked for the run.
type TriggerKind string

const (
	// TriggerManual runs unconditionally, workday or not.
	TriggerManual TriggerKind = "manual"
	// TriggerTimer runs only on configured workdays.
	TriggerTimer TriggerKind = "timer"
)

// Runner executes one pipeline pass.
type Runner interface {
	Run(ctx context.Context) (*model.RunStats, error)
}

type Config struct {
	// IntervalMinutes between timer runs. Zero means 60.
	IntervalMinutes int

	// Region selects the workday calendar for timer runs.
	Region string
}

type Scheduler struct {
	store  store.Store
	runner Runner
	logger *zap.Logger
	region string

	// now is swapped out in tests.
	now func() time.Time

	mu       sync.Mutex
	interval time.Duration
	cron     *cron.Cron
	entryID  cron.EntryID
	// baseCtx is the lifecycle context given to Start. Timer ticks run
	// against it, never against a caller's short-lived context.
	baseCtx context.Context
}

func New(st store.Store, runner Runner, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.IntervalMinutes <= 0 {
		cfg.IntervalMinutes = 60
	}
	return &Scheduler{
		store:    st,
		runner:   runner,
		logger:   logger,
		region:   cfg.Region,
		now:      time.Now,
		interval: time.Duration(cfg.IntervalMinutes) * time.Minute,
	}
}

// Start registers the timer and begins ticking. The first tick fires one
// full interval from now, not immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return errors.New("scheduler already started")
	}

	s.baseCtx = ctx
	s.cron = cron.New()
	s.entryID = s.cron.Schedule(cron.Every(s.interval), cron.FuncJob(s.tick))
	s.cron.Start()

	next := s.now().Add(s.interval)
	if err := s.store.SetNextRun(ctx, next); err != nil {
		return fmt.Errorf("record next run: %w", err)
	}

	s.logger.Info("scheduler started",
		zap.Duration("interval", s.interval),
		zap.Time("next_run", next),
	)
	return nil
}

// Stop halts the timer and waits for a tick in flight to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	// Waiting outside the lock: a tick in flight reads the interval under
	// the same mutex.
	<-c.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// Trigger attempts one run now. Timer triggers are gated on the workday
// calendar; a skipped tick still advances the next-run timestamp. Exactly
// one trigger can win the idle run state; the rest get ErrRunInProgress.
func (s *Scheduler) Trigger(ctx context.Context, kind TriggerKind) (*model.RunStats, error) {
	now := s.now()

	if kind == TriggerTimer && !workday.IsWorkday(s.region, now) {
		s.logger.Info("skipping scheduled run on non-workday", zap.Time("now", now))
		if err := s.store.SetNextRun(ctx, now.Add(s.currentInterval())); err != nil {
			return nil, fmt.Errorf("record next run: %w", err)
		}
		return nil, nil
	}

	acquired, err := s.store.AcquireRun(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("acquire run state: %w", err)
	}
	if !acquired {
		return nil, ErrRunInProgress
	}

	stats, runErr := s.runner.Run(ctx)
	if stats == nil {
		stats = &model.RunStats{StartedAt: now, FinishedAt: time.Now()}
	}
	if runErr != nil {
		stats.Errors = append(stats.Errors, runErr.Error())
	}

	next := now.Add(s.currentInterval())
	if err := s.store.FinishRun(ctx, stats, next); err != nil {
		return stats, fmt.Errorf("release run state: %w", err)
	}

	return stats, runErr
}

// UpdateInterval changes the timer period. It takes effect from the next
// tick; a run in flight is unaffected.
func (s *Scheduler) UpdateInterval(ctx context.Context, minutes int) error {
	if minutes <= 0 {
		return fmt.Errorf("interval must be positive, got %d", minutes)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.interval = time.Duration(minutes) * time.Minute
	if s.cron != nil {
		s.cron.Remove(s.entryID)
		s.entryID = s.cron.Schedule(cron.Every(s.interval), cron.FuncJob(s.tick))
	}

	if err := s.store.SetInterval(ctx, minutes); err != nil {
		return fmt.Errorf("persist interval: %w", err)
	}

	s.logger.Info("run interval updated", zap.Int("minutes", minutes))
	return nil
}

// Status reports the shared run state.
func (s *Scheduler) Status(ctx context.Context) (*model.RunState, error) {
	return s.store.RunState(ctx)
}

// tick is the cron job body shared by Start and UpdateInterval.
func (s *Scheduler) tick() {
	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()

	if _, err := s.Trigger(ctx, TriggerTimer); err != nil && !errors.Is(err, ErrRunInProgress) {
		s.logger.Error("scheduled run failed", zap.Error(err))
	}
}

func (s *Scheduler) currentInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}
