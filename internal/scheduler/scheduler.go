package scheduler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/stockflow/reminderd/internal/escalation"
	"github.com/stockflow/reminderd/internal/redis"
)

// Runner is the engine surface the scheduler drives.
type Runner interface {
	Run(ctx context.Context, today time.Time) (*escalation.RunSummary, error)
}

// Locker serializes runs across instances. Optional.
type Locker interface {
	Acquire(ctx context.Context, runDate string) error
	Release(ctx context.Context, runDate string)
}

// Notifier receives the summary of each completed run. Optional.
type Notifier interface {
	Post(ctx context.Context, runDate, trigger string, summary *escalation.RunSummary)
}

type Config struct {
	Interval time.Duration  // how often to attempt a run
	Location *time.Location // reporting timezone for the run date
}

// Scheduler triggers escalation runs on a fixed interval. Running more often
// than daily is safe: the engine's dedup guard turns repeat runs within a
// day into no-ops, while a shorter interval picks up invoices that crossed
// a threshold mid-day without waiting for the next calendar day.
type Scheduler struct {
	runner   Runner
	lock     Locker // nil when Redis is not configured
	notifier Notifier
	config   Config
	logger   *zap.Logger
}

func New(runner Runner, lock Locker, notifier Notifier, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.Interval == 0 {
		cfg.Interval = 1 * time.Hour
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	return &Scheduler{
		runner:   runner,
		lock:     lock,
		notifier: notifier,
		config:   cfg,
		logger:   logger,
	}
}

// Start blocks, attempting a run every interval until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	// First attempt shortly after startup rather than a full interval later.
	s.attempt(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping")
			return
		case <-ticker.C:
			s.attempt(ctx)
		}
	}
}

func (s *Scheduler) attempt(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	today := time.Now().In(s.config.Location)
	runDate := today.Format("2006-01-02")

	if s.lock != nil {
		if err := s.lock.Acquire(ctx, runDate); err != nil {
			if errors.Is(err, redis.ErrRunInProgress) {
				s.logger.Info("skipping scheduled run, another is in progress",
					zap.String("run_date", runDate),
				)
				return
			}
			// Lock service down: proceed anyway, the ledger constraint keeps
			// concurrent runs from double-sending.
			s.logger.Warn("run lock unavailable, proceeding without it", zap.Error(err))
		} else {
			defer s.lock.Release(ctx, runDate)
		}
	}

	summary, err := s.runner.Run(ctx, today)
	if err != nil {
		s.logger.Error("scheduled escalation run failed",
			zap.Error(err),
			zap.String("run_date", runDate),
		)
		return
	}

	if s.notifier != nil {
		s.notifier.Post(ctx, runDate, "scheduler", summary)
	}
}
