// Package scheduler запускает периодические фоновые задачи сервиса.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/mmeshcher/restaurant-system/internal/service"
)

// Jobs описывает операции сервиса, выполняемые по расписанию.
type Jobs interface {
	ReconcileCredits(ctx context.Context, autoCredit bool, limit int) (*service.ReconcileResult, error)
	PurgeExpiredTokens(ctx context.Context) (int64, error)
}

// Options задаёт расписание задач.
type Options struct {
	ReconcileInterval time.Duration
	AutoCredit        bool
	BatchSize         int
	PurgeInterval     time.Duration
}

// Scheduler выполняет сверку начислений и очистку истёкших токенов.
type Scheduler struct {
	jobs   Jobs
	logger *zap.Logger
	opts   Options
	cron   gocron.Scheduler
}

// New создаёт планировщик. Задачи регистрируются при запуске.
func New(jobs Jobs, logger *zap.Logger, opts Options) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ReconcileInterval <= 0 {
		opts.ReconcileInterval = 15 * time.Minute
	}
	if opts.PurgeInterval <= 0 {
		opts.PurgeInterval = time.Hour
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}

	cron, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &Scheduler{jobs: jobs, logger: logger, opts: opts, cron: cron}, nil
}

// Run регистрирует задачи, запускает их и блокируется до отмены контекста.
func (s *Scheduler) Run(ctx context.Context) error {
	_, err := s.cron.NewJob(
		gocron.DurationJob(s.opts.ReconcileInterval),
		gocron.NewTask(s.reconcile),
		gocron.WithContext(ctx),
		gocron.WithName("reconcile-credits"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("schedule reconciliation: %w", err)
	}

	_, err = s.cron.NewJob(
		gocron.DurationJob(s.opts.PurgeInterval),
		gocron.NewTask(s.purge),
		gocron.WithContext(ctx),
		gocron.WithName("purge-refresh-tokens"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("schedule token purge: %w", err)
	}

	s.cron.Start()
	s.logger.Info("scheduler started",
		zap.Duration("reconcileInterval", s.opts.ReconcileInterval),
		zap.Bool("autoCredit", s.opts.AutoCredit),
		zap.Duration("purgeInterval", s.opts.PurgeInterval),
	)

	<-ctx.Done()

	if err := s.cron.Shutdown(); err != nil {
		return fmt.Errorf("scheduler shutdown: %w", err)
	}
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) reconcile(ctx context.Context) {
	res, err := s.jobs.ReconcileCredits(ctx, s.opts.AutoCredit, s.opts.BatchSize)
	if err != nil {
		s.logger.Error("loyalty reconciliation failed", zap.Error(err))
		return
	}
	if res.Found == 0 {
		return
	}
	s.logger.Info("loyalty reconciliation finished",
		zap.Int("found", res.Found),
		zap.Int("credited", res.Credited),
	)
}

func (s *Scheduler) purge(ctx context.Context) {
	n, err := s.jobs.PurgeExpiredTokens(ctx)
	if err != nil {
		s.logger.Error("refresh token purge failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("expired refresh tokens purged", zap.Int64("count", n))
	}
}
