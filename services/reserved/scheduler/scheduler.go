// Package scheduler runs the periodic reserve jobs: market accrual, position
// snapshots and idempotency cache pruning.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"fiatreserve/native/reserve"
	"fiatreserve/observability"
	"fiatreserve/observability/metrics"
	"fiatreserve/services/reserved/app"
	"fiatreserve/services/reserved/config"
	"fiatreserve/services/reserved/storage"
)

// pruneSpec runs the idempotency pruning at the top of every hour.
const pruneSpec = "0 0 * * * *"

// SnapshotRecorder persists position snapshots.
type SnapshotRecorder interface {
	RecordSnapshot(ctx context.Context, snap storage.Snapshot) error
}

// Pruner drops expired cache entries.
type Pruner interface {
	Prune() (int, error)
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron     *cron.Cron
	app      *app.App
	recorder SnapshotRecorder
	pruner   Pruner
	logger   *slog.Logger
	ctx      context.Context
	nowFn    func() time.Time
}

// New creates a scheduler. recorder and pruner are optional.
func New(ctx context.Context, a *app.App, recorder SnapshotRecorder, pruner Pruner, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:     cron.New(cron.WithSeconds()),
		app:      a,
		recorder: recorder,
		pruner:   pruner,
		logger:   logger.With("component", "scheduler"),
		ctx:      ctx,
		nowFn:    time.Now,
	}
}

// Register installs the configured jobs. Empty expressions leave a job off.
func (s *Scheduler) Register(cfg config.SchedulerConfig) error {
	if cfg.Accrue != "" {
		if _, err := s.cron.AddFunc(cfg.Accrue, s.accrueTask); err != nil {
			return fmt.Errorf("register accrue task: %w", err)
		}
	}
	if cfg.Snapshot != "" {
		if _, err := s.cron.AddFunc(cfg.Snapshot, s.snapshotTask); err != nil {
			return fmt.Errorf("register snapshot task: %w", err)
		}
	}
	if s.pruner != nil {
		if _, err := s.cron.AddFunc(pruneSpec, s.pruneTask); err != nil {
			return fmt.Errorf("register prune task: %w", err)
		}
	}
	return nil
}

// Jobs reports the number of registered jobs.
func (s *Scheduler) Jobs() int { return len(s.cron.Entries()) }

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", slog.Int("jobs", s.Jobs()))
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// Accrue brings the market's interest index up to date as a committed
// operation and exports the resulting market stats.
func (s *Scheduler) Accrue() error {
	market := s.app.Market
	_, err := s.app.Runtime.Execute(s.ctx, "accrue", market.Accrue)
	metrics.Markets().RecordAccrual(market.Name(), err)
	if err != nil {
		return err
	}
	return s.app.Runtime.View(func() error {
		stats, err := market.Stats()
		if err != nil {
			return err
		}
		metrics.Markets().RecordStats(stats)
		return nil
	})
}

// Snapshot reads the reserve position, exports it as gauges and persists it
// when a recorder is configured.
func (s *Scheduler) Snapshot() (reserve.Position, error) {
	var pos reserve.Position
	err := s.app.Runtime.View(func() error {
		var err error
		pos, err = s.app.Reserve.Position()
		return err
	})
	if err != nil {
		return reserve.Position{}, err
	}
	observability.Reserve().RecordPosition(pos.Idle, pos.Deployed, pos.Assets, pos.Supply, pos.Allocation)
	if s.recorder == nil {
		return pos, nil
	}
	snap := storage.Snapshot{
		Idle:       pos.Idle,
		Deployed:   pos.Deployed,
		Assets:     pos.Assets,
		Supply:     pos.Supply,
		Allocation: pos.Allocation,
		RecordedAt: s.nowFn().UTC(),
	}
	if err := s.recorder.RecordSnapshot(s.ctx, snap); err != nil {
		return pos, fmt.Errorf("record snapshot: %w", err)
	}
	return pos, nil
}

func (s *Scheduler) accrueTask() {
	if err := s.Accrue(); err != nil {
		s.logger.Error("accrue failed", slog.String("market", s.app.Market.Name()), slog.Any("error", err))
	}
}

func (s *Scheduler) snapshotTask() {
	pos, err := s.Snapshot()
	if err != nil {
		s.logger.Error("snapshot failed", slog.Any("error", err))
		return
	}
	if !pos.Collateralized() {
		s.logger.Warn("reserve undercollateralized",
			slog.String("assets", pos.Assets.String()),
			slog.String("supply", pos.Supply.String()))
	}
}

func (s *Scheduler) pruneTask() {
	removed, err := s.pruner.Prune()
	if err != nil {
		s.logger.Error("idempotency prune failed", slog.Any("error", err))
		return
	}
	if removed > 0 {
		s.logger.Info("idempotency entries pruned", slog.Int("removed", removed))
	}
}
