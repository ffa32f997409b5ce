package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/circulation/services/circulation-service/internal/circulation"
)

type Sweeper interface {
	Sweep(ctx context.Context) (circulation.SweepResult, error)
}

// SweepWorker runs the expiration sweep on a fixed interval. Replicas share a
// lease so a sweep runs on one of them per tick.
type SweepWorker struct {
	sweeper  Sweeper
	locker   Locker
	logger   *slog.Logger
	interval time.Duration
	lockKey  string
	lockTTL  time.Duration
}

type WorkerConfig struct {
	Interval time.Duration
	LockKey  string
	LockTTL  time.Duration
}

func NewSweepWorker(sweeper Sweeper, locker Locker, logger *slog.Logger, cfg WorkerConfig) *SweepWorker {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Minute
	}
	if cfg.LockKey == "" {
		cfg.LockKey = "circulation:sweep:lock"
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = cfg.Interval
	}
	if locker == nil {
		locker = NewLocalLock()
	}
	return &SweepWorker{
		sweeper:  sweeper,
		locker:   locker,
		logger:   logger,
		interval: cfg.Interval,
		lockKey:  cfg.LockKey,
		lockTTL:  cfg.LockTTL,
	}
}

func (w *SweepWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, _, err := w.RunOnce(ctx); err != nil {
				w.logger.Error("sweep failed", "err", err)
			}
		}
	}
}

// RunOnce sweeps if this replica wins the lease. ran is false when another
// replica holds it.
func (w *SweepWorker) RunOnce(ctx context.Context) (res circulation.SweepResult, ran bool, err error) {
	release, ok, err := w.locker.TryLock(ctx, w.lockKey, w.lockTTL)
	if err != nil {
		return res, false, err
	}
	if !ok {
		w.logger.Debug("sweep lease held elsewhere")
		return res, false, nil
	}
	defer func() {
		if rerr := release(context.WithoutCancel(ctx)); rerr != nil {
			w.logger.Warn("sweep lease release failed", "err", rerr)
		}
	}()

	res, err = w.sweeper.Sweep(ctx)
	return res, true, err
}
