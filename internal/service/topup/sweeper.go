// internal/service/topup/sweeper.go
package topup

import (
	"context"
	"time"

	"healthwallet-service/internal/pkg/ratelimit"

	"go.uber.org/zap"
)

const sweepLockName = "topup-expiry-sweep"

// Sweeper periodically expires stale intents. The lease keeps concurrent
// replicas from sweeping at the same time.
type Sweeper struct {
	service  *Service
	locker   ratelimit.Locker
	interval time.Duration
	logger   *zap.Logger
}

func NewSweeper(service *Service, locker ratelimit.Locker, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{service: service, locker: locker, interval: interval, logger: logger}
}

// Run sweeps every interval until ctx is cancelled.
func (w *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("top-up expiry sweeper started", zap.Duration("interval", w.interval))
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("top-up expiry sweeper stopped")
			return nil
		case <-ticker.C:
			if _, err := w.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				w.logger.Error("expiry sweep failed", zap.Error(err))
			}
		}
	}
}

// SweepOnce runs one sweep if this replica wins the lease.
func (w *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	release, acquired, err := w.locker.TryLock(ctx, sweepLockName, w.interval)
	if err != nil {
		return 0, err
	}
	if !acquired {
		return 0, nil
	}
	defer func() {
		if err := release(context.Background()); err != nil {
			w.logger.Warn("failed to release sweep lease", zap.Error(err))
		}
	}()

	n, err := w.service.ExpireStale(ctx, w.service.now())
	if n > 0 {
		w.logger.Info("expired stale top-up intents", zap.Int("count", n))
	}
	return n, err
}
