package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"predictpool/internal/config"
	"predictpool/internal/models"
	"predictpool/internal/repository"
)

// LockReaper expires overdue escrow locks and returns their funds to the
// available balance. It runs unconditionally: there is no feature switch
// that may leave reservations stuck.
type LockReaper struct {
	Repo   repository.Repository
	Config config.ReaperConfig
	Logger *zap.Logger
}

func (s *LockReaper) Run(ctx context.Context) {
	interval := s.Config.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logWarn("lock sweep failed", zap.Error(err))
			}
		}
	}
}

// RunOnce expires one batch of due locks and returns how many it expired.
// Due means past expires_at, or older than the fallback age for locks that
// somehow have none.
func (s *LockReaper) RunOnce(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	fallbackAge := s.Config.FallbackAge
	if fallbackAge <= 0 {
		fallbackAge = 30 * time.Minute
	}
	batch := s.Config.BatchSize
	if batch <= 0 {
		batch = 500
	}

	locks, err := s.Repo.ListDueLocks(ctx, now, now.Add(-fallbackAge), batch)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, lock := range locks {
		ok, err := s.Repo.TransitionEscrowLock(ctx, lock.ID, models.LockStateLocked, models.LockStateExpired, now)
		if err != nil {
			return expired, err
		}
		if !ok {
			// Consumed or released since the listing; nothing to undo.
			continue
		}
		if err := s.Repo.AdjustWalletAvailable(ctx, lock.UserID, lock.Amount); err != nil {
			return expired, err
		}
		if err := s.Repo.AdjustWalletReserved(ctx, lock.UserID, lock.Amount.Neg()); err != nil {
			return expired, err
		}
		expired++
	}

	if expired > 0 && s.Logger != nil {
		s.Logger.Info("expired stale escrow locks", zap.Int("count", expired))
	}
	return expired, nil
}

func (s *LockReaper) logWarn(msg string, fields ...zap.Field) {
	if s != nil && s.Logger != nil {
		s.Logger.Warn(msg, fields...)
	}
}
