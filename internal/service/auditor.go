package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"predictpool/internal/config"
	"predictpool/internal/models"
	"predictpool/internal/repository"
)

// ReconciliationAuditor sweeps cached wallet rows and flags figures that
// drift from the lock table and ledger beyond a tolerance. It is strictly
// read-only; divergences are logged and recorded, never auto-corrected.
type ReconciliationAuditor struct {
	Repo   repository.Repository
	Flags  *SystemSettingsService
	Config config.AuditorConfig
	Logger *zap.Logger
}

// Drift is one wallet whose cached figures disagree with derived ones.
type Drift struct {
	UserID          uint64          `json:"user_id"`
	CachedReserved  decimal.Decimal `json:"cached_reserved"`
	DerivedReserved decimal.Decimal `json:"derived_reserved"`
	Delta           decimal.Decimal `json:"delta"`
}

func (s *ReconciliationAuditor) Run(ctx context.Context) {
	interval := s.Config.ScanInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logWarn("audit sweep failed", zap.Error(err))
			}
		}
	}
}

// RunOnce scans every wallet page by page and returns the drifts found.
func (s *ReconciliationAuditor) RunOnce(ctx context.Context) ([]Drift, error) {
	if s.Flags != nil && !s.Flags.IsEnabled(ctx, FeatureAuditor, true) {
		return nil, nil
	}

	epsilon := s.epsilon()
	batch := s.Config.BatchSize
	if batch <= 0 {
		batch = 200
	}

	var drifts []Drift
	now := time.Now().UTC()
	for offset := 0; ; offset += batch {
		wallets, err := s.Repo.ListWallets(ctx, batch, offset)
		if err != nil {
			return drifts, err
		}
		if len(wallets) == 0 {
			break
		}
		for _, w := range wallets {
			derived, err := s.Repo.SumUnexpiredLockedAmount(ctx, w.UserID, now)
			if err != nil {
				return drifts, err
			}
			delta := w.Reserved.Sub(derived)
			if delta.Abs().LessThanOrEqual(epsilon) {
				continue
			}
			drift := Drift{
				UserID:          w.UserID,
				CachedReserved:  w.Reserved,
				DerivedReserved: derived,
				Delta:           delta,
			}
			drifts = append(drifts, drift)
			s.record(ctx, drift)
		}
		if len(wallets) < batch {
			break
		}
	}

	if s.Logger != nil {
		s.Logger.Info("reconciliation audit complete", zap.Int("drifts", len(drifts)))
	}
	return drifts, nil
}

func (s *ReconciliationAuditor) record(ctx context.Context, d Drift) {
	s.logWarn("wallet reserve drift detected",
		zap.Uint64("user_id", d.UserID),
		zap.String("cached", d.CachedReserved.String()),
		zap.String("derived", d.DerivedReserved.String()),
		zap.String("delta", d.Delta.String()))

	meta, _ := json.Marshal(d)
	if err := s.Repo.InsertEventLog(ctx, &models.EventLog{
		UserID:   d.UserID,
		Kind:     "audit_drift",
		Metadata: datatypes.JSON(meta),
	}); err != nil {
		s.logWarn("audit event log write failed", zap.Uint64("user_id", d.UserID), zap.Error(err))
	}
}

func (s *ReconciliationAuditor) epsilon() decimal.Decimal {
	if s.Config.Epsilon != "" {
		if eps, err := decimal.NewFromString(s.Config.Epsilon); err == nil && eps.IsPositive() {
			return eps
		}
	}
	return decimal.NewFromFloat(0.01)
}

func (s *ReconciliationAuditor) logWarn(msg string, fields ...zap.Field) {
	if s != nil && s.Logger != nil {
		s.Logger.Warn(msg, fields...)
	}
}
