package service

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"predictpool/internal/models"
	"predictpool/internal/repository"
)

// PredictionStateService recomputes the derived aggregates of a prediction
// (pool total, participant count, per-option totals and odds) from its
// active entries. Callers must hold the market mutex for the prediction.
type PredictionStateService struct {
	Repo   repository.Repository
	Logger *zap.Logger
}

// Recompute rebuilds every aggregate of one prediction from scratch. Odds
// are pari-mutuel: poolTotal / optionStake for funded options, and the
// option count for options nobody has staked on yet.
func (s *PredictionStateService) Recompute(ctx context.Context, predictionID uint64) error {
	options, err := s.Repo.ListOptionsByPrediction(ctx, predictionID)
	if err != nil {
		return err
	}
	entries, err := s.Repo.ListEntriesByPrediction(ctx, predictionID, []string{models.EntryStatusActive})
	if err != nil {
		return err
	}

	poolTotal := decimal.Zero
	perOption := make(map[uint64]decimal.Decimal, len(options))
	participants := make(map[uint64]struct{}, len(entries))
	for _, e := range entries {
		poolTotal = poolTotal.Add(e.Amount)
		perOption[e.OptionID] = perOption[e.OptionID].Add(e.Amount)
		participants[e.UserID] = struct{}{}
	}

	fallbackOdds := decimal.NewFromInt(int64(len(options)))
	for _, opt := range options {
		staked := perOption[opt.ID]
		odds := fallbackOdds
		if staked.IsPositive() {
			odds = poolTotal.DivRound(staked, 6)
		}
		if err := s.Repo.UpdateOptionAggregates(ctx, opt.ID, staked, odds); err != nil {
			return err
		}
	}

	if err := s.Repo.UpdatePredictionAggregates(ctx, predictionID, poolTotal, len(participants)); err != nil {
		return err
	}

	if s.Logger != nil {
		s.Logger.Debug("prediction aggregates recomputed",
			zap.Uint64("prediction_id", predictionID),
			zap.String("pool_total", poolTotal.String()),
			zap.Int("participants", len(participants)))
	}
	return nil
}

// QuoteStake prices a prospective stake against the current pool: the odds
// the option trades at now, the odds after the stake lands, and the payout
// the staker would see at those post-stake odds.
func QuoteStake(options []models.PredictionOption, optionID uint64, amount decimal.Decimal) (oddsBefore, oddsAfter, potentialPayout decimal.Decimal) {
	poolBefore := decimal.Zero
	stakedBefore := decimal.Zero
	for _, opt := range options {
		poolBefore = poolBefore.Add(opt.TotalStaked)
		if opt.ID == optionID {
			stakedBefore = opt.TotalStaked
		}
	}

	fallback := decimal.NewFromInt(int64(len(options)))
	if stakedBefore.IsPositive() {
		oddsBefore = poolBefore.DivRound(stakedBefore, 6)
	} else {
		oddsBefore = fallback
	}

	poolAfter := poolBefore.Add(amount)
	stakedAfter := stakedBefore.Add(amount)
	if stakedAfter.IsPositive() {
		oddsAfter = poolAfter.DivRound(stakedAfter, 6)
	} else {
		oddsAfter = fallback
	}

	potentialPayout = amount.Mul(oddsAfter).RoundDown(6)
	return oddsBefore, oddsAfter, potentialPayout
}
