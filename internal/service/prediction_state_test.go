package service

import (
	"context"
	"testing"

	"predictpool/internal/models"
)

func TestRecomputeAggregatesAndOdds(t *testing.T) {
	repo := newStubRepo()
	repo.seedPrediction(1, 9, "0", "0", 10, 11)
	seedEntry(repo, 100, 1, 10, 1, "60", models.RailDirect, "")
	seedEntry(repo, 101, 1, 11, 2, "20", models.RailDirect, "")
	seedEntry(repo, 102, 1, 11, 3, "20", models.RailDirect, "")
	svc := &PredictionStateService{Repo: repo}

	ctx := context.Background()
	if err := svc.Recompute(ctx, 1); err != nil {
		t.Fatalf("recompute: %v", err)
	}

	prediction, _ := repo.GetPredictionByID(ctx, 1)
	if !prediction.PoolTotal.Equal(mustDec("100")) {
		t.Fatalf("pool total = %s, want 100", prediction.PoolTotal)
	}
	if prediction.ParticipantCount != 3 {
		t.Fatalf("participants = %d, want 3", prediction.ParticipantCount)
	}

	opt10, _ := repo.GetOptionByID(ctx, 10)
	if !opt10.TotalStaked.Equal(mustDec("60")) {
		t.Fatalf("option 10 staked = %s, want 60", opt10.TotalStaked)
	}
	if !opt10.CurrentOdds.Equal(mustDec("1.666667")) {
		t.Fatalf("option 10 odds = %s, want 1.666667", opt10.CurrentOdds)
	}
	opt11, _ := repo.GetOptionByID(ctx, 11)
	if !opt11.CurrentOdds.Equal(mustDec("2.5")) {
		t.Fatalf("option 11 odds = %s, want 2.5", opt11.CurrentOdds)
	}
}

func TestRecomputeUnfundedOptionFallsBackToOptionCount(t *testing.T) {
	repo := newStubRepo()
	repo.seedPrediction(1, 9, "0", "0", 10, 11)
	seedEntry(repo, 100, 1, 10, 1, "50", models.RailDirect, "")
	svc := &PredictionStateService{Repo: repo}

	ctx := context.Background()
	if err := svc.Recompute(ctx, 1); err != nil {
		t.Fatalf("recompute: %v", err)
	}
	opt11, _ := repo.GetOptionByID(ctx, 11)
	if !opt11.CurrentOdds.Equal(mustDec("2")) {
		t.Fatalf("unfunded option odds = %s, want option count 2", opt11.CurrentOdds)
	}
}

func TestQuoteStakeMovesOdds(t *testing.T) {
	options := []models.PredictionOption{
		{ID: 10, TotalStaked: mustDec("60")},
		{ID: 11, TotalStaked: mustDec("40")},
	}
	before, after, payout := QuoteStake(options, 11, mustDec("10"))
	if !before.Equal(mustDec("2.5")) {
		t.Fatalf("odds before = %s, want 2.5", before)
	}
	// (100+10)/(40+10) = 2.2
	if !after.Equal(mustDec("2.2")) {
		t.Fatalf("odds after = %s, want 2.2", after)
	}
	if !payout.Equal(mustDec("22")) {
		t.Fatalf("potential payout = %s, want 22", payout)
	}
}
