package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"predictpool/internal/chain"
	"predictpool/internal/merkle"
	"predictpool/internal/models"
)

func newTestEngine(repo *stubRepo) *SettlementEngine {
	return &SettlementEngine{
		Repo:            repo,
		State:           &PredictionStateService{Repo: repo},
		Markets:         NewMarketMutex(),
		PlatformAddress: "0x00000000000000000000000000000000000000aa",
		TokenDecimals:   6,
	}
}

func seedEntry(repo *stubRepo, id, predictionID, optionID, userID uint64, amount, rail, address string) {
	repo.entries[id] = &models.PredictionEntry{
		ID:            id,
		PredictionID:  predictionID,
		OptionID:      optionID,
		UserID:        userID,
		Amount:        mustDec(amount),
		Status:        models.EntryStatusActive,
		Rail:          rail,
		WalletAddress: address,
	}
}

// Two users on the losing side with $10+$10, one winner with $30, fees
// 2.5% platform and 1% creator on the losing pool.
func TestSettleFeesAndPooledPayout(t *testing.T) {
	repo := newStubRepo()
	repo.seedPrediction(1, 9, "2.5", "1", 10, 11)
	repo.seedWallet(1, "0", "10")
	repo.seedWallet(2, "0", "10")
	repo.seedWallet(3, "0", "30")
	seedEntry(repo, 100, 1, 10, 1, "10", models.RailDirect, "")
	seedEntry(repo, 101, 1, 10, 2, "10", models.RailDirect, "")
	seedEntry(repo, 102, 1, 11, 3, "30", models.RailDirect, "")
	engine := newTestEngine(repo)

	ctx := context.Background()
	outcome, err := engine.Settle(ctx, 1, 11, "ops")
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if outcome.Replayed {
		t.Fatalf("fresh settlement flagged as replay")
	}
	if !outcome.Record.PlatformFee.Equal(mustDec("0.5")) {
		t.Fatalf("platform fee = %s, want 0.5", outcome.Record.PlatformFee)
	}
	if !outcome.Record.CreatorFee.Equal(mustDec("0.2")) {
		t.Fatalf("creator fee = %s, want 0.2", outcome.Record.CreatorFee)
	}
	// payout pool = 30 + (20 - 0.5 - 0.2) = 49.30, all to the sole winner
	if !outcome.Record.TotalPayout.Equal(mustDec("49.3")) {
		t.Fatalf("total payout = %s, want 49.3", outcome.Record.TotalPayout)
	}
	if outcome.Record.Status != models.SettlementStatusCompleted {
		t.Fatalf("record status = %s, want completed for direct-only", outcome.Record.Status)
	}

	winner, _ := repo.GetWalletByUserID(ctx, 3)
	if !winner.Available.Equal(mustDec("49.3")) {
		t.Fatalf("winner available = %s, want 49.3", winner.Available)
	}
	if !winner.Reserved.Equal(decimal.Zero) {
		t.Fatalf("winner reserved = %s, want 0", winner.Reserved)
	}
	if winner.Available.LessThan(mustDec("30")) {
		t.Fatalf("winner received less than their principal")
	}
	loser, _ := repo.GetWalletByUserID(ctx, 1)
	if !loser.Reserved.Equal(decimal.Zero) {
		t.Fatalf("loser reserved = %s, want 0", loser.Reserved)
	}
	if !loser.Available.Equal(decimal.Zero) {
		t.Fatalf("loser available = %s, want 0", loser.Available)
	}

	// conservation: payouts + fees never exceed the pool
	distributed := outcome.Record.TotalPayout.
		Add(outcome.Record.PlatformFee).
		Add(outcome.Record.CreatorFee)
	if distributed.GreaterThan(mustDec("50")) {
		t.Fatalf("distributed %s exceeds pool 50", distributed)
	}

	entry, _ := repo.GetEntryByUserAndPrediction(ctx, 3, 1)
	if entry.Status != models.EntryStatusWon || entry.ActualPayout == nil || !entry.ActualPayout.Equal(mustDec("49.3")) {
		t.Fatalf("winner entry = %s/%v, want won/49.3", entry.Status, entry.ActualPayout)
	}
	prediction, _ := repo.GetPredictionByID(ctx, 1)
	if prediction.Status != models.PredictionStatusSettled {
		t.Fatalf("prediction status = %s, want settled", prediction.Status)
	}
}

func TestSettleReplayDoesNotDoubleCredit(t *testing.T) {
	repo := newStubRepo()
	repo.seedPrediction(1, 9, "0", "0", 10, 11)
	repo.seedWallet(1, "0", "10")
	repo.seedWallet(2, "0", "30")
	seedEntry(repo, 100, 1, 10, 1, "10", models.RailDirect, "")
	seedEntry(repo, 101, 1, 11, 2, "30", models.RailDirect, "")
	engine := newTestEngine(repo)

	ctx := context.Background()
	if _, err := engine.Settle(ctx, 1, 11, "ops"); err != nil {
		t.Fatalf("settle: %v", err)
	}
	winnerBefore, _ := repo.GetWalletByUserID(ctx, 2)

	replay, err := engine.Settle(ctx, 1, 11, "ops")
	if err != nil {
		t.Fatalf("replay settle: %v", err)
	}
	if !replay.Replayed {
		t.Fatalf("replay not flagged")
	}
	winnerAfter, _ := repo.GetWalletByUserID(ctx, 2)
	if !winnerAfter.Available.Equal(winnerBefore.Available) {
		t.Fatalf("winner credited twice: %s -> %s", winnerBefore.Available, winnerAfter.Available)
	}
}

// A settlement that dies midway has no record yet, so the retry recomputes
// the whole pool. Winners whose money already moved must not be paid twice.
func TestSettleResumesAfterPartialFailureWithoutDoubleCredit(t *testing.T) {
	base := newStubRepo()
	base.seedPrediction(1, 9, "0", "0", 10, 11)
	base.seedWallet(1, "0", "10")
	base.seedWallet(2, "0", "20")
	base.seedWallet(3, "0", "20")
	seedEntry(base, 100, 1, 10, 1, "10", models.RailDirect, "")
	seedEntry(base, 101, 1, 11, 2, "20", models.RailDirect, "")
	seedEntry(base, 102, 1, 11, 3, "20", models.RailDirect, "")
	flaky := &flakyRepo{stubRepo: base, failSaveEntryOnCall: 2}
	engine := newTestEngine(base)
	engine.Repo = flaky

	// First run credits winner 2, then dies saving winner 3's entry.
	ctx := context.Background()
	if _, err := engine.Settle(ctx, 1, 11, "ops"); err == nil {
		t.Fatalf("settle succeeded despite the injected failure")
	}
	if record, _ := base.GetSettlementRecordByPrediction(ctx, 1); record != nil {
		t.Fatalf("partial settlement left a record")
	}

	flaky.failSaveEntryOnCall = 0
	outcome, err := engine.Settle(ctx, 1, 11, "ops")
	if err != nil {
		t.Fatalf("retry settle: %v", err)
	}
	if outcome.Replayed {
		t.Fatalf("resumed settlement flagged as replay")
	}
	// payout pool = 40 + 10 = 50, split evenly between the two winners
	if !outcome.Record.TotalPayout.Equal(mustDec("50")) {
		t.Fatalf("total payout = %s, want 50", outcome.Record.TotalPayout)
	}

	for _, userID := range []uint64{2, 3} {
		wallet, _ := base.GetWalletByUserID(ctx, userID)
		if !wallet.Available.Equal(mustDec("25")) {
			t.Fatalf("winner %d available = %s, want exactly one credit of 25", userID, wallet.Available)
		}
		if !wallet.Reserved.Equal(decimal.Zero) {
			t.Fatalf("winner %d reserved = %s, want 0", userID, wallet.Reserved)
		}
		entry, _ := base.GetEntryByUserAndPrediction(ctx, userID, 1)
		if entry.Status != models.EntryStatusWon || entry.ActualPayout == nil || !entry.ActualPayout.Equal(mustDec("25")) {
			t.Fatalf("winner %d entry = %s/%v, want won/25", userID, entry.Status, entry.ActualPayout)
		}
	}
	loser, _ := base.GetWalletByUserID(ctx, 1)
	if !loser.Reserved.Equal(decimal.Zero) {
		t.Fatalf("loser reserved = %s, want 0", loser.Reserved)
	}
	prediction, _ := base.GetPredictionByID(ctx, 1)
	if prediction.Status != models.PredictionStatusSettled {
		t.Fatalf("prediction status = %s, want settled", prediction.Status)
	}
}

func TestSettleOnchainRailCommitsMerkleRoot(t *testing.T) {
	repo := newStubRepo()
	repo.seedPrediction(1, 9, "2.5", "1", 10, 11)
	repo.seedWallet(1, "0", "20")
	repo.seedWallet(2, "0", "30")
	addr := "0x1111111111111111111111111111111111111111"
	seedEntry(repo, 100, 1, 10, 1, "20", models.RailDirect, "")
	seedEntry(repo, 101, 1, 11, 2, "30", models.RailOnchain, addr)
	engine := newTestEngine(repo)

	ctx := context.Background()
	outcome, err := engine.Settle(ctx, 1, 11, "ops")
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if outcome.Record.Status != models.SettlementStatusPendingOnchain {
		t.Fatalf("record status = %s, want pending_onchain", outcome.Record.Status)
	}
	if outcome.MerkleRoot == "" {
		t.Fatalf("no merkle root for on-chain winner")
	}

	// On-chain wins are owed, not credited.
	winner, _ := repo.GetWalletByUserID(ctx, 2)
	if !winner.Available.Equal(decimal.Zero) {
		t.Fatalf("onchain winner available = %s, want 0 until claim", winner.Available)
	}

	root, claims, err := engine.Claims(ctx, 1)
	if err != nil {
		t.Fatalf("claims: %v", err)
	}
	if root != outcome.MerkleRoot {
		t.Fatalf("rebuilt root %s != settled root %s", root, outcome.MerkleRoot)
	}
	if len(claims) != 1 {
		t.Fatalf("claims = %d, want 1", len(claims))
	}

	// The proof must verify against the committed root.
	rootBytes, err := merkle.RootFromHex(root)
	if err != nil {
		t.Fatalf("decode root: %v", err)
	}
	payout := mustDec(claims[0].Amount)
	leaf := merkle.Leaf{Address: addr, Amount: chain.ToMinorUnits(payout, 6)}
	var proof [][32]byte
	for _, p := range claims[0].Proof {
		h, err := merkle.RootFromHex(p)
		if err != nil {
			t.Fatalf("decode proof node: %v", err)
		}
		proof = append(proof, h)
	}
	if !merkle.Verify(rootBytes, leaf.Hash(), proof) {
		t.Fatalf("proof does not verify against root")
	}

	// payout = 30 + (20 - 0.5 - 0.2) = 49.30
	if !payout.Equal(mustDec("49.3")) {
		t.Fatalf("claim amount = %s, want 49.3", payout)
	}
}

func TestVoidRefundsStakes(t *testing.T) {
	repo := newStubRepo()
	repo.seedPrediction(1, 9, "2.5", "1", 10, 11)
	repo.seedWallet(1, "5", "10")
	repo.seedWallet(2, "0", "30")
	seedEntry(repo, 100, 1, 10, 1, "10", models.RailDirect, "")
	seedEntry(repo, 101, 1, 11, 2, "30", models.RailOnchain, "0x2222222222222222222222222222222222222222")
	engine := newTestEngine(repo)

	ctx := context.Background()
	if err := engine.Void(ctx, 1, "ops"); err != nil {
		t.Fatalf("void: %v", err)
	}

	w1, _ := repo.GetWalletByUserID(ctx, 1)
	if !w1.Available.Equal(mustDec("15")) || !w1.Reserved.Equal(decimal.Zero) {
		t.Fatalf("user 1 after void: available=%s reserved=%s, want 15/0", w1.Available, w1.Reserved)
	}
	w2, _ := repo.GetWalletByUserID(ctx, 2)
	if !w2.Available.Equal(mustDec("30")) {
		t.Fatalf("user 2 after void: available=%s, want 30", w2.Available)
	}
	entry, _ := repo.GetEntryByUserAndPrediction(ctx, 1, 1)
	if entry.Status != models.EntryStatusRefunded {
		t.Fatalf("entry status = %s, want refunded", entry.Status)
	}
	prediction, _ := repo.GetPredictionByID(ctx, 1)
	if prediction.Status != models.PredictionStatusVoided {
		t.Fatalf("prediction status = %s, want voided", prediction.Status)
	}

	// No fees on a void.
	if record, _ := repo.GetSettlementRecordByPrediction(ctx, 1); record != nil {
		t.Fatalf("void produced a settlement record")
	}
}

func TestVoidBlockedAfterSettlement(t *testing.T) {
	repo := newStubRepo()
	repo.seedPrediction(1, 9, "0", "0", 10, 11)
	repo.seedWallet(1, "0", "10")
	seedEntry(repo, 100, 1, 11, 1, "10", models.RailDirect, "")
	engine := newTestEngine(repo)

	ctx := context.Background()
	if _, err := engine.Settle(ctx, 1, 11, "ops"); err != nil {
		t.Fatalf("settle: %v", err)
	}
	err := engine.Void(ctx, 1, "ops")
	de, ok := AsDomainError(err)
	if !ok || de.Code != CodeSettlementBlocked {
		t.Fatalf("err = %v, want %s", err, CodeSettlementBlocked)
	}
}

func TestResetBlockedOnceCredited(t *testing.T) {
	repo := newStubRepo()
	repo.seedPrediction(1, 9, "0", "0", 10, 11)
	repo.seedWallet(1, "0", "10")
	seedEntry(repo, 100, 1, 11, 1, "10", models.RailDirect, "")
	engine := newTestEngine(repo)

	ctx := context.Background()
	if _, err := engine.Settle(ctx, 1, 11, "ops"); err != nil {
		t.Fatalf("settle: %v", err)
	}
	err := engine.Reset(ctx, 1)
	de, ok := AsDomainError(err)
	if !ok || de.Code != CodeSettlementBlocked {
		t.Fatalf("err = %v, want %s (direct credit counts as claimed)", err, CodeSettlementBlocked)
	}
}

func TestResetUnwindsUnclaimedOnchainSettlement(t *testing.T) {
	repo := newStubRepo()
	repo.seedPrediction(1, 9, "0", "0", 10, 11)
	repo.seedWallet(1, "0", "20")
	repo.seedWallet(2, "0", "30")
	seedEntry(repo, 100, 1, 10, 1, "20", models.RailOnchain, "0x3333333333333333333333333333333333333333")
	seedEntry(repo, 101, 1, 11, 2, "30", models.RailOnchain, "0x4444444444444444444444444444444444444444")
	engine := newTestEngine(repo)

	ctx := context.Background()
	if _, err := engine.Settle(ctx, 1, 11, "ops"); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if err := engine.Reset(ctx, 1); err != nil {
		t.Fatalf("reset: %v", err)
	}

	if record, _ := repo.GetSettlementRecordByPrediction(ctx, 1); record != nil {
		t.Fatalf("settlement record survived reset")
	}
	entry, _ := repo.GetEntryByUserAndPrediction(ctx, 2, 1)
	if entry.Status != models.EntryStatusActive || entry.ActualPayout != nil {
		t.Fatalf("entry after reset = %s/%v, want active/nil", entry.Status, entry.ActualPayout)
	}
	wallet, _ := repo.GetWalletByUserID(ctx, 2)
	if !wallet.Reserved.Equal(mustDec("30")) {
		t.Fatalf("reserved after reset = %s, want 30", wallet.Reserved)
	}
	prediction, _ := repo.GetPredictionByID(ctx, 1)
	if prediction.Status != models.PredictionStatusClosed {
		t.Fatalf("prediction status = %s, want closed", prediction.Status)
	}

	// And the corrected outcome can now be settled.
	outcome, err := engine.Settle(ctx, 1, 10, "ops")
	if err != nil {
		t.Fatalf("re-settle: %v", err)
	}
	if outcome.Replayed {
		t.Fatalf("re-settle after reset treated as replay")
	}
}

func TestSettleNoWinners(t *testing.T) {
	repo := newStubRepo()
	repo.seedPrediction(1, 9, "2.5", "1", 10, 11)
	repo.seedWallet(1, "0", "10")
	seedEntry(repo, 100, 1, 10, 1, "10", models.RailDirect, "")
	engine := newTestEngine(repo)

	ctx := context.Background()
	outcome, err := engine.Settle(ctx, 1, 11, "ops")
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if !outcome.Record.TotalPayout.Equal(decimal.Zero) {
		t.Fatalf("total payout = %s, want 0 with no winners", outcome.Record.TotalPayout)
	}
	wallet, _ := repo.GetWalletByUserID(ctx, 1)
	if !wallet.Reserved.Equal(decimal.Zero) {
		t.Fatalf("loser reserved = %s, want 0", wallet.Reserved)
	}
}
