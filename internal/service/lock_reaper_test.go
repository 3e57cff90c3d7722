package service

import (
	"context"
	"testing"
	"time"

	"predictpool/internal/config"
	"predictpool/internal/models"
)

func TestReaperExpiresOverdueLocks(t *testing.T) {
	repo := newStubRepo()
	repo.seedWallet(1, "5", "15")
	past := time.Now().UTC().Add(-time.Minute)
	repo.locks[1] = &models.EscrowLock{
		ID: 1, UserID: 1, PredictionID: 7, OptionID: 70,
		Amount: mustDec("15"), State: models.LockStateLocked,
		LockRef: "ref-1", ExpiresAt: &past,
	}
	reaper := &LockReaper{Repo: repo, Config: config.ReaperConfig{BatchSize: 10}}

	expired, err := reaper.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if expired != 1 {
		t.Fatalf("expired = %d, want 1", expired)
	}
	lock, _ := repo.GetEscrowLockByID(context.Background(), 1)
	if lock.State != models.LockStateExpired {
		t.Fatalf("lock state = %s, want expired", lock.State)
	}
	wallet, _ := repo.GetWalletByUserID(context.Background(), 1)
	if !wallet.Available.Equal(mustDec("20")) || !wallet.Reserved.Equal(mustDec("0")) {
		t.Fatalf("wallet after sweep: available=%s reserved=%s, want 20/0", wallet.Available, wallet.Reserved)
	}
}

func TestReaperLeavesConsumedAndFutureLocksAlone(t *testing.T) {
	repo := newStubRepo()
	repo.seedWallet(1, "0", "25")
	past := time.Now().UTC().Add(-time.Minute)
	future := time.Now().UTC().Add(time.Hour)
	repo.locks[1] = &models.EscrowLock{
		ID: 1, UserID: 1, Amount: mustDec("10"), State: models.LockStateConsumed,
		LockRef: "consumed", ExpiresAt: &past,
	}
	repo.locks[2] = &models.EscrowLock{
		ID: 2, UserID: 1, Amount: mustDec("15"), State: models.LockStateLocked,
		LockRef: "fresh", ExpiresAt: &future,
	}
	reaper := &LockReaper{Repo: repo}

	expired, err := reaper.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if expired != 0 {
		t.Fatalf("expired = %d, want 0", expired)
	}
	wallet, _ := repo.GetWalletByUserID(context.Background(), 1)
	if !wallet.Reserved.Equal(mustDec("25")) {
		t.Fatalf("reserved = %s, want untouched 25", wallet.Reserved)
	}
}

func TestReaperFallbackAgeCatchesLocksWithoutExpiry(t *testing.T) {
	repo := newStubRepo()
	repo.seedWallet(1, "0", "10")
	repo.locks[1] = &models.EscrowLock{
		ID: 1, UserID: 1, Amount: mustDec("10"), State: models.LockStateLocked,
		LockRef: "no-expiry", CreatedAt: time.Now().UTC().Add(-2 * time.Hour),
	}
	reaper := &LockReaper{Repo: repo, Config: config.ReaperConfig{FallbackAge: 30 * time.Minute}}

	expired, err := reaper.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if expired != 1 {
		t.Fatalf("expired = %d, want 1 via fallback age", expired)
	}
}
