package service

import (
	"context"
	"testing"
	"time"

	"predictpool/internal/config"
	"predictpool/internal/models"
)

func TestAuditorFlagsReserveDrift(t *testing.T) {
	repo := newStubRepo()
	repo.seedWallet(1, "0", "10") // no locks back this reserve
	repo.seedWallet(2, "0", "15")
	future := time.Now().UTC().Add(time.Hour)
	repo.locks[1] = &models.EscrowLock{
		ID: 1, UserID: 2, Amount: mustDec("15"), State: models.LockStateLocked,
		LockRef: "backed", ExpiresAt: &future,
	}
	auditor := &ReconciliationAuditor{Repo: repo, Config: config.AuditorConfig{Epsilon: "0.01", BatchSize: 10}}

	drifts, err := auditor.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if len(drifts) != 1 {
		t.Fatalf("drifts = %d, want 1", len(drifts))
	}
	if drifts[0].UserID != 1 || !drifts[0].Delta.Equal(mustDec("10")) {
		t.Fatalf("drift = %+v, want user 1 delta 10", drifts[0])
	}

	// Strictly read-only: the drifting wallet is reported, not corrected.
	wallet, _ := repo.GetWalletByUserID(context.Background(), 1)
	if !wallet.Reserved.Equal(mustDec("10")) {
		t.Fatalf("auditor mutated the wallet: reserved = %s", wallet.Reserved)
	}
}

func TestAuditorWithinEpsilonIsQuiet(t *testing.T) {
	repo := newStubRepo()
	repo.seedWallet(1, "0", "10.005")
	future := time.Now().UTC().Add(time.Hour)
	repo.locks[1] = &models.EscrowLock{
		ID: 1, UserID: 1, Amount: mustDec("10"), State: models.LockStateLocked,
		LockRef: "a", ExpiresAt: &future,
	}
	auditor := &ReconciliationAuditor{Repo: repo, Config: config.AuditorConfig{Epsilon: "0.01"}}

	drifts, err := auditor.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if len(drifts) != 0 {
		t.Fatalf("drifts = %d, want 0 inside tolerance", len(drifts))
	}
}
