package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"predictpool/internal/models"
	"predictpool/internal/repository"
)

// stubRepo is an in-memory Repository used by the service tests. It mirrors
// the semantics the gorm store guarantees: guarded lock transitions, guarded
// balance debits, idempotent ledger inserts and a monotonic deposit
// checkpoint.
type stubRepo struct {
	mu sync.Mutex

	users       map[uint64]*models.User
	links       []models.UserWallet
	wallets     map[uint64]*models.Wallet
	locks       map[uint64]*models.EscrowLock
	predictions map[uint64]*models.Prediction
	options     map[uint64]*models.PredictionOption
	entries     map[uint64]*models.PredictionEntry
	records     map[uint64]*models.SettlementRecord
	results     map[uint64]map[uint64]*models.SettlementResult
	jobs        map[uint64]*models.RelayerJob
	ledger      map[string]*models.LedgerTransaction
	events      []models.EventLog
	checkpoints map[string]uint64
	deadLetters []models.DeadLetterEntry
	settings    map[string]*models.SystemSetting

	nextID uint64
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		users:       make(map[uint64]*models.User),
		wallets:     make(map[uint64]*models.Wallet),
		locks:       make(map[uint64]*models.EscrowLock),
		predictions: make(map[uint64]*models.Prediction),
		options:     make(map[uint64]*models.PredictionOption),
		entries:     make(map[uint64]*models.PredictionEntry),
		records:     make(map[uint64]*models.SettlementRecord),
		results:     make(map[uint64]map[uint64]*models.SettlementResult),
		jobs:        make(map[uint64]*models.RelayerJob),
		ledger:      make(map[string]*models.LedgerTransaction),
		checkpoints: make(map[string]uint64),
		settings:    make(map[string]*models.SystemSetting),
	}
}

var _ repository.Repository = (*stubRepo)(nil)

func (s *stubRepo) id() uint64 {
	s.nextID++
	return s.nextID
}

func (s *stubRepo) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func (s *stubRepo) GetUserByID(ctx context.Context, id uint64) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (s *stubRepo) GetLatestUserWallet(ctx context.Context, userID uint64) (*models.UserWallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.UserWallet
	for i := range s.links {
		l := s.links[i]
		if l.UserID != userID {
			continue
		}
		if latest == nil || l.LinkedAt.After(latest.LinkedAt) {
			cp := l
			latest = &cp
		}
	}
	return latest, nil
}

func (s *stubRepo) GetUserWalletByAddress(ctx context.Context, address string) (*models.UserWallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.UserWallet
	for i := range s.links {
		l := s.links[i]
		if !strings.EqualFold(l.Address, address) {
			continue
		}
		if latest == nil || l.LinkedAt.After(latest.LinkedAt) {
			cp := l
			latest = &cp
		}
	}
	return latest, nil
}

func (s *stubRepo) LinkUserWallet(ctx context.Context, item *models.UserWallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item.ID = s.id()
	s.links = append(s.links, *item)
	return nil
}

func (s *stubRepo) GetWalletByUserID(ctx context.Context, userID uint64) (*models.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[userID]
	if !ok {
		return nil, nil
	}
	cp := *w
	return &cp, nil
}

func (s *stubRepo) GetOrCreateWallet(ctx context.Context, userID uint64) (*models.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[userID]
	if !ok {
		w = &models.Wallet{ID: s.id(), UserID: userID}
		s.wallets[userID] = w
	}
	cp := *w
	return &cp, nil
}

func (s *stubRepo) ListWallets(ctx context.Context, limit, offset int) ([]models.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []models.Wallet
	for _, w := range s.wallets {
		all = append(all, *w)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].UserID < all[j].UserID })
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (s *stubRepo) UpdateWalletTotals(ctx context.Context, userID uint64, totalDeposited, totalWithdrawn decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[userID]
	if !ok {
		return nil
	}
	w.TotalDeposited = totalDeposited
	w.TotalWithdrawn = totalWithdrawn
	return nil
}

func (s *stubRepo) UpdateWalletBalances(ctx context.Context, userID uint64, available, reserved decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[userID]
	if !ok {
		return nil
	}
	w.Available = available
	w.Reserved = reserved
	return nil
}

func (s *stubRepo) AdjustWalletAvailable(ctx context.Context, userID uint64, delta decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[userID]
	if !ok {
		return nil
	}
	next := w.Available.Add(delta)
	if next.IsNegative() {
		return repository.ErrInsufficientBalance
	}
	w.Available = next
	return nil
}

func (s *stubRepo) AdjustWalletReserved(ctx context.Context, userID uint64, delta decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[userID]
	if !ok {
		return nil
	}
	next := w.Reserved.Add(delta)
	if next.IsNegative() {
		return repository.ErrInsufficientBalance
	}
	w.Reserved = next
	return nil
}

func (s *stubRepo) CreateEscrowLock(ctx context.Context, item *models.EscrowLock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item.ID = s.id()
	cp := *item
	s.locks[item.ID] = &cp
	return nil
}

func (s *stubRepo) GetEscrowLockByID(ctx context.Context, id uint64) (*models.EscrowLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		return nil, nil
	}
	cp := *l
	return &cp, nil
}

func (s *stubRepo) GetEscrowLockByRef(ctx context.Context, lockRef string) (*models.EscrowLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.locks {
		if l.LockRef == lockRef {
			cp := *l
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *stubRepo) TransitionEscrowLock(ctx context.Context, id uint64, from, to string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok || l.State != from {
		return false, nil
	}
	l.State = to
	switch to {
	case models.LockStateConsumed:
		l.ConsumedAt = &at
	case models.LockStateReleased, models.LockStateExpired, models.LockStateVoided:
		l.ReleasedAt = &at
	}
	return true, nil
}

func (s *stubRepo) SumUnexpiredLockedAmount(ctx context.Context, userID uint64, now time.Time) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := decimal.Zero
	for _, l := range s.locks {
		if l.UserID != userID || l.State != models.LockStateLocked {
			continue
		}
		if l.ExpiresAt != nil && l.ExpiresAt.Before(now) {
			continue
		}
		total = total.Add(l.Amount)
	}
	return total, nil
}

func (s *stubRepo) ListLocksByUserAndStates(ctx context.Context, userID uint64, states []string) ([]models.EscrowLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[string]bool, len(states))
	for _, st := range states {
		want[st] = true
	}
	var out []models.EscrowLock
	for _, l := range s.locks {
		if l.UserID == userID && want[l.State] {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (s *stubRepo) ListLocksByPredictionAndState(ctx context.Context, predictionID uint64, state string) ([]models.EscrowLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.EscrowLock
	for _, l := range s.locks {
		if l.PredictionID == predictionID && l.State == state {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (s *stubRepo) ListDueLocks(ctx context.Context, now time.Time, fallbackCutoff time.Time, limit int) ([]models.EscrowLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.EscrowLock
	for _, l := range s.locks {
		if l.State != models.LockStateLocked {
			continue
		}
		due := (l.ExpiresAt != nil && l.ExpiresAt.Before(now)) ||
			(l.ExpiresAt == nil && l.CreatedAt.Before(fallbackCutoff))
		if due {
			out = append(out, *l)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *stubRepo) GetPredictionByID(ctx context.Context, id uint64) (*models.Prediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.predictions[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *stubRepo) ListPredictionsByIDs(ctx context.Context, ids []uint64) ([]models.Prediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Prediction
	for _, id := range ids {
		if p, ok := s.predictions[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *stubRepo) GetOptionByID(ctx context.Context, id uint64) (*models.PredictionOption, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.options[id]
	if !ok {
		return nil, nil
	}
	cp := *o
	return &cp, nil
}

func (s *stubRepo) ListOptionsByPrediction(ctx context.Context, predictionID uint64) ([]models.PredictionOption, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PredictionOption
	for _, o := range s.options {
		if o.PredictionID == predictionID {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *stubRepo) UpdatePredictionAggregates(ctx context.Context, id uint64, poolTotal decimal.Decimal, participants int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.predictions[id]; ok {
		p.PoolTotal = poolTotal
		p.ParticipantCount = participants
	}
	return nil
}

func (s *stubRepo) UpdateOptionAggregates(ctx context.Context, id uint64, totalStaked, odds decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.options[id]; ok {
		o.TotalStaked = totalStaked
		o.CurrentOdds = odds
	}
	return nil
}

func (s *stubRepo) UpdatePredictionStatus(ctx context.Context, id uint64, status string, winningOptionID *uint64, settledAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.predictions[id]; ok {
		p.Status = status
		p.WinningOptionID = winningOptionID
		p.SettledAt = settledAt
	}
	return nil
}

func (s *stubRepo) CreateEntry(ctx context.Context, item *models.PredictionEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item.ID = s.id()
	cp := *item
	s.entries[item.ID] = &cp
	return nil
}

func (s *stubRepo) SaveEntry(ctx context.Context, item *models.PredictionEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *item
	s.entries[item.ID] = &cp
	return nil
}

func (s *stubRepo) GetEntryByUserAndPrediction(ctx context.Context, userID, predictionID uint64) (*models.PredictionEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.UserID == userID && e.PredictionID == predictionID {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *stubRepo) ListEntriesByPrediction(ctx context.Context, predictionID uint64, statuses []string) ([]models.PredictionEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[string]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	var out []models.PredictionEntry
	for _, e := range s.entries {
		if e.PredictionID != predictionID {
			continue
		}
		if len(statuses) > 0 && !want[e.Status] {
			continue
		}
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *stubRepo) GetSettlementRecordByPrediction(ctx context.Context, predictionID uint64) (*models.SettlementRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[predictionID]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (s *stubRepo) UpsertSettlementRecord(ctx context.Context, item *models.SettlementRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.ID == 0 {
		item.ID = s.id()
	}
	cp := *item
	s.records[item.PredictionID] = &cp
	return nil
}

func (s *stubRepo) UpsertSettlementResult(ctx context.Context, item *models.SettlementResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.ID == 0 {
		item.ID = s.id()
	}
	byUser, ok := s.results[item.PredictionID]
	if !ok {
		byUser = make(map[uint64]*models.SettlementResult)
		s.results[item.PredictionID] = byUser
	}
	cp := *item
	byUser[item.UserID] = &cp
	return nil
}

func (s *stubRepo) ListSettlementResultsByPrediction(ctx context.Context, predictionID uint64) ([]models.SettlementResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SettlementResult
	for _, r := range s.results[predictionID] {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *stubRepo) ListClaimableResultsByAddress(ctx context.Context, address string) ([]models.SettlementResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SettlementResult
	for _, byUser := range s.results {
		for _, r := range byUser {
			if strings.EqualFold(r.WalletAddress, address) &&
				r.Rail == models.RailOnchain &&
				r.Status == models.ResultStatusWin &&
				r.ClaimStatus == models.ClaimStatusPending {
				out = append(out, *r)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PredictionID < out[j].PredictionID })
	return out, nil
}

func (s *stubRepo) ListOnchainWinners(ctx context.Context, predictionID uint64) ([]models.SettlementResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SettlementResult
	for _, r := range s.results[predictionID] {
		if r.Rail == models.RailOnchain && r.Status == models.ResultStatusWin {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *stubRepo) AnyPayoutClaimed(ctx context.Context, predictionID uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.results[predictionID] {
		if r.ClaimStatus == models.ClaimStatusClaimed || r.ClaimStatus == models.ClaimStatusCredited {
			return true, nil
		}
	}
	return false, nil
}

func (s *stubRepo) DeleteSettlementByPrediction(ctx context.Context, predictionID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, predictionID)
	delete(s.results, predictionID)
	for id, j := range s.jobs {
		if j.PredictionID == predictionID {
			delete(s.jobs, id)
		}
	}
	settlePrefix := fmt.Sprintf("settle:%d:", predictionID)
	feeRefs := map[string]bool{
		fmt.Sprintf("fee:platform:%d", predictionID): true,
		fmt.Sprintf("fee:creator:%d", predictionID):  true,
	}
	for key, tx := range s.ledger {
		if strings.HasPrefix(tx.ExternalRef, settlePrefix) || feeRefs[tx.ExternalRef] {
			delete(s.ledger, key)
		}
	}
	return nil
}

func (s *stubRepo) UpdateResultClaimStatus(ctx context.Context, predictionID, userID uint64, claimStatus string, claimedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.results[predictionID][userID]; ok {
		r.ClaimStatus = claimStatus
		r.ClaimedAt = claimedAt
	}
	return nil
}

func (s *stubRepo) UpsertRelayerJob(ctx context.Context, item *models.RelayerJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.PredictionID == item.PredictionID {
			item.ID = j.ID
			cp := *item
			s.jobs[j.ID] = &cp
			return nil
		}
	}
	if item.ID == 0 {
		item.ID = s.id()
	}
	cp := *item
	s.jobs[item.ID] = &cp
	return nil
}

func (s *stubRepo) GetRelayerJobByPrediction(ctx context.Context, predictionID uint64) (*models.RelayerJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.PredictionID == predictionID {
			cp := *j
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *stubRepo) GetRelayerJobByID(ctx context.Context, id uint64) (*models.RelayerJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

func (s *stubRepo) SaveRelayerJob(ctx context.Context, item *models.RelayerJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.ID == 0 {
		item.ID = s.id()
	}
	cp := *item
	s.jobs[item.ID] = &cp
	return nil
}

func (s *stubRepo) ListRelayerJobs(ctx context.Context, params repository.ListRelayerJobsParams) ([]models.RelayerJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.RelayerJob
	for _, j := range s.jobs {
		if params.Status != nil && j.Status != *params.Status {
			continue
		}
		out = append(out, *j)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if params.Limit > 0 && len(out) > params.Limit {
		out = out[:params.Limit]
	}
	return out, nil
}

func (s *stubRepo) InsertLedgerTransaction(ctx context.Context, item *models.LedgerTransaction) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := item.Provider + "|" + item.ExternalRef
	if _, exists := s.ledger[key]; exists {
		return false, nil
	}
	item.ID = s.id()
	cp := *item
	s.ledger[key] = &cp
	return true, nil
}

func (s *stubRepo) SumLedgerAmount(ctx context.Context, userID uint64, provider, txType string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := decimal.Zero
	for _, t := range s.ledger {
		if t.UserID == userID && t.Provider == provider && t.TxType == txType {
			total = total.Add(t.Amount)
		}
	}
	return total, nil
}

func (s *stubRepo) InsertEventLog(ctx context.Context, item *models.EventLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item.ID = s.id()
	s.events = append(s.events, *item)
	return nil
}

func (s *stubRepo) GetDepositCheckpoint(ctx context.Context, scope string) (*models.DepositCheckpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	block, ok := s.checkpoints[scope]
	if !ok {
		return nil, nil
	}
	return &models.DepositCheckpoint{Scope: scope, BlockNumber: block}, nil
}

func (s *stubRepo) SaveDepositCheckpoint(ctx context.Context, scope string, blockNumber uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if blockNumber > s.checkpoints[scope] {
		s.checkpoints[scope] = blockNumber
	}
	return nil
}

func (s *stubRepo) InsertDeadLetter(ctx context.Context, item *models.DeadLetterEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.deadLetters {
		if d.TxHash == item.TxHash && d.LogIndex == item.LogIndex {
			return nil
		}
	}
	item.ID = s.id()
	s.deadLetters = append(s.deadLetters, *item)
	return nil
}

func (s *stubRepo) ListDeadLetters(ctx context.Context, params repository.ListDeadLettersParams) ([]models.DeadLetterEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.DeadLetterEntry
	for _, d := range s.deadLetters {
		if params.TxHash != nil && d.TxHash != *params.TxHash {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *stubRepo) GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.settings[key]
	if !ok {
		return nil, nil
	}
	cp := *item
	return &cp, nil
}

func (s *stubRepo) UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *item
	s.settings[item.Key] = &cp
	return nil
}

func (s *stubRepo) ListSystemSettings(ctx context.Context) ([]models.SystemSetting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SystemSetting
	for _, item := range s.settings {
		out = append(out, *item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// helpers shared by the service tests

func (s *stubRepo) seedWallet(userID uint64, available, reserved string) {
	s.wallets[userID] = &models.Wallet{
		ID:        s.id(),
		UserID:    userID,
		Available: mustDec(available),
		Reserved:  mustDec(reserved),
	}
}

func (s *stubRepo) seedPrediction(id, creatorID uint64, platformPct, creatorPct string, optionIDs ...uint64) {
	s.predictions[id] = &models.Prediction{
		ID:             id,
		CreatorID:      creatorID,
		Question:       "test prediction",
		Status:         models.PredictionStatusOpen,
		PlatformFeePct: mustDec(platformPct),
		CreatorFeePct:  mustDec(creatorPct),
	}
	for _, optID := range optionIDs {
		s.options[optID] = &models.PredictionOption{ID: optID, PredictionID: id}
	}
}

func mustDec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}
