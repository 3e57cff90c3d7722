package service

import (
	"context"
	"errors"

	"predictpool/internal/models"
)

var errStorageDown = errors.New("storage unavailable")

// flakyRepo wraps stubRepo to fail selected calls, simulating a storage fault
// in the middle of a money flow.
type flakyRepo struct {
	*stubRepo

	failCreateEntry  bool
	failLedgerInsert bool
	failDeadLetter   bool

	saveEntryCalls      int
	failSaveEntryOnCall int
}

func (f *flakyRepo) CreateEntry(ctx context.Context, item *models.PredictionEntry) error {
	if f.failCreateEntry {
		return errStorageDown
	}
	return f.stubRepo.CreateEntry(ctx, item)
}

func (f *flakyRepo) SaveEntry(ctx context.Context, item *models.PredictionEntry) error {
	f.saveEntryCalls++
	if f.failSaveEntryOnCall > 0 && f.saveEntryCalls == f.failSaveEntryOnCall {
		return errStorageDown
	}
	return f.stubRepo.SaveEntry(ctx, item)
}

func (f *flakyRepo) InsertLedgerTransaction(ctx context.Context, item *models.LedgerTransaction) (bool, error) {
	if f.failLedgerInsert {
		return false, errStorageDown
	}
	return f.stubRepo.InsertLedgerTransaction(ctx, item)
}

func (f *flakyRepo) InsertDeadLetter(ctx context.Context, item *models.DeadLetterEntry) error {
	if f.failDeadLetter {
		return errStorageDown
	}
	return f.stubRepo.InsertDeadLetter(ctx, item)
}
