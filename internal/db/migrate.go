package db

import (
	"predictpool/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.User{},
		&models.UserWallet{},
		&models.Wallet{},
		&models.Prediction{},
		&models.PredictionOption{},
		&models.PredictionEntry{},
		&models.EscrowLock{},
		&models.SettlementRecord{},
		&models.SettlementResult{},
		&models.RelayerJob{},
		&models.LedgerTransaction{},
		&models.EventLog{},
		&models.DepositCheckpoint{},
		&models.DeadLetterEntry{},
		&models.SystemSetting{},
	)
}
