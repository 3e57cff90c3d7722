package models

import (
	"time"

	"gorm.io/datatypes"
)

// DepositCheckpoint is the last fully processed block position of the
// deposit watcher, keyed by scope so several watchers could share the table.
// BlockNumber is monotonically non-decreasing.
type DepositCheckpoint struct {
	Scope       string    `gorm:"primaryKey;type:varchar(40)"`
	BlockNumber uint64    `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (DepositCheckpoint) TableName() string {
	return "deposit_checkpoints"
}

// DeadLetterEntry is an append-only record of a deposit event whose credit
// attempts exhausted the retry budget. Never auto-deleted.
type DeadLetterEntry struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement"`
	TxHash   string `gorm:"type:varchar(66);not null;uniqueIndex:uniq_dead_letter_event,priority:1"`
	LogIndex uint   `gorm:"not null;uniqueIndex:uniq_dead_letter_event,priority:2"`

	Error    string         `gorm:"type:text;not null"`
	Attempts int            `gorm:"not null"`
	Payload  datatypes.JSON `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
}

func (DeadLetterEntry) TableName() string {
	return "dead_letter_entries"
}
