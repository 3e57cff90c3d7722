package models

import (
	"time"
)

type User struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement"`
	Handle string `gorm:"type:varchar(100);not null;uniqueIndex"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (User) TableName() string {
	return "users"
}

// UserWallet links an internal user to an external custody address.
// A user may relink; the latest row wins when resolving an address.
type UserWallet struct {
	ID      uint64 `gorm:"primaryKey;autoIncrement"`
	UserID  uint64 `gorm:"not null;index"`
	Address string `gorm:"type:varchar(66);not null;index:idx_user_wallets_address"`

	LinkedAt  time.Time `gorm:"type:timestamptz;not null"`
	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (UserWallet) TableName() string {
	return "user_wallets"
}
