package model

import (
	"time"
)

const (
	AccountStatusActive = "ACTIVE"
	AccountStatusFrozen = "FROZEN"
)

// Account is the balance projection for one user.
//
// balance is always equal to the sum of the user's ledger entries and is only
// written in the same transaction as the ledger append that produced it.
// reserved counts credits held by open auction bids; it never enters the ledger.
type Account struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID         int64     `gorm:"uniqueIndex;not null" json:"user_id"`
	Balance        int64     `gorm:"not null;default:0" json:"balance"`
	Reserved       int64     `gorm:"not null;default:0" json:"reserved"`
	LifetimeEarned int64     `gorm:"not null;default:0" json:"lifetime_earned"`
	LifetimeSpent  int64     `gorm:"not null;default:0" json:"lifetime_spent"`
	Status         string    `gorm:"type:varchar(16);not null;default:ACTIVE" json:"status"`
	Version        int       `gorm:"not null;default:0" json:"version"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "account"
}

// Available is the spendable part of the balance.
func (a *Account) Available() int64 {
	return a.Balance - a.Reserved
}

func (a *Account) IsFrozen() bool {
	return a.Status == AccountStatusFrozen
}
