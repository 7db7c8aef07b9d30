package model

import (
	"time"

	"gorm.io/datatypes"
)

// Ledger actions written by the economy core itself. Collaborators pass their
// own free-form actions ("workout.complete", "mascot.feed", ...).
const (
	ActionOpeningGrant   = "account.opening_grant"
	ActionTransferOut    = "transfer.out"
	ActionTransferIn     = "transfer.in"
	ActionTransferFee    = "transfer.fee"
	ActionPurchase       = "marketplace.purchase"
	ActionSale           = "marketplace.sale"
	ActionMarketplaceFee = "marketplace.fee"
	ActionTradeOut       = "trade.out"
	ActionTradeIn        = "trade.in"
	ActionLoanDisbursed  = "loan.disbursed"
	ActionLoanRepayment  = "loan.repayment"
)

// LedgerEntry is one immutable balance-affecting event.
//
// Rules:
//  1. append only, never updated or deleted
//  2. (user_id, idempotency_key) is unique, a repeated key replays this row
//  3. balance_after is the projection value right after this entry
//
// Metadata is for audit and display only and takes no part in any invariant.
type LedgerEntry struct {
	ID             int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	EntryNo        string         `gorm:"type:varchar(64);uniqueIndex;not null" json:"entry_no"`
	UserID         int64          `gorm:"not null;uniqueIndex:uniq_ledger_user_idem,priority:1;index" json:"user_id"`
	Action         string         `gorm:"type:varchar(64);not null" json:"action"`
	Amount         int64          `gorm:"not null" json:"amount"`
	BalanceAfter   int64          `gorm:"not null" json:"balance_after"`
	IdempotencyKey string         `gorm:"type:varchar(160);not null;uniqueIndex:uniq_ledger_user_idem,priority:2" json:"idempotency_key"`
	Reference      string         `gorm:"type:varchar(64);index" json:"reference,omitempty"`
	Metadata       datatypes.JSON `json:"metadata,omitempty"`
	CreatedAt      time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
}

func (LedgerEntry) TableName() string {
	return "ledger_entry"
}

// EarnEvent is the user-visible "you earned credits" feed used by the client
// for animations. It is a side read-model, not part of the balance invariant.
type EarnEvent struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID        int64     `gorm:"not null;index:idx_earn_user_seen,priority:1" json:"user_id"`
	LedgerEntryID int64     `gorm:"not null;uniqueIndex" json:"ledger_entry_id"`
	Action        string    `gorm:"type:varchar(64);not null" json:"action"`
	Amount        int64     `gorm:"not null" json:"amount"`
	Seen          bool      `gorm:"not null;default:false;index:idx_earn_user_seen,priority:2" json:"seen"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (EarnEvent) TableName() string {
	return "earn_event"
}
