package model

import (
	"time"
)

const (
	LoanStatusActive = "ACTIVE"
	LoanStatusRepaid = "REPAID"
)

// CreditLoan is a payable tracked apart from the spendable balance: the
// disbursement is an ordinary ledger credit, the debt lives only here.
type CreditLoan struct {
	ID          int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID      int64      `gorm:"not null;index" json:"user_id"`
	Principal   int64      `gorm:"not null" json:"principal"`
	Outstanding int64      `gorm:"not null" json:"outstanding"`
	Status      string     `gorm:"type:varchar(16);not null" json:"status"`
	RepaidAt    *time.Time `json:"repaid_at,omitempty"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (CreditLoan) TableName() string {
	return "credit_loan"
}
