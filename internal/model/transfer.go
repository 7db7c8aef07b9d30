package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	TransferCategoryTip   = "tip"
	TransferCategoryGift  = "gift"
	TransferCategoryBoost = "boost"
)

// TransferRecord links the debit and credit entries written by one P2P
// transfer. The fee, when non-zero, is a third entry on the treasury account.
type TransferRecord struct {
	ID             string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	TransferNo     string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"transfer_no"`
	SenderID       int64     `gorm:"not null;uniqueIndex:uniq_transfer_sender_idem,priority:1;index" json:"sender_id"`
	RecipientID    int64     `gorm:"not null;index" json:"recipient_id"`
	Amount         int64     `gorm:"not null" json:"amount"`
	Fee            int64     `gorm:"not null;default:0" json:"fee"`
	Category       string    `gorm:"type:varchar(16);not null" json:"category"`
	Note           string    `gorm:"type:varchar(256)" json:"note"`
	IdempotencyKey string    `gorm:"type:varchar(128);not null;uniqueIndex:uniq_transfer_sender_idem,priority:2" json:"idempotency_key"`
	DebitEntryID   int64     `gorm:"not null" json:"debit_entry_id"`
	CreditEntryID  int64     `gorm:"not null" json:"credit_entry_id"`
	CreatedAt      time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (TransferRecord) TableName() string {
	return "transfer_record"
}

func (t *TransferRecord) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}
