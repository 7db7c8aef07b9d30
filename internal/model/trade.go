package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	TradeStatusPending   = "PENDING"
	TradeStatusCompleted = "COMPLETED"
	TradeStatusDeclined  = "DECLINED"
	TradeStatusCancelled = "CANCELLED"
	TradeStatusExpired   = "EXPIRED"
	TradeStatusFailed    = "FAILED"
)

// TradeStatusTransitions: every move out of PENDING is terminal.
var TradeStatusTransitions = map[string][]string{
	TradeStatusPending: {
		TradeStatusCompleted,
		TradeStatusDeclined,
		TradeStatusCancelled,
		TradeStatusExpired,
		TradeStatusFailed,
	},
}

func CanTradeTransition(from, to string) bool {
	return canTransition(TradeStatusTransitions, from, to)
}

const (
	TradeSideInitiator = "INITIATOR"
	TradeSideReceiver  = "RECEIVER"
)

// TradeRequest records the intent of a two-party swap. A pending trade holds
// no lock and reserves nothing.
type TradeRequest struct {
	ID               string      `gorm:"type:varchar(36);primaryKey" json:"id"`
	InitiatorID      int64       `gorm:"not null;index" json:"initiator_id"`
	ReceiverID       int64       `gorm:"not null;index" json:"receiver_id"`
	InitiatorCredits int64       `gorm:"not null;default:0" json:"initiator_credits"`
	ReceiverCredits  int64       `gorm:"not null;default:0" json:"receiver_credits"`
	Message          string      `gorm:"type:varchar(256)" json:"message"`
	Status           string      `gorm:"type:varchar(16);not null;index:idx_trade_status_expiry,priority:1" json:"status"`
	FailureReason    string      `gorm:"type:varchar(256)" json:"failure_reason,omitempty"`
	Version          int         `gorm:"not null;default:0" json:"version"`
	ExpiresAt        time.Time   `gorm:"not null;index:idx_trade_status_expiry,priority:2" json:"expires_at"`
	CompletedAt      *time.Time  `json:"completed_at,omitempty"`
	CreatedAt        time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
	Items            []TradeItem `gorm:"-" json:"items"`
}

func (TradeRequest) TableName() string {
	return "trade_request"
}

func (t *TradeRequest) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

// ItemsFor returns the item refs offered by one side.
func (t *TradeRequest) ItemsFor(side string) []string {
	var refs []string
	for _, it := range t.Items {
		if it.Side == side {
			refs = append(refs, it.ItemRef)
		}
	}
	return refs
}

func (t *TradeRequest) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

type TradeItem struct {
	ID      int64  `gorm:"primaryKey;autoIncrement" json:"-"`
	TradeID string `gorm:"type:varchar(36);not null;index" json:"-"`
	Side    string `gorm:"type:varchar(16);not null" json:"side"`
	ItemRef string `gorm:"type:varchar(64);not null" json:"item_ref"`
}

func (TradeItem) TableName() string {
	return "trade_item"
}
