package model

import (
	"encoding/json"
	"time"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// Economy event types carried in the outbox payload.
const (
	EventCreditsEarned     = "credits.earned"
	EventCreditsCharged    = "credits.charged"
	EventTransferCompleted = "transfer.completed"
	EventListingSold       = "listing.sold"
	EventListingClosed     = "listing.closed"
	EventBidPlaced         = "bid.placed"
	EventTradeCompleted    = "trade.completed"
	EventTradeClosed       = "trade.closed"
	EventLoanChanged       = "loan.changed"
)

// OutboxMessage is written in the same transaction as the state change it
// announces; the relay job publishes it to Kafka afterwards.
type OutboxMessage struct {
	ID         int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageKey string     `gorm:"type:varchar(64);not null" json:"message_key"`
	Topic      string     `gorm:"type:varchar(64);not null" json:"topic"`
	EventType  string     `gorm:"type:varchar(32);not null" json:"event_type"`
	Payload    string     `gorm:"type:text;not null" json:"payload"`
	Status     string     `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount int        `gorm:"not null;default:0" json:"retry_count"`
	LastError  string     `gorm:"type:varchar(255)" json:"last_error,omitempty"`
	SentAt     *time.Time `json:"sent_at,omitempty"`
	CreatedAt  time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}

// NewOutboxMessage stamps the event type and time into payload.
func NewOutboxMessage(topic, key, eventType string, payload map[string]interface{}) (*OutboxMessage, error) {
	body := make(map[string]interface{}, len(payload)+2)
	for k, v := range payload {
		body[k] = v
	}
	body["event"] = eventType
	body["occurred_at"] = time.Now().UTC().Format(time.RFC3339)

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return &OutboxMessage{
		MessageKey: key,
		Topic:      topic,
		EventType:  eventType,
		Payload:    string(raw),
		Status:     OutboxStatusPending,
	}, nil
}

// AllModels is the AutoMigrate set.
func AllModels() []interface{} {
	return []interface{}{
		&Account{},
		&LedgerEntry{},
		&EarnEvent{},
		&TransferRecord{},
		&Listing{},
		&Offer{},
		&BidHold{},
		&TradeRequest{},
		&TradeItem{},
		&CreditLoan{},
		&InventoryItem{},
		&OutboxMessage{},
	}
}
