package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	ListingTypeFixed   = "FIXED"
	ListingTypeAuction = "AUCTION"
)

const (
	ListingStatusActive    = "ACTIVE"
	ListingStatusSold      = "SOLD"
	ListingStatusExpired   = "EXPIRED"
	ListingStatusCancelled = "CANCELLED"
)

// ListingStatusTransitions lists the legal moves; SOLD, EXPIRED and
// CANCELLED are terminal.
var ListingStatusTransitions = map[string][]string{
	ListingStatusActive: {ListingStatusSold, ListingStatusExpired, ListingStatusCancelled},
}

func CanListingTransition(from, to string) bool {
	return canTransition(ListingStatusTransitions, from, to)
}

// Listing is a marketplace sale of one item. For auctions Price is the
// starting price and CurrentBid/CurrentBidderID track the top hold.
type Listing struct {
	ID              string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	SellerID        int64      `gorm:"not null;index" json:"seller_id"`
	ItemRef         string     `gorm:"type:varchar(64);not null;index" json:"item_ref"`
	ListingType     string     `gorm:"type:varchar(16);not null" json:"listing_type"`
	Price           int64      `gorm:"not null" json:"price"`
	CurrentBid      int64      `gorm:"not null;default:0" json:"current_bid"`
	CurrentBidderID *int64     `json:"current_bidder_id,omitempty"`
	BidCount        int        `gorm:"not null;default:0" json:"bid_count"`
	Status          string     `gorm:"type:varchar(16);not null;index:idx_listing_status_expiry,priority:1" json:"status"`
	BuyerID         *int64     `json:"buyer_id,omitempty"`
	SoldPrice       int64      `gorm:"not null;default:0" json:"sold_price"`
	Version         int        `gorm:"not null;default:0" json:"version"`
	ExpiresAt       time.Time  `gorm:"not null;index:idx_listing_status_expiry,priority:2" json:"expires_at"`
	SoldAt          *time.Time `json:"sold_at,omitempty"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Listing) TableName() string {
	return "listing"
}

func (l *Listing) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	return nil
}

func (l *Listing) IsExpired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

const (
	OfferStatusPending   = "PENDING"
	OfferStatusAccepted  = "ACCEPTED"
	OfferStatusRejected  = "REJECTED"
	OfferStatusWithdrawn = "WITHDRAWN"
	OfferStatusExpired   = "EXPIRED"
)

// Offer is a buyer's price proposal on a fixed-price listing. Nothing is
// reserved while it is pending; funds are checked again on acceptance.
type Offer struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	ListingID string    `gorm:"type:varchar(36);not null;index" json:"listing_id"`
	BuyerID   int64     `gorm:"not null;index" json:"buyer_id"`
	Amount    int64     `gorm:"not null" json:"amount"`
	Message   string    `gorm:"type:varchar(256)" json:"message"`
	Status    string    `gorm:"type:varchar(16);not null;index:idx_offer_status_expiry,priority:1" json:"status"`
	ExpiresAt time.Time `gorm:"not null;index:idx_offer_status_expiry,priority:2" json:"expires_at"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Offer) TableName() string {
	return "offer"
}

func (o *Offer) BeforeCreate(tx *gorm.DB) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	return nil
}

const (
	HoldStatusActive   = "ACTIVE"
	HoldStatusReleased = "RELEASED"
	HoldStatusConsumed = "CONSUMED"
)

// BidHold reserves a bidder's credits while their bid is the top bid.
type BidHold struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ListingID string    `gorm:"type:varchar(36);not null;index:idx_hold_listing_status,priority:1" json:"listing_id"`
	UserID    int64     `gorm:"not null;index" json:"user_id"`
	Amount    int64     `gorm:"not null" json:"amount"`
	Status    string    `gorm:"type:varchar(16);not null;index:idx_hold_listing_status,priority:2" json:"status"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (BidHold) TableName() string {
	return "bid_hold"
}

func canTransition(table map[string][]string, from, to string) bool {
	allowed, ok := table[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}
