package service

import (
	"context"

	"creditsystem/internal/model"

	"gorm.io/gorm"
)

// Ledger is what collaborating modules (workouts, social, mascot) use to move
// credits in and out of an account.
type Ledger interface {
	Charge(ctx context.Context, req *ChargeRequest) (*PostResult, error)
	Earn(ctx context.Context, req *EarnRequest) (*PostResult, error)
	GetBalance(ctx context.Context, userID int64) (int64, error)
	Reconcile(ctx context.Context, userID int64) (*Reconciliation, error)
}

type Transfers interface {
	Transfer(ctx context.Context, req *TransferRequest) (*TransferResult, error)
}

// Escrow covers marketplace settlement: buy-now, offers and auctions.
type Escrow interface {
	CreateListing(ctx context.Context, req *CreateListingRequest) (*model.Listing, error)
	CancelListing(ctx context.Context, listingID string, actingUserID int64) error
	BuyNow(ctx context.Context, listingID string, buyerID int64) (*PurchaseResult, error)
	MakeOffer(ctx context.Context, req *MakeOfferRequest) (*model.Offer, error)
	AcceptOffer(ctx context.Context, offerID string, sellerID int64) (*PurchaseResult, error)
	RejectOffer(ctx context.Context, offerID string, sellerID int64) error
	WithdrawOffer(ctx context.Context, offerID string, buyerID int64) error
	PlaceBid(ctx context.Context, listingID string, bidderID, amount int64) (*BidResult, error)
}

type Trading interface {
	CreateTrade(ctx context.Context, req *CreateTradeRequest) (*TradeResult, error)
	AcceptTrade(ctx context.Context, tradeID string, actingUserID int64) (*TradeResult, error)
	DeclineTrade(ctx context.Context, tradeID string, actingUserID int64) error
	CancelTrade(ctx context.Context, tradeID string, actingUserID int64) error
}

// Inventory is the item-ownership collaborator. Every call takes the
// caller's transaction so ownership moves commit or roll back together with
// the credit legs of a settlement.
type Inventory interface {
	OwnerOf(ctx context.Context, tx *gorm.DB, itemRef string) (int64, error)
	TransferItem(ctx context.Context, tx *gorm.DB, itemRef string, fromUserID, toUserID int64) error
	EstimatedValue(ctx context.Context, tx *gorm.DB, itemRef string) (int64, error)
}

var (
	_ Ledger    = (*LedgerService)(nil)
	_ Transfers = (*TransferService)(nil)
	_ Escrow    = (*MarketplaceService)(nil)
	_ Trading   = (*TradeService)(nil)
)
