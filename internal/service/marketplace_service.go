package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"creditsystem/internal/config"
	"creditsystem/internal/metrics"
	"creditsystem/internal/model"
	"creditsystem/internal/repository"
	"creditsystem/internal/wealth"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type MarketplaceService struct {
	db          *gorm.DB
	cfg         *config.Config
	book        *bookkeeper
	accountRepo *repository.AccountRepository
	listingRepo *repository.ListingRepository
	inventory   Inventory
	tiers       *wealth.Calculator
}

func NewMarketplaceService(db *gorm.DB, cfg *config.Config, inventory Inventory, tiers *wealth.Calculator) *MarketplaceService {
	return &MarketplaceService{
		db:          db,
		cfg:         cfg,
		book:        newBookkeeper(db),
		accountRepo: repository.NewAccountRepository(db),
		listingRepo: repository.NewListingRepository(db),
		inventory:   inventory,
		tiers:       tiers,
	}
}

type CreateListingRequest struct {
	SellerID    int64         `json:"seller_id" validate:"required"`
	ItemRef     string        `json:"item_ref" validate:"required,max=64"`
	ListingType string        `json:"listing_type" validate:"required,oneof=FIXED AUCTION"`
	Price       int64         `json:"price"`
	Duration    time.Duration `json:"duration"`
}

type MakeOfferRequest struct {
	ListingID string `json:"listing_id" validate:"required"`
	BuyerID   int64  `json:"buyer_id" validate:"required"`
	Amount    int64  `json:"amount"`
	Message   string `json:"message" validate:"max=256"`
}

type PurchaseResult struct {
	ListingID  string `json:"listing_id"`
	BuyerID    int64  `json:"buyer_id"`
	Price      int64  `json:"price"`
	Fee        int64  `json:"fee"`
	NewBalance int64  `json:"new_balance"`
}

type BidResult struct {
	ListingID  string `json:"listing_id"`
	CurrentBid int64  `json:"current_bid"`
	BidCount   int    `json:"bid_count"`
	Available  int64  `json:"available"`
}

// CreateListing puts an item the seller owns up for sale. An item can have
// at most one active listing.
func (s *MarketplaceService) CreateListing(ctx context.Context, req *CreateListingRequest) (*model.Listing, error) {
	if req.Price <= 0 {
		return nil, model.ErrInvalidAmount
	}
	if err := validate.Struct(req); err != nil {
		return nil, validationErr(err)
	}
	duration := req.Duration
	if duration == 0 {
		duration = s.cfg.Marketplace.DefaultListingDuration
	}
	if duration < 0 || duration > s.cfg.Marketplace.MaxListingDuration {
		return nil, fmt.Errorf("listing duration %s: %w", duration, model.ErrInvalidRequest)
	}

	listing := &model.Listing{
		SellerID:    req.SellerID,
		ItemRef:     req.ItemRef,
		ListingType: req.ListingType,
		Price:       req.Price,
		Status:      model.ListingStatusActive,
		ExpiresAt:   time.Now().Add(duration),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// serialises listing creation per seller
		seller, err := s.accountRepo.GetByUserIDForUpdate(ctx, tx, req.SellerID)
		if err != nil {
			return err
		}
		if seller.IsFrozen() {
			return model.ErrAccountFrozen
		}

		owner, err := s.inventory.OwnerOf(ctx, tx, req.ItemRef)
		if err != nil {
			return err
		}
		if owner != req.SellerID {
			return model.ErrItemNotOwned
		}

		active, err := s.listingRepo.GetActiveByItem(ctx, tx, req.ItemRef)
		if err != nil {
			return fmt.Errorf("check active listings: %w", err)
		}
		if len(active) > 0 {
			return model.ErrItemAlreadyListed
		}

		return s.listingRepo.Create(ctx, tx, listing)
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"listing_id": listing.ID,
		"seller_id":  listing.SellerID,
		"item_ref":   listing.ItemRef,
		"type":       listing.ListingType,
		"price":      listing.Price,
	}).Info("listing created")
	return listing, nil
}

func (s *MarketplaceService) GetListing(ctx context.Context, listingID string) (*model.Listing, error) {
	return s.listingRepo.GetByID(ctx, nil, listingID)
}

func (s *MarketplaceService) ListActiveListings(ctx context.Context, page, pageSize int) ([]*model.Listing, int64, error) {
	page, pageSize = normalizePage(page, pageSize)
	return s.listingRepo.ListActive(ctx, page, pageSize)
}

// checkOpen reports why a listing can no longer be bought or bid on.
func checkOpen(listing *model.Listing, now time.Time) error {
	switch listing.Status {
	case model.ListingStatusActive:
	case model.ListingStatusExpired:
		return model.ErrListingExpired
	default:
		return model.ErrListingAlreadySold
	}
	if listing.IsExpired(now) {
		return model.ErrListingExpired
	}
	return nil
}

// BuyNow settles a fixed-price listing at its price. Exactly one concurrent
// buyer wins; the others get ErrListingAlreadySold.
func (s *MarketplaceService) BuyNow(ctx context.Context, listingID string, buyerID int64) (result *PurchaseResult, err error) {
	started := time.Now()
	defer func() { metrics.ObserveOperation("buy_now", outcome(err, false), started) }()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		listing, err := s.listingRepo.GetByID(ctx, tx, listingID)
		if err != nil {
			return err
		}
		if listing.ListingType != model.ListingTypeFixed {
			return model.ErrListingTypeMismatch
		}
		if err := checkOpen(listing, time.Now()); err != nil {
			return err
		}
		if listing.SellerID == buyerID {
			return model.ErrSelfPurchase
		}

		result, err = s.settle(ctx, tx, listing, buyerID, listing.Price, nil)
		if err != nil {
			return err
		}
		_, err = s.listingRepo.RejectPendingOffers(ctx, tx, listing.ID, "")
		return err
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"listing_id": listingID,
		"buyer_id":   buyerID,
		"price":      result.Price,
		"fee":        result.Fee,
	}).Info("listing bought")
	return result, nil
}

// settle is the one path that sells a listing: CAS ACTIVE->SOLD, move the
// item, debit the buyer, credit the seller minus the tier fee and credit the
// fee to the treasury. hold, when set, is the buyer's auction hold that
// becomes the debit.
func (s *MarketplaceService) settle(ctx context.Context, tx *gorm.DB, listing *model.Listing, buyerID, price int64, hold *model.BidHold) (*PurchaseResult, error) {
	treasuryID := s.cfg.Economy.TreasuryUserID
	accounts, err := s.accountRepo.LockMany(ctx, tx, buyerID, listing.SellerID, treasuryID)
	if err != nil {
		return nil, err
	}
	seller := accounts[listing.SellerID]
	fee := s.tiers.MarketplaceFee(seller.Balance, price)

	now := time.Now()
	err = s.listingRepo.CompareAndSet(ctx, tx, listing, model.ListingStatusActive, map[string]interface{}{
		"status":     model.ListingStatusSold,
		"buyer_id":   buyerID,
		"sold_price": price,
		"sold_at":    &now,
	})
	if err != nil {
		if errors.Is(err, repository.ErrOptimisticLock) {
			return nil, model.ErrListingAlreadySold
		}
		return nil, err
	}
	listing.Status = model.ListingStatusSold
	listing.BuyerID = &buyerID
	listing.SoldPrice = price
	listing.SoldAt = &now

	if err := s.inventory.TransferItem(ctx, tx, listing.ItemRef, listing.SellerID, buyerID); err != nil {
		return nil, err
	}

	var release int64
	if hold != nil {
		if err := s.listingRepo.CloseHold(ctx, tx, hold.ID, model.HoldStatusConsumed); err != nil {
			return nil, err
		}
		release = hold.Amount
	}

	meta := map[string]interface{}{
		"listing_id": listing.ID,
		"item_ref":   listing.ItemRef,
	}
	debit, err := s.book.post(ctx, tx, posting{
		account:     accounts[buyerID],
		action:      model.ActionPurchase,
		amount:      -price,
		key:         "listing:" + listing.ID + ":purchase",
		reference:   listing.ID,
		metadata:    withField(meta, "seller_id", listing.SellerID),
		releaseHold: release,
	})
	if err != nil {
		return nil, err
	}
	if _, err := s.book.post(ctx, tx, posting{
		account:   seller,
		action:    model.ActionSale,
		amount:    price - fee,
		key:       "listing:" + listing.ID + ":sale",
		reference: listing.ID,
		metadata:  withField(meta, "buyer_id", buyerID),
		earnEvent: true,
	}); err != nil {
		return nil, err
	}
	if fee > 0 {
		if _, err := s.book.post(ctx, tx, posting{
			account:   accounts[treasuryID],
			action:    model.ActionMarketplaceFee,
			amount:    fee,
			key:       "listing:" + listing.ID + ":fee",
			reference: listing.ID,
			metadata:  meta,
		}); err != nil {
			return nil, err
		}
	}

	if err := s.book.emit(ctx, tx, s.cfg.Kafka.Topic.Marketplace, listing.ID, model.EventListingSold, map[string]interface{}{
		"listing_id":   listing.ID,
		"listing_type": listing.ListingType,
		"item_ref":     listing.ItemRef,
		"seller_id":    listing.SellerID,
		"buyer_id":     buyerID,
		"price":        price,
		"fee":          fee,
	}); err != nil {
		return nil, err
	}

	return &PurchaseResult{
		ListingID:  listing.ID,
		BuyerID:    buyerID,
		Price:      price,
		Fee:        fee,
		NewBalance: debit.BalanceAfter,
	}, nil
}

// closeListing moves an active listing to a terminal state other than SOLD,
// releasing the top bid hold and rejecting pending offers. locked holds
// account rows the caller already owns; a hold owner outside it is locked
// here.
func (s *MarketplaceService) closeListing(ctx context.Context, tx *gorm.DB, listing *model.Listing, toStatus string, locked map[int64]*model.Account) error {
	hold, err := s.listingRepo.GetActiveHold(ctx, tx, listing.ID)
	if err != nil {
		return fmt.Errorf("load hold: %w", err)
	}
	var holder *model.Account
	if hold != nil {
		holder = locked[hold.UserID]
		if holder == nil {
			if holder, err = s.accountRepo.GetByUserIDForUpdate(ctx, tx, hold.UserID); err != nil {
				return err
			}
		}
	}

	if err := s.listingRepo.CompareAndSet(ctx, tx, listing, model.ListingStatusActive, map[string]interface{}{
		"status": toStatus,
	}); err != nil {
		return stateErr(err)
	}
	listing.Status = toStatus

	if hold != nil {
		if err := s.listingRepo.CloseHold(ctx, tx, hold.ID, model.HoldStatusReleased); err != nil {
			return err
		}
		if err := s.book.reserve(ctx, tx, holder, -hold.Amount); err != nil {
			return err
		}
	}
	if _, err := s.listingRepo.RejectPendingOffers(ctx, tx, listing.ID, ""); err != nil {
		return fmt.Errorf("reject offers: %w", err)
	}

	return s.book.emit(ctx, tx, s.cfg.Kafka.Topic.Marketplace, listing.ID, model.EventListingClosed, map[string]interface{}{
		"listing_id": listing.ID,
		"item_ref":   listing.ItemRef,
		"seller_id":  listing.SellerID,
		"status":     toStatus,
	})
}

// CancelListing withdraws an active listing. Only the seller may cancel.
func (s *MarketplaceService) CancelListing(ctx context.Context, listingID string, actingUserID int64) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		listing, err := s.listingRepo.GetByID(ctx, tx, listingID)
		if err != nil {
			return err
		}
		if listing.SellerID != actingUserID {
			return model.ErrUnauthorized
		}
		if listing.Status != model.ListingStatusActive {
			return checkOpen(listing, time.Now())
		}
		return s.closeListing(ctx, tx, listing, model.ListingStatusCancelled, nil)
	})
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"listing_id": listingID, "seller_id": actingUserID}).Info("listing cancelled")
	return nil
}

// MakeOffer proposes a price on a fixed-price listing. Nothing is reserved;
// funds are checked again when the seller accepts.
func (s *MarketplaceService) MakeOffer(ctx context.Context, req *MakeOfferRequest) (*model.Offer, error) {
	if req.Amount <= 0 {
		return nil, model.ErrInvalidAmount
	}
	if err := validate.Struct(req); err != nil {
		return nil, validationErr(err)
	}

	var offer *model.Offer
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		listing, err := s.listingRepo.GetByID(ctx, tx, req.ListingID)
		if err != nil {
			return err
		}
		if listing.ListingType != model.ListingTypeFixed {
			return model.ErrListingTypeMismatch
		}
		now := time.Now()
		if err := checkOpen(listing, now); err != nil {
			return err
		}
		if listing.SellerID == req.BuyerID {
			return model.ErrSelfPurchase
		}

		buyer, err := s.accountRepo.GetByUserID(ctx, tx, req.BuyerID)
		if err != nil {
			return err
		}
		if buyer.IsFrozen() {
			return model.ErrAccountFrozen
		}
		if buyer.Available() < req.Amount {
			return model.ErrInsufficientFunds
		}

		expiresAt := now.Add(s.cfg.Marketplace.OfferDuration)
		if listing.ExpiresAt.Before(expiresAt) {
			expiresAt = listing.ExpiresAt
		}
		offer = &model.Offer{
			ListingID: listing.ID,
			BuyerID:   req.BuyerID,
			Amount:    req.Amount,
			Message:   req.Message,
			Status:    model.OfferStatusPending,
			ExpiresAt: expiresAt,
		}
		return s.listingRepo.CreateOffer(ctx, tx, offer)
	})
	if err != nil {
		return nil, err
	}
	return offer, nil
}

// AcceptOffer sells the listing to the offer's buyer at the offered amount
// through the same settlement path as BuyNow.
func (s *MarketplaceService) AcceptOffer(ctx context.Context, offerID string, sellerID int64) (result *PurchaseResult, err error) {
	started := time.Now()
	defer func() { metrics.ObserveOperation("accept_offer", outcome(err, false), started) }()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		offer, err := s.listingRepo.GetOffer(ctx, tx, offerID)
		if err != nil {
			return err
		}
		listing, err := s.listingRepo.GetByID(ctx, tx, offer.ListingID)
		if err != nil {
			return err
		}
		if listing.SellerID != sellerID {
			return model.ErrUnauthorized
		}
		now := time.Now()
		if offer.Status != model.OfferStatusPending || !now.Before(offer.ExpiresAt) {
			return model.ErrOfferNotPending
		}
		if err := checkOpen(listing, now); err != nil {
			return err
		}

		result, err = s.settle(ctx, tx, listing, offer.BuyerID, offer.Amount, nil)
		if err != nil {
			return err
		}
		if err := s.listingRepo.UpdateOfferStatus(ctx, tx, offer.ID, model.OfferStatusAccepted); err != nil {
			return err
		}
		_, err = s.listingRepo.RejectPendingOffers(ctx, tx, listing.ID, offer.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"offer_id":   offerID,
		"listing_id": result.ListingID,
		"buyer_id":   result.BuyerID,
		"price":      result.Price,
	}).Info("offer accepted")
	return result, nil
}

func (s *MarketplaceService) RejectOffer(ctx context.Context, offerID string, sellerID int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		offer, err := s.listingRepo.GetOffer(ctx, tx, offerID)
		if err != nil {
			return err
		}
		listing, err := s.listingRepo.GetByID(ctx, tx, offer.ListingID)
		if err != nil {
			return err
		}
		if listing.SellerID != sellerID {
			return model.ErrUnauthorized
		}
		return s.listingRepo.UpdateOfferStatus(ctx, tx, offer.ID, model.OfferStatusRejected)
	})
}

func (s *MarketplaceService) WithdrawOffer(ctx context.Context, offerID string, buyerID int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		offer, err := s.listingRepo.GetOffer(ctx, tx, offerID)
		if err != nil {
			return err
		}
		if offer.BuyerID != buyerID {
			return model.ErrUnauthorized
		}
		return s.listingRepo.UpdateOfferStatus(ctx, tx, offer.ID, model.OfferStatusWithdrawn)
	})
}

func (s *MarketplaceService) ListOffers(ctx context.Context, listingID string) ([]*model.Offer, error) {
	return s.listingRepo.ListOffers(ctx, listingID)
}

// PlaceBid reserves amount from the bidder and releases the previous top
// bidder's hold in the same transaction. The first bid must reach the
// starting price, later ones must beat the current bid by the configured
// increment.
func (s *MarketplaceService) PlaceBid(ctx context.Context, listingID string, bidderID, amount int64) (result *BidResult, err error) {
	started := time.Now()
	defer func() { metrics.ObserveOperation("place_bid", outcome(err, false), started) }()

	if amount <= 0 {
		return nil, model.ErrInvalidAmount
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		listing, err := s.listingRepo.GetByID(ctx, tx, listingID)
		if err != nil {
			return err
		}
		if listing.ListingType != model.ListingTypeAuction {
			return model.ErrListingTypeMismatch
		}
		if err := checkOpen(listing, time.Now()); err != nil {
			return err
		}
		if listing.SellerID == bidderID {
			return model.ErrSelfPurchase
		}

		minimum := listing.Price
		if listing.CurrentBidderID != nil {
			minimum = listing.CurrentBid + s.cfg.Marketplace.MinBidIncrement
		}
		if amount < minimum {
			return fmt.Errorf("minimum bid is %d: %w", minimum, model.ErrBidTooLow)
		}

		prev, err := s.listingRepo.GetActiveHold(ctx, tx, listing.ID)
		if err != nil {
			return fmt.Errorf("load hold: %w", err)
		}
		ids := []int64{bidderID}
		if prev != nil {
			ids = append(ids, prev.UserID)
		}
		accounts, err := s.accountRepo.LockMany(ctx, tx, ids...)
		if err != nil {
			return err
		}

		if prev != nil {
			if err := s.listingRepo.CloseHold(ctx, tx, prev.ID, model.HoldStatusReleased); err != nil {
				return err
			}
			if err := s.book.reserve(ctx, tx, accounts[prev.UserID], -prev.Amount); err != nil {
				return err
			}
		}
		bidder := accounts[bidderID]
		if err := s.book.reserve(ctx, tx, bidder, amount); err != nil {
			return err
		}
		if err := s.listingRepo.CreateHold(ctx, tx, &model.BidHold{
			ListingID: listing.ID,
			UserID:    bidderID,
			Amount:    amount,
			Status:    model.HoldStatusActive,
		}); err != nil {
			return fmt.Errorf("create hold: %w", err)
		}

		if err := s.listingRepo.CompareAndSet(ctx, tx, listing, model.ListingStatusActive, map[string]interface{}{
			"current_bid":       amount,
			"current_bidder_id": bidderID,
			"bid_count":         gorm.Expr("bid_count + 1"),
		}); err != nil {
			return stateErr(err)
		}

		if err := s.book.emit(ctx, tx, s.cfg.Kafka.Topic.Marketplace, listing.ID, model.EventBidPlaced, map[string]interface{}{
			"listing_id": listing.ID,
			"bidder_id":  bidderID,
			"amount":     amount,
			"bid_count":  listing.BidCount + 1,
		}); err != nil {
			return err
		}

		result = &BidResult{
			ListingID:  listing.ID,
			CurrentBid: amount,
			BidCount:   listing.BidCount + 1,
			Available:  bidder.Available(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"listing_id": listingID,
		"bidder_id":  bidderID,
		"amount":     amount,
	}).Info("bid placed")
	return result, nil
}

// DueListings returns active listings whose expiry has passed.
func (s *MarketplaceService) DueListings(ctx context.Context, now time.Time, limit int) ([]*model.Listing, error) {
	return s.listingRepo.GetExpired(ctx, now, limit)
}

// ExpireListing closes one listing whose time is up and returns the status
// it ended in. Fixed listings become EXPIRED. Auctions with a live top bid
// are sold to that bidder; without bids they expire, and if the item left
// the seller's inventory the auction is CANCELLED and the hold released.
// Running it again on a closed listing is a no-op.
func (s *MarketplaceService) ExpireListing(ctx context.Context, listingID string) (string, error) {
	var status string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		listing, err := s.listingRepo.GetByID(ctx, tx, listingID)
		if err != nil {
			return err
		}
		status = listing.Status
		if listing.Status != model.ListingStatusActive {
			return nil
		}
		if !listing.IsExpired(time.Now()) {
			return model.ErrStateChanged
		}

		hold, err := s.listingRepo.GetActiveHold(ctx, tx, listing.ID)
		if err != nil {
			return fmt.Errorf("load hold: %w", err)
		}
		if listing.ListingType != model.ListingTypeAuction || hold == nil {
			status = model.ListingStatusExpired
			return s.closeListing(ctx, tx, listing, status, nil)
		}

		owner, err := s.inventory.OwnerOf(ctx, tx, listing.ItemRef)
		if err != nil && !errors.Is(err, model.ErrItemNotFound) {
			return err
		}
		if owner != listing.SellerID {
			status = model.ListingStatusCancelled
			return s.closeListing(ctx, tx, listing, status, nil)
		}

		status = model.ListingStatusSold
		_, err = s.settle(ctx, tx, listing, hold.UserID, hold.Amount, hold)
		return err
	})

	// a frozen party cannot be settled; give the bidder their credits back
	if errors.Is(err, model.ErrAccountFrozen) {
		logrus.WithError(err).WithField("listing_id", listingID).Warn("auction settlement refused, cancelling")
		status = model.ListingStatusCancelled
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			listing, err := s.listingRepo.GetByID(ctx, tx, listingID)
			if err != nil {
				return err
			}
			if listing.Status != model.ListingStatusActive {
				status = listing.Status
				return nil
			}
			return s.closeListing(ctx, tx, listing, status, nil)
		})
	}
	if err != nil {
		return "", err
	}
	return status, nil
}

// ExpireOffers moves pending offers past their expiry to EXPIRED.
func (s *MarketplaceService) ExpireOffers(ctx context.Context, now time.Time) (int64, error) {
	return s.listingRepo.ExpireOffers(ctx, now)
}
