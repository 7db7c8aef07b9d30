package repository

import (
	"context"
	"errors"
	"time"

	"creditsystem/internal/model"

	"gorm.io/gorm"
)

type ListingRepository struct {
	db *gorm.DB
}

func NewListingRepository(db *gorm.DB) *ListingRepository {
	return &ListingRepository{db: db}
}

func (r *ListingRepository) Create(ctx context.Context, tx *gorm.DB, listing *model.Listing) error {
	return pick(r.db, tx).WithContext(ctx).Create(listing).Error
}

func (r *ListingRepository) GetByID(ctx context.Context, tx *gorm.DB, id string) (*model.Listing, error) {
	var listing model.Listing
	err := pick(r.db, tx).WithContext(ctx).Where("id = ?", id).First(&listing).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrListingNotFound
		}
		return nil, err
	}
	return &listing, nil
}

// GetActiveByItem returns the active listings of an item (normally at most one).
func (r *ListingRepository) GetActiveByItem(ctx context.Context, tx *gorm.DB, itemRef string) ([]*model.Listing, error) {
	var listings []*model.Listing
	err := pick(r.db, tx).WithContext(ctx).
		Where("item_ref = ? AND status = ?", itemRef, model.ListingStatusActive).
		Find(&listings).Error
	return listings, err
}

// CompareAndSet applies updates only if the listing is still at fromStatus
// and version. The caller's listing gets the new version on success.
// ErrOptimisticLock means another writer got there first.
func (r *ListingRepository) CompareAndSet(ctx context.Context, tx *gorm.DB, listing *model.Listing, fromStatus string, updates map[string]interface{}) error {
	if to, ok := updates["status"].(string); ok && to != fromStatus && !model.CanListingTransition(fromStatus, to) {
		return model.ErrStateChanged
	}

	values := make(map[string]interface{}, len(updates)+1)
	for k, v := range updates {
		values[k] = v
	}
	values["version"] = gorm.Expr("version + 1")

	result := pick(r.db, tx).WithContext(ctx).
		Model(&model.Listing{}).
		Where("id = ? AND status = ? AND version = ?", listing.ID, fromStatus, listing.Version).
		Updates(values)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOptimisticLock
	}
	listing.Version++
	return nil
}

func (r *ListingRepository) ListActive(ctx context.Context, page, pageSize int) ([]*model.Listing, int64, error) {
	var listings []*model.Listing
	var total int64

	query := r.db.WithContext(ctx).
		Model(&model.Listing{}).
		Where("status = ? AND expires_at > ?", model.ListingStatusActive, time.Now())

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&listings).Error

	return listings, total, err
}

// GetExpired returns active listings whose expiry has passed.
func (r *ListingRepository) GetExpired(ctx context.Context, now time.Time, limit int) ([]*model.Listing, error) {
	var listings []*model.Listing
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at <= ?", model.ListingStatusActive, now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&listings).Error
	return listings, err
}

// ---- offers ----

func (r *ListingRepository) CreateOffer(ctx context.Context, tx *gorm.DB, offer *model.Offer) error {
	return pick(r.db, tx).WithContext(ctx).Create(offer).Error
}

func (r *ListingRepository) GetOffer(ctx context.Context, tx *gorm.DB, id string) (*model.Offer, error) {
	var offer model.Offer
	err := pick(r.db, tx).WithContext(ctx).Where("id = ?", id).First(&offer).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrOfferNotFound
		}
		return nil, err
	}
	return &offer, nil
}

// UpdateOfferStatus moves a pending offer; ErrOfferNotPending if it already moved.
func (r *ListingRepository) UpdateOfferStatus(ctx context.Context, tx *gorm.DB, id, toStatus string) error {
	result := pick(r.db, tx).WithContext(ctx).
		Model(&model.Offer{}).
		Where("id = ? AND status = ?", id, model.OfferStatusPending).
		Update("status", toStatus)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return model.ErrOfferNotPending
	}
	return nil
}

// RejectPendingOffers closes every other pending offer on a listing.
func (r *ListingRepository) RejectPendingOffers(ctx context.Context, tx *gorm.DB, listingID, exceptID string) (int64, error) {
	query := pick(r.db, tx).WithContext(ctx).
		Model(&model.Offer{}).
		Where("listing_id = ? AND status = ?", listingID, model.OfferStatusPending)
	if exceptID != "" {
		query = query.Where("id <> ?", exceptID)
	}
	result := query.Update("status", model.OfferStatusRejected)
	return result.RowsAffected, result.Error
}

func (r *ListingRepository) ListOffers(ctx context.Context, listingID string) ([]*model.Offer, error) {
	var offers []*model.Offer
	err := r.db.WithContext(ctx).
		Where("listing_id = ?", listingID).
		Order("created_at DESC").
		Find(&offers).Error
	return offers, err
}

func (r *ListingRepository) ExpireOffers(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&model.Offer{}).
		Where("status = ? AND expires_at <= ?", model.OfferStatusPending, now).
		Update("status", model.OfferStatusExpired)
	return result.RowsAffected, result.Error
}

// ---- bid holds ----

func (r *ListingRepository) CreateHold(ctx context.Context, tx *gorm.DB, hold *model.BidHold) error {
	return pick(r.db, tx).WithContext(ctx).Create(hold).Error
}

// GetActiveHold returns nil, nil when the listing has no active hold.
func (r *ListingRepository) GetActiveHold(ctx context.Context, tx *gorm.DB, listingID string) (*model.BidHold, error) {
	var hold model.BidHold
	err := pick(r.db, tx).WithContext(ctx).
		Where("listing_id = ? AND status = ?", listingID, model.HoldStatusActive).
		First(&hold).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &hold, nil
}

func (r *ListingRepository) CloseHold(ctx context.Context, tx *gorm.DB, holdID int64, toStatus string) error {
	result := pick(r.db, tx).WithContext(ctx).
		Model(&model.BidHold{}).
		Where("id = ? AND status = ?", holdID, model.HoldStatusActive).
		Update("status", toStatus)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return model.ErrStateChanged
	}
	return nil
}

// SumActiveHolds is the expected value of account.reserved.
func (r *ListingRepository) SumActiveHolds(ctx context.Context, tx *gorm.DB, userID int64) (int64, error) {
	var sum int64
	err := pick(r.db, tx).WithContext(ctx).
		Model(&model.BidHold{}).
		Where("user_id = ? AND status = ?", userID, model.HoldStatusActive).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&sum).Error
	return sum, err
}
