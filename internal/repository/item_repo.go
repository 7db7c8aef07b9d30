package repository

import (
	"context"
	"errors"

	"creditsystem/internal/model"

	"gorm.io/gorm"
)

// ItemRepository adapts the inventory module's ownership table. It satisfies
// service.Inventory so item moves commit in the same transaction as the
// credit legs of a settlement.
type ItemRepository struct {
	db *gorm.DB
}

func NewItemRepository(db *gorm.DB) *ItemRepository {
	return &ItemRepository{db: db}
}

// Put creates or replaces an item row. Used by seeding and tests; the
// inventory module owns this table in production.
func (r *ItemRepository) Put(ctx context.Context, item *model.InventoryItem) error {
	return r.db.WithContext(ctx).Save(item).Error
}

func (r *ItemRepository) get(ctx context.Context, tx *gorm.DB, itemRef string) (*model.InventoryItem, error) {
	var item model.InventoryItem
	err := pick(r.db, tx).WithContext(ctx).Where("item_ref = ?", itemRef).First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrItemNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (r *ItemRepository) OwnerOf(ctx context.Context, tx *gorm.DB, itemRef string) (int64, error) {
	item, err := r.get(ctx, tx, itemRef)
	if err != nil {
		return 0, err
	}
	return item.OwnerID, nil
}

func (r *ItemRepository) EstimatedValue(ctx context.Context, tx *gorm.DB, itemRef string) (int64, error) {
	item, err := r.get(ctx, tx, itemRef)
	if err != nil {
		return 0, err
	}
	return item.EstimatedValue, nil
}

// TransferItem moves ownership only if fromUserID still owns the item.
func (r *ItemRepository) TransferItem(ctx context.Context, tx *gorm.DB, itemRef string, fromUserID, toUserID int64) error {
	result := pick(r.db, tx).WithContext(ctx).
		Model(&model.InventoryItem{}).
		Where("item_ref = ? AND owner_id = ?", itemRef, fromUserID).
		Updates(map[string]interface{}{
			"owner_id": toUserID,
			"version":  gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return model.ErrItemUnavailable
	}
	return nil
}
