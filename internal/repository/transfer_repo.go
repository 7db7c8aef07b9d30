package repository

import (
	"context"
	"errors"

	"creditsystem/internal/model"

	"gorm.io/gorm"
)

type TransferRepository struct {
	db *gorm.DB
}

func NewTransferRepository(db *gorm.DB) *TransferRepository {
	return &TransferRepository{db: db}
}

func (r *TransferRepository) Create(ctx context.Context, tx *gorm.DB, record *model.TransferRecord) error {
	return translate(pick(r.db, tx).WithContext(ctx).Create(record).Error)
}

// GetBySenderKey returns nil, nil when the sender never used key.
func (r *TransferRepository) GetBySenderKey(ctx context.Context, tx *gorm.DB, senderID int64, key string) (*model.TransferRecord, error) {
	var record model.TransferRecord
	err := pick(r.db, tx).WithContext(ctx).
		Where("sender_id = ? AND idempotency_key = ?", senderID, key).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// ListByUserID returns transfers where userID is either side.
func (r *TransferRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.TransferRecord, int64, error) {
	var records []*model.TransferRecord
	var total int64

	query := r.db.WithContext(ctx).
		Model(&model.TransferRecord{}).
		Where("(sender_id = ? OR recipient_id = ?)", userID, userID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&records).Error

	return records, total, err
}
