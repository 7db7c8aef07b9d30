package repository

import (
	"context"
	"errors"

	"creditsystem/internal/model"

	"gorm.io/gorm"
)

type LedgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Append is the only write path for ledger entries.
func (r *LedgerRepository) Append(ctx context.Context, tx *gorm.DB, entry *model.LedgerEntry) error {
	return translate(pick(r.db, tx).WithContext(ctx).Create(entry).Error)
}

// GetByIdempotencyKey returns nil, nil when the key has not been used.
func (r *LedgerRepository) GetByIdempotencyKey(ctx context.Context, tx *gorm.DB, userID int64, key string) (*model.LedgerEntry, error) {
	var entry model.LedgerEntry
	err := pick(r.db, tx).WithContext(ctx).
		Where("user_id = ? AND idempotency_key = ?", userID, key).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

func (r *LedgerRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.LedgerEntry, error) {
	var entry model.LedgerEntry
	err := pick(r.db, tx).WithContext(ctx).Where("id = ?", id).First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// SumByUserID is the ledger side of the reconciliation invariant.
func (r *LedgerRepository) SumByUserID(ctx context.Context, tx *gorm.DB, userID int64) (int64, error) {
	var sum int64
	err := pick(r.db, tx).WithContext(ctx).
		Model(&model.LedgerEntry{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&sum).Error
	return sum, err
}

// Totals returns the sum of positive and of negative amounts (as a positive
// number) for userID; used to rebuild lifetime counters.
func (r *LedgerRepository) Totals(ctx context.Context, tx *gorm.DB, userID int64) (earned, spent int64, err error) {
	var row struct {
		Earned int64
		Spent  int64
	}
	err = pick(r.db, tx).WithContext(ctx).
		Model(&model.LedgerEntry{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(CASE WHEN amount > 0 THEN amount ELSE 0 END), 0) AS earned, " +
			"COALESCE(SUM(CASE WHEN amount < 0 THEN -amount ELSE 0 END), 0) AS spent").
		Scan(&row).Error
	return row.Earned, row.Spent, err
}

func (r *LedgerRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.LedgerEntry, int64, error) {
	var entries []*model.LedgerEntry
	var total int64

	query := r.db.WithContext(ctx).Model(&model.LedgerEntry{}).Where("user_id = ?", userID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&entries).Error

	return entries, total, err
}

// CreateEarnEvent records the UI feed row for a credit.
func (r *LedgerRepository) CreateEarnEvent(ctx context.Context, tx *gorm.DB, event *model.EarnEvent) error {
	return pick(r.db, tx).WithContext(ctx).Create(event).Error
}

func (r *LedgerRepository) ListEarnEvents(ctx context.Context, userID int64, unseenOnly bool, limit int) ([]*model.EarnEvent, error) {
	var events []*model.EarnEvent
	query := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if unseenOnly {
		query = query.Where("seen = ?", false)
	}
	err := query.Order("id DESC").Limit(limit).Find(&events).Error
	return events, err
}

func (r *LedgerRepository) MarkEarnEventsSeen(ctx context.Context, userID int64, ids []int64) (int64, error) {
	query := r.db.WithContext(ctx).
		Model(&model.EarnEvent{}).
		Where("user_id = ? AND seen = ?", userID, false)
	if len(ids) > 0 {
		query = query.Where("id IN ?", ids)
	}
	result := query.Update("seen", true)
	return result.RowsAffected, result.Error
}
