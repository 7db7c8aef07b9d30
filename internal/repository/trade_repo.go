package repository

import (
	"context"
	"errors"
	"time"

	"creditsystem/internal/model"

	"gorm.io/gorm"
)

type TradeRepository struct {
	db *gorm.DB
}

func NewTradeRepository(db *gorm.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

// Create writes the trade and its item rows.
func (r *TradeRepository) Create(ctx context.Context, tx *gorm.DB, trade *model.TradeRequest) error {
	conn := pick(r.db, tx).WithContext(ctx)
	if err := conn.Create(trade).Error; err != nil {
		return err
	}
	if len(trade.Items) == 0 {
		return nil
	}
	for i := range trade.Items {
		trade.Items[i].TradeID = trade.ID
	}
	return conn.Create(&trade.Items).Error
}

// GetByID loads the trade with its items.
func (r *TradeRepository) GetByID(ctx context.Context, tx *gorm.DB, id string) (*model.TradeRequest, error) {
	conn := pick(r.db, tx).WithContext(ctx)

	var trade model.TradeRequest
	if err := conn.Where("id = ?", id).First(&trade).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrTradeNotFound
		}
		return nil, err
	}
	if err := conn.Where("trade_id = ?", id).Order("id ASC").Find(&trade.Items).Error; err != nil {
		return nil, err
	}
	return &trade, nil
}

// Transition moves a pending trade to toStatus guarded by version.
// ErrOptimisticLock means another writer moved it first.
func (r *TradeRepository) Transition(ctx context.Context, tx *gorm.DB, trade *model.TradeRequest, toStatus, reason string) error {
	if !model.CanTradeTransition(trade.Status, toStatus) {
		return model.ErrTradeNotPending
	}

	updates := map[string]interface{}{
		"status":  toStatus,
		"version": gorm.Expr("version + 1"),
	}
	if reason != "" {
		updates["failure_reason"] = reason
	}
	var completedAt time.Time
	if toStatus == model.TradeStatusCompleted {
		completedAt = time.Now()
		updates["completed_at"] = &completedAt
	}

	result := pick(r.db, tx).WithContext(ctx).
		Model(&model.TradeRequest{}).
		Where("id = ? AND status = ? AND version = ?", trade.ID, trade.Status, trade.Version).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOptimisticLock
	}

	trade.Status = toStatus
	trade.Version++
	trade.FailureReason = reason
	if toStatus == model.TradeStatusCompleted {
		trade.CompletedAt = &completedAt
	}
	return nil
}

// ListByUserID returns trades where userID is either party, newest first.
func (r *TradeRepository) ListByUserID(ctx context.Context, userID int64, status string, limit int) ([]*model.TradeRequest, error) {
	var trades []*model.TradeRequest
	query := r.db.WithContext(ctx).
		Where("(initiator_id = ? OR receiver_id = ?)", userID, userID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Order("created_at DESC").Limit(limit).Find(&trades).Error; err != nil {
		return nil, err
	}
	for _, t := range trades {
		if err := r.db.WithContext(ctx).Where("trade_id = ?", t.ID).Order("id ASC").Find(&t.Items).Error; err != nil {
			return nil, err
		}
	}
	return trades, nil
}

func (r *TradeRepository) GetExpiredPending(ctx context.Context, now time.Time, limit int) ([]*model.TradeRequest, error) {
	var trades []*model.TradeRequest
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at <= ?", model.TradeStatusPending, now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&trades).Error
	return trades, err
}
