package repository

import (
	"context"
	"errors"
	"time"

	"creditsystem/internal/model"

	"gorm.io/gorm"
)

type LoanRepository struct {
	db *gorm.DB
}

func NewLoanRepository(db *gorm.DB) *LoanRepository {
	return &LoanRepository{db: db}
}

func (r *LoanRepository) Create(ctx context.Context, tx *gorm.DB, loan *model.CreditLoan) error {
	return pick(r.db, tx).WithContext(ctx).Create(loan).Error
}

// GetActive returns nil, nil when the user has no active loan.
func (r *LoanRepository) GetActive(ctx context.Context, tx *gorm.DB, userID int64) (*model.CreditLoan, error) {
	var loan model.CreditLoan
	err := pick(r.db, tx).WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, model.LoanStatusActive).
		First(&loan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &loan, nil
}

// Repay lowers the outstanding amount and closes the loan at zero.
func (r *LoanRepository) Repay(ctx context.Context, tx *gorm.DB, loan *model.CreditLoan, amount int64) error {
	outstanding := loan.Outstanding - amount
	updates := map[string]interface{}{
		"outstanding": outstanding,
	}
	if outstanding == 0 {
		now := time.Now()
		updates["status"] = model.LoanStatusRepaid
		updates["repaid_at"] = &now
		loan.Status = model.LoanStatusRepaid
		loan.RepaidAt = &now
	}

	result := pick(r.db, tx).WithContext(ctx).
		Model(&model.CreditLoan{}).
		Where("id = ? AND outstanding = ?", loan.ID, loan.Outstanding).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOptimisticLock
	}
	loan.Outstanding = outstanding
	return nil
}
