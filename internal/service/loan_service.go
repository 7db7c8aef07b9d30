package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"creditsystem/internal/config"
	"creditsystem/internal/metrics"
	"creditsystem/internal/model"
	"creditsystem/internal/repository"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// LoanService manages credit loans. The principal is a payable tracked in
// credit_loan; only the disbursement and the repayments touch the ledger.
// No interest is charged.
type LoanService struct {
	db          *gorm.DB
	cfg         *config.Config
	book        *bookkeeper
	accountRepo *repository.AccountRepository
	ledgerRepo  *repository.LedgerRepository
	loanRepo    *repository.LoanRepository
}

func NewLoanService(db *gorm.DB, cfg *config.Config) *LoanService {
	return &LoanService{
		db:          db,
		cfg:         cfg,
		book:        newBookkeeper(db),
		accountRepo: repository.NewAccountRepository(db),
		ledgerRepo:  repository.NewLedgerRepository(db),
		loanRepo:    repository.NewLoanRepository(db),
	}
}

type LoanResult struct {
	Loan       *model.CreditLoan `json:"loan"`
	NewBalance int64             `json:"new_balance"`
	Replayed   bool              `json:"replayed"`
}

// RequestLoan disburses amount as a ledger credit and opens the loan. A user
// has at most one active loan.
func (s *LoanService) RequestLoan(ctx context.Context, userID, amount int64, idempotencyKey string) (result *LoanResult, err error) {
	started := time.Now()
	defer func() {
		metrics.ObserveOperation("request_loan", outcome(err, result != nil && result.Replayed), started)
	}()

	if amount <= 0 {
		return nil, model.ErrInvalidAmount
	}
	if idempotencyKey == "" {
		return nil, model.ErrInvalidRequest
	}
	if amount > s.cfg.Economy.MaxLoan {
		return nil, model.ErrLoanLimitExceeded
	}

	key := "loan:" + idempotencyKey + ":disburse"
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.accountRepo.GetByUserIDForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		active, err := s.loanRepo.GetActive(ctx, tx, userID)
		if err != nil {
			return fmt.Errorf("load loan: %w", err)
		}

		prior, err := s.ledgerRepo.GetByIdempotencyKey(ctx, tx, userID, key)
		if err != nil {
			return fmt.Errorf("check idempotency key: %w", err)
		}
		if prior != nil {
			result = &LoanResult{Loan: active, NewBalance: prior.BalanceAfter, Replayed: true}
			return nil
		}
		if active != nil {
			return model.ErrLoanActive
		}

		entry, err := s.book.post(ctx, tx, posting{
			account: account,
			action:  model.ActionLoanDisbursed,
			amount:  amount,
			key:     key,
		})
		if err != nil {
			return err
		}
		loan := &model.CreditLoan{
			UserID:      userID,
			Principal:   amount,
			Outstanding: amount,
			Status:      model.LoanStatusActive,
		}
		if err := s.loanRepo.Create(ctx, tx, loan); err != nil {
			return fmt.Errorf("create loan: %w", err)
		}
		if err := s.emitLoan(ctx, tx, loan); err != nil {
			return err
		}
		result = &LoanResult{Loan: loan, NewBalance: entry.BalanceAfter}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.Replayed {
		logrus.WithFields(logrus.Fields{"user_id": userID, "principal": amount}).Info("loan disbursed")
	}
	return result, nil
}

// RepayLoan debits up to the outstanding amount; the loan closes at zero.
func (s *LoanService) RepayLoan(ctx context.Context, userID, amount int64, idempotencyKey string) (result *LoanResult, err error) {
	started := time.Now()
	defer func() {
		metrics.ObserveOperation("repay_loan", outcome(err, result != nil && result.Replayed), started)
	}()

	if amount <= 0 {
		return nil, model.ErrInvalidAmount
	}
	if idempotencyKey == "" {
		return nil, model.ErrInvalidRequest
	}

	key := "loan:" + idempotencyKey + ":repay"
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.accountRepo.GetByUserIDForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		prior, err := s.ledgerRepo.GetByIdempotencyKey(ctx, tx, userID, key)
		if err != nil {
			return fmt.Errorf("check idempotency key: %w", err)
		}
		if prior != nil {
			loan, err := s.loanRepo.GetActive(ctx, tx, userID)
			if err != nil {
				return err
			}
			result = &LoanResult{Loan: loan, NewBalance: prior.BalanceAfter, Replayed: true}
			return nil
		}

		loan, err := s.loanRepo.GetActive(ctx, tx, userID)
		if err != nil {
			return fmt.Errorf("load loan: %w", err)
		}
		if loan == nil {
			return model.ErrNoActiveLoan
		}
		if amount > loan.Outstanding {
			amount = loan.Outstanding
		}

		entry, err := s.book.post(ctx, tx, posting{
			account:   account,
			action:    model.ActionLoanRepayment,
			amount:    -amount,
			key:       key,
			reference: strconv.FormatInt(loan.ID, 10),
		})
		if err != nil {
			return err
		}
		if err := s.loanRepo.Repay(ctx, tx, loan, amount); err != nil {
			return stateErr(err)
		}
		if err := s.emitLoan(ctx, tx, loan); err != nil {
			return err
		}
		result = &LoanResult{Loan: loan, NewBalance: entry.BalanceAfter}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.Replayed {
		logrus.WithFields(logrus.Fields{
			"user_id":     userID,
			"repaid":      amount,
			"outstanding": result.Loan.Outstanding,
		}).Info("loan repayment")
	}
	return result, nil
}

// GetLoan returns the active loan, or nil when there is none.
func (s *LoanService) GetLoan(ctx context.Context, userID int64) (*model.CreditLoan, error) {
	return s.loanRepo.GetActive(ctx, nil, userID)
}

func (s *LoanService) emitLoan(ctx context.Context, tx *gorm.DB, loan *model.CreditLoan) error {
	return s.book.emit(ctx, tx, s.cfg.Kafka.Topic.Ledger, strconv.FormatInt(loan.UserID, 10), model.EventLoanChanged, map[string]interface{}{
		"loan_id":     loan.ID,
		"user_id":     loan.UserID,
		"principal":   loan.Principal,
		"outstanding": loan.Outstanding,
		"status":      loan.Status,
	})
}
