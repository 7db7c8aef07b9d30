package service

import (
	"context"
	"fmt"
	"strconv"

	"creditsystem/internal/config"
	"creditsystem/internal/model"
	"creditsystem/internal/repository"
	"creditsystem/internal/wealth"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// openingGrantKey is the idempotency key of the starting grant entry.
const openingGrantKey = "opening-grant"

type AccountService struct {
	db          *gorm.DB
	cfg         *config.Config
	book        *bookkeeper
	accountRepo *repository.AccountRepository
	ledgerRepo  *repository.LedgerRepository
	tiers       *wealth.Calculator
}

func NewAccountService(db *gorm.DB, cfg *config.Config, tiers *wealth.Calculator) *AccountService {
	return &AccountService{
		db:          db,
		cfg:         cfg,
		book:        newBookkeeper(db),
		accountRepo: repository.NewAccountRepository(db),
		ledgerRepo:  repository.NewLedgerRepository(db),
		tiers:       tiers,
	}
}

// OpenAccount creates the account and posts the starting grant as its first
// ledger entry. Calling it again for the same user changes nothing.
func (s *AccountService) OpenAccount(ctx context.Context, userID int64) (*model.Account, error) {
	if userID <= 0 {
		return nil, model.ErrInvalidRequest
	}

	var account *model.Account
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.accountRepo.CreateIfAbsent(ctx, tx, userID); err != nil {
			return fmt.Errorf("create account: %w", err)
		}
		var err error
		account, err = s.accountRepo.GetByUserIDForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}

		grant := s.cfg.Economy.StartingGrant
		if grant <= 0 || userID == s.cfg.Economy.TreasuryUserID {
			return nil
		}
		prior, err := s.ledgerRepo.GetByIdempotencyKey(ctx, tx, userID, openingGrantKey)
		if err != nil {
			return fmt.Errorf("check opening grant: %w", err)
		}
		if prior != nil {
			return nil
		}

		entry, err := s.book.post(ctx, tx, posting{
			account:   account,
			action:    model.ActionOpeningGrant,
			amount:    grant,
			key:       openingGrantKey,
			earnEvent: true,
		})
		if err != nil {
			return err
		}
		return s.book.emit(ctx, tx, s.cfg.Kafka.Topic.Ledger, strconv.FormatInt(userID, 10), model.EventCreditsEarned, map[string]interface{}{
			"user_id":       userID,
			"entry_no":      entry.EntryNo,
			"action":        entry.Action,
			"amount":        entry.Amount,
			"balance_after": entry.BalanceAfter,
		})
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{"user_id": userID, "balance": account.Balance}).Info("account opened")
	return account, nil
}

// EnsureTreasury creates the account that collects transfer and marketplace
// fees. It gets no starting grant.
func (s *AccountService) EnsureTreasury(ctx context.Context) error {
	if err := s.accountRepo.CreateIfAbsent(ctx, nil, s.cfg.Economy.TreasuryUserID); err != nil {
		return fmt.Errorf("create treasury account: %w", err)
	}
	return nil
}

func (s *AccountService) GetAccount(ctx context.Context, userID int64) (*model.Account, error) {
	return s.accountRepo.GetByUserID(ctx, nil, userID)
}

func (s *AccountService) Freeze(ctx context.Context, userID int64) error {
	if err := s.accountRepo.UpdateStatus(ctx, userID, model.AccountStatusFrozen); err != nil {
		return err
	}
	logrus.WithField("user_id", userID).Warn("account frozen")
	return nil
}

func (s *AccountService) Unfreeze(ctx context.Context, userID int64) error {
	if err := s.accountRepo.UpdateStatus(ctx, userID, model.AccountStatusActive); err != nil {
		return err
	}
	logrus.WithField("user_id", userID).Info("account unfrozen")
	return nil
}

// GetWealthTier derives the tier from the current balance on every call.
func (s *AccountService) GetWealthTier(ctx context.Context, userID int64) (*wealth.TierInfo, error) {
	account, err := s.accountRepo.GetByUserID(ctx, nil, userID)
	if err != nil {
		return nil, err
	}
	info := s.tiers.Describe(account.Balance)
	return &info, nil
}
