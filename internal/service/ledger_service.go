package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"creditsystem/internal/config"
	"creditsystem/internal/infrastructure/cache"
	"creditsystem/internal/metrics"
	"creditsystem/internal/model"
	"creditsystem/internal/repository"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// LedgerService is the transaction coordinator for single-account credit
// movements requested by other modules.
type LedgerService struct {
	db          *gorm.DB
	cfg         *config.Config
	book        *bookkeeper
	accountRepo *repository.AccountRepository
	ledgerRepo  *repository.LedgerRepository
	listingRepo *repository.ListingRepository
	replay      *cache.ReplayCache
}

// NewLedgerService wires the service; replay may be nil.
func NewLedgerService(db *gorm.DB, cfg *config.Config, replay *cache.ReplayCache) *LedgerService {
	return &LedgerService{
		db:          db,
		cfg:         cfg,
		book:        newBookkeeper(db),
		accountRepo: repository.NewAccountRepository(db),
		ledgerRepo:  repository.NewLedgerRepository(db),
		listingRepo: repository.NewListingRepository(db),
		replay:      replay,
	}
}

type ChargeRequest struct {
	UserID         int64                  `json:"user_id" validate:"required"`
	Action         string                 `json:"action" validate:"required,max=64"`
	Amount         int64                  `json:"amount"`
	IdempotencyKey string                 `json:"idempotency_key" validate:"required,max=128"`
	Reference      string                 `json:"reference" validate:"max=64"`
	Metadata       map[string]interface{} `json:"metadata"`
}

type EarnRequest ChargeRequest

type PostResult struct {
	EntryID    int64  `json:"entry_id"`
	EntryNo    string `json:"entry_no"`
	NewBalance int64  `json:"new_balance"`
	Replayed   bool   `json:"replayed"`
}

func replayOf(entry *model.LedgerEntry) *PostResult {
	return &PostResult{
		EntryID:    entry.ID,
		EntryNo:    entry.EntryNo,
		NewBalance: entry.BalanceAfter,
		Replayed:   true,
	}
}

// Charge debits amount from the account's available balance. A repeated
// idempotency key returns the first result without touching the balance.
func (s *LedgerService) Charge(ctx context.Context, req *ChargeRequest) (*PostResult, error) {
	return s.apply(ctx, "charge", req, -req.Amount, false, model.EventCreditsCharged)
}

// Earn credits amount. There is no floor check; an earn event is recorded
// for the client feed.
func (s *LedgerService) Earn(ctx context.Context, req *EarnRequest) (*PostResult, error) {
	return s.apply(ctx, "earn", (*ChargeRequest)(req), req.Amount, true, model.EventCreditsEarned)
}

func (s *LedgerService) apply(ctx context.Context, op string, req *ChargeRequest, amount int64, earn bool, eventType string) (result *PostResult, err error) {
	started := time.Now()
	defer func() {
		metrics.ObserveOperation(op, outcome(err, result != nil && result.Replayed), started)
	}()

	if req.Amount <= 0 {
		return nil, model.ErrInvalidAmount
	}
	if err := validate.Struct(req); err != nil {
		return nil, validationErr(err)
	}

	cacheKey := cache.Key("ledger", req.UserID, req.IdempotencyKey)
	var cached PostResult
	if s.replay.Load(ctx, cacheKey, &cached) {
		cached.Replayed = true
		return &cached, nil
	}

	key := clientKey(req.IdempotencyKey)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.accountRepo.GetByUserIDForUpdate(ctx, tx, req.UserID)
		if err != nil {
			return err
		}

		prior, err := s.ledgerRepo.GetByIdempotencyKey(ctx, tx, req.UserID, key)
		if err != nil {
			return fmt.Errorf("check idempotency key: %w", err)
		}
		if prior != nil {
			result = replayOf(prior)
			return nil
		}

		entry, err := s.book.post(ctx, tx, posting{
			account:   account,
			action:    req.Action,
			amount:    amount,
			key:       key,
			reference: req.Reference,
			metadata:  req.Metadata,
			earnEvent: earn,
		})
		if err != nil {
			return err
		}

		if err := s.book.emit(ctx, tx, s.cfg.Kafka.Topic.Ledger, strconv.FormatInt(req.UserID, 10), eventType, map[string]interface{}{
			"user_id":       req.UserID,
			"entry_no":      entry.EntryNo,
			"action":        entry.Action,
			"amount":        entry.Amount,
			"balance_after": entry.BalanceAfter,
		}); err != nil {
			return err
		}

		result = &PostResult{
			EntryID:    entry.ID,
			EntryNo:    entry.EntryNo,
			NewBalance: entry.BalanceAfter,
		}
		return nil
	})

	// the unique index caught a concurrent writer with the same key
	if errors.Is(err, repository.ErrDuplicateKey) {
		prior, lookupErr := s.ledgerRepo.GetByIdempotencyKey(ctx, nil, req.UserID, key)
		if lookupErr == nil && prior != nil {
			result, err = replayOf(prior), nil
		}
	}
	if err != nil {
		return nil, err
	}

	if !result.Replayed {
		logrus.WithFields(logrus.Fields{
			"op":          op,
			"user_id":     req.UserID,
			"action":      req.Action,
			"amount":      amount,
			"new_balance": result.NewBalance,
		}).Info("ledger entry posted")
	}
	s.replay.Store(ctx, cacheKey, result)
	return result, nil
}

// GetBalance reads the projection.
func (s *LedgerService) GetBalance(ctx context.Context, userID int64) (int64, error) {
	account, err := s.accountRepo.GetByUserID(ctx, nil, userID)
	if err != nil {
		return 0, err
	}
	return account.Balance, nil
}

func (s *LedgerService) GetAccount(ctx context.Context, userID int64) (*model.Account, error) {
	return s.accountRepo.GetByUserID(ctx, nil, userID)
}

func (s *LedgerService) ListEntries(ctx context.Context, userID int64, page, pageSize int) ([]*model.LedgerEntry, int64, error) {
	page, pageSize = normalizePage(page, pageSize)
	return s.ledgerRepo.ListByUserID(ctx, userID, page, pageSize)
}

func (s *LedgerService) ListEarnEvents(ctx context.Context, userID int64, unseenOnly bool, limit int) ([]*model.EarnEvent, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.ledgerRepo.ListEarnEvents(ctx, userID, unseenOnly, limit)
}

// MarkEarnEventsSeen marks the given events (all unseen ones when ids is
// empty) as shown to the user.
func (s *LedgerService) MarkEarnEventsSeen(ctx context.Context, userID int64, ids []int64) (int64, error) {
	return s.ledgerRepo.MarkEarnEventsSeen(ctx, userID, ids)
}

// Reconciliation compares the projection of one account with its ledger and
// its active auction holds.
type Reconciliation struct {
	UserID     int64 `json:"user_id"`
	Balance    int64 `json:"balance"`
	LedgerSum  int64 `json:"ledger_sum"`
	Reserved   int64 `json:"reserved"`
	HeldSum    int64 `json:"held_sum"`
	Consistent bool  `json:"consistent"`
}

func (s *LedgerService) Reconcile(ctx context.Context, userID int64) (*Reconciliation, error) {
	var rec *Reconciliation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.accountRepo.GetByUserID(ctx, tx, userID)
		if err != nil {
			return err
		}
		sum, err := s.ledgerRepo.SumByUserID(ctx, tx, userID)
		if err != nil {
			return fmt.Errorf("sum ledger: %w", err)
		}
		held, err := s.listingRepo.SumActiveHolds(ctx, tx, userID)
		if err != nil {
			return fmt.Errorf("sum holds: %w", err)
		}
		rec = &Reconciliation{
			UserID:     userID,
			Balance:    account.Balance,
			LedgerSum:  sum,
			Reserved:   account.Reserved,
			HeldSum:    held,
			Consistent: account.Balance == sum && account.Reserved == held,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ReconcileAll walks every account and returns the inconsistent ones.
func (s *LedgerService) ReconcileAll(ctx context.Context, batchSize int) (int, []*Reconciliation, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	var (
		checked    int
		mismatched []*Reconciliation
		after      int64 = math.MinInt64
	)
	for {
		ids, err := s.accountRepo.ListUserIDs(ctx, after, batchSize)
		if err != nil {
			return checked, mismatched, fmt.Errorf("list accounts: %w", err)
		}
		if len(ids) == 0 {
			return checked, mismatched, nil
		}
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return checked, mismatched, err
			}
			rec, err := s.Reconcile(ctx, id)
			if err != nil {
				return checked, mismatched, fmt.Errorf("reconcile %d: %w", id, err)
			}
			checked++
			if !rec.Consistent {
				mismatched = append(mismatched, rec)
			}
		}
		after = ids[len(ids)-1]
	}
}

// RebuildProjection recomputes the balance columns of one account by
// replaying its ledger and active holds.
func (s *LedgerService) RebuildProjection(ctx context.Context, userID int64) (*model.Account, error) {
	var account *model.Account
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		account, err = s.accountRepo.GetByUserIDForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		sum, err := s.ledgerRepo.SumByUserID(ctx, tx, userID)
		if err != nil {
			return fmt.Errorf("sum ledger: %w", err)
		}
		earned, spent, err := s.ledgerRepo.Totals(ctx, tx, userID)
		if err != nil {
			return fmt.Errorf("ledger totals: %w", err)
		}
		held, err := s.listingRepo.SumActiveHolds(ctx, tx, userID)
		if err != nil {
			return fmt.Errorf("sum holds: %w", err)
		}

		if account.Balance != sum || account.Reserved != held {
			logrus.WithFields(logrus.Fields{
				"user_id":    userID,
				"balance":    account.Balance,
				"ledger_sum": sum,
				"reserved":   account.Reserved,
				"held_sum":   held,
			}).Warn("rebuilding drifted projection")
		}

		account.Balance = sum
		account.Reserved = held
		account.LifetimeEarned = earned
		account.LifetimeSpent = spent
		return stateErr(s.accountRepo.SaveProjection(ctx, tx, account))
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}
