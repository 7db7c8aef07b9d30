package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"creditsystem/internal/model"
	"creditsystem/internal/repository"
	"creditsystem/pkg/idgen"

	"github.com/go-playground/validator/v10"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var validate = validator.New()

// clientKeyScope prefixes idempotency keys chosen by callers. Keys the
// service derives for its own postings (opening-grant, listing:, transfer:,
// trade:, loan:) never carry it, so a caller cannot replay or block them.
const clientKeyScope = "client:"

func clientKey(key string) string {
	return clientKeyScope + key
}

// posting is one ledger leg applied to an account row the caller has
// already locked in tx.
type posting struct {
	account   *model.Account
	action    string
	amount    int64 // signed
	key       string
	reference string
	metadata  map[string]interface{}
	// releaseHold is taken off reserved before the floor check; used when an
	// auction hold turns into the actual debit.
	releaseHold int64
	earnEvent   bool
}

// bookkeeper is the only writer of ledger entries and the balance
// projection. Every method must run inside a transaction holding the row
// lock of each account it touches.
type bookkeeper struct {
	accountRepo *repository.AccountRepository
	ledgerRepo  *repository.LedgerRepository
	outboxRepo  *repository.OutboxRepository
}

func newBookkeeper(db *gorm.DB) *bookkeeper {
	return &bookkeeper{
		accountRepo: repository.NewAccountRepository(db),
		ledgerRepo:  repository.NewLedgerRepository(db),
		outboxRepo:  repository.NewOutboxRepository(db),
	}
}

// post appends the entry and writes the projection in the same transaction.
func (b *bookkeeper) post(ctx context.Context, tx *gorm.DB, p posting) (*model.LedgerEntry, error) {
	account := p.account
	if account.IsFrozen() {
		return nil, model.ErrAccountFrozen
	}
	if p.releaseHold < 0 || p.releaseHold > account.Reserved {
		return nil, fmt.Errorf("release %d of reserved %d: %w", p.releaseHold, account.Reserved, model.ErrStateChanged)
	}
	if p.amount < 0 && account.Available()+p.releaseHold < -p.amount {
		return nil, model.ErrInsufficientFunds
	}
	if p.amount > 0 && (account.Balance > math.MaxInt64-p.amount || account.LifetimeEarned > math.MaxInt64-p.amount) {
		return nil, fmt.Errorf("credit %d overflows balance %d: %w", p.amount, account.Balance, model.ErrInvalidAmount)
	}

	var meta datatypes.JSON
	if len(p.metadata) > 0 {
		raw, err := json.Marshal(p.metadata)
		if err != nil {
			return nil, fmt.Errorf("encode metadata: %w", model.ErrInvalidRequest)
		}
		meta = raw
	}

	account.Reserved -= p.releaseHold
	account.Balance += p.amount
	if p.amount > 0 {
		account.LifetimeEarned += p.amount
	} else {
		account.LifetimeSpent -= p.amount
	}

	entry := &model.LedgerEntry{
		EntryNo:        idgen.GenerateEntryNo(),
		UserID:         account.UserID,
		Action:         p.action,
		Amount:         p.amount,
		BalanceAfter:   account.Balance,
		IdempotencyKey: p.key,
		Reference:      p.reference,
		Metadata:       meta,
	}
	if err := b.ledgerRepo.Append(ctx, tx, entry); err != nil {
		return nil, err
	}
	if err := b.accountRepo.SaveProjection(ctx, tx, account); err != nil {
		return nil, stateErr(err)
	}

	if p.earnEvent && p.amount > 0 {
		event := &model.EarnEvent{
			UserID:        account.UserID,
			LedgerEntryID: entry.ID,
			Action:        p.action,
			Amount:        p.amount,
		}
		if err := b.ledgerRepo.CreateEarnEvent(ctx, tx, event); err != nil {
			return nil, fmt.Errorf("record earn event: %w", err)
		}
	}
	return entry, nil
}

// reserve moves delta credits into (delta > 0) or out of (delta < 0) the
// account's reserved amount. Nothing is written to the ledger.
func (b *bookkeeper) reserve(ctx context.Context, tx *gorm.DB, account *model.Account, delta int64) error {
	if delta > 0 {
		if account.IsFrozen() {
			return model.ErrAccountFrozen
		}
		if account.Available() < delta {
			return model.ErrInsufficientFunds
		}
	}
	if account.Reserved+delta < 0 {
		return fmt.Errorf("release %d of reserved %d: %w", -delta, account.Reserved, model.ErrStateChanged)
	}
	account.Reserved += delta
	return stateErr(b.accountRepo.SaveProjection(ctx, tx, account))
}

func (b *bookkeeper) emit(ctx context.Context, tx *gorm.DB, topic, key, eventType string, payload map[string]interface{}) error {
	msg, err := model.NewOutboxMessage(topic, key, eventType, payload)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", eventType, err)
	}
	if err := b.outboxRepo.Create(ctx, tx, msg); err != nil {
		return fmt.Errorf("write outbox: %w", err)
	}
	return nil
}

// stateErr maps a lost version race to the retryable error kind.
func stateErr(err error) error {
	if errors.Is(err, repository.ErrOptimisticLock) {
		return model.ErrStateChanged
	}
	return err
}

// outcome is the metrics label for an operation result.
func outcome(err error, replayed bool) string {
	switch {
	case err == nil && replayed:
		return "replayed"
	case err == nil:
		return "ok"
	}
	for _, kind := range []error{
		model.ErrInsufficientFunds,
		model.ErrAccountFrozen,
		model.ErrAccountNotFound,
		model.ErrListingAlreadySold,
		model.ErrStateChanged,
		model.ErrTradePreconditionFailed,
	} {
		if errors.Is(err, kind) {
			return kind.Error()
		}
	}
	return "error"
}

func validationErr(err error) error {
	return fmt.Errorf("%w: %v", model.ErrInvalidRequest, err)
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}
