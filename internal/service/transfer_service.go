package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"creditsystem/internal/config"
	"creditsystem/internal/metrics"
	"creditsystem/internal/model"
	"creditsystem/internal/repository"
	"creditsystem/pkg/idgen"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type TransferService struct {
	db           *gorm.DB
	cfg          *config.Config
	book         *bookkeeper
	accountRepo  *repository.AccountRepository
	ledgerRepo   *repository.LedgerRepository
	transferRepo *repository.TransferRepository
}

func NewTransferService(db *gorm.DB, cfg *config.Config) *TransferService {
	return &TransferService{
		db:           db,
		cfg:          cfg,
		book:         newBookkeeper(db),
		accountRepo:  repository.NewAccountRepository(db),
		ledgerRepo:   repository.NewLedgerRepository(db),
		transferRepo: repository.NewTransferRepository(db),
	}
}

type TransferRequest struct {
	SenderID       int64  `json:"sender_id" validate:"required"`
	RecipientID    int64  `json:"recipient_id" validate:"required"`
	Amount         int64  `json:"amount"`
	Category       string `json:"category" validate:"required,oneof=tip gift boost"`
	Note           string `json:"note" validate:"max=256"`
	IdempotencyKey string `json:"idempotency_key" validate:"required,max=128"`
}

type TransferResult struct {
	TransferID       string `json:"transfer_id"`
	TransferNo       string `json:"transfer_no"`
	Amount           int64  `json:"amount"`
	Fee              int64  `json:"fee"`
	SenderNewBalance int64  `json:"sender_new_balance"`
	Replayed         bool   `json:"replayed"`
}

// Fee returns the category fee for amount, rounded down.
func (s *TransferService) Fee(category string, amount int64) int64 {
	return amount * s.cfg.Economy.FeeBps(category) / 10000
}

// Transfer moves credits between two accounts. The recipient receives
// amount minus the category fee; the fee is credited to the treasury, so the
// three balances together are unchanged.
func (s *TransferService) Transfer(ctx context.Context, req *TransferRequest) (result *TransferResult, err error) {
	started := time.Now()
	defer func() {
		metrics.ObserveOperation("transfer", outcome(err, result != nil && result.Replayed), started)
	}()

	if req.Amount <= 0 {
		return nil, model.ErrInvalidAmount
	}
	if req.SenderID == req.RecipientID {
		return nil, model.ErrSelfTransferNotAllowed
	}
	if err := validate.Struct(req); err != nil {
		return nil, validationErr(err)
	}

	fee := s.Fee(req.Category, req.Amount)
	treasuryID := s.cfg.Economy.TreasuryUserID

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ids := []int64{req.SenderID, req.RecipientID}
		if fee > 0 {
			ids = append(ids, treasuryID)
		}
		accounts, err := s.accountRepo.LockMany(ctx, tx, ids...)
		if err != nil {
			return err
		}

		prior, err := s.transferRepo.GetBySenderKey(ctx, tx, req.SenderID, req.IdempotencyKey)
		if err != nil {
			return fmt.Errorf("check idempotency key: %w", err)
		}
		if prior != nil {
			result, err = s.replay(ctx, tx, prior)
			return err
		}

		record := &model.TransferRecord{
			ID:             uuid.NewString(),
			TransferNo:     idgen.GenerateTransferNo(),
			SenderID:       req.SenderID,
			RecipientID:    req.RecipientID,
			Amount:         req.Amount,
			Fee:            fee,
			Category:       req.Category,
			Note:           req.Note,
			IdempotencyKey: req.IdempotencyKey,
		}
		meta := map[string]interface{}{
			"transfer_no": record.TransferNo,
			"category":    req.Category,
		}

		debit, err := s.book.post(ctx, tx, posting{
			account:   accounts[req.SenderID],
			action:    model.ActionTransferOut,
			amount:    -req.Amount,
			key:       "transfer:" + record.ID + ":out",
			reference: record.ID,
			metadata:  withField(meta, "recipient_id", req.RecipientID),
		})
		if err != nil {
			return err
		}
		credit, err := s.book.post(ctx, tx, posting{
			account:   accounts[req.RecipientID],
			action:    model.ActionTransferIn,
			amount:    req.Amount - fee,
			key:       "transfer:" + record.ID + ":in",
			reference: record.ID,
			metadata:  withField(meta, "sender_id", req.SenderID),
			earnEvent: true,
		})
		if err != nil {
			return err
		}
		if fee > 0 {
			if _, err := s.book.post(ctx, tx, posting{
				account:   accounts[treasuryID],
				action:    model.ActionTransferFee,
				amount:    fee,
				key:       "transfer:" + record.ID + ":fee",
				reference: record.ID,
				metadata:  meta,
			}); err != nil {
				return err
			}
		}

		record.DebitEntryID = debit.ID
		record.CreditEntryID = credit.ID
		if err := s.transferRepo.Create(ctx, tx, record); err != nil {
			return err
		}

		if err := s.book.emit(ctx, tx, s.cfg.Kafka.Topic.Transfer, record.ID, model.EventTransferCompleted, map[string]interface{}{
			"transfer_id":  record.ID,
			"transfer_no":  record.TransferNo,
			"sender_id":    req.SenderID,
			"recipient_id": req.RecipientID,
			"amount":       req.Amount,
			"fee":          fee,
			"category":     req.Category,
			"note":         req.Note,
		}); err != nil {
			return err
		}

		result = &TransferResult{
			TransferID:       record.ID,
			TransferNo:       record.TransferNo,
			Amount:           req.Amount,
			Fee:              fee,
			SenderNewBalance: debit.BalanceAfter,
		}
		return nil
	})

	if errors.Is(err, repository.ErrDuplicateKey) {
		prior, lookupErr := s.transferRepo.GetBySenderKey(ctx, nil, req.SenderID, req.IdempotencyKey)
		if lookupErr == nil && prior != nil {
			result, err = s.replay(ctx, nil, prior)
		}
	}
	if err != nil {
		return nil, err
	}

	if !result.Replayed {
		logrus.WithFields(logrus.Fields{
			"transfer_no":  result.TransferNo,
			"sender_id":    req.SenderID,
			"recipient_id": req.RecipientID,
			"amount":       req.Amount,
			"fee":          fee,
		}).Info("transfer completed")
	}
	return result, nil
}

func (s *TransferService) replay(ctx context.Context, tx *gorm.DB, record *model.TransferRecord) (*TransferResult, error) {
	debit, err := s.ledgerRepo.GetByID(ctx, tx, record.DebitEntryID)
	if err != nil {
		return nil, fmt.Errorf("load transfer debit: %w", err)
	}
	return &TransferResult{
		TransferID:       record.ID,
		TransferNo:       record.TransferNo,
		Amount:           record.Amount,
		Fee:              record.Fee,
		SenderNewBalance: debit.BalanceAfter,
		Replayed:         true,
	}, nil
}

func (s *TransferService) ListTransfers(ctx context.Context, userID int64, page, pageSize int) ([]*model.TransferRecord, int64, error) {
	page, pageSize = normalizePage(page, pageSize)
	return s.transferRepo.ListByUserID(ctx, userID, page, pageSize)
}

func withField(base map[string]interface{}, key string, value interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+1)
	for k, v := range base {
		out[k] = v
	}
	out[key] = value
	return out
}
