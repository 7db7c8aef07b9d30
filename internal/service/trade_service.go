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

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type TradeService struct {
	db          *gorm.DB
	cfg         *config.Config
	book        *bookkeeper
	accountRepo *repository.AccountRepository
	tradeRepo   *repository.TradeRepository
	listingRepo *repository.ListingRepository
	inventory   Inventory
	market      *MarketplaceService
	now         func() time.Time
}

func NewTradeService(db *gorm.DB, cfg *config.Config, inventory Inventory, market *MarketplaceService) *TradeService {
	return &TradeService{
		db:          db,
		cfg:         cfg,
		book:        newBookkeeper(db),
		accountRepo: repository.NewAccountRepository(db),
		tradeRepo:   repository.NewTradeRepository(db),
		listingRepo: repository.NewListingRepository(db),
		inventory:   inventory,
		market:      market,
		now:         time.Now,
	}
}

type CreateTradeRequest struct {
	InitiatorID      int64    `json:"initiator_id" validate:"required"`
	ReceiverID       int64    `json:"receiver_id" validate:"required"`
	InitiatorItems   []string `json:"initiator_items" validate:"max=20,dive,required,max=64"`
	InitiatorCredits int64    `json:"initiator_credits"`
	ReceiverItems    []string `json:"receiver_items" validate:"max=20,dive,required,max=64"`
	ReceiverCredits  int64    `json:"receiver_credits"`
	Message          string   `json:"message" validate:"max=256"`
}

// ValueImbalance compares the estimated value each side gives up. It is
// informational and never blocks a trade.
type ValueImbalance struct {
	InitiatorValue int64   `json:"initiator_value"`
	ReceiverValue  int64   `json:"receiver_value"`
	Ratio          float64 `json:"ratio"`
	Warning        bool    `json:"warning"`
}

type TradeResult struct {
	Trade     *model.TradeRequest `json:"trade"`
	Imbalance *ValueImbalance     `json:"imbalance"`
}

type preconditionError struct {
	reason string
}

func (e *preconditionError) Error() string {
	return model.ErrTradePreconditionFailed.Error() + ": " + e.reason
}

func (e *preconditionError) Unwrap() error {
	return model.ErrTradePreconditionFailed
}

func failPrecondition(format string, args ...interface{}) error {
	return &preconditionError{reason: fmt.Sprintf(format, args...)}
}

// CreateTrade records a proposal. No credits or items move and nothing is
// reserved; everything is checked again on accept.
func (s *TradeService) CreateTrade(ctx context.Context, req *CreateTradeRequest) (*TradeResult, error) {
	if req.InitiatorCredits < 0 || req.ReceiverCredits < 0 {
		return nil, model.ErrInvalidAmount
	}
	if err := validate.Struct(req); err != nil {
		return nil, validationErr(err)
	}
	if req.InitiatorID == req.ReceiverID {
		return nil, fmt.Errorf("cannot trade with yourself: %w", model.ErrInvalidRequest)
	}
	if len(req.InitiatorItems) == 0 && len(req.ReceiverItems) == 0 && req.InitiatorCredits == 0 && req.ReceiverCredits == 0 {
		return nil, fmt.Errorf("trade is empty: %w", model.ErrInvalidRequest)
	}
	seen := make(map[string]bool)
	for _, ref := range append(append([]string{}, req.InitiatorItems...), req.ReceiverItems...) {
		if seen[ref] {
			return nil, fmt.Errorf("item %s listed twice: %w", ref, model.ErrInvalidRequest)
		}
		seen[ref] = true
	}

	trade := &model.TradeRequest{
		InitiatorID:      req.InitiatorID,
		ReceiverID:       req.ReceiverID,
		InitiatorCredits: req.InitiatorCredits,
		ReceiverCredits:  req.ReceiverCredits,
		Message:          req.Message,
		Status:           model.TradeStatusPending,
		ExpiresAt:        s.now().Add(s.cfg.Trade.Duration),
	}
	for _, ref := range req.InitiatorItems {
		trade.Items = append(trade.Items, model.TradeItem{Side: model.TradeSideInitiator, ItemRef: ref})
	}
	for _, ref := range req.ReceiverItems {
		trade.Items = append(trade.Items, model.TradeItem{Side: model.TradeSideReceiver, ItemRef: ref})
	}

	var imbalance *ValueImbalance
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		initiator, err := s.accountRepo.GetByUserID(ctx, tx, req.InitiatorID)
		if err != nil {
			return err
		}
		if initiator.IsFrozen() {
			return model.ErrAccountFrozen
		}
		if _, err := s.accountRepo.GetByUserID(ctx, tx, req.ReceiverID); err != nil {
			return err
		}
		if initiator.Available() < req.InitiatorCredits {
			return model.ErrInsufficientFunds
		}
		for _, ref := range req.InitiatorItems {
			owner, err := s.inventory.OwnerOf(ctx, tx, ref)
			if err != nil {
				return err
			}
			if owner != req.InitiatorID {
				return fmt.Errorf("item %s: %w", ref, model.ErrItemNotOwned)
			}
		}

		if imbalance, err = s.imbalance(ctx, tx, trade); err != nil {
			return err
		}
		return s.tradeRepo.Create(ctx, tx, trade)
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"trade_id":     trade.ID,
		"initiator_id": trade.InitiatorID,
		"receiver_id":  trade.ReceiverID,
		"imbalanced":   imbalance.Warning,
	}).Info("trade proposed")
	return &TradeResult{Trade: trade, Imbalance: imbalance}, nil
}

func (s *TradeService) imbalance(ctx context.Context, tx *gorm.DB, trade *model.TradeRequest) (*ValueImbalance, error) {
	sideValue := func(side string, credits int64) (int64, error) {
		total := credits
		for _, ref := range trade.ItemsFor(side) {
			v, err := s.inventory.EstimatedValue(ctx, tx, ref)
			if err != nil {
				return 0, err
			}
			total += v
		}
		return total, nil
	}

	a, err := sideValue(model.TradeSideInitiator, trade.InitiatorCredits)
	if err != nil {
		return nil, err
	}
	b, err := sideValue(model.TradeSideReceiver, trade.ReceiverCredits)
	if err != nil {
		return nil, err
	}
	return computeImbalance(a, b, s.cfg.Trade.ImbalanceWarningRatio), nil
}

// computeImbalance returns |a-b| / max(a,b) and whether it exceeds threshold.
func computeImbalance(a, b int64, threshold float64) *ValueImbalance {
	out := &ValueImbalance{InitiatorValue: a, ReceiverValue: b}
	hi, diff := a, a-b
	if b > hi {
		hi = b
	}
	if diff < 0 {
		diff = -diff
	}
	if hi > 0 {
		out.Ratio = float64(diff) / float64(hi)
	}
	out.Warning = out.Ratio > threshold
	return out
}

// AcceptTrade settles a pending trade. Ownership and credits are checked
// again under lock; if anything no longer holds, nothing moves and the trade
// is marked FAILED.
func (s *TradeService) AcceptTrade(ctx context.Context, tradeID string, actingUserID int64) (result *TradeResult, err error) {
	started := time.Now()
	defer func() { metrics.ObserveOperation("accept_trade", outcome(err, false), started) }()

	trade, err := s.tradeRepo.GetByID(ctx, nil, tradeID)
	if err != nil {
		return nil, err
	}
	if trade.ReceiverID != actingUserID {
		return nil, model.ErrUnauthorized
	}
	if trade.Status != model.TradeStatusPending {
		return nil, model.ErrTradeNotPending
	}
	if trade.IsExpired(s.now()) {
		s.expireOnAccept(ctx, tradeID)
		return nil, model.ErrTradeExpired
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := s.tradeRepo.GetByID(ctx, tx, tradeID)
		if err != nil {
			return err
		}
		if t.Status != model.TradeStatusPending {
			return model.ErrTradeNotPending
		}
		// the deadline may pass between the check above and the row lock
		if t.IsExpired(s.now()) {
			return model.ErrTradeExpired
		}

		// active listings on the traded items are cancelled below; their
		// hold owners join the lock set so every row is taken in id order
		var listings []*model.Listing
		lockIDs := []int64{t.InitiatorID, t.ReceiverID}
		for _, it := range t.Items {
			active, err := s.listingRepo.GetActiveByItem(ctx, tx, it.ItemRef)
			if err != nil {
				return fmt.Errorf("load listings: %w", err)
			}
			for _, l := range active {
				hold, err := s.listingRepo.GetActiveHold(ctx, tx, l.ID)
				if err != nil {
					return fmt.Errorf("load hold: %w", err)
				}
				if hold != nil {
					lockIDs = append(lockIDs, hold.UserID)
				}
			}
			listings = append(listings, active...)
		}

		accounts, err := s.accountRepo.LockMany(ctx, tx, lockIDs...)
		if err != nil {
			return err
		}
		initiator, receiver := accounts[t.InitiatorID], accounts[t.ReceiverID]
		if initiator.IsFrozen() || receiver.IsFrozen() {
			return model.ErrAccountFrozen
		}

		moves := []struct {
			side     string
			from, to int64
		}{
			{model.TradeSideInitiator, t.InitiatorID, t.ReceiverID},
			{model.TradeSideReceiver, t.ReceiverID, t.InitiatorID},
		}
		for _, m := range moves {
			for _, ref := range t.ItemsFor(m.side) {
				owner, err := s.inventory.OwnerOf(ctx, tx, ref)
				if errors.Is(err, model.ErrItemNotFound) || (err == nil && owner != m.from) {
					return failPrecondition("item %s is no longer owned by user %d", ref, m.from)
				}
				if err != nil {
					return err
				}
			}
		}
		if initiator.Available() < t.InitiatorCredits {
			return failPrecondition("user %d no longer has %d credits available", t.InitiatorID, t.InitiatorCredits)
		}
		if receiver.Available() < t.ReceiverCredits {
			return failPrecondition("user %d no longer has %d credits available", t.ReceiverID, t.ReceiverCredits)
		}

		imbalance, err := s.imbalance(ctx, tx, t)
		if err != nil {
			return err
		}

		for _, l := range listings {
			if err := s.market.closeListing(ctx, tx, l, model.ListingStatusCancelled, accounts); err != nil {
				return fmt.Errorf("cancel listing %s: %w", l.ID, err)
			}
		}
		for _, m := range moves {
			for _, ref := range t.ItemsFor(m.side) {
				if err := s.inventory.TransferItem(ctx, tx, ref, m.from, m.to); err != nil {
					if errors.Is(err, model.ErrItemUnavailable) {
						return failPrecondition("item %s moved during settlement", ref)
					}
					return err
				}
			}
		}

		if err := s.creditLeg(ctx, tx, t, initiator, receiver, t.InitiatorCredits, "initiator"); err != nil {
			return err
		}
		if err := s.creditLeg(ctx, tx, t, receiver, initiator, t.ReceiverCredits, "receiver"); err != nil {
			return err
		}

		if err := s.tradeRepo.Transition(ctx, tx, t, model.TradeStatusCompleted, ""); err != nil {
			return stateErr(err)
		}
		if err := s.book.emit(ctx, tx, s.cfg.Kafka.Topic.Trade, t.ID, model.EventTradeCompleted, map[string]interface{}{
			"trade_id":          t.ID,
			"initiator_id":      t.InitiatorID,
			"receiver_id":       t.ReceiverID,
			"initiator_items":   t.ItemsFor(model.TradeSideInitiator),
			"receiver_items":    t.ItemsFor(model.TradeSideReceiver),
			"initiator_credits": t.InitiatorCredits,
			"receiver_credits":  t.ReceiverCredits,
		}); err != nil {
			return err
		}

		result = &TradeResult{Trade: t, Imbalance: imbalance}
		return nil
	})

	var pre *preconditionError
	if errors.As(err, &pre) {
		if markErr := s.markFailed(ctx, tradeID, pre.reason); markErr != nil {
			logrus.WithError(markErr).WithField("trade_id", tradeID).Warn("mark trade failed")
		}
		logrus.WithFields(logrus.Fields{"trade_id": tradeID, "reason": pre.reason}).Info("trade precondition failed")
		return nil, err
	}
	if errors.Is(err, model.ErrTradeExpired) {
		s.expireOnAccept(ctx, tradeID)
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"trade_id":     tradeID,
		"initiator_id": trade.InitiatorID,
		"receiver_id":  trade.ReceiverID,
	}).Info("trade completed")
	return result, nil
}

// creditLeg moves amount credits from one trade party to the other.
func (s *TradeService) creditLeg(ctx context.Context, tx *gorm.DB, t *model.TradeRequest, from, to *model.Account, amount int64, side string) error {
	if amount == 0 {
		return nil
	}
	meta := map[string]interface{}{"trade_id": t.ID}
	if _, err := s.book.post(ctx, tx, posting{
		account:   from,
		action:    model.ActionTradeOut,
		amount:    -amount,
		key:       "trade:" + t.ID + ":" + side + ":out",
		reference: t.ID,
		metadata:  withField(meta, "counterparty_id", to.UserID),
	}); err != nil {
		if errors.Is(err, model.ErrInsufficientFunds) {
			return failPrecondition("user %d no longer has %d credits available", from.UserID, amount)
		}
		return err
	}
	_, err := s.book.post(ctx, tx, posting{
		account:   to,
		action:    model.ActionTradeIn,
		amount:    amount,
		key:       "trade:" + t.ID + ":" + side + ":in",
		reference: t.ID,
		metadata:  withField(meta, "counterparty_id", from.UserID),
		earnEvent: true,
	})
	return err
}

// markFailed records a failed accept in its own transaction, after the
// settlement has rolled back.
func (s *TradeService) markFailed(ctx context.Context, tradeID, reason string) error {
	return s.closeTrade(ctx, tradeID, model.TradeStatusFailed, reason, nil)
}

// closeTrade moves a pending trade to a terminal status. check, when set,
// vets the loaded trade first.
func (s *TradeService) closeTrade(ctx context.Context, tradeID, toStatus, reason string, check func(*model.TradeRequest) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := s.tradeRepo.GetByID(ctx, tx, tradeID)
		if err != nil {
			return err
		}
		if check != nil {
			if err := check(t); err != nil {
				return err
			}
		}
		if err := s.tradeRepo.Transition(ctx, tx, t, toStatus, reason); err != nil {
			return stateErr(err)
		}
		return s.book.emit(ctx, tx, s.cfg.Kafka.Topic.Trade, t.ID, model.EventTradeClosed, map[string]interface{}{
			"trade_id":     t.ID,
			"initiator_id": t.InitiatorID,
			"receiver_id":  t.ReceiverID,
			"status":       toStatus,
			"reason":       reason,
		})
	})
}

// DeclineTrade is the receiver turning the proposal down.
func (s *TradeService) DeclineTrade(ctx context.Context, tradeID string, actingUserID int64) error {
	err := s.closeTrade(ctx, tradeID, model.TradeStatusDeclined, "", func(t *model.TradeRequest) error {
		if t.ReceiverID != actingUserID {
			return model.ErrUnauthorized
		}
		return nil
	})
	if err == nil {
		logrus.WithFields(logrus.Fields{"trade_id": tradeID, "user_id": actingUserID}).Info("trade declined")
	}
	return err
}

// CancelTrade is the initiator withdrawing the proposal.
func (s *TradeService) CancelTrade(ctx context.Context, tradeID string, actingUserID int64) error {
	err := s.closeTrade(ctx, tradeID, model.TradeStatusCancelled, "", func(t *model.TradeRequest) error {
		if t.InitiatorID != actingUserID {
			return model.ErrUnauthorized
		}
		return nil
	})
	if err == nil {
		logrus.WithFields(logrus.Fields{"trade_id": tradeID, "user_id": actingUserID}).Info("trade cancelled")
	}
	return err
}

// ExpireTrade moves a pending trade past its expiry to EXPIRED. It reports
// false when there was nothing to do.
func (s *TradeService) ExpireTrade(ctx context.Context, tradeID string) (bool, error) {
	skip := errors.New("skip")
	err := s.closeTrade(ctx, tradeID, model.TradeStatusExpired, "", func(t *model.TradeRequest) error {
		if t.Status != model.TradeStatusPending || !t.IsExpired(s.now()) {
			return skip
		}
		return nil
	})
	if errors.Is(err, skip) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *TradeService) expireOnAccept(ctx context.Context, tradeID string) {
	if _, err := s.ExpireTrade(ctx, tradeID); err != nil {
		logrus.WithError(err).WithField("trade_id", tradeID).Warn("expire on accept failed")
	}
}

func (s *TradeService) DueTrades(ctx context.Context, now time.Time, limit int) ([]*model.TradeRequest, error) {
	return s.tradeRepo.GetExpiredPending(ctx, now, limit)
}

// GetTrade returns the trade if userID is one of its parties.
func (s *TradeService) GetTrade(ctx context.Context, tradeID string, userID int64) (*TradeResult, error) {
	t, err := s.tradeRepo.GetByID(ctx, nil, tradeID)
	if err != nil {
		return nil, err
	}
	if t.InitiatorID != userID && t.ReceiverID != userID {
		return nil, model.ErrUnauthorized
	}
	imbalance, err := s.imbalance(ctx, nil, t)
	if err != nil {
		// items may be gone by now; the trade itself is still readable
		imbalance = nil
	}
	return &TradeResult{Trade: t, Imbalance: imbalance}, nil
}

func (s *TradeService) ListTrades(ctx context.Context, userID int64, status string, limit int) ([]*model.TradeRequest, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.tradeRepo.ListByUserID(ctx, userID, status, limit)
}
