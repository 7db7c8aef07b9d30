package service

import (
	"testing"
	"time"

	"creditsystem/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (e *testEnv) propose(t *testing.T, req *CreateTradeRequest) *model.TradeRequest {
	t.Helper()
	res, err := e.svc.Trades.CreateTrade(e.ctx, req)
	require.NoError(t, err)
	return res.Trade
}

func TestTradeSwapsItemsAndCredits(t *testing.T) {
	env := newTestEnv(t)
	env.open(t, 100, 200)
	env.item(t, "hat", 100, 40)
	env.item(t, "shoe", 200, 50)

	res, err := env.svc.Trades.CreateTrade(env.ctx, &CreateTradeRequest{
		InitiatorID: 100, ReceiverID: 200,
		InitiatorItems: []string{"hat"}, InitiatorCredits: 10,
		ReceiverItems: []string{"shoe"},
	})
	require.NoError(t, err)
	assert.Equal(t, model.TradeStatusPending, res.Trade.Status)
	assert.Equal(t, int64(50), res.Imbalance.InitiatorValue)
	assert.Equal(t, int64(50), res.Imbalance.ReceiverValue)
	assert.False(t, res.Imbalance.Warning)
	// proposing moves nothing
	assert.Equal(t, int64(100), env.owner(t, "hat"))
	assert.Equal(t, int64(100), env.balance(t, 100))

	_, err = env.svc.Trades.AcceptTrade(env.ctx, res.Trade.ID, 100)
	assert.ErrorIs(t, err, model.ErrUnauthorized)

	done, err := env.svc.Trades.AcceptTrade(env.ctx, res.Trade.ID, 200)
	require.NoError(t, err)
	assert.Equal(t, model.TradeStatusCompleted, done.Trade.Status)

	assert.Equal(t, int64(200), env.owner(t, "hat"))
	assert.Equal(t, int64(100), env.owner(t, "shoe"))
	assert.Equal(t, int64(90), env.balance(t, 100))
	assert.Equal(t, int64(110), env.balance(t, 200))
	env.requireConsistent(t, 100, 200)

	_, err = env.svc.Trades.AcceptTrade(env.ctx, res.Trade.ID, 200)
	assert.ErrorIs(t, err, model.ErrTradeNotPending)
}

func TestTradeImbalanceWarning(t *testing.T) {
	env := newTestEnv(t)
	env.open(t, 100, 200)
	env.item(t, "pebble", 100, 10)
	env.item(t, "statue", 200, 100)

	res, err := env.svc.Trades.CreateTrade(env.ctx, &CreateTradeRequest{
		InitiatorID: 100, ReceiverID: 200,
		InitiatorItems: []string{"pebble"}, ReceiverItems: []string{"statue"},
	})
	require.NoError(t, err)
	assert.True(t, res.Imbalance.Warning)
	assert.InDelta(t, 0.9, res.Imbalance.Ratio, 0.0001)

	assert.InDelta(t, 0.0, computeImbalance(0, 0, 0.5).Ratio, 0.0001)
	assert.False(t, computeImbalance(60, 100, 0.5).Warning)
	assert.True(t, computeImbalance(100, 40, 0.5).Warning)
}

func TestCreateTradeValidation(t *testing.T) {
	env := newTestEnv(t)
	env.open(t, 100, 200)
	env.item(t, "hat", 100, 40)
	env.item(t, "shoe", 200, 50)

	cases := []struct {
		name string
		req  *CreateTradeRequest
		want error
	}{
		{"self", &CreateTradeRequest{InitiatorID: 100, ReceiverID: 100, InitiatorCredits: 1}, model.ErrInvalidRequest},
		{"empty", &CreateTradeRequest{InitiatorID: 100, ReceiverID: 200}, model.ErrInvalidRequest},
		{"duplicate item", &CreateTradeRequest{InitiatorID: 100, ReceiverID: 200, InitiatorItems: []string{"hat"}, ReceiverItems: []string{"hat"}}, model.ErrInvalidRequest},
		{"negative credits", &CreateTradeRequest{InitiatorID: 100, ReceiverID: 200, InitiatorCredits: -1}, model.ErrInvalidAmount},
		{"not owned", &CreateTradeRequest{InitiatorID: 100, ReceiverID: 200, InitiatorItems: []string{"shoe"}}, model.ErrItemNotOwned},
		{"too many credits", &CreateTradeRequest{InitiatorID: 100, ReceiverID: 200, InitiatorCredits: 101}, model.ErrInsufficientFunds},
		{"unknown receiver", &CreateTradeRequest{InitiatorID: 100, ReceiverID: 404, InitiatorCredits: 1}, model.ErrAccountNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.svc.Trades.CreateTrade(env.ctx, tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestTradeFailsWhenItemSoldElsewhere(t *testing.T) {
	env := newTestEnv(t)
	env.open(t, 100, 200, 300)
	env.item(t, "hat", 100, 40)
	env.item(t, "shoe", 200, 50)

	listing := env.list(t, 100, "hat", model.ListingTypeFixed, 30)
	trade := env.propose(t, &CreateTradeRequest{
		InitiatorID: 100, ReceiverID: 200,
		InitiatorItems: []string{"hat"}, ReceiverItems: []string{"shoe"}, ReceiverCredits: 20,
	})

	_, err := env.svc.Marketplace.BuyNow(env.ctx, listing.ID, 300)
	require.NoError(t, err)
	sellerAfterSale := env.balance(t, 100)

	_, err = env.svc.Trades.AcceptTrade(env.ctx, trade.ID, 200)
	assert.ErrorIs(t, err, model.ErrTradePreconditionFailed)

	assert.Equal(t, int64(300), env.owner(t, "hat"))
	assert.Equal(t, int64(200), env.owner(t, "shoe"))
	assert.Equal(t, int64(100), env.balance(t, 200))
	assert.Equal(t, sellerAfterSale, env.balance(t, 100))

	got, err := env.svc.Trades.GetTrade(env.ctx, trade.ID, 100)
	require.NoError(t, err)
	assert.Equal(t, model.TradeStatusFailed, got.Trade.Status)
	assert.NotEmpty(t, got.Trade.FailureReason)
	env.requireConsistent(t, 100, 200, 300)
}

func TestTradeFailsWhenCreditsSpent(t *testing.T) {
	env := newTestEnv(t)
	env.open(t, 100, 200)
	env.item(t, "shoe", 200, 50)

	trade := env.propose(t, &CreateTradeRequest{InitiatorID: 100, ReceiverID: 200, InitiatorCredits: 80, ReceiverItems: []string{"shoe"}})
	_, err := env.svc.Ledger.Charge(env.ctx, &ChargeRequest{UserID: 100, Action: "mascot.house", Amount: 60, IdempotencyKey: "house"})
	require.NoError(t, err)

	_, err = env.svc.Trades.AcceptTrade(env.ctx, trade.ID, 200)
	assert.ErrorIs(t, err, model.ErrTradePreconditionFailed)
	assert.Equal(t, int64(40), env.balance(t, 100))
	assert.Equal(t, int64(200), env.owner(t, "shoe"))
}

func TestTradeCancelsActiveListingOfTradedItem(t *testing.T) {
	env := newTestEnv(t)
	env.open(t, 100, 200, 300)
	env.item(t, "hat", 100, 40)

	auction := env.list(t, 100, "hat", model.ListingTypeAuction, 10)
	_, err := env.svc.Marketplace.PlaceBid(env.ctx, auction.ID, 300, 15)
	require.NoError(t, err)

	trade := env.propose(t, &CreateTradeRequest{InitiatorID: 100, ReceiverID: 200, InitiatorItems: []string{"hat"}, ReceiverCredits: 40})
	_, err = env.svc.Trades.AcceptTrade(env.ctx, trade.ID, 200)
	require.NoError(t, err)

	assert.Equal(t, int64(200), env.owner(t, "hat"))
	assert.Equal(t, model.ListingStatusCancelled, env.listing(t, auction.ID).Status)
	assert.Equal(t, int64(0), env.account(t, 300).Reserved)
	assert.Equal(t, int64(140), env.balance(t, 100))
	assert.Equal(t, int64(60), env.balance(t, 200))
	env.requireConsistent(t, 100, 200, 300)
}

func TestDeclineCancelAndExpire(t *testing.T) {
	env := newTestEnv(t)
	env.open(t, 100, 200, 300)

	declined := env.propose(t, &CreateTradeRequest{InitiatorID: 100, ReceiverID: 200, InitiatorCredits: 5})
	assert.ErrorIs(t, env.svc.Trades.DeclineTrade(env.ctx, declined.ID, 100), model.ErrUnauthorized)
	require.NoError(t, env.svc.Trades.DeclineTrade(env.ctx, declined.ID, 200))
	assert.ErrorIs(t, env.svc.Trades.DeclineTrade(env.ctx, declined.ID, 200), model.ErrTradeNotPending)

	cancelled := env.propose(t, &CreateTradeRequest{InitiatorID: 100, ReceiverID: 200, InitiatorCredits: 5})
	assert.ErrorIs(t, env.svc.Trades.CancelTrade(env.ctx, cancelled.ID, 200), model.ErrUnauthorized)
	require.NoError(t, env.svc.Trades.CancelTrade(env.ctx, cancelled.ID, 100))

	expired := env.propose(t, &CreateTradeRequest{InitiatorID: 100, ReceiverID: 200, InitiatorCredits: 5})
	ok, err := env.svc.Trades.ExpireTrade(env.ctx, expired.ID)
	require.NoError(t, err)
	assert.False(t, ok, "not due yet")

	env.backdate(t, &model.TradeRequest{}, expired.ID)
	due, err := env.svc.Trades.DueTrades(env.ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	_, err = env.svc.Trades.AcceptTrade(env.ctx, expired.ID, 200)
	assert.ErrorIs(t, err, model.ErrTradeExpired)

	got, err := env.svc.Trades.GetTrade(env.ctx, expired.ID, 200)
	require.NoError(t, err)
	assert.Equal(t, model.TradeStatusExpired, got.Trade.Status)

	_, err = env.svc.Trades.GetTrade(env.ctx, expired.ID, 300)
	assert.ErrorIs(t, err, model.ErrUnauthorized)

	all, err := env.svc.Trades.ListTrades(env.ctx, 200, "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	pending, err := env.svc.Trades.ListTrades(env.ctx, 200, model.TradeStatusPending, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	assert.Equal(t, int64(100), env.balance(t, 100))
}

func TestAcceptRechecksDeadlineUnderLock(t *testing.T) {
	env := newTestEnv(t)
	env.open(t, 100, 200)
	env.item(t, "hat", 100, 40)

	trade := env.propose(t, &CreateTradeRequest{
		InitiatorID: 100, ReceiverID: 200,
		InitiatorItems: []string{"hat"}, InitiatorCredits: 10,
	})

	// still live at the first check, past the deadline once the rows are locked
	calls := 0
	env.svc.Trades.now = func() time.Time {
		calls++
		if calls == 1 {
			return time.Now()
		}
		return time.Now().Add(2 * env.cfg.Trade.Duration)
	}

	_, err := env.svc.Trades.AcceptTrade(env.ctx, trade.ID, 200)
	assert.ErrorIs(t, err, model.ErrTradeExpired)

	assert.Equal(t, int64(100), env.owner(t, "hat"))
	assert.Equal(t, int64(100), env.balance(t, 100))
	assert.Equal(t, int64(100), env.balance(t, 200))
	got, err := env.svc.Trades.GetTrade(env.ctx, trade.ID, 200)
	require.NoError(t, err)
	assert.Equal(t, model.TradeStatusExpired, got.Trade.Status)
	env.requireConsistent(t, 100, 200)
}
