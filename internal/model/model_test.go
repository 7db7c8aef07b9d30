package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListingTransitions(t *testing.T) {
	assert.True(t, CanListingTransition(ListingStatusActive, ListingStatusSold))
	assert.True(t, CanListingTransition(ListingStatusActive, ListingStatusCancelled))
	assert.False(t, CanListingTransition(ListingStatusSold, ListingStatusActive))
	assert.False(t, CanListingTransition(ListingStatusExpired, ListingStatusSold))
}

func TestTradeTransitionsAreTerminal(t *testing.T) {
	for _, to := range []string{TradeStatusCompleted, TradeStatusDeclined, TradeStatusCancelled, TradeStatusExpired, TradeStatusFailed} {
		assert.True(t, CanTradeTransition(TradeStatusPending, to), to)
		for _, next := range []string{TradeStatusPending, TradeStatusCompleted, TradeStatusExpired} {
			assert.False(t, CanTradeTransition(to, next), "%s -> %s", to, next)
		}
	}
}

func TestAccountAvailable(t *testing.T) {
	a := &Account{Balance: 100, Reserved: 30}
	assert.Equal(t, int64(70), a.Available())
	assert.False(t, a.IsFrozen())
	a.Status = AccountStatusFrozen
	assert.True(t, a.IsFrozen())
}

func TestTradeItemsFor(t *testing.T) {
	tr := &TradeRequest{Items: []TradeItem{
		{Side: TradeSideInitiator, ItemRef: "hat"},
		{Side: TradeSideReceiver, ItemRef: "cape"},
		{Side: TradeSideInitiator, ItemRef: "boots"},
	}}
	assert.Equal(t, []string{"hat", "boots"}, tr.ItemsFor(TradeSideInitiator))
	assert.Equal(t, []string{"cape"}, tr.ItemsFor(TradeSideReceiver))
}

func TestExpiryBoundary(t *testing.T) {
	now := time.Now()
	l := &Listing{ExpiresAt: now}
	assert.True(t, l.IsExpired(now))
	assert.False(t, l.IsExpired(now.Add(-time.Second)))
}

func TestNewOutboxMessage(t *testing.T) {
	msg, err := NewOutboxMessage("economy.ledger", "k1", EventCreditsEarned, map[string]interface{}{"amount": 5})
	require.NoError(t, err)
	assert.Equal(t, OutboxStatusPending, msg.Status)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &body))
	assert.Equal(t, EventCreditsEarned, body["event"])
	assert.Equal(t, float64(5), body["amount"])
	assert.NotEmpty(t, body["occurred_at"])
}
