package service

import (
	"testing"

	"creditsystem/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransferWithoutFee(t *testing.T) {
	env := newTestEnv(t)
	env.open(t, 100, 200)

	res, err := env.svc.Transfers.Transfer(env.ctx, &TransferRequest{
		SenderID: 100, RecipientID: 200, Amount: 40, Category: "tip", IdempotencyKey: "t1",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Fee)
	assert.Equal(t, int64(60), res.SenderNewBalance)
	assert.Equal(t, int64(60), env.balance(t, 100))
	assert.Equal(t, int64(140), env.balance(t, 200))
	assert.Equal(t, int64(0), env.balance(t, treasury))
	env.requireConsistent(t, 100, 200, treasury)
}

func TestTransferFeeGoesToTreasury(t *testing.T) {
	env := newTestEnv(t)
	env.open(t, 100, 200)
	before := env.total(t, 100, 200, treasury)

	// gift is 500 bps
	res, err := env.svc.Transfers.Transfer(env.ctx, &TransferRequest{
		SenderID: 100, RecipientID: 200, Amount: 60, Category: "gift", IdempotencyKey: "g1",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Fee)
	assert.Equal(t, int64(40), env.balance(t, 100))
	assert.Equal(t, int64(157), env.balance(t, 200))
	assert.Equal(t, int64(3), env.balance(t, treasury))
	assert.Equal(t, before, env.total(t, 100, 200, treasury))
	env.requireConsistent(t, 100, 200, treasury)

	records, total, err := env.svc.Transfers.ListTransfers(env.ctx, 200, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, res.TransferID, records[0].ID)
}

func TestTransferIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.open(t, 100, 200)

	req := &TransferRequest{SenderID: 100, RecipientID: 200, Amount: 10, Category: "boost", IdempotencyKey: "same"}
	first, err := env.svc.Transfers.Transfer(env.ctx, req)
	require.NoError(t, err)
	second, err := env.svc.Transfers.Transfer(env.ctx, req)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.TransferID, second.TransferID)
	assert.Equal(t, first.SenderNewBalance, second.SenderNewBalance)
	assert.Equal(t, int64(90), env.balance(t, 100))
}

func TestTransferRejections(t *testing.T) {
	env := newTestEnv(t)
	env.open(t, 100, 200)

	_, err := env.svc.Transfers.Transfer(env.ctx, &TransferRequest{SenderID: 100, RecipientID: 100, Amount: 5, Category: "tip", IdempotencyKey: "a"})
	assert.ErrorIs(t, err, model.ErrSelfTransferNotAllowed)

	_, err = env.svc.Transfers.Transfer(env.ctx, &TransferRequest{SenderID: 100, RecipientID: 200, Amount: -5, Category: "tip", IdempotencyKey: "b"})
	assert.ErrorIs(t, err, model.ErrInvalidAmount)

	_, err = env.svc.Transfers.Transfer(env.ctx, &TransferRequest{SenderID: 100, RecipientID: 200, Amount: 5, Category: "bribe", IdempotencyKey: "c"})
	assert.ErrorIs(t, err, model.ErrInvalidRequest)

	_, err = env.svc.Transfers.Transfer(env.ctx, &TransferRequest{SenderID: 100, RecipientID: 200, Amount: 500, Category: "tip", IdempotencyKey: "d"})
	assert.ErrorIs(t, err, model.ErrInsufficientFunds)

	_, err = env.svc.Transfers.Transfer(env.ctx, &TransferRequest{SenderID: 100, RecipientID: 404, Amount: 5, Category: "tip", IdempotencyKey: "e"})
	assert.ErrorIs(t, err, model.ErrAccountNotFound)

	require.NoError(t, env.svc.Accounts.Freeze(env.ctx, 200))
	_, err = env.svc.Transfers.Transfer(env.ctx, &TransferRequest{SenderID: 100, RecipientID: 200, Amount: 5, Category: "tip", IdempotencyKey: "f"})
	assert.ErrorIs(t, err, model.ErrAccountFrozen)

	assert.Equal(t, int64(100), env.balance(t, 100))
	assert.Equal(t, int64(100), env.balance(t, 200))
}
