package service

import (
	"testing"

	"creditsystem/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoanLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.open(t, 100)

	loan, err := env.svc.Loans.GetLoan(env.ctx, 100)
	require.NoError(t, err)
	assert.Nil(t, loan)

	_, err = env.svc.Loans.RequestLoan(env.ctx, 100, env.cfg.Economy.MaxLoan+1, "L1")
	assert.ErrorIs(t, err, model.ErrLoanLimitExceeded)

	res, err := env.svc.Loans.RequestLoan(env.ctx, 100, 200, "L1")
	require.NoError(t, err)
	assert.Equal(t, int64(300), res.NewBalance)
	assert.Equal(t, int64(200), res.Loan.Outstanding)

	replay, err := env.svc.Loans.RequestLoan(env.ctx, 100, 200, "L1")
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.Equal(t, int64(300), env.balance(t, 100))

	_, err = env.svc.Loans.RequestLoan(env.ctx, 100, 50, "L2")
	assert.ErrorIs(t, err, model.ErrLoanActive)

	res, err = env.svc.Loans.RepayLoan(env.ctx, 100, 120, "R1")
	require.NoError(t, err)
	assert.Equal(t, int64(80), res.Loan.Outstanding)
	assert.Equal(t, int64(180), res.NewBalance)

	// overpaying is capped at the outstanding amount
	res, err = env.svc.Loans.RepayLoan(env.ctx, 100, 500, "R2")
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Loan.Outstanding)
	assert.Equal(t, model.LoanStatusRepaid, res.Loan.Status)
	assert.Equal(t, int64(100), env.balance(t, 100))

	_, err = env.svc.Loans.RepayLoan(env.ctx, 100, 10, "R3")
	assert.ErrorIs(t, err, model.ErrNoActiveLoan)

	// a repaid loan frees the slot
	_, err = env.svc.Loans.RequestLoan(env.ctx, 100, 50, "L3")
	require.NoError(t, err)
	env.requireConsistent(t, 100)
}

func TestRepayNeedsFunds(t *testing.T) {
	env := newTestEnv(t)
	env.open(t, 100)

	_, err := env.svc.Loans.RequestLoan(env.ctx, 100, 100, "L1")
	require.NoError(t, err)
	_, err = env.svc.Ledger.Charge(env.ctx, &ChargeRequest{UserID: 100, Action: "mascot.castle", Amount: 180, IdempotencyKey: "castle"})
	require.NoError(t, err)

	_, err = env.svc.Loans.RepayLoan(env.ctx, 100, 50, "R1")
	assert.ErrorIs(t, err, model.ErrInsufficientFunds)

	loan, err := env.svc.Loans.GetLoan(env.ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(100), loan.Outstanding)
}
