package service

import (
	"context"
	"testing"
	"time"

	"creditsystem/internal/config"
	"creditsystem/internal/infrastructure/database"
	"creditsystem/internal/model"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const treasury int64 = 0

type testEnv struct {
	ctx context.Context
	db  *gorm.DB
	cfg *config.Config
	svc *Services
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWith(t, config.Default())
}

func newTestEnvWith(t *testing.T, cfg *config.Config) *testEnv {
	t.Helper()
	db, err := database.OpenSQLite("", false)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	svc, err := NewServices(db, cfg, nil)
	require.NoError(t, err)
	env := &testEnv{ctx: context.Background(), db: db, cfg: cfg, svc: svc}
	require.NoError(t, svc.Accounts.EnsureTreasury(env.ctx))
	return env
}

// open opens accounts with the starting grant.
func (e *testEnv) open(t *testing.T, userIDs ...int64) {
	t.Helper()
	for _, id := range userIDs {
		_, err := e.svc.Accounts.OpenAccount(e.ctx, id)
		require.NoError(t, err)
	}
}

func (e *testEnv) account(t *testing.T, userID int64) *model.Account {
	t.Helper()
	account, err := e.svc.Accounts.GetAccount(e.ctx, userID)
	require.NoError(t, err)
	return account
}

func (e *testEnv) balance(t *testing.T, userID int64) int64 {
	return e.account(t, userID).Balance
}

func (e *testEnv) earn(t *testing.T, userID, amount int64, key string) {
	t.Helper()
	_, err := e.svc.Ledger.Earn(e.ctx, &EarnRequest{UserID: userID, Action: "test.topup", Amount: amount, IdempotencyKey: key})
	require.NoError(t, err)
}

func (e *testEnv) item(t *testing.T, ref string, owner, value int64) {
	t.Helper()
	require.NoError(t, e.svc.Inventory.Put(e.ctx, &model.InventoryItem{ItemRef: ref, OwnerID: owner, EstimatedValue: value}))
}

func (e *testEnv) owner(t *testing.T, ref string) int64 {
	t.Helper()
	owner, err := e.svc.Inventory.OwnerOf(e.ctx, nil, ref)
	require.NoError(t, err)
	return owner
}

func (e *testEnv) listing(t *testing.T, id string) *model.Listing {
	t.Helper()
	listing, err := e.svc.Marketplace.GetListing(e.ctx, id)
	require.NoError(t, err)
	return listing
}

// backdate moves the expiry of a row into the past.
func (e *testEnv) backdate(t *testing.T, m interface{}, id string) {
	t.Helper()
	require.NoError(t, e.db.Model(m).Where("id = ?", id).Update("expires_at", time.Now().Add(-time.Minute)).Error)
}

// requireConsistent checks balance == ledger sum and reserved == active
// holds for every user.
func (e *testEnv) requireConsistent(t *testing.T, userIDs ...int64) {
	t.Helper()
	for _, id := range userIDs {
		rec, err := e.svc.Ledger.Reconcile(e.ctx, id)
		require.NoError(t, err)
		require.True(t, rec.Consistent, "user %d: %+v", id, rec)
	}
}

func (e *testEnv) total(t *testing.T, userIDs ...int64) int64 {
	t.Helper()
	var sum int64
	for _, id := range userIDs {
		sum += e.balance(t, id)
	}
	return sum
}
