package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"creditsystem/internal/config"
	"creditsystem/internal/infrastructure/database"
	"creditsystem/internal/model"
	"creditsystem/internal/service"
	"creditsystem/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type apiEnv struct {
	router *gin.Engine
	svc    *service.Services
	cfg    *config.Config
}

func newAPI(t *testing.T, limiter *RateLimiter) *apiEnv {
	t.Helper()
	db, err := database.OpenSQLite("", false)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	cfg := config.Default()
	cfg.Auth.JWTSecret = testSecret
	svc, err := service.NewServices(db, cfg, nil)
	require.NoError(t, err)
	require.NoError(t, svc.Accounts.EnsureTreasury(context.Background()))

	return &apiEnv{router: SetupRouter(svc, cfg, limiter), svc: svc, cfg: cfg}
}

func (a *apiEnv) token(t *testing.T, userID int64, role string) string {
	t.Helper()
	tok, err := IssueToken(testSecret, a.cfg.Auth.Issuer, userID, role, time.Hour)
	require.NoError(t, err)
	return tok
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (a *apiEnv) do(t *testing.T, method, path, token string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)

	var env envelope
	if w.Header().Get("Content-Type") != "" && w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &env)
	}
	return w, env
}

func TestHealthAndMetrics(t *testing.T) {
	api := newAPI(t, nil)

	w, _ := api.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = api.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthRequired(t *testing.T) {
	api := newAPI(t, nil)

	w, env := api.do(t, http.MethodGet, "/api/v1/account", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, response.CodeUnauthorized, env.Code)

	forged, err := IssueToken("other-secret", api.cfg.Auth.Issuer, 100, RoleUser, time.Hour)
	require.NoError(t, err)
	w, _ = api.do(t, http.MethodGet, "/api/v1/account", forged, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	expired, err := IssueToken(testSecret, api.cfg.Auth.Issuer, 100, RoleUser, -time.Minute)
	require.NoError(t, err)
	w, _ = api.do(t, http.MethodGet, "/api/v1/account", expired, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, env = api.do(t, http.MethodPost, "/internal/v1/ledger/charge", api.token(t, 100, RoleUser), map[string]interface{}{
		"user_id": 100, "action": "x", "amount": 1, "idempotency_key": "k",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, response.CodeForbidden, env.Code)
}

func TestAccountAndLedgerFlow(t *testing.T) {
	api := newAPI(t, nil)
	user := api.token(t, 100, RoleUser)
	svcTok := api.token(t, 9000, RoleService)

	_, env := api.do(t, http.MethodPost, "/api/v1/account/open", user, nil)
	require.Equal(t, response.CodeSuccess, env.Code, env.Message)

	charge := map[string]interface{}{"user_id": 100, "action": "mascot.outfit", "amount": 25, "idempotency_key": "K1"}
	_, env = api.do(t, http.MethodPost, "/internal/v1/ledger/charge", svcTok, charge)
	require.Equal(t, response.CodeSuccess, env.Code, env.Message)
	var posted service.PostResult
	require.NoError(t, json.Unmarshal(env.Data, &posted))
	assert.Equal(t, int64(75), posted.NewBalance)

	_, env = api.do(t, http.MethodPost, "/internal/v1/ledger/charge", svcTok, charge)
	require.NoError(t, json.Unmarshal(env.Data, &posted))
	assert.True(t, posted.Replayed)

	_, env = api.do(t, http.MethodGet, "/api/v1/account/balance", user, nil)
	var bal struct {
		Balance int64 `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &bal))
	assert.Equal(t, int64(75), bal.Balance)

	_, env = api.do(t, http.MethodPost, "/internal/v1/ledger/charge", svcTok, map[string]interface{}{
		"user_id": 100, "action": "x", "amount": 500, "idempotency_key": "K2",
	})
	assert.Equal(t, response.CodeInsufficientFunds, env.Code)

	_, env = api.do(t, http.MethodGet, "/api/v1/ledger?page=1&page_size=10", user, nil)
	assert.Equal(t, response.CodeSuccess, env.Code)

	_, env = api.do(t, http.MethodGet, "/api/v1/account/wealth-tier", user, nil)
	assert.Equal(t, response.CodeSuccess, env.Code)

	_, env = api.do(t, http.MethodGet, "/internal/v1/accounts/100/reconcile", svcTok, nil)
	var rec service.Reconciliation
	require.NoError(t, json.Unmarshal(env.Data, &rec))
	assert.True(t, rec.Consistent)

	_, env = api.do(t, http.MethodPost, "/internal/v1/accounts/100/freeze", svcTok, nil)
	require.Equal(t, response.CodeSuccess, env.Code)
	_, env = api.do(t, http.MethodPost, "/internal/v1/ledger/earn", svcTok, map[string]interface{}{
		"user_id": 100, "action": "workout.complete", "amount": 5, "idempotency_key": "W1",
	})
	assert.Equal(t, response.CodeAccountFrozen, env.Code)

	_, env = api.do(t, http.MethodPost, "/internal/v1/accounts/abc/freeze", svcTok, nil)
	assert.Equal(t, response.CodeParamError, env.Code)
}

func TestTransferAndMarketplaceOverHTTP(t *testing.T) {
	api := newAPI(t, nil)
	alice, bob := api.token(t, 100, RoleUser), api.token(t, 200, RoleUser)
	svcTok := api.token(t, 9000, RoleService)

	api.do(t, http.MethodPost, "/api/v1/account/open", alice, nil)
	api.do(t, http.MethodPost, "/api/v1/account/open", bob, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/transfers", bytes.NewBufferString(`{"recipient_id":200,"amount":10,"category":"tip"}`))
	req.Header.Set("Authorization", "Bearer "+alice)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", "tip-1")
	w := httptest.NewRecorder()
	api.router.ServeHTTP(w, req)
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.Equal(t, response.CodeSuccess, env.Code, env.Message)

	_, env = api.do(t, http.MethodPost, "/api/v1/transfers", alice, map[string]interface{}{
		"recipient_id": 100, "amount": 10, "category": "tip", "idempotency_key": "self",
	})
	assert.Equal(t, response.CodeSelfTransferNotAllowed, env.Code)

	_, env = api.do(t, http.MethodPut, "/internal/v1/items", svcTok, map[string]interface{}{
		"item_ref": "hat", "owner_id": 100, "estimated_value": 20,
	})
	require.Equal(t, response.CodeSuccess, env.Code, env.Message)

	_, env = api.do(t, http.MethodPost, "/api/v1/listings", alice, map[string]interface{}{
		"item_ref": "hat", "listing_type": model.ListingTypeFixed, "price": 20,
	})
	require.Equal(t, response.CodeSuccess, env.Code, env.Message)
	var listing model.Listing
	require.NoError(t, json.Unmarshal(env.Data, &listing))

	_, env = api.do(t, http.MethodPost, "/api/v1/listings/"+listing.ID+"/buy", alice, nil)
	assert.Equal(t, response.CodeSelfPurchase, env.Code)

	_, env = api.do(t, http.MethodPost, "/api/v1/listings/"+listing.ID+"/buy", bob, nil)
	require.Equal(t, response.CodeSuccess, env.Code, env.Message)

	_, env = api.do(t, http.MethodPost, "/api/v1/listings/"+listing.ID+"/buy", bob, nil)
	assert.Equal(t, response.CodeListingAlreadySold, env.Code)

	_, env = api.do(t, http.MethodGet, "/api/v1/listings/missing", bob, nil)
	assert.Equal(t, response.CodeListingNotFound, env.Code)

	_, env = api.do(t, http.MethodPost, "/api/v1/trades", bob, map[string]interface{}{
		"receiver_id": 100, "initiator_items": []string{"hat"},
	})
	require.Equal(t, response.CodeSuccess, env.Code, env.Message)
	var trade service.TradeResult
	require.NoError(t, json.Unmarshal(env.Data, &trade))

	_, env = api.do(t, http.MethodPost, "/api/v1/trades/"+trade.Trade.ID+"/accept", bob, nil)
	assert.Equal(t, response.CodeForbidden, env.Code)
	_, env = api.do(t, http.MethodPost, "/api/v1/trades/"+trade.Trade.ID+"/decline", alice, nil)
	assert.Equal(t, response.CodeSuccess, env.Code)

	_, env = api.do(t, http.MethodPost, "/api/v1/loan/request", bob, map[string]interface{}{"amount": 50, "idempotency_key": "L1"})
	assert.Equal(t, response.CodeSuccess, env.Code, env.Message)
	_, env = api.do(t, http.MethodPost, "/api/v1/loan/request", bob, map[string]interface{}{"amount": 50, "idempotency_key": "L2"})
	assert.Equal(t, response.CodeLoanActive, env.Code)
}

func TestBadJSONIsParamError(t *testing.T) {
	api := newAPI(t, nil)
	_, env := api.do(t, http.MethodPost, "/api/v1/transfers", api.token(t, 100, RoleUser), map[string]interface{}{"amount": 5})
	assert.Equal(t, response.CodeParamError, env.Code)
}

func TestRateLimiterPerUser(t *testing.T) {
	api := newAPI(t, NewRateLimiter(0.001, 2))
	alice, bob := api.token(t, 100, RoleUser), api.token(t, 200, RoleUser)

	for i := 0; i < 2; i++ {
		w, _ := api.do(t, http.MethodGet, "/api/v1/account", alice, nil)
		assert.Equal(t, http.StatusOK, w.Code)
	}
	w, env := api.do(t, http.MethodGet, "/api/v1/account", alice, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, response.CodeTooManyRequests, env.Code)

	// separate bucket per user
	w, _ = api.do(t, http.MethodGet, "/api/v1/account", bob, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	now := time.Now()
	assert.True(t, rl.allow("a", now))
	assert.False(t, rl.allow("a", now))
	assert.Equal(t, 0, rl.Cleanup(now.Add(time.Minute)))
	assert.Equal(t, 1, rl.Cleanup(now.Add(time.Hour)))
}

func TestFeePoolNotReachableThroughAPI(t *testing.T) {
	api := newAPI(t, nil)
	alice, bob := api.token(t, 100, RoleUser), api.token(t, 200, RoleUser)
	svcTok := api.token(t, 9000, RoleService)
	treasuryID := api.cfg.Economy.TreasuryUserID

	api.do(t, http.MethodPost, "/api/v1/account/open", alice, nil)
	api.do(t, http.MethodPost, "/api/v1/account/open", bob, nil)
	_, env := api.do(t, http.MethodPost, "/api/v1/transfers", alice, map[string]interface{}{
		"recipient_id": 200, "amount": 100, "category": "gift", "idempotency_key": "g1",
	})
	require.Equal(t, response.CodeSuccess, env.Code, env.Message)

	fees, err := api.svc.Ledger.GetBalance(context.Background(), treasuryID)
	require.NoError(t, err)
	require.Equal(t, int64(5), fees)

	treasuryTok := api.token(t, treasuryID, RoleUser)
	w, _ := api.do(t, http.MethodPost, "/api/v1/account/open", treasuryTok, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w, _ = api.do(t, http.MethodPost, "/api/v1/transfers", treasuryTok, map[string]interface{}{
		"recipient_id": 100, "amount": 5, "category": "tip", "idempotency_key": "drain",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	_, env = api.do(t, http.MethodPost, "/internal/v1/ledger/charge", svcTok, map[string]interface{}{
		"user_id": treasuryID, "action": "x", "amount": 5, "idempotency_key": "drain",
	})
	assert.Equal(t, response.CodeParamError, env.Code)

	fees, err = api.svc.Ledger.GetBalance(context.Background(), treasuryID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), fees)
}
