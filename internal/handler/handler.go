package handler

import (
	"strconv"
	"strings"

	"creditsystem/internal/model"
	"creditsystem/internal/service"
	"creditsystem/pkg/response"

	"github.com/gin-gonic/gin"
)

// Handler serves the HTTP API on top of the services.
type Handler struct {
	svc *service.Services
}

func NewHandler(svc *service.Services) *Handler {
	return &Handler{svc: svc}
}

// idempotencyKey prefers the body field and falls back to the header.
func idempotencyKey(c *gin.Context, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	return c.GetHeader("Idempotency-Key")
}

func queryInt(c *gin.Context, name string, def int) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return def
	}
	return v
}

func pathUserID(c *gin.Context) (int64, bool) {
	userID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		response.ParamError(c, "invalid user_id")
		return 0, false
	}
	return userID, true
}

func bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return false
	}
	return true
}

// ============================================================
// Account
// ============================================================

// OpenAccount POST /api/v1/account/open
func (h *Handler) OpenAccount(c *gin.Context) {
	account, err := h.svc.Accounts.OpenAccount(c.Request.Context(), currentUser(c))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, account)
}

// GetAccount GET /api/v1/account
func (h *Handler) GetAccount(c *gin.Context) {
	account, err := h.svc.Accounts.GetAccount(c.Request.Context(), currentUser(c))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{
		"user_id":   account.UserID,
		"balance":   account.Balance,
		"reserved":  account.Reserved,
		"available": account.Available(),
		"status":    account.Status,
	})
}

// GetBalance GET /api/v1/account/balance
func (h *Handler) GetBalance(c *gin.Context) {
	userID := currentUser(c)
	balance, err := h.svc.Ledger.GetBalance(c.Request.Context(), userID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"user_id": userID, "balance": balance})
}

// GetWealthTier GET /api/v1/account/wealth-tier
func (h *Handler) GetWealthTier(c *gin.Context) {
	info, err := h.svc.Accounts.GetWealthTier(c.Request.Context(), currentUser(c))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, info)
}

// ListLedger GET /api/v1/ledger?page=1&page_size=20
func (h *Handler) ListLedger(c *gin.Context) {
	page := queryInt(c, "page", 1)
	size := queryInt(c, "page_size", 20)
	entries, total, err := h.svc.Ledger.ListEntries(c.Request.Context(), currentUser(c), page, size)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"list": entries, "total": total, "page": page, "page_size": size})
}

// ListEarnEvents GET /api/v1/earn-events?unseen=true&limit=20
func (h *Handler) ListEarnEvents(c *gin.Context) {
	unseen := strings.EqualFold(c.Query("unseen"), "true")
	events, err := h.svc.Ledger.ListEarnEvents(c.Request.Context(), currentUser(c), unseen, queryInt(c, "limit", 20))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, events)
}

type MarkSeenRequest struct {
	IDs []int64 `json:"ids" binding:"required,min=1,max=100"`
}

// MarkEarnEventsSeen POST /api/v1/earn-events/seen
func (h *Handler) MarkEarnEventsSeen(c *gin.Context) {
	var req MarkSeenRequest
	if !bind(c, &req) {
		return
	}
	n, err := h.svc.Ledger.MarkEarnEventsSeen(c.Request.Context(), currentUser(c), req.IDs)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"updated": n})
}

// ============================================================
// Transfers
// ============================================================

type TransferRequest struct {
	RecipientID    int64  `json:"recipient_id" binding:"required"`
	Amount         int64  `json:"amount" binding:"required"`
	Category       string `json:"category" binding:"required"`
	Note           string `json:"note"`
	IdempotencyKey string `json:"idempotency_key"`
}

// Transfer POST /api/v1/transfers
func (h *Handler) Transfer(c *gin.Context) {
	var req TransferRequest
	if !bind(c, &req) {
		return
	}
	result, err := h.svc.Transfers.Transfer(c.Request.Context(), &service.TransferRequest{
		SenderID:       currentUser(c),
		RecipientID:    req.RecipientID,
		Amount:         req.Amount,
		Category:       req.Category,
		Note:           req.Note,
		IdempotencyKey: idempotencyKey(c, req.IdempotencyKey),
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, result)
}

// ListTransfers GET /api/v1/transfers?page=1&page_size=20
func (h *Handler) ListTransfers(c *gin.Context) {
	page := queryInt(c, "page", 1)
	size := queryInt(c, "page_size", 20)
	records, total, err := h.svc.Transfers.ListTransfers(c.Request.Context(), currentUser(c), page, size)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"list": records, "total": total, "page": page, "page_size": size})
}

// ============================================================
// Loans
// ============================================================

type LoanRequest struct {
	Amount         int64  `json:"amount" binding:"required"`
	IdempotencyKey string `json:"idempotency_key"`
}

// GetLoan GET /api/v1/loan
func (h *Handler) GetLoan(c *gin.Context) {
	loan, err := h.svc.Loans.GetLoan(c.Request.Context(), currentUser(c))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"loan": loan})
}

// RequestLoan POST /api/v1/loan/request
func (h *Handler) RequestLoan(c *gin.Context) {
	var req LoanRequest
	if !bind(c, &req) {
		return
	}
	result, err := h.svc.Loans.RequestLoan(c.Request.Context(), currentUser(c), req.Amount, idempotencyKey(c, req.IdempotencyKey))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, result)
}

// RepayLoan POST /api/v1/loan/repay
func (h *Handler) RepayLoan(c *gin.Context) {
	var req LoanRequest
	if !bind(c, &req) {
		return
	}
	result, err := h.svc.Loans.RepayLoan(c.Request.Context(), currentUser(c), req.Amount, idempotencyKey(c, req.IdempotencyKey))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, result)
}

// ============================================================
// Internal: collaborating modules and operators
// ============================================================

type PostingRequest struct {
	UserID         int64                  `json:"user_id" binding:"required"`
	Action         string                 `json:"action" binding:"required"`
	Amount         int64                  `json:"amount" binding:"required"`
	IdempotencyKey string                 `json:"idempotency_key"`
	Reference      string                 `json:"reference"`
	Metadata       map[string]interface{} `json:"metadata"`
}

func (r *PostingRequest) charge(c *gin.Context) *service.ChargeRequest {
	return &service.ChargeRequest{
		UserID:         r.UserID,
		Action:         r.Action,
		Amount:         r.Amount,
		IdempotencyKey: idempotencyKey(c, r.IdempotencyKey),
		Reference:      r.Reference,
		Metadata:       r.Metadata,
	}
}

// Charge POST /internal/v1/ledger/charge
func (h *Handler) Charge(c *gin.Context) {
	var req PostingRequest
	if !bind(c, &req) {
		return
	}
	result, err := h.svc.Ledger.Charge(c.Request.Context(), req.charge(c))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, result)
}

// Earn POST /internal/v1/ledger/earn
func (h *Handler) Earn(c *gin.Context) {
	var req PostingRequest
	if !bind(c, &req) {
		return
	}
	result, err := h.svc.Ledger.Earn(c.Request.Context(), (*service.EarnRequest)(req.charge(c)))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, result)
}

// AdminOpenAccount POST /internal/v1/accounts/:user_id/open
func (h *Handler) AdminOpenAccount(c *gin.Context) {
	userID, ok := pathUserID(c)
	if !ok {
		return
	}
	account, err := h.svc.Accounts.OpenAccount(c.Request.Context(), userID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, account)
}

// FreezeAccount POST /internal/v1/accounts/:user_id/freeze
func (h *Handler) FreezeAccount(c *gin.Context) {
	userID, ok := pathUserID(c)
	if !ok {
		return
	}
	if err := h.svc.Accounts.Freeze(c.Request.Context(), userID); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"user_id": userID, "status": model.AccountStatusFrozen})
}

// UnfreezeAccount POST /internal/v1/accounts/:user_id/unfreeze
func (h *Handler) UnfreezeAccount(c *gin.Context) {
	userID, ok := pathUserID(c)
	if !ok {
		return
	}
	if err := h.svc.Accounts.Unfreeze(c.Request.Context(), userID); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"user_id": userID, "status": model.AccountStatusActive})
}

// Reconcile GET /internal/v1/accounts/:user_id/reconcile
func (h *Handler) Reconcile(c *gin.Context) {
	userID, ok := pathUserID(c)
	if !ok {
		return
	}
	rec, err := h.svc.Ledger.Reconcile(c.Request.Context(), userID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, rec)
}

// RebuildProjection POST /internal/v1/accounts/:user_id/rebuild
func (h *Handler) RebuildProjection(c *gin.Context) {
	userID, ok := pathUserID(c)
	if !ok {
		return
	}
	account, err := h.svc.Ledger.RebuildProjection(c.Request.Context(), userID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, account)
}

type PutItemRequest struct {
	ItemRef        string `json:"item_ref" binding:"required,max=64"`
	OwnerID        int64  `json:"owner_id" binding:"required"`
	EstimatedValue int64  `json:"estimated_value" binding:"gte=0"`
}

// PutItem PUT /internal/v1/items
//
// Used by the inventory module to sync ownership of tradeable items.
func (h *Handler) PutItem(c *gin.Context) {
	var req PutItemRequest
	if !bind(c, &req) {
		return
	}
	item := &model.InventoryItem{ItemRef: req.ItemRef, OwnerID: req.OwnerID, EstimatedValue: req.EstimatedValue}
	if err := h.svc.Inventory.Put(c.Request.Context(), item); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, item)
}
