package handler

import (
	"creditsystem/internal/service"
	"creditsystem/pkg/response"

	"github.com/gin-gonic/gin"
)

type CreateTradeRequest struct {
	ReceiverID       int64    `json:"receiver_id" binding:"required"`
	InitiatorItems   []string `json:"initiator_items"`
	InitiatorCredits int64    `json:"initiator_credits" binding:"gte=0"`
	ReceiverItems    []string `json:"receiver_items"`
	ReceiverCredits  int64    `json:"receiver_credits" binding:"gte=0"`
	Message          string   `json:"message"`
}

// CreateTrade POST /api/v1/trades
func (h *Handler) CreateTrade(c *gin.Context) {
	var req CreateTradeRequest
	if !bind(c, &req) {
		return
	}
	result, err := h.svc.Trades.CreateTrade(c.Request.Context(), &service.CreateTradeRequest{
		InitiatorID:      currentUser(c),
		ReceiverID:       req.ReceiverID,
		InitiatorItems:   req.InitiatorItems,
		InitiatorCredits: req.InitiatorCredits,
		ReceiverItems:    req.ReceiverItems,
		ReceiverCredits:  req.ReceiverCredits,
		Message:          req.Message,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, result)
}

// ListTrades GET /api/v1/trades?status=PENDING&limit=20
func (h *Handler) ListTrades(c *gin.Context) {
	trades, err := h.svc.Trades.ListTrades(c.Request.Context(), currentUser(c), c.Query("status"), queryInt(c, "limit", 20))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, trades)
}

// GetTrade GET /api/v1/trades/:id
func (h *Handler) GetTrade(c *gin.Context) {
	result, err := h.svc.Trades.GetTrade(c.Request.Context(), c.Param("id"), currentUser(c))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, result)
}

// AcceptTrade POST /api/v1/trades/:id/accept
func (h *Handler) AcceptTrade(c *gin.Context) {
	result, err := h.svc.Trades.AcceptTrade(c.Request.Context(), c.Param("id"), currentUser(c))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, result)
}

// DeclineTrade POST /api/v1/trades/:id/decline
func (h *Handler) DeclineTrade(c *gin.Context) {
	if err := h.svc.Trades.DeclineTrade(c.Request.Context(), c.Param("id"), currentUser(c)); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"trade_id": c.Param("id")})
}

// CancelTrade POST /api/v1/trades/:id/cancel
func (h *Handler) CancelTrade(c *gin.Context) {
	if err := h.svc.Trades.CancelTrade(c.Request.Context(), c.Param("id"), currentUser(c)); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"trade_id": c.Param("id")})
}
