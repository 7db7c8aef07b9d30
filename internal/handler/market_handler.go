package handler

import (
	"time"

	"creditsystem/internal/service"
	"creditsystem/pkg/response"

	"github.com/gin-gonic/gin"
)

type CreateListingRequest struct {
	ItemRef       string `json:"item_ref" binding:"required"`
	ListingType   string `json:"listing_type" binding:"required"`
	Price         int64  `json:"price" binding:"required"`
	DurationHours int    `json:"duration_hours" binding:"gte=0"`
}

// CreateListing POST /api/v1/listings
func (h *Handler) CreateListing(c *gin.Context) {
	var req CreateListingRequest
	if !bind(c, &req) {
		return
	}
	listing, err := h.svc.Marketplace.CreateListing(c.Request.Context(), &service.CreateListingRequest{
		SellerID:    currentUser(c),
		ItemRef:     req.ItemRef,
		ListingType: req.ListingType,
		Price:       req.Price,
		Duration:    time.Duration(req.DurationHours) * time.Hour,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, listing)
}

// ListListings GET /api/v1/listings?page=1&page_size=20
func (h *Handler) ListListings(c *gin.Context) {
	page := queryInt(c, "page", 1)
	size := queryInt(c, "page_size", 20)
	listings, total, err := h.svc.Marketplace.ListActiveListings(c.Request.Context(), page, size)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"list": listings, "total": total, "page": page, "page_size": size})
}

// GetListing GET /api/v1/listings/:id
func (h *Handler) GetListing(c *gin.Context) {
	listing, err := h.svc.Marketplace.GetListing(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, listing)
}

// CancelListing POST /api/v1/listings/:id/cancel
func (h *Handler) CancelListing(c *gin.Context) {
	if err := h.svc.Marketplace.CancelListing(c.Request.Context(), c.Param("id"), currentUser(c)); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"listing_id": c.Param("id")})
}

// BuyNow POST /api/v1/listings/:id/buy
func (h *Handler) BuyNow(c *gin.Context) {
	result, err := h.svc.Marketplace.BuyNow(c.Request.Context(), c.Param("id"), currentUser(c))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, result)
}

type BidRequest struct {
	Amount int64 `json:"amount" binding:"required"`
}

// PlaceBid POST /api/v1/listings/:id/bids
func (h *Handler) PlaceBid(c *gin.Context) {
	var req BidRequest
	if !bind(c, &req) {
		return
	}
	result, err := h.svc.Marketplace.PlaceBid(c.Request.Context(), c.Param("id"), currentUser(c), req.Amount)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, result)
}

type OfferRequest struct {
	Amount  int64  `json:"amount" binding:"required"`
	Message string `json:"message"`
}

// MakeOffer POST /api/v1/listings/:id/offers
func (h *Handler) MakeOffer(c *gin.Context) {
	var req OfferRequest
	if !bind(c, &req) {
		return
	}
	offer, err := h.svc.Marketplace.MakeOffer(c.Request.Context(), &service.MakeOfferRequest{
		ListingID: c.Param("id"),
		BuyerID:   currentUser(c),
		Amount:    req.Amount,
		Message:   req.Message,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, offer)
}

// ListOffers GET /api/v1/listings/:id/offers
func (h *Handler) ListOffers(c *gin.Context) {
	offers, err := h.svc.Marketplace.ListOffers(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, offers)
}

// AcceptOffer POST /api/v1/offers/:id/accept
func (h *Handler) AcceptOffer(c *gin.Context) {
	result, err := h.svc.Marketplace.AcceptOffer(c.Request.Context(), c.Param("id"), currentUser(c))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, result)
}

// RejectOffer POST /api/v1/offers/:id/reject
func (h *Handler) RejectOffer(c *gin.Context) {
	if err := h.svc.Marketplace.RejectOffer(c.Request.Context(), c.Param("id"), currentUser(c)); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"offer_id": c.Param("id")})
}

// WithdrawOffer POST /api/v1/offers/:id/withdraw
func (h *Handler) WithdrawOffer(c *gin.Context) {
	if err := h.svc.Marketplace.WithdrawOffer(c.Request.Context(), c.Param("id"), currentUser(c)); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"offer_id": c.Param("id")})
}
