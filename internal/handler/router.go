package handler

import (
	"net/http"

	"creditsystem/internal/config"
	"creditsystem/internal/metrics"
	"creditsystem/internal/service"

	"github.com/gin-gonic/gin"
)

// SetupRouter wires middleware and routes. User routes act on the token's
// subject; /internal routes require the service role.
func SetupRouter(svc *service.Services, cfg *config.Config, limiter *RateLimiter) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())
	r.Use(metrics.GinMiddleware())

	h := NewHandler(svc)
	auth := AuthMiddleware(cfg.Auth.JWTSecret, cfg.Auth.Issuer)

	api := r.Group("/api/v1", auth)
	if limiter != nil {
		api.Use(limiter.Middleware())
	}
	{
		account := api.Group("/account")
		{
			account.POST("/open", h.OpenAccount)
			account.GET("", h.GetAccount)
			account.GET("/balance", h.GetBalance)
			account.GET("/wealth-tier", h.GetWealthTier)
		}

		api.GET("/ledger", h.ListLedger)
		api.GET("/earn-events", h.ListEarnEvents)
		api.POST("/earn-events/seen", h.MarkEarnEventsSeen)

		api.POST("/transfers", h.Transfer)
		api.GET("/transfers", h.ListTransfers)

		listings := api.Group("/listings")
		{
			listings.POST("", h.CreateListing)
			listings.GET("", h.ListListings)
			listings.GET("/:id", h.GetListing)
			listings.POST("/:id/cancel", h.CancelListing)
			listings.POST("/:id/buy", h.BuyNow)
			listings.POST("/:id/bids", h.PlaceBid)
			listings.POST("/:id/offers", h.MakeOffer)
			listings.GET("/:id/offers", h.ListOffers)
		}

		offers := api.Group("/offers")
		{
			offers.POST("/:id/accept", h.AcceptOffer)
			offers.POST("/:id/reject", h.RejectOffer)
			offers.POST("/:id/withdraw", h.WithdrawOffer)
		}

		trades := api.Group("/trades")
		{
			trades.POST("", h.CreateTrade)
			trades.GET("", h.ListTrades)
			trades.GET("/:id", h.GetTrade)
			trades.POST("/:id/accept", h.AcceptTrade)
			trades.POST("/:id/decline", h.DeclineTrade)
			trades.POST("/:id/cancel", h.CancelTrade)
		}

		loan := api.Group("/loan")
		{
			loan.GET("", h.GetLoan)
			loan.POST("/request", h.RequestLoan)
			loan.POST("/repay", h.RepayLoan)
		}
	}

	internal := r.Group("/internal/v1", auth, RequireRole(RoleService))
	{
		internal.POST("/ledger/charge", h.Charge)
		internal.POST("/ledger/earn", h.Earn)

		accounts := internal.Group("/accounts/:user_id")
		{
			accounts.POST("/open", h.AdminOpenAccount)
			accounts.POST("/freeze", h.FreezeAccount)
			accounts.POST("/unfreeze", h.UnfreezeAccount)
			accounts.GET("/reconcile", h.Reconcile)
			accounts.POST("/rebuild", h.RebuildProjection)
		}

		internal.PUT("/items", h.PutItem)
	}

	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r
}
