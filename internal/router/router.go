// internal/router/router.go
package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/javajoker/imi-market/internal/authz"
	"github.com/javajoker/imi-market/internal/config"
	"github.com/javajoker/imi-market/internal/handlers"
	"github.com/javajoker/imi-market/internal/metrics"
	"github.com/javajoker/imi-market/internal/middleware"
	"github.com/javajoker/imi-market/internal/services"
)

// Services are the dependencies the HTTP surface is built from. Journal and
// Audit may be nil when no database is configured.
type Services struct {
	Auth     *services.AuthService
	Assets   *services.AssetService
	Ledger   *services.LedgerService
	Licenses *services.LicenseService
	Market   *services.MarketService
	Disputes *services.DisputeService
	Journal  *services.JournalService
	Audit    middleware.AuditStore
	Metrics  *metrics.Metrics
	Limiter  *middleware.RateLimiter
}

func Initialize(cfg *config.Config, svc Services) *gin.Engine {
	authHandler := handlers.NewAuthHandler(svc.Auth)
	assetHandler := handlers.NewAssetHandler(svc.Assets)
	ledgerHandler := handlers.NewLedgerHandler(svc.Ledger)
	licenseHandler := handlers.NewLicenseHandler(svc.Licenses, svc.Disputes)
	marketHandler := handlers.NewMarketHandler(svc.Market)
	disputeHandler := handlers.NewDisputeHandler(svc.Disputes)

	r := gin.New()

	// Global middleware
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	r.Use(middleware.I18nMiddleware())
	if svc.Limiter != nil {
		r.Use(svc.Limiter.Middleware())
	}
	if svc.Metrics != nil {
		r.Use(svc.Metrics.Middleware())
	}

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"version": "1.0.0",
		})
	})
	if svc.Metrics != nil && cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(svc.Metrics.Handler()))
	}

	authed := middleware.AuthRequired()
	admin := middleware.CapabilityRequired(authz.CapAdmin)
	arbitrator := middleware.CapabilityRequired(authz.CapArbitrator)

	// API v1 routes
	v1 := r.Group("/v1")
	if svc.Audit != nil {
		v1.Use(middleware.AuditLogMiddleware(svc.Audit))
	}
	{
		auth := v1.Group("/auth")
		{
			auth.POST("/challenge", authHandler.Challenge)
			auth.POST("/login", authHandler.Login)
			auth.GET("/me", authed, authHandler.Me)
		}

		assets := v1.Group("/assets")
		{
			assets.GET("/:id", assetHandler.Get)
			assets.POST("", authed, assetHandler.Register)
		}

		ledger := v1.Group("/ledger")
		{
			ledger.GET("/splits/:assetId", ledgerHandler.GetSplit)
			ledger.GET("/royalty-info/:assetId", ledgerHandler.RoyaltyInfo)
			ledger.GET("/balances/:address", ledgerHandler.Balance)

			protected := ledger.Group("")
			protected.Use(authed)
			{
				protected.POST("/splits/:assetId", ledgerHandler.ConfigureSplit)
				protected.PUT("/royalties/default", admin, ledgerHandler.SetDefaultRoyalty)
				protected.PUT("/royalties/:assetId", ledgerHandler.SetAssetRoyalty)
				protected.PUT("/platform-fee", admin, ledgerHandler.SetPlatformFee)
				protected.POST("/deposits/intent", ledgerHandler.CreateDepositIntent)
				protected.POST("/deposits", ledgerHandler.ConfirmDeposit)
				protected.POST("/deposits/manual", admin, ledgerHandler.ManualDeposit)
				protected.POST("/withdraw", ledgerHandler.Withdraw)
				protected.PUT("/payout-account", ledgerHandler.SetPayoutAccount)
				protected.GET("/payouts", ledgerHandler.Payouts)
			}
		}

		licenses := v1.Group("/licenses")
		{
			licenses.GET("/:id", licenseHandler.Get)
			licenses.GET("/:id/units/:address", licenseHandler.UnitsHeld)
			licenses.GET("/:id/payments", licenseHandler.PaymentQuote)
			licenses.GET("/:id/disputes", licenseHandler.Disputes)

			// Keeper operations are open to anyone; the core checks the
			// conditions itself.
			licenses.POST("/expire", licenseHandler.BatchMarkExpired)
			licenses.POST("/:id/expire", licenseHandler.MarkExpired)
			licenses.POST("/:id/revoke-missed", licenseHandler.RevokeForMissedPayments)
			licenses.POST("/:id/payments/missed", licenseHandler.RecordMissedPayments)

			protected := licenses.Group("")
			protected.Use(authed)
			{
				protected.POST("", licenseHandler.Mint)
				protected.POST("/:id/revoke", admin, licenseHandler.Revoke)
				protected.PUT("/:id/penalty-rate", licenseHandler.SetPenaltyRate)
				protected.POST("/:id/payments", licenseHandler.MakePayment)
			}
		}

		market := v1.Group("/market")
		{
			market.GET("", marketHandler.Status)
			market.GET("/listings/:id", marketHandler.GetListing)
			market.GET("/offers", marketHandler.ListOffers)
			market.GET("/offers/:id", marketHandler.GetOffer)

			protected := market.Group("")
			protected.Use(authed)
			{
				protected.POST("/listings", marketHandler.CreateListing)
				protected.DELETE("/listings/:id", marketHandler.CancelListing)
				protected.POST("/listings/:id/buy", marketHandler.BuyListing)
				protected.POST("/offers", marketHandler.CreateOffer)
				protected.DELETE("/offers/:id", marketHandler.CancelOffer)
				protected.POST("/offers/:id/accept", marketHandler.AcceptOffer)
				protected.POST("/pause", admin, marketHandler.Pause)
				protected.POST("/unpause", admin, marketHandler.Unpause)
			}
		}

		disputes := v1.Group("/disputes")
		{
			disputes.GET("/:id", disputeHandler.Get)

			protected := disputes.Group("")
			protected.Use(authed)
			{
				protected.POST("", disputeHandler.Submit)
				protected.POST("/evidence", middleware.UploadRateLimit(), disputeHandler.UploadEvidence)
				protected.GET("/:id/evidence", disputeHandler.Evidence)
				protected.PUT("/:id/resolve", arbitrator, disputeHandler.Resolve)
				protected.POST("/:id/execute", arbitrator, disputeHandler.Execute)
			}
		}

		if svc.Journal != nil {
			journalHandler := handlers.NewJournalHandler(svc.Journal)
			journal := v1.Group("/journal")
			{
				journal.GET("", journalHandler.Events)
				journal.GET("/settlements/:assetId", journalHandler.Settlements)
			}
		}
	}

	return r
}
