// internal/app/router.go
package app

import (
	chargeHandler "healthwallet-service/internal/handlers/charge"
	paymentHandler "healthwallet-service/internal/handlers/payment"
	topupHandler "healthwallet-service/internal/handlers/topup"
	voucherHandler "healthwallet-service/internal/handlers/voucher"
	walletHandler "healthwallet-service/internal/handlers/wallet"
	wsHandler "healthwallet-service/internal/handlers/websocket"
	"healthwallet-service/internal/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Handlers struct {
	WalletHandler  *walletHandler.WalletHandler
	TopUpHandler   *topupHandler.TopUpHandler
	WebhookHandler *paymentHandler.WebhookHandler
	VoucherHandler *voucherHandler.VoucherHandler
	ChargeHandler  *chargeHandler.ChargeHandler
	WSHandler      *wsHandler.WebSocketHandler
	AuthMiddleware *middleware.AuthMiddleware
}

func SetupRouter(r *gin.Engine, logger *zap.Logger, h *Handlers) {
	api := r.Group("/api/v1")

	// ==================== Health Check ====================
	health := func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "version": "1.0.0"})
	}
	r.GET("/health", health)
	api.GET("/health", health)

	// ==================== WebSocket ====================
	r.GET("/ws", h.WSHandler.HandleConnection)

	// ==================== Payment Gateway Callbacks ====================
	// Authenticated by gateway signature, not by JWT.
	webhooks := api.Group("/webhooks/payment")
	{
		webhooks.POST("", h.WebhookHandler.HandleWebhook)
		webhooks.POST("/:gateway", h.WebhookHandler.HandleWebhook)
		webhooks.GET("/:gateway", h.WebhookHandler.HandleWebhook)
	}

	// Browser return URL; the user may arrive without a session.
	api.GET("/wallet/payment/result", h.TopUpHandler.PaymentResult)

	// ==================== Wallet ====================
	wallet := api.Group("/wallet")
	wallet.Use(h.AuthMiddleware.Auth())
	{
		wallet.GET("", h.WalletHandler.GetWallet)
		wallet.GET("/transactions", h.WalletHandler.ListTransactions)
		wallet.GET("/tiers", h.WalletHandler.GetTiers)

		wallet.POST("/topup", h.TopUpHandler.CreateTopUp)
		wallet.GET("/topup/:intentId", h.TopUpHandler.GetIntent)

		vouchers := wallet.Group("/vouchers")
		{
			vouchers.GET("", h.VoucherHandler.ListAvailable)
			vouchers.GET("/redeemed", h.VoucherHandler.ListRedeemed)
			vouchers.POST("/:id/redeem", h.VoucherHandler.Redeem)
			vouchers.POST("/:id/use", h.VoucherHandler.MarkUsed)
		}
	}

	// ==================== Internal (appointment service) ====================
	internal := api.Group("/internal/wallet")
	internal.Use(h.AuthMiddleware.InternalOnly())
	{
		internal.POST("/:accountId/payments", h.ChargeHandler.Pay)
		internal.POST("/:accountId/refunds", h.ChargeHandler.Refund)
	}

	// ==================== Admin ====================
	admin := api.Group("/admin")
	admin.Use(h.AuthMiddleware.AdminOnly()...)
	{
		admin.GET("/ws/stats", h.WSHandler.GetStats)
	}

	logger.Info("routes registered", zap.Int("count", len(r.Routes())))
}
