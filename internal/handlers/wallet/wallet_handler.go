// internal/handlers/wallet/wallet_handler.go
package wallet

import (
	"net/http"

	"healthwallet-service/internal/domain/wallet"
	"healthwallet-service/internal/middleware"
	"healthwallet-service/internal/pkg/response"
	"healthwallet-service/internal/service/ledger"
	"healthwallet-service/internal/service/loyalty"

	"github.com/gin-gonic/gin"
)

type WalletHandler struct {
	ledgerService *ledger.Service
	tiers         *loyalty.TierTable
}

func NewWalletHandler(ledgerService *ledger.Service, tiers *loyalty.TierTable) *WalletHandler {
	return &WalletHandler{
		ledgerService: ledgerService,
		tiers:         tiers,
	}
}

// GetWallet returns balance, points and tier for the caller.
func (h *WalletHandler) GetWallet(c *gin.Context) {
	accountID := middleware.MustGetIdentityID(c)

	state, err := h.ledgerService.GetWalletState(c.Request.Context(), accountID)
	if err != nil {
		response.ServiceError(c, "failed to load wallet", err)
		return
	}

	response.Success(c, http.StatusOK, "wallet retrieved", state)
}

// ListTransactions pages through the caller's ledger, newest first.
func (h *WalletHandler) ListTransactions(c *gin.Context) {
	accountID := middleware.MustGetIdentityID(c)

	var q wallet.TransactionQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.ValidationError(c, "invalid query parameters", err)
		return
	}

	result, err := h.ledgerService.ListTransactions(c.Request.Context(), accountID, q)
	if err != nil {
		response.ServiceError(c, "failed to list transactions", err)
		return
	}

	response.Success(c, http.StatusOK, "transactions retrieved", result)
}

// GetTiers lists the loyalty tier table.
func (h *WalletHandler) GetTiers(c *gin.Context) {
	response.Success(c, http.StatusOK, "loyalty tiers", gin.H{
		"tiers": h.tiers.Tiers(),
	})
}
