// internal/handlers/charge/charge_handler.go
package charge

import (
	"net/http"
	"strconv"

	"healthwallet-service/internal/domain/wallet"
	"healthwallet-service/internal/pkg/response"
	"healthwallet-service/internal/service/ledger"

	"github.com/gin-gonic/gin"
)

// ChargeHandler serves the booking application's internal calls.
type ChargeHandler struct {
	ledgerService *ledger.Service
}

func NewChargeHandler(ledgerService *ledger.Service) *ChargeHandler {
	return &ChargeHandler{ledgerService: ledgerService}
}

// Pay debits an appointment fee. Repeating the call for the same
// appointment returns the original transaction.
func (h *ChargeHandler) Pay(c *gin.Context) {
	accountID, req, ok := bindCharge(c)
	if !ok {
		return
	}

	t, err := h.ledgerService.PayAppointment(c.Request.Context(), accountID, req)
	if err != nil {
		response.ServiceError(c, "failed to charge wallet", err)
		return
	}

	response.Success(c, http.StatusOK, "appointment paid", t)
}

// Refund credits back a previously paid appointment.
func (h *ChargeHandler) Refund(c *gin.Context) {
	accountID, req, ok := bindCharge(c)
	if !ok {
		return
	}

	t, err := h.ledgerService.RefundAppointment(c.Request.Context(), accountID, req)
	if err != nil {
		response.ServiceError(c, "failed to refund appointment", err)
		return
	}

	response.Success(c, http.StatusOK, "appointment refunded", t)
}

func bindCharge(c *gin.Context) (int64, *wallet.ChargeRequest, bool) {
	accountID, err := strconv.ParseInt(c.Param("accountId"), 10, 64)
	if err != nil || accountID <= 0 {
		response.Error(c, http.StatusBadRequest, "invalid account id", err)
		return 0, nil, false
	}

	var req wallet.ChargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request", err)
		return 0, nil, false
	}
	return accountID, &req, true
}
