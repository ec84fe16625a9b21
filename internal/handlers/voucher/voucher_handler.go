// internal/handlers/voucher/voucher_handler.go
package voucher

import (
	"net/http"
	"strconv"

	"healthwallet-service/internal/domain/loyalty"
	"healthwallet-service/internal/middleware"
	"healthwallet-service/internal/pkg/response"
	loyaltyService "healthwallet-service/internal/service/loyalty"

	"github.com/gin-gonic/gin"
)

type VoucherHandler struct {
	voucherService *loyaltyService.VoucherService
}

func NewVoucherHandler(voucherService *loyaltyService.VoucherService) *VoucherHandler {
	return &VoucherHandler{voucherService: voucherService}
}

func (h *VoucherHandler) ListAvailable(c *gin.Context) {
	accountID := middleware.MustGetIdentityID(c)

	vouchers, err := h.voucherService.ListAvailableVouchers(c.Request.Context(), accountID)
	if err != nil {
		response.ServiceError(c, "failed to list vouchers", err)
		return
	}

	response.Success(c, http.StatusOK, "vouchers retrieved", loyalty.VoucherListResponse{
		Vouchers: vouchers,
		Count:    len(vouchers),
	})
}

func (h *VoucherHandler) ListRedeemed(c *gin.Context) {
	accountID := middleware.MustGetIdentityID(c)

	redeemed, err := h.voucherService.ListRedeemedVouchers(c.Request.Context(), accountID)
	if err != nil {
		response.ServiceError(c, "failed to list redeemed vouchers", err)
		return
	}

	response.Success(c, http.StatusOK, "redeemed vouchers retrieved", gin.H{
		"vouchers": redeemed,
		"count":    len(redeemed),
	})
}

func (h *VoucherHandler) Redeem(c *gin.Context) {
	accountID := middleware.MustGetIdentityID(c)

	voucherID, ok := voucherIDParam(c)
	if !ok {
		return
	}

	result, err := h.voucherService.RedeemVoucher(c.Request.Context(), accountID, voucherID)
	if err != nil {
		response.ServiceError(c, "failed to redeem voucher", err)
		return
	}

	response.Success(c, http.StatusOK, "voucher redeemed", result)
}

func (h *VoucherHandler) MarkUsed(c *gin.Context) {
	accountID := middleware.MustGetIdentityID(c)

	voucherID, ok := voucherIDParam(c)
	if !ok {
		return
	}

	redemption, err := h.voucherService.MarkVoucherUsed(c.Request.Context(), accountID, voucherID)
	if err != nil {
		response.ServiceError(c, "failed to use voucher", err)
		return
	}

	response.Success(c, http.StatusOK, "voucher marked as used", redemption)
}

func voucherIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.Error(c, http.StatusBadRequest, "invalid voucher id", err)
		return 0, false
	}
	return id, true
}
