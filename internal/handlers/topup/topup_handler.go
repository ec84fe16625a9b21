// internal/handlers/topup/topup_handler.go
package topup

import (
	"net/http"

	"healthwallet-service/internal/domain/topup"
	"healthwallet-service/internal/middleware"
	"healthwallet-service/internal/pkg/response"
	"healthwallet-service/internal/service/reconcile"
	topupService "healthwallet-service/internal/service/topup"

	"github.com/gin-gonic/gin"
)

type TopUpHandler struct {
	topupService     *topupService.Service
	reconcileService *reconcile.Service
}

func NewTopUpHandler(topupService *topupService.Service, reconcileService *reconcile.Service) *TopUpHandler {
	return &TopUpHandler{
		topupService:     topupService,
		reconcileService: reconcileService,
	}
}

// CreateTopUp opens an intent and returns the gateway URL.
func (h *TopUpHandler) CreateTopUp(c *gin.Context) {
	accountID := middleware.MustGetIdentityID(c)

	var req topup.CreateTopUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request", err)
		return
	}

	result, err := h.topupService.CreateTopUp(c.Request.Context(), accountID, &req, c.ClientIP())
	if err != nil {
		response.ServiceError(c, "failed to create top-up", err)
		return
	}

	response.Success(c, http.StatusCreated, "top-up created", result)
}

// GetIntent returns one of the caller's intents so the app can poll it.
func (h *TopUpHandler) GetIntent(c *gin.Context) {
	accountID := middleware.MustGetIdentityID(c)

	intent, err := h.topupService.GetIntent(c.Request.Context(), accountID, c.Param("intentId"))
	if err != nil {
		response.ServiceError(c, "top-up not found", err)
		return
	}

	response.Success(c, http.StatusOK, "top-up retrieved", intent)
}

// PaymentResult is where the gateway redirects the browser. The answer is
// provisional; the wallet changes only when the webhook arrives.
func (h *TopUpHandler) PaymentResult(c *gin.Context) {
	params := make(map[string]string)
	for k, v := range c.Request.URL.Query() {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}

	status, err := h.reconcileService.HandleRedirect(c.Request.Context(), "", params)
	if err != nil {
		response.ServiceError(c, "unable to read payment result", err)
		return
	}

	response.Success(c, http.StatusOK, "payment result", status)
}
