// internal/pkg/response/response.go
package response

import (
	"errors"
	"net/http"

	xerrors "healthwallet-service/internal/pkg/errors"

	"github.com/gin-gonic/gin"
)

// Response is the envelope every endpoint answers with, except the
// gateway acknowledgements.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Success sends a successful response with a message and optional data.
func Success(c *gin.Context, status int, message string, data interface{}) {
	if status == 0 {
		status = http.StatusOK
	}

	c.JSON(status, Response{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// Error aborts the chain and sends a standardized error response.
func Error(c *gin.Context, code int, message string, err error, data ...interface{}) {
	c.Abort()

	resp := Response{
		Success: false,
		Message: message,
	}
	if err != nil {
		resp.Error = err.Error()
	}
	if len(data) > 0 {
		resp.Data = data[0]
	}

	c.JSON(code, resp)
}

// ValidationError is a 400 for requests that fail binding.
func ValidationError(c *gin.Context, message string, err error) {
	Error(c, http.StatusBadRequest, message, err)
}

var statusBySentinel = []struct {
	err    error
	status int
}{
	{xerrors.ErrInvalidAmount, http.StatusBadRequest},
	{xerrors.ErrInvalidTransaction, http.StatusBadRequest},
	{xerrors.ErrInvalidInput, http.StatusBadRequest},
	{xerrors.ErrBadRequest, http.StatusBadRequest},
	{xerrors.ErrUnsupportedGateway, http.StatusBadRequest},
	{xerrors.ErrInvalidSignature, http.StatusBadRequest},
	{xerrors.ErrUnauthorized, http.StatusUnauthorized},
	{xerrors.ErrForbidden, http.StatusForbidden},
	{xerrors.ErrAccountNotFound, http.StatusNotFound},
	{xerrors.ErrVoucherNotFound, http.StatusNotFound},
	{xerrors.ErrIntentNotFound, http.StatusNotFound},
	{xerrors.ErrNotRedeemed, http.StatusNotFound},
	{xerrors.ErrNotFound, http.StatusNotFound},
	{xerrors.ErrAlreadyRedeemed, http.StatusConflict},
	{xerrors.ErrAlreadyUsed, http.StatusConflict},
	{xerrors.ErrDuplicateReference, http.StatusConflict},
	{xerrors.ErrAmountMismatch, http.StatusConflict},
	{xerrors.ErrConflict, http.StatusConflict},
	{xerrors.ErrInsufficientFunds, http.StatusUnprocessableEntity},
	{xerrors.ErrInsufficientPoints, http.StatusUnprocessableEntity},
	{xerrors.ErrRateLimited, http.StatusTooManyRequests},
	{xerrors.ErrGatewayUnavailable, http.StatusBadGateway},
}

// StatusFor maps a service error to an HTTP status. Unknown errors are 500.
func StatusFor(err error) int {
	for _, s := range statusBySentinel {
		if errors.Is(err, s.err) {
			return s.status
		}
	}
	return http.StatusInternalServerError
}

// ServiceError writes err with the status StatusFor picks. Internal errors
// are not echoed to the client.
func ServiceError(c *gin.Context, message string, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		Error(c, status, message, xerrors.ErrInternal)
		return
	}
	Error(c, status, message, err)
}
