// internal/handlers/payment/webhook_handler.go
package payment

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"healthwallet-service/internal/domain/topup"
	xerrors "healthwallet-service/internal/pkg/errors"
	"healthwallet-service/internal/pkg/response"
	"healthwallet-service/internal/service/reconcile"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxWebhookBody = 64 << 10

type WebhookHandler struct {
	reconcileService *reconcile.Service
	logger           *zap.Logger
}

func NewWebhookHandler(reconcileService *reconcile.Service, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		reconcileService: reconcileService,
		logger:           logger,
	}
}

// HandleWebhook receives gateway IPN calls. VNPAY calls with GET, MoMo posts
// JSON. Both get their gateway-specific body; only an applied or ignored
// notification is a 200, anything else is a non-2xx so the gateway retries.
func (h *WebhookHandler) HandleWebhook(c *gin.Context) {
	var method topup.PaymentMethod
	if raw := c.Param("gateway"); raw != "" {
		m, ok := topup.ParsePaymentMethod(raw)
		if !ok {
			response.Error(c, http.StatusNotFound, "unknown payment gateway", xerrors.ErrUnsupportedGateway)
			return
		}
		method = m
	}

	params, err := readParams(c)
	if err != nil {
		response.ValidationError(c, "unreadable webhook payload", err)
		return
	}

	gw, err := h.reconcileService.Resolve(method, params)
	if err != nil {
		response.ServiceError(c, "unable to identify payment gateway", err)
		return
	}

	result, err := h.reconcileService.HandleWebhook(c.Request.Context(), gw.Method(), params)
	ack := gw.Acknowledge(err)
	if err != nil {
		h.logger.Warn("payment webhook not applied",
			zap.String("method", string(gw.Method())),
			zap.Error(err),
		)
		status := response.StatusFor(err)
		if status == http.StatusInternalServerError {
			_ = c.Error(err)
		}
		c.JSON(status, ack)
		return
	}

	h.logger.Info("payment webhook processed",
		zap.String("method", string(gw.Method())),
		zap.String("intent_id", result.IntentID),
		zap.String("outcome", string(result.Outcome)),
	)
	c.JSON(http.StatusOK, ack)
}

// readParams flattens the query string, form body or JSON body into one map.
// JSON numbers keep their literal text so signatures verify byte for byte.
func readParams(c *gin.Context) (map[string]string, error) {
	params := make(map[string]string)
	for k, v := range c.Request.URL.Query() {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	if c.Request.Method == http.MethodGet || c.Request.Body == nil {
		return params, nil
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return params, nil
	}

	contentType := c.ContentType()
	switch {
	case strings.Contains(contentType, "json"):
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.UseNumber()
		var raw map[string]interface{}
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("invalid json body: %w", err)
		}
		for k, v := range raw {
			params[k] = stringify(v)
		}
	case strings.Contains(contentType, "form-urlencoded"):
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		if err := c.Request.ParseForm(); err != nil {
			return nil, err
		}
		for k, v := range c.Request.PostForm {
			if len(v) > 0 {
				params[k] = v[0]
			}
		}
	default:
		return nil, errors.New("unsupported content type " + contentType)
	}
	return params, nil
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}
