// internal/pkg/gateway/momo.go
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"healthwallet-service/internal/domain/topup"
	xerrors "healthwallet-service/internal/pkg/errors"

	"github.com/google/uuid"
)

const momoSuccessCode = "0"

type MoMoConfig struct {
	PartnerCode string
	AccessKey   string
	SecretKey   string
	Endpoint    string // .../v2/gateway/api/create
	RedirectURL string
	IPNURL      string
	RequestType string
	Timeout     time.Duration
}

type MoMo struct {
	cfg    MoMoConfig
	client *http.Client
}

func NewMoMo(cfg MoMoConfig, client *http.Client) *MoMo {
	if cfg.RequestType == "" {
		cfg.RequestType = "captureWallet"
	}
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &MoMo{cfg: cfg, client: client}
}

func (m *MoMo) Method() topup.PaymentMethod {
	return topup.PaymentMethodMoMo
}

type momoCreateRequest struct {
	PartnerCode string `json:"partnerCode"`
	AccessKey   string `json:"accessKey"`
	RequestID   string `json:"requestId"`
	Amount      int64  `json:"amount"`
	OrderID     string `json:"orderId"`
	OrderInfo   string `json:"orderInfo"`
	RedirectURL string `json:"redirectUrl"`
	IPNURL      string `json:"ipnUrl"`
	ExtraData   string `json:"extraData"`
	RequestType string `json:"requestType"`
	Lang        string `json:"lang"`
	Signature   string `json:"signature"`
}

type momoCreateResponse struct {
	PartnerCode string `json:"partnerCode"`
	OrderID     string `json:"orderId"`
	RequestID   string `json:"requestId"`
	ResultCode  int    `json:"resultCode"`
	Message     string `json:"message"`
	PayURL      string `json:"payUrl"`
}

// Initiate calls MoMo's create endpoint and returns its payUrl.
func (m *MoMo) Initiate(ctx context.Context, req InitiateRequest) (string, error) {
	if m.cfg.PartnerCode == "" || m.cfg.SecretKey == "" || m.cfg.Endpoint == "" {
		return "", fmt.Errorf("momo is not configured: %w", ErrRejected)
	}

	body := momoCreateRequest{
		PartnerCode: m.cfg.PartnerCode,
		AccessKey:   m.cfg.AccessKey,
		RequestID:   uuid.NewString(),
		Amount:      req.AmountMinorUnits,
		OrderID:     req.IntentID,
		OrderInfo:   req.OrderInfo,
		RedirectURL: m.cfg.RedirectURL,
		IPNURL:      m.cfg.IPNURL,
		RequestType: m.cfg.RequestType,
		Lang:        "vi",
	}
	raw := "accessKey=" + m.cfg.AccessKey +
		"&amount=" + strconv.FormatInt(body.Amount, 10) +
		"&extraData=" + body.ExtraData +
		"&ipnUrl=" + body.IPNURL +
		"&orderId=" + body.OrderID +
		"&orderInfo=" + body.OrderInfo +
		"&partnerCode=" + body.PartnerCode +
		"&redirectUrl=" + body.RedirectURL +
		"&requestId=" + body.RequestID +
		"&requestType=" + body.RequestType
	body.Signature = hmacSHA256(m.cfg.SecretKey, raw)

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to encode momo request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build momo request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("momo create: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("momo create: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return "", fmt.Errorf("momo create: http %d", resp.StatusCode)
	}

	var out momoCreateResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("momo create: decode response (http %d): %w", resp.StatusCode, err)
	}
	if out.ResultCode != 0 || out.PayURL == "" {
		return "", fmt.Errorf("momo create: result %d %s: %w", out.ResultCode, out.Message, ErrRejected)
	}
	return out.PayURL, nil
}

// Sign computes the signature MoMo attaches to redirects and IPN calls.
func (m *MoMo) Sign(p map[string]string) string {
	raw := "accessKey=" + m.cfg.AccessKey +
		"&amount=" + p["amount"] +
		"&extraData=" + p["extraData"] +
		"&message=" + p["message"] +
		"&orderId=" + p["orderId"] +
		"&orderInfo=" + p["orderInfo"] +
		"&orderType=" + p["orderType"] +
		"&partnerCode=" + p["partnerCode"] +
		"&payType=" + p["payType"] +
		"&requestId=" + p["requestId"] +
		"&responseTime=" + p["responseTime"] +
		"&resultCode=" + p["resultCode"] +
		"&transId=" + p["transId"]
	return hmacSHA256(m.cfg.SecretKey, raw)
}

func (m *MoMo) ParseNotification(params map[string]string) (*topup.GatewayResult, error) {
	intentID := params["orderId"]
	if intentID == "" {
		return nil, fmt.Errorf("missing orderId: %w", ErrMalformed)
	}

	code := params["resultCode"]
	result := &topup.GatewayResult{
		Method:     topup.PaymentMethodMoMo,
		IntentID:   intentID,
		ResultCode: code,
		Message:    params["message"],
		Success:    code == momoSuccessCode,
		SignatureValid: params["signature"] != "" &&
			params["partnerCode"] == m.cfg.PartnerCode &&
			signatureEqual(m.Sign(params), params["signature"]),
	}
	if trans := params["transId"]; trans != "" && trans != "0" {
		result.GatewayReference = Reference(topup.PaymentMethodMoMo, trans)
	}
	if raw := params["amount"]; raw != "" {
		amount, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("amount %q: %w", raw, ErrMalformed)
		}
		result.AmountMinorUnits = amount
	}
	return result, nil
}

// Acknowledge builds the IPN reply body. MoMo only needs a 2xx; the body is
// informational.
func (m *MoMo) Acknowledge(err error) map[string]interface{} {
	resultCode, message := 0, "success"
	switch {
	case err == nil:
	case xerrors.Is(err, xerrors.ErrInvalidSignature):
		resultCode, message = 1, "invalid signature"
	case xerrors.Is(err, xerrors.ErrAmountMismatch):
		resultCode, message = 1, "amount mismatch"
	default:
		resultCode, message = 1, "processing failed"
	}
	return map[string]interface{}{
		"partnerCode": m.cfg.PartnerCode,
		"resultCode":  resultCode,
		"message":     message,
	}
}
