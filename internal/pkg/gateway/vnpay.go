// internal/pkg/gateway/vnpay.go
package gateway

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"healthwallet-service/internal/domain/topup"
	xerrors "healthwallet-service/internal/pkg/errors"
	"healthwallet-service/internal/pkg/money"
)

const (
	vnpVersion       = "2.1.0"
	vnpAmountFactor  = 100
	vnpTimeLayout    = "20060102150405"
	vnpSessionWindow = 15 * time.Minute
	vnpSuccessCode   = "00"
)

// vnpZone is GMT+7, the timezone VNPAY expects create/expire dates in.
var vnpZone = time.FixedZone("GMT+7", 7*60*60)

type VNPayConfig struct {
	TmnCode    string
	HashSecret string
	PayURL     string
	ReturnURL  string
}

type VNPay struct {
	cfg VNPayConfig
	now func() time.Time
}

func NewVNPay(cfg VNPayConfig) *VNPay {
	return &VNPay{cfg: cfg, now: time.Now}
}

func (v *VNPay) Method() topup.PaymentMethod {
	return topup.PaymentMethodVNPay
}

// Initiate builds the signed redirect URL. No network call is made.
func (v *VNPay) Initiate(ctx context.Context, req InitiateRequest) (string, error) {
	if v.cfg.TmnCode == "" || v.cfg.HashSecret == "" || v.cfg.PayURL == "" {
		return "", fmt.Errorf("vnpay is not configured: %w", ErrRejected)
	}

	created := req.CreatedAt
	if created.IsZero() {
		created = v.now()
	}
	created = created.In(vnpZone)

	ip := req.ClientIP
	if ip == "" {
		ip = "127.0.0.1"
	}

	params := map[string]string{
		"vnp_Version":    vnpVersion,
		"vnp_Command":    "pay",
		"vnp_TmnCode":    v.cfg.TmnCode,
		"vnp_Amount":     money.ToGatewayUnits(req.AmountMinorUnits, vnpAmountFactor),
		"vnp_CurrCode":   money.Currency,
		"vnp_TxnRef":     req.IntentID,
		"vnp_OrderInfo":  req.OrderInfo,
		"vnp_OrderType":  "other",
		"vnp_Locale":     "vn",
		"vnp_ReturnUrl":  v.cfg.ReturnURL,
		"vnp_IpAddr":     ip,
		"vnp_CreateDate": created.Format(vnpTimeLayout),
		"vnp_ExpireDate": created.Add(vnpSessionWindow).Format(vnpTimeLayout),
	}

	hashData, query := v.canonical(params)
	return v.cfg.PayURL + "?" + query + "&vnp_SecureHash=" + hmacSHA512(v.cfg.HashSecret, hashData), nil
}

// canonical returns the hash input and the query string: non-empty params
// sorted by name, values form-encoded.
func (v *VNPay) canonical(params map[string]string) (string, string) {
	names := make([]string, 0, len(params))
	for name, value := range params {
		if value != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	hashParts := make([]string, 0, len(names))
	queryParts := make([]string, 0, len(names))
	for _, name := range names {
		value := formEncode(params[name])
		hashParts = append(hashParts, name+"="+value)
		queryParts = append(queryParts, formEncode(name)+"="+value)
	}
	return strings.Join(hashParts, "&"), strings.Join(queryParts, "&")
}

// Sign returns the secure hash VNPAY would attach to params.
func (v *VNPay) Sign(params map[string]string) string {
	filtered := make(map[string]string, len(params))
	for k, val := range params {
		if k == "vnp_SecureHash" || k == "vnp_SecureHashType" {
			continue
		}
		filtered[k] = val
	}
	hashData, _ := v.canonical(filtered)
	return hmacSHA512(v.cfg.HashSecret, hashData)
}

func (v *VNPay) ParseNotification(params map[string]string) (*topup.GatewayResult, error) {
	intentID := params["vnp_TxnRef"]
	if intentID == "" {
		return nil, fmt.Errorf("missing vnp_TxnRef: %w", ErrMalformed)
	}

	code := params["vnp_ResponseCode"]
	result := &topup.GatewayResult{
		Method:         topup.PaymentMethodVNPay,
		IntentID:       intentID,
		ResultCode:     code,
		Message:        vnpMessage(code),
		SignatureValid: params["vnp_SecureHash"] != "" && signatureEqual(v.Sign(params), params["vnp_SecureHash"]),
	}

	status := params["vnp_TransactionStatus"]
	result.Success = code == vnpSuccessCode && (status == "" || status == vnpSuccessCode)

	if no := params["vnp_TransactionNo"]; no != "" && no != "0" {
		result.GatewayReference = Reference(topup.PaymentMethodVNPay, no)
	}
	if raw := params["vnp_Amount"]; raw != "" {
		amount, err := money.FromGatewayUnits(raw, vnpAmountFactor)
		if err != nil {
			return nil, fmt.Errorf("%v: %w", err, ErrMalformed)
		}
		result.AmountMinorUnits = amount
	}
	return result, nil
}

// Acknowledge maps processing outcomes to VNPAY IPN response codes.
func (v *VNPay) Acknowledge(err error) map[string]interface{} {
	code, message := "00", "Confirm Success"
	switch {
	case err == nil:
	case xerrors.Is(err, xerrors.ErrInvalidSignature):
		code, message = "97", "Invalid Checksum"
	case xerrors.Is(err, xerrors.ErrAmountMismatch):
		code, message = "04", "Invalid Amount"
	case xerrors.Is(err, ErrMalformed):
		code, message = "01", "Order not Found"
	default:
		code, message = "99", "Unknown error"
	}
	return map[string]interface{}{"RspCode": code, "Message": message}
}

var vnpMessages = map[string]string{
	"00": "Transaction successful",
	"07": "Deducted successfully, transaction suspected of fraud",
	"09": "Card or account not registered for internet banking",
	"10": "Card or account authentication failed more than 3 times",
	"11": "Payment window expired",
	"12": "Card or account is locked",
	"13": "Wrong OTP",
	"24": "Customer cancelled the transaction",
	"51": "Insufficient balance",
	"65": "Daily transaction limit exceeded",
	"75": "Bank under maintenance",
	"79": "Wrong payment password too many times",
	"99": "Other error",
}

func vnpMessage(code string) string {
	if m, ok := vnpMessages[code]; ok {
		return m
	}
	return "Unknown response code " + code
}

// formEncode matches the form encoding used by VNPAY's reference
// implementation, which leaves '*' alone and escapes '~'.
func formEncode(s string) string {
	encoded := url.QueryEscape(s)
	encoded = strings.ReplaceAll(encoded, "%2A", "*")
	return strings.ReplaceAll(encoded, "~", "%7E")
}
