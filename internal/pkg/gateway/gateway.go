// internal/pkg/gateway/gateway.go
package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"healthwallet-service/internal/domain/topup"
	xerrors "healthwallet-service/internal/pkg/errors"
)

// ErrRejected means the gateway answered and refused the request. Retrying
// the same request will not help.
var ErrRejected = errors.New("payment gateway rejected request")

// ErrMalformed means a notification lacks the fields needed to correlate it.
var ErrMalformed = fmt.Errorf("malformed gateway notification: %w", xerrors.ErrInvalidInput)

type InitiateRequest struct {
	IntentID         string
	AmountMinorUnits int64
	OrderInfo        string
	ClientIP         string
	CreatedAt        time.Time
}

// Gateway is one payment provider.
type Gateway interface {
	Method() topup.PaymentMethod
	// Initiate returns the URL the browser is sent to.
	Initiate(ctx context.Context, req InitiateRequest) (string, error)
	// ParseNotification normalises a redirect or webhook payload and checks its
	// signature. An invalid signature is reported on the result, not as an error.
	ParseNotification(params map[string]string) (*topup.GatewayResult, error)
	// Acknowledge builds the body the gateway expects in reply to a webhook.
	Acknowledge(err error) map[string]interface{}
}

// Registry looks gateways up by payment method.
type Registry struct {
	gateways map[topup.PaymentMethod]Gateway
}

func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[topup.PaymentMethod]Gateway, len(gateways))}
	for _, g := range gateways {
		r.gateways[g.Method()] = g
	}
	return r
}

func (r *Registry) Get(method topup.PaymentMethod) (Gateway, error) {
	g, ok := r.gateways[method]
	if !ok {
		return nil, fmt.Errorf("%s: %w", method, xerrors.ErrUnsupportedGateway)
	}
	return g, nil
}

// Detect guesses the gateway from the parameter names of a payload.
func Detect(params map[string]string) (topup.PaymentMethod, bool) {
	if _, ok := params["vnp_TxnRef"]; ok {
		return topup.PaymentMethodVNPay, true
	}
	if _, ok := params["partnerCode"]; ok {
		if _, ok := params["orderId"]; ok {
			return topup.PaymentMethodMoMo, true
		}
	}
	return "", false
}

// Reference namespaces a gateway transaction id so ids from different
// gateways never collide in the ledger's external reference index.
func Reference(method topup.PaymentMethod, transactionNo string) string {
	return string(method) + "-" + transactionNo
}

func hmacSHA512(secret, data string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

func hmacSHA256(secret, data string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// signatureEqual compares hex digests in constant time, ignoring case.
func signatureEqual(expected, got string) bool {
	a, err := hex.DecodeString(strings.ToLower(expected))
	if err != nil {
		return false
	}
	b, err := hex.DecodeString(strings.ToLower(strings.TrimSpace(got)))
	if err != nil {
		return false
	}
	return hmac.Equal(a, b)
}
