// internal/domain/topup/entity.go
package topup

import (
	"strings"
	"time"
)

type PaymentMethod string

const (
	PaymentMethodVNPay PaymentMethod = "VNPAY"
	PaymentMethodMoMo  PaymentMethod = "MOMO"
)

// ParsePaymentMethod normalises user input such as "vnpay" or "MoMo".
func ParsePaymentMethod(s string) (PaymentMethod, bool) {
	switch PaymentMethod(strings.ToUpper(strings.TrimSpace(s))) {
	case PaymentMethodVNPay:
		return PaymentMethodVNPay, true
	case PaymentMethodMoMo:
		return PaymentMethodMoMo, true
	}
	return "", false
}

type IntentStatus string

const (
	IntentPending IntentStatus = "PENDING"
	IntentSettled IntentStatus = "SETTLED"
	IntentFailed  IntentStatus = "FAILED"
	IntentExpired IntentStatus = "EXPIRED"
)

// Terminal reports whether no further transition is allowed.
func (s IntentStatus) Terminal() bool {
	return s == IntentSettled || s == IntentFailed || s == IntentExpired
}

// Intent is a not-yet-settled request to add funds.
type Intent struct {
	IntentID                  string        `json:"intentId" db:"intent_id"`
	AccountID                 int64         `json:"accountId" db:"account_id"`
	RequestedAmountMinorUnits int64         `json:"amount" db:"requested_amount_minor_units"`
	PaymentMethod             PaymentMethod `json:"paymentMethod" db:"payment_method"`
	Status                    IntentStatus  `json:"status" db:"status"`
	GatewayReference          *string       `json:"gatewayReference,omitempty" db:"gateway_reference"`
	FailureReason             *string       `json:"failureReason,omitempty" db:"failure_reason"`
	ClientIP                  string        `json:"-" db:"client_ip"`
	CreatedAt                 time.Time     `json:"createdAt" db:"created_at"`
	SettledAt                 *time.Time    `json:"settledAt,omitempty" db:"settled_at"`
	UpdatedAt                 time.Time     `json:"updatedAt" db:"updated_at"`
}

// GatewayResult is a normalised payment notification from any gateway.
type GatewayResult struct {
	Method           PaymentMethod
	IntentID         string
	GatewayReference string
	ResultCode       string
	Message          string
	Success          bool
	// AmountMinorUnits is the amount the gateway claims was paid, in ledger units.
	// Zero when the gateway did not report one.
	AmountMinorUnits int64
	SignatureValid   bool
}

// CallbackKind tells webhooks from browser redirects in the callback log.
type CallbackKind string

const (
	CallbackWebhook  CallbackKind = "webhook"
	CallbackRedirect CallbackKind = "redirect"
)

// CallbackRecord is one raw gateway notification as it was received.
type CallbackRecord struct {
	Method     PaymentMethod     `json:"method" bson:"method"`
	Kind       CallbackKind      `json:"kind" bson:"kind"`
	IntentID   string            `json:"intentId,omitempty" bson:"intentId,omitempty"`
	Params     map[string]string `json:"params" bson:"params"`
	ReceivedAt time.Time         `json:"receivedAt" bson:"receivedAt"`
}
