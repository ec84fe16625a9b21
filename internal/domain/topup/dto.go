// internal/domain/topup/dto.go
package topup

type CreateTopUpRequest struct {
	Amount        int64  `json:"amount" binding:"required,gt=0"`
	PaymentMethod string `json:"paymentMethod" binding:"required"`
}

type CreateTopUpResponse struct {
	IntentID   string `json:"intentId"`
	PaymentURL string `json:"paymentUrl"`
}

// RedirectStatus is the provisional status shown after the browser returns from the gateway.
type RedirectStatus struct {
	IntentID       string       `json:"intentId"`
	Status         IntentStatus `json:"status"`
	GatewayCode    string       `json:"code"`
	GatewayMessage string       `json:"message,omitempty"`
	GatewaySuccess bool         `json:"gatewaySuccess"`
	SignatureValid bool         `json:"signatureValid"`
	Provisional    bool         `json:"provisional"`
	Amount         int64        `json:"amount,omitempty"`
}

// WebhookOutcome reports what a webhook delivery did.
type WebhookOutcome string

const (
	OutcomeSettled  WebhookOutcome = "settled"
	OutcomeFailed   WebhookOutcome = "failed"
	OutcomeNoop     WebhookOutcome = "noop"
	OutcomeNotFound WebhookOutcome = "not_found"
)

type WebhookResult struct {
	IntentID string         `json:"intentId"`
	Outcome  WebhookOutcome `json:"outcome"`
	Status   IntentStatus   `json:"status,omitempty"`
}
