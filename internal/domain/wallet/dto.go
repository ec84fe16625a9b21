// internal/domain/wallet/dto.go
package wallet

import "time"

// PostInput describes one ledger posting.
type PostInput struct {
	Type              TransactionType
	AmountMinorUnits  int64
	PointsDelta       int64
	Description       string
	ExternalReference *string
}

// TransactionQuery pages through an account's ledger, newest first.
// Cursor, when non-zero, restricts results to sequences strictly below it.
type TransactionQuery struct {
	Offset int              `form:"offset" binding:"min=0"`
	Limit  int              `form:"limit" binding:"min=0,max=100"`
	Cursor int64            `form:"cursor" binding:"min=0"`
	Type   *TransactionType `form:"type"`
}

// WalletState is the read model behind GET /wallet.
type WalletState struct {
	AccountID        int64     `json:"accountId"`
	Balance          int64     `json:"balance"`
	BalanceDisplay   string    `json:"balanceDisplay"`
	LoyaltyPoints    int64     `json:"loyaltyPoints"`
	LoyaltyTier      string    `json:"loyaltyTier"`
	Benefits         []string  `json:"benefits"`
	NextTier         string    `json:"nextTier,omitempty"`
	PointsToNextTier int64     `json:"pointsToNextTier"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// TransactionView is the API shape of a ledger row.
type TransactionView struct {
	Transaction
	AmountDisplay string `json:"amountDisplay"`
	PointsEarned  int64  `json:"pointsEarned,omitempty"`
}

type TransactionListResponse struct {
	Transactions []TransactionView `json:"transactions"`
	TotalCount   int64             `json:"totalCount"`
	Offset       int               `json:"offset"`
	Limit        int               `json:"limit"`
	NextCursor   int64             `json:"nextCursor,omitempty"`
}

// ChargeRequest is sent by the booking application to pay for or refund an appointment.
type ChargeRequest struct {
	Amount        int64  `json:"amount" binding:"required,gt=0"`
	AppointmentID int64  `json:"appointmentId" binding:"required"`
	Description   string `json:"description" binding:"max=255"`
}
