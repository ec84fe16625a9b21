// internal/domain/wallet/entity.go
package wallet

import (
	"time"
)

type TransactionType string

const (
	TransactionDeposit    TransactionType = "DEPOSIT"
	TransactionPayment    TransactionType = "PAYMENT"
	TransactionRefund     TransactionType = "REFUND"
	TransactionReward     TransactionType = "REWARD"
	TransactionWithdrawal TransactionType = "WITHDRAWAL"
)

// Valid reports whether t is one of the known ledger transaction types.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionDeposit, TransactionPayment, TransactionRefund, TransactionReward, TransactionWithdrawal:
		return true
	}
	return false
}

// Debit reports whether the type removes money from the balance.
func (t TransactionType) Debit() bool {
	return t == TransactionPayment || t == TransactionWithdrawal
}

// Account is the cached projection of an account's ledger.
// It must always equal the sum of the account's transactions.
type Account struct {
	AccountID         int64     `json:"accountId" db:"account_id"`
	BalanceMinorUnits int64     `json:"balance" db:"balance_minor_units"`
	LoyaltyPoints     int64     `json:"loyaltyPoints" db:"loyalty_points"`
	CreatedAt         time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt         time.Time `json:"updatedAt" db:"updated_at"`
}

// Transaction is an immutable ledger row.
type Transaction struct {
	Sequence          int64           `json:"sequence" db:"id"`
	TransactionID     string          `json:"transactionId" db:"transaction_id"`
	AccountID         int64           `json:"accountId" db:"account_id"`
	Type              TransactionType `json:"type" db:"type"`
	AmountMinorUnits  int64           `json:"amount" db:"amount_minor_units"`
	PointsDelta       int64           `json:"pointsDelta" db:"points_delta"`
	BalanceAfter      int64           `json:"balanceAfter" db:"balance_after"`
	PointsAfter       int64           `json:"pointsAfter" db:"points_after"`
	Description       string          `json:"description" db:"description"`
	ExternalReference *string         `json:"externalReference,omitempty" db:"external_reference"`
	CreatedAt         time.Time       `json:"createdAt" db:"created_at"`
}

// Drift describes a mismatch between an account projection and its ledger.
type Drift struct {
	AccountID        int64 `json:"accountId"`
	ProjectedBalance int64 `json:"projectedBalance"`
	LedgerBalance    int64 `json:"ledgerBalance"`
	ProjectedPoints  int64 `json:"projectedPoints"`
	LedgerPoints     int64 `json:"ledgerPoints"`
}

// Diverged reports whether the projection disagrees with the ledger.
func (d Drift) Diverged() bool {
	return d.ProjectedBalance != d.LedgerBalance || d.ProjectedPoints != d.LedgerPoints
}
