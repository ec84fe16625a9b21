// internal/domain/wallet/repository.go
package wallet

import (
	"context"
	"time"

	"healthwallet-service/internal/domain/loyalty"
	"healthwallet-service/internal/domain/topup"
)

// Store is the persistence boundary of the wallet. Every mutation of an
// account's balance, points, intents or redemptions happens inside
// WithinAccount, which serializes work per account and commits all staged
// writes together or none of them.
type Store interface {
	WithinAccount(ctx context.Context, accountID int64, fn func(ctx context.Context, tx Tx) error) error

	LedgerReader
	IntentRepository
	VoucherRepository
}

type LedgerReader interface {
	// EnsureAccount returns the account, creating a zero account on first touch.
	EnsureAccount(ctx context.Context, accountID int64) (*Account, error)
	FindAccount(ctx context.Context, accountID int64) (*Account, error)
	ListTransactions(ctx context.Context, accountID int64, q TransactionQuery) ([]Transaction, int64, error)
	// SumTransactions replays the ledger: sum(amount), sum(points_delta).
	SumTransactions(ctx context.Context, accountID int64) (int64, int64, error)
	FindTransactionByReference(ctx context.Context, reference string) (*Transaction, error)
}

type IntentRepository interface {
	CreateIntent(ctx context.Context, intent *topup.Intent) error
	FindIntent(ctx context.Context, intentID string) (*topup.Intent, error)
	ListStaleIntents(ctx context.Context, createdBefore time.Time, limit int) ([]topup.Intent, error)
	// ListSettledWithoutDeposit is the drift query: SETTLED intents with no
	// DEPOSIT whose external reference equals the intent's gateway reference.
	ListSettledWithoutDeposit(ctx context.Context, limit int) ([]topup.Intent, error)
}

type VoucherRepository interface {
	UpsertVoucher(ctx context.Context, v *loyalty.Voucher) error
	ListVouchers(ctx context.Context) ([]loyalty.Voucher, error)
	FindVoucher(ctx context.Context, id int64) (*loyalty.Voucher, error)
	ListRedemptions(ctx context.Context, accountID int64) ([]loyalty.VoucherRedemption, error)
}

// Tx is a unit of work scoped to one account.
type Tx interface {
	AccountID() int64

	// LockAccount loads the account for update, creating it if needed.
	LockAccount(ctx context.Context) (*Account, error)
	UpdateAccount(ctx context.Context, a *Account) error
	// InsertTransaction appends a ledger row and fills in Sequence and CreatedAt.
	InsertTransaction(ctx context.Context, t *Transaction) error

	// LockIntent loads an intent owned by this account for update.
	LockIntent(ctx context.Context, intentID string) (*topup.Intent, error)
	UpdateIntent(ctx context.Context, intent *topup.Intent) error

	FindRedemption(ctx context.Context, voucherID int64) (*loyalty.VoucherRedemption, error)
	InsertRedemption(ctx context.Context, r *loyalty.VoucherRedemption) error
	UpdateRedemption(ctx context.Context, r *loyalty.VoucherRedemption) error
}
