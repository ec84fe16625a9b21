// internal/repository/postgres/db.go
package postgres

import (
	"context"
	"errors"
	"fmt"

	"healthwallet-service/internal/domain/wallet"
	xerrors "healthwallet-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// Unique constraints whose violations map to domain errors.
const (
	constraintTransactionReference = "wallet_transactions_external_reference_key"
	constraintIntentReference      = "topup_intents_gateway_reference_key"
	constraintIntentPK             = "topup_intents_pkey"
	constraintRedemptionUnique     = "voucher_redemptions_account_id_voucher_id_key"
)

// WalletStore is the Postgres implementation of wallet.Store.
type WalletStore struct {
	pool *pgxpool.Pool
}

var _ wallet.Store = (*WalletStore)(nil)

func NewWalletStore(pool *pgxpool.Pool) *WalletStore {
	return &WalletStore{pool: pool}
}

// WithinAccount runs fn in one database transaction holding the account
// row lock. The account row is created on first use.
func (s *WalletStore) WithinAccount(ctx context.Context, accountID int64, fn func(ctx context.Context, tx wallet.Tx) error) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `
		INSERT INTO wallet_accounts (account_id) VALUES ($1)
		ON CONFLICT (account_id) DO NOTHING
	`, accountID); err != nil {
		return fmt.Errorf("failed to initialise account: %w", err)
	}

	acct, err := scanAccount(tx.QueryRow(ctx, `
		SELECT account_id, balance_minor_units, loyalty_points, created_at, updated_at
		FROM wallet_accounts
		WHERE account_id = $1
		FOR UPDATE
	`, accountID))
	if err != nil {
		return fmt.Errorf("failed to lock account: %w", err)
	}

	uow := &unitOfWork{tx: tx, accountID: accountID, account: acct}
	if err = fn(ctx, uow); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return translate(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// translate maps unique violations and missing rows to domain sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		switch pgErr.ConstraintName {
		case constraintTransactionReference, constraintIntentReference:
			return fmt.Errorf("%s: %w", pgErr.Detail, xerrors.ErrDuplicateReference)
		case constraintRedemptionUnique:
			return xerrors.ErrAlreadyRedeemed
		default:
			return fmt.Errorf("%s: %w", pgErr.ConstraintName, xerrors.ErrConflict)
		}
	}
	return err
}

func notFound(err, sentinel error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return sentinel
	}
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*wallet.Account, error) {
	var a wallet.Account
	err := row.Scan(&a.AccountID, &a.BalanceMinorUnits, &a.LoyaltyPoints, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, notFound(err, xerrors.ErrAccountNotFound)
	}
	return &a, nil
}
