// internal/repository/postgres/unit_of_work.go
package postgres

import (
	"context"
	"fmt"

	"healthwallet-service/internal/domain/loyalty"
	"healthwallet-service/internal/domain/topup"
	"healthwallet-service/internal/domain/wallet"
	xerrors "healthwallet-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
)

// unitOfWork runs every statement on the transaction that holds the
// account row lock.
type unitOfWork struct {
	tx        pgx.Tx
	accountID int64
	account   *wallet.Account
}

var _ wallet.Tx = (*unitOfWork)(nil)

func (u *unitOfWork) AccountID() int64 {
	return u.accountID
}

func (u *unitOfWork) LockAccount(ctx context.Context) (*wallet.Account, error) {
	a := *u.account
	return &a, nil
}

func (u *unitOfWork) UpdateAccount(ctx context.Context, a *wallet.Account) error {
	if a.AccountID != u.accountID {
		return xerrors.Wrap(xerrors.ErrInvalidInput, "account outside unit of work")
	}

	err := u.tx.QueryRow(ctx, `
		UPDATE wallet_accounts
		SET balance_minor_units = $1, loyalty_points = $2, updated_at = NOW()
		WHERE account_id = $3
		RETURNING updated_at
	`, a.BalanceMinorUnits, a.LoyaltyPoints, a.AccountID).Scan(&a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", notFound(err, xerrors.ErrAccountNotFound))
	}

	staged := *a
	u.account = &staged
	return nil
}

// InsertTransaction appends the row. The BIGSERIAL id is drawn while the
// account lock is held, so per-account ids follow commit order.
func (u *unitOfWork) InsertTransaction(ctx context.Context, t *wallet.Transaction) error {
	if t.AccountID != u.accountID {
		return xerrors.Wrap(xerrors.ErrInvalidInput, "transaction outside unit of work")
	}

	err := u.tx.QueryRow(ctx, `
		INSERT INTO wallet_transactions (
			transaction_id, account_id, type, amount_minor_units, points_delta,
			balance_after, points_after, description, external_reference
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`,
		t.TransactionID, t.AccountID, t.Type, t.AmountMinorUnits, t.PointsDelta,
		t.BalanceAfter, t.PointsAfter, t.Description, t.ExternalReference,
	).Scan(&t.Sequence, &t.CreatedAt)
	if err != nil {
		return translate(fmt.Errorf("failed to insert transaction: %w", err))
	}
	return nil
}

func (u *unitOfWork) LockIntent(ctx context.Context, intentID string) (*topup.Intent, error) {
	row := u.tx.QueryRow(ctx, `
		SELECT `+intentColumns+`
		FROM topup_intents
		WHERE intent_id = $1 AND account_id = $2
		FOR UPDATE
	`, intentID, u.accountID)
	return scanIntent(row)
}

func (u *unitOfWork) UpdateIntent(ctx context.Context, intent *topup.Intent) error {
	if intent.AccountID != u.accountID {
		return xerrors.ErrIntentNotFound
	}

	err := u.tx.QueryRow(ctx, `
		UPDATE topup_intents
		SET status = $1, gateway_reference = $2, failure_reason = $3, settled_at = $4, updated_at = NOW()
		WHERE intent_id = $5 AND account_id = $6
		RETURNING updated_at
	`,
		intent.Status, intent.GatewayReference, intent.FailureReason, intent.SettledAt,
		intent.IntentID, u.accountID,
	).Scan(&intent.UpdatedAt)
	if err != nil {
		return translate(fmt.Errorf("failed to update intent: %w", notFound(err, xerrors.ErrIntentNotFound)))
	}
	return nil
}

func (u *unitOfWork) FindRedemption(ctx context.Context, voucherID int64) (*loyalty.VoucherRedemption, error) {
	row := u.tx.QueryRow(ctx, `
		SELECT `+redemptionColumns+`
		FROM voucher_redemptions
		WHERE account_id = $1 AND voucher_id = $2
		FOR UPDATE
	`, u.accountID, voucherID)

	r, err := scanRedemption(row)
	if err != nil {
		return nil, notFound(err, xerrors.ErrNotRedeemed)
	}
	return r, nil
}

func (u *unitOfWork) InsertRedemption(ctx context.Context, r *loyalty.VoucherRedemption) error {
	if r.AccountID != u.accountID {
		return xerrors.Wrap(xerrors.ErrInvalidInput, "redemption outside unit of work")
	}

	err := u.tx.QueryRow(ctx, `
		INSERT INTO voucher_redemptions (account_id, voucher_id, transaction_id, points_spent, redeemed_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, NOW()))
		RETURNING id, redeemed_at
	`, r.AccountID, r.VoucherID, r.TransactionID, r.PointsSpent, nullTime(r.RedeemedAt)).Scan(&r.ID, &r.RedeemedAt)
	if err != nil {
		return translate(fmt.Errorf("failed to insert redemption: %w", err))
	}
	return nil
}

func (u *unitOfWork) UpdateRedemption(ctx context.Context, r *loyalty.VoucherRedemption) error {
	tag, err := u.tx.Exec(ctx, `
		UPDATE voucher_redemptions
		SET used_at = $1
		WHERE account_id = $2 AND voucher_id = $3
	`, r.UsedAt, u.accountID, r.VoucherID)
	if err != nil {
		return fmt.Errorf("failed to update redemption: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return xerrors.ErrNotRedeemed
	}
	return nil
}
