// internal/repository/postgres/intent_repo.go
package postgres

import (
	"context"
	"fmt"
	"time"

	"healthwallet-service/internal/domain/topup"
	"healthwallet-service/internal/domain/wallet"
	xerrors "healthwallet-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
)

const intentColumns = `intent_id, account_id, requested_amount_minor_units, payment_method, status,
		       gateway_reference, failure_reason, client_ip, created_at, settled_at, updated_at`

func scanIntent(row rowScanner) (*topup.Intent, error) {
	var in topup.Intent
	err := row.Scan(
		&in.IntentID, &in.AccountID, &in.RequestedAmountMinorUnits, &in.PaymentMethod, &in.Status,
		&in.GatewayReference, &in.FailureReason, &in.ClientIP, &in.CreatedAt, &in.SettledAt, &in.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err, xerrors.ErrIntentNotFound)
	}
	return &in, nil
}

func (s *WalletStore) CreateIntent(ctx context.Context, intent *topup.Intent) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO topup_intents (
			intent_id, account_id, requested_amount_minor_units, payment_method, status, client_ip, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()))
		RETURNING created_at, updated_at
	`,
		intent.IntentID, intent.AccountID, intent.RequestedAmountMinorUnits, intent.PaymentMethod,
		intent.Status, intent.ClientIP, nullTime(intent.CreatedAt),
	).Scan(&intent.CreatedAt, &intent.UpdatedAt)
	if err != nil {
		return translate(fmt.Errorf("failed to create intent: %w", err))
	}
	return nil
}

func (s *WalletStore) FindIntent(ctx context.Context, intentID string) (*topup.Intent, error) {
	return scanIntent(s.pool.QueryRow(ctx, `
		SELECT `+intentColumns+`
		FROM topup_intents
		WHERE intent_id = $1
	`, intentID))
}

func (s *WalletStore) ListStaleIntents(ctx context.Context, createdBefore time.Time, limit int) ([]topup.Intent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+intentColumns+`
		FROM topup_intents
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at
		LIMIT NULLIF($3, 0)
	`, topup.IntentPending, createdBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale intents: %w", err)
	}
	return collectIntents(rows)
}

// ListSettledWithoutDeposit is the drift query behind the integrity check.
func (s *WalletStore) ListSettledWithoutDeposit(ctx context.Context, limit int) ([]topup.Intent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+intentColumns+`
		FROM topup_intents i
		WHERE i.status = $1
		  AND NOT EXISTS (
			SELECT 1 FROM wallet_transactions t
			WHERE t.external_reference = i.gateway_reference
			  AND t.type = $2
			  AND t.account_id = i.account_id
		  )
		ORDER BY i.created_at
		LIMIT NULLIF($3, 0)
	`, topup.IntentSettled, wallet.TransactionDeposit, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to run drift query: %w", err)
	}
	return collectIntents(rows)
}

func collectIntents(rows pgx.Rows) ([]topup.Intent, error) {
	defer rows.Close()

	out := make([]topup.Intent, 0)
	for rows.Next() {
		in, err := scanIntent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan intent: %w", err)
		}
		out = append(out, *in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate intents: %w", err)
	}
	return out, nil
}

// nullTime sends the zero time as NULL so the column default applies.
func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
