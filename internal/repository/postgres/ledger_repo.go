// internal/repository/postgres/ledger_repo.go
package postgres

import (
	"context"
	"fmt"
	"strings"

	"healthwallet-service/internal/domain/wallet"
	xerrors "healthwallet-service/internal/pkg/errors"
)

const transactionColumns = `id, transaction_id, account_id, type, amount_minor_units, points_delta,
		       balance_after, points_after, description, external_reference, created_at`

func scanTransaction(row rowScanner) (*wallet.Transaction, error) {
	var t wallet.Transaction
	err := row.Scan(
		&t.Sequence, &t.TransactionID, &t.AccountID, &t.Type, &t.AmountMinorUnits, &t.PointsDelta,
		&t.BalanceAfter, &t.PointsAfter, &t.Description, &t.ExternalReference, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// EnsureAccount returns the account, inserting a zero row on first touch.
func (s *WalletStore) EnsureAccount(ctx context.Context, accountID int64) (*wallet.Account, error) {
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO wallet_accounts (account_id) VALUES ($1)
		ON CONFLICT (account_id) DO NOTHING
	`, accountID); err != nil {
		return nil, fmt.Errorf("failed to ensure account: %w", err)
	}
	return s.FindAccount(ctx, accountID)
}

func (s *WalletStore) FindAccount(ctx context.Context, accountID int64) (*wallet.Account, error) {
	return scanAccount(s.pool.QueryRow(ctx, `
		SELECT account_id, balance_minor_units, loyalty_points, created_at, updated_at
		FROM wallet_accounts
		WHERE account_id = $1
	`, accountID))
}

// ListTransactions returns a page newest first and the total number of rows
// matching the type filter.
func (s *WalletStore) ListTransactions(ctx context.Context, accountID int64, q wallet.TransactionQuery) ([]wallet.Transaction, int64, error) {
	conditions := []string{"account_id = $1"}
	args := []interface{}{accountID}
	argPos := 2

	if q.Type != nil {
		conditions = append(conditions, fmt.Sprintf("type = $%d", argPos))
		args = append(args, *q.Type)
		argPos++
	}

	whereClause := strings.Join(conditions, " AND ")

	var total int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM wallet_transactions WHERE "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count transactions: %w", err)
	}

	if q.Cursor > 0 {
		whereClause += fmt.Sprintf(" AND id < $%d", argPos)
		args = append(args, q.Cursor)
		argPos++
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM wallet_transactions
		WHERE %s
		ORDER BY id DESC
		LIMIT NULLIF($%d, 0) OFFSET $%d
	`, transactionColumns, whereClause, argPos, argPos+1)
	args = append(args, q.Limit, q.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	out := make([]wallet.Transaction, 0, q.Limit)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan transaction: %w", err)
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate transactions: %w", err)
	}
	return out, total, nil
}

// SumTransactions replays the ledger for the integrity check.
func (s *WalletStore) SumTransactions(ctx context.Context, accountID int64) (int64, int64, error) {
	var amount, points int64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount_minor_units), 0), COALESCE(SUM(points_delta), 0)
		FROM wallet_transactions
		WHERE account_id = $1
	`, accountID).Scan(&amount, &points)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to sum transactions: %w", err)
	}
	return amount, points, nil
}

func (s *WalletStore) FindTransactionByReference(ctx context.Context, reference string) (*wallet.Transaction, error) {
	t, err := scanTransaction(s.pool.QueryRow(ctx, `
		SELECT `+transactionColumns+`
		FROM wallet_transactions
		WHERE external_reference = $1
	`, reference))
	if err != nil {
		return nil, notFound(err, xerrors.ErrNotFound)
	}
	return t, nil
}
