// internal/repository/postgres/voucher_repo.go
package postgres

import (
	"context"
	"fmt"

	"healthwallet-service/internal/domain/loyalty"
	xerrors "healthwallet-service/internal/pkg/errors"

	"github.com/lib/pq"
)

const voucherColumns = `id, code, title, description, discount_type, discount_value, points_required,
		       applicable_services::text, active, expires_at, created_at, updated_at`

const redemptionColumns = `id, account_id, voucher_id, transaction_id::text, points_spent, redeemed_at, used_at`

// scanVoucher reads applicable_services in its text form into pq.StringArray.
func scanVoucher(row rowScanner) (*loyalty.Voucher, error) {
	var v loyalty.Voucher
	var services pq.StringArray
	err := row.Scan(
		&v.ID, &v.Code, &v.Title, &v.Description, &v.DiscountType, &v.DiscountValue, &v.PointsRequired,
		&services, &v.Active, &v.ExpiresAt, &v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	v.ApplicableServices = services
	return &v, nil
}

func scanRedemption(row rowScanner) (*loyalty.VoucherRedemption, error) {
	var r loyalty.VoucherRedemption
	err := row.Scan(&r.ID, &r.AccountID, &r.VoucherID, &r.TransactionID, &r.PointsSpent, &r.RedeemedAt, &r.UsedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// UpsertVoucher inserts or updates a voucher keyed by code.
func (s *WalletStore) UpsertVoucher(ctx context.Context, v *loyalty.Voucher) error {
	services := v.ApplicableServices
	if services == nil {
		services = pq.StringArray{}
	}

	err := s.pool.QueryRow(ctx, `
		INSERT INTO vouchers (
			code, title, description, discount_type, discount_value, points_required,
			applicable_services, active, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7::text[], $8, $9)
		ON CONFLICT (code) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			discount_type = EXCLUDED.discount_type,
			discount_value = EXCLUDED.discount_value,
			points_required = EXCLUDED.points_required,
			applicable_services = EXCLUDED.applicable_services,
			active = EXCLUDED.active,
			expires_at = EXCLUDED.expires_at,
			updated_at = NOW()
		RETURNING id, created_at, updated_at
	`,
		v.Code, v.Title, v.Description, v.DiscountType, v.DiscountValue, v.PointsRequired,
		[]string(services), v.Active, v.ExpiresAt,
	).Scan(&v.ID, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert voucher: %w", err)
	}
	return nil
}

func (s *WalletStore) ListVouchers(ctx context.Context) ([]loyalty.Voucher, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+voucherColumns+`
		FROM vouchers
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list vouchers: %w", err)
	}
	defer rows.Close()

	out := make([]loyalty.Voucher, 0)
	for rows.Next() {
		v, err := scanVoucher(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan voucher: %w", err)
		}
		out = append(out, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate vouchers: %w", err)
	}
	return out, nil
}

func (s *WalletStore) FindVoucher(ctx context.Context, id int64) (*loyalty.Voucher, error) {
	v, err := scanVoucher(s.pool.QueryRow(ctx, `
		SELECT `+voucherColumns+`
		FROM vouchers
		WHERE id = $1
	`, id))
	if err != nil {
		return nil, notFound(err, xerrors.ErrVoucherNotFound)
	}
	return v, nil
}

func (s *WalletStore) ListRedemptions(ctx context.Context, accountID int64) ([]loyalty.VoucherRedemption, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+redemptionColumns+`
		FROM voucher_redemptions
		WHERE account_id = $1
		ORDER BY id
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list redemptions: %w", err)
	}
	defer rows.Close()

	out := make([]loyalty.VoucherRedemption, 0)
	for rows.Next() {
		r, err := scanRedemption(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan redemption: %w", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate redemptions: %w", err)
	}
	return out, nil
}
