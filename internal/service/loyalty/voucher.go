// internal/service/loyalty/voucher.go
package loyalty

import (
	"context"
	"fmt"
	"strings"
	"time"

	"healthwallet-service/internal/domain/loyalty"
	"healthwallet-service/internal/domain/wallet"
	xerrors "healthwallet-service/internal/pkg/errors"
	"healthwallet-service/internal/pkg/tracing"
	"healthwallet-service/internal/service/ledger"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type VoucherService struct {
	store  wallet.Store
	ledger *ledger.Service
	tiers  *TierTable
	logger *zap.Logger
	tracer trace.Tracer
	now    func() time.Time
}

func NewVoucherService(store wallet.Store, ledgerService *ledger.Service, tiers *TierTable, logger *zap.Logger) *VoucherService {
	return &VoucherService{
		store:  store,
		ledger: ledgerService,
		tiers:  tiers,
		logger: logger,
		tracer: tracing.Tracer("loyalty"),
		now:    time.Now,
	}
}

// ========== Catalog ==========

// ListAvailableVouchers returns active, unexpired vouchers the account has not redeemed.
func (s *VoucherService) ListAvailableVouchers(ctx context.Context, accountID int64) ([]loyalty.Voucher, error) {
	ctx, span := s.tracer.Start(ctx, "loyalty.ListAvailableVouchers")
	defer span.End()

	all, err := s.store.ListVouchers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list vouchers: %w", err)
	}
	redemptions, err := s.store.ListRedemptions(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list redemptions: %w", err)
	}

	redeemed := make(map[int64]bool, len(redemptions))
	for _, r := range redemptions {
		redeemed[r.VoucherID] = true
	}

	now := s.now()
	available := make([]loyalty.Voucher, 0, len(all))
	for _, v := range all {
		if v.Available(now) && !redeemed[v.ID] {
			available = append(available, v)
		}
	}
	return available, nil
}

// ListRedeemedVouchers returns the account's redemptions with their catalog entries.
func (s *VoucherService) ListRedeemedVouchers(ctx context.Context, accountID int64) ([]loyalty.RedeemedVoucher, error) {
	redemptions, err := s.store.ListRedemptions(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list redemptions: %w", err)
	}

	out := make([]loyalty.RedeemedVoucher, 0, len(redemptions))
	for _, r := range redemptions {
		v, err := s.store.FindVoucher(ctx, r.VoucherID)
		if err != nil {
			return nil, fmt.Errorf("failed to load voucher %d: %w", r.VoucherID, err)
		}
		out = append(out, loyalty.RedeemedVoucher{Voucher: *v, Redemption: r})
	}
	return out, nil
}

// ========== Redemption ==========

// RedeemVoucher spends the voucher's points. The redemption row and its REWARD
// transaction commit together or not at all.
func (s *VoucherService) RedeemVoucher(ctx context.Context, accountID, voucherID int64) (*loyalty.RedeemResponse, error) {
	ctx, span := s.tracer.Start(ctx, "loyalty.RedeemVoucher")
	defer span.End()
	span.SetAttributes(attribute.Int64("account_id", accountID), attribute.Int64("voucher_id", voucherID))

	v, err := s.store.FindVoucher(ctx, voucherID)
	if err != nil {
		return nil, err
	}
	if !v.Available(s.now()) {
		return nil, fmt.Errorf("voucher %s is inactive or expired: %w", v.Code, xerrors.ErrVoucherNotFound)
	}

	var (
		redemption *loyalty.VoucherRedemption
		posted     *wallet.Transaction
	)
	err = s.store.WithinAccount(ctx, accountID, func(ctx context.Context, tx wallet.Tx) error {
		if _, err := tx.FindRedemption(ctx, voucherID); err == nil {
			return xerrors.ErrAlreadyRedeemed
		} else if !xerrors.Is(err, xerrors.ErrNotRedeemed) {
			return err
		}

		t, err := s.ledger.Post(ctx, tx, wallet.PostInput{
			Type:        wallet.TransactionReward,
			PointsDelta: -v.PointsRequired,
			Description: fmt.Sprintf("Redeemed voucher %s", v.Code),
		})
		if err != nil {
			return err
		}

		r := &loyalty.VoucherRedemption{
			AccountID:     accountID,
			VoucherID:     voucherID,
			TransactionID: t.TransactionID,
			PointsSpent:   v.PointsRequired,
			RedeemedAt:    s.now(),
		}
		if err := tx.InsertRedemption(ctx, r); err != nil {
			return err
		}

		redemption, posted = r, t
		return nil
	})
	if err != nil {
		s.logger.Info("voucher redemption rejected",
			zap.Int64("account_id", accountID),
			zap.Int64("voucher_id", voucherID),
			zap.Error(err),
		)
		return nil, err
	}

	s.logger.Info("voucher redeemed",
		zap.Int64("account_id", accountID),
		zap.String("voucher_code", v.Code),
		zap.Int64("points_spent", v.PointsRequired),
		zap.String("transaction_id", posted.TransactionID),
	)
	s.ledger.NotifyWalletUpdated(ctx, accountID)

	return &loyalty.RedeemResponse{
		Redemption:    *redemption,
		LoyaltyPoints: posted.PointsAfter,
		LoyaltyTier:   s.tiers.ComputeTier(posted.PointsAfter).Name,
	}, nil
}

// MarkVoucherUsed records that a redeemed voucher was applied to a booking.
func (s *VoucherService) MarkVoucherUsed(ctx context.Context, accountID, voucherID int64) (*loyalty.VoucherRedemption, error) {
	var used *loyalty.VoucherRedemption
	err := s.store.WithinAccount(ctx, accountID, func(ctx context.Context, tx wallet.Tx) error {
		r, err := tx.FindRedemption(ctx, voucherID)
		if err != nil {
			return err
		}
		if r.UsedAt != nil {
			return xerrors.ErrAlreadyUsed
		}
		now := s.now()
		r.UsedAt = &now
		if err := tx.UpdateRedemption(ctx, r); err != nil {
			return err
		}
		used = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("voucher used", zap.Int64("account_id", accountID), zap.Int64("voucher_id", voucherID))
	return used, nil
}

// ========== Seeding ==========

// SeedCatalog upserts vouchers by code. Running it twice leaves one row per code.
func (s *VoucherService) SeedCatalog(ctx context.Context, vouchers []loyalty.Voucher) (int, error) {
	for i := range vouchers {
		v := vouchers[i]
		if err := validateVoucher(&v); err != nil {
			return i, err
		}
		if err := s.store.UpsertVoucher(ctx, &v); err != nil {
			return i, fmt.Errorf("failed to upsert voucher %s: %w", v.Code, err)
		}
	}
	s.logger.Info("voucher catalog seeded", zap.Int("count", len(vouchers)))
	return len(vouchers), nil
}

func validateVoucher(v *loyalty.Voucher) error {
	v.Code = strings.ToUpper(strings.TrimSpace(v.Code))
	if v.Code == "" {
		return fmt.Errorf("voucher code is required: %w", xerrors.ErrInvalidInput)
	}
	if v.PointsRequired <= 0 {
		return fmt.Errorf("voucher %s must cost points: %w", v.Code, xerrors.ErrInvalidInput)
	}
	switch v.DiscountType {
	case loyalty.DiscountPercentage:
		if v.DiscountValue <= 0 || v.DiscountValue > 100 {
			return fmt.Errorf("voucher %s percentage must be 1-100: %w", v.Code, xerrors.ErrInvalidInput)
		}
	case loyalty.DiscountFixed:
		if v.DiscountValue <= 0 {
			return fmt.Errorf("voucher %s discount must be positive: %w", v.Code, xerrors.ErrInvalidInput)
		}
	default:
		return fmt.Errorf("voucher %s has unknown discount type %q: %w", v.Code, v.DiscountType, xerrors.ErrInvalidInput)
	}
	return nil
}

// DefaultCatalog is seeded when no catalog file is configured.
func DefaultCatalog() []loyalty.Voucher {
	return []loyalty.Voucher{
		{
			Code:               "KHAM10",
			Title:              "10% off general check-up",
			Description:        "Applies to general consultations booked through the app",
			DiscountType:       loyalty.DiscountPercentage,
			DiscountValue:      10,
			PointsRequired:     500,
			ApplicableServices: []string{"general"},
			Active:             true,
		},
		{
			Code:               "XETNGHIEM50K",
			Title:              "50.000 ₫ off lab tests",
			Description:        "Fixed discount on blood and urine tests",
			DiscountType:       loyalty.DiscountFixed,
			DiscountValue:      50000,
			PointsRequired:     800,
			ApplicableServices: []string{"lab"},
			Active:             true,
		},
		{
			Code:               "NHAKHOA20",
			Title:              "20% off dental care",
			Description:        "Cleaning and check-up at partner dental clinics",
			DiscountType:       loyalty.DiscountPercentage,
			DiscountValue:      20,
			PointsRequired:     2000,
			ApplicableServices: []string{"dental"},
			Active:             true,
		},
		{
			Code:               "VIP200K",
			Title:              "200.000 ₫ off specialist visit",
			Description:        "For Gold and Platinum members",
			DiscountType:       loyalty.DiscountFixed,
			DiscountValue:      200000,
			PointsRequired:     5000,
			ApplicableServices: []string{"cardiology", "dermatology", "pediatrics"},
			Active:             true,
		},
	}
}
