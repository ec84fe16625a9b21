// internal/service/ledger/ledger.go
package ledger

import (
	"context"
	"fmt"

	"healthwallet-service/internal/domain/loyalty"
	"healthwallet-service/internal/domain/wallet"
	xerrors "healthwallet-service/internal/pkg/errors"
	"healthwallet-service/internal/pkg/money"
	"healthwallet-service/internal/pkg/tracing"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// TierEngine maps loyalty points to tiers.
type TierEngine interface {
	ComputeTier(points int64) loyalty.Tier
	NextTier(points int64) (loyalty.Tier, int64, bool)
}

// Publisher pushes wallet events to connected clients.
type Publisher interface {
	PublishToAccount(accountID int64, eventType string, payload interface{})
}

// Service owns the account projection. It is the only writer of balance and
// loyalty points; other services post through Post inside their own unit of work.
type Service struct {
	store     wallet.Store
	tiers     TierEngine
	publisher Publisher
	logger    *zap.Logger
	tracer    trace.Tracer
}

func NewService(store wallet.Store, tiers TierEngine, publisher Publisher, logger *zap.Logger) *Service {
	return &Service{
		store:     store,
		tiers:     tiers,
		publisher: publisher,
		logger:    logger,
		tracer:    tracing.Tracer("ledger"),
	}
}

// ========== Reads ==========

// GetWalletState returns the projection, creating a zero account on first touch.
func (s *Service) GetWalletState(ctx context.Context, accountID int64) (*wallet.WalletState, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.GetWalletState")
	defer span.End()
	span.SetAttributes(attribute.Int64("account_id", accountID))

	acct, err := s.store.EnsureAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	return s.stateOf(acct), nil
}

func (s *Service) stateOf(acct *wallet.Account) *wallet.WalletState {
	tier := s.tiers.ComputeTier(acct.LoyaltyPoints)
	state := &wallet.WalletState{
		AccountID:      acct.AccountID,
		Balance:        acct.BalanceMinorUnits,
		BalanceDisplay: money.Format(acct.BalanceMinorUnits),
		LoyaltyPoints:  acct.LoyaltyPoints,
		LoyaltyTier:    tier.Name,
		Benefits:       tier.Benefits,
		UpdatedAt:      acct.UpdatedAt,
	}
	if next, missing, ok := s.tiers.NextTier(acct.LoyaltyPoints); ok {
		state.NextTier = next.Name
		state.PointsToNextTier = missing
	}
	return state
}

// ListTransactions pages through the ledger newest first.
func (s *Service) ListTransactions(ctx context.Context, accountID int64, q wallet.TransactionQuery) (*wallet.TransactionListResponse, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.ListTransactions")
	defer span.End()

	if q.Limit <= 0 {
		q.Limit = defaultPageSize
	}
	if q.Limit > maxPageSize {
		q.Limit = maxPageSize
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	if q.Type != nil && !q.Type.Valid() {
		return nil, fmt.Errorf("unknown transaction type %q: %w", *q.Type, xerrors.ErrInvalidInput)
	}

	rows, total, err := s.store.ListTransactions(ctx, accountID, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	views := make([]wallet.TransactionView, 0, len(rows))
	for _, t := range rows {
		views = append(views, toView(t))
	}

	resp := &wallet.TransactionListResponse{
		Transactions: views,
		TotalCount:   total,
		Offset:       q.Offset,
		Limit:        q.Limit,
	}
	if len(rows) == q.Limit {
		resp.NextCursor = rows[len(rows)-1].Sequence
	}
	return resp, nil
}

func toView(t wallet.Transaction) wallet.TransactionView {
	v := wallet.TransactionView{
		Transaction:   t,
		AmountDisplay: money.FormatSigned(t.AmountMinorUnits),
	}
	if t.PointsDelta > 0 {
		v.PointsEarned = t.PointsDelta
	}
	return v
}

// ========== Writes ==========

// PostTransaction appends one transaction and updates the projection atomically.
func (s *Service) PostTransaction(ctx context.Context, accountID int64, in wallet.PostInput) (*wallet.Transaction, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.PostTransaction")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("account_id", accountID),
		attribute.String("type", string(in.Type)),
	)

	var posted *wallet.Transaction
	err := s.store.WithinAccount(ctx, accountID, func(ctx context.Context, tx wallet.Tx) error {
		t, err := s.Post(ctx, tx, in)
		if err != nil {
			return err
		}
		posted = t
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.logger.Info("transaction posted",
		zap.Int64("account_id", accountID),
		zap.String("transaction_id", posted.TransactionID),
		zap.Int64("sequence", posted.Sequence),
		zap.String("type", string(posted.Type)),
		zap.Int64("amount", posted.AmountMinorUnits),
		zap.Int64("points_delta", posted.PointsDelta),
	)
	s.NotifyWalletUpdated(ctx, accountID)

	return posted, nil
}

// Post applies in to the account locked by tx. It validates sign rules,
// rejects overdrafts of balance or points, appends the ledger row and
// updates the projection. Nothing is visible until tx commits.
func (s *Service) Post(ctx context.Context, tx wallet.Tx, in wallet.PostInput) (*wallet.Transaction, error) {
	if err := validate(in); err != nil {
		return nil, err
	}

	acct, err := tx.LockAccount(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to lock account: %w", err)
	}

	balance := acct.BalanceMinorUnits + in.AmountMinorUnits
	if balance < 0 {
		return nil, xerrors.ErrInsufficientFunds
	}
	points := acct.LoyaltyPoints + in.PointsDelta
	if points < 0 {
		return nil, xerrors.ErrInsufficientPoints
	}

	t := &wallet.Transaction{
		TransactionID:     uuid.NewString(),
		AccountID:         tx.AccountID(),
		Type:              in.Type,
		AmountMinorUnits:  in.AmountMinorUnits,
		PointsDelta:       in.PointsDelta,
		BalanceAfter:      balance,
		PointsAfter:       points,
		Description:       in.Description,
		ExternalReference: in.ExternalReference,
	}
	if err := tx.InsertTransaction(ctx, t); err != nil {
		return nil, err
	}

	before := s.tiers.ComputeTier(acct.LoyaltyPoints)
	acct.BalanceMinorUnits = balance
	acct.LoyaltyPoints = points
	if err := tx.UpdateAccount(ctx, acct); err != nil {
		return nil, fmt.Errorf("failed to update account: %w", err)
	}

	if after := s.tiers.ComputeTier(points); after.Name != before.Name {
		s.logger.Info("loyalty tier changed",
			zap.Int64("account_id", acct.AccountID),
			zap.String("from", before.Name),
			zap.String("to", after.Name),
		)
	}

	return t, nil
}

func validate(in wallet.PostInput) error {
	if !in.Type.Valid() {
		return fmt.Errorf("unknown transaction type %q: %w", in.Type, xerrors.ErrInvalidTransaction)
	}

	switch in.Type {
	case wallet.TransactionDeposit, wallet.TransactionRefund:
		if in.AmountMinorUnits <= 0 {
			return fmt.Errorf("%s amount must be positive: %w", in.Type, xerrors.ErrInvalidAmount)
		}
	case wallet.TransactionPayment, wallet.TransactionWithdrawal:
		if in.AmountMinorUnits >= 0 {
			return fmt.Errorf("%s amount must be negative: %w", in.Type, xerrors.ErrInvalidAmount)
		}
	case wallet.TransactionReward:
		if in.AmountMinorUnits != 0 {
			return fmt.Errorf("REWARD must not move money: %w", xerrors.ErrInvalidTransaction)
		}
		if in.PointsDelta == 0 {
			return fmt.Errorf("REWARD must change points: %w", xerrors.ErrInvalidTransaction)
		}
		return nil
	}

	if in.PointsDelta < 0 {
		return fmt.Errorf("only REWARD may deduct points: %w", xerrors.ErrInvalidTransaction)
	}
	return nil
}

// NotifyWalletUpdated pushes the current wallet state to the account's sockets.
func (s *Service) NotifyWalletUpdated(ctx context.Context, accountID int64) {
	if s.publisher == nil {
		return
	}
	acct, err := s.store.FindAccount(ctx, accountID)
	if err != nil {
		s.logger.Warn("failed to load wallet for push", zap.Int64("account_id", accountID), zap.Error(err))
		return
	}
	s.publisher.PublishToAccount(accountID, EventWalletUpdated, s.stateOf(acct))
}

const (
	EventWalletUpdated = "wallet:updated"
	EventTopUpSettled  = "topup:settled"
)

// ========== Integrity ==========

// VerifyAccount replays the ledger and compares it with the projection.
// A mismatch is logged at error level and returned with ErrIntegrityViolation.
func (s *Service) VerifyAccount(ctx context.Context, accountID int64) (*wallet.Drift, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.VerifyAccount")
	defer span.End()

	acct, err := s.store.FindAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	amount, points, err := s.store.SumTransactions(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to sum ledger: %w", err)
	}

	drift := &wallet.Drift{
		AccountID:        accountID,
		ProjectedBalance: acct.BalanceMinorUnits,
		LedgerBalance:    amount,
		ProjectedPoints:  acct.LoyaltyPoints,
		LedgerPoints:     points,
	}
	if drift.Diverged() {
		s.logger.Error("account projection diverged from ledger",
			zap.Int64("account_id", accountID),
			zap.Int64("projected_balance", drift.ProjectedBalance),
			zap.Int64("ledger_balance", drift.LedgerBalance),
			zap.Int64("projected_points", drift.ProjectedPoints),
			zap.Int64("ledger_points", drift.LedgerPoints),
		)
		return drift, xerrors.ErrIntegrityViolation
	}
	return drift, nil
}
