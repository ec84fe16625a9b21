// internal/service/topup/topup.go
package topup

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"healthwallet-service/internal/domain/topup"
	"healthwallet-service/internal/domain/wallet"
	xerrors "healthwallet-service/internal/pkg/errors"
	"healthwallet-service/internal/pkg/gateway"
	"healthwallet-service/internal/pkg/money"
	"healthwallet-service/internal/pkg/ratelimit"
	"healthwallet-service/internal/pkg/tracing"

	"github.com/cenkalti/backoff/v4"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Policy bounds top-ups and the retry of gateway initiation.
type Policy struct {
	MinAmount            int64
	MaxAmount            int64
	TTL                  time.Duration
	SweepBatch           int
	MaxInitiateRetries   uint64
	RetryInitialInterval time.Duration
	RetryMaxElapsed      time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MinAmount:            10_000,
		MaxAmount:            50_000_000,
		TTL:                  30 * time.Minute,
		SweepBatch:           500,
		MaxInitiateRetries:   3,
		RetryInitialInterval: 200 * time.Millisecond,
		RetryMaxElapsed:      5 * time.Second,
	}
}

type Service struct {
	store    wallet.Store
	gateways *gateway.Registry
	limiter  ratelimit.Limiter
	policy   Policy
	logger   *zap.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

func NewService(store wallet.Store, gateways *gateway.Registry, limiter ratelimit.Limiter, policy Policy, logger *zap.Logger) *Service {
	return &Service{
		store:    store,
		gateways: gateways,
		limiter:  limiter,
		policy:   policy,
		logger:   logger,
		tracer:   tracing.Tracer("topup"),
		now:      time.Now,
	}
}

func (s *Service) Policy() Policy {
	return s.policy
}

// CreateTopUp opens a PENDING intent and asks the gateway for a payment URL.
// The gateway call runs outside any account lock. If it keeps failing the
// intent is closed as FAILED and ErrGatewayUnavailable is returned.
func (s *Service) CreateTopUp(ctx context.Context, accountID int64, req *topup.CreateTopUpRequest, clientIP string) (*topup.CreateTopUpResponse, error) {
	ctx, span := s.tracer.Start(ctx, "topup.CreateTopUp")
	defer span.End()
	span.SetAttributes(attribute.Int64("account_id", accountID), attribute.Int64("amount", req.Amount))

	method, ok := topup.ParsePaymentMethod(req.PaymentMethod)
	if !ok {
		return nil, fmt.Errorf("%q: %w", req.PaymentMethod, xerrors.ErrUnsupportedGateway)
	}
	if req.Amount < s.policy.MinAmount || req.Amount > s.policy.MaxAmount {
		return nil, fmt.Errorf("top-up must be between %s and %s: %w",
			money.Format(s.policy.MinAmount), money.Format(s.policy.MaxAmount), xerrors.ErrInvalidAmount)
	}
	gw, err := s.gateways.Get(method)
	if err != nil {
		return nil, err
	}

	if s.limiter != nil {
		allowed, _, err := s.limiter.Allow(ctx, strconv.FormatInt(accountID, 10))
		if err != nil {
			s.logger.Warn("top-up rate limiter unavailable, allowing request", zap.Int64("account_id", accountID), zap.Error(err))
		} else if !allowed {
			return nil, xerrors.ErrRateLimited
		}
	}

	if _, err := s.store.EnsureAccount(ctx, accountID); err != nil {
		return nil, fmt.Errorf("failed to initialise account: %w", err)
	}

	intent := &topup.Intent{
		IntentID:                  ulid.Make().String(),
		AccountID:                 accountID,
		RequestedAmountMinorUnits: req.Amount,
		PaymentMethod:             method,
		Status:                    topup.IntentPending,
		ClientIP:                  clientIP,
		CreatedAt:                 s.now(),
	}
	if err := s.store.CreateIntent(ctx, intent); err != nil {
		return nil, fmt.Errorf("failed to create intent: %w", err)
	}
	span.SetAttributes(attribute.String("intent_id", intent.IntentID))

	paymentURL, err := s.initiate(ctx, gw, gateway.InitiateRequest{
		IntentID:         intent.IntentID,
		AmountMinorUnits: intent.RequestedAmountMinorUnits,
		OrderInfo:        fmt.Sprintf("Nap tien vi %d", intent.RequestedAmountMinorUnits),
		ClientIP:         clientIP,
		CreatedAt:        intent.CreatedAt,
	})
	if err != nil {
		span.RecordError(err)
		s.logger.Error("gateway initiation failed",
			zap.String("intent_id", intent.IntentID),
			zap.String("method", string(method)),
			zap.Error(err),
		)
		if ferr := s.fail(ctx, intent, "gateway unavailable: "+err.Error()); ferr != nil {
			s.logger.Error("failed to close intent after gateway error", zap.String("intent_id", intent.IntentID), zap.Error(ferr))
		}
		return nil, fmt.Errorf("%s: %w", method, xerrors.ErrGatewayUnavailable)
	}

	s.logger.Info("top-up intent created",
		zap.Int64("account_id", accountID),
		zap.String("intent_id", intent.IntentID),
		zap.String("method", string(method)),
		zap.Int64("amount", intent.RequestedAmountMinorUnits),
	)

	return &topup.CreateTopUpResponse{IntentID: intent.IntentID, PaymentURL: paymentURL}, nil
}

// initiate retries transient gateway errors with exponential backoff.
func (s *Service) initiate(ctx context.Context, gw gateway.Gateway, req gateway.InitiateRequest) (string, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.policy.RetryInitialInterval
	b.MaxElapsedTime = s.policy.RetryMaxElapsed

	attempt := 0
	op := func() (string, error) {
		attempt++
		u, err := gw.Initiate(ctx, req)
		if errors.Is(err, gateway.ErrRejected) {
			return "", backoff.Permanent(err)
		}
		if err != nil {
			s.logger.Warn("gateway initiation attempt failed",
				zap.String("intent_id", req.IntentID),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
		return u, err
	}

	return backoff.RetryWithData(op, backoff.WithContext(backoff.WithMaxRetries(b, s.policy.MaxInitiateRetries), ctx))
}

func (s *Service) fail(ctx context.Context, intent *topup.Intent, reason string) error {
	return s.store.WithinAccount(ctx, intent.AccountID, func(ctx context.Context, tx wallet.Tx) error {
		current, err := tx.LockIntent(ctx, intent.IntentID)
		if err != nil {
			return err
		}
		if current.Status != topup.IntentPending {
			return nil
		}
		current.Status = topup.IntentFailed
		current.FailureReason = &reason
		return tx.UpdateIntent(ctx, current)
	})
}

// GetIntent returns one of the account's intents.
func (s *Service) GetIntent(ctx context.Context, accountID int64, intentID string) (*topup.Intent, error) {
	intent, err := s.store.FindIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if intent.AccountID != accountID {
		return nil, xerrors.ErrIntentNotFound
	}
	return intent, nil
}

// ExpireStale moves PENDING intents older than the TTL to EXPIRED. Each
// transition re-checks the status under the account lock, so an intent
// settled in the meantime is left alone and re-runs are no-ops.
func (s *Service) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	ctx, span := s.tracer.Start(ctx, "topup.ExpireStale")
	defer span.End()

	cutoff := now.Add(-s.policy.TTL)
	stale, err := s.store.ListStaleIntents(ctx, cutoff, s.policy.SweepBatch)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale intents: %w", err)
	}

	expired := 0
	for _, candidate := range stale {
		err := s.expireOne(ctx, candidate, cutoff)
		switch {
		case err == nil:
			expired++
			s.logger.Info("top-up intent expired",
				zap.String("intent_id", candidate.IntentID),
				zap.Int64("account_id", candidate.AccountID),
			)
		case errors.Is(err, xerrors.ErrIntentAlreadyTerminal), errors.Is(err, errNotStale):
		case ctx.Err() != nil:
			return expired, ctx.Err()
		default:
			s.logger.Error("failed to expire intent", zap.String("intent_id", candidate.IntentID), zap.Error(err))
		}
	}

	span.SetAttributes(attribute.Int("expired", expired))
	return expired, nil
}

var errNotStale = errors.New("intent is within its ttl")

// expireOne moves a single intent to EXPIRED. It returns
// ErrIntentAlreadyTerminal when the intent was settled, failed or expired
// after it was listed.
func (s *Service) expireOne(ctx context.Context, candidate topup.Intent, cutoff time.Time) error {
	return s.store.WithinAccount(ctx, candidate.AccountID, func(ctx context.Context, tx wallet.Tx) error {
		intent, err := tx.LockIntent(ctx, candidate.IntentID)
		if err != nil {
			return err
		}
		if intent.Status.Terminal() {
			return fmt.Errorf("intent %s is %s: %w", intent.IntentID, intent.Status, xerrors.ErrIntentAlreadyTerminal)
		}
		if !intent.CreatedAt.Before(cutoff) {
			return errNotStale
		}
		reason := "no gateway response within " + s.policy.TTL.String()
		intent.Status = topup.IntentExpired
		intent.FailureReason = &reason
		return tx.UpdateIntent(ctx, intent)
	})
}
