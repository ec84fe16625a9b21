// internal/service/reconcile/reconcile.go
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"healthwallet-service/internal/domain/topup"
	"healthwallet-service/internal/domain/wallet"
	xerrors "healthwallet-service/internal/pkg/errors"
	"healthwallet-service/internal/pkg/gateway"
	"healthwallet-service/internal/pkg/money"
	"healthwallet-service/internal/pkg/tracing"
	"healthwallet-service/internal/service/ledger"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DefaultPointsDivisor credits one loyalty point per 100 đồng deposited.
const DefaultPointsDivisor = 100

const integrityBatch = 100

// TopUpSettledEvent is pushed to the account once a deposit lands.
type TopUpSettledEvent struct {
	IntentID string `json:"intentId"`
	Amount   int64  `json:"amount"`
	Points   int64  `json:"pointsEarned"`
	Balance  int64  `json:"balance"`
}

// Service turns gateway notifications into intent transitions and deposits.
type Service struct {
	store         wallet.Store
	gateways      *gateway.Registry
	ledger        *ledger.Service
	callbacks     topup.CallbackLog
	publisher     ledger.Publisher
	pointsDivisor int64
	logger        *zap.Logger
	tracer        trace.Tracer
	now           func() time.Time
}

func NewService(
	store wallet.Store,
	gateways *gateway.Registry,
	ledgerService *ledger.Service,
	callbacks topup.CallbackLog,
	publisher ledger.Publisher,
	pointsDivisor int64,
	logger *zap.Logger,
) *Service {
	if pointsDivisor <= 0 {
		pointsDivisor = DefaultPointsDivisor
	}
	return &Service{
		store:         store,
		gateways:      gateways,
		ledger:        ledgerService,
		callbacks:     callbacks,
		publisher:     publisher,
		pointsDivisor: pointsDivisor,
		logger:        logger,
		tracer:        tracing.Tracer("reconcile"),
		now:           time.Now,
	}
}

// Resolve picks the gateway for a payload. An empty method is detected from
// the parameter names.
func (s *Service) Resolve(method topup.PaymentMethod, params map[string]string) (gateway.Gateway, error) {
	if method == "" {
		detected, ok := gateway.Detect(params)
		if !ok {
			return nil, fmt.Errorf("cannot detect gateway: %w", xerrors.ErrUnsupportedGateway)
		}
		method = detected
	}
	return s.gateways.Get(method)
}

// HandleWebhook processes an authoritative server-to-server notification.
// Replays and notifications for terminal or unknown intents are no-ops, so
// the gateway can retry freely.
func (s *Service) HandleWebhook(ctx context.Context, method topup.PaymentMethod, params map[string]string) (*topup.WebhookResult, error) {
	ctx, span := s.tracer.Start(ctx, "reconcile.HandleWebhook")
	defer span.End()

	gw, err := s.Resolve(method, params)
	if err != nil {
		return nil, err
	}

	res, parseErr := gw.ParseNotification(params)
	s.archive(ctx, gw.Method(), topup.CallbackWebhook, res, params)
	if parseErr != nil {
		s.logger.Warn("malformed payment webhook", zap.String("method", string(gw.Method())), zap.Error(parseErr))
		return nil, parseErr
	}
	span.SetAttributes(attribute.String("intent_id", res.IntentID), attribute.String("result_code", res.ResultCode))

	if !res.SignatureValid {
		s.logger.Warn("payment webhook signature rejected",
			zap.String("method", string(res.Method)),
			zap.String("intent_id", res.IntentID),
		)
		return nil, xerrors.ErrInvalidSignature
	}

	intent, err := s.store.FindIntent(ctx, res.IntentID)
	if errors.Is(err, xerrors.ErrIntentNotFound) {
		s.logger.Warn("webhook for unknown intent", zap.String("intent_id", res.IntentID))
		return &topup.WebhookResult{IntentID: res.IntentID, Outcome: topup.OutcomeNotFound}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load intent: %w", err)
	}
	if intent.Status.Terminal() {
		return s.noop(intent), nil
	}

	var (
		outcome = topup.OutcomeNoop
		final   *topup.Intent
		deposit *wallet.Transaction
	)
	err = s.store.WithinAccount(ctx, intent.AccountID, func(ctx context.Context, tx wallet.Tx) error {
		locked, err := tx.LockIntent(ctx, intent.IntentID)
		if err != nil {
			return err
		}
		final = locked
		if locked.Status.Terminal() {
			return nil
		}

		if !res.Success {
			reason := fmt.Sprintf("gateway result %s: %s", res.ResultCode, res.Message)
			locked.Status = topup.IntentFailed
			locked.FailureReason = &reason
			outcome = topup.OutcomeFailed
			return tx.UpdateIntent(ctx, locked)
		}

		if res.AmountMinorUnits != 0 && res.AmountMinorUnits != locked.RequestedAmountMinorUnits {
			return fmt.Errorf("intent %s requested %d, gateway reported %d: %w",
				locked.IntentID, locked.RequestedAmountMinorUnits, res.AmountMinorUnits, xerrors.ErrAmountMismatch)
		}

		ref := res.GatewayReference
		if ref == "" {
			ref = gateway.Reference(res.Method, "intent-"+locked.IntentID)
		}
		settledAt := s.now()
		locked.Status = topup.IntentSettled
		locked.GatewayReference = &ref
		locked.SettledAt = &settledAt

		t, err := s.ledger.Post(ctx, tx, wallet.PostInput{
			Type:              wallet.TransactionDeposit,
			AmountMinorUnits:  locked.RequestedAmountMinorUnits,
			PointsDelta:       money.PointsFor(locked.RequestedAmountMinorUnits, s.pointsDivisor),
			Description:       fmt.Sprintf("Top-up via %s", res.Method),
			ExternalReference: &ref,
		})
		if err != nil {
			return fmt.Errorf("failed to post deposit: %w", err)
		}
		deposit = t
		outcome = topup.OutcomeSettled
		return tx.UpdateIntent(ctx, locked)
	})
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, xerrors.ErrAmountMismatch) {
			s.logger.Warn("payment webhook amount mismatch", zap.String("intent_id", intent.IntentID), zap.Error(err))
		} else {
			s.logger.Error("failed to reconcile payment webhook", zap.String("intent_id", intent.IntentID), zap.Error(err))
		}
		return nil, err
	}

	switch outcome {
	case topup.OutcomeSettled:
		s.logger.Info("top-up settled",
			zap.Int64("account_id", final.AccountID),
			zap.String("intent_id", final.IntentID),
			zap.String("gateway_reference", *final.GatewayReference),
			zap.Int64("amount", deposit.AmountMinorUnits),
			zap.Int64("points", deposit.PointsDelta),
		)
		if s.publisher != nil {
			s.publisher.PublishToAccount(final.AccountID, ledger.EventTopUpSettled, TopUpSettledEvent{
				IntentID: final.IntentID,
				Amount:   deposit.AmountMinorUnits,
				Points:   deposit.PointsDelta,
				Balance:  deposit.BalanceAfter,
			})
		}
		s.ledger.NotifyWalletUpdated(ctx, final.AccountID)
	case topup.OutcomeFailed:
		s.logger.Info("top-up failed at gateway",
			zap.Int64("account_id", final.AccountID),
			zap.String("intent_id", final.IntentID),
			zap.String("result_code", res.ResultCode),
		)
	default:
		return s.noop(final), nil
	}

	return &topup.WebhookResult{IntentID: final.IntentID, Outcome: outcome, Status: final.Status}, nil
}

func (s *Service) noop(intent *topup.Intent) *topup.WebhookResult {
	s.logger.Info("webhook for terminal intent ignored",
		zap.String("intent_id", intent.IntentID),
		zap.String("status", string(intent.Status)),
	)
	return &topup.WebhookResult{IntentID: intent.IntentID, Outcome: topup.OutcomeNoop, Status: intent.Status}
}

// HandleRedirect reports what the browser redirect claims next to the stored
// intent status. It never changes state; only the webhook settles.
func (s *Service) HandleRedirect(ctx context.Context, method topup.PaymentMethod, params map[string]string) (*topup.RedirectStatus, error) {
	ctx, span := s.tracer.Start(ctx, "reconcile.HandleRedirect")
	defer span.End()

	gw, err := s.Resolve(method, params)
	if err != nil {
		return nil, err
	}
	res, err := gw.ParseNotification(params)
	s.archive(ctx, gw.Method(), topup.CallbackRedirect, res, params)
	if err != nil {
		return nil, err
	}

	intent, err := s.store.FindIntent(ctx, res.IntentID)
	if err != nil {
		return nil, err
	}

	return &topup.RedirectStatus{
		IntentID:       intent.IntentID,
		Status:         intent.Status,
		GatewayCode:    res.ResultCode,
		GatewayMessage: res.Message,
		GatewaySuccess: res.Success && res.SignatureValid,
		SignatureValid: res.SignatureValid,
		Provisional:    intent.Status == topup.IntentPending,
		Amount:         intent.RequestedAmountMinorUnits,
	}, nil
}

func (s *Service) archive(ctx context.Context, method topup.PaymentMethod, kind topup.CallbackKind, res *topup.GatewayResult, params map[string]string) {
	if s.callbacks == nil {
		return
	}
	rec := &topup.CallbackRecord{Method: method, Kind: kind, Params: params, ReceivedAt: s.now()}
	if res != nil {
		rec.IntentID = res.IntentID
	}
	if err := s.callbacks.Append(ctx, rec); err != nil {
		s.logger.Warn("failed to archive payment callback",
			zap.String("method", string(method)),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
	}
}

// CheckIntegrity finds SETTLED intents whose deposit is missing from the ledger.
func (s *Service) CheckIntegrity(ctx context.Context) ([]topup.Intent, error) {
	ctx, span := s.tracer.Start(ctx, "reconcile.CheckIntegrity")
	defer span.End()

	drift, err := s.store.ListSettledWithoutDeposit(ctx, integrityBatch)
	if err != nil {
		return nil, fmt.Errorf("failed to run drift query: %w", err)
	}
	for _, in := range drift {
		ref := ""
		if in.GatewayReference != nil {
			ref = *in.GatewayReference
		}
		s.logger.Error("settled intent has no deposit",
			zap.String("intent_id", in.IntentID),
			zap.Int64("account_id", in.AccountID),
			zap.String("gateway_reference", ref),
		)
	}
	if len(drift) > 0 {
		return drift, xerrors.ErrIntegrityViolation
	}
	return drift, nil
}
