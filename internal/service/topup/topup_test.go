package topup

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"healthwallet-service/internal/domain/topup"
	"healthwallet-service/internal/domain/wallet"
	xerrors "healthwallet-service/internal/pkg/errors"
	"healthwallet-service/internal/pkg/gateway"
	"healthwallet-service/internal/pkg/ratelimit"
	"healthwallet-service/internal/repository/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubGateway fails the first failures calls with err, then succeeds.
type stubGateway struct {
	method   topup.PaymentMethod
	failures int32
	err      error
	calls    int32
}

func (g *stubGateway) Method() topup.PaymentMethod { return g.method }

func (g *stubGateway) Initiate(ctx context.Context, req gateway.InitiateRequest) (string, error) {
	n := atomic.AddInt32(&g.calls, 1)
	if n <= g.failures {
		return "", g.err
	}
	return fmt.Sprintf("https://pay.example/%s?amount=%d", req.IntentID, req.AmountMinorUnits), nil
}

func (g *stubGateway) ParseNotification(params map[string]string) (*topup.GatewayResult, error) {
	return nil, errors.New("not used")
}

func (g *stubGateway) Acknowledge(err error) map[string]interface{} { return nil }

func testPolicy() Policy {
	p := DefaultPolicy()
	p.RetryInitialInterval = time.Millisecond
	p.RetryMaxElapsed = time.Second
	return p
}

func newTopUp(t *testing.T, gw *stubGateway, limiter ratelimit.Limiter) (*Service, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	svc := NewService(store, gateway.NewRegistry(gw), limiter, testPolicy(), zap.NewNop())
	return svc, store
}

func TestCreateTopUpOpensPendingIntent(t *testing.T) {
	gw := &stubGateway{method: topup.PaymentMethodVNPay}
	svc, store := newTopUp(t, gw, nil)
	ctx := context.Background()

	resp, err := svc.CreateTopUp(ctx, 1, &topup.CreateTopUpRequest{Amount: 100000, PaymentMethod: "vnpay"}, "10.0.0.1")
	require.NoError(t, err)
	assert.NotEmpty(t, resp.IntentID)
	assert.Contains(t, resp.PaymentURL, resp.IntentID)

	intent, err := store.FindIntent(ctx, resp.IntentID)
	require.NoError(t, err)
	assert.Equal(t, topup.IntentPending, intent.Status)
	assert.Equal(t, int64(100000), intent.RequestedAmountMinorUnits)
	assert.Equal(t, topup.PaymentMethodVNPay, intent.PaymentMethod)

	again, err := svc.CreateTopUp(ctx, 1, &topup.CreateTopUpRequest{Amount: 100000, PaymentMethod: "VNPAY"}, "")
	require.NoError(t, err)
	assert.NotEqual(t, resp.IntentID, again.IntentID)
}

func TestCreateTopUpValidation(t *testing.T) {
	gw := &stubGateway{method: topup.PaymentMethodVNPay}
	svc, _ := newTopUp(t, gw, nil)
	ctx := context.Background()

	_, err := svc.CreateTopUp(ctx, 1, &topup.CreateTopUpRequest{Amount: 9_999, PaymentMethod: "VNPAY"}, "")
	assert.ErrorIs(t, err, xerrors.ErrInvalidAmount)

	_, err = svc.CreateTopUp(ctx, 1, &topup.CreateTopUpRequest{Amount: 50_000_001, PaymentMethod: "VNPAY"}, "")
	assert.ErrorIs(t, err, xerrors.ErrInvalidAmount)

	_, err = svc.CreateTopUp(ctx, 1, &topup.CreateTopUpRequest{Amount: 100000, PaymentMethod: "PAYPAL"}, "")
	assert.ErrorIs(t, err, xerrors.ErrUnsupportedGateway)

	// configured method set only has VNPAY
	_, err = svc.CreateTopUp(ctx, 1, &topup.CreateTopUpRequest{Amount: 100000, PaymentMethod: "MOMO"}, "")
	assert.ErrorIs(t, err, xerrors.ErrUnsupportedGateway)

	assert.Zero(t, atomic.LoadInt32(&gw.calls))
}

func TestCreateTopUpRetriesTransientFailures(t *testing.T) {
	gw := &stubGateway{method: topup.PaymentMethodMoMo, failures: 2, err: errors.New("connection reset")}
	svc, _ := newTopUp(t, gw, nil)

	resp, err := svc.CreateTopUp(context.Background(), 1, &topup.CreateTopUpRequest{Amount: 200000, PaymentMethod: "MOMO"}, "")
	require.NoError(t, err)
	assert.NotEmpty(t, resp.PaymentURL)
	assert.Equal(t, int32(3), atomic.LoadInt32(&gw.calls))
}

func TestCreateTopUpGatewayUnavailableFailsIntent(t *testing.T) {
	gw := &stubGateway{method: topup.PaymentMethodMoMo, failures: 100, err: errors.New("timeout")}
	svc, store := newTopUp(t, gw, nil)
	ctx := context.Background()

	_, err := svc.CreateTopUp(ctx, 1, &topup.CreateTopUpRequest{Amount: 200000, PaymentMethod: "MOMO"}, "")
	assert.ErrorIs(t, err, xerrors.ErrGatewayUnavailable)
	assert.Equal(t, int32(4), atomic.LoadInt32(&gw.calls))

	stale, err := store.ListStaleIntents(ctx, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, stale, "failed intent must not stay pending")
}

func TestCreateTopUpRejectedIsNotRetried(t *testing.T) {
	gw := &stubGateway{method: topup.PaymentMethodMoMo, failures: 100, err: fmt.Errorf("bad amount: %w", gateway.ErrRejected)}
	svc, _ := newTopUp(t, gw, nil)

	_, err := svc.CreateTopUp(context.Background(), 1, &topup.CreateTopUpRequest{Amount: 200000, PaymentMethod: "MOMO"}, "")
	assert.ErrorIs(t, err, xerrors.ErrGatewayUnavailable)
	assert.Equal(t, int32(1), atomic.LoadInt32(&gw.calls))
}

func TestCreateTopUpRateLimited(t *testing.T) {
	gw := &stubGateway{method: topup.PaymentMethodVNPay}
	svc, _ := newTopUp(t, gw, ratelimit.NewMemoryLimiter(2, time.Minute))
	ctx := context.Background()
	req := &topup.CreateTopUpRequest{Amount: 100000, PaymentMethod: "VNPAY"}

	for i := 0; i < 2; i++ {
		_, err := svc.CreateTopUp(ctx, 1, req, "")
		require.NoError(t, err)
	}
	_, err := svc.CreateTopUp(ctx, 1, req, "")
	assert.ErrorIs(t, err, xerrors.ErrRateLimited)

	_, err = svc.CreateTopUp(ctx, 2, req, "")
	assert.NoError(t, err)
}

func TestGetIntentScopedToAccount(t *testing.T) {
	gw := &stubGateway{method: topup.PaymentMethodVNPay}
	svc, _ := newTopUp(t, gw, nil)
	ctx := context.Background()

	resp, err := svc.CreateTopUp(ctx, 1, &topup.CreateTopUpRequest{Amount: 100000, PaymentMethod: "VNPAY"}, "")
	require.NoError(t, err)

	intent, err := svc.GetIntent(ctx, 1, resp.IntentID)
	require.NoError(t, err)
	assert.Equal(t, resp.IntentID, intent.IntentID)

	_, err = svc.GetIntent(ctx, 2, resp.IntentID)
	assert.ErrorIs(t, err, xerrors.ErrIntentNotFound)

	_, err = svc.GetIntent(ctx, 1, "missing")
	assert.ErrorIs(t, err, xerrors.ErrIntentNotFound)
}

func TestExpireStaleIsIdempotentAndSkipsSettled(t *testing.T) {
	gw := &stubGateway{method: topup.PaymentMethodVNPay}
	svc, store := newTopUp(t, gw, nil)
	ctx := context.Background()

	start := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return start }

	stale, err := svc.CreateTopUp(ctx, 1, &topup.CreateTopUpRequest{Amount: 100000, PaymentMethod: "VNPAY"}, "")
	require.NoError(t, err)
	settled, err := svc.CreateTopUp(ctx, 1, &topup.CreateTopUpRequest{Amount: 100000, PaymentMethod: "VNPAY"}, "")
	require.NoError(t, err)

	require.NoError(t, store.WithinAccount(ctx, 1, func(ctx context.Context, tx wallet.Tx) error {
		in, err := tx.LockIntent(ctx, settled.IntentID)
		if err != nil {
			return err
		}
		in.Status = topup.IntentSettled
		return tx.UpdateIntent(ctx, in)
	}))

	later := start.Add(31 * time.Minute)
	n, err := svc.ExpireStale(ctx, later)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = svc.ExpireStale(ctx, later)
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := store.FindIntent(ctx, stale.IntentID)
	require.NoError(t, err)
	assert.Equal(t, topup.IntentExpired, got.Status)
	require.NotNil(t, got.FailureReason)

	got, err = store.FindIntent(ctx, settled.IntentID)
	require.NoError(t, err)
	assert.Equal(t, topup.IntentSettled, got.Status)
}

// listedStore serves a fixed stale listing, as if the sweep read it before
// a webhook settled the intent.
type listedStore struct {
	*memory.Store
	listed []topup.Intent
}

func (s *listedStore) ListStaleIntents(ctx context.Context, createdBefore time.Time, limit int) ([]topup.Intent, error) {
	return s.listed, nil
}

func TestExpireStaleSkipsIntentSettledAfterListing(t *testing.T) {
	gw := &stubGateway{method: topup.PaymentMethodVNPay}
	mem := memory.NewStore()
	store := &listedStore{Store: mem}
	svc := NewService(store, gateway.NewRegistry(gw), nil, testPolicy(), zap.NewNop())
	ctx := context.Background()

	start := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return start }
	resp, err := svc.CreateTopUp(ctx, 1, &topup.CreateTopUpRequest{Amount: 100000, PaymentMethod: "VNPAY"}, "")
	require.NoError(t, err)

	snapshot, err := mem.FindIntent(ctx, resp.IntentID)
	require.NoError(t, err)
	store.listed = []topup.Intent{*snapshot}

	require.NoError(t, mem.WithinAccount(ctx, 1, func(ctx context.Context, tx wallet.Tx) error {
		in, err := tx.LockIntent(ctx, resp.IntentID)
		if err != nil {
			return err
		}
		in.Status = topup.IntentSettled
		return tx.UpdateIntent(ctx, in)
	}))

	later := start.Add(31 * time.Minute)
	err = svc.expireOne(ctx, *snapshot, later.Add(-testPolicy().TTL))
	assert.ErrorIs(t, err, xerrors.ErrIntentAlreadyTerminal)

	n, err := svc.ExpireStale(ctx, later)
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := mem.FindIntent(ctx, resp.IntentID)
	require.NoError(t, err)
	assert.Equal(t, topup.IntentSettled, got.Status)
}

func TestExpireStaleLeavesFreshIntents(t *testing.T) {
	gw := &stubGateway{method: topup.PaymentMethodVNPay}
	svc, store := newTopUp(t, gw, nil)
	ctx := context.Background()

	start := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return start }

	resp, err := svc.CreateTopUp(ctx, 1, &topup.CreateTopUpRequest{Amount: 100000, PaymentMethod: "VNPAY"}, "")
	require.NoError(t, err)

	n, err := svc.ExpireStale(ctx, start.Add(29*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := store.FindIntent(ctx, resp.IntentID)
	require.NoError(t, err)
	assert.Equal(t, topup.IntentPending, got.Status)
}

func TestSweeperHonoursLease(t *testing.T) {
	gw := &stubGateway{method: topup.PaymentMethodVNPay}
	svc, _ := newTopUp(t, gw, nil)
	ctx := context.Background()

	start := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return start }
	_, err := svc.CreateTopUp(ctx, 1, &topup.CreateTopUpRequest{Amount: 100000, PaymentMethod: "VNPAY"}, "")
	require.NoError(t, err)
	svc.now = func() time.Time { return start.Add(time.Hour) }

	locker := ratelimit.NewLocalLocker()
	release, ok, err := locker.TryLock(ctx, sweepLockName, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	sweeper := NewSweeper(svc, locker, time.Minute, zap.NewNop())
	n, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "another holder owns the lease")

	require.NoError(t, release(ctx))
	n, err = sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
