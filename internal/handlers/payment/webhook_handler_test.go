package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"healthwallet-service/internal/domain/topup"
	"healthwallet-service/internal/domain/wallet"
	"healthwallet-service/internal/pkg/gateway"
	"healthwallet-service/internal/repository/memory"
	"healthwallet-service/internal/service/ledger"
	"healthwallet-service/internal/service/loyalty"
	"healthwallet-service/internal/service/reconcile"
	topupService "healthwallet-service/internal/service/topup"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type webhookEnv struct {
	router *gin.Engine
	vnpay  *gateway.VNPay
	momo   *gateway.MoMo
	topups *topupService.Service
	ledger *ledger.Service
	store  *flakyStore
}

// flakyStore fails every unit of work while down is set.
type flakyStore struct {
	*memory.Store
	down atomic.Bool
}

func (s *flakyStore) WithinAccount(ctx context.Context, accountID int64, fn func(ctx context.Context, tx wallet.Tx) error) error {
	if s.down.Load() {
		return errors.New("dial tcp 127.0.0.1:5432: connect: connection refused")
	}
	return s.Store.WithinAccount(ctx, accountID, fn)
}

func newWebhookEnv(t *testing.T) *webhookEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	sandbox := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"resultCode": 0, "payUrl": "https://test-payment.momo.vn/pay/x"})
	}))
	t.Cleanup(sandbox.Close)

	e := &webhookEnv{
		vnpay: gateway.NewVNPay(gateway.VNPayConfig{
			TmnCode:    "DEMO1234",
			HashSecret: "SECRETKEYFORTESTS",
			PayURL:     "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html",
		}),
		momo: gateway.NewMoMo(gateway.MoMoConfig{
			PartnerCode: "MOMOTEST",
			AccessKey:   "ACCESS",
			SecretKey:   "SECRET",
			Endpoint:    sandbox.URL,
		}, nil),
	}
	registry := gateway.NewRegistry(e.vnpay, e.momo)
	store := &flakyStore{Store: memory.NewStore()}
	e.store = store
	e.ledger = ledger.NewService(store, loyalty.MustTierTable(loyalty.DefaultTiers()), nil, logger)
	e.topups = topupService.NewService(store, registry, nil, topupService.DefaultPolicy(), logger)
	reconciler := reconcile.NewService(store, registry, e.ledger, memory.NewCallbackLog(), nil, reconcile.DefaultPointsDivisor, logger)

	h := NewWebhookHandler(reconciler, logger)
	e.router = gin.New()
	e.router.POST("/webhooks/payment", h.HandleWebhook)
	e.router.GET("/webhooks/payment/:gateway", h.HandleWebhook)
	e.router.POST("/webhooks/payment/:gateway", h.HandleWebhook)
	return e
}

func (e *webhookEnv) openIntent(t *testing.T, accountID, amount int64, method string) string {
	t.Helper()
	resp, err := e.topups.CreateTopUp(context.Background(), accountID, &topup.CreateTopUpRequest{Amount: amount, PaymentMethod: method}, "")
	require.NoError(t, err)
	return resp.IntentID
}

func (e *webhookEnv) serve(req *http.Request) (*httptest.ResponseRecorder, map[string]interface{}) {
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	var body map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w, body
}

func (e *webhookEnv) vnpayIPN(intentID string, amount int64, code string) string {
	p := map[string]string{
		"vnp_TmnCode":           "DEMO1234",
		"vnp_Amount":            strconv.FormatInt(amount*100, 10),
		"vnp_TxnRef":            intentID,
		"vnp_TransactionNo":     "14226112",
		"vnp_ResponseCode":      code,
		"vnp_TransactionStatus": code,
		"vnp_OrderInfo":         "Nap tien vi",
		"vnp_PayDate":           "20250301081500",
	}
	p["vnp_SecureHash"] = e.vnpay.Sign(p)
	q := url.Values{}
	for k, v := range p {
		q.Set(k, v)
	}
	return q.Encode()
}

func (e *webhookEnv) balance(t *testing.T, accountID int64) int64 {
	t.Helper()
	state, err := e.ledger.GetWalletState(context.Background(), accountID)
	require.NoError(t, err)
	return state.Balance
}

func TestVNPayIPNSettlesAndAcknowledges(t *testing.T) {
	e := newWebhookEnv(t)
	intentID := e.openIntent(t, 1, 100000, "VNPAY")
	query := e.vnpayIPN(intentID, 100000, "00")

	w, body := e.serve(httptest.NewRequest(http.MethodGet, "/webhooks/payment/vnpay?"+query, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "00", body["RspCode"])
	assert.Equal(t, int64(100000), e.balance(t, 1))

	// replay is acknowledged and changes nothing
	w, body = e.serve(httptest.NewRequest(http.MethodGet, "/webhooks/payment/vnpay?"+query, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "00", body["RspCode"])
	assert.Equal(t, int64(100000), e.balance(t, 1))
}

func TestVNPayIPNBadChecksum(t *testing.T) {
	e := newWebhookEnv(t)
	intentID := e.openIntent(t, 1, 100000, "VNPAY")
	query := strings.Replace(e.vnpayIPN(intentID, 100000, "00"), "vnp_Amount=10000000", "vnp_Amount=99900000", 1)

	w, body := e.serve(httptest.NewRequest(http.MethodGet, "/webhooks/payment/vnpay?"+query, nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "97", body["RspCode"])
	assert.Zero(t, e.balance(t, 1))
}

func TestVNPayIPNStoreDownAsksForRetry(t *testing.T) {
	e := newWebhookEnv(t)
	intentID := e.openIntent(t, 1, 100000, "VNPAY")
	query := e.vnpayIPN(intentID, 100000, "00")

	e.store.down.Store(true)
	w, body := e.serve(httptest.NewRequest(http.MethodGet, "/webhooks/payment/vnpay?"+query, nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "99", body["RspCode"])

	// the gateway retry lands once the store is back
	e.store.down.Store(false)
	w, body = e.serve(httptest.NewRequest(http.MethodGet, "/webhooks/payment/vnpay?"+query, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "00", body["RspCode"])
	assert.Equal(t, int64(100000), e.balance(t, 1))
}

func TestVNPayIPNAmountMismatchIsConflict(t *testing.T) {
	e := newWebhookEnv(t)
	intentID := e.openIntent(t, 1, 100000, "VNPAY")
	query := e.vnpayIPN(intentID, 50000, "00")

	w, body := e.serve(httptest.NewRequest(http.MethodGet, "/webhooks/payment/vnpay?"+query, nil))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "04", body["RspCode"])
	assert.Zero(t, e.balance(t, 1))
}

func TestMoMoIPNJSONBody(t *testing.T) {
	e := newWebhookEnv(t)
	intentID := e.openIntent(t, 1, 250000, "MOMO")

	p := map[string]string{
		"partnerCode":  "MOMOTEST",
		"orderId":      intentID,
		"requestId":    "req-1",
		"amount":       "250000",
		"orderInfo":    "Nap tien vi",
		"orderType":    "momo_wallet",
		"transId":      "4088878653",
		"resultCode":   "0",
		"message":      "Successful.",
		"payType":      "qr",
		"responseTime": "1721720663942",
		"extraData":    "",
	}
	signature := e.momo.Sign(p)

	// MoMo sends numbers as JSON numbers
	raw := `{"partnerCode":"MOMOTEST","orderId":"` + intentID + `","requestId":"req-1","amount":250000,` +
		`"orderInfo":"Nap tien vi","orderType":"momo_wallet","transId":4088878653,"resultCode":0,` +
		`"message":"Successful.","payType":"qr","responseTime":1721720663942,"extraData":"","signature":"` + signature + `"}`

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewBufferString(raw))
	req.Header.Set("Content-Type", "application/json")
	w, body := e.serve(req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, body["resultCode"])
	assert.Equal(t, int64(250000), e.balance(t, 1))

	// tampered copy is rejected with a client error
	req = httptest.NewRequest(http.MethodPost, "/webhooks/payment/momo",
		bytes.NewBufferString(strings.Replace(raw, `"amount":250000`, `"amount":2500000`, 1)))
	req.Header.Set("Content-Type", "application/json")
	w, body = e.serve(req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.EqualValues(t, 1, body["resultCode"])
	assert.Equal(t, int64(250000), e.balance(t, 1))
}

func TestWebhookUnknownGateway(t *testing.T) {
	e := newWebhookEnv(t)

	w, _ := e.serve(httptest.NewRequest(http.MethodPost, "/webhooks/payment/paypal", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewBufferString(`{"foo":"bar"}`))
	req.Header.Set("Content-Type", "application/json")
	w, _ = e.serve(req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReadParamsForm(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/webhooks/payment?a=1", strings.NewReader("b=2&c=three"))
	c.Request.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	params, err := readParams(c)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "2", "c": "three"}, params)
}
