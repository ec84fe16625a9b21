package topup

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"healthwallet-service/internal/domain/topup"
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

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

type testEnv struct {
	router *gin.Engine
	vnpay  *gateway.VNPay
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	vnpay := gateway.NewVNPay(gateway.VNPayConfig{
		TmnCode:    "DEMO1234",
		HashSecret: "SECRETKEYFORTESTS",
		PayURL:     "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html",
		ReturnURL:  "https://app.example.vn/wallet/payment/result",
	})
	registry := gateway.NewRegistry(vnpay)
	store := memory.NewStore()
	ledgerService := ledger.NewService(store, loyalty.MustTierTable(loyalty.DefaultTiers()), nil, logger)
	topups := topupService.NewService(store, registry, nil, topupService.DefaultPolicy(), logger)
	reconciler := reconcile.NewService(store, registry, ledgerService, memory.NewCallbackLog(), nil, reconcile.DefaultPointsDivisor, logger)

	h := NewTopUpHandler(topups, reconciler)

	r := gin.New()
	r.GET("/wallet/payment/result", h.PaymentResult)
	authed := r.Group("/", func(c *gin.Context) {
		id, _ := strconv.ParseInt(c.GetHeader("X-Test-Account"), 10, 64)
		c.Set("identity_id", id)
		c.Next()
	})
	authed.POST("/wallet/topup", h.CreateTopUp)
	authed.GET("/wallet/topup/:intentId", h.GetIntent)

	return &testEnv{router: r, vnpay: vnpay}
}

func (e *testEnv) do(t *testing.T, method, path string, accountID int64, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Test-Account", strconv.FormatInt(accountID, 10))

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return w, env
}

func (e *testEnv) createTopUp(t *testing.T, accountID, amount int64) topup.CreateTopUpResponse {
	t.Helper()
	w, env := e.do(t, http.MethodPost, "/wallet/topup", accountID, gin.H{"amount": amount, "paymentMethod": "VNPAY"})
	require.Equal(t, http.StatusCreated, w.Code, env.Error)

	var resp topup.CreateTopUpResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	return resp
}

func TestCreateTopUpReturnsPaymentURL(t *testing.T) {
	e := newTestEnv(t)

	resp := e.createTopUp(t, 1, 100000)
	assert.NotEmpty(t, resp.IntentID)

	u, err := url.Parse(resp.PaymentURL)
	require.NoError(t, err)
	assert.Equal(t, "sandbox.vnpayment.vn", u.Host)
	assert.Equal(t, resp.IntentID, u.Query().Get("vnp_TxnRef"))
	assert.Equal(t, "10000000", u.Query().Get("vnp_Amount"))
	assert.NotEmpty(t, u.Query().Get("vnp_SecureHash"))
}

func TestCreateTopUpRejectsBadInput(t *testing.T) {
	e := newTestEnv(t)

	tests := []struct {
		name string
		body interface{}
	}{
		{"below minimum", gin.H{"amount": 5000, "paymentMethod": "VNPAY"}},
		{"unknown method", gin.H{"amount": 100000, "paymentMethod": "PAYPAL"}},
		{"missing amount", gin.H{"paymentMethod": "VNPAY"}},
		{"negative amount", gin.H{"amount": -1, "paymentMethod": "VNPAY"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, env := e.do(t, http.MethodPost, "/wallet/topup", 1, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.False(t, env.Success)
		})
	}
}

func TestGetIntentIsScopedToCaller(t *testing.T) {
	e := newTestEnv(t)
	resp := e.createTopUp(t, 1, 100000)

	w, env := e.do(t, http.MethodGet, "/wallet/topup/"+resp.IntentID, 1, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var intent topup.Intent
	require.NoError(t, json.Unmarshal(env.Data, &intent))
	assert.Equal(t, topup.IntentPending, intent.Status)

	w, _ = e.do(t, http.MethodGet, "/wallet/topup/"+resp.IntentID, 2, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPaymentResultIsProvisional(t *testing.T) {
	e := newTestEnv(t)
	resp := e.createTopUp(t, 1, 100000)

	params := map[string]string{
		"vnp_TmnCode":           "DEMO1234",
		"vnp_Amount":            "10000000",
		"vnp_TxnRef":            resp.IntentID,
		"vnp_TransactionNo":     "14226112",
		"vnp_ResponseCode":      "00",
		"vnp_TransactionStatus": "00",
		"vnp_OrderInfo":         "Nap tien vi 100000",
		"vnp_PayDate":           "20250301081500",
	}
	params["vnp_SecureHash"] = e.vnpay.Sign(params)
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}

	w, env := e.do(t, http.MethodGet, "/wallet/payment/result?"+q.Encode(), 0, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var status topup.RedirectStatus
	require.NoError(t, json.Unmarshal(env.Data, &status))
	assert.True(t, status.GatewaySuccess)
	assert.True(t, status.Provisional)
	assert.Equal(t, topup.IntentPending, status.Status)

	// the redirect never settles the intent
	w, env = e.do(t, http.MethodGet, "/wallet/topup/"+resp.IntentID, 1, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var intent topup.Intent
	require.NoError(t, json.Unmarshal(env.Data, &intent))
	assert.Equal(t, topup.IntentPending, intent.Status)
}

func TestPaymentResultWithoutGatewayParams(t *testing.T) {
	e := newTestEnv(t)

	w, env := e.do(t, http.MethodGet, "/wallet/payment/result?foo=bar", 0, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, env.Success)
}
