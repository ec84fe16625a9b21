package charge

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"healthwallet-service/internal/domain/wallet"
	"healthwallet-service/internal/repository/memory"
	"healthwallet-service/internal/service/ledger"
	"healthwallet-service/internal/service/loyalty"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type envelope struct {
	Success bool               `json:"success"`
	Data    wallet.Transaction `json:"data"`
	Error   string             `json:"error"`
}

func setupRouter(t *testing.T) (*gin.Engine, *ledger.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ledgerService := ledger.NewService(memory.NewStore(), loyalty.MustTierTable(loyalty.DefaultTiers()), nil, zap.NewNop())
	_, err := ledgerService.PostTransaction(context.Background(), 5, wallet.PostInput{
		Type:             wallet.TransactionDeposit,
		AmountMinorUnits: 200000,
		PointsDelta:      2000,
		Description:      "top-up",
	})
	require.NoError(t, err)

	h := NewChargeHandler(ledgerService)
	r := gin.New()
	r.POST("/internal/wallet/:accountId/payments", h.Pay)
	r.POST("/internal/wallet/:accountId/refunds", h.Refund)
	return r, ledgerService
}

func post(t *testing.T, r *gin.Engine, path string, body interface{}) (int, envelope) {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return w.Code, env
}

func TestPayIsIdempotentPerAppointment(t *testing.T) {
	r, ledgerService := setupRouter(t)

	code, first := post(t, r, "/internal/wallet/5/payments", gin.H{"amount": 150000, "appointmentId": 42})
	require.Equal(t, http.StatusOK, code, first.Error)
	assert.Equal(t, wallet.TransactionPayment, first.Data.Type)
	assert.Equal(t, int64(-150000), first.Data.AmountMinorUnits)
	assert.Equal(t, int64(50000), first.Data.BalanceAfter)

	code, again := post(t, r, "/internal/wallet/5/payments", gin.H{"amount": 150000, "appointmentId": 42})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, first.Data.TransactionID, again.Data.TransactionID)

	state, err := ledgerService.GetWalletState(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, int64(50000), state.Balance)
}

func TestPayRejectsOverdraft(t *testing.T) {
	r, _ := setupRouter(t)

	code, env := post(t, r, "/internal/wallet/5/payments", gin.H{"amount": 250000, "appointmentId": 7})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.False(t, env.Success)
}

func TestRefund(t *testing.T) {
	r, _ := setupRouter(t)

	code, _ := post(t, r, "/internal/wallet/5/payments", gin.H{"amount": 150000, "appointmentId": 42})
	require.Equal(t, http.StatusOK, code)

	code, env := post(t, r, "/internal/wallet/5/refunds", gin.H{"amount": 150000, "appointmentId": 42})
	require.Equal(t, http.StatusOK, code, env.Error)
	assert.Equal(t, wallet.TransactionRefund, env.Data.Type)
	assert.Equal(t, int64(200000), env.Data.BalanceAfter)

	code, _ = post(t, r, "/internal/wallet/5/refunds", gin.H{"amount": 1000, "appointmentId": 99})
	assert.Equal(t, http.StatusBadRequest, code, "appointment was never paid")
}

func TestChargeValidation(t *testing.T) {
	r, _ := setupRouter(t)

	code, _ := post(t, r, "/internal/wallet/abc/payments", gin.H{"amount": 1000, "appointmentId": 1})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = post(t, r, "/internal/wallet/5/payments", gin.H{"amount": 0, "appointmentId": 1})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = post(t, r, "/internal/wallet/5/payments", gin.H{"amount": 1000})
	assert.Equal(t, http.StatusBadRequest, code)
}
