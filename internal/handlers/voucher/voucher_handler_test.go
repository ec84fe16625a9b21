package voucher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"healthwallet-service/internal/domain/wallet"
	"healthwallet-service/internal/repository/memory"
	"healthwallet-service/internal/service/ledger"
	loyaltyService "healthwallet-service/internal/service/loyalty"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func setupRouter(t *testing.T, points int64) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	logger := zap.NewNop()

	store := memory.NewStore()
	tiers := loyaltyService.MustTierTable(loyaltyService.DefaultTiers())
	ledgerService := ledger.NewService(store, tiers, nil, logger)
	vouchers := loyaltyService.NewVoucherService(store, ledgerService, tiers, logger)

	_, err := vouchers.SeedCatalog(ctx, loyaltyService.DefaultCatalog())
	require.NoError(t, err)
	if points > 0 {
		_, err = ledgerService.PostTransaction(ctx, 1, wallet.PostInput{
			Type:             wallet.TransactionDeposit,
			AmountMinorUnits: points * 100,
			PointsDelta:      points,
			Description:      "top-up",
		})
		require.NoError(t, err)
	}

	h := NewVoucherHandler(vouchers)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("identity_id", int64(1))
		c.Next()
	})
	r.GET("/wallet/vouchers", h.ListAvailable)
	r.GET("/wallet/vouchers/redeemed", h.ListRedeemed)
	r.POST("/wallet/vouchers/:id/redeem", h.Redeem)
	r.POST("/wallet/vouchers/:id/use", h.MarkUsed)
	return r
}

func call(t *testing.T, r *gin.Engine, method, path string) (int, envelope) {
	t.Helper()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return w.Code, env
}

func count(t *testing.T, env envelope) int {
	t.Helper()
	var body struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &body))
	return body.Count
}

func TestRedeemFlow(t *testing.T) {
	r := setupRouter(t, 1000)

	code, env := call(t, r, http.MethodGet, "/wallet/vouchers")
	require.Equal(t, http.StatusOK, code)
	available := count(t, env)
	require.Greater(t, available, 1)

	code, env = call(t, r, http.MethodPost, "/wallet/vouchers/1/redeem")
	require.Equal(t, http.StatusOK, code, env.Error)
	var redeemed struct {
		LoyaltyPoints int64  `json:"loyaltyPoints"`
		LoyaltyTier   string `json:"loyaltyTier"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &redeemed))
	assert.Equal(t, int64(500), redeemed.LoyaltyPoints)
	assert.Equal(t, "BRONZE", redeemed.LoyaltyTier)

	code, _ = call(t, r, http.MethodPost, "/wallet/vouchers/1/redeem")
	assert.Equal(t, http.StatusConflict, code)

	_, env = call(t, r, http.MethodGet, "/wallet/vouchers")
	assert.Equal(t, available-1, count(t, env))

	_, env = call(t, r, http.MethodGet, "/wallet/vouchers/redeemed")
	assert.Equal(t, 1, count(t, env))

	code, _ = call(t, r, http.MethodPost, "/wallet/vouchers/1/use")
	assert.Equal(t, http.StatusOK, code)
	code, _ = call(t, r, http.MethodPost, "/wallet/vouchers/1/use")
	assert.Equal(t, http.StatusConflict, code)
}

func TestRedeemErrors(t *testing.T) {
	r := setupRouter(t, 100)

	code, _ := call(t, r, http.MethodPost, "/wallet/vouchers/1/redeem")
	assert.Equal(t, http.StatusUnprocessableEntity, code, "not enough points")

	code, _ = call(t, r, http.MethodPost, "/wallet/vouchers/999/redeem")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = call(t, r, http.MethodPost, "/wallet/vouchers/abc/redeem")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = call(t, r, http.MethodPost, "/wallet/vouchers/2/use")
	assert.Equal(t, http.StatusNotFound, code, "never redeemed")
}
