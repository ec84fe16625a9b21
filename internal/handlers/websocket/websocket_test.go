package handlers

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"healthwallet-service/internal/domain/wallet"
	wstypes "healthwallet-service/internal/domain/websocket"
	"healthwallet-service/internal/pkg/jwt"
	"healthwallet-service/internal/pkg/session"
	ws "healthwallet-service/internal/websocket"
	wsHandlers "healthwallet-service/internal/websocket/handler"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type staticWallets struct{}

func (staticWallets) GetWalletState(ctx context.Context, accountID int64) (*wallet.WalletState, error) {
	return &wallet.WalletState{AccountID: accountID, Balance: 125000, LoyaltyTier: "BRONZE"}, nil
}

type wsFixture struct {
	server      *httptest.Server
	hub         *ws.Hub
	gen         *jwt.Generator
	revocations *session.MemoryRevocations
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	revocations := session.NewMemoryRevocations()
	hub := ws.NewHub(jwt.NewVerifier(&priv.PublicKey, "identity", "healthwallet"), revocations, zap.NewNop())
	hub.RegisterHandler(wsHandlers.NewWalletHandler(staticWallets{}))

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	r := gin.New()
	r.GET("/ws", NewWebSocketHandler(hub, nil, zap.NewNop()).HandleConnection)
	srv := httptest.NewServer(r)

	t.Cleanup(func() {
		cancel()
		srv.Close()
	})

	return &wsFixture{
		server:      srv,
		hub:         hub,
		gen:         jwt.NewGenerator(priv, "identity", "healthwallet", "", time.Minute),
		revocations: revocations,
	}
}

func (f *wsFixture) dial(t *testing.T, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws?token=" + token
	return websocket.DefaultDialer.Dial(url, nil)
}

func readMessage(t *testing.T, conn *websocket.Conn) *wstypes.WSMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var msg wstypes.WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return &msg
}

func TestWebSocketPushesWalletEvents(t *testing.T) {
	f := newWSFixture(t)

	token, _, err := f.gen.GenerateAccessToken(42, nil, "web")
	require.NoError(t, err)
	conn, _, err := f.dial(t, token)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, wstypes.EventTypeConnected, readMessage(t, conn).Type)
	assert.Equal(t, 1, f.hub.ConnectedClients(42))

	f.hub.PublishToAccount(7, "wallet:updated", map[string]int64{"balance": 1})
	f.hub.PublishToAccount(42, "wallet:updated", map[string]int64{"balance": 100000})

	msg := readMessage(t, conn)
	assert.Equal(t, wstypes.EventTypeWalletUpdated, msg.Type)
	data, ok := msg.Data.(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 100000, data["balance"])
}

func TestWebSocketWalletSync(t *testing.T) {
	f := newWSFixture(t)

	token, _, err := f.gen.GenerateAccessToken(42, nil, "web")
	require.NoError(t, err)
	conn, _, err := f.dial(t, token)
	require.NoError(t, err)
	defer conn.Close()
	readMessage(t, conn)

	require.NoError(t, conn.WriteJSON(wstypes.NewMessage(wstypes.EventTypeWalletSync, nil)))
	msg := readMessage(t, conn)
	assert.Equal(t, wstypes.EventTypeWalletUpdated, msg.Type)
	data := msg.Data.(map[string]interface{})
	assert.EqualValues(t, 125000, data["balance"])

	require.NoError(t, conn.WriteJSON(wstypes.NewMessage(wstypes.EventTypePing, nil)))
	assert.Equal(t, wstypes.EventTypePong, readMessage(t, conn).Type)
}

func TestWebSocketRejectsBadTokens(t *testing.T) {
	f := newWSFixture(t)

	_, resp, err := f.dial(t, "not-a-token")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token, jti, err := f.gen.GenerateAccessToken(42, nil, "web")
	require.NoError(t, err)
	require.NoError(t, f.revocations.BlacklistToken(context.Background(), jti, time.Hour))

	_, resp, err = f.dial(t, token)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
