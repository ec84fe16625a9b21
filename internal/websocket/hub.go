// internal/websocket/hub.go
package websocket

import (
	"context"
	"sync"

	wstypes "healthwallet-service/internal/domain/websocket"
	"healthwallet-service/internal/pkg/jwt"
	"healthwallet-service/internal/pkg/session"

	"go.uber.org/zap"
)

// Hub fans wallet events out to every open connection of an account.
type Hub struct {
	// Registered clients by account ID
	clients map[int64]map[*Client]bool
	mu      sync.RWMutex

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage
	done       chan struct{}

	handlerRegistry *HandlerRegistry

	jwtVerifier *jwt.Verifier
	revocations session.Revocations
	logger      *zap.Logger
}

type BroadcastMessage struct {
	AccountIDs []int64
	Channel    wstypes.ChannelType
	Message    *wstypes.WSMessage
}

func NewHub(jwtVerifier *jwt.Verifier, revocations session.Revocations, logger *zap.Logger) *Hub {
	return &Hub{
		clients:         make(map[int64]map[*Client]bool),
		register:        make(chan *Client),
		unregister:      make(chan *Client),
		broadcast:       make(chan *BroadcastMessage, 256),
		done:            make(chan struct{}),
		handlerRegistry: NewHandlerRegistry(),
		jwtVerifier:     jwtVerifier,
		revocations:     revocations,
		logger:          logger,
	}
}

// AuthenticateClient validates the access token and its revocation status.
func (h *Hub) AuthenticateClient(ctx context.Context, token string) (*ClientAuth, error) {
	if h.jwtVerifier == nil {
		return nil, ErrUnauthorized
	}
	claims, err := h.jwtVerifier.VerifyAccessToken(token)
	if err != nil {
		return nil, err
	}

	if h.revocations != nil {
		blacklisted, err := h.revocations.IsTokenBlacklisted(ctx, claims.ID)
		if err != nil {
			return nil, err
		}
		if blacklisted {
			return nil, ErrTokenRevoked
		}
	}

	return &ClientAuth{
		AccountID: claims.IdentityID,
		SessionID: claims.ID,
		Device:    claims.Device,
	}, nil
}

func (h *Hub) RegisterHandler(handler MessageHandler) {
	h.handlerRegistry.Register(handler)
}

// Register hands a connected client to the hub loop.
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	if h.clients[client.accountID] == nil {
		h.clients[client.accountID] = make(map[*Client]bool)
	}
	h.clients[client.accountID][client] = true
	total := h.totalClients()
	h.mu.Unlock()

	h.logger.Info("websocket client connected",
		zap.Int64("account_id", client.accountID),
		zap.String("session_id", client.sessionID),
		zap.Int("total", total),
	)

	client.SendMessage(wstypes.NewMessage(wstypes.EventTypeConnected, map[string]interface{}{
		"accountId": client.accountID,
		"sessionId": client.sessionID,
		"channels":   []wstypes.ChannelType{wstypes.ChannelWallet, wstypes.ChannelSystem},
	}))
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.clients[client.accountID]
	if !ok || !clients[client] {
		return
	}
	delete(clients, client)
	client.Close()
	if len(clients) == 0 {
		delete(h.clients, client.accountID)
	}

	h.logger.Info("websocket client disconnected",
		zap.Int64("account_id", client.accountID),
		zap.String("session_id", client.sessionID),
		zap.Int("total", h.totalClients()),
	)
}

// deliver runs on the hub loop. Clients whose buffers are full are dropped.
func (h *Hub) deliver(msg *BroadcastMessage) {
	var slow []*Client

	h.mu.RLock()
	send := func(clients map[*Client]bool) {
		for client := range clients {
			if client.IsSubscribed(msg.Channel) && !client.SendMessage(msg.Message) {
				slow = append(slow, client)
			}
		}
	}
	if msg.AccountIDs == nil {
		for _, clients := range h.clients {
			send(clients)
		}
	} else {
		for _, accountID := range msg.AccountIDs {
			send(h.clients[accountID])
		}
	}
	h.mu.RUnlock()

	for _, client := range slow {
		h.logger.Warn("dropping slow websocket client", zap.Int64("account_id", client.accountID))
		h.unregisterClient(client)
	}
}

// PublishToAccount queues an event for every connection of the account.
// It never blocks the caller; if the hub is saturated the event is dropped
// and clients catch up with wallet:sync.
func (h *Hub) PublishToAccount(accountID int64, eventType string, payload interface{}) {
	et := wstypes.EventType(eventType)
	msg := &BroadcastMessage{
		AccountIDs: []int64{accountID},
		Channel:    wstypes.ChannelFor(et),
		Message:    wstypes.NewMessage(et, payload),
	}
	select {
	case h.broadcast <- msg:
	case <-h.done:
	default:
		h.logger.Warn("websocket broadcast queue full, event dropped",
			zap.Int64("account_id", accountID),
			zap.String("event", eventType),
		)
	}
}

func (h *Hub) ConnectedClients(accountID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[accountID])
}

func (h *Hub) TotalClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.totalClients()
}

func (h *Hub) totalClients() int {
	total := 0
	for _, clients := range h.clients {
		total += len(clients)
	}
	return total
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, clients := range h.clients {
		for client := range clients {
			client.Close()
		}
	}
	h.clients = make(map[int64]map[*Client]bool)
}
