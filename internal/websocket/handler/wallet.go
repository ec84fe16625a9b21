// internal/websocket/handler/wallet.go
package handlers

import (
	"context"
	"fmt"

	"healthwallet-service/internal/domain/wallet"
	wstypes "healthwallet-service/internal/domain/websocket"
	ws "healthwallet-service/internal/websocket"
)

type WalletReader interface {
	GetWalletState(ctx context.Context, accountID int64) (*wallet.WalletState, error)
}

// WalletHandler answers wallet:sync with the current wallet state, so a
// client that reconnects can catch up on events it missed.
type WalletHandler struct {
	wallets WalletReader
}

func NewWalletHandler(wallets WalletReader) *WalletHandler {
	return &WalletHandler{wallets: wallets}
}

func (h *WalletHandler) SupportedEvents() []wstypes.EventType {
	return []wstypes.EventType{wstypes.EventTypeWalletSync}
}

func (h *WalletHandler) HandleMessage(ctx context.Context, client *ws.Client, msg *wstypes.WSMessage) error {
	if msg.Type != wstypes.EventTypeWalletSync {
		return fmt.Errorf("unsupported event type: %s", msg.Type)
	}

	state, err := h.wallets.GetWalletState(ctx, client.AccountID())
	if err != nil {
		return fmt.Errorf("failed to load wallet: %w", err)
	}
	client.SendMessage(wstypes.NewMessage(wstypes.EventTypeWalletUpdated, state))
	return nil
}
