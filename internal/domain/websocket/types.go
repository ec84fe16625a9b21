// internal/domain/websocket/types.go
package websocket

import (
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

type EventType string

const (
	// Connection events
	EventTypePing      EventType = "ping"
	EventTypePong      EventType = "pong"
	EventTypeConnected EventType = "connected"
	EventTypeError     EventType = "error"

	// Subscription events (client -> server)
	EventTypeSubscribe   EventType = "subscribe"
	EventTypeUnsubscribe EventType = "unsubscribe"

	// Wallet events
	EventTypeWalletSync    EventType = "wallet:sync"    // client -> server
	EventTypeWalletUpdated EventType = "wallet:updated" // server -> client
	EventTypeTopUpSettled  EventType = "topup:settled"  // server -> client

	EventTypeSystemAlert EventType = "system:alert"
)

// WSMessage is the envelope for every frame in both directions.
type WSMessage struct {
	Type      EventType   `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	ID        string      `json:"id,omitempty"`
}

type ChannelType string

const (
	ChannelWallet ChannelType = "wallet"
	ChannelSystem ChannelType = "system"
)

// ChannelFor maps a server event to the channel a client must be
// subscribed to in order to receive it.
func ChannelFor(et EventType) ChannelType {
	switch et {
	case EventTypeWalletUpdated, EventTypeTopUpSettled:
		return ChannelWallet
	default:
		return ChannelSystem
	}
}

type SubscribeRequest struct {
	Channels []ChannelType `json:"channels"`
}

type UnsubscribeRequest struct {
	Channels []ChannelType `json:"channels"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func NewMessage(eventType EventType, data interface{}) *WSMessage {
	return &WSMessage{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC(),
		ID:        ulid.Make().String(),
	}
}

func (m *WSMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func ParseMessage(data []byte) (*WSMessage, error) {
	var msg WSMessage
	err := json.Unmarshal(data, &msg)
	return &msg, err
}
