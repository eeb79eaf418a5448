package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"fanpay/internal/logger"
)

const (
	MessageBalance      = "balance"
	MessageNotification = "notification"
)

// Envelope is the frame pushed to every connected client.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type BalanceUpdate struct {
	WalletID string `json:"wallet_id"`
	Balance  string `json:"balance"`
	Currency string `json:"currency"`
}

type NotificationPush struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Hub fans frames out to every open connection of a user. A client whose
// buffer is full misses the frame rather than blocking the sender.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
	}
}

func (h *Hub) Register(userID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[userID] == nil {
		h.clients[userID] = make(map[*Client]struct{})
	}
	h.clients[userID][client] = struct{}{}
}

func (h *Hub) Unregister(userID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[userID] == nil {
		return
	}
	delete(h.clients[userID], client)
	if len(h.clients[userID]) == 0 {
		delete(h.clients, userID)
	}
}

// Connections returns how many clients the user has open.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

func (h *Hub) BroadcastBalance(userID string, update BalanceUpdate) {
	h.send(userID, Envelope{Type: MessageBalance, Data: update})
}

func (h *Hub) BroadcastNotification(userID string, push NotificationPush) {
	h.send(userID, Envelope{Type: MessageNotification, Data: push})
}

func (h *Hub) send(userID string, envelope Envelope) {
	payload, err := json.Marshal(envelope)
	if err != nil {
		logger.Log.Errorw("websocket frame encode failed", "type", envelope.Type, "error", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[userID] {
		select {
		case client.send <- payload:
		default:
			logger.Log.Debugw("websocket client buffer full, frame dropped", "user_id", userID, "type", envelope.Type)
		}
	}
}
