package wallet

import (
	"encoding/json"
	"sync"

	"savings-service/internal/domain"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Notifier pushes balance updates to a user's open WebSocket connections.
type Notifier struct {
	clients map[string]map[*websocket.Conn]bool
	mu      sync.Mutex
	logger  *zap.Logger
}

func NewNotifier(logger *zap.Logger) *Notifier {
	return &Notifier{
		clients: make(map[string]map[*websocket.Conn]bool),
		logger:  logger,
	}
}

func (n *Notifier) RegisterConnection(userID string, conn *websocket.Conn) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.clients[userID] == nil {
		n.clients[userID] = make(map[*websocket.Conn]bool)
	}
	n.clients[userID][conn] = true
}

func (n *Notifier) UnregisterConnection(userID string, conn *websocket.Conn) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if conns, ok := n.clients[userID]; ok {
		delete(conns, conn)
		conn.Close()
		if len(conns) == 0 {
			delete(n.clients, userID)
		}
	}
}

func (n *Notifier) Connections(userID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.clients[userID])
}

func (n *Notifier) NotifyBalance(userID string, b domain.Balance) {
	n.Push(userID, WSMessage{Type: "balance_update", Data: b})
}

func (n *Notifier) NotifyEvent(userID string, e *domain.Event) {
	n.Push(userID, WSMessage{Type: string(e.Type), Data: e})
}

// Push writes msg to every connection of userID, dropping the ones that fail.
func (n *Notifier) Push(userID string, msg WSMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		n.logger.Error("failed to marshal ws message", zap.String("type", msg.Type), zap.Error(err))
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	for conn := range n.clients[userID] {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			n.logger.Warn("dropping ws connection",
				zap.String("user_id", userID),
				zap.String("type", msg.Type),
				zap.Error(err))
			conn.Close()
			delete(n.clients[userID], conn)
		}
	}
	if len(n.clients[userID]) == 0 {
		delete(n.clients, userID)
	}
}
