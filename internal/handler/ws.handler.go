package handler

import (
	"encoding/json"
	"net/http"

	"savings-service/internal/usecase/wallet"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WalletWSHandler streams balance updates for the caller. Clients may send
// {"action":"get_balance"} to ask for a fresh snapshot.
func WalletWSHandler(wallets *wallet.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid := userID(r)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.String("user_id", uid), zap.Error(err))
			return
		}

		wallets.Notifier.RegisterConnection(uid, conn)
		defer wallets.Notifier.UnregisterConnection(uid, conn)

		ctx := r.Context()
		pushBalance := func() {
			b, err := wallets.GetBalance(ctx, uid)
			if err != nil {
				logger.Debug("no balance to push", zap.String("user_id", uid), zap.Error(err))
				return
			}
			wallets.Notifier.NotifyBalance(uid, *b)
		}
		pushBalance()

		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				logger.Debug("websocket client disconnected", zap.String("user_id", uid), zap.Error(err))
				return
			}
			if mt != websocket.TextMessage {
				continue
			}
			var req struct {
				Action string `json:"action"`
			}
			if err := json.Unmarshal(msg, &req); err == nil && req.Action == "get_balance" {
				pushBalance()
			}
		}
	}
}
