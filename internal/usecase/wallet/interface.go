package wallet

import (
	"context"
	"time"
)

// BalanceCache stores serialized balance snapshots keyed by user. Writes are
// version guarded so an older snapshot never replaces a newer one.
type BalanceCache interface {
	GetBalance(ctx context.Context, userID string) ([]byte, error)
	SetBalanceIfNewer(ctx context.Context, userID string, version int64, payload []byte, ttl time.Duration) (bool, error)
}

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}
