package wallet

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"savings-service/internal/domain"
	"savings-service/internal/repository"
	"savings-service/internal/repository/memory"
	"savings-service/internal/usecase/ledger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeCache struct {
	mu       sync.Mutex
	versions map[string]int64
	payloads map[string][]byte
	reads    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{versions: map[string]int64{}, payloads: map[string][]byte{}}
}

func (c *fakeCache) GetBalance(ctx context.Context, userID string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads++
	return c.payloads[userID], nil
}

func (c *fakeCache) SetBalanceIfNewer(ctx context.Context, userID string, version int64, payload []byte, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.versions[userID]; ok && cur >= version {
		return false, nil
	}
	c.versions[userID] = version
	c.payloads[userID] = payload
	return true, nil
}

func newService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	svc := New(store, ledger.New(store), NewNotifier(zap.NewNop()), zap.NewNop())
	return svc, store
}

func TestOpenOnce(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	w, err := svc.Open(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", w.UserID)
	assert.True(t, w.TotalBalance.IsZero())

	_, err = svc.Open(ctx, "u1")
	assert.ErrorIs(t, err, domain.ErrWalletExists)
}

func TestGetBalance(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	_, err := svc.Open(ctx, "u1")
	require.NoError(t, err)

	require.NoError(t, store.InTx(ctx, func(tx repository.Tx) error {
		w, _ := tx.GetWallet(ctx, "u1")
		_, err := ledger.New(store).Append(ctx, tx, w, ledger.Entry{Kind: domain.KindDeposit, Amount: decimal.NewFromInt(100)})
		return err
	}))

	b, err := svc.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(100).Equal(b.Total))
	assert.True(t, decimal.NewFromInt(100).Equal(b.Available))
	assert.True(t, b.Locked.IsZero())

	_, err = svc.GetBalance(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrWalletNotFound)
}

func TestBalanceCacheIsVersionGuarded(t *testing.T) {
	svc, _ := newService(t)
	cache := newFakeCache()
	svc.WithCache(cache, time.Minute)
	ctx := context.Background()

	newer := domain.Balance{UserID: "u1", Total: decimal.NewFromInt(70), Locked: decimal.Zero, Available: decimal.NewFromInt(70), Version: 4}
	older := domain.Balance{UserID: "u1", Total: decimal.NewFromInt(100), Locked: decimal.Zero, Available: decimal.NewFromInt(100), Version: 3}

	svc.BalanceChanged(ctx, newer)
	svc.BalanceChanged(ctx, older)

	b, err := svc.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), b.Version)
	assert.True(t, decimal.NewFromInt(70).Equal(b.Total))

	var stored domain.Balance
	require.NoError(t, json.Unmarshal(cache.payloads["u1"], &stored))
	assert.Equal(t, int64(4), stored.Version)
}

func TestGetBalanceFillsCacheOnMiss(t *testing.T) {
	svc, _ := newService(t)
	cache := newFakeCache()
	svc.WithCache(cache, time.Minute)
	ctx := context.Background()
	_, err := svc.Open(ctx, "u1")
	require.NoError(t, err)

	_, err = svc.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Contains(t, cache.payloads, "u1")
}

func TestNotifierWithoutConnections(t *testing.T) {
	n := NewNotifier(zap.NewNop())
	n.NotifyBalance("u1", domain.Balance{UserID: "u1"})
	assert.Equal(t, 0, n.Connections("u1"))
}
