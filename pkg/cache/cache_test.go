package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "wallet_balance:u1", BalanceKey("u1"))
	assert.Equal(t, "idem:v1:abc", IdempotencyKey("abc"))
	assert.Equal(t, "lock:group:g1", LockKey("group:g1"))
}

// newTestCache connects to REDIS_TEST_ADDR; the Redis-backed tests are
// skipped when it is unset.
func newTestCache(t *testing.T) *CacheService {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	c, err := NewCacheService(addr, "", 0, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestSetBalanceIfNewer(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	user := uuid.NewString()
	t.Cleanup(func() { _ = c.DeleteBalance(ctx, user) })

	ok, err := c.SetBalanceIfNewer(ctx, user, 2, []byte(`{"v":2}`), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.SetBalanceIfNewer(ctx, user, 1, []byte(`{"v":1}`), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	data, err := c.GetBalance(ctx, user)
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":2}`, string(data))

	data, err = c.GetBalance(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestLockExclusive(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	resource := "test:" + uuid.NewString()

	lock, err := c.AcquireLock(ctx, resource, time.Second)
	require.NoError(t, err)

	_, err = c.AcquireLock(ctx, resource, time.Second)
	assert.ErrorIs(t, err, ErrLockHeld)

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = c.WaitLock(waitCtx, resource, time.Second, 10*time.Millisecond)
	assert.Error(t, err)

	require.NoError(t, lock.Release(ctx))
	assert.Error(t, lock.Release(ctx))

	again, err := c.AcquireLock(ctx, resource, time.Second)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestSetOnce(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	key := "once:" + uuid.NewString()
	t.Cleanup(func() { _ = c.Delete(ctx, key) })

	first, err := c.SetOnce(ctx, key, time.Minute)
	require.NoError(t, err)
	second, err := c.SetOnce(ctx, key, time.Minute)
	require.NoError(t, err)

	assert.True(t, first)
	assert.False(t, second)
}
