package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrLockHeld is returned when another holder owns a distributed lock.
var ErrLockHeld = errors.New("lock already held by another process")

// CacheService wraps the Redis operations the service relies on: balance
// snapshots, idempotency records, distributed locks and pub/sub.
type CacheService struct {
	client *redis.Client
	logger *zap.Logger
}

// NewCacheService dials Redis and verifies the connection.
func NewCacheService(addr, password string, db int, logger *zap.Logger) (*CacheService, error) {
	client := redis.NewClient(&redis.Options{
		Addr:            addr,
		Password:        password,
		DB:              db,
		PoolSize:        50,
		MinIdleConns:    5,
		PoolTimeout:     4 * time.Second,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    3 * time.Second,
		ConnMaxIdleTime: 5 * time.Minute,
		ConnMaxLifetime: 30 * time.Minute,

		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	logger.Info("redis connected", zap.String("addr", addr), zap.Int("db", db))

	return NewCacheServiceFromClient(client, logger), nil
}

func NewCacheServiceFromClient(client *redis.Client, logger *zap.Logger) *CacheService {
	return &CacheService{client: client, logger: logger}
}

func (c *CacheService) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *CacheService) Close() error {
	return c.client.Close()
}

// ===============================
// Keys
// ===============================

func BalanceKey(userID string) string {
	return fmt.Sprintf("wallet_balance:%s", userID)
}

func IdempotencyKey(key string) string {
	return fmt.Sprintf("idem:v1:%s", key)
}

func LockKey(resourceID string) string {
	return fmt.Sprintf("lock:%s", resourceID)
}

// ===============================
// Balance snapshots
// ===============================

// setIfNewer writes the payload only when the stored version is older, so a
// slow writer can never replace a newer snapshot with an older one.
var setIfNewer = redis.NewScript(`
	local current = redis.call("HGET", KEYS[1], "version")
	if current and tonumber(current) >= tonumber(ARGV[1]) then
		return 0
	end
	redis.call("HSET", KEYS[1], "version", ARGV[1], "payload", ARGV[2])
	redis.call("PEXPIRE", KEYS[1], ARGV[3])
	return 1
`)

// GetBalance returns the cached snapshot for userID, or nil on a miss.
func (c *CacheService) GetBalance(ctx context.Context, userID string) ([]byte, error) {
	data, err := c.client.HGet(ctx, BalanceKey(userID), "payload").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("cache get balance: %w", err)
	}
	return data, nil
}

// SetBalanceIfNewer stores payload for userID if version is newer than the
// cached one. It reports whether the write happened.
func (c *CacheService) SetBalanceIfNewer(ctx context.Context, userID string, version int64, payload []byte, ttl time.Duration) (bool, error) {
	res, err := setIfNewer.Run(ctx, c.client, []string{BalanceKey(userID)}, version, payload, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("cache set balance: %w", err)
	}
	return res == 1, nil
}

func (c *CacheService) DeleteBalance(ctx context.Context, userID string) error {
	return c.client.Del(ctx, BalanceKey(userID)).Err()
}

// ===============================
// Idempotency Support
// ===============================

// GetIdempotent retrieves a stored response, or nil if none exists.
func (c *CacheService) GetIdempotent(ctx context.Context, idemKey string) ([]byte, error) {
	data, err := c.client.Get(ctx, IdempotencyKey(idemKey)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get idempotent: %w", err)
	}

	c.logger.Debug("idempotency cache hit", zap.String("key", idemKey))
	return data, nil
}

// SetIdempotent stores a response for 24 hours.
func (c *CacheService) SetIdempotent(ctx context.Context, idemKey string, data []byte) error {
	return c.client.Set(ctx, IdempotencyKey(idemKey), data, 24*time.Hour).Err()
}

// SetOnce records key and reports true only for the first caller.
func (c *CacheService) SetOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("set once: %w", err)
	}
	return ok, nil
}

func (c *CacheService) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// ===============================
// Distributed Locking
// ===============================

type Lock struct {
	client *redis.Client
	key    string
	token  string
}

var releaseLock = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// AcquireLock makes a single attempt at the lock.
func (c *CacheService) AcquireLock(ctx context.Context, resourceID string, ttl time.Duration) (*Lock, error) {
	key := LockKey(resourceID)
	token := uuid.NewString()

	ok, err := c.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	c.logger.Debug("lock acquired",
		zap.String("resource", resourceID),
		zap.Duration("ttl", ttl),
	)

	return &Lock{client: c.client, key: key, token: token}, nil
}

// WaitLock retries AcquireLock every interval until it succeeds or ctx ends.
func (c *CacheService) WaitLock(ctx context.Context, resourceID string, ttl, interval time.Duration) (*Lock, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		lock, err := c.AcquireLock(ctx, resourceID, ttl)
		if err == nil {
			return lock, nil
		}
		if !errors.Is(err, ErrLockHeld) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait lock %s: %w", resourceID, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Release deletes the lock only if this holder still owns it.
func (l *Lock) Release(ctx context.Context) error {
	res, err := releaseLock.Run(ctx, l.client, []string{l.key}, l.token).Int()
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	if res == 0 {
		return fmt.Errorf("lock not owned by this token (expired or stolen)")
	}
	return nil
}

// ===============================
// Pub/Sub
// ===============================

func (c *CacheService) Publish(ctx context.Context, channel string, payload []byte) error {
	return c.client.Publish(ctx, channel, payload).Err()
}
