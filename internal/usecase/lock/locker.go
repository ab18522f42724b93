package lock

import (
	"context"
	"sync"
	"time"

	"savings-service/pkg/cache"

	"go.uber.org/zap"
)

// GroupLocker serializes post-commit milestone checks per group.
type GroupLocker interface {
	LockGroup(ctx context.Context, groupID string) (unlock func(), err error)
}

// LocalGroupLocker is a keyed mutex for single-instance deployments.
type LocalGroupLocker struct {
	mu    sync.Mutex
	locks map[string]*keyedMutex
}

type keyedMutex struct {
	mu   sync.Mutex
	refs int
}

func NewLocalGroupLocker() *LocalGroupLocker {
	return &LocalGroupLocker{locks: make(map[string]*keyedMutex)}
}

func (l *LocalGroupLocker) LockGroup(ctx context.Context, groupID string) (func(), error) {
	l.mu.Lock()
	km, ok := l.locks[groupID]
	if !ok {
		km = &keyedMutex{}
		l.locks[groupID] = km
	}
	km.refs++
	l.mu.Unlock()

	km.mu.Lock()
	return func() {
		km.mu.Unlock()
		l.mu.Lock()
		km.refs--
		if km.refs == 0 {
			delete(l.locks, groupID)
		}
		l.mu.Unlock()
	}, nil
}

// RedisGroupLocker holds a Redis lock per group so milestone checks are
// serialized across instances.
type RedisGroupLocker struct {
	cache    *cache.CacheService
	ttl      time.Duration
	interval time.Duration
	logger   *zap.Logger
}

func NewRedisGroupLocker(c *cache.CacheService, ttl time.Duration, logger *zap.Logger) *RedisGroupLocker {
	return &RedisGroupLocker{cache: c, ttl: ttl, interval: 25 * time.Millisecond, logger: logger}
}

func (l *RedisGroupLocker) LockGroup(ctx context.Context, groupID string) (func(), error) {
	lk, err := l.cache.WaitLock(ctx, "group_milestone:"+groupID, l.ttl, l.interval)
	if err != nil {
		return nil, err
	}
	return func() {
		if err := lk.Release(context.Background()); err != nil {
			l.logger.Warn("failed to release group lock", zap.String("group_id", groupID), zap.Error(err))
		}
	}, nil
}
