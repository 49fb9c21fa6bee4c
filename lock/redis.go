// Package lock provides a Redis-backed inventory.Locker for deployments that
// run more than one ledger instance against the same database.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/warp/unit-ledger/inventory"
)

const (
	DefaultTTL     = 30 * time.Second
	defaultBackoff = 10 * time.Millisecond
	keyPrefix      = "lock:unit:"
)

// RedisLocker acquires one redislock per key, in sorted order. The TTL bounds
// how long a crashed holder can block a unit.
type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
	logger *logrus.Logger
}

func NewRedisLocker(rdb *redis.Client, ttl time.Duration, logger *logrus.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RedisLocker{client: redislock.New(rdb), ttl: ttl, logger: logger}
}

// Lock blocks until every key is held or ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, keys []string) (func(), error) {
	sorted := inventory.SortedKeys(keys)
	held := make([]*redislock.Lock, 0, len(sorted))
	release := func() {
		// Release must not depend on the caller's ctx, which may already be done.
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for i := len(held) - 1; i >= 0; i-- {
			if err := held[i].Release(rctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				l.logger.WithFields(logrus.Fields{
					"field": "RedisLocker",
					"key":   held[i].Key(),
				}).Warn("failed to release redis lock: " + err.Error())
			}
		}
	}

	opts := &redislock.Options{RetryStrategy: redislock.LinearBackoff(defaultBackoff)}
	for _, k := range sorted {
		lk, err := l.client.Obtain(ctx, keyPrefix+k, l.ttl, opts)
		if errors.Is(err, redislock.ErrNotObtained) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			release()
			return nil, fmt.Errorf("%w: %s", inventory.ErrLockNotObtained, k)
		}
		if err != nil {
			release()
			return nil, fmt.Errorf("failed to obtain lock for %s: %w", k, err)
		}
		held = append(held, lk)
	}
	return release, nil
}

var _ inventory.Locker = (*RedisLocker)(nil)
