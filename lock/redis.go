/*
Package lock provides a distributed routing.Sequencer backed by Redis.

PURPOSE:
  When several server instances route tickets for the same point of sale,
  an in-process mutex is not enough. RedisSequencer holds a per-rule Redis
  lock from before the day's totals are read until the ticket is persisted.

LOCK KEYS:
  routing:rule:<rule id>

FAILURE MODE:
  Acquire returns an error when Redis is unreachable or the lock could not
  be obtained before the context ends. The intake treats both as "route
  without the lock" so a Redis outage never blocks sales.
*/
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/warp/cash-router/routing"
)

const keyPrefix = "routing:rule:"

// NewRedisClient connects to addr and verifies it with PING.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    "",
		DB:          0,
		PoolSize:    100,
		DialTimeout: 2 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect redis at %s: %w", addr, err)
	}
	return client, nil
}

type RedisSequencer struct {
	locker *redislock.Client
	ttl    time.Duration
	retry  time.Duration
	logger logrus.FieldLogger
}

// NewRedisSequencer builds a sequencer whose locks expire after ttl if
// the holder dies before releasing.
func NewRedisSequencer(client redislock.RedisClient, ttl time.Duration, logger logrus.FieldLogger) *RedisSequencer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RedisSequencer{
		locker: redislock.New(client),
		ttl:    ttl,
		retry:  25 * time.Millisecond,
		logger: logger,
	}
}

// Key returns the Redis key guarding rule.
func Key(rule routing.RuleID) string {
	return keyPrefix + string(rule)
}

// Acquire implements routing.Sequencer. It waits at most one TTL.
func (s *RedisSequencer) Acquire(ctx context.Context, rule routing.RuleID) (func(), error) {
	waitCtx, cancel := context.WithTimeout(ctx, s.ttl)
	defer cancel()

	lock, err := s.locker.Obtain(waitCtx, Key(rule), s.ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(s.retry),
	})
	if errors.Is(err, redislock.ErrNotObtained) || errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: %s", routing.ErrLockNotObtained, Key(rule))
	}
	if err != nil {
		return nil, err
	}

	return func() {
		// Release must outlive a canceled request context.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			s.logger.WithError(err).WithField("key", Key(rule)).Warn("failed to release routing lock")
		}
	}, nil
}
