// Package lock serializes budget refreshes that target the same key, either
// within one process (Local) or across processes through Redis.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"github.com/warp/budget-engine/budget"
)

// =============================================================================
// LOCAL LOCK
// =============================================================================

// Local is a keyed mutex. Obtain blocks until the key is free or ctx is done.
type Local struct {
	mu   sync.Mutex
	keys map[string]chan struct{}
}

var _ budget.Locker = (*Local)(nil)

func NewLocal() *Local {
	return &Local{keys: map[string]chan struct{}{}}
}

func (l *Local) Obtain(ctx context.Context, key string) (budget.Unlock, error) {
	for {
		l.mu.Lock()
		held, busy := l.keys[key]
		if !busy {
			done := make(chan struct{})
			l.keys[key] = done
			l.mu.Unlock()
			var once sync.Once
			return func(context.Context) error {
				once.Do(func() {
					l.mu.Lock()
					delete(l.keys, key)
					l.mu.Unlock()
					close(done)
				})
				return nil
			}, nil
		}
		l.mu.Unlock()

		select {
		case <-held:
		case <-ctx.Done():
			return nil, fmt.Errorf("lock %s: %w", key, errors.Join(budget.ErrLockNotObtained, ctx.Err()))
		}
	}
}

// =============================================================================
// REDIS LOCK
// =============================================================================

// Redis obtains leases from redislock. A lease expires after ttl even if the
// holder dies; Obtain retries with linear backoff until ctx is done or the
// retry budget runs out.
type Redis struct {
	client  *redislock.Client
	ttl     time.Duration
	backoff time.Duration
	retries int
	prefix  string
}

var _ budget.Locker = (*Redis)(nil)

type RedisOption func(*Redis)

func WithBackoff(every time.Duration, retries int) RedisOption {
	return func(r *Redis) { r.backoff, r.retries = every, retries }
}

func WithPrefix(prefix string) RedisOption { return func(r *Redis) { r.prefix = prefix } }

func NewRedis(rdb redis.UniversalClient, ttl time.Duration, opts ...RedisOption) *Redis {
	r := &Redis{
		client:  redislock.New(rdb),
		ttl:     ttl,
		backoff: 100 * time.Millisecond,
		retries: 50,
		prefix:  "budget-engine:",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) Obtain(ctx context.Context, key string) (budget.Unlock, error) {
	lk, err := r.client.Obtain(ctx, r.prefix+key, r.ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(r.backoff), r.retries),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("lock %s: %w", key, budget.ErrLockNotObtained)
	}
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", key, err)
	}
	return func(ctx context.Context) error {
		if err := lk.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			return err
		}
		return nil
	}, nil
}

// Connect opens a Redis client and checks it answers.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return rdb, nil
}
