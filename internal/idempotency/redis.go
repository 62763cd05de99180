package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const lockRetryInterval = 100 * time.Millisecond

// NewRedisClient connects to addr and pings it.
func NewRedisClient(ctx context.Context, addr, password string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
		PoolSize: 100,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("NewRedisClient: ping %s: %w", addr, err)
	}
	return rdb, nil
}

// RedisLocker is a distributed Locker on redislock. Waiting callers retry
// until the lock frees up, one lease passes or ctx ends. A held lock is
// refreshed every half lease until it is released.
type RedisLocker struct {
	locker *redislock.Client
	ttl    time.Duration
	log    zerolog.Logger
}

var _ Locker = (*RedisLocker)(nil)

// NewRedisLocker creates a locker on rdb.
func NewRedisLocker(rdb redis.UniversalClient, log zerolog.Logger) *RedisLocker {
	return &RedisLocker{locker: redislock.New(rdb), ttl: LockTTL, log: log}
}

// Lock implements Locker.
func (l *RedisLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	wctx, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	lock, err := l.locker.Obtain(wctx, key, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(lockRetryInterval),
	})
	if errors.Is(err, redislock.ErrNotObtained) || (errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil) {
		return nil, ErrBusy
	}
	if err != nil {
		return nil, fmt.Errorf("RedisLocker.Lock: %w", err)
	}

	stop := make(chan struct{})
	stopped := make(chan struct{})
	go l.keepAlive(lock, stop, stopped)

	var once sync.Once
	return func(ctx context.Context) error {
		var err error
		once.Do(func() {
			close(stop)
			<-stopped
			if rerr := lock.Release(ctx); rerr != nil && !errors.Is(rerr, redislock.ErrLockNotHeld) {
				err = rerr
			}
		})
		return err
	}, nil
}

// keepAlive extends the lease of lock until stop is closed or the lock is lost.
func (l *RedisLocker) keepAlive(lock *redislock.Lock, stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/2)
			err := lock.Refresh(ctx, l.ttl, nil)
			cancel()
			if err != nil {
				l.log.Warn().Err(err).Str("key", lock.Key()).Msg("Failed to refresh turn lock")
				if errors.Is(err, redislock.ErrNotObtained) {
					return
				}
			}
		}
	}
}

// RedisCache stores responses as JSON strings.
type RedisCache struct {
	rdb redis.Cmdable
}

var _ Cache = (*RedisCache)(nil)

// NewRedisCache creates a cache on rdb.
func NewRedisCache(rdb redis.Cmdable) *RedisCache {
	return &RedisCache{rdb: rdb}
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, key string) (*Response, bool, error) {
	val, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("RedisCache.Get: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(val, &resp); err != nil {
		return nil, false, fmt.Errorf("RedisCache.Get: decoding %s: %w", key, err)
	}
	return &resp, true, nil
}

// Put implements Cache.
func (c *RedisCache) Put(ctx context.Context, key string, resp *Response, ttl time.Duration) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("RedisCache.Put: encoding: %w", err)
	}
	if err := c.rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("RedisCache.Put: %w", err)
	}
	return nil
}

// Reserve implements Cache with SETNX.
func (c *RedisCache) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	data, err := json.Marshal(Response{Pending: true})
	if err != nil {
		return false, fmt.Errorf("RedisCache.Reserve: encoding: %w", err)
	}
	ok, err := c.rdb.SetNX(ctx, key, data, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("RedisCache.Reserve: %w", err)
	}
	return ok, nil
}

// Delete implements Cache.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("RedisCache.Delete: %w", err)
	}
	return nil
}
