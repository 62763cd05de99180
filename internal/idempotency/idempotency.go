// Package idempotency serialises turns per user and replays responses for
// repeated Idempotency-Key requests.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultTTL is how long a stored response can be replayed.
	DefaultTTL = 24 * time.Hour
	// LockTTL is the lease of a user's turn lock. Holders refresh it while
	// the turn runs, so it only bounds how long a crashed holder blocks.
	LockTTL = 30 * time.Second
	// PendingTTL bounds how long a key stays reserved by a turn that never
	// finished.
	PendingTTL = 5 * time.Minute
)

var (
	// ErrBusy is returned when the user's turn lock could not be obtained in time.
	ErrBusy = errors.New("another request for this user is in progress")
	// ErrInProgress is returned when a turn with the same idempotency key
	// has started and not finished yet.
	ErrInProgress = errors.New("a request with this idempotency key is in progress")
)

// Response is a stored HTTP response.
type Response struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
	Pending     bool   `json:"pending,omitempty"`
}

// Unlock releases a lock.
type Unlock func(ctx context.Context) error

// Locker grants exclusive access to a key.
type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

// Cache stores responses by key. Reserve stores a pending marker only when
// the key is absent; Get reports a marker as a Response with Pending set.
type Cache interface {
	Get(ctx context.Context, key string) (*Response, bool, error)
	Put(ctx context.Context, key string, resp *Response, ttl time.Duration) error
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}

// LockKey is the lock of a user's conversation turns.
func LockKey(userID string) string {
	return "lock:turn:" + userID
}

// CacheKey is the replay key of one user's idempotency key.
func CacheKey(userID, idempotencyKey string) string {
	return fmt.Sprintf("idem:%s:%s", userID, idempotencyKey)
}

// Guard runs turn handlers under the user's lock and caches their responses.
type Guard struct {
	locker Locker
	cache  Cache
	ttl    time.Duration
	log    zerolog.Logger
}

// NewGuard creates a Guard. A zero ttl uses DefaultTTL.
func NewGuard(locker Locker, cache Cache, ttl time.Duration, log zerolog.Logger) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Guard{locker: locker, cache: cache, ttl: ttl, log: log}
}

// Do runs fn while holding the user's lock. When idempotencyKey is set the
// key is reserved before fn runs: a stored response is returned with
// replayed=true, and a key reserved by an unfinished turn fails with
// ErrInProgress, so fn never runs twice for one key. Only 2xx responses are
// stored; any other outcome releases the key for a retry.
func (g *Guard) Do(ctx context.Context, userID, idempotencyKey string, fn func(ctx context.Context) (*Response, error)) (resp *Response, replayed bool, err error) {
	unlock, err := g.locker.Lock(ctx, LockKey(userID))
	if err != nil {
		return nil, false, err
	}
	defer func() {
		// Release with a fresh context so a cancelled request still unlocks.
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if uerr := unlock(rctx); uerr != nil {
			g.log.Warn().Err(uerr).Str("user_id", userID).Msg("Failed to release turn lock")
		}
	}()

	if idempotencyKey == "" {
		return g.run(ctx, "", fn)
	}

	key := CacheKey(userID, idempotencyKey)
	reserved, err := g.cache.Reserve(ctx, key, PendingTTL)
	if err != nil {
		g.log.Warn().Err(err).Str("key", key).Msg("Idempotency reservation failed")
		return g.run(ctx, "", fn)
	}
	if !reserved {
		cached, ok, err := g.cache.Get(ctx, key)
		switch {
		case err != nil:
			return nil, false, fmt.Errorf("Guard.Do: idempotency lookup: %w", err)
		case !ok:
			// The key expired between Reserve and Get; let the client retry.
			return nil, false, ErrInProgress
		case cached.Pending:
			return nil, false, ErrInProgress
		}
		return cached, true, nil
	}
	return g.run(ctx, key, fn)
}

// run calls fn and settles the reservation of key, if any.
func (g *Guard) run(ctx context.Context, key string, fn func(ctx context.Context) (*Response, error)) (*Response, bool, error) {
	resp, err := fn(ctx)
	if key == "" {
		return resp, false, err
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err == nil && resp != nil && resp.Status >= 200 && resp.Status < 300 {
		if perr := g.cache.Put(sctx, key, resp, g.ttl); perr != nil {
			g.log.Warn().Err(perr).Str("key", key).Msg("Failed to store idempotent response")
		}
	} else if derr := g.cache.Delete(sctx, key); derr != nil {
		g.log.Warn().Err(derr).Str("key", key).Msg("Failed to release idempotency key")
	}
	return resp, false, err
}
