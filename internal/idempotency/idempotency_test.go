package idempotency

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestGuard() (*Guard, *MemoryCache) {
	cache := NewMemoryCache()
	return NewGuard(NewLocalLocker(), cache, time.Hour, zerolog.Nop()), cache
}

func TestKeys(t *testing.T) {
	if got := LockKey("u1"); got != "lock:turn:u1" {
		t.Errorf("LockKey = %q", got)
	}
	if got := CacheKey("u1", "abc"); got != "idem:u1:abc" {
		t.Errorf("CacheKey = %q", got)
	}
}

func TestGuard_ReplaysStoredResponse(t *testing.T) {
	ctx := context.Background()
	g, _ := newTestGuard()
	var calls int
	fn := func(context.Context) (*Response, error) {
		calls++
		return &Response{Status: http.StatusOK, ContentType: "application/json", Body: []byte(`[1]`)}, nil
	}

	first, replayed, err := g.Do(ctx, "u", "k1", fn)
	if err != nil || replayed {
		t.Fatalf("first call: replayed=%v err=%v", replayed, err)
	}
	second, replayed, err := g.Do(ctx, "u", "k1", fn)
	if err != nil || !replayed {
		t.Fatalf("second call: replayed=%v err=%v", replayed, err)
	}
	if calls != 1 {
		t.Errorf("fn called %d times, want 1", calls)
	}
	if string(second.Body) != string(first.Body) || second.Status != first.Status {
		t.Errorf("replayed %+v, want %+v", second, first)
	}

	if _, replayed, _ := g.Do(ctx, "other", "k1", fn); replayed {
		t.Error("keys must be scoped per user")
	}
	if _, replayed, _ := g.Do(ctx, "u", "", fn); replayed {
		t.Error("no key means no replay")
	}
}

func TestGuard_DoesNotStoreFailures(t *testing.T) {
	ctx := context.Background()
	g, cache := newTestGuard()
	boom := errors.New("boom")

	if _, _, err := g.Do(ctx, "u", "k", func(context.Context) (*Response, error) { return nil, boom }); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	_, _, _ = g.Do(ctx, "u", "k2", func(context.Context) (*Response, error) {
		return &Response{Status: http.StatusUnprocessableEntity}, nil
	})

	for _, k := range []string{"k", "k2"} {
		if _, ok, _ := cache.Get(ctx, CacheKey("u", k)); ok {
			t.Errorf("failed response for %s should not be cached", k)
		}
	}
}

func TestGuard_SerialisesPerUser(t *testing.T) {
	g, _ := newTestGuard()
	var inFlight, maxInFlight atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = g.Do(context.Background(), "u", "", func(context.Context) (*Response, error) {
				n := inFlight.Add(1)
				for {
					m := maxInFlight.Load()
					if n <= m || maxInFlight.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				inFlight.Add(-1)
				return &Response{Status: http.StatusOK}, nil
			})
		}()
	}
	wg.Wait()

	if maxInFlight.Load() != 1 {
		t.Errorf("max concurrent turns for one user = %d, want 1", maxInFlight.Load())
	}
}

func TestLocalLocker_BusyOnContextEnd(t *testing.T) {
	l := NewLocalLocker()
	unlock, err := l.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "k"); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy, got %v", err)
	}

	_ = unlock(context.Background())
	_ = unlock(context.Background())
	if _, err := l.Lock(context.Background(), "k"); err != nil {
		t.Errorf("lock should be free after unlock: %v", err)
	}
}

func TestMemoryCache_Expires(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	_ = c.Put(ctx, "k", &Response{Status: 200, Body: []byte("x")}, time.Minute)
	if _, ok, _ := c.Get(ctx, "k"); !ok {
		t.Fatal("fresh entry missing")
	}
	now = now.Add(time.Minute)
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Error("expired entry returned")
	}
}

// openLocker grants every lock at once, as happens when a holder's lease
// has lapsed.
type openLocker struct{}

func (openLocker) Lock(context.Context, string) (Unlock, error) {
	return func(context.Context) error { return nil }, nil
}

func TestGuard_KeyInProgressIsNotRunTwice(t *testing.T) {
	ctx := context.Background()
	g := NewGuard(openLocker{}, NewMemoryCache(), time.Hour, zerolog.Nop())

	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	fn := func(context.Context) (*Response, error) {
		calls.Add(1)
		once.Do(func() { close(started) })
		<-release
		return &Response{Status: http.StatusCreated, Body: []byte(`{}`)}, nil
	}

	done := make(chan error, 1)
	go func() {
		_, _, err := g.Do(ctx, "u", "k", fn)
		done <- err
	}()
	<-started

	if _, _, err := g.Do(ctx, "u", "k", fn); !errors.Is(err, ErrInProgress) {
		t.Fatalf("expected ErrInProgress while the first turn runs, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first call: %v", err)
	}
	if _, replayed, err := g.Do(ctx, "u", "k", fn); err != nil || !replayed {
		t.Errorf("after completion: replayed=%v err=%v", replayed, err)
	}
	if calls.Load() != 1 {
		t.Errorf("fn called %d times, want 1", calls.Load())
	}
}

func TestGuard_FailureReleasesKey(t *testing.T) {
	ctx := context.Background()
	g, _ := newTestGuard()
	var calls int
	fn := func(context.Context) (*Response, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("provider down")
		}
		return &Response{Status: http.StatusCreated}, nil
	}

	if _, _, err := g.Do(ctx, "u", "k", fn); err == nil {
		t.Fatal("expected first call to fail")
	}
	if _, replayed, err := g.Do(ctx, "u", "k", fn); err != nil || replayed {
		t.Fatalf("retry: replayed=%v err=%v", replayed, err)
	}
	if calls != 2 {
		t.Errorf("fn called %d times, want 2", calls)
	}
}

func TestMemoryCache_Reserve(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	if ok, _ := c.Reserve(ctx, "k", time.Minute); !ok {
		t.Fatal("first reserve should succeed")
	}
	if ok, _ := c.Reserve(ctx, "k", time.Minute); ok {
		t.Fatal("second reserve should fail")
	}
	if resp, ok, _ := c.Get(ctx, "k"); !ok || !resp.Pending {
		t.Errorf("reserved key should read back as pending: %+v", resp)
	}

	now = now.Add(time.Minute)
	if ok, _ := c.Reserve(ctx, "k", time.Minute); !ok {
		t.Error("expired reservation should be taken again")
	}
	_ = c.Delete(ctx, "k")
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Error("deleted key still present")
	}
}

func TestLocalLocker_ForgetsReleasedKeys(t *testing.T) {
	l := NewLocalLocker()
	for i := 0; i < 50; i++ {
		unlock, err := l.Lock(context.Background(), LockKey("user-"+strconv.Itoa(i)))
		if err != nil {
			t.Fatalf("Lock: %v", err)
		}
		_ = unlock(context.Background())
	}
	if n := l.size(); n != 0 {
		t.Errorf("%d keys retained after unlock, want 0", n)
	}

	unlock, _ := l.Lock(context.Background(), "k")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "k"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if n := l.size(); n != 1 {
		t.Errorf("size with one holder = %d, want 1", n)
	}
	_ = unlock(context.Background())
	if n := l.size(); n != 0 {
		t.Errorf("size after unlock = %d, want 0", n)
	}
}
