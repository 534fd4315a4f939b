package verification

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestLocalLocker(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "BATCH-001")
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(short, "BATCH-001"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline while held, got %v", err)
	}

	other, err := l.Lock(ctx, "BATCH-002")
	if err != nil {
		t.Fatalf("other key must not block: %v", err)
	}
	other()
	unlock()

	if l.Held() != 0 {
		t.Errorf("expected no held keys, got %d", l.Held())
	}
}

func newTestRedisLocker(t *testing.T) *RedisLocker {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skip("Skipping Redis integration test: redis not available")
	}
	l := NewRedisLockerWithClient(client, "scanchain:test:"+t.Name()+":", time.Second, 5*time.Millisecond)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestRedisLocker_MutualExclusion(t *testing.T) {
	l := newTestRedisLocker(t)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		inside  int32
		maxSeen int32
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, "BATCH-001")
			if err != nil {
				t.Errorf("Lock failed: %v", err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxSeen)
				if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Errorf("expected at most one holder, saw %d", maxSeen)
	}
}

func TestRedisLocker_ExpiredHolderCannotReleaseNewLock(t *testing.T) {
	l := newTestRedisLocker(t)
	l.ttl = 50 * time.Millisecond
	ctx := context.Background()

	stale, err := l.Lock(ctx, "BATCH-001")
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	time.Sleep(80 * time.Millisecond)

	fresh, err := l.Lock(ctx, "BATCH-001")
	if err != nil {
		t.Fatalf("expected lock after expiry: %v", err)
	}
	stale()

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(short, "BATCH-001"); err == nil {
		t.Error("stale release must not free the fresh holder's lock")
	}
	fresh()
}
