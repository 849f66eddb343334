package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
)

func TestKeyedMutex_SerialisesSameKey(t *testing.T) {
	m := NewKeyedMutex()
	ctx := context.Background()

	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := m.Acquire(ctx, PositionKey(1))
			if err != nil {
				t.Errorf("Acquire failed: %v", err)
				return
			}
			n := atomic.AddInt32(&active, 1)
			for {
				cur := atomic.LoadInt32(&maxActive)
				if n <= cur || atomic.CompareAndSwapInt32(&maxActive, cur, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
			release()
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Errorf("expected at most one holder, saw %d", maxActive)
	}
	if len(m.locks) != 0 {
		t.Errorf("expected lock table to be empty after release, got %d entries", len(m.locks))
	}
}

func TestKeyedMutex_DifferentKeysIndependent(t *testing.T) {
	m := NewKeyedMutex()
	ctx := context.Background()

	r1, err := m.Acquire(ctx, PositionKey(1))
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer r1()

	r2, err := m.Acquire(ctx, PositionKey(2))
	if err != nil {
		t.Fatalf("second key should not block: %v", err)
	}
	r2()
}

func TestKeyedMutex_ContextCancelled(t *testing.T) {
	m := NewKeyedMutex()

	release, _ := m.Acquire(context.Background(), "k")
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := m.Acquire(ctx, "k"); !errors.Is(err, ErrNotAcquired) {
		t.Errorf("expected ErrNotAcquired, got %v", err)
	}

	// Double release is harmless
	release()
	release()
}

func newTestRedisLocker(client *redis.Client) *RedisLocker {
	l := NewRedisLocker(client, nil)
	l.retryDelay = time.Millisecond
	l.newToken = func() string { return "token-1" }
	return l
}

func TestRedisLocker_AcquireAndRelease(t *testing.T) {
	db, mock := redismock.NewClientMock()
	l := newTestRedisLocker(db)
	key := DefaultKeyPrefix + PositionKey(7)

	mock.ExpectSetNX(key, "token-1", DefaultTTL).SetVal(false)
	mock.ExpectSetNX(key, "token-1", DefaultTTL).SetVal(true)
	mock.ExpectEval(releaseScript, []string{key}, "token-1").SetVal(int64(1))

	release, err := l.Acquire(context.Background(), PositionKey(7))
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	release()

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Redis expectations not met: %v", err)
	}
}

func TestRedisLocker_Errors(t *testing.T) {
	t.Run("redis error is returned", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		l := newTestRedisLocker(db)
		key := DefaultKeyPrefix + "k"

		mock.ExpectSetNX(key, "token-1", DefaultTTL).SetErr(errors.New("connection refused"))

		if _, err := l.Acquire(context.Background(), "k"); err == nil {
			t.Error("expected error when Redis fails")
		}
	})

	t.Run("held lock times out", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		l := newTestRedisLocker(db)
		l.retryDelay = 50 * time.Millisecond
		key := DefaultKeyPrefix + "k"

		mock.ExpectSetNX(key, "token-1", DefaultTTL).SetVal(false)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		if _, err := l.Acquire(ctx, "k"); !errors.Is(err, ErrNotAcquired) {
			t.Errorf("expected ErrNotAcquired, got %v", err)
		}
	})
}
