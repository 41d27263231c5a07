package lock_test

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Mindburn-Labs/progression/pkg/lock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exercise(t *testing.T, l lock.Locker, key string) {
	t.Helper()
	var (
		inside  atomic.Int32
		maxSeen atomic.Int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), key)
			if !assert.NoError(t, err) {
				return
			}
			defer unlock()
			n := inside.Add(1)
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxSeen.Load(), "holders never overlap")
}

func TestLocal_MutualExclusion(t *testing.T) {
	l := lock.NewLocal()
	exercise(t, l, "c1")
	assert.Zero(t, l.Held(), "idle keys are released")
}

func TestLocal_KeysAreIndependent(t *testing.T) {
	l := lock.NewLocal()
	unlock, err := l.Lock(context.Background(), "c1")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	other, err := l.Lock(ctx, "c2")
	require.NoError(t, err)
	other()
}

func TestLocal_ContextEndsWait(t *testing.T) {
	l := lock.NewLocal()
	unlock, err := l.Lock(context.Background(), "c1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "c1")
	assert.ErrorIs(t, err, lock.ErrNotAcquired)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()
	assert.Zero(t, l.Held())

	again, err := l.Lock(context.Background(), "c1")
	require.NoError(t, err)
	again()
}

// TestRedis_Integration requires a running Redis at REDIS_ADDR.
func TestRedis_Integration(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("Skipping Redis integration test: REDIS_ADDR not set")
	}
	r := lock.NewRedisAddr(addr, lock.WithPrefix("svt:test:"), lock.WithRetry(time.Millisecond))
	if err := r.Ping(context.Background()); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}

	exercise(t, r, "c1")

	unlock, err := r.Lock(context.Background(), "c2")
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = r.Lock(ctx, "c2")
	assert.ErrorIs(t, err, lock.ErrNotAcquired)
	unlock()

	// Lease expiry frees a lock whose holder vanished.
	short := lock.NewRedisAddr(addr, lock.WithPrefix("svt:test:"), lock.WithLease(50*time.Millisecond), lock.WithRetry(5*time.Millisecond))
	_, err = short.Lock(context.Background(), "c3")
	require.NoError(t, err)
	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	next, err := short.Lock(ctx2, "c3")
	require.NoError(t, err)
	next()
}
