package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisLocker(t *testing.T, ttl time.Duration) (*miniredis.Miniredis, *RedisLocker) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	l := NewRedisLocker(client, ttl)
	l.pollInterval = 2 * time.Millisecond
	return mr, l
}

// assertMutualExclusion runs n goroutines through the same key and checks no two overlap
func assertMutualExclusion(t *testing.T, locker Locker, n int) {
	t.Helper()
	var inside, maxInside, done int32
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			release, err := locker.Acquire(ctx, "default")
			if !assert.NoError(t, err) {
				return
			}
			cur := atomic.AddInt32(&inside, 1)
			for {
				prev := atomic.LoadInt32(&maxInside)
				if cur <= prev || atomic.CompareAndSwapInt32(&maxInside, prev, cur) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			atomic.AddInt32(&done, 1)
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Equal(t, int32(n), done)
}

func TestLocalLocker_MutualExclusion(t *testing.T) {
	l := NewLocalLocker()
	assertMutualExclusion(t, l, 20)
	assert.Empty(t, l.slots, "idle keys are dropped")
}

func TestLocalLocker_TimeoutAndIndependentKeys(t *testing.T) {
	l := NewLocalLocker()
	release, err := l.Acquire(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "a")
	assert.ErrorIs(t, err, ErrLockTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := l.Acquire(context.Background(), "b")
	require.NoError(t, err)
	other()

	release()
	release() // second call is a no-op

	again, err := l.Acquire(context.Background(), "a")
	require.NoError(t, err)
	again()
}

func TestRedisLocker_MutualExclusion(t *testing.T) {
	_, l := newRedisLocker(t, time.Minute)
	assertMutualExclusion(t, l, 10)
}

func TestRedisLocker_Timeout(t *testing.T) {
	mr, l := newRedisLocker(t, time.Minute)

	release, err := l.Acquire(context.Background(), "default")
	require.NoError(t, err)
	assert.True(t, mr.Exists("claimer:lock:default"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "default")
	assert.ErrorIs(t, err, ErrLockTimeout)

	release()
	assert.False(t, mr.Exists("claimer:lock:default"))
}

func TestRedisLocker_ReleaseDoesNotStealForeignLease(t *testing.T) {
	mr, l := newRedisLocker(t, time.Second)

	release, err := l.Acquire(context.Background(), "default")
	require.NoError(t, err)

	// Lease expires and another process takes it
	mr.FastForward(2 * time.Second)
	require.NoError(t, mr.Set("claimer:lock:default", "someone-else"))

	release()
	val, err := mr.Get("claimer:lock:default")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", val)
}

func TestRedisLocker_RedisDown(t *testing.T) {
	mr, l := newRedisLocker(t, time.Minute)
	mr.Close()

	_, err := l.Acquire(context.Background(), "default")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrLockTimeout)
}

func TestRedisLocker_RenewsLeaseWhileHeld(t *testing.T) {
	mr, l := newRedisLocker(t, 300*time.Millisecond)
	l.renewInterval = 5 * time.Millisecond

	release, err := l.Acquire(context.Background(), "default")
	require.NoError(t, err)

	// Redis time moves well past the original lease while the holder is alive
	for i := 0; i < 10; i++ {
		mr.FastForward(100 * time.Millisecond)
		time.Sleep(30 * time.Millisecond)
		require.True(t, mr.Exists("claimer:lock:default"), "lease expired after %d steps", i+1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "default")
	assert.ErrorIs(t, err, ErrLockTimeout)

	release()
	assert.False(t, mr.Exists("claimer:lock:default"))

	// Nothing renews a released lease
	require.NoError(t, mr.Set("claimer:lock:default", "someone-else"))
	mr.SetTTL("claimer:lock:default", 100*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	mr.FastForward(200 * time.Millisecond)
	assert.False(t, mr.Exists("claimer:lock:default"))
}

func TestRedisLocker_StopsRenewingLostLease(t *testing.T) {
	mr, l := newRedisLocker(t, time.Second)
	l.renewInterval = 5 * time.Millisecond

	release, err := l.Acquire(context.Background(), "default")
	require.NoError(t, err)
	defer release()

	require.NoError(t, mr.Set("claimer:lock:default", "someone-else"))
	mr.SetTTL("claimer:lock:default", 100*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	// The foreign lease keeps its own TTL
	assert.Equal(t, 100*time.Millisecond, mr.TTL("claimer:lock:default"))
	val, err := mr.Get("claimer:lock:default")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", val)
}
