package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pegged-token/claimer/internal/logging"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the lease only while it still holds our token
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker is a lease lock shared by every server and worker process using the same Redis
type RedisLocker struct {
	client       *redis.Client
	prefix       string
	ttl           time.Duration
	pollInterval  time.Duration
	renewInterval time.Duration
}

// NewRedisLocker creates a distributed locker. ttl bounds how long a crashed holder blocks others;
// a live holder keeps renewing its lease until release.
func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisLocker{
		client:        client,
		prefix:        "claimer:lock:",
		ttl:           ttl,
		pollInterval:  50 * time.Millisecond,
		renewInterval: ttl / 3,
	}
}

// Acquire polls SET NX until the lease is ours or ctx is done
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	redisKey := l.prefix + key
	token := uuid.New().String()

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, errors.Join(ErrLockTimeout, ctx.Err())
		}
	}

	stop := make(chan struct{})
	stopped := make(chan struct{})
	go l.renew(redisKey, key, token, stop, stopped)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-stopped

			// Release with a fresh context so a cancelled caller still frees the lease
			releaseCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err(); err != nil {
				logging.WithError(err).WithField("lock", key).Warn("Failed to release account lock, it will expire on its own")
			}
		})
	}, nil
}

// renew extends the lease every renewInterval until stop is closed or the lease is lost
func (l *RedisLocker) renew(redisKey, key, token string, stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(l.renewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), l.renewInterval)
		n, err := renewScript.Run(ctx, l.client, []string{redisKey}, token, l.ttl.Milliseconds()).Int64()
		cancel()

		switch {
		case err != nil:
			logging.WithError(err).WithField("lock", key).Warn("Failed to renew account lock lease")
		case n == 0:
			logging.WithField("lock", key).Error("Account lock lease was lost while held")
			return
		}
	}
}
