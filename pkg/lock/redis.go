package lock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if it still holds our token.
// KEYS[1] = lock key
// ARGV[1] = token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

const (
	DefaultLease = 10 * time.Second
	DefaultRetry = 25 * time.Millisecond
)

// Redis is a lease-based lock: SET NX PX to take, token-checked DEL to release.
type Redis struct {
	client *redis.Client
	prefix string
	lease  time.Duration
	retry  time.Duration
	logger *slog.Logger
}

// RedisOption configures a Redis lock.
type RedisOption func(*Redis)

// WithLease sets how long a lock survives a crashed holder.
func WithLease(d time.Duration) RedisOption { return func(r *Redis) { r.lease = d } }

// WithRetry sets the polling interval while the lock is contended.
func WithRetry(d time.Duration) RedisOption { return func(r *Redis) { r.retry = d } }

// WithPrefix namespaces lock keys.
func WithPrefix(p string) RedisOption { return func(r *Redis) { r.prefix = p } }

func NewRedis(client *redis.Client, opts ...RedisOption) *Redis {
	r := &Redis{
		client: client,
		prefix: "svt:lock:",
		lease:  DefaultLease,
		retry:  DefaultRetry,
		logger: slog.Default().With("component", "lock"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewRedisAddr connects to addr and returns a lock backed by it.
func NewRedisAddr(addr string, opts ...RedisOption) *Redis {
	return NewRedis(redis.NewClient(&redis.Options{Addr: addr}), opts...)
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (r *Redis) Close() error { return r.client.Close() }

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	full := r.prefix + key
	token := uuid.NewString()

	contended := false
	for {
		ok, err := r.client.SetNX(ctx, full, token, r.lease).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrNotAcquired, key, ctx.Err())
			}
			return nil, fmt.Errorf("redis lock error: %w", err)
		}
		if ok {
			break
		}
		if !contended {
			contended = true
			r.logger.DebugContext(ctx, "lock contended, waiting", "key", full)
		}
		timer := time.NewTimer(r.retry)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %s: %w", ErrNotAcquired, key, ctx.Err())
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() { r.release(full, token) })
	}, nil
}

func (r *Redis) release(key, token string) {
	// The caller's context may already be done; release on our own deadline.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := releaseScript.Run(ctx, r.client, []string{key}, token).Err(); err != nil {
		r.logger.WarnContext(ctx, "lock release failed, lease will expire", "key", key, "error", err)
	}
}
