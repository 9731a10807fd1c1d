package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default failed-attempt limits for login and registration.
const (
	DefaultThrottleMaxFailures = 10
	DefaultThrottleWindow      = 15 * time.Minute
)

// LoginThrottle counts failed authentication attempts per key (usually the
// client address). Successful attempts are not counted.
type LoginThrottle interface {
	// Check returns zero when key may try again, or how long it must wait.
	Check(ctx context.Context, key string) (time.Duration, error)

	// RecordFailure counts one failed attempt for key.
	RecordFailure(ctx context.Context, key string) error
}

// RedisThrottle keeps counters in Redis so every instance sees the same limit.
// Each key is a counter whose TTL is the window, started by the first failure.
type RedisThrottle struct {
	client      redis.UniversalClient
	prefix      string
	maxFailures int64
	window      time.Duration
}

// NewRedisThrottle creates a Redis-backed throttle.
func NewRedisThrottle(client redis.UniversalClient, prefix string, maxFailures int, window time.Duration) *RedisThrottle {
	if maxFailures <= 0 {
		maxFailures = DefaultThrottleMaxFailures
	}
	if window <= 0 {
		window = DefaultThrottleWindow
	}
	return &RedisThrottle{client: client, prefix: prefix, maxFailures: int64(maxFailures), window: window}
}

func (t *RedisThrottle) key(k string) string {
	return fmt.Sprintf("%s:auth_fail:%s", t.prefix, k)
}

// Check implements LoginThrottle.
func (t *RedisThrottle) Check(ctx context.Context, key string) (time.Duration, error) {
	n, err := t.client.Get(ctx, t.key(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis unavailable: %w", err)
	}
	if n < t.maxFailures {
		return 0, nil
	}

	k := t.key(key)
	ttl, err := t.client.TTL(ctx, k).Result()
	if err != nil {
		return 0, fmt.Errorf("redis unavailable: %w", err)
	}
	switch {
	case ttl == ttlKeyMissing:
		// Expired between the two reads.
		return 0, nil
	case ttl < 0:
		// A counter with no expiry would block key for good. Start a fresh
		// window on it instead.
		if err := t.client.Expire(ctx, k, t.window).Err(); err != nil {
			return 0, fmt.Errorf("redis unavailable: %w", err)
		}
		return t.window, nil
	}
	return ttl, nil
}

// ttlKeyMissing is what go-redis reports from TTL for a key that does not exist.
const ttlKeyMissing = time.Duration(-2)

// RecordFailure implements LoginThrottle. The increment and the expiry are
// sent as one MULTI/EXEC so a counter never exists without a window.
func (t *RedisThrottle) RecordFailure(ctx context.Context, key string) error {
	k := t.key(key)
	_, err := t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, k)
		pipe.ExpireNX(ctx, k, t.window)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis unavailable: %w", err)
	}
	return nil
}

// MemoryThrottle is the single-instance LoginThrottle used when Redis is not configured.
type MemoryThrottle struct {
	maxFailures int
	window      time.Duration
	now         func() time.Time

	mu      sync.Mutex
	entries map[string]throttleEntry
}

type throttleEntry struct {
	failures int
	resetAt  time.Time
}

// NewMemoryThrottle creates an in-process throttle.
func NewMemoryThrottle(maxFailures int, window time.Duration) *MemoryThrottle {
	if maxFailures <= 0 {
		maxFailures = DefaultThrottleMaxFailures
	}
	if window <= 0 {
		window = DefaultThrottleWindow
	}
	return &MemoryThrottle{
		maxFailures: maxFailures,
		window:      window,
		now:         time.Now,
		entries:     make(map[string]throttleEntry),
	}
}

// Check implements LoginThrottle.
func (t *MemoryThrottle) Check(_ context.Context, key string) (time.Duration, error) {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	if !ok {
		return 0, nil
	}
	if !now.Before(e.resetAt) {
		delete(t.entries, key)
		return 0, nil
	}
	if e.failures < t.maxFailures {
		return 0, nil
	}
	return e.resetAt.Sub(now), nil
}

// RecordFailure implements LoginThrottle.
func (t *MemoryThrottle) RecordFailure(_ context.Context, key string) error {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	if !ok || !now.Before(e.resetAt) {
		e = throttleEntry{resetAt: now.Add(t.window)}
	}
	e.failures++
	t.entries[key] = e
	return nil
}

// Sweep drops expired counters.
func (t *MemoryThrottle) Sweep() {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	for k, e := range t.entries {
		if !now.Before(e.resetAt) {
			delete(t.entries, k)
		}
	}
}
