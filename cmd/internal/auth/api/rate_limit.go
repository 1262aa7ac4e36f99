package authapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Throttler counts failed login attempts per key inside a window.
type Throttler interface {
	// Check reports whether key has reached limit failures in the current window.
	Check(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (blocked bool, retryAfter time.Duration, err error)
	// Fail records one failed attempt for key.
	Fail(ctx context.Context, key string, window time.Duration, now time.Time) error
	// Reset forgets key, e.g. after a successful login.
	Reset(ctx context.Context, key string) error
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int64((retryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts")
}

// ---- in-process sliding window ----

// MemoryThrottler keeps failure timestamps per key. It is used when Redis is not configured
// and only limits a single process.
type MemoryThrottler struct {
	mu       sync.Mutex
	failures map[string][]time.Time
}

func NewMemoryThrottler() *MemoryThrottler {
	return &MemoryThrottler{failures: make(map[string][]time.Time)}
}

func (t *MemoryThrottler) Check(_ context.Context, key string, limit int, window time.Duration, now time.Time) (bool, time.Duration, error) {
	if limit <= 0 {
		return false, 0, nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	kept := pruneBefore(t.failures[key], now.Add(-window))
	if len(kept) == 0 {
		delete(t.failures, key)
	} else {
		t.failures[key] = kept
	}
	blocked, retry := evaluateWindowThrottle(now, kept, limit, window)
	return blocked, retry, nil
}

func (t *MemoryThrottler) Fail(_ context.Context, key string, window time.Duration, now time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures[key] = append(pruneBefore(t.failures[key], now.Add(-window)), now)
	return nil
}

func (t *MemoryThrottler) Reset(_ context.Context, key string) error {
	t.mu.Lock()
	delete(t.failures, key)
	t.mu.Unlock()
	return nil
}

func pruneBefore(ts []time.Time, cut time.Time) []time.Time {
	out := ts[:0]
	for _, v := range ts {
		if v.After(cut) {
			out = append(out, v)
		}
	}
	return out
}

// evaluateWindowThrottle blocks when at least limit failures fall inside window.
// The retry delay runs until the oldest counted failure leaves the window.
func evaluateWindowThrottle(now time.Time, failures []time.Time, limit int, window time.Duration) (bool, time.Duration) {
	if limit <= 0 || window <= 0 {
		return false, 0
	}
	cut := now.Add(-window)

	count := 0
	var oldest time.Time
	for _, f := range failures {
		if !f.After(cut) || f.After(now) {
			continue
		}
		count++
		if oldest.IsZero() || f.Before(oldest) {
			oldest = f
		}
	}
	if count < limit {
		return false, 0
	}
	retry := oldest.Add(window).Sub(now)
	if retry < 0 {
		retry = 0
	}
	return true, retry
}

// ---- redis fixed window ----

const redisThrottlePrefix = "folio:auth:throttle:"

// RedisThrottler shares counters between processes with INCR and EXPIRE.
type RedisThrottler struct {
	rdb redis.UniversalClient
}

func NewRedisThrottler(rdb redis.UniversalClient) (*RedisThrottler, error) {
	if rdb == nil {
		return nil, errors.New("authapi: nil redis client")
	}
	return &RedisThrottler{rdb: rdb}, nil
}

func (t *RedisThrottler) Check(ctx context.Context, key string, limit int, window time.Duration, _ time.Time) (bool, time.Duration, error) {
	if limit <= 0 {
		return false, 0, nil
	}
	k := redisThrottlePrefix + key

	n, err := t.rdb.Get(ctx, k).Int()
	if errors.Is(err, redis.Nil) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, err
	}
	if n < limit {
		return false, 0, nil
	}

	ttl, err := t.rdb.TTL(ctx, k).Result()
	if err != nil {
		return false, 0, err
	}
	if ttl <= 0 {
		ttl = window
	}
	return true, ttl, nil
}

func (t *RedisThrottler) Fail(ctx context.Context, key string, window time.Duration, _ time.Time) error {
	k := redisThrottlePrefix + key
	n, err := t.rdb.Incr(ctx, k).Result()
	if err != nil {
		return err
	}
	if n == 1 {
		return t.rdb.Expire(ctx, k, window).Err()
	}
	return nil
}

func (t *RedisThrottler) Reset(ctx context.Context, key string) error {
	return t.rdb.Del(ctx, redisThrottlePrefix+key).Err()
}
