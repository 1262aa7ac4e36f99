package authapi

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestEvaluateWindowThrottle(t *testing.T) {
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)

	failures := []time.Time{
		now.Add(-1 * time.Minute),
		now.Add(-2 * time.Minute),
		now.Add(-6 * time.Minute),
	}

	blocked, retry := evaluateWindowThrottle(now, failures, 2, 5*time.Minute)
	if !blocked {
		t.Fatalf("expected window throttle to block")
	}
	if retry != 3*time.Minute {
		t.Fatalf("expected retry=3m, got %v", retry)
	}

	blocked, retry = evaluateWindowThrottle(now, failures, 3, 5*time.Minute)
	if blocked {
		t.Fatalf("expected window throttle to allow")
	}
	if retry != 0 {
		t.Fatalf("expected retry=0, got %v", retry)
	}
}

func TestMemoryThrottler_WindowSlides(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	th := NewMemoryThrottler()

	for i := 0; i < 3; i++ {
		if err := th.Fail(ctx, "email:a@b.io", time.Minute, now.Add(time.Duration(i)*10*time.Second)); err != nil {
			t.Fatalf("fail: %v", err)
		}
	}

	blocked, retry, _ := th.Check(ctx, "email:a@b.io", 3, time.Minute, now.Add(25*time.Second))
	if !blocked || retry != 35*time.Second {
		t.Fatalf("expected block with retry=35s, got blocked=%v retry=%v", blocked, retry)
	}

	blocked, _, _ = th.Check(ctx, "email:a@b.io", 3, time.Minute, now.Add(61*time.Second))
	if blocked {
		t.Fatalf("oldest failure left the window; expected allow")
	}

	blocked, _, _ = th.Check(ctx, "email:other@b.io", 3, time.Minute, now)
	if blocked {
		t.Fatalf("keys must be independent")
	}

	_ = th.Reset(ctx, "email:a@b.io")
	if blocked, _, _ := th.Check(ctx, "email:a@b.io", 1, time.Minute, now.Add(30*time.Second)); blocked {
		t.Fatalf("reset must clear failures")
	}
}

func TestRedisThrottler_FixedWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	th, err := NewRedisThrottler(rdb)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 2; i++ {
		if err := th.Fail(ctx, "ip:203.0.113.9", time.Minute, now); err != nil {
			t.Fatalf("fail: %v", err)
		}
	}
	if ttl := mr.TTL(redisThrottlePrefix + "ip:203.0.113.9"); ttl != time.Minute {
		t.Fatalf("expected window expiry set once, ttl=%v", ttl)
	}

	blocked, retry, err := th.Check(ctx, "ip:203.0.113.9", 2, time.Minute, now)
	if err != nil || !blocked || retry != time.Minute {
		t.Fatalf("expected block retry=1m, got blocked=%v retry=%v err=%v", blocked, retry, err)
	}

	mr.FastForward(time.Minute + time.Second)
	blocked, _, err = th.Check(ctx, "ip:203.0.113.9", 2, time.Minute, now)
	if err != nil || blocked {
		t.Fatalf("expected window to expire, blocked=%v err=%v", blocked, err)
	}

	_ = th.Fail(ctx, "ip:203.0.113.9", time.Minute, now)
	_ = th.Reset(ctx, "ip:203.0.113.9")
	if mr.Exists(redisThrottlePrefix + "ip:203.0.113.9") {
		t.Fatalf("reset must delete the counter")
	}
}
