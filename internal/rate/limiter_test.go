package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newLimiter(t *testing.T, failOpen bool) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, failOpen), mr
}

func TestAllowWithinBudget(t *testing.T) {
	l, _ := newLimiter(t, false)
	rule := Rule{Prefix: "t:", Limit: 3, Window: time.Minute}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := l.Allow(ctx, rule, "a@b.com"); err != nil {
			t.Fatalf("hit %d: %v", i+1, err)
		}
	}
	wait, err := l.Allow(ctx, rule, "a@b.com")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if wait <= 0 || wait > time.Minute {
		t.Fatalf("unexpected retry window %v", wait)
	}

	if _, err := l.Allow(ctx, rule, "other@b.com"); err != nil {
		t.Fatalf("keys must be independent: %v", err)
	}
}

func TestWindowExpires(t *testing.T) {
	l, mr := newLimiter(t, false)
	rule := Rule{Prefix: "t:", Limit: 1, Window: time.Minute}
	ctx := context.Background()

	_, _ = l.Allow(ctx, rule, "k")
	if _, err := l.Allow(ctx, rule, "k"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected limit, got %v", err)
	}

	mr.FastForward(61 * time.Second)

	if _, err := l.Allow(ctx, rule, "k"); err != nil {
		t.Fatalf("expected new window, got %v", err)
	}
}

func TestCountAndReset(t *testing.T) {
	l, _ := newLimiter(t, false)
	ctx := context.Background()

	_, _ = l.Allow(ctx, OTPSend, "+15551234567")
	_, _ = l.Allow(ctx, OTPSend, "+15551234567")

	if n, err := l.Count(ctx, OTPSend, "+15551234567"); err != nil || n != 2 {
		t.Fatalf("expected 2 hits, got %d (%v)", n, err)
	}
	if err := l.Reset(ctx, OTPSend, "+15551234567"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if n, _ := l.Count(ctx, OTPSend, "+15551234567"); n != 0 {
		t.Fatalf("expected 0 after reset, got %d", n)
	}
}

func TestRedisOutage(t *testing.T) {
	closed, mr := newLimiter(t, false)
	open := New(closed.redis, true)
	mr.Close()

	ctx := context.Background()
	if _, err := closed.Allow(ctx, Verify, "k"); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
	if _, err := open.Allow(ctx, Verify, "k"); err != nil {
		t.Fatalf("fail-open limiter must allow, got %v", err)
	}
}

func TestNilLimiterAllows(t *testing.T) {
	var l *Limiter
	if _, err := l.Allow(context.Background(), Refresh, "k"); err != nil {
		t.Fatalf("nil limiter must allow, got %v", err)
	}
}
