package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rule is one fixed-window budget.
type Rule struct {
	Prefix string
	Limit  int
	Window time.Duration
}

var (
	OTPSend = Rule{Prefix: "otp:", Limit: 5, Window: 10 * time.Minute}
	Verify  = Rule{Prefix: "vfy:", Limit: 10, Window: 10 * time.Minute}
	Refresh = Rule{Prefix: "rf:", Limit: 30, Window: time.Minute}
)

// Limiter counts hits per key in Redis.
type Limiter struct {
	redis    redis.UniversalClient
	failOpen bool
}

// New creates a Limiter. With failOpen set, Redis errors allow the request.
func New(redisClient redis.UniversalClient, failOpen bool) *Limiter {
	return &Limiter{redis: redisClient, failOpen: failOpen}
}

// Allow records a hit for key under rule and returns ErrRateLimited once
// the window budget is spent. The returned duration is the time left in
// the window when limited.
func (l *Limiter) Allow(ctx context.Context, rule Rule, key string) (time.Duration, error) {
	if l == nil || rule.Limit <= 0 {
		return 0, nil
	}
	full := rule.Prefix + key

	count, err := l.incrementWithTTL(ctx, full, rule.Window)
	if err != nil {
		if l.failOpen {
			return 0, nil
		}
		return 0, err
	}
	if count <= int64(rule.Limit) {
		return 0, nil
	}

	ttl, err := l.redis.TTL(ctx, full).Result()
	if err != nil || ttl < 0 {
		ttl = rule.Window
	}
	return ttl, ErrRateLimited
}

// Count returns the hits recorded for key in the current window.
func (l *Limiter) Count(ctx context.Context, rule Rule, key string) (int, error) {
	n, err := l.redis.Get(ctx, rule.Prefix+key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if n < 0 {
		return 0, nil
	}
	return int(n), nil
}

// Reset clears the window for key.
func (l *Limiter) Reset(ctx context.Context, rule Rule, key string) error {
	if err := l.redis.Del(ctx, rule.Prefix+key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed window: only the first hit starts the clock.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	return count, nil
}
