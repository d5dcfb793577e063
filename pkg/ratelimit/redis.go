package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisCommands is the slice of redis.Cmdable the fixed window needs.
type redisCommands interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	PExpire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	PTTL(ctx context.Context, key string) *redis.DurationCmd
}

// RedisLimiter counts hits per key in a Redis fixed window, so every replica
// shares the same budget.
type RedisLimiter struct {
	Limit  int
	Window time.Duration
	Prefix string

	client redisCommands
}

func NewRedis(client redisCommands, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		Limit:  limit,
		Window: window,
		Prefix: "loanportal:rl:",
		client: client,
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	windowKey := l.Prefix + key + ":" + strconv.FormatInt(int64(l.Window/time.Millisecond), 10)
	n, err := l.client.Incr(ctx, windowKey).Result()
	if err != nil {
		return Decision{}, err
	}
	if n == 1 {
		if err := l.client.PExpire(ctx, windowKey, l.Window).Err(); err != nil {
			return Decision{}, err
		}
	}
	if n <= int64(l.Limit) {
		return Decision{Allowed: true, Limit: l.Limit, Remaining: l.Limit - int(n)}, nil
	}

	ttl, err := l.client.PTTL(ctx, windowKey).Result()
	if err != nil {
		return Decision{}, err
	}
	if ttl <= 0 {
		// The first hit's PEXPIRE was lost; restart the window.
		if err := l.client.PExpire(ctx, windowKey, l.Window).Err(); err != nil {
			return Decision{}, err
		}
		ttl = l.Window
	}
	return Decision{Limit: l.Limit, RetryAfter: ttl}, nil
}
