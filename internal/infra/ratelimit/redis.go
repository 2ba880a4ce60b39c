package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"medledger/internal/domain"
)

const keyPrefix = "medledger:ratelimit:"

// incrWindow increments the window counter and starts its expiry on first
// use. It returns the new count and the remaining TTL in milliseconds.
var incrWindow = redis.NewScript(`
local used = redis.call("INCR", KEYS[1])
if used == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {used, redis.call("PTTL", KEYS[1])}
`)

// RedisLimiter shares fixed windows between server replicas.
type RedisLimiter struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisLimiter(addr, password string, db int, now func() time.Time) (*RedisLimiter, error) {
	if addr == "" {
		return nil, errors.New("redis addr is required")
	}
	if now == nil {
		now = time.Now
	}
	return &RedisLimiter{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}),
		now:    now,
	}, nil
}

func (r *RedisLimiter) Close() error {
	return r.client.Close()
}

func (r *RedisLimiter) Allow(ctx context.Context, key string, limit int, size time.Duration) (domain.RateLimitDecision, error) {
	if limit <= 0 {
		return domain.RateLimitDecision{Allowed: true, Limit: limit, Remaining: limit}, nil
	}
	millis := size.Milliseconds()
	if millis <= 0 {
		millis = 1000
	}
	raw, err := incrWindow.Run(ctx, r.client, []string{keyPrefix + key}, millis).Result()
	if err != nil {
		return domain.RateLimitDecision{}, fmt.Errorf("redis rate limit: %w", err)
	}
	used, ttl, err := parseWindowReply(raw)
	if err != nil {
		return domain.RateLimitDecision{}, err
	}
	resetAt := r.now()
	if ttl > 0 {
		resetAt = resetAt.Add(time.Duration(ttl) * time.Millisecond)
	}
	remaining := limit - int(used)
	if remaining < 0 {
		remaining = 0
	}
	return domain.RateLimitDecision{
		Allowed:   used <= int64(limit),
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}

func parseWindowReply(raw any) (used int64, ttl int64, err error) {
	values, ok := raw.([]any)
	if !ok || len(values) < 2 {
		return 0, 0, errors.New("unexpected redis rate limit reply")
	}
	used, ok = values[0].(int64)
	if !ok {
		return 0, 0, errors.New("invalid redis window counter")
	}
	ttl, _ = values[1].(int64)
	return used, ttl, nil
}

var _ domain.RateLimiter = (*RedisLimiter)(nil)
