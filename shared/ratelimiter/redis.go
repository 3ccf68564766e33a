package ratelimiter

import (
	"context"
	"time"

	"github.com/examportal/trustcore/shared/logger"
	"github.com/redis/go-redis/v9"
)

var rateLimitScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {current, ttl}
`)

// RedisLimiter shares windows between API instances. When Redis is unreachable
// it falls back to a local WindowLimiter rather than failing open.
type RedisLimiter struct {
	Client   *redis.Client
	Limit    int
	Window   time.Duration
	Prefix   string
	Timeout  time.Duration
	Fallback *WindowLimiter
}

func NewRedisLimiter(client *redis.Client, limit int, window time.Duration) *RedisLimiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RedisLimiter{
		Client:   client,
		Limit:    limit,
		Window:   window,
		Prefix:   "rl:",
		Timeout:  2 * time.Second,
		Fallback: NewWindowLimiter(limit, window),
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) Decision {
	if l.Client == nil {
		return l.Fallback.Allow(ctx, key)
	}
	ctx, cancel := context.WithTimeout(ctx, l.Timeout)
	defer cancel()

	res, err := rateLimitScript.Run(ctx, l.Client, []string{l.Prefix + key}, l.Window.Milliseconds()).Int64Slice()
	if err != nil || len(res) < 2 {
		logger.Log.Warn("redis rate limiter unavailable, using local window",
			"component", "ratelimiter",
			"error", err)
		return l.Fallback.Allow(ctx, key)
	}

	count, ttlMs := res[0], res[1]
	if ttlMs < 0 {
		ttlMs = l.Window.Milliseconds()
	}
	return decide(int(count), l.Limit, time.Now().Add(time.Duration(ttlMs)*time.Millisecond))
}
