package lockout

import (
	"context"
	"time"

	"github.com/examportal/trustcore/shared/domain"
	"github.com/examportal/trustcore/shared/logger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// KEYS: account failures, account lock, ip failures, ip ban marker.
// ARGV: now_ms, cutoff_ms, window_ms, max_failures, lock_ms, ip_threshold,
// ban_ms, member, count_ip.
var failureScript = redis.NewScript(`
local locked = 0
if redis.call("PTTL", KEYS[2]) <= 0 then
  redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[2])
  redis.call("ZADD", KEYS[1], ARGV[1], ARGV[8])
  if redis.call("ZCARD", KEYS[1]) >= tonumber(ARGV[4]) then
    redis.call("SET", KEYS[2], "1", "PX", ARGV[5])
    redis.call("DEL", KEYS[1])
    locked = 1
  else
    redis.call("PEXPIRE", KEYS[1], ARGV[3])
  end
end
local banned = 0
if ARGV[9] == "1" then
  redis.call("ZREMRANGEBYSCORE", KEYS[3], "-inf", ARGV[2])
  redis.call("ZADD", KEYS[3], ARGV[1], ARGV[8])
  redis.call("PEXPIRE", KEYS[3], ARGV[3])
  if redis.call("ZCARD", KEYS[3]) >= tonumber(ARGV[6]) and redis.call("EXISTS", KEYS[4]) == 0 then
    redis.call("SET", KEYS[4], "1", "PX", ARGV[7])
    banned = 1
  end
end
return {locked, banned}
`)

// RedisCounters keeps the windows in sorted sets and the lock as a key with a
// TTL, so every API instance sees the same lock. When Redis is unreachable it
// falls back to local counters rather than failing open.
type RedisCounters struct {
	Client   *redis.Client
	Config   Config
	Prefix   string
	Timeout  time.Duration
	Fallback *MemoryCounters
}

func NewRedisCounters(client *redis.Client, cfg Config) *RedisCounters {
	return &RedisCounters{
		Client:   client,
		Config:   cfg,
		Prefix:   "lockout:",
		Timeout:  2 * time.Second,
		Fallback: NewMemoryCounters(cfg),
	}
}

func (r *RedisCounters) failuresKey(acct string) string { return r.Prefix + "acct:" + acct }
func (r *RedisCounters) lockKey(acct string) string     { return r.Prefix + "lock:" + acct }
func (r *RedisCounters) ipKey(ip domain.IP) string      { return r.Prefix + "ip:" + ip }
func (r *RedisCounters) banKey(ip domain.IP) string     { return r.Prefix + "ban:" + ip }

func (r *RedisCounters) RecordFailure(ctx context.Context, now time.Time, ip domain.IP, acct string) Outcome {
	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	countIP := "0"
	if ip != "" && r.Config.IPThreshold > 0 {
		countIP = "1"
	}
	nowMs := now.UnixMilli()
	keys := []string{r.failuresKey(acct), r.lockKey(acct), r.ipKey(ip), r.banKey(ip)}
	res, err := failureScript.Run(ctx, r.Client, keys,
		nowMs,
		nowMs-r.Config.Window.Milliseconds(),
		r.Config.Window.Milliseconds(),
		r.Config.MaxFailures,
		r.Config.LockDuration.Milliseconds(),
		r.Config.IPThreshold,
		r.Config.IPBanDuration.Milliseconds(),
		uuid.NewString(),
		countIP,
	).Int64Slice()
	if err != nil || len(res) < 2 {
		r.warn(err)
		return r.Fallback.RecordFailure(ctx, now, ip, acct)
	}

	var out Outcome
	if res[0] == 1 {
		out.Locked = true
		out.LockedUntil = now.Add(r.Config.LockDuration)
	}
	out.IPBanned = res[1] == 1
	return out
}

func (r *RedisCounters) ResetAccount(ctx context.Context, now time.Time, acct string) {
	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()
	if err := r.Client.Del(ctx, r.failuresKey(acct)).Err(); err != nil {
		r.warn(err)
	}
	r.Fallback.ResetAccount(ctx, now, acct)
}

func (r *RedisCounters) LockedUntil(ctx context.Context, now time.Time, acct string) time.Time {
	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()
	ttl, err := r.Client.PTTL(ctx, r.lockKey(acct)).Result()
	if err != nil {
		r.warn(err)
		return r.Fallback.LockedUntil(ctx, now, acct)
	}
	if ttl <= 0 {
		// a lock taken while Redis was down still holds
		return r.Fallback.LockedUntil(ctx, now, acct)
	}
	return now.Add(ttl)
}

// Purge trims the fallback only; Redis keys expire on their own.
func (r *RedisCounters) Purge(now time.Time) {
	r.Fallback.Purge(now)
}

func (r *RedisCounters) warn(err error) {
	logger.Log.Warn("redis lockout counters unavailable, using local state",
		"component", "lockout",
		"error", err)
}

