package ratelimiter

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/examportal/trustcore/shared/config"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowLimiter_Allow(t *testing.T) {
	now := time.Date(2025, 5, 10, 9, 0, 0, 0, time.UTC)
	l := NewWindowLimiter(3, time.Minute)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	t.Run("allows up to the ceiling", func(t *testing.T) {
		for i := 1; i <= 3; i++ {
			d := l.Allow(ctx, "a")
			assert.True(t, d.Allowed)
			assert.Equal(t, i, d.Count)
			assert.Equal(t, 3-i, d.Remaining)
		}
	})

	t.Run("rejects the next request in the window", func(t *testing.T) {
		now = now.Add(59 * time.Second)
		d := l.Allow(ctx, "a")
		assert.False(t, d.Allowed)
		assert.Equal(t, 0, d.Remaining)
		assert.Equal(t, time.Second, d.RetryAfter(now))
	})

	t.Run("keys are independent", func(t *testing.T) {
		assert.True(t, l.Allow(ctx, "b").Allowed)
	})

	t.Run("first request of a new window is accepted", func(t *testing.T) {
		now = now.Add(time.Second)
		d := l.Allow(ctx, "a")
		assert.True(t, d.Allowed)
		assert.Equal(t, 1, d.Count)
	})
}

func TestWindowLimiterSweepsClosedWindows(t *testing.T) {
	now := time.Date(2025, 5, 10, 9, 0, 0, 0, time.UTC)
	l := NewWindowLimiter(1, time.Minute)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		l.Allow(ctx, fmt.Sprintf("ip-%d", i))
	}
	assert.Equal(t, 10, l.Len())

	now = now.Add(2 * time.Minute)
	l.Allow(ctx, "fresh")
	assert.Equal(t, 1, l.Len())
}

func TestWindowLimiterConcurrentCount(t *testing.T) {
	l := NewWindowLimiter(50, time.Hour)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow(ctx, "same").Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, allowed)
}

func newRedisClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestRedisLimiter(t *testing.T) {
	client, mr := newRedisClient(t)
	l := NewRedisLimiter(client, 2, time.Minute)
	ctx := context.Background()

	assert.True(t, l.Allow(ctx, "login:1.2.3.4").Allowed)
	assert.True(t, l.Allow(ctx, "login:1.2.3.4").Allowed)
	d := l.Allow(ctx, "login:1.2.3.4")
	assert.False(t, d.Allowed)
	assert.Equal(t, 3, d.Count)
	assert.Equal(t, time.Minute, mr.TTL("rl:login:1.2.3.4"))

	mr.FastForward(time.Minute + time.Second)
	d = l.Allow(ctx, "login:1.2.3.4")
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Count)
}

func TestRedisLimiterFallsBackWhenUnavailable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	l := NewRedisLimiter(client, 1, time.Minute)
	ctx := context.Background()
	assert.True(t, l.Allow(ctx, "k").Allowed)
	assert.False(t, l.Allow(ctx, "k").Allowed, "fallback still enforces the ceiling")
}

func TestNewRedisLimiterDefaults(t *testing.T) {
	l := NewRedisLimiter(nil, 0, 0)
	assert.Equal(t, time.Minute, l.Window)
	assert.Equal(t, 1, l.Limit)
	assert.Equal(t, "rl:", l.Prefix)
	require.NotNil(t, l.Fallback)
	assert.True(t, l.Allow(context.Background(), "k").Allowed)
}

func TestRegistry(t *testing.T) {
	cfg := config.RateLimit{
		Backend:   "memory",
		General:   config.Window{Requests: 2, Window: time.Minute},
		Login:     config.Window{Requests: 1, Window: time.Minute},
		Sensitive: config.Window{Requests: 1, Window: time.Minute},
	}
	r := FromConfig(cfg, nil)
	ctx := context.Background()

	assert.True(t, r.Allow(ctx, "1.2.3.4", ClassLogin).Allowed)
	assert.False(t, r.Allow(ctx, "1.2.3.4", ClassLogin).Allowed)

	// the login ceiling does not consume the general budget
	assert.True(t, r.Allow(ctx, "1.2.3.4", ClassGeneral).Allowed)
	assert.True(t, r.Allow(ctx, "1.2.3.4", Class("reports")).Allowed)
	assert.False(t, r.Allow(ctx, "1.2.3.4", ClassGeneral).Allowed)
}

func TestRegistryRedisBackend(t *testing.T) {
	client, mr := newRedisClient(t)
	cfg := config.RateLimit{
		Backend:   "redis",
		General:   config.Window{Requests: 5, Window: time.Minute},
		Login:     config.Window{Requests: 5, Window: time.Minute},
		Sensitive: config.Window{Requests: 5, Window: time.Minute},
	}
	r := FromConfig(cfg, client)
	r.Allow(context.Background(), "u:7", ClassSensitive)
	assert.True(t, mr.Exists("rl:sensitive:u:7"))
}
