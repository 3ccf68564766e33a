package ratelimiter

import (
	"context"

	"github.com/examportal/trustcore/shared/config"
	"github.com/redis/go-redis/v9"
)

// Class groups endpoints that share a ceiling.
type Class string

const (
	ClassGeneral   Class = "general"
	ClassLogin     Class = "login"
	ClassSensitive Class = "sensitive"
)

// Registry routes (identity, class) pairs to the limiter for that class.
type Registry struct {
	limiters map[Class]Limiter
}

func NewRegistry(limiters map[Class]Limiter) *Registry {
	return &Registry{limiters: limiters}
}

// FromConfig builds the three classes on the configured backend. A nil client
// always selects the in-process limiter.
func FromConfig(cfg config.RateLimit, client *redis.Client) *Registry {
	build := func(w config.Window) Limiter {
		if cfg.Backend == "redis" && client != nil {
			return NewRedisLimiter(client, w.Requests, w.Window)
		}
		return NewWindowLimiter(w.Requests, w.Window)
	}
	return NewRegistry(map[Class]Limiter{
		ClassGeneral:   build(cfg.General),
		ClassLogin:     build(cfg.Login),
		ClassSensitive: build(cfg.Sensitive),
	})
}

// Allow counts one request. Unregistered classes share the general limiter.
func (r *Registry) Allow(ctx context.Context, identity string, class Class) Decision {
	l, ok := r.limiters[class]
	if !ok {
		class = ClassGeneral
		l = r.limiters[ClassGeneral]
	}
	if l == nil {
		return Decision{Allowed: true}
	}
	return l.Allow(ctx, string(class)+":"+identity)
}
