package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/examportal/trustcore/shared/domain"
	"github.com/examportal/trustcore/shared/errors"
	"github.com/examportal/trustcore/shared/middleware/metrics"
	"github.com/examportal/trustcore/shared/ratelimiter"
	"github.com/examportal/trustcore/shared/utils"
)

type Limiter interface {
	Allow(ctx context.Context, identity string, class ratelimiter.Class) ratelimiter.Decision
}

// BlacklistCache interface defines methods needed by rate limit middleware
type BlacklistCache interface {
	IsBlacklisted(ip domain.IP) bool
}

// RateLimit checks the IP blacklist first, without counting, then the window for
// (identity, class).
func RateLimit(rl Limiter, blacklist BlacklistCache, class ratelimiter.Class, getIdentity func(r *http.Request) (string, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if blacklist != nil {
				if ip, err := GetIP(r); err == nil && blacklist.IsBlacklisted(ip) {
					metrics.RateLimitRejected(string(class), "blacklisted")
					utils.WriteErrorAndStatusCode(w, errors.IpBlacklisted())
					return
				}
			}

			identity, err := getIdentity(r)
			if err != nil {
				utils.WriteErrorAndStatusCode(w, err)
				return
			}

			d := rl.Allow(r.Context(), identity, class)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			if !d.Allowed {
				retry := int(math.Ceil(d.RetryAfter(time.Now()).Seconds()))
				if retry < 1 {
					retry = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				metrics.RateLimitRejected(string(class), "limit")
				utils.WriteErrorAndStatusCode(w, errors.RateLimitExceeded())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GetIP extracts the client IP. Forwarding headers count only from the proxies
// registered with utils.SetTrustedProxies.
func GetIP(r *http.Request) (string, error) {
	ip, err := utils.GetIP(r)
	if err != nil {
		return "", errors.Validation("Can't determine client address")
	}
	return ip, nil
}

// GetUserOrIP keys authenticated callers by user id and anonymous ones by IP.
func GetUserOrIP(r *http.Request) (string, error) {
	if a := GetAuthorityFromContext(r); a.Authenticated() {
		return fmt.Sprintf("user_%d", a.UserId), nil
	}
	ip, err := GetIP(r)
	if err != nil {
		return "", err
	}
	return "ip_" + ip, nil
}
