// Package lockout enforces the login brute-force policy: per-account lockout after
// consecutive failures and per-IP blacklisting past a higher threshold.
package lockout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/examportal/trustcore/shared/domain"
	"github.com/examportal/trustcore/shared/logger"
)

// IPBanner puts an address on the blacklist.
type IPBanner interface {
	BanIP(ctx context.Context, ip domain.IP, reason string, duration time.Duration) error
}

// AttemptLog persists every attempt for later review.
type AttemptLog interface {
	RecordLoginAttempt(ctx context.Context, a domain.LoginAttempt) error
	PurgeLoginAttempts(ctx context.Context, before time.Time) (int64, error)
}

type Auditor interface {
	Record(ctx context.Context, e domain.AuditEvent)
}

type Config struct {
	MaxFailures   int
	Window        time.Duration
	LockDuration  time.Duration
	IPThreshold   int
	IPBanDuration time.Duration
	Retention     time.Duration
}

// Outcome reports what a recorded attempt triggered.
type Outcome struct {
	Locked      bool
	LockedUntil time.Time
	IPBanned    bool
}

// Guard applies the lockout policy over a Counters backend.
type Guard struct {
	cfg      Config
	counters Counters
	banner   IPBanner
	attempts AttemptLog
	auditor  Auditor
	now      func() time.Time
}

// New keeps counters in memory when counters is nil.
func New(cfg Config, counters Counters, banner IPBanner, attempts AttemptLog, auditor Auditor) *Guard {
	if counters == nil {
		counters = NewMemoryCounters(cfg)
	}
	return &Guard{
		cfg:      cfg,
		counters: counters,
		banner:   banner,
		attempts: attempts,
		auditor:  auditor,
		now:      time.Now,
	}
}

func normalizeAccount(a string) string {
	return strings.ToLower(strings.TrimSpace(a))
}

// RecordLoginOutcome counts one attempt. A success clears the account's failure
// streak; per-IP failures are kept until they age out of the window.
func (g *Guard) RecordLoginOutcome(ctx context.Context, ip domain.IP, acct string, success bool) Outcome {
	acct = normalizeAccount(acct)
	now := g.now()

	var out Outcome
	if success {
		g.counters.ResetAccount(ctx, now, acct)
	} else {
		out = g.counters.RecordFailure(ctx, now, ip, acct)
	}

	g.persist(ctx, domain.LoginAttempt{IP: ip, Account: acct, Success: success, AttemptedAt: now})

	if out.Locked {
		logger.Log.Warn("account locked", "component", "lockout", "account", acct, "ip", ip, "until", out.LockedUntil)
		g.audit(ctx, domain.AuditEvent{
			Kind:   domain.AuditAccountLocked,
			IP:     ip,
			Detail: fmt.Sprintf("account %s locked until %s", acct, out.LockedUntil.Format(time.RFC3339)),
		})
	}
	if out.IPBanned {
		g.ban(ctx, ip)
	}
	return out
}

func (g *Guard) IsLocked(ctx context.Context, acct string) bool {
	return g.LockedUntil(ctx, acct).After(g.now())
}

// LockedUntil is the zero time when the account is not locked.
func (g *Guard) LockedUntil(ctx context.Context, acct string) time.Time {
	return g.counters.LockedUntil(ctx, g.now(), normalizeAccount(acct))
}

// Purge forgets state that no longer affects any decision and trims the attempt
// log to the retention period.
func (g *Guard) Purge(ctx context.Context) {
	now := g.now()
	g.counters.Purge(now)

	if g.attempts == nil || g.cfg.Retention <= 0 {
		return
	}
	n, err := g.attempts.PurgeLoginAttempts(ctx, now.Add(-g.cfg.Retention))
	if err != nil {
		logger.Log.Error("failed to purge login attempts", "component", "lockout", "error", err)
		return
	}
	if n > 0 {
		logger.Log.Info("purged login attempts", "component", "lockout", "count", n)
	}
}

func (g *Guard) StartBackgroundPurge(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				g.Purge(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (g *Guard) ban(ctx context.Context, ip domain.IP) {
	logger.Log.Warn("blacklisting ip after repeated login failures", "component", "lockout", "ip", ip, "duration", g.cfg.IPBanDuration)
	if g.banner != nil {
		reason := fmt.Sprintf("%d failed logins within %s", g.cfg.IPThreshold, g.cfg.Window)
		if err := g.banner.BanIP(ctx, ip, reason, g.cfg.IPBanDuration); err != nil {
			logger.Log.Error("failed to blacklist ip", "component", "lockout", "ip", ip, "error", err)
		}
	}
	g.audit(ctx, domain.AuditEvent{Kind: domain.AuditIPBlacklisted, IP: ip, Detail: "login failure threshold"})
}

func (g *Guard) persist(ctx context.Context, a domain.LoginAttempt) {
	if g.attempts == nil {
		return
	}
	if err := g.attempts.RecordLoginAttempt(ctx, a); err != nil {
		logger.Log.Error("failed to record login attempt", "component", "lockout", "error", err)
	}
}

func (g *Guard) audit(ctx context.Context, e domain.AuditEvent) {
	if g.auditor != nil {
		g.auditor.Record(ctx, e)
	}
}
