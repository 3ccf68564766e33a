package service

import (
	"context"
	"net"
	"time"

	"github.com/examportal/trustcore/backend/internal/service/utils"
	"github.com/examportal/trustcore/shared/blacklist"
	"github.com/examportal/trustcore/shared/domain"
	"github.com/examportal/trustcore/shared/errors"
	"github.com/examportal/trustcore/shared/lockout"
	"github.com/examportal/trustcore/shared/logger"
)

type BlacklistService interface {
	BanIP(ctx context.Context, ip domain.IP, reason string, duration time.Duration) error
	UnbanIP(ctx context.Context, ip domain.IP) error
	Entries(ctx context.Context) ([]domain.IPBlacklistEntry, error)
	RefreshCache(ctx context.Context) error
}

type BlacklistStorage interface {
	BlacklistIP(ctx context.Context, e domain.IPBlacklistEntry) error
	RemoveIP(ctx context.Context, ip domain.IP) error
	ActiveIPBlacklist(ctx context.Context, now time.Time) ([]domain.IPBlacklistEntry, error)
}

// Blacklist writes through to storage and the in-process cache so a ban takes
// effect on this instance before the next cache refresh.
type Blacklist struct {
	storage BlacklistStorage
	cache   *blacklist.Cache
	now     func() time.Time
}

var _ lockout.IPBanner = (*Blacklist)(nil)

func NewBlacklist(storage BlacklistStorage, cache *blacklist.Cache) *Blacklist {
	return &Blacklist{storage: storage, cache: cache, now: time.Now}
}

// BanIP blocks ip for duration, or indefinitely when duration is zero.
func (b *Blacklist) BanIP(ctx context.Context, ip domain.IP, reason string, duration time.Duration) error {
	if net.ParseIP(ip) == nil {
		return errors.Validation("Invalid IP address")
	}
	if duration < 0 {
		return errors.Validation("Duration must not be negative")
	}
	now := b.now().UTC()
	e := domain.IPBlacklistEntry{IP: ip, Reason: utils.SanitizeText(reason, maxNoteLen), BlacklistedAt: now}
	if duration > 0 {
		expires := now.Add(duration)
		e.ExpiresAt = &expires
	}
	if err := b.storage.BlacklistIP(ctx, e); err != nil {
		return err
	}
	b.cache.Put(e)
	logger.Log.Info("ip blacklisted", "component", "blacklist_cache", "ip", ip, "duration", duration)
	return nil
}

func (b *Blacklist) UnbanIP(ctx context.Context, ip domain.IP) error {
	if err := b.storage.RemoveIP(ctx, ip); err != nil {
		return err
	}
	b.cache.Remove(ip)
	logger.Log.Info("ip removed from blacklist", "component", "blacklist_cache", "ip", ip)
	return nil
}

func (b *Blacklist) Entries(ctx context.Context) ([]domain.IPBlacklistEntry, error) {
	entries, err := b.storage.ActiveIPBlacklist(ctx, b.now().UTC())
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []domain.IPBlacklistEntry{}
	}
	return entries, nil
}

func (b *Blacklist) RefreshCache(ctx context.Context) error {
	return b.cache.Update(ctx)
}
