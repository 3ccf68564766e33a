package blacklist

import (
	"context"
	"sync"
	"time"

	"github.com/examportal/trustcore/shared/domain"
	"github.com/examportal/trustcore/shared/logger"
)

// BlacklistCacheStorage defines the minimal database operations needed for cache updates.
// Admin operations (blacklist/unblacklist) belong in backend-specific storage.
type BlacklistCacheStorage interface {
	ActiveIPBlacklist(ctx context.Context, now time.Time) ([]domain.IPBlacklistEntry, error)
}

// Cache answers "is this IP blacklisted" without touching the database on the
// request path.
type Cache struct {
	storage        BlacklistCacheStorage
	cache          map[domain.IP]domain.IPBlacklistEntry
	mu             sync.RWMutex
	lastUpdateTime time.Time
	now            func() time.Time
}

func NewCache(storage BlacklistCacheStorage) *Cache {
	return &Cache{
		storage: storage,
		cache:   make(map[domain.IP]domain.IPBlacklistEntry),
		now:     time.Now,
	}
}

// Update fetches active entries from the database and atomically replaces the cache.
func (bc *Cache) Update(ctx context.Context) error {
	entries, err := bc.storage.ActiveIPBlacklist(ctx, bc.now())
	if err != nil {
		return err
	}

	newCache := make(map[domain.IP]domain.IPBlacklistEntry, len(entries))
	for _, e := range entries {
		newCache[e.IP] = e
	}

	bc.mu.Lock()
	bc.cache = newCache
	bc.lastUpdateTime = bc.now()
	bc.mu.Unlock()

	logger.Log.Info("blacklist cache updated",
		"component", "blacklist_cache",
		"entries", len(newCache))
	return nil
}

// Put makes an entry effective on this instance before the next refresh.
func (bc *Cache) Put(e domain.IPBlacklistEntry) {
	bc.mu.Lock()
	bc.cache[e.IP] = e
	bc.mu.Unlock()
}

func (bc *Cache) Remove(ip domain.IP) {
	bc.mu.Lock()
	delete(bc.cache, ip)
	bc.mu.Unlock()
}

// IsBlacklisted honours entry expiry; entries without one never lapse.
func (bc *Cache) IsBlacklisted(ip domain.IP) bool {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	e, ok := bc.cache[ip]
	return ok && e.Active(bc.now())
}

func (bc *Cache) Entries() []domain.IPBlacklistEntry {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	now := bc.now()
	out := make([]domain.IPBlacklistEntry, 0, len(bc.cache))
	for _, e := range bc.cache {
		if e.Active(now) {
			out = append(out, e)
		}
	}
	return out
}

// StartBackgroundUpdate starts a background goroutine that periodically refreshes
// the blacklist cache.
func (bc *Cache) StartBackgroundUpdate(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	logger.Log.Info("started blacklist cache background updates",
		"component", "blacklist_cache",
		"interval", interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := bc.Update(ctx); err != nil {
					logger.Log.Error("blacklist cache update failed",
						"component", "blacklist_cache",
						"error", err)
				}
			case <-ctx.Done():
				logger.Log.Info("blacklist cache shutting down gracefully",
					"component", "blacklist_cache")
				return
			}
		}
	}()
}
