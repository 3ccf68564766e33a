package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/examportal/trustcore/shared/blacklist"
	"github.com/examportal/trustcore/shared/domain"
	"github.com/examportal/trustcore/shared/storage/pg"
)

// Storage provides the read queries shared by every service that embeds the
// trust core: blacklist cache population and readiness checks.
type Storage struct {
	db pg.Querier
}

// Interface satisfaction checks - compile-time verification
var _ blacklist.BlacklistCacheStorage = (*Storage)(nil)

func New(db pg.Querier) *Storage {
	return &Storage{db: db}
}

// ActiveIPBlacklist returns entries that have no expiry or expire after now.
func (s *Storage) ActiveIPBlacklist(ctx context.Context, now time.Time) ([]domain.IPBlacklistEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT ip, reason, blacklisted_at, expires_at
		FROM ip_blacklist
		WHERE expires_at IS NULL OR expires_at > $1
		ORDER BY blacklisted_at DESC`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query ip blacklist: %w", err)
	}
	defer rows.Close()

	var entries []domain.IPBlacklistEntry
	for rows.Next() {
		var (
			e         domain.IPBlacklistEntry
			expiresAt sql.NullTime
		)
		if err := rows.Scan(&e.IP, &e.Reason, &e.BlacklistedAt, &expiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan ip blacklist row: %w", err)
		}
		if expiresAt.Valid {
			t := expiresAt.Time
			e.ExpiresAt = &t
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ip blacklist: %w", err)
	}
	return entries, nil
}

// Ping verifies the database answers.
func (s *Storage) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}
