package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/examportal/trustcore/shared/domain"
	internal_errors "github.com/examportal/trustcore/shared/errors"
)

// =========================================================================
// Public Methods (satisfy the service.BlacklistStorage interface)
// =========================================================================

// BlacklistIP inserts or refreshes an entry. A nil ExpiresAt blocks indefinitely.
func (s *Storage) BlacklistIP(ctx context.Context, e domain.IPBlacklistEntry) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return s.blacklistIP(ctx, s.db, e)
}

// RemoveIP deletes an entry; a missing entry is NotFound.
func (s *Storage) RemoveIP(ctx context.Context, ip domain.IP) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return s.removeIP(ctx, s.db, ip)
}

// RecordLoginAttempt appends one attempt to the login log.
func (s *Storage) RecordLoginAttempt(ctx context.Context, a domain.LoginAttempt) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO login_attempts (ip, account, success, attempted_at)
		VALUES ($1, $2, $3, $4)`,
		a.IP, a.Account, a.Success, a.AttemptedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record login attempt: %w", err)
	}
	return nil
}

// PurgeLoginAttempts drops attempts older than before.
func (s *Storage) PurgeLoginAttempts(ctx context.Context, before time.Time) (int64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `DELETE FROM login_attempts WHERE attempted_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge login attempts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged login attempts: %w", err)
	}
	return n, nil
}

// InsertAuditEvent appends one security event.
func (s *Storage) InsertAuditEvent(ctx context.Context, e domain.AuditEvent) error {
	var userId *domain.UserId
	if e.UserId != 0 {
		userId = &e.UserId
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, kind, user_id, ip, session_ref, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.Id, e.Kind, userId, e.IP, e.SessionRef, e.Detail, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// =========================================================================
// Internal Methods (Core Database Logic)
// =========================================================================

func (s *Storage) blacklistIP(ctx context.Context, q Querier, e domain.IPBlacklistEntry) error {
	// Re-banning an address replaces the reason and moves the expiry.
	_, err := q.ExecContext(ctx, `
		INSERT INTO ip_blacklist (ip, reason, blacklisted_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (ip)
		DO UPDATE SET
			reason = EXCLUDED.reason,
			blacklisted_at = EXCLUDED.blacklisted_at,
			expires_at = EXCLUDED.expires_at`,
		e.IP, e.Reason, e.BlacklistedAt, e.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to blacklist ip: %w", err)
	}
	return nil
}

func (s *Storage) removeIP(ctx context.Context, q Querier, ip domain.IP) error {
	res, err := q.ExecContext(ctx, `DELETE FROM ip_blacklist WHERE ip = $1`, ip)
	if err != nil {
		return fmt.Errorf("failed to remove ip from blacklist: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return internal_errors.NotFound("IP is not blacklisted")
	}
	return nil
}
