package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/examportal/trustcore/shared/domain"
	internal_errors "github.com/examportal/trustcore/shared/errors"
	"github.com/examportal/trustcore/shared/privacy"
	"github.com/examportal/trustcore/shared/roles"
	sharedpg "github.com/examportal/trustcore/shared/storage/pg"
	"github.com/lib/pq"
)

const userColumns = `id, email, role, college_id, department_id, status, credential_hash,
	verified_by, verified_at, escalated_at, rejection_reason, created_at`

// userScope maps privacy predicates onto the users table.
var userScope = privacy.Columns{
	Subject:    "id",
	College:    "college_id",
	Department: "department_id",
	Status:     "status",
}

// =========================================================================
// Public Methods (satisfy the service storage interfaces)
// =========================================================================

// CreateUser stores a new pending user and returns its id.
func (s *Storage) CreateUser(ctx context.Context, u domain.User) (domain.UserId, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var id domain.UserId
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = s.createUser(ctx, tx, u)
		return err
	})
	return id, err
}

// UserByEmail fetches a user by lowercased email.
func (s *Storage) UserByEmail(ctx context.Context, email domain.Email) (domain.User, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return s.userBy(ctx, s.db, "email", strings.ToLower(strings.TrimSpace(email)))
}

func (s *Storage) UserById(ctx context.Context, id domain.UserId) (domain.User, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return s.userBy(ctx, s.db, "id", id)
}

// UsersByStatus lists users in status whose role is one of rs, restricted to scope.
func (s *Storage) UsersByStatus(ctx context.Context, status domain.VerificationStatus, rs []domain.Role, scope privacy.PredicateSet) ([]domain.User, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return s.usersByStatus(ctx, s.db, status, rs, scope)
}

// VerifyUser locks the target row and runs check on it; a non-nil error aborts
// the transaction. An open request then moves to verified with the given
// credential hash. Closed requests fail with DuplicateVerification.
func (s *Storage) VerifyUser(ctx context.Context, id, verifier domain.UserId, credentialHash string, at time.Time, check func(domain.User) error) (domain.User, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var out domain.User
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		u, err := s.lockOpenUser(ctx, tx, id, check)
		if err != nil {
			return err
		}
		out, err = s.scanUser(tx.QueryRowContext(ctx, `
			UPDATE users
			SET status = $2, credential_hash = $3, verified_by = $4, verified_at = $5
			WHERE id = $1
			RETURNING `+userColumns,
			u.Id, domain.StatusVerified, credentialHash, verifier, at,
		))
		if err != nil {
			return fmt.Errorf("failed to verify user: %w", err)
		}
		return nil
	})
	return out, err
}

// RejectUser closes an open request as rejected.
func (s *Storage) RejectUser(ctx context.Context, id, verifier domain.UserId, reason string, at time.Time, check func(domain.User) error) (domain.User, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var out domain.User
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		u, err := s.lockOpenUser(ctx, tx, id, check)
		if err != nil {
			return err
		}
		out, err = s.scanUser(tx.QueryRowContext(ctx, `
			UPDATE users
			SET status = $2, rejection_reason = $3, verified_by = $4, verified_at = $5
			WHERE id = $1
			RETURNING `+userColumns,
			u.Id, domain.StatusRejected, reason, verifier, at,
		))
		if err != nil {
			return fmt.Errorf("failed to reject user: %w", err)
		}
		return nil
	})
	return out, err
}

// EscalateUser moves one pending request created at or before cutoff to
// escalated. changed is false when the row was not eligible, which includes
// requests that are already escalated.
func (s *Storage) EscalateUser(ctx context.Context, id domain.UserId, cutoff, at time.Time) (u domain.User, changed bool, err error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	u, err = s.scanUser(s.db.QueryRowContext(ctx, `
		UPDATE users
		SET status = $2, escalated_at = $3
		WHERE id = $1 AND status = $4 AND created_at <= $5
		RETURNING `+userColumns,
		id, domain.StatusEscalated, at, domain.StatusPending, cutoff,
	))
	if err == nil {
		return u, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, false, fmt.Errorf("failed to escalate user: %w", err)
	}
	u, err = s.userBy(ctx, s.db, "id", id)
	return u, false, err
}

// EscalateOverdue escalates every pending request created at or before cutoff
// and returns the rows it changed.
func (s *Storage) EscalateOverdue(ctx context.Context, cutoff, at time.Time) ([]domain.User, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		UPDATE users
		SET status = $1, escalated_at = $2
		WHERE status = $3 AND created_at <= $4
		RETURNING `+userColumns,
		domain.StatusEscalated, at, domain.StatusPending, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to escalate overdue users: %w", err)
	}
	return s.collectUsers(rows)
}

// =========================================================================
// Internal Methods (Core Database Logic)
// These methods accept a Querier and are transaction-agnostic.
// =========================================================================

func (s *Storage) createUser(ctx context.Context, q Querier, u domain.User) (domain.UserId, error) {
	status := u.Status
	if status == "" {
		status = domain.StatusPending
	}
	var id domain.UserId
	err := q.QueryRowContext(ctx, `
		INSERT INTO users (email, role, college_id, department_id, status, credential_hash)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		strings.ToLower(strings.TrimSpace(u.Email)), roles.Normalize(string(u.Role)), u.CollegeId, u.DepartmentId, status, u.CredentialHash,
	).Scan(&id)
	if sharedpg.IsUniqueViolation(err, "") {
		return 0, internal_errors.Validation("User with this email already exists")
	}
	if err != nil {
		return 0, fmt.Errorf("failed to insert user: %w", err)
	}
	return id, nil
}

// userBy loads one user; column is a trusted literal.
func (s *Storage) userBy(ctx context.Context, q Querier, column string, value any) (domain.User, error) {
	u, err := s.scanUser(q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+column+` = $1`, value))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, internal_errors.NotFound("User not found")
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("failed to query user: %w", err)
	}
	return u, nil
}

func (s *Storage) lockOpenUser(ctx context.Context, q Querier, id domain.UserId, check func(domain.User) error) (domain.User, error) {
	u, err := s.scanUser(q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, internal_errors.NotFound("User not found")
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("failed to lock user: %w", err)
	}
	if check != nil {
		if err := check(u); err != nil {
			return domain.User{}, err
		}
	}
	if !u.Status.Open() {
		return domain.User{}, internal_errors.DuplicateVerification()
	}
	return u, nil
}

func (s *Storage) usersByStatus(ctx context.Context, q Querier, status domain.VerificationStatus, rs []domain.Role, scope privacy.PredicateSet) ([]domain.User, error) {
	if len(rs) == 0 {
		return nil, nil
	}
	names := make([]string, len(rs))
	for i, r := range rs {
		names[i] = string(r)
	}
	where, args := scope.SQL(userScope, 2)
	rows, err := q.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE status = $1 AND role = ANY($2) AND `+where+`
		ORDER BY created_at, id`,
		append([]any{status, pq.Array(names)}, args...)...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query users by status: %w", err)
	}
	return s.collectUsers(rows)
}

func (s *Storage) collectUsers(rows *sql.Rows) ([]domain.User, error) {
	defer rows.Close()
	var users []domain.User
	for rows.Next() {
		u, err := s.scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}
	return users, nil
}

func (s *Storage) scanUser(row scanner) (domain.User, error) {
	var (
		u           domain.User
		role        string
		status      string
		verifiedBy  sql.NullInt64
		verifiedAt  sql.NullTime
		escalatedAt sql.NullTime
	)
	err := row.Scan(&u.Id, &u.Email, &role, &u.CollegeId, &u.DepartmentId, &status, &u.CredentialHash,
		&verifiedBy, &verifiedAt, &escalatedAt, &u.RejectionReason, &u.CreatedAt)
	if err != nil {
		return domain.User{}, err
	}
	u.Role = roles.Normalize(role)
	u.Status = domain.VerificationStatus(status)
	if verifiedBy.Valid {
		v := verifiedBy.Int64
		u.VerifiedBy = &v
	}
	if verifiedAt.Valid {
		t := verifiedAt.Time
		u.VerifiedAt = &t
	}
	if escalatedAt.Valid {
		t := escalatedAt.Time
		u.EscalatedAt = &t
	}
	return u, nil
}
