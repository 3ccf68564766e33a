package pg

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/examportal/trustcore/shared/domain"
	internal_errors "github.com/examportal/trustcore/shared/errors"
	"github.com/examportal/trustcore/shared/privacy"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var userRowColumns = []string{"id", "email", "role", "college_id", "department_id", "status", "credential_hash",
	"verified_by", "verified_at", "escalated_at", "rejection_reason", "created_at"}

var created = time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)

func newMockStorage(t *testing.T) (*Storage, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db), mock
}

func userRows(status domain.VerificationStatus, role string) *sqlmock.Rows {
	return sqlmock.NewRows(userRowColumns).
		AddRow(7, "f@college.edu", role, 1, 10, string(status), "", nil, nil, nil, "", created)
}

func q(s string) string {
	return regexp.QuoteMeta(s)
}

func TestScanUserNormalizesRole(t *testing.T) {
	s, mock := newMockStorage(t)
	mock.ExpectQuery(q("FROM users WHERE id = $1")).WithArgs(int64(7)).
		WillReturnRows(userRows(domain.StatusPending, "Head of Department"))

	u, err := s.UserById(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleHod, u.Role)
	assert.Equal(t, domain.StatusPending, u.Status)
	assert.Nil(t, u.VerifiedBy)
}

func TestUserNotFound(t *testing.T) {
	s, mock := newMockStorage(t)
	mock.ExpectQuery(q("FROM users WHERE email = $1")).WithArgs("a@x.com").WillReturnError(sql.ErrNoRows)

	_, err := s.UserByEmail(context.Background(), " A@X.com ")
	assert.True(t, internal_errors.IsNotFound(err))
}

func TestVerifyUser(t *testing.T) {
	at := created.Add(time.Hour)

	t.Run("verifies open request", func(t *testing.T) {
		s, mock := newMockStorage(t)
		mock.ExpectBegin()
		mock.ExpectQuery(q("FOR UPDATE")).WithArgs(int64(7)).WillReturnRows(userRows(domain.StatusPending, "faculty"))
		mock.ExpectQuery(q("UPDATE users")).
			WithArgs(int64(7), domain.StatusVerified, "hash", int64(3), at).
			WillReturnRows(sqlmock.NewRows(userRowColumns).
				AddRow(7, "f@college.edu", "faculty", 1, 10, "verified", "hash", 3, at, nil, "", created))
		mock.ExpectCommit()

		var checked domain.User
		u, err := s.VerifyUser(context.Background(), 7, 3, "hash", at, func(u domain.User) error {
			checked = u
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPending, checked.Status)
		assert.Equal(t, domain.StatusVerified, u.Status)
		require.NotNil(t, u.VerifiedBy)
		assert.Equal(t, int64(3), *u.VerifiedBy)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("closed request is a duplicate", func(t *testing.T) {
		s, mock := newMockStorage(t)
		mock.ExpectBegin()
		mock.ExpectQuery(q("FOR UPDATE")).WillReturnRows(userRows(domain.StatusVerified, "faculty"))
		mock.ExpectRollback()

		_, err := s.VerifyUser(context.Background(), 7, 3, "hash", at, nil)
		assert.True(t, internal_errors.IsKind(err, internal_errors.KindDuplicateVerification))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("check error aborts before status check", func(t *testing.T) {
		s, mock := newMockStorage(t)
		mock.ExpectBegin()
		mock.ExpectQuery(q("FOR UPDATE")).WillReturnRows(userRows(domain.StatusVerified, "faculty"))
		mock.ExpectRollback()

		_, err := s.VerifyUser(context.Background(), 7, 3, "hash", at, func(domain.User) error {
			return internal_errors.VerificationNotAuthorized()
		})
		assert.True(t, internal_errors.IsKind(err, internal_errors.KindVerificationNotAuthorized))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing user", func(t *testing.T) {
		s, mock := newMockStorage(t)
		mock.ExpectBegin()
		mock.ExpectQuery(q("FOR UPDATE")).WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		_, err := s.VerifyUser(context.Background(), 7, 3, "hash", at, nil)
		assert.True(t, internal_errors.IsNotFound(err))
	})
}

func TestEscalateUser(t *testing.T) {
	cutoff := created.Add(time.Hour)
	at := created.Add(49 * time.Hour)

	t.Run("changed", func(t *testing.T) {
		s, mock := newMockStorage(t)
		mock.ExpectQuery(q("UPDATE users")).
			WithArgs(int64(7), domain.StatusEscalated, at, domain.StatusPending, cutoff).
			WillReturnRows(userRows(domain.StatusEscalated, "faculty"))

		u, changed, err := s.EscalateUser(context.Background(), 7, cutoff, at)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, domain.StatusEscalated, u.Status)
	})

	t.Run("already escalated", func(t *testing.T) {
		s, mock := newMockStorage(t)
		mock.ExpectQuery(q("UPDATE users")).WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery(q("FROM users WHERE id = $1")).WillReturnRows(userRows(domain.StatusEscalated, "faculty"))

		u, changed, err := s.EscalateUser(context.Background(), 7, cutoff, at)
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, domain.StatusEscalated, u.Status)
	})
}

func TestUsersByStatusAppliesScope(t *testing.T) {
	s, mock := newMockStorage(t)
	scope := privacy.Scope(domain.Authority{UserId: 2, Role: domain.RoleHod, CollegeId: 1, DepartmentId: 10})

	mock.ExpectQuery(q("WHERE status = $1 AND role = ANY($2) AND college_id = $3 AND department_id = $4")).
		WithArgs(domain.StatusPending, sqlmock.AnyArg(), int64(1), int64(10)).
		WillReturnRows(userRows(domain.StatusPending, "faculty"))

	users, err := s.UsersByStatus(context.Background(), domain.StatusPending, []domain.Role{domain.RoleFaculty}, scope)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, domain.RoleFaculty, users[0].Role)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUsersByStatusDeny(t *testing.T) {
	s, mock := newMockStorage(t)
	mock.ExpectQuery(q("AND FALSE")).WillReturnRows(sqlmock.NewRows(userRowColumns))

	users, err := s.UsersByStatus(context.Background(), domain.StatusPending, []domain.Role{domain.RoleFaculty}, privacy.Deny)
	require.NoError(t, err)
	assert.Empty(t, users)

	// No roles means no query at all.
	users, err = s.UsersByStatus(context.Background(), domain.StatusPending, nil, privacy.Deny)
	require.NoError(t, err)
	assert.Empty(t, users)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertAssignment(t *testing.T) {
	day := time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC)
	a := domain.Assignment{Id: "a-1", ExamId: 5, FacultyId: 7, CollegeId: 2, ExamDate: day, ExamTime: "10:00", Duty: "invigilator", AssignedBy: 3, CreatedAt: created}
	factsColumns := []string{"unavailable", "assigned", "open"}

	t.Run("runs check on fresh facts", func(t *testing.T) {
		s, mock := newMockStorage(t)
		mock.ExpectBegin()
		mock.ExpectQuery(q("FOR UPDATE")).WithArgs(int64(7)).WillReturnRows(userRows(domain.StatusVerified, "faculty"))
		mock.ExpectQuery(q("EXISTS")).WithArgs(int64(7), "2025-05-10", domain.AssignmentCancelled, domain.AssignmentOpen).
			WillReturnRows(sqlmock.NewRows(factsColumns).AddRow(true, false, 2))
		mock.ExpectRollback()

		_, err := s.InsertAssignment(context.Background(), a, func(f domain.ConflictFacts) error {
			assert.True(t, f.DeclaredUnavailable)
			assert.Equal(t, 2, f.OpenAssignments)
			return internal_errors.AssignmentConflict(domain.ConflictDeclaredUnavailable)
		})
		assert.True(t, internal_errors.IsKind(err, internal_errors.KindAssignmentConflict))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("day index violation is a conflict", func(t *testing.T) {
		s, mock := newMockStorage(t)
		mock.ExpectBegin()
		mock.ExpectQuery(q("FOR UPDATE")).WillReturnRows(userRows(domain.StatusVerified, "faculty"))
		mock.ExpectQuery(q("EXISTS")).WillReturnRows(sqlmock.NewRows(factsColumns).AddRow(false, false, 0))
		mock.ExpectQuery(q("INSERT INTO assignments")).
			WillReturnError(&pq.Error{Code: "23505", Constraint: "assignments_faculty_day_key"})
		mock.ExpectRollback()

		_, err := s.InsertAssignment(context.Background(), a, nil)
		e, ok := internal_errors.Typed(err)
		require.True(t, ok)
		assert.Equal(t, []string{string(domain.ConflictAlreadyAssigned)}, e.Reasons)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("driver failure stays untyped", func(t *testing.T) {
		s, mock := newMockStorage(t)
		mock.ExpectBegin()
		mock.ExpectQuery(q("FOR UPDATE")).WillReturnError(errors.New("connection reset"))
		mock.ExpectRollback()

		_, err := s.InsertAssignment(context.Background(), a, nil)
		assert.Equal(t, internal_errors.KindStorageFailure, internal_errors.KindOf(err))
	})
}

func TestRemoveIPMissing(t *testing.T) {
	s, mock := newMockStorage(t)
	mock.ExpectExec(q("DELETE FROM ip_blacklist")).WithArgs("1.2.3.4").WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.RemoveIP(context.Background(), "1.2.3.4")
	assert.True(t, internal_errors.IsNotFound(err))
}

func TestPurgeLoginAttempts(t *testing.T) {
	s, mock := newMockStorage(t)
	before := created
	mock.ExpectExec(q("DELETE FROM login_attempts")).WithArgs(before).WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := s.PurgeLoginAttempts(context.Background(), before)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}

func TestInsertAuditEventAnonymous(t *testing.T) {
	s, mock := newMockStorage(t)
	mock.ExpectExec(q("INSERT INTO audit_events")).
		WithArgs("e-1", domain.AuditCsrfInvalid, nil, "1.2.3.4", "ref", "", created).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.InsertAuditEvent(context.Background(), domain.AuditEvent{Id: "e-1", Kind: domain.AuditCsrfInvalid, IP: "1.2.3.4", SessionRef: "ref", CreatedAt: created})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
