package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/examportal/trustcore/shared/domain"
	internal_errors "github.com/examportal/trustcore/shared/errors"
	"github.com/examportal/trustcore/shared/privacy"
	sharedpg "github.com/examportal/trustcore/shared/storage/pg"
)

const (
	assignmentColumns = `id, exam_id, faculty_id, college_id, department_id, exam_date, exam_time,
	duty, status, assigned_by, created_at`

	// assignmentDayKey is the partial unique index on (faculty_id, exam_date).
	assignmentDayKey = "assignments_faculty_day_key"
)

var assignmentScope = privacy.Columns{
	Subject:    "faculty_id",
	College:    "college_id",
	Department: "department_id",
}

// =========================================================================
// Public Methods (satisfy the service.AssignmentStorage interface)
// =========================================================================

// ConflictFacts loads what is known about one faculty member on day.
func (s *Storage) ConflictFacts(ctx context.Context, facultyId domain.UserId, day time.Time) (domain.ConflictFacts, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	u, err := s.userBy(ctx, s.db, "id", facultyId)
	if err != nil {
		return domain.ConflictFacts{}, err
	}
	return s.factsFor(ctx, s.db, u, day)
}

// CandidateFacts loads facts for every verified user with one of rs inside scope.
func (s *Storage) CandidateFacts(ctx context.Context, rs []domain.Role, scope privacy.PredicateSet, day time.Time) ([]domain.ConflictFacts, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	users, err := s.usersByStatus(ctx, s.db, domain.StatusVerified, rs, scope)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ConflictFacts, 0, len(users))
	for _, u := range users {
		f, err := s.factsFor(ctx, s.db, u, day)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// InsertAssignment locks the faculty row, hands fresh facts to check, and
// inserts a. The partial unique index decides races that slip past check.
func (s *Storage) InsertAssignment(ctx context.Context, a domain.Assignment, check func(domain.ConflictFacts) error) (domain.Assignment, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var out domain.Assignment
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		u, err := s.scanUser(tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, a.FacultyId))
		if errors.Is(err, sql.ErrNoRows) {
			return internal_errors.NotFound("Faculty not found")
		}
		if err != nil {
			return fmt.Errorf("failed to lock faculty: %w", err)
		}
		facts, err := s.factsFor(ctx, tx, u, a.ExamDate)
		if err != nil {
			return err
		}
		if check != nil {
			if err := check(facts); err != nil {
				return err
			}
		}
		a.DepartmentId = u.DepartmentId
		out, err = s.insertAssignment(ctx, tx, a)
		return err
	})
	return out, err
}

// Assignments lists assignments visible under scope, newest exam first.
func (s *Storage) Assignments(ctx context.Context, scope privacy.PredicateSet) ([]domain.Assignment, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	where, args := scope.SQL(assignmentScope, 0)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+assignmentColumns+`
		FROM assignments
		WHERE `+where+`
		ORDER BY exam_date DESC, created_at DESC`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query assignments: %w", err)
	}
	defer rows.Close()

	var out []domain.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating assignments: %w", err)
	}
	return out, nil
}

// =========================================================================
// Internal Methods (Core Database Logic)
// =========================================================================

func (s *Storage) factsFor(ctx context.Context, q Querier, u domain.User, day time.Time) (domain.ConflictFacts, error) {
	f := domain.ConflictFacts{Faculty: u}
	err := q.QueryRowContext(ctx, `
		SELECT
			EXISTS (SELECT 1 FROM availability WHERE faculty_id = $1 AND unavailable_on = $2::date),
			EXISTS (SELECT 1 FROM assignments WHERE faculty_id = $1 AND exam_date = $2::date AND status <> $3),
			(SELECT COUNT(*) FROM assignments WHERE faculty_id = $1 AND status = $4)`,
		u.Id, domain.Day(day).Format(domain.DateLayout), domain.AssignmentCancelled, domain.AssignmentOpen,
	).Scan(&f.DeclaredUnavailable, &f.AssignedThatDay, &f.OpenAssignments)
	if err != nil {
		return domain.ConflictFacts{}, fmt.Errorf("failed to query conflict facts: %w", err)
	}
	return f, nil
}

func (s *Storage) insertAssignment(ctx context.Context, q Querier, a domain.Assignment) (domain.Assignment, error) {
	out, err := scanAssignment(q.QueryRowContext(ctx, `
		INSERT INTO assignments (id, exam_id, faculty_id, college_id, department_id, exam_date, exam_time, duty, status, assigned_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6::date, $7, $8, $9, $10, $11)
		RETURNING `+assignmentColumns,
		a.Id, a.ExamId, a.FacultyId, a.CollegeId, a.DepartmentId, domain.Day(a.ExamDate).Format(domain.DateLayout),
		a.ExamTime, a.Duty, domain.AssignmentOpen, a.AssignedBy, a.CreatedAt,
	))
	if sharedpg.IsUniqueViolation(err, assignmentDayKey) {
		return domain.Assignment{}, internal_errors.AssignmentConflict(domain.ConflictAlreadyAssigned)
	}
	if err != nil {
		return domain.Assignment{}, fmt.Errorf("failed to insert assignment: %w", err)
	}
	return out, nil
}

func scanAssignment(row scanner) (domain.Assignment, error) {
	var (
		a      domain.Assignment
		status string
	)
	if err := row.Scan(&a.Id, &a.ExamId, &a.FacultyId, &a.CollegeId, &a.DepartmentId, &a.ExamDate,
		&a.ExamTime, &a.Duty, &status, &a.AssignedBy, &a.CreatedAt); err != nil {
		return domain.Assignment{}, err
	}
	a.Status = domain.AssignmentStatus(status)
	a.ExamDate = domain.Day(a.ExamDate)
	return a, nil
}
