package service

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/examportal/trustcore/backend/internal/service/utils"
	"github.com/examportal/trustcore/shared/domain"
	"github.com/examportal/trustcore/shared/errors"
	"github.com/examportal/trustcore/shared/logger"
	"github.com/examportal/trustcore/shared/privacy"
	"github.com/examportal/trustcore/shared/roles"
	"github.com/google/uuid"
)

const maxNoteLen = 500

var (
	// coordinatorRoles may check and create assignments.
	coordinatorRoles = []domain.Role{domain.RoleAdmin, domain.RolePrincipal, domain.RoleVicePrincipal, domain.RoleHod}
	// overrideRoles may accept an over-quota warning.
	overrideRoles = []domain.Role{domain.RoleAdmin, domain.RoleHod}
	// candidateRoles can hold examination duties.
	candidateRoles = []domain.Role{domain.RoleFaculty, domain.RoleExternalExaminer}
)

// CoordinatorRoles lists the roles allowed to check and create assignments.
func CoordinatorRoles() []domain.Role {
	return slices.Clone(coordinatorRoles)
}

type AssignmentService interface {
	CheckConflicts(ctx context.Context, caller domain.Authority, faculty domain.UserId, date time.Time, examTime string, college domain.CollegeId) (domain.ConflictCheckResult, error)
	Candidates(ctx context.Context, caller domain.Authority, date time.Time, examTime string, college domain.CollegeId) ([]domain.ConflictCheckResult, error)
	Assign(ctx context.Context, caller domain.Authority, req domain.AssignmentRequest) (domain.Assignment, error)
	Assignments(ctx context.Context, caller domain.Authority) ([]domain.Assignment, error)
	DeclareUnavailable(ctx context.Context, caller domain.Authority, date time.Time, reason string) (domain.AvailabilityRecord, error)
	Availability(ctx context.Context, caller domain.Authority, faculty domain.UserId) ([]domain.AvailabilityRecord, error)
}

type AssignmentStorage interface {
	UserById(ctx context.Context, id domain.UserId) (domain.User, error)
	ConflictFacts(ctx context.Context, faculty domain.UserId, day time.Time) (domain.ConflictFacts, error)
	CandidateFacts(ctx context.Context, rs []domain.Role, scope privacy.PredicateSet, day time.Time) ([]domain.ConflictFacts, error)
	InsertAssignment(ctx context.Context, a domain.Assignment, check func(domain.ConflictFacts) error) (domain.Assignment, error)
	Assignments(ctx context.Context, scope privacy.PredicateSet) ([]domain.Assignment, error)
	DeclareUnavailable(ctx context.Context, rec domain.AvailabilityRecord) error
	Availability(ctx context.Context, faculty domain.UserId, since time.Time) ([]domain.AvailabilityRecord, error)
}

type Assignment struct {
	storage AssignmentStorage
	auditor Auditor
	ceiling int
	now     func() time.Time
}

func NewAssignment(storage AssignmentStorage, auditor Auditor, workloadCeiling int) *Assignment {
	return &Assignment{
		storage: storage,
		auditor: auditor,
		ceiling: workloadCeiling,
		now:     time.Now,
	}
}

// Resolve turns facts into a result. Hard checks run in a fixed order and stop at
// the first violation: declared unavailability, a live assignment that day, then
// conflict of interest. The workload ceiling is only consulted for an otherwise
// schedulable candidate and yields a warning once the open count exceeds it.
func Resolve(f domain.ConflictFacts, date time.Time, examTime string, college domain.CollegeId, ceiling int) domain.ConflictCheckResult {
	res := domain.ConflictCheckResult{
		FacultyId:       f.Faculty.Id,
		ExamDate:        domain.Day(date),
		ExamTime:        examTime,
		CollegeId:       college,
		Violations:      []domain.ConflictReason{},
		Warnings:        []domain.ConflictReason{},
		OpenAssignments: f.OpenAssignments,
	}
	switch {
	case f.DeclaredUnavailable:
		res.Violations = append(res.Violations, domain.ConflictDeclaredUnavailable)
	case f.AssignedThatDay:
		res.Violations = append(res.Violations, domain.ConflictAlreadyAssigned)
	case f.Faculty.CollegeId == college:
		res.Violations = append(res.Violations, domain.ConflictOfInterest)
	case ceiling > 0 && f.OpenAssignments > ceiling:
		res.Warnings = append(res.Warnings, domain.ConflictOverQuota)
	}
	return res
}

func (s *Assignment) resolve(f domain.ConflictFacts, date time.Time, examTime string, college domain.CollegeId) domain.ConflictCheckResult {
	return Resolve(f, date, examTime, college, s.ceiling)
}

func requireCoordinator(caller domain.Authority) error {
	if !caller.Authenticated() {
		return errors.AuthRequired()
	}
	if !roles.AnyOf(caller.Role, coordinatorRoles...) {
		return errors.RoleInsufficient()
	}
	return nil
}

// visibleCandidate reports whether caller may see u as an assignment candidate.
func visibleCandidate(caller domain.Authority, u domain.User) bool {
	return roles.AnyOf(u.Role, candidateRoles...) && privacy.ScopeFaculty(caller).Allows(u)
}

func (s *Assignment) CheckConflicts(ctx context.Context, caller domain.Authority, faculty domain.UserId, date time.Time, examTime string, college domain.CollegeId) (domain.ConflictCheckResult, error) {
	if err := requireCoordinator(caller); err != nil {
		return domain.ConflictCheckResult{}, err
	}
	facts, err := s.storage.ConflictFacts(ctx, faculty, domain.Day(date))
	if err != nil {
		return domain.ConflictCheckResult{}, err
	}
	if !visibleCandidate(caller, facts.Faculty) {
		return domain.ConflictCheckResult{}, errors.NotFound("Faculty not found")
	}
	return s.resolve(facts, date, examTime, college), nil
}

// Candidates checks every verified faculty member in caller's scope.
func (s *Assignment) Candidates(ctx context.Context, caller domain.Authority, date time.Time, examTime string, college domain.CollegeId) ([]domain.ConflictCheckResult, error) {
	if err := requireCoordinator(caller); err != nil {
		return nil, err
	}
	all, err := s.storage.CandidateFacts(ctx, candidateRoles, privacy.ScopeFaculty(caller), domain.Day(date))
	if err != nil {
		return nil, err
	}
	out := make([]domain.ConflictCheckResult, 0, len(all))
	for _, f := range all {
		if visibleCandidate(caller, f.Faculty) {
			out = append(out, s.resolve(f, date, examTime, college))
		}
	}
	return out, nil
}

// Assign runs the checks as a fast path, then again on locked facts inside the
// insert transaction. The storage uniqueness guarantee on (faculty, day) settles
// races between the two.
func (s *Assignment) Assign(ctx context.Context, caller domain.Authority, req domain.AssignmentRequest) (domain.Assignment, error) {
	if err := requireCoordinator(caller); err != nil {
		return domain.Assignment{}, err
	}
	if req.OverrideWorkload && !roles.AnyOf(caller.Role, overrideRoles...) {
		return domain.Assignment{}, errors.RoleInsufficient()
	}
	req.ExamTime = strings.TrimSpace(req.ExamTime)
	req.Duty = strings.TrimSpace(req.Duty)
	if req.ExamTime == "" || req.Duty == "" {
		return domain.Assignment{}, errors.Validation("Exam time and duty are required")
	}
	day := domain.Day(req.ExamDate)

	gate := s.gate(caller, req)
	facts, err := s.storage.ConflictFacts(ctx, req.FacultyId, day)
	if err != nil {
		return domain.Assignment{}, err
	}
	if _, err := gate(facts); err != nil {
		return domain.Assignment{}, err
	}

	var overridden bool
	a, err := s.storage.InsertAssignment(ctx, domain.Assignment{
		Id:         uuid.NewString(),
		ExamId:     req.ExamId,
		FacultyId:  req.FacultyId,
		CollegeId:  req.CollegeId,
		ExamDate:   day,
		ExamTime:   req.ExamTime,
		Duty:       req.Duty,
		Status:     domain.AssignmentOpen,
		AssignedBy: caller.UserId,
		CreatedAt:  s.now().UTC(),
	}, func(f domain.ConflictFacts) error {
		var err error
		overridden, err = gate(f)
		return err
	})
	if err != nil {
		return domain.Assignment{}, err
	}

	logger.Log.Info("assignment created", "component", "assignment", "assignment_id", a.Id, "faculty_id", a.FacultyId, "exam_date", a.ExamDate.Format(domain.DateLayout), "assigned_by", caller.UserId)
	if overridden {
		s.auditor.Record(ctx, domain.AuditEvent{
			Kind:   domain.AuditWorkloadOverride,
			UserId: caller.UserId,
			Detail: "assignment " + a.Id + " for user " + formatId(a.FacultyId) + " above workload ceiling",
		})
	}
	return a, nil
}

// gate returns the admission check for req. overridden is true when a workload
// warning was accepted on the caller's authority.
func (s *Assignment) gate(caller domain.Authority, req domain.AssignmentRequest) func(domain.ConflictFacts) (bool, error) {
	return func(f domain.ConflictFacts) (bool, error) {
		if !visibleCandidate(caller, f.Faculty) {
			return false, errors.NotFound("Faculty not found")
		}
		res := s.resolve(f, req.ExamDate, req.ExamTime, req.CollegeId)
		if !res.Schedulable() {
			return false, errors.AssignmentConflict(res.Violations...)
		}
		if len(res.Warnings) > 0 {
			if !req.OverrideWorkload {
				return false, errors.AssignmentConflict(res.Warnings...)
			}
			return true, nil
		}
		return false, nil
	}
}

// Assignments lists assignments visible to caller.
func (s *Assignment) Assignments(ctx context.Context, caller domain.Authority) ([]domain.Assignment, error) {
	if !caller.Authenticated() {
		return nil, errors.AuthRequired()
	}
	scope := privacy.Scope(caller)
	list, err := s.storage.Assignments(ctx, scope)
	if err != nil {
		return nil, err
	}
	out := privacy.Filter(scope, list)
	if out == nil {
		out = []domain.Assignment{}
	}
	return out, nil
}

// DeclareUnavailable lets a faculty member or external examiner block a day for
// themselves.
func (s *Assignment) DeclareUnavailable(ctx context.Context, caller domain.Authority, date time.Time, reason string) (domain.AvailabilityRecord, error) {
	if !caller.Authenticated() {
		return domain.AvailabilityRecord{}, errors.AuthRequired()
	}
	if !roles.AnyOf(caller.Role, candidateRoles...) {
		return domain.AvailabilityRecord{}, errors.RoleInsufficient()
	}
	day := domain.Day(date)
	if day.Before(domain.Day(s.now())) {
		return domain.AvailabilityRecord{}, errors.Validation("Date is in the past")
	}
	rec := domain.AvailabilityRecord{
		FacultyId: caller.UserId,
		Date:      day,
		Source:    domain.SourceDeclaredUnavailable,
		Reason:    utils.SanitizeText(reason, maxNoteLen),
	}
	if err := s.storage.DeclareUnavailable(ctx, rec); err != nil {
		return domain.AvailabilityRecord{}, err
	}
	return rec, nil
}

// Availability lists upcoming blocked days for faculty: the faculty member's own,
// or those of a candidate inside a coordinator's scope.
func (s *Assignment) Availability(ctx context.Context, caller domain.Authority, faculty domain.UserId) ([]domain.AvailabilityRecord, error) {
	if !caller.Authenticated() {
		return nil, errors.AuthRequired()
	}
	if caller.UserId != faculty {
		if err := requireCoordinator(caller); err != nil {
			return nil, err
		}
		u, err := s.storage.UserById(ctx, faculty)
		if err != nil {
			return nil, err
		}
		if !visibleCandidate(caller, u) {
			return nil, errors.NotFound("Faculty not found")
		}
	}
	out, err := s.storage.Availability(ctx, faculty, domain.Day(s.now()))
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []domain.AvailabilityRecord{}
	}
	return out, nil
}
