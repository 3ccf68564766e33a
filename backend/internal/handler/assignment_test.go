package handler

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/examportal/trustcore/shared/api"
	"github.com/examportal/trustcore/shared/domain"
	internal_errors "github.com/examportal/trustcore/shared/errors"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testExamDay = time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

func assignmentRouter(h *Handler, s domain.Session) *chi.Mux {
	return withSession(s, func(r chi.Router) {
		r.Post("/v1/assignments/check", h.CheckConflicts)
		r.Get("/v1/assignments/candidates", h.Candidates)
		r.Post("/v1/assignments", h.CreateAssignment)
		r.Get("/v1/assignments", h.ListAssignments)
		r.Post("/v1/availability", h.DeclareUnavailable)
		r.Get("/v1/availability/{facultyId}", h.Availability)
	})
}

func TestCheckConflictsHandler(t *testing.T) {
	h := newTestHandler()
	h.assignment = &MockAssignmentService{
		CheckConflictsFunc: func(ctx context.Context, caller domain.Authority, faculty domain.UserId, date time.Time, examTime string, college domain.CollegeId) (domain.ConflictCheckResult, error) {
			assert.Equal(t, domain.UserId(7), faculty)
			assert.Equal(t, testExamDay, date)
			assert.Equal(t, "10:00", examTime)
			assert.Equal(t, domain.CollegeId(2), college)
			return domain.ConflictCheckResult{
				FacultyId:  faculty,
				Violations: []domain.ConflictReason{domain.ConflictDeclaredUnavailable},
				Warnings:   []domain.ConflictReason{},
			}, nil
		},
	}
	router := assignmentRouter(h, hodSession)

	rr := serve(router, createRequest(t, http.MethodPost, "/v1/assignments/check",
		[]byte(`{"faculty_id": 7, "exam_date": "2025-06-02", "exam_time": "10:00", "college_id": 2}`)))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	res := decode[domain.ConflictCheckResult](t, rr)
	assert.Equal(t, []domain.ConflictReason{domain.ConflictDeclaredUnavailable}, res.Violations)

	rr = serve(router, createRequest(t, http.MethodPost, "/v1/assignments/check",
		[]byte(`{"faculty_id": 7, "exam_date": "02/06/2025", "exam_time": "10:00", "college_id": 2}`)))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCandidatesHandler(t *testing.T) {
	h := newTestHandler()
	h.assignment = &MockAssignmentService{
		CandidatesFunc: func(ctx context.Context, caller domain.Authority, date time.Time, examTime string, college domain.CollegeId) ([]domain.ConflictCheckResult, error) {
			return []domain.ConflictCheckResult{{FacultyId: 7}, {FacultyId: 8}}, nil
		},
	}
	router := assignmentRouter(h, hodSession)

	rr := serve(router, createRequest(t, http.MethodGet, "/v1/assignments/candidates?exam_date=2025-06-02&exam_time=10:00&college_id=2", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[api.CandidatesResponse](t, rr).Candidates, 2)

	rr = serve(router, createRequest(t, http.MethodGet, "/v1/assignments/candidates?exam_date=2025-06-02&exam_time=10:00", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCreateAssignmentHandler(t *testing.T) {
	body := []byte(`{"exam_id": 55, "faculty_id": 7, "exam_date": "2025-06-02", "exam_time": "10:00", "college_id": 2, "duty": "invigilator", "override_workload": true}`)

	t.Run("created", func(t *testing.T) {
		h := newTestHandler()
		h.assignment = &MockAssignmentService{
			AssignFunc: func(ctx context.Context, caller domain.Authority, req domain.AssignmentRequest) (domain.Assignment, error) {
				assert.True(t, req.OverrideWorkload)
				assert.Equal(t, testExamDay, req.ExamDate)
				return domain.Assignment{Id: "a-1", FacultyId: req.FacultyId, Status: domain.AssignmentOpen}, nil
			},
		}
		rr := serve(assignmentRouter(h, hodSession), createRequest(t, http.MethodPost, "/v1/assignments", body))
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
		assert.Equal(t, "a-1", decode[api.AssignmentResponse](t, rr).Id)
	})

	t.Run("conflict lists reasons", func(t *testing.T) {
		h := newTestHandler()
		h.assignment = &MockAssignmentService{
			AssignFunc: func(ctx context.Context, caller domain.Authority, req domain.AssignmentRequest) (domain.Assignment, error) {
				return domain.Assignment{}, internal_errors.AssignmentConflict(domain.ConflictAlreadyAssigned)
			},
		}
		rr := serve(assignmentRouter(h, hodSession), createRequest(t, http.MethodPost, "/v1/assignments", body))
		require.Equal(t, http.StatusConflict, rr.Code)
		assert.JSONEq(t, `{"error": "Assignment conflict", "reasons": ["already-assigned-that-day"]}`, rr.Body.String())
	})

	t.Run("override forbidden", func(t *testing.T) {
		h := newTestHandler()
		h.assignment = &MockAssignmentService{
			AssignFunc: func(ctx context.Context, caller domain.Authority, req domain.AssignmentRequest) (domain.Assignment, error) {
				return domain.Assignment{}, internal_errors.RoleInsufficient()
			},
		}
		rr := serve(assignmentRouter(h, hodSession), createRequest(t, http.MethodPost, "/v1/assignments", body))
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})
}

func TestListAssignmentsHandler(t *testing.T) {
	h := newTestHandler()
	rr := serve(assignmentRouter(h, hodSession), createRequest(t, http.MethodGet, "/v1/assignments", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"assignments": []}`, rr.Body.String())
}

func TestAvailabilityHandlers(t *testing.T) {
	faculty := domain.Session{Id: "f", Nonce: "n", Authority: domain.Authority{UserId: 7, Role: domain.RoleFaculty, CollegeId: 1, DepartmentId: 10}}
	h := newTestHandler()
	var gotFaculty domain.UserId
	h.assignment = &MockAssignmentService{
		AvailabilityFunc: func(ctx context.Context, caller domain.Authority, id domain.UserId) ([]domain.AvailabilityRecord, error) {
			gotFaculty = id
			return []domain.AvailabilityRecord{{FacultyId: id, Date: testExamDay, Source: domain.SourceDeclaredUnavailable}}, nil
		},
	}
	router := assignmentRouter(h, faculty)

	rr := serve(router, createRequest(t, http.MethodPost, "/v1/availability", []byte(`{"date": "2025-06-02", "reason": "conference"}`)))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	rec := decode[api.AvailabilityResponse](t, rr)
	assert.Equal(t, domain.UserId(7), rec.FacultyId)
	assert.Equal(t, testExamDay, rec.Date)

	rr = serve(router, createRequest(t, http.MethodGet, "/v1/availability/7", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, domain.UserId(7), gotFaculty)
	assert.Len(t, decode[api.AvailabilityListResponse](t, rr).Records, 1)

	rr = serve(router, createRequest(t, http.MethodPost, "/v1/availability", []byte(`{"reason": "no date"}`)))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
