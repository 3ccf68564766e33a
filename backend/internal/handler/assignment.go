package handler

import (
	"net/http"

	"github.com/examportal/trustcore/shared/api"
	"github.com/examportal/trustcore/shared/domain"
	"github.com/examportal/trustcore/shared/errors"
	mw "github.com/examportal/trustcore/shared/middleware"
	"github.com/examportal/trustcore/shared/utils"
)

// CheckConflicts handles POST /v1/assignments/check
func (h *Handler) CheckConflicts(w http.ResponseWriter, r *http.Request) {
	var body api.CheckConflictsRequest
	if err := utils.DecodeValidate(r.Body, &body); err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	day, err := parseDay(body.ExamDate, "exam_date")
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}

	res, err := h.assignment.CheckConflicts(r.Context(), mw.GetAuthorityFromContext(r), body.FacultyId, day, body.ExamTime, body.CollegeId)
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	writeJSON(w, res)
}

// Candidates handles GET /v1/assignments/candidates?exam_date=&exam_time=&college_id=
func (h *Handler) Candidates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	day, err := parseDay(q.Get("exam_date"), "exam_date")
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	college, err := parseIntQuery(r, "college_id")
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	examTime := q.Get("exam_time")
	if examTime == "" {
		utils.WriteErrorAndStatusCode(w, errors.Validation("Invalid exam_time: required"))
		return
	}

	results, err := h.assignment.Candidates(r.Context(), mw.GetAuthorityFromContext(r), day, examTime, college)
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	writeJSON(w, api.CandidatesResponse{Candidates: results})
}

// CreateAssignment handles POST /v1/assignments
func (h *Handler) CreateAssignment(w http.ResponseWriter, r *http.Request) {
	var body api.CreateAssignmentRequest
	if err := utils.DecodeValidate(r.Body, &body); err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	day, err := parseDay(body.ExamDate, "exam_date")
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}

	a, err := h.assignment.Assign(r.Context(), mw.GetAuthorityFromContext(r), domain.AssignmentRequest{
		ExamId:           body.ExamId,
		FacultyId:        body.FacultyId,
		ExamDate:         day,
		ExamTime:         body.ExamTime,
		CollegeId:        body.CollegeId,
		Duty:             body.Duty,
		OverrideWorkload: body.OverrideWorkload,
	})
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, api.AssignmentResponse{Assignment: a})
}

// ListAssignments handles GET /v1/assignments
func (h *Handler) ListAssignments(w http.ResponseWriter, r *http.Request) {
	list, err := h.assignment.Assignments(r.Context(), mw.GetAuthorityFromContext(r))
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	writeJSON(w, api.AssignmentListResponse{Assignments: list})
}

// DeclareUnavailable handles POST /v1/availability
func (h *Handler) DeclareUnavailable(w http.ResponseWriter, r *http.Request) {
	var body api.DeclareUnavailableRequest
	if err := utils.DecodeValidate(r.Body, &body); err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	day, err := parseDay(body.Date, "date")
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}

	rec, err := h.assignment.DeclareUnavailable(r.Context(), mw.GetAuthorityFromContext(r), day, body.Reason)
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, api.AvailabilityResponse{AvailabilityRecord: rec})
}

// Availability handles GET /v1/availability/{facultyId}
func (h *Handler) Availability(w http.ResponseWriter, r *http.Request) {
	facultyId, err := parseIdParam(r, "facultyId")
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}

	records, err := h.assignment.Availability(r.Context(), mw.GetAuthorityFromContext(r), facultyId)
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	writeJSON(w, api.AvailabilityListResponse{Records: records})
}
