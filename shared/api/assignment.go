package api

import "github.com/examportal/trustcore/shared/domain"

// Request DTOs

type CheckConflictsRequest struct {
	FacultyId domain.UserId    `json:"faculty_id" validate:"required"`
	ExamDate  string           `json:"exam_date" validate:"required,datetime=2006-01-02"`
	ExamTime  string           `json:"exam_time" validate:"required"`
	CollegeId domain.CollegeId `json:"college_id" validate:"required"`
}

type CreateAssignmentRequest struct {
	ExamId           domain.ExamId    `json:"exam_id" validate:"required"`
	FacultyId        domain.UserId    `json:"faculty_id" validate:"required"`
	ExamDate         string           `json:"exam_date" validate:"required,datetime=2006-01-02"`
	ExamTime         string           `json:"exam_time" validate:"required"`
	CollegeId        domain.CollegeId `json:"college_id" validate:"required"`
	Duty             string           `json:"duty" validate:"required,max=100"`
	OverrideWorkload bool             `json:"override_workload"`
}

type DeclareUnavailableRequest struct {
	Date   string `json:"date" validate:"required,datetime=2006-01-02"`
	Reason string `json:"reason" validate:"max=500"`
}

// Response DTOs

type CandidatesResponse struct {
	Candidates []domain.ConflictCheckResult `json:"candidates"`
}

type AssignmentResponse struct {
	domain.Assignment
}

type AssignmentListResponse struct {
	Assignments []domain.Assignment `json:"assignments"`
}

type AvailabilityResponse struct {
	domain.AvailabilityRecord
}

type AvailabilityListResponse struct {
	Records []domain.AvailabilityRecord `json:"records"`
}
