package domain

import "time"

type AvailabilitySource string

const (
	SourceDeclaredUnavailable AvailabilitySource = "declared-unavailable"
	SourceExistingAssignment  AvailabilitySource = "existing-assignment"
)

type AvailabilityRecord struct {
	FacultyId UserId             `json:"faculty_id"`
	Date      time.Time          `json:"date"`
	Source    AvailabilitySource `json:"source"`
	Reason    string             `json:"reason,omitempty"`
}

// ConflictReason names one violated scheduling constraint.
type ConflictReason string

const (
	ConflictDeclaredUnavailable ConflictReason = "declared-unavailable"
	ConflictAlreadyAssigned     ConflictReason = "already-assigned-that-day"
	ConflictOfInterest          ConflictReason = "same-college-conflict-of-interest"
	ConflictOverQuota           ConflictReason = "over-quota"
)

type AssignmentStatus string

const (
	AssignmentOpen      AssignmentStatus = "open"
	AssignmentCompleted AssignmentStatus = "completed"
	AssignmentCancelled AssignmentStatus = "cancelled"
)

type Assignment struct {
	Id           AssignmentId     `json:"id"`
	ExamId       ExamId           `json:"exam_id"`
	FacultyId    UserId           `json:"faculty_id"`
	CollegeId    CollegeId        `json:"college_id"`    // exam's originating college
	DepartmentId DepartmentId     `json:"department_id"` // faculty's department
	ExamDate     time.Time        `json:"exam_date"`
	ExamTime     string           `json:"exam_time"`
	Duty         string           `json:"duty"`
	Status       AssignmentStatus `json:"status"`
	AssignedBy   UserId           `json:"assigned_by"`
	CreatedAt    time.Time        `json:"created_at"`
}

func (a Assignment) SubjectId() UserId { return a.FacultyId }
func (a Assignment) College() CollegeId { return a.CollegeId }
func (a Assignment) Department() DepartmentId { return a.DepartmentId }

type AssignmentRequest struct {
	ExamId           ExamId
	FacultyId        UserId
	ExamDate         time.Time
	ExamTime         string
	CollegeId        CollegeId
	Duty             string
	OverrideWorkload bool
}

// ConflictCheckResult carries every failed check, hard violations and soft warnings
// separately, so callers can render actionable messages.
type ConflictCheckResult struct {
	FacultyId       UserId           `json:"faculty_id"`
	ExamDate        time.Time        `json:"exam_date"`
	ExamTime        string           `json:"exam_time"`
	CollegeId       CollegeId        `json:"college_id"`
	Violations      []ConflictReason `json:"violations"`
	Warnings        []ConflictReason `json:"warnings"`
	OpenAssignments int              `json:"open_assignments"`
}

func (r ConflictCheckResult) Schedulable() bool {
	return len(r.Violations) == 0
}

// Failed lists hard violations followed by warnings.
func (r ConflictCheckResult) Failed() []ConflictReason {
	out := make([]ConflictReason, 0, len(r.Violations)+len(r.Warnings))
	out = append(out, r.Violations...)
	return append(out, r.Warnings...)
}

// ConflictFacts is what storage knows about a candidate on one exam day. The
// resolver turns it into a ConflictCheckResult.
type ConflictFacts struct {
	Faculty             User `json:"faculty"`
	DeclaredUnavailable bool `json:"declared_unavailable"`
	AssignedThatDay     bool `json:"assigned_that_day"`
	OpenAssignments     int  `json:"open_assignments"`
}
