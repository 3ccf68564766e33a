package domain

import "time"

type VerificationStatus string

const (
	StatusPending   VerificationStatus = "pending"
	StatusVerified  VerificationStatus = "verified"
	StatusEscalated VerificationStatus = "escalated"
	StatusRejected  VerificationStatus = "rejected"
)

// Open reports whether a verifier can still act on the request.
func (s VerificationStatus) Open() bool {
	return s == StatusPending || s == StatusEscalated
}

type User struct {
	Id              UserId             `json:"id"`
	Email           Email              `json:"email"`
	Role            Role               `json:"role"`
	CollegeId       CollegeId          `json:"college_id"`
	DepartmentId    DepartmentId       `json:"department_id"`
	Status          VerificationStatus `json:"status"`
	CredentialHash  string             `json:"-"`
	VerifiedBy      *UserId            `json:"verified_by,omitempty"`
	VerifiedAt      *time.Time         `json:"verified_at,omitempty"`
	EscalatedAt     *time.Time         `json:"escalated_at,omitempty"`
	RejectionReason string             `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
}

func (u User) Authority() Authority {
	return Authority{UserId: u.Id, Role: u.Role, CollegeId: u.CollegeId, DepartmentId: u.DepartmentId}
}

func (u User) SubjectId() UserId { return u.Id }
func (u User) College() CollegeId { return u.CollegeId }
func (u User) Department() DepartmentId { return u.DepartmentId }
func (u User) Verified() bool { return u.Status == StatusVerified }
func (u User) SubjectRole() Role { return u.Role }

type Credentials struct {
	Email    Email
	Password Password
}

// Credential describes an issued one-time credential. The plaintext never leaves
// the verification service except through the notifier.
type Credential struct {
	UserId   UserId    `json:"user_id"`
	IssuedBy UserId    `json:"issued_by"`
	IssuedAt time.Time `json:"issued_at"`
}
