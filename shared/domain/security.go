package domain

import "time"

type LoginAttempt struct {
	IP          IP
	Account     string
	Success     bool
	AttemptedAt time.Time
}

type IPBlacklistEntry struct {
	IP            IP         `json:"ip"`
	Reason        string     `json:"reason"`
	BlacklistedAt time.Time  `json:"blacklisted_at"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"` // nil = indefinite
}

func (e IPBlacklistEntry) Active(now time.Time) bool {
	return e.ExpiresAt == nil || now.Before(*e.ExpiresAt)
}

type AuditKind string

const (
	AuditHijackSuspected    AuditKind = "hijack_suspected"
	AuditCsrfInvalid        AuditKind = "csrf_invalid"
	AuditRoleInsufficient   AuditKind = "role_insufficient"
	AuditAccountLocked      AuditKind = "account_locked"
	AuditIPBlacklisted      AuditKind = "ip_blacklisted"
	AuditSessionExpired     AuditKind = "session_expired"
	AuditVerificationDenied AuditKind = "verification_denied"
	AuditUserVerified       AuditKind = "user_verified"
	AuditUserRejected       AuditKind = "user_rejected"
	AuditUserEscalated      AuditKind = "user_escalated"
	AuditWorkloadOverride   AuditKind = "workload_override"
	AuditLoginSucceeded     AuditKind = "login_succeeded"
)

type AuditEvent struct {
	Id         string    `json:"id"`
	Kind       AuditKind `json:"kind"`
	UserId     UserId    `json:"user_id,omitempty"`
	IP         IP        `json:"ip,omitempty"`
	SessionRef string    `json:"session_ref,omitempty"` // hashed session id prefix, never the id
	Detail     string    `json:"detail,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
