package errors

import (
	"errors"
	"net/http"
	"strings"
)

// Kind classifies an error for the HTTP edge and the audit trail.
type Kind string

const (
	KindAuthRequired              Kind = "auth_required"
	KindRoleInsufficient          Kind = "role_insufficient"
	KindCsrfInvalid               Kind = "csrf_invalid"
	KindSessionExpired            Kind = "session_expired"
	KindHijackSuspected           Kind = "hijack_suspected"
	KindRateLimitExceeded         Kind = "rate_limit_exceeded"
	KindAccountLocked             Kind = "account_locked"
	KindIpBlacklisted             Kind = "ip_blacklisted"
	KindVerificationNotAuthorized Kind = "verification_not_authorized"
	KindDuplicateVerification     Kind = "duplicate_verification"
	KindAssignmentConflict        Kind = "assignment_conflict"
	KindNotFound                  Kind = "not_found"
	KindValidation                Kind = "validation"
	KindStorageFailure            Kind = "storage_failure"
)

var kindStatus = map[Kind]int{
	KindAuthRequired:              http.StatusUnauthorized,
	KindSessionExpired:            http.StatusUnauthorized,
	KindHijackSuspected:           http.StatusUnauthorized,
	KindRoleInsufficient:          http.StatusForbidden,
	KindCsrfInvalid:               http.StatusForbidden,
	KindVerificationNotAuthorized: http.StatusForbidden,
	KindRateLimitExceeded:         http.StatusTooManyRequests,
	KindAccountLocked:             http.StatusTooManyRequests,
	KindIpBlacklisted:             http.StatusTooManyRequests,
	KindDuplicateVerification:     http.StatusConflict,
	KindAssignmentConflict:        http.StatusConflict,
	KindNotFound:                  http.StatusNotFound,
	KindValidation:                http.StatusBadRequest,
	KindStorageFailure:            http.StatusInternalServerError,
}

// default error is internal service error at handler level
// if error has different status code use ErrorWithStatusCode
type ErrorWithStatusCode struct {
	Message    string
	StatusCode int
	Kind       Kind
	Reasons    []string
}

func (e *ErrorWithStatusCode) Error() string {
	if len(e.Reasons) == 0 {
		return e.Message
	}
	return e.Message + ": " + strings.Join(e.Reasons, ", ")
}

// New builds a typed error whose status code follows its kind.
func New(kind Kind, message string) *ErrorWithStatusCode {
	status, ok := kindStatus[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	return &ErrorWithStatusCode{Message: message, StatusCode: status, Kind: kind}
}

func AuthRequired() error {
	return New(KindAuthRequired, "Please sign-in")
}

func SessionExpired() error {
	return New(KindSessionExpired, "Session expired, please sign-in again")
}

func HijackSuspected() error {
	return New(KindHijackSuspected, "Session rejected, please sign-in again")
}

func RoleInsufficient() error {
	return New(KindRoleInsufficient, "Access denied for your role")
}

func CsrfInvalid() error {
	return New(KindCsrfInvalid, "Invalid or expired CSRF token")
}

func RateLimitExceeded() error {
	return New(KindRateLimitExceeded, "Rate limit exceeded, try again later")
}

func AccountLocked() error {
	return New(KindAccountLocked, "Account temporarily locked after repeated failed logins")
}

func IpBlacklisted() error {
	return New(KindIpBlacklisted, "Requests from your address are blocked")
}

func VerificationNotAuthorized() error {
	return New(KindVerificationNotAuthorized, "You may not verify this user")
}

func DuplicateVerification() error {
	return New(KindDuplicateVerification, "Verification request is already closed")
}

func NotFound(message string) error {
	return New(KindNotFound, message)
}

func Validation(message string) error {
	return New(KindValidation, message)
}

// AssignmentConflict carries the violated constraints in check order.
func AssignmentConflict[R ~string](reasons ...R) error {
	e := New(KindAssignmentConflict, "Assignment conflict")
	for _, r := range reasons {
		e.Reasons = append(e.Reasons, string(r))
	}
	return e
}

// KindOf returns the kind of the first typed error in the chain.
// Untyped errors are storage failures.
func KindOf(err error) Kind {
	var e *ErrorWithStatusCode
	if errors.As(err, &e) {
		if e.Kind != "" {
			return e.Kind
		}
		if e.StatusCode == http.StatusNotFound {
			return KindNotFound
		}
		return ""
	}
	return KindStorageFailure
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func IsNotFound(err error) bool {
	return IsKind(err, KindNotFound)
}

// Check if err is instance of T for custom error types
func Is[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}

// Typed returns the first ErrorWithStatusCode in the chain.
func Typed(err error) (*ErrorWithStatusCode, bool) {
	var e *ErrorWithStatusCode
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
