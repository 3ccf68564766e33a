package api

import "github.com/examportal/trustcore/shared/domain"

// Request DTOs

type RejectRequest struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

// Response DTOs

type UserListResponse struct {
	Users []domain.User `json:"users"`
}

type VerifyResponse struct {
	Message    string            `json:"message"`
	Credential domain.Credential `json:"credential"` // issuance metadata only, the secret goes to the notifier
}

type RejectResponse struct {
	Message string `json:"message"`
}

type EscalateResponse struct {
	Escalated int `json:"escalated"`
}
