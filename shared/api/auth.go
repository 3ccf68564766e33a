package api

import "github.com/examportal/trustcore/shared/domain"

// Request DTOs

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Response DTOs

type LoginResponse struct {
	Message   string           `json:"message"`
	Authority domain.Authority `json:"authority"`
	CsrfToken string           `json:"csrf_token"` // default-scope token bound to the new session nonce
}

type LogoutResponse struct {
	Message string `json:"message"`
}

type MeResponse struct {
	Authority     domain.Authority `json:"authority"`
	Authenticated bool             `json:"authenticated"`
}

type CsrfTokenResponse struct {
	Scope string `json:"scope"`
	Token string `json:"token"`
}
