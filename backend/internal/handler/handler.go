package handler

import (
	"context"
	"net/http"

	"github.com/examportal/trustcore/backend/internal/service"
	"github.com/examportal/trustcore/shared/config"
	"github.com/examportal/trustcore/shared/domain"
	"github.com/examportal/trustcore/shared/utils"
)

// CsrfIssuer hands out anti-forgery tokens bound to a session.
type CsrfIssuer interface {
	Issue(s domain.Session, scope string) (string, error)
}

// SessionCookies writes the session cookie after login and logout.
type SessionCookies interface {
	SetSessionCookie(w http.ResponseWriter, s domain.Session)
	ClearSessionCookie(w http.ResponseWriter)
}

type HealthChecker interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	auth         service.AuthService
	verification service.VerificationService
	assignment   service.AssignmentService
	blacklist    service.BlacklistService
	csrf         CsrfIssuer
	cookies      SessionCookies
	health       HealthChecker
	cfg          *config.Config
}

func New(
	auth service.AuthService,
	verification service.VerificationService,
	assignment service.AssignmentService,
	blacklist service.BlacklistService,
	csrf CsrfIssuer,
	cookies SessionCookies,
	health HealthChecker,
	cfg *config.Config,
) *Handler {
	return &Handler{
		auth:         auth,
		verification: verification,
		assignment:   assignment,
		blacklist:    blacklist,
		csrf:         csrf,
		cookies:      cookies,
		health:       health,
		cfg:          cfg,
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	utils.WriteJSON(w, http.StatusOK, v)
}
