package handler

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/examportal/trustcore/shared/api"
	"github.com/examportal/trustcore/shared/csrf"
	"github.com/examportal/trustcore/shared/domain"
	"github.com/examportal/trustcore/shared/errors"
	mw "github.com/examportal/trustcore/shared/middleware"
	"github.com/examportal/trustcore/shared/utils"
)

var scopePattern = regexp.MustCompile(`^[a-z0-9_-]{1,32}$`)

// Login elevates the caller's anonymous session. The response carries a fresh
// default-scope token because tokens of the previous session no longer validate.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var body api.LoginRequest
	if err := utils.DecodeValidate(r.Body, &body); err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}

	s, ok := mw.GetSessionFromContext(r)
	if !ok {
		utils.WriteErrorAndStatusCode(w, errors.AuthRequired())
		return
	}
	ip, err := mw.GetIP(r)
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}

	elevated, err := h.auth.Login(r.Context(), s, ip, domain.Credentials{Email: body.Email, Password: body.Password})
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	h.cookies.SetSessionCookie(w, elevated)

	token, err := h.csrf.Issue(elevated, csrf.DefaultScope)
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}

	writeJSON(w, api.LoginResponse{Message: "You logged in", Authority: elevated.Authority, CsrfToken: token})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	s, ok := mw.GetSessionFromContext(r)
	if ok {
		if err := h.auth.Logout(r.Context(), s); err != nil {
			utils.WriteErrorAndStatusCode(w, err)
			return
		}
	}
	h.cookies.ClearSessionCookie(w)
	writeJSON(w, api.LogoutResponse{Message: "You logged out"})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	a := mw.GetAuthorityFromContext(r)
	writeJSON(w, api.MeResponse{Authority: a, Authenticated: a.Authenticated()})
}

// CsrfToken handles GET /v1/csrf?scope=
func (h *Handler) CsrfToken(w http.ResponseWriter, r *http.Request) {
	scope := strings.TrimSpace(r.URL.Query().Get("scope"))
	if scope == "" {
		scope = csrf.DefaultScope
	}
	if !scopePattern.MatchString(scope) {
		utils.WriteErrorAndStatusCode(w, errors.Validation("Invalid scope"))
		return
	}

	s, ok := mw.GetSessionFromContext(r)
	if !ok {
		utils.WriteErrorAndStatusCode(w, errors.AuthRequired())
		return
	}
	token, err := h.csrf.Issue(s, scope)
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	writeJSON(w, api.CsrfTokenResponse{Scope: scope, Token: token})
}
