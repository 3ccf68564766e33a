package middleware

import (
	"context"
	"net/http"

	"github.com/examportal/trustcore/shared/domain"
	"github.com/examportal/trustcore/shared/errors"
	"github.com/examportal/trustcore/shared/logger"
	"github.com/examportal/trustcore/shared/roles"
	"github.com/examportal/trustcore/shared/session"
	"github.com/examportal/trustcore/shared/utils"
)

// SessionOpener is the part of the session guard the middleware needs.
type SessionOpener interface {
	Open(ctx context.Context, id string, c session.Client) (domain.Session, error)
}

type Auditor interface {
	Record(ctx context.Context, e domain.AuditEvent)
}

// Key to store the session snapshot in the request context
type key int

const SessionKey key = 0

// Auth holds dependencies for session and role middleware
type Auth struct {
	guard         SessionOpener
	auditor       Auditor
	cookieName    string
	secureCookies bool
}

// NewAuth creates a new Auth middleware instance
func NewAuth(guard SessionOpener, auditor Auditor, cookieName string, secureCookies bool) *Auth {
	if cookieName == "" {
		cookieName = "sid"
	}
	return &Auth{
		guard:         guard,
		auditor:       auditor,
		cookieName:    cookieName,
		secureCookies: secureCookies,
	}
}

// Session opens (or issues) the caller's session and stores the snapshot in the
// request context. Downstream code reads authority only from that snapshot.
func (a *Auth) Session() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var id string
			if c, err := r.Cookie(a.cookieName); err == nil {
				id = c.Value
			}
			ip, _ := utils.GetIP(r)

			s, err := a.guard.Open(r.Context(), id, session.Client{UserAgent: r.UserAgent(), IP: ip})
			if err != nil {
				a.ClearSessionCookie(w)
				utils.WriteErrorAndStatusCode(w, err)
				return
			}
			if s.Id != id {
				a.SetSessionCookie(w, s)
			}

			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), s)))
		})
	}
}

// NeedAuth returns middleware that requires an authenticated session
func (a *Auth) NeedAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s, ok := GetSessionFromContext(r)
			if !ok || !s.Authenticated() {
				utils.WriteErrorAndStatusCode(w, errors.AuthRequired())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole admits authenticated callers holding one of the given roles.
// Unknown roles never pass.
func (a *Auth) RequireRole(allowed ...domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return a.NeedAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s, _ := GetSessionFromContext(r)
			if !roles.AnyOf(s.Authority.Role, allowed...) {
				ip, _ := utils.GetIP(r)
				if a.auditor != nil {
					a.auditor.Record(r.Context(), domain.AuditEvent{
						Kind:       domain.AuditRoleInsufficient,
						UserId:     s.Authority.UserId,
						IP:         ip,
						SessionRef: logger.Ref(s.Id),
						Detail:     r.Method + " " + r.URL.Path + " as " + s.Authority.Role.String(),
					})
				}
				utils.WriteErrorAndStatusCode(w, errors.RoleInsufficient())
				return
			}
			next.ServeHTTP(w, r)
		}))
	}
}

// AdminOnly returns middleware that requires admin authentication
func (a *Auth) AdminOnly() func(http.Handler) http.Handler {
	return a.RequireRole(domain.RoleAdmin)
}

// SetSessionCookie writes a browser-session cookie carrying only the session id.
func (a *Auth) SetSessionCookie(w http.ResponseWriter, s domain.Session) {
	http.SetCookie(w, &http.Cookie{
		Path:     "/",
		Name:     a.cookieName,
		Value:    s.Id,
		HttpOnly: true,
		Secure:   a.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

func (a *Auth) ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Path:     "/",
		Name:     a.cookieName,
		Value:    "",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

func WithSession(ctx context.Context, s domain.Session) context.Context {
	return context.WithValue(ctx, SessionKey, s)
}

// GetSessionFromContext retrieves the session snapshot from the context
func GetSessionFromContext(r *http.Request) (domain.Session, bool) {
	s, ok := r.Context().Value(SessionKey).(domain.Session)
	return s, ok
}

// GetAuthorityFromContext is the caller's authority, or the zero value for
// anonymous requests.
func GetAuthorityFromContext(r *http.Request) domain.Authority {
	s, _ := GetSessionFromContext(r)
	return s.Authority
}
