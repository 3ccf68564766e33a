package middleware

import (
	"net/http"

	"github.com/examportal/trustcore/shared/domain"
	"github.com/examportal/trustcore/shared/errors"
	"github.com/examportal/trustcore/shared/logger"
	"github.com/examportal/trustcore/shared/utils"
)

const (
	CsrfHeader    = "X-CSRF-Token"
	CsrfFormField = "csrf_token"
)

type CsrfValidator interface {
	Validate(s domain.Session, scope, candidate string) bool
}

func safeMethod(m string) bool {
	return m == http.MethodGet || m == http.MethodHead || m == http.MethodOptions
}

// RequireCSRF rejects state-changing requests without a live token for scope.
// It must run after Session.
func (a *Auth) RequireCSRF(v CsrfValidator, scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if safeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			s, _ := GetSessionFromContext(r)
			candidate := r.Header.Get(CsrfHeader)
			if candidate == "" {
				candidate = r.PostFormValue(CsrfFormField)
			}

			if !v.Validate(s, scope, candidate) {
				ip, _ := utils.GetIP(r)
				if a.auditor != nil {
					a.auditor.Record(r.Context(), domain.AuditEvent{
						Kind:       domain.AuditCsrfInvalid,
						UserId:     s.Authority.UserId,
						IP:         ip,
						SessionRef: logger.Ref(s.Id),
						Detail:     r.Method + " " + r.URL.Path + " scope " + scope,
					})
				}
				utils.WriteErrorAndStatusCode(w, errors.CsrfInvalid())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
