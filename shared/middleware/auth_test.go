package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/examportal/trustcore/shared/domain"
	"github.com/examportal/trustcore/shared/errors"
	"github.com/examportal/trustcore/shared/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockSessionOpener struct {
	OpenFunc func(ctx context.Context, id string, c session.Client) (domain.Session, error)
}

func (m *MockSessionOpener) Open(ctx context.Context, id string, c session.Client) (domain.Session, error) {
	if m.OpenFunc != nil {
		return m.OpenFunc(ctx, id, c)
	}
	return domain.Session{Id: id}, nil
}

type MockAuditor struct {
	mu     sync.Mutex
	Events []domain.AuditEvent
}

func (m *MockAuditor) Record(_ context.Context, e domain.AuditEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, e)
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func withAuthority(r *http.Request, a domain.Authority) *http.Request {
	return r.WithContext(WithSession(r.Context(), domain.Session{Id: "sid", Nonce: "n", Authority: a}))
}

func TestSessionMiddleware(t *testing.T) {
	t.Run("new visitor gets a strict cookie", func(t *testing.T) {
		auth := NewAuth(&MockSessionOpener{OpenFunc: func(ctx context.Context, id string, c session.Client) (domain.Session, error) {
			assert.Equal(t, "", id)
			assert.Equal(t, "test-agent", c.UserAgent)
			return domain.Session{Id: "fresh"}, nil
		}}, nil, "sid", true)

		var seen domain.Session
		handler := auth.Session()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen, _ = GetSessionFromContext(r)
		}))

		req := httptest.NewRequest(http.MethodGet, "/v1/auth/me", nil)
		req.Header.Set("User-Agent", "test-agent")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Equal(t, "fresh", seen.Id)
		cookies := rr.Result().Cookies()
		require.Len(t, cookies, 1)
		c := cookies[0]
		assert.Equal(t, "sid", c.Name)
		assert.Equal(t, "fresh", c.Value)
		assert.True(t, c.HttpOnly)
		assert.True(t, c.Secure)
		assert.Equal(t, http.SameSiteStrictMode, c.SameSite)
		assert.Zero(t, c.MaxAge)
		assert.True(t, c.Expires.IsZero())
	})

	t.Run("same id sets no cookie", func(t *testing.T) {
		auth := NewAuth(&MockSessionOpener{}, nil, "sid", false)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: "sid", Value: "existing"})
		rr := httptest.NewRecorder()
		auth.Session()(okHandler()).ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Empty(t, rr.Result().Cookies())
	})

	t.Run("rotated id is written back", func(t *testing.T) {
		auth := NewAuth(&MockSessionOpener{OpenFunc: func(ctx context.Context, id string, c session.Client) (domain.Session, error) {
			return domain.Session{Id: "rotated"}, nil
		}}, nil, "sid", false)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: "sid", Value: "old"})
		rr := httptest.NewRecorder()
		auth.Session()(okHandler()).ServeHTTP(rr, req)

		require.Len(t, rr.Result().Cookies(), 1)
		assert.Equal(t, "rotated", rr.Result().Cookies()[0].Value)
	})

	errCases := []struct {
		name   string
		err    error
		status int
	}{
		{"hijack", errors.HijackSuspected(), http.StatusUnauthorized},
		{"expired", errors.SessionExpired(), http.StatusUnauthorized},
		{"unknown id", errors.AuthRequired(), http.StatusUnauthorized},
		{"store down", assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range errCases {
		t.Run(tt.name+" clears cookie", func(t *testing.T) {
			auth := NewAuth(&MockSessionOpener{OpenFunc: func(ctx context.Context, id string, c session.Client) (domain.Session, error) {
				return domain.Session{}, tt.err
			}}, nil, "sid", false)
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.AddCookie(&http.Cookie{Name: "sid", Value: "whatever"})
			rr := httptest.NewRecorder()
			auth.Session()(okHandler()).ServeHTTP(rr, req)

			assert.Equal(t, tt.status, rr.Code)
			require.Len(t, rr.Result().Cookies(), 1)
			assert.Equal(t, -1, rr.Result().Cookies()[0].MaxAge)
		})
	}
}

func TestSessionMiddlewareWithRealGuard(t *testing.T) {
	guard := session.NewGuard(session.NewMemoryStore(time.Hour), session.Config{IdleTimeout: time.Hour, RotationInterval: time.Hour}, nil)
	auth := NewAuth(guard, nil, "sid", false)
	handler := auth.Session()(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("User-Agent", "browser-a")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Len(t, rr.Result().Cookies(), 1)
	cookie := rr.Result().Cookies()[0]

	stolen := httptest.NewRequest(http.MethodGet, "/", nil)
	stolen.Header.Set("User-Agent", "browser-b")
	stolen.AddCookie(&http.Cookie{Name: "sid", Value: cookie.Value})
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, stolen)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	again := httptest.NewRequest(http.MethodGet, "/", nil)
	again.Header.Set("User-Agent", "browser-a")
	again.AddCookie(&http.Cookie{Name: "sid", Value: cookie.Value})
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, again)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestSessionMiddlewareKeepsCookieAcrossRotation(t *testing.T) {
	// every open is due for rotation
	guard := session.NewGuard(session.NewMemoryStore(time.Hour), session.Config{IdleTimeout: time.Hour, RotationInterval: time.Nanosecond}, nil)
	auth := NewAuth(guard, nil, "sid", false)
	handler := auth.Session()(okHandler())

	open := func(sid string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("User-Agent", "browser-a")
		if sid != "" {
			req.AddCookie(&http.Cookie{Name: "sid", Value: sid})
		}
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	rr := open("")
	require.Len(t, rr.Result().Cookies(), 1)
	original := rr.Result().Cookies()[0].Value

	rr = open(original)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, rr.Result().Cookies(), 1)
	assert.NotEqual(t, original, rr.Result().Cookies()[0].Value)

	// a request that left the browser before the rotation answer arrived
	rr = open(original)
	assert.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, rr.Result().Cookies(), 1)
	assert.NotEqual(t, -1, rr.Result().Cookies()[0].MaxAge, "rotated cookie must not be cleared")
	assert.NotEmpty(t, rr.Result().Cookies()[0].Value)
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name           string
		authority      *domain.Authority
		allowed        []domain.Role
		expectedStatus int
		audited        bool
	}{
		{"no session", nil, []domain.Role{domain.RoleHod}, http.StatusUnauthorized, false},
		{"anonymous session", &domain.Authority{}, []domain.Role{domain.RoleHod}, http.StatusUnauthorized, false},
		{"allowed role", &domain.Authority{UserId: 1, Role: domain.RoleHod}, []domain.Role{domain.RoleHod, domain.RoleAdmin}, http.StatusOK, false},
		{"wrong role", &domain.Authority{UserId: 1, Role: domain.RoleFaculty}, []domain.Role{domain.RoleHod}, http.StatusForbidden, true},
		{"unknown role", &domain.Authority{UserId: 1, Role: domain.RoleUnknown}, []domain.Role{domain.RoleUnknown}, http.StatusForbidden, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auditor := &MockAuditor{}
			auth := NewAuth(&MockSessionOpener{}, auditor, "sid", false)
			req := httptest.NewRequest(http.MethodGet, "/v1/verification/pending", nil)
			if tt.authority != nil {
				req = withAuthority(req, *tt.authority)
			}
			rr := httptest.NewRecorder()
			auth.RequireRole(tt.allowed...)(okHandler()).ServeHTTP(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			if tt.audited {
				require.Len(t, auditor.Events, 1)
				assert.Equal(t, domain.AuditRoleInsufficient, auditor.Events[0].Kind)
			} else {
				assert.Empty(t, auditor.Events)
			}
		})
	}
}

func TestAdminOnly(t *testing.T) {
	auth := NewAuth(&MockSessionOpener{}, nil, "sid", false)
	req := withAuthority(httptest.NewRequest(http.MethodGet, "/", nil), domain.Authority{UserId: 1, Role: domain.RolePrincipal})
	rr := httptest.NewRecorder()
	auth.AdminOnly()(okHandler()).ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestSecurityHeaders(t *testing.T) {
	rr := httptest.NewRecorder()
	SecurityHeaders(true)(okHandler()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
	assert.NotEmpty(t, rr.Header().Get("Strict-Transport-Security"))

	rr = httptest.NewRecorder()
	SecurityHeaders(false)(okHandler()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Empty(t, rr.Header().Get("Strict-Transport-Security"))
}
