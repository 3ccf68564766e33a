package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/examportal/trustcore/backend/internal/service"
	"github.com/examportal/trustcore/backend/internal/setup"
	"github.com/examportal/trustcore/shared/csrf"
	"github.com/examportal/trustcore/shared/domain"
	mw "github.com/examportal/trustcore/shared/middleware"
	"github.com/examportal/trustcore/shared/middleware/metrics"
	rl "github.com/examportal/trustcore/shared/ratelimiter"
)

// CSRF scopes for the sensitive route groups. Clients fetch tokens for them from
// GET /v1/csrf?scope=.
const (
	ScopeVerification = "verification"
	ScopeAdmin        = "admin"
)

// New creates and configures the router with all the routes.
// IMPORTANT! rate limiters set with .Use count requests for all endpoints combined in that group
func New(deps *setup.Dependencies) *chi.Mux {
	cfg := deps.Config.Public
	h := deps.Handler
	authMw := deps.AuthMiddleware
	limiter := deps.RateLimiter
	blacklist := deps.BlacklistCache

	r := chi.NewRouter()
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", mw.CsrfHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(mw.SecurityHeaders(cfg.SecureCookies))

	// Health checks and metrics bypass sessions and rate limits
	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(authMw.Session())
		v1.Use(mw.RateLimit(limiter, blacklist, rl.ClassGeneral, mw.GetUserOrIP))

		v1.Get("/auth/me", h.Me)
		v1.Get("/csrf", h.CsrfToken)

		// Login and logout are forms of the anonymous or current session
		v1.Group(func(auth chi.Router) {
			auth.Use(authMw.RequireCSRF(deps.Csrf, csrf.DefaultScope))
			auth.With(mw.RateLimit(limiter, blacklist, rl.ClassLogin, mw.GetIP)).Post("/auth/login", h.Login)
			auth.Post("/auth/logout", h.Logout)
		})

		v1.Group(func(loggedIn chi.Router) {
			loggedIn.Use(authMw.NeedAuth())

			loggedIn.Group(func(r chi.Router) {
				r.Use(authMw.RequireCSRF(deps.Csrf, csrf.DefaultScope))

				r.Get("/assignments", h.ListAssignments)
				r.Post("/availability", h.DeclareUnavailable)
				r.Get("/availability/{facultyId}", h.Availability)

				r.Group(func(coord chi.Router) {
					coord.Use(authMw.RequireRole(service.CoordinatorRoles()...))
					coord.Post("/assignments/check", h.CheckConflicts)
					coord.Get("/assignments/candidates", h.Candidates)
					coord.Post("/assignments", h.CreateAssignment)
				})
			})

			loggedIn.Route("/verification", func(v chi.Router) {
				v.Use(authMw.RequireRole(verifierRoles(deps)...))
				v.Use(authMw.RequireCSRF(deps.Csrf, ScopeVerification))
				v.Get("/pending", h.PendingVerifications)
				v.Get("/escalated", h.EscalatedVerifications)

				v.Group(func(w chi.Router) {
					w.Use(mw.RateLimit(limiter, nil, rl.ClassSensitive, mw.GetUserOrIP))
					w.Post("/{userId}/verify", h.VerifyUser)
					w.Post("/{userId}/reject", h.RejectUser)
				})
			})

			loggedIn.Route("/admin", func(admin chi.Router) {
				admin.Use(authMw.AdminOnly())
				admin.Use(authMw.RequireCSRF(deps.Csrf, ScopeAdmin))
				admin.Use(mw.RateLimit(limiter, nil, rl.ClassSensitive, mw.GetUserOrIP))

				admin.Get("/blacklist/ips", h.BlacklistedIPs)
				admin.Post("/blacklist/ips", h.BlacklistIP)
				admin.Delete("/blacklist/ips/{ip}", h.UnblacklistIP)
				admin.Post("/blacklist/refresh", h.RefreshBlacklistCache)
				admin.Post("/verification/escalate", h.EscalateOverdue)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Not found", http.StatusNotFound)
	})

	return r
}

// verifierRoles are the roles the configured hierarchy lets verify someone.
func verifierRoles(deps *setup.Dependencies) []domain.Role {
	var out []domain.Role
	for _, r := range domain.KnownRoles {
		if len(deps.Hierarchy.VerifiableRoles(r)) > 0 {
			out = append(out, r)
		}
	}
	return out
}
