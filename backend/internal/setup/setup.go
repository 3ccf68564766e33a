package setup

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/examportal/trustcore/backend/internal/handler"
	"github.com/examportal/trustcore/backend/internal/notify"
	"github.com/examportal/trustcore/backend/internal/service"
	"github.com/examportal/trustcore/backend/internal/storage/pg"
	"github.com/examportal/trustcore/shared/audit"
	"github.com/examportal/trustcore/shared/blacklist"
	"github.com/examportal/trustcore/shared/config"
	"github.com/examportal/trustcore/shared/csrf"
	"github.com/examportal/trustcore/shared/lockout"
	"github.com/examportal/trustcore/shared/logger"
	mw "github.com/examportal/trustcore/shared/middleware"
	"github.com/examportal/trustcore/shared/ratelimiter"
	"github.com/examportal/trustcore/shared/roles"
	"github.com/examportal/trustcore/shared/session"
	"github.com/examportal/trustcore/shared/utils"
)

// Dependencies struct to hold all initialized dependencies.
type Dependencies struct {
	Config         *config.Config
	Storage        *pg.Storage
	Redis          *redis.Client // nil when not configured or unreachable
	Handler        *handler.Handler
	AuthMiddleware *mw.Auth
	Csrf           *csrf.Manager
	RateLimiter    *ratelimiter.Registry
	BlacklistCache *blacklist.Cache
	Hierarchy      *roles.Hierarchy
	Lockout        *lockout.Guard
	Verification   *service.Verification
	Notifier       *notify.Dispatcher

	memorySessions *session.MemoryStore
}

// SetupDependencies initializes all dependencies required for the application.
func SetupDependencies(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	hierarchy, err := roles.NewHierarchy(cfg.Public.Verification.Hierarchy)
	if err != nil {
		return nil, err
	}

	if err := utils.SetTrustedProxies(cfg.Public.TrustedProxies); err != nil {
		return nil, err
	}

	storage, err := pg.New(ctx, cfg)
	if err != nil {
		return nil, err
	}

	deps := &Dependencies{Config: cfg, Storage: storage, Hierarchy: hierarchy}
	deps.Redis = connectRedis(ctx, cfg.Private.Redis)

	recorder := audit.NewRecorder(storage)

	var store session.Store
	if cfg.Public.Session.Store == "redis" && deps.Redis != nil {
		store = session.NewRedisStore(deps.Redis, cfg.Public.Session.IdleTimeout)
		logger.Log.Info("using redis session store", "component", "session_guard")
	} else {
		deps.memorySessions = session.NewMemoryStore(cfg.Public.Session.IdleTimeout)
		store = deps.memorySessions
	}
	guard := session.NewGuard(store, session.Config{
		IdleTimeout:      cfg.Public.Session.IdleTimeout,
		RotationInterval: cfg.Public.Session.RotationInterval,
		RotationGrace:    cfg.Public.Session.RotationGrace,
	}, recorder)

	deps.Csrf = csrf.New(csrf.Config{MaxAge: cfg.Public.Csrf.MaxAge, OneTimeScopes: cfg.Public.Csrf.OneTimeScopes})
	deps.RateLimiter = ratelimiter.FromConfig(cfg.Public.RateLimit, deps.Redis)
	deps.AuthMiddleware = mw.NewAuth(guard, recorder, cfg.Public.Session.CookieName, cfg.Public.SecureCookies)

	deps.BlacklistCache = blacklist.NewCache(storage)
	if err := deps.BlacklistCache.Update(ctx); err != nil {
		logger.Log.Error("initial blacklist cache load failed", "component", "blacklist_cache", "error", err)
	}
	blacklistService := service.NewBlacklist(storage, deps.BlacklistCache)

	lockoutCfg := lockout.Config{
		MaxFailures:   cfg.Public.Lockout.MaxFailures,
		Window:        cfg.Public.Lockout.Window,
		LockDuration:  cfg.Public.Lockout.LockDuration,
		IPThreshold:   cfg.Public.Lockout.IPThreshold,
		IPBanDuration: cfg.Public.Lockout.IPBanDuration,
		Retention:     cfg.Public.Lockout.Retention,
	}
	var counters lockout.Counters
	if deps.Redis != nil {
		counters = lockout.NewRedisCounters(deps.Redis, lockoutCfg)
	}
	deps.Lockout = lockout.New(lockoutCfg, counters, blacklistService, storage, recorder)

	var sink notify.Sink = notify.LogSink{}
	if cfg.Private.Email.SMTPServer != "" {
		sink = notify.NewMailSink(&cfg.Private.Email)
	}
	deps.Notifier = notify.NewDispatcher(sink, 0)

	auth := service.NewAuth(storage, guard, deps.Lockout, deps.Csrf, recorder)
	deps.Verification = service.NewVerification(storage, hierarchy, deps.Notifier, recorder, cfg.Public.Verification)
	assignment := service.NewAssignment(storage, recorder, cfg.Public.Assignment.WorkloadCeiling)

	deps.Handler = handler.New(auth, deps.Verification, assignment, blacklistService, deps.Csrf, deps.AuthMiddleware, storage, cfg)
	return deps, nil
}

// StartBackground launches every periodic job. They all stop with ctx.
func (d *Dependencies) StartBackground(ctx context.Context) {
	pub := d.Config.Public
	// the dispatcher is stopped by Close so queued messages still drain on shutdown
	d.Notifier.Start(context.WithoutCancel(ctx))
	d.BlacklistCache.StartBackgroundUpdate(ctx, pub.BlacklistRefreshInterval)
	d.Csrf.StartBackgroundPurge(ctx, pub.Csrf.PurgeInterval)
	d.Lockout.StartBackgroundPurge(ctx, pub.Lockout.PurgeInterval)
	d.Verification.StartBackgroundEscalation(ctx, pub.Verification.EscalationInterval)
	if d.memorySessions != nil {
		d.memorySessions.StartBackgroundPurge(ctx, pub.Session.IdleTimeout)
	}
}

// Close drains the notifier and releases connections.
func (d *Dependencies) Close() error {
	d.Notifier.Close()
	var errs []error
	if d.Redis != nil {
		errs = append(errs, d.Redis.Close())
	}
	errs = append(errs, d.Storage.Cleanup())
	return errors.Join(errs...)
}

// connectRedis returns nil when Redis is not configured or does not answer; callers
// fall back to in-process stores.
func connectRedis(ctx context.Context, cfg config.Redis) *redis.Client {
	if cfg.Addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Log.Warn("redis unavailable, using in-process stores", "component", "setup", "addr", cfg.Addr, "error", err)
		client.Close()
		return nil
	}
	logger.Log.Info("connected to redis", "component", "setup", "addr", cfg.Addr)
	return client
}
