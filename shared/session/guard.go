package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/examportal/trustcore/shared/domain"
	apperrors "github.com/examportal/trustcore/shared/errors"
	"github.com/examportal/trustcore/shared/logger"
	"github.com/examportal/trustcore/shared/utils"
)

const (
	idBytes    = 32
	nonceBytes = 16
)

// Auditor receives security events. Implementations must not block the caller
// on storage failures.
type Auditor interface {
	Record(ctx context.Context, e domain.AuditEvent)
}

// Client is what the guard sees of the current request.
type Client struct {
	UserAgent string
	IP        domain.IP
}

// DefaultRotationGrace is how long a periodically rotated id keeps resolving to its
// successor, so requests already in flight with the old cookie still succeed.
const DefaultRotationGrace = 30 * time.Second

type Config struct {
	IdleTimeout      time.Duration
	RotationInterval time.Duration
	RotationGrace    time.Duration
}

// Guard validates sessions on every request. Callers get a value snapshot; a session
// destroyed after Open returns does not affect the snapshot already handed out.
type Guard struct {
	store   Store
	cfg     Config
	auditor Auditor
	now     func() time.Time
}

func NewGuard(store Store, cfg Config, auditor Auditor) *Guard {
	if cfg.RotationGrace <= 0 {
		cfg.RotationGrace = DefaultRotationGrace
	}
	return &Guard{store: store, cfg: cfg, auditor: auditor, now: time.Now}
}

// Fingerprint binds a session to its client.
func Fingerprint(userAgent string) string {
	return utils.HashSHA256(userAgent)
}

// Open resolves the session for a request. An empty id issues a new anonymous session.
func (g *Guard) Open(ctx context.Context, id string, c Client) (domain.Session, error) {
	if id == "" {
		return g.issue(ctx, domain.Authority{}, Fingerprint(c.UserAgent))
	}

	s, err := g.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return domain.Session{}, apperrors.AuthRequired()
	}
	if err != nil {
		return domain.Session{}, err
	}

	now := g.now()
	fp := Fingerprint(c.UserAgent)
	if subtle.ConstantTimeCompare([]byte(fp), []byte(s.Fingerprint)) != 1 {
		if err := g.store.Delete(ctx, s.Id); err != nil {
			logger.Log.Error("failed to destroy hijacked session", "component", "session_guard", "session", logger.Ref(id), "error", err)
		}
		g.audit(ctx, domain.AuditEvent{
			Kind:       domain.AuditHijackSuspected,
			UserId:     s.Authority.UserId,
			IP:         c.IP,
			SessionRef: logger.Ref(id),
			Detail:     "client fingerprint changed",
		})
		return domain.Session{}, apperrors.HijackSuspected()
	}

	if now.Sub(s.LastActivity) > g.cfg.IdleTimeout {
		if err := g.store.Delete(ctx, s.Id); err != nil {
			logger.Log.Error("failed to destroy idle session", "component", "session_guard", "session", logger.Ref(id), "error", err)
		}
		if s.Authenticated() {
			g.audit(ctx, domain.AuditEvent{
				Kind:       domain.AuditSessionExpired,
				UserId:     s.Authority.UserId,
				IP:         c.IP,
				SessionRef: logger.Ref(id),
				Detail:     "idle timeout",
			})
		} else {
			logger.Log.Debug("anonymous session expired", "component", "session_guard", "session", logger.Ref(id))
		}
		return domain.Session{}, apperrors.SessionExpired()
	}

	s.LastActivity = now
	if now.Sub(s.RotatedAt) >= g.cfg.RotationInterval {
		return g.rotate(ctx, s.Id, s, g.cfg.RotationGrace)
	}

	if err := g.store.Update(ctx, s); err != nil {
		if errors.Is(err, ErrNotFound) {
			return domain.Session{}, apperrors.AuthRequired()
		}
		return domain.Session{}, err
	}
	return s, nil
}

// Elevate regenerates the session for a freshly authenticated user: new id, new
// nonce. Tokens bound to the old nonce stop validating.
func (g *Guard) Elevate(ctx context.Context, s domain.Session, a domain.Authority) (domain.Session, error) {
	nonce, err := utils.RandomToken(nonceBytes)
	if err != nil {
		return domain.Session{}, err
	}
	oldID := s.Id
	s.Authority = a
	s.Nonce = nonce
	s.LastActivity = g.now()

	// no grace: the pre-login id must die at once
	elevated, err := g.rotate(ctx, oldID, s, 0)
	if err != nil {
		return domain.Session{}, err
	}
	logger.Log.Info("session elevated", "component", "session_guard", "session", logger.Ref(elevated.Id), "user_id", a.UserId, "role", a.Role)
	return elevated, nil
}

// Destroy ends a session. Destroying an unknown id is not an error.
func (g *Guard) Destroy(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := g.store.Delete(ctx, id); err != nil {
		return err
	}
	logger.Log.Info("session destroyed", "component", "session_guard", "session", logger.Ref(id))
	return nil
}

func (g *Guard) issue(ctx context.Context, a domain.Authority, fingerprint string) (domain.Session, error) {
	id, err := utils.RandomToken(idBytes)
	if err != nil {
		return domain.Session{}, err
	}
	nonce, err := utils.RandomToken(nonceBytes)
	if err != nil {
		return domain.Session{}, err
	}
	now := g.now()
	s := domain.Session{
		Id:           id,
		Nonce:        nonce,
		Authority:    a,
		Fingerprint:  fingerprint,
		CreatedAt:    now,
		LastActivity: now,
		RotatedAt:    now,
	}
	if err := g.store.Create(ctx, s); err != nil {
		return domain.Session{}, fmt.Errorf("failed to create session: %w", err)
	}
	return s, nil
}

func (g *Guard) rotate(ctx context.Context, oldID string, s domain.Session, grace time.Duration) (domain.Session, error) {
	id, err := utils.RandomToken(idBytes)
	if err != nil {
		return domain.Session{}, err
	}
	s.Id = id
	s.RotatedAt = g.now()
	if err := g.store.Rotate(ctx, oldID, s, grace); err != nil {
		if errors.Is(err, ErrRotated) && grace > 0 {
			// a concurrent request rotated first; join its successor
			return g.successor(ctx, oldID)
		}
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrRotated) {
			return domain.Session{}, apperrors.AuthRequired()
		}
		return domain.Session{}, fmt.Errorf("failed to rotate session: %w", err)
	}
	return s, nil
}

func (g *Guard) successor(ctx context.Context, oldID string) (domain.Session, error) {
	s, err := g.store.Get(ctx, oldID)
	if errors.Is(err, ErrNotFound) {
		return domain.Session{}, apperrors.AuthRequired()
	}
	if err != nil {
		return domain.Session{}, err
	}
	return s, nil
}

func (g *Guard) audit(ctx context.Context, e domain.AuditEvent) {
	if g.auditor != nil {
		g.auditor.Record(ctx, e)
	}
}
