package service

import (
	"context"
	"strings"

	"github.com/examportal/trustcore/shared/domain"
	"github.com/examportal/trustcore/shared/errors"
	"github.com/examportal/trustcore/shared/lockout"
	"github.com/examportal/trustcore/shared/logger"
	"github.com/examportal/trustcore/shared/utils"
	"golang.org/x/crypto/bcrypt"
)

type AuthService interface {
	Login(ctx context.Context, s domain.Session, ip domain.IP, creds domain.Credentials) (domain.Session, error)
	Logout(ctx context.Context, s domain.Session) error
}

type AuthStorage interface {
	UserByEmail(ctx context.Context, email domain.Email) (domain.User, error)
}

// Sessions is the part of the session guard the auth flow drives.
type Sessions interface {
	Elevate(ctx context.Context, s domain.Session, a domain.Authority) (domain.Session, error)
	Destroy(ctx context.Context, id string) error
}

// LoginGuard is the brute-force policy.
type LoginGuard interface {
	IsLocked(ctx context.Context, account string) bool
	RecordLoginOutcome(ctx context.Context, ip domain.IP, account string, success bool) lockout.Outcome
}

// CsrfTokens drops the tokens bound to a session nonce.
type CsrfTokens interface {
	Forget(nonce string)
}

type Auth struct {
	storage  AuthStorage
	sessions Sessions
	lockout  LoginGuard
	csrf     CsrfTokens
	auditor  Auditor
	// decoy is compared when the account does not exist so both paths cost a bcrypt run.
	decoy []byte
}

func NewAuth(storage AuthStorage, sessions Sessions, lockout LoginGuard, csrf CsrfTokens, auditor Auditor) *Auth {
	decoy, err := bcrypt.GenerateFromPassword([]byte(utils.GenerateCredential(16)), bcryptCost)
	if err != nil {
		panic("failed to build login decoy hash: " + err.Error())
	}
	return &Auth{
		storage:  storage,
		sessions: sessions,
		lockout:  lockout,
		csrf:     csrf,
		auditor:  auditor,
		decoy:    decoy,
	}
}

func invalidCredentials() error {
	return errors.New(errors.KindAuthRequired, "Invalid email or password")
}

// Login authenticates creds and elevates s. A locked account is refused before
// the credential is looked at.
func (a *Auth) Login(ctx context.Context, s domain.Session, ip domain.IP, creds domain.Credentials) (domain.Session, error) {
	account := strings.ToLower(strings.TrimSpace(creds.Email))

	if a.lockout.IsLocked(ctx, account) {
		a.lockout.RecordLoginOutcome(ctx, ip, account, false)
		return domain.Session{}, errors.AccountLocked()
	}

	user, err := a.storage.UserByEmail(ctx, account)
	if err != nil && !errors.IsNotFound(err) {
		return domain.Session{}, err
	}
	found := err == nil

	hash := a.decoy
	if found && user.CredentialHash != "" {
		hash = []byte(user.CredentialHash)
	}
	match := bcrypt.CompareHashAndPassword(hash, []byte(creds.Password)) == nil

	if !found || !match || !user.Verified() {
		out := a.lockout.RecordLoginOutcome(ctx, ip, account, false)
		if out.Locked {
			return domain.Session{}, errors.AccountLocked()
		}
		return domain.Session{}, invalidCredentials()
	}

	a.lockout.RecordLoginOutcome(ctx, ip, account, true)
	elevated, err := a.sessions.Elevate(ctx, s, user.Authority())
	if err != nil {
		return domain.Session{}, err
	}
	a.csrf.Forget(s.Nonce)

	logger.Log.Info("user logged in", "component", "auth", "user_id", user.Id, "role", user.Role)
	a.auditor.Record(ctx, domain.AuditEvent{
		Kind:       domain.AuditLoginSucceeded,
		UserId:     user.Id,
		IP:         ip,
		SessionRef: logger.Ref(elevated.Id),
	})
	return elevated, nil
}

// Logout destroys the session and every CSRF token bound to it.
func (a *Auth) Logout(ctx context.Context, s domain.Session) error {
	a.csrf.Forget(s.Nonce)
	return a.sessions.Destroy(ctx, s.Id)
}
