package service

import (
	"context"
	"time"

	"github.com/examportal/trustcore/backend/internal/service/utils"
	"github.com/examportal/trustcore/shared/config"
	"github.com/examportal/trustcore/shared/domain"
	"github.com/examportal/trustcore/shared/errors"
	"github.com/examportal/trustcore/shared/logger"
	"github.com/examportal/trustcore/shared/privacy"
	"github.com/examportal/trustcore/shared/roles"
	sharedutils "github.com/examportal/trustcore/shared/utils"
	"golang.org/x/crypto/bcrypt"
)

const maxReasonLen = 1000

type VerificationService interface {
	VerifiableUsers(ctx context.Context, verifier domain.Authority) ([]domain.User, error)
	EscalatedUsers(ctx context.Context, verifier domain.Authority) ([]domain.User, error)
	VerifyAndIssueCredential(ctx context.Context, verifier domain.Authority, target domain.UserId) (domain.Credential, error)
	Reject(ctx context.Context, verifier domain.Authority, target domain.UserId, reason string) (domain.User, error)
	Escalate(ctx context.Context, target domain.UserId) (domain.User, bool, error)
	EscalateOverdue(ctx context.Context) (int, error)
}

type VerificationStorage interface {
	UsersByStatus(ctx context.Context, status domain.VerificationStatus, rs []domain.Role, scope privacy.PredicateSet) ([]domain.User, error)
	VerifyUser(ctx context.Context, id, verifier domain.UserId, credentialHash string, at time.Time, check func(domain.User) error) (domain.User, error)
	RejectUser(ctx context.Context, id, verifier domain.UserId, reason string, at time.Time, check func(domain.User) error) (domain.User, error)
	EscalateUser(ctx context.Context, id domain.UserId, cutoff, at time.Time) (domain.User, bool, error)
	EscalateOverdue(ctx context.Context, cutoff, at time.Time) ([]domain.User, error)
}

type Verification struct {
	storage          VerificationStorage
	hierarchy        *roles.Hierarchy
	notifier         Notifier
	auditor          Auditor
	sla              time.Duration
	credentialLength int
	now              func() time.Time
}

func NewVerification(storage VerificationStorage, hierarchy *roles.Hierarchy, notifier Notifier, auditor Auditor, cfg config.Verification) *Verification {
	return &Verification{
		storage:          storage,
		hierarchy:        hierarchy,
		notifier:         notifier,
		auditor:          auditor,
		sla:              cfg.SLA,
		credentialLength: cfg.CredentialLength,
		now:              time.Now,
	}
}

// VerifiableUsers lists pending users the verifier may act on, inside the
// verifier's privacy scope.
func (v *Verification) VerifiableUsers(ctx context.Context, verifier domain.Authority) ([]domain.User, error) {
	return v.listScoped(ctx, verifier, domain.StatusPending, v.hierarchy.VerifiableRoles(verifier.Role), v.hierarchy.CanVerify)
}

// EscalatedUsers lists overdue requests that now wait on the verifier.
func (v *Verification) EscalatedUsers(ctx context.Context, verifier domain.Authority) ([]domain.User, error) {
	var rs []domain.Role
	for _, r := range domain.KnownRoles {
		if v.hierarchy.CanResolveEscalated(verifier.Role, r) {
			rs = append(rs, r)
		}
	}
	return v.listScoped(ctx, verifier, domain.StatusEscalated, rs, v.hierarchy.CanResolveEscalated)
}

func (v *Verification) listScoped(ctx context.Context, verifier domain.Authority, status domain.VerificationStatus, rs []domain.Role, may func(verifier, target domain.Role) bool) ([]domain.User, error) {
	if !verifier.Authenticated() {
		return nil, errors.AuthRequired()
	}
	out := []domain.User{}
	if len(rs) == 0 {
		return out, nil
	}
	scope := privacy.Scope(verifier)
	users, err := v.storage.UsersByStatus(ctx, status, rs, scope)
	if err != nil {
		return nil, err
	}
	// scope is applied again here, storage filtering is advisory
	for _, u := range privacy.Filter(scope, users) {
		if u.Status == status && u.Id != verifier.UserId && may(verifier.Role, u.Role) {
			out = append(out, u)
		}
	}
	return out, nil
}

// authorize builds the row check run inside the verification transaction.
func (v *Verification) authorize(verifier domain.Authority) func(domain.User) error {
	return func(u domain.User) error {
		if u.Id == verifier.UserId || !privacy.Scope(verifier).Allows(u) {
			return errors.VerificationNotAuthorized()
		}
		allowed := v.hierarchy.CanResolveEscalated(verifier.Role, u.Role)
		if u.Status == domain.StatusPending {
			allowed = v.hierarchy.CanVerify(verifier.Role, u.Role)
		}
		if !allowed {
			return errors.VerificationNotAuthorized()
		}
		return nil
	}
}

// VerifyAndIssueCredential is the only path from pending or escalated to
// verified. The plaintext credential exists only in this call and in the
// message handed to the notifier.
func (v *Verification) VerifyAndIssueCredential(ctx context.Context, verifier domain.Authority, target domain.UserId) (domain.Credential, error) {
	if !verifier.Authenticated() {
		return domain.Credential{}, errors.AuthRequired()
	}

	plaintext := sharedutils.GenerateCredential(v.credentialLength)
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcryptCost)
	if err != nil {
		logger.Log.Error("failed to hash credential", "component", "verification", "error", err)
		return domain.Credential{}, err
	}

	now := v.now().UTC()
	user, err := v.storage.VerifyUser(ctx, target, verifier.UserId, string(hash), now, v.authorize(verifier))
	if err != nil {
		v.auditDenied(ctx, verifier, target, err)
		return domain.Credential{}, err
	}

	// The state change is committed; delivery is best effort from here on.
	if err := v.notifier.DeliverCredential(ctx, user, plaintext); err != nil {
		logger.Log.Error("credential not handed to notifier", "component", "verification", "user_id", user.Id, "error", err)
	}

	logger.Log.Info("user verified", "component", "verification", "user_id", user.Id, "role", user.Role, "verified_by", verifier.UserId)
	v.auditor.Record(ctx, domain.AuditEvent{Kind: domain.AuditUserVerified, UserId: verifier.UserId, Detail: detailForTarget(user)})
	return domain.Credential{UserId: user.Id, IssuedBy: verifier.UserId, IssuedAt: now}, nil
}

// Reject closes an open request. The reason is stored as plain text.
func (v *Verification) Reject(ctx context.Context, verifier domain.Authority, target domain.UserId, reason string) (domain.User, error) {
	if !verifier.Authenticated() {
		return domain.User{}, errors.AuthRequired()
	}
	reason = utils.SanitizeText(reason, maxReasonLen)
	if reason == "" {
		return domain.User{}, errors.Validation("Rejection reason is required")
	}

	user, err := v.storage.RejectUser(ctx, target, verifier.UserId, reason, v.now().UTC(), v.authorize(verifier))
	if err != nil {
		v.auditDenied(ctx, verifier, target, err)
		return domain.User{}, err
	}

	logger.Log.Info("user rejected", "component", "verification", "user_id", user.Id, "rejected_by", verifier.UserId)
	v.auditor.Record(ctx, domain.AuditEvent{Kind: domain.AuditUserRejected, UserId: verifier.UserId, Detail: detailForTarget(user)})
	return user, nil
}

// Escalate moves one overdue pending request to escalated. Calling it again is a
// no-op: nothing changes and nobody is notified twice.
func (v *Verification) Escalate(ctx context.Context, target domain.UserId) (domain.User, bool, error) {
	now := v.now().UTC()
	u, changed, err := v.storage.EscalateUser(ctx, target, now.Add(-v.sla), now)
	if err != nil {
		return domain.User{}, false, err
	}
	if changed {
		v.announce(ctx, u)
	}
	return u, changed, nil
}

// EscalateOverdue escalates every pending request older than the SLA.
func (v *Verification) EscalateOverdue(ctx context.Context) (int, error) {
	now := v.now().UTC()
	users, err := v.storage.EscalateOverdue(ctx, now.Add(-v.sla), now)
	if err != nil {
		return 0, err
	}
	for _, u := range users {
		v.announce(ctx, u)
	}
	if len(users) > 0 {
		logger.Log.Info("escalated overdue verification requests", "component", "escalation", "count", len(users))
	}
	return len(users), nil
}

// StartBackgroundEscalation sweeps for overdue requests on every tick.
func (v *Verification) StartBackgroundEscalation(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	logger.Log.Info("started escalation sweep", "component", "escalation", "interval", interval, "sla", v.sla)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := v.EscalateOverdue(ctx); err != nil {
					logger.Log.Error("escalation sweep failed", "component", "escalation", "error", err)
				}
			case <-ctx.Done():
				logger.Log.Info("escalation sweep shutting down", "component", "escalation")
				return
			}
		}
	}()
}

func (v *Verification) announce(ctx context.Context, u domain.User) {
	authority := v.hierarchy.NextAuthority(u.Role)
	if err := v.notifier.NotifyEscalation(ctx, u, authority); err != nil {
		logger.Log.Error("escalation notice not queued", "component", "escalation", "user_id", u.Id, "error", err)
	}
	v.auditor.Record(ctx, domain.AuditEvent{Kind: domain.AuditUserEscalated, Detail: detailForTarget(u) + " to " + string(authority)})
}

func (v *Verification) auditDenied(ctx context.Context, verifier domain.Authority, target domain.UserId, err error) {
	if !errors.IsKind(err, errors.KindVerificationNotAuthorized) {
		return
	}
	v.auditor.Record(ctx, domain.AuditEvent{
		Kind:   domain.AuditVerificationDenied,
		UserId: verifier.UserId,
		Detail: "target user " + formatId(target) + " as " + string(verifier.Role),
	})
}

func detailForTarget(u domain.User) string {
	return "user " + formatId(u.Id) + " (" + string(u.Role) + ")"
}
