package service

import (
	"context"
	"strconv"

	"github.com/examportal/trustcore/shared/domain"
	"golang.org/x/crypto/bcrypt"
)

// bcryptCost is used for issued credentials and the login timing decoy.
var bcryptCost = bcrypt.DefaultCost

// Auditor records security events on the audit trail.
type Auditor interface {
	Record(ctx context.Context, e domain.AuditEvent)
}

// Notifier is the outbound messaging collaborator.
type Notifier interface {
	DeliverCredential(ctx context.Context, u domain.User, credential string) error
	NotifyEscalation(ctx context.Context, u domain.User, authority domain.Role) error
}

func formatId(id int64) string {
	return strconv.FormatInt(id, 10)
}
