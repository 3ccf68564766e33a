// Package roles turns free-text role strings into domain.Role values and decides
// who may verify whom.
package roles

import (
	"strings"

	"github.com/examportal/trustcore/shared/domain"
)

var aliases = map[string]domain.Role{
	"admin":              domain.RoleAdmin,
	"administrator":      domain.RoleAdmin,
	"superadmin":         domain.RoleAdmin,
	"super admin":        domain.RoleAdmin,
	"system admin":       domain.RoleAdmin,
	"principal":          domain.RolePrincipal,
	"vp":                 domain.RoleVicePrincipal,
	"vice principal":     domain.RoleVicePrincipal,
	"viceprincipal":      domain.RoleVicePrincipal,
	"hod":                domain.RoleHod,
	"head of department": domain.RoleHod,
	"head of dept":       domain.RoleHod,
	"department head":    domain.RoleHod,
	"faculty":            domain.RoleFaculty,
	"teacher":            domain.RoleFaculty,
	"lecturer":           domain.RoleFaculty,
	"professor":          domain.RoleFaculty,
	"external examiner":  domain.RoleExternalExaminer,
	"externalexaminer":   domain.RoleExternalExaminer,
	"examiner":           domain.RoleExternalExaminer,
	"external":           domain.RoleExternalExaminer,
}

// Normalize maps every accepted spelling ("vp", "vice_principal", "Vice Principal")
// to its domain.Role. Anything else is domain.RoleUnknown.
func Normalize(raw string) domain.Role {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer("_", " ", "-", " ", ".", " ").Replace(s)
	s = strings.Join(strings.Fields(s), " ")
	if r, ok := aliases[s]; ok {
		return r
	}
	return domain.RoleUnknown
}

// AnyOf reports whether r is one of the given roles. Unknown never matches.
func AnyOf(r domain.Role, allowed ...domain.Role) bool {
	if !r.Known() {
		return false
	}
	for _, a := range allowed {
		if r == a {
			return true
		}
	}
	return false
}
