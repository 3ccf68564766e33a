package domain

// Role is the closed set of normalized roles. Free-text role strings become a Role
// only through roles.Normalize.
type Role string

const (
	RoleAdmin            Role = "admin"
	RolePrincipal        Role = "principal"
	RoleVicePrincipal    Role = "vice-principal"
	RoleHod              Role = "hod"
	RoleFaculty          Role = "faculty"
	RoleExternalExaminer Role = "external-examiner"
	// RoleUnknown is granted no authority anywhere.
	RoleUnknown Role = "unknown"
)

// KnownRoles lists every role that carries authority, highest first.
var KnownRoles = []Role{
	RoleAdmin,
	RolePrincipal,
	RoleVicePrincipal,
	RoleHod,
	RoleFaculty,
	RoleExternalExaminer,
}

func (r Role) Known() bool {
	for _, k := range KnownRoles {
		if r == k {
			return true
		}
	}
	return false
}

func (r Role) String() string {
	return string(r)
}

// Authority is the snapshot of who the caller is, taken when a session is opened
// and threaded explicitly into every service call.
type Authority struct {
	UserId       UserId       `json:"user_id"`
	Role         Role         `json:"role"`
	CollegeId    CollegeId    `json:"college_id"`
	DepartmentId DepartmentId `json:"department_id"`
}

func (a Authority) Authenticated() bool {
	return a.UserId != 0
}
