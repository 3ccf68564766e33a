package roles

import (
	"fmt"

	"github.com/examportal/trustcore/shared/domain"
)

// DefaultMapping is the verification chain used when configuration has none:
// principal verifies vice-principal, vice-principal verifies hod, hod verifies faculty.
var DefaultMapping = map[string]string{
	string(domain.RoleVicePrincipal): string(domain.RolePrincipal),
	string(domain.RoleHod):           string(domain.RoleVicePrincipal),
	string(domain.RoleFaculty):       string(domain.RoleHod),
}

// Hierarchy is the target -> verifier mapping. Admin outranks everyone and may
// verify any known role except admin; every other verifier reaches exactly one level.
type Hierarchy struct {
	verifierOf map[domain.Role]domain.Role
}

// NewHierarchy builds a hierarchy from configuration data (target -> verifier).
// An empty mapping yields DefaultMapping.
func NewHierarchy(mapping map[string]string) (*Hierarchy, error) {
	if len(mapping) == 0 {
		mapping = DefaultMapping
	}

	h := &Hierarchy{verifierOf: make(map[domain.Role]domain.Role, len(mapping))}
	for rawTarget, rawVerifier := range mapping {
		target, verifier := Normalize(rawTarget), Normalize(rawVerifier)
		switch {
		case !target.Known():
			return nil, fmt.Errorf("hierarchy: unknown target role %q", rawTarget)
		case !verifier.Known():
			return nil, fmt.Errorf("hierarchy: unknown verifier role %q", rawVerifier)
		case target == domain.RoleAdmin:
			return nil, fmt.Errorf("hierarchy: admin cannot be a verification target")
		case target == verifier:
			return nil, fmt.Errorf("hierarchy: role %q cannot verify itself", target)
		}
		if prev, ok := h.verifierOf[target]; ok && prev != verifier {
			return nil, fmt.Errorf("hierarchy: role %q has two verifiers (%q, %q)", target, prev, verifier)
		}
		h.verifierOf[target] = verifier
	}

	for target := range h.verifierOf {
		seen := map[domain.Role]bool{target: true}
		for r, ok := h.verifierOf[target]; ok; r, ok = h.verifierOf[r] {
			if seen[r] {
				return nil, fmt.Errorf("hierarchy: cycle through role %q", r)
			}
			seen[r] = true
		}
	}
	return h, nil
}

// MustDefault returns the built-in hierarchy.
func MustDefault() *Hierarchy {
	h, err := NewHierarchy(DefaultMapping)
	if err != nil {
		panic(err)
	}
	return h
}

// CanVerify is true iff target sits exactly one level below verifier, or verifier
// is admin. It is never reflexive and never transitive.
func (h *Hierarchy) CanVerify(verifier, target domain.Role) bool {
	if !verifier.Known() || !target.Known() || verifier == target {
		return false
	}
	if verifier == domain.RoleAdmin {
		return true
	}
	v, ok := h.verifierOf[target]
	return ok && v == verifier
}

// VerifiableRoles lists the roles verifier may act on, in KnownRoles order.
func (h *Hierarchy) VerifiableRoles(verifier domain.Role) []domain.Role {
	var out []domain.Role
	for _, r := range domain.KnownRoles {
		if h.CanVerify(verifier, r) {
			out = append(out, r)
		}
	}
	return out
}

// NextAuthority is who an overdue request for target escalates to: the verifier of
// target's verifier, or admin when the chain ends.
func (h *Hierarchy) NextAuthority(target domain.Role) domain.Role {
	v, ok := h.verifierOf[target]
	if !ok {
		return domain.RoleAdmin
	}
	if next, ok := h.verifierOf[v]; ok {
		return next
	}
	return domain.RoleAdmin
}

// CanResolveEscalated reports whether verifier may act on an escalated request
// for target: the regular verifier, the next authority, or admin.
func (h *Hierarchy) CanResolveEscalated(verifier, target domain.Role) bool {
	if h.CanVerify(verifier, target) {
		return true
	}
	return verifier.Known() && verifier != target && verifier == h.NextAuthority(target)
}
