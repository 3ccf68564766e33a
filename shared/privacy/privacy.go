// Package privacy scopes data access to the caller's authority. The same predicate
// is rendered into SQL for storage and re-applied in Go before results leave a service.
package privacy

import (
	"fmt"
	"strings"

	"github.com/examportal/trustcore/shared/domain"
)

type Level int

const (
	LevelNone Level = iota
	LevelSelf
	LevelDepartment
	LevelCollege
	LevelGlobal
)

func (l Level) String() string {
	switch l {
	case LevelSelf:
		return "self"
	case LevelDepartment:
		return "department"
	case LevelCollege:
		return "college"
	case LevelGlobal:
		return "global"
	default:
		return "none"
	}
}

// Record is anything tagged with a subject, a college and a department.
type Record interface {
	SubjectId() domain.UserId
	College() domain.CollegeId
	Department() domain.DepartmentId
}

type verifiable interface {
	Verified() bool
}

// PredicateSet is what data access may see. The zero value denies everything.
type PredicateSet struct {
	Level        Level
	SubjectId    domain.UserId
	CollegeId    domain.CollegeId
	DepartmentId domain.DepartmentId
	// VerifiedOnly limits the set to verified users (nomination and availability lists).
	VerifiedOnly bool
}

// Deny is the empty set.
var Deny = PredicateSet{Level: LevelNone}

// Scope derives the predicate for a caller.
func Scope(a domain.Authority) PredicateSet {
	if !a.Authenticated() {
		return Deny
	}
	switch a.Role {
	case domain.RoleAdmin:
		return PredicateSet{Level: LevelGlobal}
	case domain.RolePrincipal, domain.RoleVicePrincipal:
		return PredicateSet{Level: LevelCollege, CollegeId: a.CollegeId}
	case domain.RoleHod:
		return PredicateSet{Level: LevelDepartment, CollegeId: a.CollegeId, DepartmentId: a.DepartmentId}
	case domain.RoleFaculty, domain.RoleExternalExaminer:
		return PredicateSet{Level: LevelSelf, SubjectId: a.UserId}
	default:
		return Deny
	}
}

// ScopeFaculty is Scope narrowed to verified people, used when listing faculty
// for nomination or availability.
func ScopeFaculty(a domain.Authority) PredicateSet {
	p := Scope(a)
	if p.Level != LevelNone {
		p.VerifiedOnly = true
	}
	return p
}

func (p PredicateSet) Allows(r Record) bool {
	if p.VerifiedOnly {
		v, ok := r.(verifiable)
		if !ok || !v.Verified() {
			return false
		}
	}
	switch p.Level {
	case LevelGlobal:
		return true
	case LevelCollege:
		return r.College() == p.CollegeId
	case LevelDepartment:
		return r.College() == p.CollegeId && r.Department() == p.DepartmentId
	case LevelSelf:
		return r.SubjectId() == p.SubjectId
	default:
		return false
	}
}

// Filter keeps the records p allows, in order.
func Filter[T Record](p PredicateSet, records []T) []T {
	out := make([]T, 0, len(records))
	for _, r := range records {
		if p.Allows(r) {
			out = append(out, r)
		}
	}
	return out
}

// Columns names the table columns a predicate is rendered against. An empty column
// that the predicate needs makes the fragment deny.
type Columns struct {
	Subject    string
	College    string
	Department string
	Status     string // compared with 'verified' when VerifiedOnly is set
}

// SQL renders p as a parameterised WHERE fragment. Placeholders start at
// $argOffset+1.
func (p PredicateSet) SQL(c Columns, argOffset int) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(column string, value any) bool {
		if column == "" {
			return false
		}
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", column, argOffset+len(args)))
		return true
	}

	ok := true
	switch p.Level {
	case LevelGlobal:
	case LevelCollege:
		ok = add(c.College, p.CollegeId)
	case LevelDepartment:
		ok = add(c.College, p.CollegeId) && add(c.Department, p.DepartmentId)
	case LevelSelf:
		ok = add(c.Subject, p.SubjectId)
	default:
		ok = false
	}
	if ok && p.VerifiedOnly {
		ok = add(c.Status, string(domain.StatusVerified))
	}

	if !ok {
		return "FALSE", nil
	}
	if len(clauses) == 0 {
		return "TRUE", nil
	}
	return strings.Join(clauses, " AND "), args
}
