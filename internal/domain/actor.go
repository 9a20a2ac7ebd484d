package domain

import "strings"

// Role is a tenant-scoped user role
type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleManager Role = "MANAGER"
	RoleMember  Role = "MEMBER"
)

// ParseRole normalises a role claim; unknown roles come back empty
func ParseRole(s string) Role {
	switch r := Role(strings.ToUpper(strings.TrimSpace(s))); r {
	case RoleAdmin, RoleManager, RoleMember:
		return r
	default:
		return ""
	}
}

// Actor is the user performing an operation
type Actor struct {
	ID   string
	Role Role
}

// IsLeastPrivileged reports whether the actor holds the lowest role
func (a Actor) IsLeastPrivileged() bool {
	return a.Role == RoleMember
}
