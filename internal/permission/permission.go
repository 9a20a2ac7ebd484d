package permission

import (
	"github.com/prohmpiriya/taskflow/internal/domain"
)

// Capability names an action guarded by role
type Capability string

const (
	CreateTask       Capability = "CREATE_TASK"
	UpdateTaskStatus Capability = "UPDATE_TASK_STATUS"
	DeleteTask       Capability = "DELETE_TASK"
	CreateProject    Capability = "CREATE_PROJECT"
	UpdateProject    Capability = "UPDATE_PROJECT"
	DeleteProject    Capability = "DELETE_PROJECT"
	CreateUser       Capability = "CREATE_USER"
	UpdateUser       Capability = "UPDATE_USER"
	DeleteUser       Capability = "DELETE_USER"
)

// Checker answers capability questions. Implementations must be pure.
type Checker interface {
	HasCapability(actor domain.Actor, capability Capability) bool
}

// RoleTable grants capabilities by role
type RoleTable map[Capability]map[domain.Role]struct{}

func roles(rs ...domain.Role) map[domain.Role]struct{} {
	m := make(map[domain.Role]struct{}, len(rs))
	for _, r := range rs {
		m[r] = struct{}{}
	}
	return m
}

// DefaultRoleTable returns the standard ADMIN/MANAGER/MEMBER grants
func DefaultRoleTable() RoleTable {
	all := []domain.Role{domain.RoleAdmin, domain.RoleManager, domain.RoleMember}
	staff := []domain.Role{domain.RoleAdmin, domain.RoleManager}

	return RoleTable{
		CreateTask:       roles(all...),
		UpdateTaskStatus: roles(all...),
		DeleteTask:       roles(domain.RoleAdmin),
		CreateProject:    roles(staff...),
		UpdateProject:    roles(staff...),
		DeleteProject:    roles(domain.RoleAdmin),
		CreateUser:       roles(staff...),
		UpdateUser:       roles(domain.RoleAdmin),
		DeleteUser:       roles(domain.RoleAdmin),
	}
}

// HasCapability reports whether the actor's role is granted capability.
// Anonymous actors and unknown roles are granted nothing.
func (t RoleTable) HasCapability(actor domain.Actor, capability Capability) bool {
	if actor.ID == "" || actor.Role == "" {
		return false
	}
	granted, ok := t[capability]
	if !ok {
		return false
	}
	_, ok = granted[actor.Role]
	return ok
}

func CanCreateTask(c Checker, a domain.Actor) bool { return c.HasCapability(a, CreateTask) }
func CanUpdateTask(c Checker, a domain.Actor) bool { return c.HasCapability(a, UpdateTaskStatus) }
func CanDeleteTask(c Checker, a domain.Actor) bool { return c.HasCapability(a, DeleteTask) }
