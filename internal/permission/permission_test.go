package permission

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/prohmpiriya/taskflow/internal/domain"
)

func TestRoleTable_HasCapability(t *testing.T) {
	table := DefaultRoleTable()

	admin := domain.Actor{ID: "u1", Role: domain.RoleAdmin}
	manager := domain.Actor{ID: "u2", Role: domain.RoleManager}
	member := domain.Actor{ID: "u3", Role: domain.RoleMember}

	tests := []struct {
		capability Capability
		admin      bool
		manager    bool
		member     bool
	}{
		{CreateTask, true, true, true},
		{UpdateTaskStatus, true, true, true},
		{DeleteTask, true, false, false},
		{CreateProject, true, true, false},
		{UpdateProject, true, true, false},
		{DeleteProject, true, false, false},
		{CreateUser, true, true, false},
		{UpdateUser, true, false, false},
		{DeleteUser, true, false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.capability), func(t *testing.T) {
			assert.Equal(t, tt.admin, table.HasCapability(admin, tt.capability), "admin")
			assert.Equal(t, tt.manager, table.HasCapability(manager, tt.capability), "manager")
			assert.Equal(t, tt.member, table.HasCapability(member, tt.capability), "member")
		})
	}
}

func TestRoleTable_DeniesAnonymousAndUnknown(t *testing.T) {
	table := DefaultRoleTable()

	assert.False(t, table.HasCapability(domain.Actor{}, CreateTask))
	assert.False(t, table.HasCapability(domain.Actor{ID: "u1"}, CreateTask))
	assert.False(t, table.HasCapability(domain.Actor{ID: "u1", Role: "OWNER"}, CreateTask))
	assert.False(t, table.HasCapability(domain.Actor{ID: "u1", Role: domain.RoleAdmin}, "ARCHIVE_TASK"))
}

func TestHelpers(t *testing.T) {
	table := DefaultRoleTable()
	member := domain.Actor{ID: "u3", Role: domain.RoleMember}

	assert.True(t, CanCreateTask(table, member))
	assert.True(t, CanUpdateTask(table, member))
	assert.False(t, CanDeleteTask(table, member))
}
