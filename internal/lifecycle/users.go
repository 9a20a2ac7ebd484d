package lifecycle

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/prohmpiriya/taskflow/internal/domain"
	"github.com/prohmpiriya/taskflow/internal/permission"
	"github.com/prohmpiriya/taskflow/internal/store"
	"github.com/prohmpiriya/taskflow/internal/tenantdb"
)

// CreateUserInput holds the fields of a new user. An empty ID is generated.
type CreateUserInput struct {
	ID       string
	Username string
	Email    string
	Role     string
}

func validUsername(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", domain.Required("username")
	}
	return name, nil
}

func validRole(raw string) (domain.Role, error) {
	r := domain.ParseRole(raw)
	if r == "" {
		return "", &domain.ValidationError{Field: "role", Message: "must be one of ADMIN, MANAGER, MEMBER"}
	}
	return r, nil
}

// CreateUser adds a user to the tenant. Nobody can grant a role above their
// own.
func (e *Engine) CreateUser(ctx context.Context, h *tenantdb.Handle, actor domain.Actor, in CreateUserInput) (u *domain.User, err error) {
	ctx, finish := e.begin(ctx, "CreateUser", h)
	defer finish(&err)

	if err := e.authorize(actor, permission.CreateUser); err != nil {
		return nil, err
	}
	username, err := validUsername(in.Username)
	if err != nil {
		return nil, err
	}
	email, err := domain.NormalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	role, err := validRole(in.Role)
	if err != nil {
		return nil, err
	}
	if role.Rank() > actor.Role.Rank() {
		return nil, domain.ErrPermissionDenied
	}
	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = uuid.NewString()
	}

	s, err := storeOf(h)
	if err != nil {
		return nil, err
	}

	now := e.now()
	u = &domain.User{
		ID:        id,
		Username:  username,
		Email:     email,
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = s.InTx(ctx, func(tx store.Tx) error {
		return tx.InsertUser(ctx, u)
	})
	if err != nil {
		return nil, domain.StorageError(err)
	}
	return u, nil
}

// GetUser returns a user. Anyone may read their own record.
func (e *Engine) GetUser(ctx context.Context, h *tenantdb.Handle, actor domain.Actor, id string) (u *domain.User, err error) {
	ctx, finish := e.begin(ctx, "GetUser", h)
	defer finish(&err)

	if err := authenticated(actor); err != nil {
		return nil, err
	}
	if actor.ID != id {
		if err := e.authorize(actor, permission.CreateUser); err != nil {
			return nil, err
		}
	}
	s, err := storeOf(h)
	if err != nil {
		return nil, err
	}
	u, err = s.GetUser(ctx, id)
	return u, domain.StorageError(err)
}

func (e *Engine) ListUsers(ctx context.Context, h *tenantdb.Handle, actor domain.Actor) (us []*domain.User, err error) {
	ctx, finish := e.begin(ctx, "ListUsers", h)
	defer finish(&err)

	if err := e.authorize(actor, permission.CreateUser); err != nil {
		return nil, err
	}
	s, err := storeOf(h)
	if err != nil {
		return nil, err
	}
	us, err = s.ListUsers(ctx)
	return us, domain.StorageError(err)
}

// UpdateUser changes a user's username, email or role
func (e *Engine) UpdateUser(ctx context.Context, h *tenantdb.Handle, actor domain.Actor, id string, changes domain.UserChanges) (u *domain.User, err error) {
	ctx, finish := e.begin(ctx, "UpdateUser", h)
	defer finish(&err)

	if err := e.authorize(actor, permission.UpdateUser); err != nil {
		return nil, err
	}
	var username, email string
	if changes.Username != nil {
		if username, err = validUsername(*changes.Username); err != nil {
			return nil, err
		}
	}
	if changes.Email != nil {
		if email, err = domain.NormalizeEmail(*changes.Email); err != nil {
			return nil, err
		}
	}
	var role domain.Role
	if changes.Role != nil {
		if role, err = validRole(string(*changes.Role)); err != nil {
			return nil, err
		}
	}

	s, err := storeOf(h)
	if err != nil {
		return nil, err
	}

	err = s.InTx(ctx, func(tx store.Tx) error {
		current, err := tx.LockUser(ctx, id)
		if err != nil {
			return err
		}
		u = current

		dirty := false
		if changes.Username != nil && username != u.Username {
			u.Username = username
			dirty = true
		}
		if changes.Email != nil && email != u.Email {
			u.Email = email
			dirty = true
		}
		if changes.Role != nil && role != u.Role {
			u.Role = role
			dirty = true
		}
		if !dirty {
			return nil
		}
		u.UpdatedAt = e.now()
		return tx.UpdateUser(ctx, u)
	})
	if err != nil {
		return nil, domain.StorageError(err)
	}
	return u, nil
}

// DeleteUser removes a user. Tasks assigned to it become unassigned.
func (e *Engine) DeleteUser(ctx context.Context, h *tenantdb.Handle, actor domain.Actor, id string) (err error) {
	ctx, finish := e.begin(ctx, "DeleteUser", h)
	defer finish(&err)

	if err := e.authorize(actor, permission.DeleteUser); err != nil {
		return err
	}
	if id == actor.ID {
		return &domain.ValidationError{Field: "id", Message: "cannot delete yourself"}
	}
	s, err := storeOf(h)
	if err != nil {
		return err
	}

	err = s.InTx(ctx, func(tx store.Tx) error {
		if _, err := tx.LockUser(ctx, id); err != nil {
			return err
		}
		return tx.DeleteUser(ctx, id)
	})
	return domain.StorageError(err)
}
