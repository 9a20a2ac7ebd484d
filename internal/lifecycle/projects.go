package lifecycle

import (
	"context"
	"strings"

	"github.com/prohmpiriya/taskflow/internal/domain"
	"github.com/prohmpiriya/taskflow/internal/permission"
	"github.com/prohmpiriya/taskflow/internal/store"
	"github.com/prohmpiriya/taskflow/internal/tenantdb"
)

// CreateProject creates a project owned by the actor's tenant
func (e *Engine) CreateProject(ctx context.Context, h *tenantdb.Handle, actor domain.Actor, name, description string) (p *domain.Project, err error) {
	ctx, finish := e.begin(ctx, "CreateProject", h)
	defer finish(&err)

	if err := e.authorize(actor, permission.CreateProject); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.Required("name")
	}
	s, err := storeOf(h)
	if err != nil {
		return nil, err
	}

	now := e.now()
	p = &domain.Project{
		Name:        name,
		Description: description,
		CreatedBy:   actor.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = s.InTx(ctx, func(tx store.Tx) error {
		return tx.InsertProject(ctx, p)
	})
	if err != nil {
		return nil, domain.StorageError(err)
	}
	return p, nil
}

func (e *Engine) GetProject(ctx context.Context, h *tenantdb.Handle, actor domain.Actor, id int64) (p *domain.Project, err error) {
	ctx, finish := e.begin(ctx, "GetProject", h)
	defer finish(&err)

	if err := authenticated(actor); err != nil {
		return nil, err
	}
	s, err := storeOf(h)
	if err != nil {
		return nil, err
	}
	p, err = s.GetProject(ctx, id)
	return p, domain.StorageError(err)
}

func (e *Engine) ListProjects(ctx context.Context, h *tenantdb.Handle, actor domain.Actor) (ps []*domain.Project, err error) {
	ctx, finish := e.begin(ctx, "ListProjects", h)
	defer finish(&err)

	if err := authenticated(actor); err != nil {
		return nil, err
	}
	s, err := storeOf(h)
	if err != nil {
		return nil, err
	}
	ps, err = s.ListProjects(ctx)
	return ps, domain.StorageError(err)
}

// UpdateProject renames or re-describes a project
func (e *Engine) UpdateProject(ctx context.Context, h *tenantdb.Handle, actor domain.Actor, id int64, changes domain.ProjectChanges) (p *domain.Project, err error) {
	ctx, finish := e.begin(ctx, "UpdateProject", h)
	defer finish(&err)

	if err := e.authorize(actor, permission.UpdateProject); err != nil {
		return nil, err
	}
	if changes.Name != nil && strings.TrimSpace(*changes.Name) == "" {
		return nil, domain.Required("name")
	}
	s, err := storeOf(h)
	if err != nil {
		return nil, err
	}

	err = s.InTx(ctx, func(tx store.Tx) error {
		current, err := tx.LockProject(ctx, id)
		if err != nil {
			return err
		}
		p = current

		dirty := false
		if changes.Name != nil {
			if name := strings.TrimSpace(*changes.Name); name != p.Name {
				p.Name = name
				dirty = true
			}
		}
		if changes.Description != nil && *changes.Description != p.Description {
			p.Description = *changes.Description
			dirty = true
		}
		if !dirty {
			return nil
		}
		p.UpdatedAt = e.now()
		return tx.UpdateProject(ctx, p)
	})
	if err != nil {
		return nil, domain.StorageError(err)
	}
	return p, nil
}

// DeleteProject removes a project. Its tasks go with it, SLA records and
// activity history included.
func (e *Engine) DeleteProject(ctx context.Context, h *tenantdb.Handle, actor domain.Actor, id int64) (err error) {
	ctx, finish := e.begin(ctx, "DeleteProject", h)
	defer finish(&err)

	if err := e.authorize(actor, permission.DeleteProject); err != nil {
		return err
	}
	s, err := storeOf(h)
	if err != nil {
		return err
	}

	err = s.InTx(ctx, func(tx store.Tx) error {
		if _, err := tx.LockProject(ctx, id); err != nil {
			return err
		}
		return tx.DeleteProject(ctx, id)
	})
	return domain.StorageError(err)
}
