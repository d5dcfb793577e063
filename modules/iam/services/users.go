package services

import (
	"context"
	"errors"
	"strings"

	"github.com/jacksonlee411/loanportal/modules/iam/domain/ports"
	"github.com/jacksonlee411/loanportal/modules/iam/domain/types"
	"github.com/jacksonlee411/loanportal/pkg/authz"
	"github.com/jacksonlee411/loanportal/pkg/httperr"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

type Actor struct {
	ID   string
	Role string
}

// UserAdmin manages who may do what in the portal. Admins manage users at
// or below their own level and never themselves.
type UserAdmin struct {
	store ports.ProfileAdminStore
}

func NewUserAdmin(store ports.ProfileAdminStore) *UserAdmin {
	return &UserAdmin{store: store}
}

func requireAdmin(actor Actor) error {
	if !authz.AtLeast(actor.Role, authz.RoleAdmin) {
		return httperr.NewForbidden("admin role required")
	}
	return nil
}

func (s *UserAdmin) List(ctx context.Context, actor Actor, f types.ProfileFilter) ([]types.Profile, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if f.Role != "" {
		f.Role = authz.Normalize(f.Role)
		if !authz.Known(f.Role) {
			return nil, httperr.NewBadRequestCode("invalid_role", "unknown role "+f.Role)
		}
	}
	if f.Status != "" && !validStatus(f.Status) {
		return nil, httperr.NewBadRequestCode("invalid_status", "unknown status "+f.Status)
	}
	if f.Limit < 0 || f.Offset < 0 {
		return nil, httperr.NewBadRequestCode("invalid_page", "limit and offset must not be negative")
	}
	if f.Limit == 0 {
		f.Limit = defaultListLimit
	}
	f.Limit = min(f.Limit, maxListLimit)
	return s.store.ListProfiles(ctx, f)
}

func (s *UserAdmin) SetRole(ctx context.Context, actor Actor, id string, role string) (types.Profile, error) {
	role = authz.Normalize(role)
	if !authz.Known(role) || role == authz.RoleAnonymous {
		return types.Profile{}, httperr.NewBadRequestCode("invalid_role", "unknown role "+role)
	}
	if !authz.AtLeast(actor.Role, role) {
		return types.Profile{}, httperr.NewForbidden("cannot grant a role above your own")
	}
	return s.update(ctx, actor, id, func(p *types.Profile) { p.Role = role })
}

func (s *UserAdmin) SetStatus(ctx context.Context, actor Actor, id string, status string) (types.Profile, error) {
	status = strings.TrimSpace(status)
	if !validStatus(status) {
		return types.Profile{}, httperr.NewBadRequestCode("invalid_status", "unknown status "+status)
	}
	return s.update(ctx, actor, id, func(p *types.Profile) { p.Status = status })
}

func (s *UserAdmin) update(ctx context.Context, actor Actor, id string, apply func(*types.Profile)) (types.Profile, error) {
	if err := requireAdmin(actor); err != nil {
		return types.Profile{}, err
	}
	id = strings.TrimSpace(id)
	if id == actor.ID {
		return types.Profile{}, httperr.NewConflict("self_change", "cannot change your own access")
	}
	cur, err := s.store.GetProfile(ctx, id)
	if err != nil {
		if errors.Is(err, ports.ErrProfileNotFound) {
			return types.Profile{}, httperr.NewNotFound("user not found")
		}
		return types.Profile{}, err
	}
	if !authz.AtLeast(actor.Role, cur.Role) {
		return types.Profile{}, httperr.NewForbidden("cannot manage a user above your own role")
	}
	next := cur
	apply(&next)
	if next.Role == cur.Role && next.Status == cur.Status {
		return cur, nil
	}
	updated, err := s.store.UpdateAccess(ctx, id, next.Role, next.Status)
	if errors.Is(err, ports.ErrProfileNotFound) {
		return types.Profile{}, httperr.NewNotFound("user not found")
	}
	return updated, err
}

func validStatus(s string) bool {
	return s == types.ProfileStatusActive || s == types.ProfileStatusSuspended
}
