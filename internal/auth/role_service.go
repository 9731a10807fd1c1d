package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// CreateRoleInput describes a new role. Active defaults to true.
type CreateRoleInput struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Permissions []string `json:"permissions"`
	Active      *bool    `json:"active,omitempty"`
}

// UpdateRoleInput carries the fields to change. Nil fields are left alone.
type UpdateRoleInput struct {
	Name        *string  `json:"name,omitempty"`
	Description *string  `json:"description,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	Active      *bool    `json:"active,omitempty"`
}

// PermissionOption is one catalog entry as listed to administrators.
type PermissionOption struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// RoleService manages roles. System roles can be read but never modified
// or deleted. Every mutation drops cached permissions for the role.
type RoleService struct {
	roles  RoleRepository
	users  UserRepository
	cache  Invalidator
	logger *slog.Logger
}

// NewRoleService creates a RoleService. cache may be nil.
func NewRoleService(roles RoleRepository, users UserRepository, cache Invalidator, logger *slog.Logger) *RoleService {
	return &RoleService{roles: roles, users: users, cache: cache, logger: logger}
}

// Create adds a non-system role.
func (s *RoleService) Create(ctx context.Context, in CreateRoleInput) (*Role, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, InvalidInput(msgValidationFailed, "Role name is required")
	}
	if err := checkCatalog(in.Permissions); err != nil {
		return nil, err
	}

	if _, err := s.roles.GetByName(ctx, name); err == nil {
		return nil, NewError(KindConflict, "Role with this name already exists", ErrRoleNameExists)
	} else if !errors.Is(err, ErrRoleNotFound) {
		return nil, s.storeError("looking up role name", err)
	}

	role := &Role{
		Name:        name,
		Description: in.Description,
		Permissions: dedupe(in.Permissions),
		Active:      in.Active == nil || *in.Active,
	}
	if err := s.roles.Create(ctx, role); err != nil {
		if errors.Is(err, ErrRoleNameExists) {
			return nil, NewError(KindConflict, "Role with this name already exists", err)
		}
		return nil, s.storeError("creating role", err)
	}

	s.logger.Info("role created", "role_id", role.ID, "name", role.Name, "permissions", len(role.Permissions))
	return role, nil
}

// Get returns the role with id.
func (s *RoleService) Get(ctx context.Context, id int64) (*Role, error) {
	role, err := s.roles.GetByID(ctx, id)
	switch {
	case errors.Is(err, ErrRoleNotFound):
		return nil, NewError(KindNotFound, "Role not found", err)
	case err != nil:
		return nil, s.storeError("looking up role", err)
	}
	return role, nil
}

// List returns roles ordered by name, optionally only active ones.
func (s *RoleService) List(ctx context.Context, activeOnly bool) ([]Role, error) {
	roles, err := s.roles.List(ctx, activeOnly)
	if err != nil {
		return nil, s.storeError("listing roles", err)
	}
	return roles, nil
}

// Update changes a non-system role.
func (s *RoleService) Update(ctx context.Context, id int64, in UpdateRoleInput) (*Role, error) {
	role, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if role.IsSystem {
		return nil, NewError(KindForbidden, "Cannot modify system roles", nil)
	}

	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, InvalidInput(msgValidationFailed, "Role name is required")
		}
		if name != role.Name {
			if _, err := s.roles.GetByName(ctx, name); err == nil {
				return nil, NewError(KindConflict, "Role with this name already exists", ErrRoleNameExists)
			} else if !errors.Is(err, ErrRoleNotFound) {
				return nil, s.storeError("looking up role name", err)
			}
		}
		role.Name = name
	}
	if in.Description != nil {
		role.Description = *in.Description
	}
	if in.Permissions != nil {
		if err := checkCatalog(in.Permissions); err != nil {
			return nil, err
		}
		role.Permissions = dedupe(in.Permissions)
	}
	if in.Active != nil {
		role.Active = *in.Active
	}

	if err := s.roles.Update(ctx, role); err != nil {
		switch {
		case errors.Is(err, ErrRoleNameExists):
			return nil, NewError(KindConflict, "Role with this name already exists", err)
		case errors.Is(err, ErrRoleNotFound):
			return nil, NewError(KindNotFound, "Role not found", err)
		default:
			return nil, s.storeError("updating role", err)
		}
	}
	s.invalidate(role.ID)

	s.logger.Info("role updated", "role_id", role.ID)
	return role, nil
}

// SoftDelete marks a non-system role deleted. It is refused while any user
// still holds the role.
func (s *RoleService) SoftDelete(ctx context.Context, id, deletedBy int64) error {
	role, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return NewError(KindForbidden, "Cannot delete system roles", nil)
	}

	n, err := s.users.CountByRole(ctx, id)
	if err != nil {
		return s.storeError("counting role users", err)
	}
	if n > 0 {
		return NewError(KindForbidden,
			fmt.Sprintf("Cannot delete role. %d user(s) are assigned to this role", n), nil)
	}

	if err := s.roles.SoftDelete(ctx, id, deletedBy); err != nil {
		if errors.Is(err, ErrRoleNotFound) {
			return NewError(KindNotFound, "Role not found", err)
		}
		return s.storeError("deleting role", err)
	}
	s.invalidate(id)

	s.logger.Info("role deleted", "role_id", id, "deleted_by", deletedBy)
	return nil
}

// AssignPermissions replaces the permissions of a non-system role.
func (s *RoleService) AssignPermissions(ctx context.Context, id int64, permissions []string) (*Role, error) {
	role, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if role.IsSystem {
		return nil, NewError(KindForbidden, "Cannot modify permissions of system roles", nil)
	}
	if permissions == nil {
		return nil, InvalidInput(msgValidationFailed, "Permissions must be an array")
	}
	if err := checkCatalog(permissions); err != nil {
		return nil, err
	}

	perms := dedupe(permissions)
	if err := s.roles.SetPermissions(ctx, id, perms); err != nil {
		if errors.Is(err, ErrRoleNotFound) {
			return nil, NewError(KindNotFound, "Role not found", err)
		}
		return nil, s.storeError("setting role permissions", err)
	}
	s.invalidate(id)

	s.logger.Info("role permissions assigned", "role_id", id, "permissions", len(perms))
	role.Permissions = perms
	return role, nil
}

// AvailablePermissions lists the catalog as key/value pairs, where key is
// the upper-case constant name and value the permission string.
func (s *RoleService) AvailablePermissions() []PermissionOption {
	all := AllPermissions()
	out := make([]PermissionOption, 0, len(all))
	for _, p := range all {
		out = append(out, PermissionOption{
			Key:   strings.ToUpper(strings.ReplaceAll(p, ".", "_")),
			Value: p,
		})
	}
	return out
}

func (s *RoleService) invalidate(roleID int64) {
	if s.cache != nil {
		s.cache.InvalidateRole(roleID)
	}
}

func (s *RoleService) storeError(op string, err error) error {
	s.logger.Error(op+" failed", "error", err)
	return storeFailure(op, err)
}

// checkCatalog rejects the whole list if any key is unknown.
func checkCatalog(perms []string) error {
	bad := InvalidPermissions(perms)
	if len(bad) == 0 {
		return nil
	}
	details := make([]string, 0, len(bad))
	for _, p := range bad {
		details = append(details, fmt.Sprintf("Permission %q does not exist", p))
	}
	return InvalidInput("Invalid permissions", details...)
}

func dedupe(perms []string) []string {
	seen := make(map[string]struct{}, len(perms))
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
