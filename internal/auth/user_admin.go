package auth

import (
	"context"
	"errors"
)

// AssignRole moves a user to another role. The user's cached permissions
// are dropped so the change applies on their next request.
func (s *Service) AssignRole(ctx context.Context, userID, roleID int64) (*User, error) {
	if roleID <= 0 {
		return nil, InvalidInput(msgValidationFailed, "Role ID must be a positive integer")
	}

	role, err := s.roles.GetByID(ctx, roleID)
	switch {
	case errors.Is(err, ErrRoleNotFound):
		return nil, NewError(KindNotFound, "Role not found", err)
	case err != nil:
		return nil, s.adminStoreError("looking up role", err)
	}
	if !role.Active {
		return nil, InvalidInput("Role is not active")
	}

	err = s.users.UpdateRole(ctx, userID, roleID)
	switch {
	case errors.Is(err, ErrUserNotFound):
		return nil, NewError(KindNotFound, msgUserNotFound, err)
	case errors.Is(err, ErrRoleNotFound):
		return nil, NewError(KindNotFound, "Role not found", err)
	case err != nil:
		return nil, s.adminStoreError("updating user role", err)
	}
	s.invalidateUser(userID)

	s.logger.Info("user role changed", "user_id", userID, "role_id", roleID)
	return s.CurrentUser(ctx, userID)
}

// SetActive enables or disables an account. Deactivation also ends the
// user's refresh session; access tokens already issued stay valid until
// they expire but the user can no longer log in or refresh.
func (s *Service) SetActive(ctx context.Context, userID int64, active bool) (*User, error) {
	err := s.users.SetActive(ctx, userID, active)
	switch {
	case errors.Is(err, ErrUserNotFound):
		return nil, NewError(KindNotFound, msgUserNotFound, err)
	case err != nil:
		return nil, s.adminStoreError("updating user active flag", err)
	}

	if !active {
		if err := s.users.ClearSession(ctx, userID); err != nil {
			return nil, s.adminStoreError("clearing session", err)
		}
	}
	s.invalidateUser(userID)

	s.logger.Info("user activation changed", "user_id", userID, "active", active)
	return s.CurrentUser(ctx, userID)
}

func (s *Service) invalidateUser(userID int64) {
	if s.cache != nil {
		s.cache.Invalidate(userID)
	}
}

func (s *Service) adminStoreError(op string, err error) error {
	s.logger.Error(op+" failed", "error", err)
	return storeFailure(op, err)
}
