package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
)

// MatchMode selects how a Requirement's permissions combine.
type MatchMode int

const (
	// MatchAny admits a caller holding at least one listed permission.
	MatchAny MatchMode = iota
	// MatchAll admits a caller holding every listed permission.
	MatchAll
)

// Requirement is what a protected route demands of its caller.
type Requirement struct {
	Permissions     []string
	Mode            MatchMode
	AllowSuperAdmin bool
}

// AnyOf requires at least one of perms.
func AnyOf(perms ...string) Requirement {
	return Requirement{Permissions: perms, Mode: MatchAny}
}

// AllOf requires every one of perms.
func AllOf(perms ...string) Requirement {
	return Requirement{Permissions: perms, Mode: MatchAll}
}

// WithSuperAdminBypass lets administrative roles skip the scope check.
func (r Requirement) WithSuperAdminBypass() Requirement {
	r.AllowSuperAdmin = true
	return r
}

// ScopeRequest names the office and/or branch a request targets.
// Nil fields were not present in the request.
type ScopeRequest struct {
	OfficeID *int64
	BranchID *int64
}

// Principal is an authenticated caller, taken from a verified access token.
type Principal struct {
	Claims
}

// BranchLookup finds the office that owns a branch.
type BranchLookup interface {
	GetBranch(ctx context.Context, id int64) (*Branch, error)
}

// PermissionResolver resolves a user's current role. PermissionCache
// implements it.
type PermissionResolver interface {
	ResolveRole(ctx context.Context, userID int64) (ResolvedRole, error)
}

// Gate decides whether a request may proceed. Authenticate runs first, then
// Authorize checks permissions followed by office/branch scope.
type Gate struct {
	tokens      *TokenService
	perms       PermissionResolver
	branches    BranchLookup
	superAdmins map[string]struct{}
	logger      *slog.Logger
}

// NewGate creates a Gate. superAdminRoles are role names allowed to bypass
// scope on routes that permit it.
func NewGate(tokens *TokenService, perms PermissionResolver, branches BranchLookup, superAdminRoles []string, logger *slog.Logger) *Gate {
	admins := make(map[string]struct{}, len(superAdminRoles))
	for _, name := range superAdminRoles {
		admins[name] = struct{}{}
	}
	return &Gate{
		tokens:      tokens,
		perms:       perms,
		branches:    branches,
		superAdmins: admins,
		logger:      logger,
	}
}

const bearerPrefix = "Bearer "

// Authenticate verifies the Authorization header value. Every failure is
// KindUnauthorized.
func (g *Gate) Authenticate(header string) (*Principal, error) {
	if !strings.HasPrefix(header, bearerPrefix) {
		return nil, NewError(KindUnauthorized, "No token provided", nil)
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	if token == "" {
		return nil, NewError(KindUnauthorized, "No token provided", nil)
	}

	claims, err := g.tokens.VerifyAccess(token)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			g.logger.Debug("access token expired")
			return nil, NewError(KindUnauthorized, "Token expired", err)
		}
		g.logger.Warn("access token rejected", "error", err)
		return nil, NewError(KindUnauthorized, "Invalid token", err)
	}
	return &Principal{Claims: *claims}, nil
}

// Authorize checks that p satisfies req and may act on scope.
func (g *Gate) Authorize(ctx context.Context, p *Principal, req Requirement, scope ScopeRequest) error {
	if p == nil {
		return NewError(KindUnauthorized, "Authentication required", nil)
	}

	// The token's role claim is not trusted here; a reassigned user is
	// judged by the role they hold now.
	role, err := g.perms.ResolveRole(ctx, p.UserID)
	if err != nil {
		return err
	}

	var granted bool
	switch {
	case len(req.Permissions) == 0:
		// A requirement naming no permissions admits nobody.
	case req.Mode == MatchAll:
		granted = role.Permissions.HasAll(req.Permissions...)
	default:
		granted = role.Permissions.HasAny(req.Permissions...)
	}
	if !granted {
		g.logger.Warn("permission denied",
			"user_id", p.UserID,
			"role_id", role.RoleID,
			"required", req.Permissions,
			"missing", role.Permissions.Missing(req.Permissions...),
		)
		return NewError(KindForbidden, "Permission denied", nil)
	}

	if scope.OfficeID == nil && scope.BranchID == nil {
		return nil
	}
	if req.AllowSuperAdmin && g.isSuperAdmin(role) {
		return nil
	}
	return g.checkScope(ctx, p, scope)
}

func (g *Gate) isSuperAdmin(role ResolvedRole) bool {
	if role.Name == "" {
		return false
	}
	_, ok := g.superAdmins[role.Name]
	return ok
}

func (g *Gate) checkScope(ctx context.Context, p *Principal, scope ScopeRequest) error {
	if scope.OfficeID != nil {
		if p.OfficeID == nil {
			return NewError(KindForbidden, "User is not assigned to any office", nil)
		}
		if *p.OfficeID != *scope.OfficeID {
			g.logger.Warn("office access denied",
				"user_id", p.UserID, "user_office_id", *p.OfficeID, "requested_office_id", *scope.OfficeID)
			return NewError(KindForbidden, "Access denied to this office", nil)
		}
	}

	if scope.BranchID == nil {
		return nil
	}

	if p.BranchID != nil {
		if *p.BranchID != *scope.BranchID {
			g.logger.Warn("branch access denied",
				"user_id", p.UserID, "user_branch_id", *p.BranchID, "requested_branch_id", *scope.BranchID)
			return NewError(KindForbidden, "Access denied to this branch", nil)
		}
		return nil
	}

	// No branch of their own: the caller's office must own the branch.
	if p.OfficeID == nil {
		return NewError(KindForbidden, "User is not assigned to any branch or office", nil)
	}
	branch, err := g.branches.GetBranch(ctx, *scope.BranchID)
	switch {
	case errors.Is(err, ErrBranchNotFound):
		branch = nil
	case err != nil:
		g.logger.Error("branch lookup failed", "branch_id", *scope.BranchID, "error", err)
		return storeFailure("looking up branch", err)
	}
	if branch == nil || branch.OfficeID != *p.OfficeID {
		g.logger.Warn("branch access denied",
			"user_id", p.UserID, "user_office_id", *p.OfficeID, "requested_branch_id", *scope.BranchID)
		return NewError(KindForbidden, "Access denied to this branch", nil)
	}
	return nil
}
