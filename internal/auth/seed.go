package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
)

// Built-in role names.
const (
	RoleSuperAdmin = "SUPER_ADMIN"
	RoleDirector   = "DIRECTOR"
	RoleManager    = "MANAGER"
	RoleEmployee   = "EMPLOYEE"
	RoleDriver     = "DRIVER"
)

// seedPasswordBytes is the number of random bytes for a generated admin password.
const seedPasswordBytes = 16

// BuiltinRole is a role created on first boot.
type BuiltinRole struct {
	Name        string
	Description string
	Permissions []string
	IsSystem    bool
}

// BuiltinRoles returns the roles every deployment starts with.
// DRIVER is not a system role so deployments may tailor it.
func BuiltinRoles() []BuiltinRole {
	return []BuiltinRole{
		{RoleSuperAdmin, "Full system access", GroupAdmin, true},
		{RoleDirector, "Reads everything, sees reports and analytics", GroupDirector, true},
		{RoleManager, "Runs office and branch operations", GroupManager, true},
		{RoleEmployee, "Basic delivery work", GroupEmployee, true},
		{RoleDriver, "Sees and completes assigned deliveries", GroupDriver, false},
	}
}

// SeedOptions controls first-boot data.
// An empty AdminPassword makes Seed generate one and return it.
type SeedOptions struct {
	AdminPhone    string
	AdminPassword string
	OfficeName    string
	OfficeCode    string
}

// Seeder creates the built-in roles, a default office and the bootstrap
// administrator. Running it again is safe.
type Seeder struct {
	Roles    RoleRepository
	Orgs     OrgRepository
	Users    UserRepository
	Verifier *CredentialVerifier
	Logger   *slog.Logger
}

// Seed applies opts. It returns the generated admin password, or "" when
// the password was supplied or the admin already existed.
func (s *Seeder) Seed(ctx context.Context, opts SeedOptions) (string, error) {
	roleIDs, err := s.SeedRoles(ctx)
	if err != nil {
		return "", err
	}

	office, err := s.seedOffice(ctx, opts.OfficeName, opts.OfficeCode)
	if err != nil {
		return "", err
	}

	return s.seedAdmin(ctx, opts, roleIDs[RoleSuperAdmin], office.ID)
}

// SeedRoles creates missing built-in roles and resets the permissions of
// existing ones. It returns role ids by name.
func (s *Seeder) SeedRoles(ctx context.Context) (map[string]int64, error) {
	ids := make(map[string]int64)
	for _, b := range BuiltinRoles() {
		existing, err := s.Roles.GetByName(ctx, b.Name)
		switch {
		case err == nil:
			if !NewPermissionSet(existing.Permissions...).HasAll(b.Permissions...) ||
				len(existing.Permissions) != len(b.Permissions) {
				if err := s.Roles.SetPermissions(ctx, existing.ID, b.Permissions); err != nil {
					return nil, fmt.Errorf("updating role %s: %w", b.Name, err)
				}
				s.Logger.Info("built-in role permissions reset", "role", b.Name)
			}
			ids[b.Name] = existing.ID
		case errors.Is(err, ErrRoleNotFound):
			role := &Role{
				Name:        b.Name,
				Description: b.Description,
				Permissions: b.Permissions,
				IsSystem:    b.IsSystem,
				Active:      true,
			}
			if err := s.Roles.Create(ctx, role); err != nil {
				return nil, fmt.Errorf("creating role %s: %w", b.Name, err)
			}
			s.Logger.Info("built-in role created", "role", b.Name, "role_id", role.ID)
			ids[b.Name] = role.ID
		default:
			return nil, fmt.Errorf("looking up role %s: %w", b.Name, err)
		}
	}
	return ids, nil
}

func (s *Seeder) seedOffice(ctx context.Context, name, code string) (*Office, error) {
	office, err := s.Orgs.GetOfficeByCode(ctx, code)
	if err == nil {
		return office, nil
	}
	if !errors.Is(err, ErrOfficeNotFound) {
		return nil, fmt.Errorf("looking up office %s: %w", code, err)
	}

	office = &Office{Name: name, Code: code, Active: true}
	if err := s.Orgs.CreateOffice(ctx, office); err != nil {
		return nil, fmt.Errorf("creating office %s: %w", code, err)
	}
	s.Logger.Info("default office created", "office_id", office.ID, "code", code)
	return office, nil
}

func (s *Seeder) seedAdmin(ctx context.Context, opts SeedOptions, roleID, officeID int64) (string, error) {
	if _, err := s.Users.GetByPhone(ctx, opts.AdminPhone); err == nil {
		s.Logger.Info("admin exists, skipping admin seed")
		return "", nil
	} else if !errors.Is(err, ErrUserNotFound) {
		return "", fmt.Errorf("looking up admin: %w", err)
	}

	password, generated := opts.AdminPassword, ""
	if password == "" {
		b := make([]byte, seedPasswordBytes)
		if _, err := rand.Read(b); err != nil {
			return "", fmt.Errorf("generating admin password: %w", err)
		}
		password = hex.EncodeToString(b)
		generated = password
	}

	hash, err := s.Verifier.Hash(ctx, password)
	if err != nil {
		return "", fmt.Errorf("hashing admin password: %w", err)
	}

	admin := &User{
		Name:         "System",
		Surname:      "Administrator",
		Fathername:   "-",
		Phone:        opts.AdminPhone,
		PasswordHash: hash,
		RoleID:       roleID,
		OfficeID:     &officeID,
		Active:       true,
	}
	if err := s.Users.Create(ctx, admin); err != nil {
		return "", fmt.Errorf("creating admin: %w", err)
	}

	s.Logger.Warn("bootstrap administrator created", "user_id", admin.ID, "phone", admin.Phone)
	return generated, nil
}
