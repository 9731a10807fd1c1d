package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// RoleRepository persists roles. Soft-deleted roles are invisible to every read.
type RoleRepository interface {
	Create(ctx context.Context, role *Role) error
	GetByID(ctx context.Context, id int64) (*Role, error)
	GetByName(ctx context.Context, name string) (*Role, error)
	List(ctx context.Context, activeOnly bool) ([]Role, error)
	Update(ctx context.Context, role *Role) error
	SetPermissions(ctx context.Context, id int64, permissions []string) error
	SoftDelete(ctx context.Context, id int64, deletedBy int64) error
}

// SQLiteRoleRepository implements RoleRepository using SQLite.
type SQLiteRoleRepository struct {
	db *sql.DB
}

// NewRoleRepository creates a new SQLite-backed role repository.
func NewRoleRepository(db *sql.DB) *SQLiteRoleRepository {
	return &SQLiteRoleRepository{db: db}
}

const roleColumns = `id, name, description, permissions, is_system, active, created_at, updated_at, deleted_at, deleted_by`

// Create inserts role and sets its ID and timestamps.
func (r *SQLiteRoleRepository) Create(ctx context.Context, role *Role) error {
	perms, err := encodePermissions(role.Permissions)
	if err != nil {
		return err
	}

	now := nowUTC()
	role.CreatedAt, role.UpdatedAt = now, now

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO roles (name, description, permissions, is_system, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		role.Name, nullString(role.Description), perms, boolToInt(role.IsSystem), boolToInt(role.Active),
		formatTime(now), formatTime(now),
	)
	if err != nil {
		if sentinel, ok := classifyWrite(err, ErrRoleNameExists); ok {
			return sentinel
		}
		return fmt.Errorf("creating role: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading role id: %w", err)
	}
	role.ID = id
	return nil
}

// GetByID returns the non-deleted role with the given id, active or not.
func (r *SQLiteRoleRepository) GetByID(ctx context.Context, id int64) (*Role, error) {
	return scanRoleFrom(r.db.QueryRowContext(ctx,
		"SELECT "+roleColumns+" FROM roles WHERE id = ? AND deleted_at IS NULL", id))
}

// GetByName returns the non-deleted role with the given name.
func (r *SQLiteRoleRepository) GetByName(ctx context.Context, name string) (*Role, error) {
	return scanRoleFrom(r.db.QueryRowContext(ctx,
		"SELECT "+roleColumns+" FROM roles WHERE name = ? AND deleted_at IS NULL", name))
}

// List returns non-deleted roles ordered by name.
func (r *SQLiteRoleRepository) List(ctx context.Context, activeOnly bool) ([]Role, error) {
	query := "SELECT " + roleColumns + " FROM roles WHERE deleted_at IS NULL"
	if activeOnly {
		query += " AND active = 1"
	}
	query += " ORDER BY name ASC"

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing roles: %w", err)
	}
	defer rows.Close()

	roles := []Role{}
	for rows.Next() {
		role, err := scanRoleFrom(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, *role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating roles: %w", err)
	}
	return roles, nil
}

// Update writes name, description, permissions and active flag.
func (r *SQLiteRoleRepository) Update(ctx context.Context, role *Role) error {
	perms, err := encodePermissions(role.Permissions)
	if err != nil {
		return err
	}

	role.UpdatedAt = nowUTC()
	res, err := r.db.ExecContext(ctx,
		`UPDATE roles SET name = ?, description = ?, permissions = ?, active = ?, updated_at = ?
		 WHERE id = ? AND deleted_at IS NULL`,
		role.Name, nullString(role.Description), perms, boolToInt(role.Active), formatTime(role.UpdatedAt), role.ID,
	)
	if err != nil {
		if sentinel, ok := classifyWrite(err, ErrRoleNameExists); ok {
			return sentinel
		}
		return fmt.Errorf("updating role: %w", err)
	}
	return requireRow(res, ErrRoleNotFound)
}

// SetPermissions replaces a role's permission list.
func (r *SQLiteRoleRepository) SetPermissions(ctx context.Context, id int64, permissions []string) error {
	perms, err := encodePermissions(permissions)
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx,
		"UPDATE roles SET permissions = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL",
		perms, formatTime(nowUTC()), id)
	if err != nil {
		return fmt.Errorf("setting role permissions: %w", err)
	}
	return requireRow(res, ErrRoleNotFound)
}

// SoftDelete marks a role deleted and inactive.
func (r *SQLiteRoleRepository) SoftDelete(ctx context.Context, id int64, deletedBy int64) error {
	now := formatTime(nowUTC())
	res, err := r.db.ExecContext(ctx,
		`UPDATE roles SET active = 0, deleted_at = ?, deleted_by = ?, updated_at = ?
		 WHERE id = ? AND deleted_at IS NULL`,
		now, deletedBy, now, id)
	if err != nil {
		return fmt.Errorf("deleting role: %w", err)
	}
	return requireRow(res, ErrRoleNotFound)
}

func scanRoleFrom(s scanner) (*Role, error) {
	var role Role
	var description, deletedAt sql.NullString
	var deletedBy sql.NullInt64
	var perms string
	var isSystem, active int
	var createdAt, updatedAt string

	err := s.Scan(&role.ID, &role.Name, &description, &perms, &isSystem, &active,
		&createdAt, &updatedAt, &deletedAt, &deletedBy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRoleNotFound
		}
		return nil, fmt.Errorf("scanning role: %w", err)
	}

	if err := json.Unmarshal([]byte(perms), &role.Permissions); err != nil {
		return nil, fmt.Errorf("decoding permissions of role %d: %w", role.ID, err)
	}
	if role.Permissions == nil {
		role.Permissions = []string{}
	}
	role.Description = description.String
	role.IsSystem = isSystem != 0
	role.Active = active != 0
	role.CreatedAt = parseTime(createdAt)
	role.UpdatedAt = parseTime(updatedAt)
	role.DeletedAt = parseNullTime(deletedAt)
	role.DeletedBy = int64Ptr(deletedBy)

	return &role, nil
}

func encodePermissions(perms []string) (string, error) {
	if perms == nil {
		perms = []string{}
	}
	b, err := json.Marshal(perms)
	if err != nil {
		return "", fmt.Errorf("encoding permissions: %w", err)
	}
	return string(b), nil
}
