package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/depot-core/internal/infrastructure/database"
)

// UserRepository persists users and their single refresh session.
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByPhone(ctx context.Context, phone string) (*User, error)
	UpdateRole(ctx context.Context, id, roleID int64) error
	SetActive(ctx context.Context, id int64, active bool) error
	CountByRole(ctx context.Context, roleID int64) (int, error)
	Count(ctx context.Context) (int, error)

	// StartSession overwrites any stored refresh session and stamps the login time.
	StartSession(ctx context.Context, id int64, tokenHash string, expiry, loginAt time.Time) error

	// RotateSession replaces the stored refresh digest only if it still equals
	// oldHash. It returns ErrTokenMismatch when another caller got there first.
	RotateSession(ctx context.Context, id int64, oldHash, newHash string, expiry time.Time) error

	// ClearSession removes the refresh session. Clearing an absent session is not an error.
	ClearSession(ctx context.Context, id int64) error
}

// SQLiteUserRepository implements UserRepository using SQLite.
type SQLiteUserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new SQLite-backed user repository.
func NewUserRepository(db *sql.DB) *SQLiteUserRepository {
	return &SQLiteUserRepository{db: db}
}

const userColumns = `id, name, surname, fathername, phone, password_hash, birthdate, email, work_email, work_phone,
	role_id, office_id, branch_id, refresh_token_hash, token_expiry, last_login_at, active,
	created_at, updated_at, deleted_at`

// birthdateLayout is the storage format for User.Birthdate.
const birthdateLayout = time.DateOnly

// Create inserts user and sets its ID and timestamps.
func (r *SQLiteUserRepository) Create(ctx context.Context, user *User) error {
	now := nowUTC()
	user.CreatedAt, user.UpdatedAt = now, now

	var birthdate sql.NullString
	if user.Birthdate != nil {
		birthdate = sql.NullString{String: user.Birthdate.Format(birthdateLayout), Valid: true}
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO users (name, surname, fathername, phone, password_hash, birthdate, email, work_email, work_phone,
			role_id, office_id, branch_id, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.Name, user.Surname, user.Fathername, user.Phone, user.PasswordHash, birthdate,
		nullString(user.Email), nullString(user.WorkEmail), nullString(user.WorkPhone),
		user.RoleID, nullInt64(user.OfficeID), nullInt64(user.BranchID), boolToInt(user.Active),
		formatTime(now), formatTime(now),
	)
	if err != nil {
		if sentinel, ok := classifyWrite(err, ErrPhoneExists); ok {
			return sentinel
		}
		return fmt.Errorf("creating user: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading user id: %w", err)
	}
	user.ID = id
	return nil
}

// GetByID returns the non-deleted user with the given id.
func (r *SQLiteUserRepository) GetByID(ctx context.Context, id int64) (*User, error) {
	return scanUserFrom(r.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = ? AND deleted_at IS NULL", id))
}

// GetByPhone returns the non-deleted user registered with phone.
func (r *SQLiteUserRepository) GetByPhone(ctx context.Context, phone string) (*User, error) {
	return scanUserFrom(r.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE phone = ? AND deleted_at IS NULL", phone))
}

// UpdateRole moves a user to another role.
func (r *SQLiteUserRepository) UpdateRole(ctx context.Context, id, roleID int64) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE users SET role_id = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL",
		roleID, formatTime(nowUTC()), id)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return ErrRoleNotFound
		}
		return fmt.Errorf("updating user role: %w", err)
	}
	return requireRow(res, ErrUserNotFound)
}

// SetActive enables or disables login for a user.
func (r *SQLiteUserRepository) SetActive(ctx context.Context, id int64, active bool) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE users SET active = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL",
		boolToInt(active), formatTime(nowUTC()), id)
	if err != nil {
		return fmt.Errorf("updating user active flag: %w", err)
	}
	return requireRow(res, ErrUserNotFound)
}

// CountByRole returns how many non-deleted users hold roleID.
func (r *SQLiteUserRepository) CountByRole(ctx context.Context, roleID int64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM users WHERE role_id = ? AND deleted_at IS NULL", roleID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting users by role: %w", err)
	}
	return n, nil
}

// Count returns the number of non-deleted users.
func (r *SQLiteUserRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE deleted_at IS NULL").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return n, nil
}

// StartSession stores a fresh refresh digest and the login time.
func (r *SQLiteUserRepository) StartSession(ctx context.Context, id int64, tokenHash string, expiry, loginAt time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET refresh_token_hash = ?, token_expiry = ?, last_login_at = ?, updated_at = ?
		 WHERE id = ? AND deleted_at IS NULL`,
		tokenHash, formatTime(expiry), formatTime(loginAt), formatTime(nowUTC()), id)
	if err != nil {
		return fmt.Errorf("starting session: %w", err)
	}
	return requireRow(res, ErrUserNotFound)
}

// RotateSession is a compare-and-set on refresh_token_hash. SQLite
// serialises writers, so of two concurrent rotations presenting the same
// digest exactly one matches.
func (r *SQLiteUserRepository) RotateSession(ctx context.Context, id int64, oldHash, newHash string, expiry time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET refresh_token_hash = ?, token_expiry = ?, updated_at = ?
		 WHERE id = ? AND refresh_token_hash = ? AND deleted_at IS NULL`,
		newHash, formatTime(expiry), formatTime(nowUTC()), id, oldHash)
	if err != nil {
		return fmt.Errorf("rotating session: %w", err)
	}
	return requireRow(res, ErrTokenMismatch)
}

// ClearSession removes the stored refresh digest and expiry.
func (r *SQLiteUserRepository) ClearSession(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE users SET refresh_token_hash = NULL, token_expiry = NULL, updated_at = ? WHERE id = ?",
		formatTime(nowUTC()), id)
	if err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}
	return nil
}

// scanner is an interface for sql.Row and sql.Rows Scan methods.
type scanner interface {
	Scan(dest ...any) error
}

func scanUserFrom(s scanner) (*User, error) {
	var u User
	var birthdate, email, workEmail, workPhone sql.NullString
	var officeID, branchID sql.NullInt64
	var tokenHash, tokenExpiry, lastLogin, deletedAt sql.NullString
	var active int
	var createdAt, updatedAt string

	err := s.Scan(&u.ID, &u.Name, &u.Surname, &u.Fathername, &u.Phone, &u.PasswordHash,
		&birthdate, &email, &workEmail, &workPhone,
		&u.RoleID, &officeID, &branchID, &tokenHash, &tokenExpiry, &lastLogin, &active,
		&createdAt, &updatedAt, &deletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("scanning user: %w", err)
	}

	if birthdate.Valid {
		if t, err := time.Parse(birthdateLayout, birthdate.String); err == nil {
			u.Birthdate = &t
		}
	}
	u.Email = email.String
	u.WorkEmail = workEmail.String
	u.WorkPhone = workPhone.String
	u.OfficeID = int64Ptr(officeID)
	u.BranchID = int64Ptr(branchID)
	u.RefreshTokenHash = tokenHash.String
	u.TokenExpiry = parseNullTime(tokenExpiry)
	u.LastLoginAt = parseNullTime(lastLogin)
	u.DeletedAt = parseNullTime(deletedAt)
	u.Active = active != 0
	u.CreatedAt = parseTime(createdAt)
	u.UpdatedAt = parseTime(updatedAt)

	return &u, nil
}

// Helper functions shared by the SQLite repositories.

func nowUTC() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s) //nolint:errcheck // format is controlled
	return t
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// requireRow returns notFound when an UPDATE matched no rows.
func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
