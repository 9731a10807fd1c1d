package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// OrgRepository reads and creates offices and branches. The gate uses it to
// find the office that owns a branch.
type OrgRepository interface {
	CreateOffice(ctx context.Context, office *Office) error
	CreateBranch(ctx context.Context, branch *Branch) error
	GetOffice(ctx context.Context, id int64) (*Office, error)
	GetOfficeByCode(ctx context.Context, code string) (*Office, error)
	GetBranch(ctx context.Context, id int64) (*Branch, error)
	ListBranches(ctx context.Context, officeID int64) ([]Branch, error)
}

// SQLiteOrgRepository implements OrgRepository using SQLite.
type SQLiteOrgRepository struct {
	db *sql.DB
}

// NewOrgRepository creates a new SQLite-backed office/branch repository.
func NewOrgRepository(db *sql.DB) *SQLiteOrgRepository {
	return &SQLiteOrgRepository{db: db}
}

// CreateOffice inserts office and sets its ID.
func (r *SQLiteOrgRepository) CreateOffice(ctx context.Context, office *Office) error {
	now := formatTime(nowUTC())
	res, err := r.db.ExecContext(ctx,
		"INSERT INTO offices (name, code, active, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		office.Name, office.Code, boolToInt(office.Active), now, now)
	if err != nil {
		return fmt.Errorf("creating office: %w", err)
	}
	office.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading office id: %w", err)
	}
	return nil
}

// CreateBranch inserts branch and sets its ID. The owning office must exist.
func (r *SQLiteOrgRepository) CreateBranch(ctx context.Context, branch *Branch) error {
	now := formatTime(nowUTC())
	res, err := r.db.ExecContext(ctx,
		"INSERT INTO branches (office_id, name, code, active, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
		branch.OfficeID, branch.Name, branch.Code, boolToInt(branch.Active), now, now)
	if err != nil {
		if sentinel, ok := classifyWrite(err, ErrInvalidReference); ok {
			return sentinel
		}
		return fmt.Errorf("creating branch: %w", err)
	}
	branch.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading branch id: %w", err)
	}
	return nil
}

// GetOffice returns the non-deleted office with the given id.
func (r *SQLiteOrgRepository) GetOffice(ctx context.Context, id int64) (*Office, error) {
	return scanOffice(r.db.QueryRowContext(ctx,
		"SELECT id, name, code, active FROM offices WHERE id = ? AND deleted_at IS NULL", id))
}

// GetOfficeByCode returns the non-deleted office with the given code.
func (r *SQLiteOrgRepository) GetOfficeByCode(ctx context.Context, code string) (*Office, error) {
	return scanOffice(r.db.QueryRowContext(ctx,
		"SELECT id, name, code, active FROM offices WHERE code = ? AND deleted_at IS NULL", code))
}

// GetBranch returns the non-deleted branch with the given id.
func (r *SQLiteOrgRepository) GetBranch(ctx context.Context, id int64) (*Branch, error) {
	return scanBranch(r.db.QueryRowContext(ctx,
		"SELECT id, office_id, name, code, active FROM branches WHERE id = ? AND deleted_at IS NULL", id))
}

// ListBranches returns the non-deleted branches of an office ordered by name.
func (r *SQLiteOrgRepository) ListBranches(ctx context.Context, officeID int64) ([]Branch, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, office_id, name, code, active FROM branches
		 WHERE office_id = ? AND deleted_at IS NULL ORDER BY name ASC`, officeID)
	if err != nil {
		return nil, fmt.Errorf("listing branches: %w", err)
	}
	defer rows.Close()

	branches := []Branch{}
	for rows.Next() {
		b, err := scanBranch(rows)
		if err != nil {
			return nil, err
		}
		branches = append(branches, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating branches: %w", err)
	}
	return branches, nil
}

func scanOffice(s scanner) (*Office, error) {
	var o Office
	var active int
	if err := s.Scan(&o.ID, &o.Name, &o.Code, &active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOfficeNotFound
		}
		return nil, fmt.Errorf("scanning office: %w", err)
	}
	o.Active = active != 0
	return &o, nil
}

func scanBranch(s scanner) (*Branch, error) {
	var b Branch
	var active int
	if err := s.Scan(&b.ID, &b.OfficeID, &b.Name, &b.Code, &active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBranchNotFound
		}
		return nil, fmt.Errorf("scanning branch: %w", err)
	}
	b.Active = active != 0
	return &b, nil
}
