package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestUserRepository_CreateAndGetByID(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	role := seedRole(t, db, "CLERK", false)
	office := seedOffice(t, db, "HQ")
	birthdate := time.Date(1990, time.March, 14, 0, 0, 0, 0, time.UTC)

	user := &User{
		Name:         "Aman",
		Surname:      "Orazov",
		Fathername:   "Berdi",
		Phone:        "+993-11-111111",
		PasswordHash: "$argon2id$placeholder",
		Birthdate:    &birthdate,
		Email:        "aman@example.com",
		RoleID:       role.ID,
		OfficeID:     &office.ID,
		Active:       true,
	}
	if err := repo.Create(ctx, user); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if user.ID == 0 {
		t.Fatal("Create() should set the ID")
	}

	got, err := repo.GetByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Phone != user.Phone {
		t.Errorf("Phone = %q, want %q", got.Phone, user.Phone)
	}
	if got.Fathername != "Berdi" {
		t.Errorf("Fathername = %q, want %q", got.Fathername, "Berdi")
	}
	if got.Birthdate == nil || !got.Birthdate.Equal(birthdate) {
		t.Errorf("Birthdate = %v, want %v", got.Birthdate, birthdate)
	}
	if got.OfficeID == nil || *got.OfficeID != office.ID {
		t.Errorf("OfficeID = %v, want %d", got.OfficeID, office.ID)
	}
	if got.BranchID != nil {
		t.Errorf("BranchID = %v, want nil", *got.BranchID)
	}
	if !got.Active {
		t.Error("Active should be true")
	}
	if got.RefreshTokenHash != "" || got.TokenExpiry != nil {
		t.Error("new user should have no session")
	}
}

func TestUserRepository_GetByPhone_NotFound(t *testing.T) {
	repo := NewUserRepository(testDB(t))

	_, err := repo.GetByPhone(context.Background(), "+993-00-000000")
	if !errors.Is(err, ErrUserNotFound) {
		t.Errorf("GetByPhone() error = %v, want ErrUserNotFound", err)
	}
}

func TestUserRepository_DuplicatePhone(t *testing.T) {
	db := testDB(t)
	role := seedRole(t, db, "CLERK", false)
	office := seedOffice(t, db, "HQ")
	seedUser(t, db, "+993-11-111111", role.ID, &office.ID, nil)

	dup := &User{Name: "B", Surname: "B", Fathername: "B", Phone: "+993-11-111111", PasswordHash: "x", RoleID: role.ID, Active: true}
	err := NewUserRepository(db).Create(context.Background(), dup)
	if !errors.Is(err, ErrPhoneExists) {
		t.Errorf("Create() duplicate error = %v, want ErrPhoneExists", err)
	}
}

func TestUserRepository_UnknownRole(t *testing.T) {
	db := testDB(t)
	user := &User{Name: "A", Surname: "A", Fathername: "A", Phone: "+993-11-111111", PasswordHash: "x", RoleID: 999, Active: true}

	err := NewUserRepository(db).Create(context.Background(), user)
	if !errors.Is(err, ErrInvalidReference) {
		t.Errorf("Create() error = %v, want ErrInvalidReference", err)
	}
}

func TestUserRepository_UpdateRole(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()
	clerk := seedRole(t, db, "CLERK", false)
	boss := seedRole(t, db, "BOSS", false)
	office := seedOffice(t, db, "HQ")
	user := seedUser(t, db, "+993-11-111111", clerk.ID, &office.ID, nil)

	if err := repo.UpdateRole(ctx, user.ID, boss.ID); err != nil {
		t.Fatalf("UpdateRole() error = %v", err)
	}
	got, _ := repo.GetByID(ctx, user.ID)
	if got.RoleID != boss.ID {
		t.Errorf("RoleID = %d, want %d", got.RoleID, boss.ID)
	}

	if err := repo.UpdateRole(ctx, user.ID, 999); !errors.Is(err, ErrRoleNotFound) {
		t.Errorf("UpdateRole(unknown role) error = %v, want ErrRoleNotFound", err)
	}
	if err := repo.UpdateRole(ctx, 999, boss.ID); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("UpdateRole(unknown user) error = %v, want ErrUserNotFound", err)
	}
}

func TestUserRepository_SetActiveAndCounts(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()
	role := seedRole(t, db, "CLERK", false)
	other := seedRole(t, db, "OTHER", false)
	office := seedOffice(t, db, "HQ")
	u1 := seedUser(t, db, "+993-11-111111", role.ID, &office.ID, nil)
	seedUser(t, db, "+993-11-222222", role.ID, &office.ID, nil)

	if err := repo.SetActive(ctx, u1.ID, false); err != nil {
		t.Fatalf("SetActive() error = %v", err)
	}
	got, _ := repo.GetByID(ctx, u1.ID)
	if got.Active {
		t.Error("Active should be false after SetActive(false)")
	}

	n, err := repo.CountByRole(ctx, role.ID)
	if err != nil {
		t.Fatalf("CountByRole() error = %v", err)
	}
	if n != 2 {
		t.Errorf("CountByRole() = %d, want 2", n)
	}
	if n, _ := repo.CountByRole(ctx, other.ID); n != 0 {
		t.Errorf("CountByRole(other) = %d, want 0", n)
	}
	if n, _ := repo.Count(ctx); n != 2 {
		t.Errorf("Count() = %d, want 2", n)
	}
}

func TestUserRepository_SessionLifecycle(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()
	role := seedRole(t, db, "CLERK", false)
	office := seedOffice(t, db, "HQ")
	user := seedUser(t, db, "+993-11-111111", role.ID, &office.ID, nil)

	expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	loginAt := time.Now().UTC().Truncate(time.Second)

	if err := repo.StartSession(ctx, user.ID, "digest-1", expiry, loginAt); err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	got, _ := repo.GetByID(ctx, user.ID)
	if got.RefreshTokenHash != "digest-1" {
		t.Errorf("RefreshTokenHash = %q, want %q", got.RefreshTokenHash, "digest-1")
	}
	if got.TokenExpiry == nil || !got.TokenExpiry.Equal(expiry) {
		t.Errorf("TokenExpiry = %v, want %v", got.TokenExpiry, expiry)
	}
	if got.LastLoginAt == nil || !got.LastLoginAt.Equal(loginAt) {
		t.Errorf("LastLoginAt = %v, want %v", got.LastLoginAt, loginAt)
	}

	if err := repo.RotateSession(ctx, user.ID, "digest-1", "digest-2", expiry); err != nil {
		t.Fatalf("RotateSession() error = %v", err)
	}
	// The superseded digest no longer matches.
	if err := repo.RotateSession(ctx, user.ID, "digest-1", "digest-3", expiry); !errors.Is(err, ErrTokenMismatch) {
		t.Errorf("RotateSession(stale) error = %v, want ErrTokenMismatch", err)
	}

	if err := repo.ClearSession(ctx, user.ID); err != nil {
		t.Fatalf("ClearSession() error = %v", err)
	}
	if err := repo.ClearSession(ctx, user.ID); err != nil {
		t.Fatalf("ClearSession() second call error = %v", err)
	}
	got, _ = repo.GetByID(ctx, user.ID)
	if got.RefreshTokenHash != "" || got.TokenExpiry != nil {
		t.Errorf("session after ClearSession = (%q, %v), want empty", got.RefreshTokenHash, got.TokenExpiry)
	}
}

func TestUserRepository_SoftDeletedIsInvisible(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()
	role := seedRole(t, db, "CLERK", false)
	office := seedOffice(t, db, "HQ")
	user := seedUser(t, db, "+993-11-111111", role.ID, &office.ID, nil)

	if _, err := db.Exec("UPDATE users SET deleted_at = ? WHERE id = ?", formatTime(nowUTC()), user.ID); err != nil {
		t.Fatalf("soft delete: %v", err)
	}

	if _, err := repo.GetByPhone(ctx, user.Phone); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("GetByPhone() error = %v, want ErrUserNotFound", err)
	}
	if _, err := repo.GetByID(ctx, user.ID); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("GetByID() error = %v, want ErrUserNotFound", err)
	}
	if err := repo.StartSession(ctx, user.ID, "d", time.Now(), time.Now()); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("StartSession() error = %v, want ErrUserNotFound", err)
	}
}
