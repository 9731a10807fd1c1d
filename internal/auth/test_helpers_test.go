package auth

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/depot-core/internal/infrastructure/database"
	"github.com/nerrad567/depot-core/migrations"
)

const testPassword = "correct-horse-battery"

// testDB opens a temporary SQLite database with the real migrations applied.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "auth-test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db.DB
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedRole(t *testing.T, db *sql.DB, name string, system bool, perms ...string) *Role {
	t.Helper()
	role := &Role{Name: name, Permissions: perms, IsSystem: system, Active: true}
	if err := NewRoleRepository(db).Create(context.Background(), role); err != nil {
		t.Fatalf("creating role %s: %v", name, err)
	}
	return role
}

func seedOffice(t *testing.T, db *sql.DB, code string) *Office {
	t.Helper()
	office := &Office{Name: "Office " + code, Code: code, Active: true}
	if err := NewOrgRepository(db).CreateOffice(context.Background(), office); err != nil {
		t.Fatalf("creating office %s: %v", code, err)
	}
	return office
}

func seedBranch(t *testing.T, db *sql.DB, officeID int64, code string) *Branch {
	t.Helper()
	branch := &Branch{OfficeID: officeID, Name: "Branch " + code, Code: code, Active: true}
	if err := NewOrgRepository(db).CreateBranch(context.Background(), branch); err != nil {
		t.Fatalf("creating branch %s: %v", code, err)
	}
	return branch
}

// seedUser inserts an active user whose password is testPassword.
func seedUser(t *testing.T, db *sql.DB, phone string, roleID int64, officeID, branchID *int64) *User {
	t.Helper()
	hash, err := newTestVerifier().Hash(context.Background(), testPassword)
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	user := &User{
		Name:         "Test",
		Surname:      "User",
		Fathername:   "Tester",
		Phone:        phone,
		PasswordHash: hash,
		RoleID:       roleID,
		OfficeID:     officeID,
		BranchID:     branchID,
		Active:       true,
	}
	if err := NewUserRepository(db).Create(context.Background(), user); err != nil {
		t.Fatalf("creating user %s: %v", phone, err)
	}
	return user
}

func ptr[T any](v T) *T { return &v }

// fakeClock is a settable time source.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// recordingSink collects auth events.
type recordingSink struct {
	events []AuthEvent
}

func (r *recordingSink) RecordAuthEvent(_ context.Context, e AuthEvent) {
	r.events = append(r.events, e)
}

func (r *recordingSink) count(t EventType, o Outcome) int {
	n := 0
	for _, e := range r.events {
		if e.Type == t && e.Outcome == o {
			n++
		}
	}
	return n
}

// testEnv wires a Service over a fresh database.
type testEnv struct {
	db       *sql.DB
	users    *SQLiteUserRepository
	roles    *SQLiteRoleRepository
	orgs     *SQLiteOrgRepository
	tokens   *TokenService
	cache    *PermissionCache
	service  *Service
	roleSvc  *RoleService
	gate     *Gate
	sink     *recordingSink
	verifier *CredentialVerifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := testDB(t)
	logger := testLogger()

	env := &testEnv{
		db:       db,
		users:    NewUserRepository(db),
		roles:    NewRoleRepository(db),
		orgs:     NewOrgRepository(db),
		tokens:   newTestTokenService(t),
		sink:     &recordingSink{},
		verifier: newTestVerifier(),
	}
	env.cache = NewPermissionCache(env.users, env.roles, time.Minute, 100, logger)

	svc, err := NewService(ServiceDeps{
		Users:    env.users,
		Roles:    env.roles,
		Orgs:     env.orgs,
		Verifier: env.verifier,
		Tokens:   env.tokens,
		Cache:    env.cache,
		Events:   env.sink,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	env.service = svc
	env.roleSvc = NewRoleService(env.roles, env.users, env.cache, logger)
	env.gate = NewGate(env.tokens, env.cache, env.orgs, []string{RoleSuperAdmin, "ADMIN"}, logger)
	return env
}
