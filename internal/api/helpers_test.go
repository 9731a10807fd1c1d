package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/depot-core/internal/auth"
	"github.com/nerrad567/depot-core/internal/infrastructure/config"
	"github.com/nerrad567/depot-core/internal/infrastructure/database"
	"github.com/nerrad567/depot-core/internal/infrastructure/logging"
	"github.com/nerrad567/depot-core/internal/telemetry"
	"github.com/nerrad567/depot-core/migrations"
)

const testPassword = "correct-horse-battery"

var testArgon2Params = auth.Argon2Params{Time: 1, Memory: 1024, Threads: 1, KeyLen: 32, SaltLen: 16}

// testEnv is a fully wired API over a temporary database.
type testEnv struct {
	db       *sql.DB
	users    *auth.SQLiteUserRepository
	roles    *auth.SQLiteRoleRepository
	orgs     *auth.SQLiteOrgRepository
	verifier *auth.CredentialVerifier
	server   *Server
	handler  http.Handler
	registry *prometheus.Registry
}

type envOption func(*Deps)

func withThrottle(th auth.LoginThrottle) envOption {
	return func(d *Deps) { d.Throttle = th }
}

func withRateLimit(maxRequests int, window string) envOption {
	return func(d *Deps) {
		d.Config.RateLimit = config.RateLimitConfig{Enabled: true, Window: window, MaxRequests: maxRequests}
	}
}

func withDependencies(deps ...Dependency) envOption {
	return func(d *Deps) { d.Dependencies = deps }
}

func testLogger() *logging.Logger {
	return logging.NewWithWriter(io.Discard, config.LoggingConfig{Level: "error", Format: "text"}, "test")
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "api-test.db"),
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

	log := testLogger()
	env := &testEnv{
		db:       db.DB,
		users:    auth.NewUserRepository(db.DB),
		roles:    auth.NewRoleRepository(db.DB),
		orgs:     auth.NewOrgRepository(db.DB),
		verifier: auth.NewCredentialVerifier(2, testArgon2Params),
		registry: prometheus.NewRegistry(),
	}

	tokens, err := auth.NewTokenService(auth.TokenConfig{
		AccessSecret:  "api-access-secret-at-least-32-chars!",
		RefreshSecret: "api-refresh-secret-at-least-32-chars",
		AccessTTL:     time.Hour,
		RefreshTTL:    7 * 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("NewTokenService() error = %v", err)
	}

	metrics := telemetry.NewMetrics(env.registry)
	cache := auth.NewPermissionCache(env.users, env.roles, time.Minute, 100, log.Logger)
	cache.SetObserver(metrics)

	svc, err := auth.NewService(auth.ServiceDeps{
		Users:    env.users,
		Roles:    env.roles,
		Orgs:     env.orgs,
		Verifier: env.verifier,
		Tokens:   tokens,
		Cache:    cache,
		Events:   telemetry.NewRecorder(telemetry.RecorderDeps{Metrics: metrics, Logger: log.Logger}),
		Logger:   log.Logger,
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}

	deps := Deps{
		Config:  config.APIConfig{Host: "127.0.0.1"},
		Logger:  log,
		Auth:    svc,
		Roles:   auth.NewRoleService(env.roles, env.users, cache, log.Logger),
		Orgs:    env.orgs,
		Gate:    auth.NewGate(tokens, cache, env.orgs, []string{auth.RoleSuperAdmin}, log.Logger),
		Metrics: metrics,
		Version: "test",
	}
	for _, opt := range opts {
		opt(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	env.server = srv
	env.handler = srv.Handler()
	return env
}

func (e *testEnv) seedRole(t *testing.T, name string, system bool, perms ...string) *auth.Role {
	t.Helper()
	role := &auth.Role{Name: name, Permissions: perms, IsSystem: system, Active: true}
	if err := e.roles.Create(context.Background(), role); err != nil {
		t.Fatalf("creating role %s: %v", name, err)
	}
	return role
}

func (e *testEnv) seedOffice(t *testing.T, code string) *auth.Office {
	t.Helper()
	office := &auth.Office{Name: "Office " + code, Code: code, Active: true}
	if err := e.orgs.CreateOffice(context.Background(), office); err != nil {
		t.Fatalf("creating office %s: %v", code, err)
	}
	return office
}

func (e *testEnv) seedBranch(t *testing.T, officeID int64, code string) *auth.Branch {
	t.Helper()
	branch := &auth.Branch{OfficeID: officeID, Name: "Branch " + code, Code: code, Active: true}
	if err := e.orgs.CreateBranch(context.Background(), branch); err != nil {
		t.Fatalf("creating branch %s: %v", code, err)
	}
	return branch
}

// seedUser inserts an active user whose password is testPassword.
func (e *testEnv) seedUser(t *testing.T, phone string, roleID int64, officeID, branchID *int64) *auth.User {
	t.Helper()
	hash, err := e.verifier.Hash(context.Background(), testPassword)
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	user := &auth.User{
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
	if err := e.users.Create(context.Background(), user); err != nil {
		t.Fatalf("creating user %s: %v", phone, err)
	}
	return user
}

// do sends a request through the full router. body may be nil, a string
// (sent raw) or any value (JSON encoded).
func (e *testEnv) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("encoding body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

// login returns the token pair for phone/testPassword, failing the test otherwise.
func (e *testEnv) login(t *testing.T, phone string) auth.TokenPair {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"phone":    phone,
		"password": testPassword,
	}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("login %s status = %d, body = %s", phone, w.Code, w.Body.String())
	}
	var session auth.Session
	decode(t, w, &session)
	return session.Tokens
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding %q: %v", w.Body.String(), err)
	}
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) Error {
	t.Helper()
	var e Error
	decode(t, w, &e)
	if e.Status != w.Code {
		t.Errorf("error body status = %d, response status = %d", e.Status, w.Code)
	}
	return e
}

func ptr[T any](v T) *T { return &v }
