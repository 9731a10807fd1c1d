package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/depot-core/internal/auth"
	"github.com/nerrad567/depot-core/internal/infrastructure/config"
)

// ─── Construction ─────────────────────────────────────────────────

func TestNew_RequiresDependencies(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New(Deps{}) = nil error, want logger required")
	}
	if _, err := New(Deps{Logger: testLogger()}); err == nil {
		t.Error("New() without auth service = nil error")
	}
}

func TestNew_RejectsBadRateLimit(t *testing.T) {
	env := newTestEnv(t)
	deps := Deps{
		Config: config.APIConfig{RateLimit: config.RateLimitConfig{Enabled: true, Window: "soon", MaxRequests: 5}},
		Logger: testLogger(),
		Auth:   env.server.auth,
		Roles:  env.server.roles,
		Orgs:   env.server.orgs,
		Gate:   env.server.gate,
	}
	if _, err := New(deps); err == nil {
		t.Error("New() with invalid rate limit window = nil error")
	}
}

// ─── Health and plumbing ──────────────────────────────────────────

type stubChecker struct{ err error }

func (s stubChecker) HealthCheck(context.Context) error { return s.err }

func TestHealth(t *testing.T) {
	env := newTestEnv(t, withDependencies(
		Dependency{Name: "database", Checker: stubChecker{}, Critical: true},
	))

	w := env.do(t, http.MethodGet, "/api/v1/health", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var resp healthResponse
	decode(t, w, &resp)
	if resp.Status != "ok" || resp.Version != "test" || resp.Checks["database"] != "ok" {
		t.Errorf("health = %+v", resp)
	}
}

func TestHealth_Degraded(t *testing.T) {
	env := newTestEnv(t, withDependencies(
		Dependency{Name: "database", Checker: stubChecker{}, Critical: true},
		Dependency{Name: "mqtt", Checker: stubChecker{err: errors.New("down")}},
	))

	w := env.do(t, http.MethodGet, "/api/v1/health", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for optional failure", w.Code)
	}
	var resp healthResponse
	decode(t, w, &resp)
	if resp.Status != "degraded" || resp.Checks["mqtt"] != "unavailable" {
		t.Errorf("health = %+v", resp)
	}
}

func TestHealth_CriticalFailure(t *testing.T) {
	env := newTestEnv(t, withDependencies(
		Dependency{Name: "database", Checker: stubChecker{err: errors.New("locked")}, Critical: true},
	))

	w := env.do(t, http.MethodGet, "/api/v1/health", nil, "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	if strings.Contains(w.Body.String(), "locked") {
		t.Errorf("health leaks dependency error: %s", w.Body.String())
	}
}

func TestRequestID_Generated(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/api/v1/health", nil, "")

	// ULIDs are 26 Crockford base32 characters.
	if id := w.Header().Get("X-Request-ID"); len(id) != 26 {
		t.Errorf("X-Request-ID = %q, want a ULID", id)
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-trace-1")
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-trace-1" {
		t.Errorf("X-Request-ID = %q, want client value", got)
	}
}

func TestRequestID_RejectsOversized(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", strings.Repeat("x", maxRequestIDLength+1))
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); len(got) != 26 {
		t.Errorf("oversized request id kept: %q", got)
	}
}

func TestCORS_Preflight(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/auth/login", nil)
	req.Header.Set("Origin", "https://admin.depot.example")
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://admin.depot.example" {
		t.Errorf("Allow-Origin = %q", got)
	}
}

func TestNotFound(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/api/v1/nope", nil, "")

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if e := decodeError(t, w); e.Code != "not_found" {
		t.Errorf("code = %q", e.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/api/v1/health", nil, "")

	w := env.do(t, http.MethodGet, "/metrics", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `depot_http_requests_total{method="GET",route="/api/v1/health",status="200"} 1`) {
		t.Errorf("metrics missing health request:\n%s", w.Body.String())
	}
}

func TestBodySizeLimit(t *testing.T) {
	env := newTestEnv(t)
	body := `{"phone":"` + strings.Repeat("1", maxRequestBodySize) + `"}`

	w := env.do(t, http.MethodPost, "/api/v1/auth/login", body, "")
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", w.Code)
	}
}

func TestRecovery(t *testing.T) {
	env := newTestEnv(t)
	h := env.server.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

// ─── Rate limiting and throttling ─────────────────────────────────

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, withRateLimit(2, "1m"))

	for i := range 2 {
		if w := env.do(t, http.MethodGet, "/api/v1/health", nil, ""); w.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i+1, w.Code)
		}
	}

	w := env.do(t, http.MethodGet, "/api/v1/health", nil, "")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("third request status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("429 without Retry-After")
	}
	if e := decodeError(t, w); e.Code != "rate_limited" {
		t.Errorf("code = %q", e.Code)
	}
}

func TestAuthThrottle_CountsFailuresOnly(t *testing.T) {
	env := newTestEnv(t, withThrottle(auth.NewMemoryThrottle(3, 15*time.Minute)))
	role := env.seedRole(t, "EMPLOYEE", true)
	office := env.seedOffice(t, "HQ")
	env.seedUser(t, "+993-61-000001", role.ID, &office.ID, nil)

	// Successes never count.
	for range 4 {
		env.login(t, "+993-61-000001")
	}

	bad := map[string]string{"phone": "+993-61-000001", "password": "wrong-password"}
	for i := range 3 {
		if w := env.do(t, http.MethodPost, "/api/v1/auth/login", bad, ""); w.Code != http.StatusUnauthorized {
			t.Fatalf("failure %d status = %d, want 401", i+1, w.Code)
		}
	}

	w := env.do(t, http.MethodPost, "/api/v1/auth/login", bad, "")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status after limit = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("429 without Retry-After")
	}

	// Register shares the budget.
	if w := env.do(t, http.MethodPost, "/api/v1/auth/register", map[string]any{}, ""); w.Code != http.StatusTooManyRequests {
		t.Errorf("register status = %d, want 429", w.Code)
	}
	// Refresh is not throttled.
	if w := env.do(t, http.MethodPost, "/api/v1/auth/refresh", map[string]string{"refreshToken": "x"}, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("refresh status = %d, want 401", w.Code)
	}
}

func TestAuthThrottle_IgnoresServerErrors(t *testing.T) {
	throttle := auth.NewMemoryThrottle(2, 15*time.Minute)
	env := newTestEnv(t, withThrottle(throttle))
	env.db.Close()

	creds := map[string]string{"phone": "+993-61-000002", "password": testPassword}
	for i := range 5 {
		if w := env.do(t, http.MethodPost, "/api/v1/auth/login", creds, ""); w.Code != http.StatusServiceUnavailable {
			t.Fatalf("attempt %d status = %d, want 503 during a store outage", i+1, w.Code)
		}
	}

	wait, err := throttle.Check(context.Background(), "192.0.2.1")
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if wait != 0 {
		t.Errorf("Check() after outage = %v, want 0", wait)
	}
}

// failingThrottle behaves like a throttle whose store is unreachable.
type failingThrottle struct{}

func (failingThrottle) Check(context.Context, string) (time.Duration, error) {
	return 0, errors.New("redis unavailable")
}

func (failingThrottle) RecordFailure(context.Context, string) error {
	return errors.New("redis unavailable")
}

func TestAuthThrottle_FailsOpen(t *testing.T) {
	env := newTestEnv(t, withThrottle(failingThrottle{}))

	bad := map[string]string{"phone": "+993-61-000009", "password": "wrong-password"}
	for range 5 {
		if w := env.do(t, http.MethodPost, "/api/v1/auth/login", bad, ""); w.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401 while throttle store is down", w.Code)
		}
	}
}
