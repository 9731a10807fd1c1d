package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/depot-core/internal/auth"
)

// Scope parameter names, looked up in the path, then the query string, then
// a JSON body.
const (
	paramOfficeID = "officeId"
	paramBranchID = "branchId"
)

// authenticate verifies the bearer token and stores the principal in the
// request context.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := s.gate.Authenticate(r.Header.Get("Authorization"))
		if err != nil {
			writeAuthError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyPrincipal, p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// require builds middleware that admits only callers satisfying req. It must
// be mounted inside a chi route so path parameters are resolved, and after
// authenticate.
func (s *Server) require(req auth.Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := principalFrom(r.Context())
			if p == nil {
				writeError(w, http.StatusUnauthorized, auth.KindUnauthorized.Code(), "Authentication required")
				return
			}

			scope, err := scopeFromRequest(r)
			if err != nil {
				writeBadRequest(w, scopeMessage(err))
				return
			}

			if err := s.gate.Authorize(r.Context(), p, req, scope); err != nil {
				writeAuthError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func principalFrom(ctx context.Context) *auth.Principal {
	p, _ := ctx.Value(ctxKeyPrincipal).(*auth.Principal)
	return p
}

// scopeFromRequest extracts the office and branch a request targets. For
// each parameter the first source that carries it wins. A present but
// malformed id is an error rather than an absent one.
func scopeFromRequest(r *http.Request) (auth.ScopeRequest, error) {
	body, err := scopeBody(r)
	if err != nil {
		return auth.ScopeRequest{}, err
	}

	var scope auth.ScopeRequest
	if scope.OfficeID, err = scopeParam(r, body, paramOfficeID); err != nil {
		return auth.ScopeRequest{}, err
	}
	if scope.BranchID, err = scopeParam(r, body, paramBranchID); err != nil {
		return auth.ScopeRequest{}, err
	}
	return scope, nil
}

func scopeParam(r *http.Request, body map[string]json.RawMessage, name string) (*int64, error) {
	if v := chi.URLParam(r, name); v != "" {
		return parseScopeID(name, v)
	}
	if v := r.URL.Query().Get(name); v != "" {
		return parseScopeID(name, v)
	}
	raw, ok := body[name]
	if !ok || string(raw) == "null" {
		return nil, nil
	}
	var id int64
	if err := json.Unmarshal(raw, &id); err != nil || id <= 0 {
		return nil, invalidScopeError(name)
	}
	return &id, nil
}

// invalidScopeError names a scope parameter that is present but not a
// positive integer.
type invalidScopeError string

func (e invalidScopeError) Error() string {
	return "invalid " + string(e)
}

func scopeMessage(err error) string {
	var ise invalidScopeError
	if errors.As(err, &ise) {
		return "Invalid " + string(ise)
	}
	return "Request body could not be read"
}

func parseScopeID(name, v string) (*int64, error) {
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return nil, invalidScopeError(name)
	}
	return &id, nil
}

// scopeBody reads a JSON object body for scope parameters and restores it
// for the handler. Non-JSON and non-object bodies carry no scope.
func scopeBody(r *http.Request) (map[string]json.RawMessage, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		return nil, nil
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("reading request body: %w", err)
	}
	r.Body = io.NopCloser(bytes.NewReader(raw))

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, nil
	}
	return fields, nil
}
