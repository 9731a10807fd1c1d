package api

import (
	"net/http"

	"github.com/nerrad567/depot-core/internal/auth"
)

type assignRoleRequest struct {
	RoleID int64 `json:"roleId"`
}

type setActiveRequest struct {
	Active *bool `json:"active"`
}

func (s *Server) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req assignRoleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RoleID <= 0 {
		writeBadRequest(w, "Validation failed", "roleId must be a positive integer")
		return
	}

	user, err := s.auth.AssignRole(r.Context(), id, req.RoleID)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

// handleSetActive enables or disables an account. Disabling also ends the
// user's refresh session.
func (s *Server) handleSetActive(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req setActiveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Active == nil {
		writeBadRequest(w, "Validation failed", "active must be a boolean")
		return
	}

	if p := principalFrom(r.Context()); p.UserID == id && !*req.Active {
		writeAuthError(w, auth.NewError(auth.KindForbidden, "Cannot deactivate your own account", nil))
		return
	}

	user, err := s.auth.SetActive(r.Context(), id, *req.Active)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}
