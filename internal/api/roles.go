package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/depot-core/internal/auth"
)

type assignPermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

func (s *Server) handleListPermissions(w http.ResponseWriter, _ *http.Request) {
	perms := s.roles.AvailablePermissions()
	writeJSON(w, http.StatusOK, map[string]any{
		"permissions": perms,
		"count":       len(perms),
	})
}

// handleListRoles lists roles. ?active=true limits the list to active roles.
func (s *Server) handleListRoles(w http.ResponseWriter, r *http.Request) {
	activeOnly := false
	if v := r.URL.Query().Get("active"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeBadRequest(w, "Invalid active filter")
			return
		}
		activeOnly = b
	}

	roles, err := s.roles.List(r.Context(), activeOnly)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"roles": roles,
		"count": len(roles),
	})
}

func (s *Server) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	var in auth.CreateRoleInput
	if !decodeJSON(w, r, &in) {
		return
	}

	role, err := s.roles.Create(r.Context(), in)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, role)
}

func (s *Server) handleGetRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	role, err := s.roles.Get(r.Context(), id)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (s *Server) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var in auth.UpdateRoleInput
	if !decodeJSON(w, r, &in) {
		return
	}

	role, err := s.roles.Update(r.Context(), id, in)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (s *Server) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	p := principalFrom(r.Context())
	if err := s.roles.SoftDelete(r.Context(), id, p.UserID); err != nil {
		writeAuthError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAssignPermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req assignPermissionsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	role, err := s.roles.AssignPermissions(r.Context(), id, req.Permissions)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

// pathID parses a positive integer URL parameter, writing a 400 when it is
// not one.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeBadRequest(w, "Invalid "+name)
		return 0, false
	}
	return id, true
}
