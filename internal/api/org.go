package api

import (
	"errors"
	"net/http"

	"github.com/nerrad567/depot-core/internal/auth"
)

// Office and branch reads. The gate has already checked the caller's scope
// against the officeId / branchId path parameter.

func (s *Server) handleGetOffice(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, paramOfficeID)
	if !ok {
		return
	}

	office, err := s.orgs.GetOffice(r.Context(), id)
	if errors.Is(err, auth.ErrOfficeNotFound) {
		writeNotFound(w, "Office not found")
		return
	}
	if err != nil {
		s.storeFailure(w, r, "getting office", err)
		return
	}
	writeJSON(w, http.StatusOK, office)
}

func (s *Server) handleListBranches(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, paramOfficeID)
	if !ok {
		return
	}

	if _, err := s.orgs.GetOffice(r.Context(), id); err != nil {
		if errors.Is(err, auth.ErrOfficeNotFound) {
			writeNotFound(w, "Office not found")
			return
		}
		s.storeFailure(w, r, "getting office", err)
		return
	}

	branches, err := s.orgs.ListBranches(r.Context(), id)
	if err != nil {
		s.storeFailure(w, r, "listing branches", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"branches": branches,
		"count":    len(branches),
	})
}

func (s *Server) handleGetBranch(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, paramBranchID)
	if !ok {
		return
	}

	branch, err := s.orgs.GetBranch(r.Context(), id)
	if errors.Is(err, auth.ErrBranchNotFound) {
		writeNotFound(w, "Branch not found")
		return
	}
	if err != nil {
		s.storeFailure(w, r, "getting branch", err)
		return
	}
	writeJSON(w, http.StatusOK, branch)
}

// storeFailure logs a repository error and answers 503.
func (s *Server) storeFailure(w http.ResponseWriter, r *http.Request, op string, err error) {
	s.logger.Error("store failure",
		"op", op,
		"error", err,
		"request_id", requestIDFrom(r.Context()),
	)
	writeAuthError(w, auth.NewError(auth.KindTransient, "Service temporarily unavailable", err))
}
