package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/depot-core/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	if s.metrics != nil {
		r.Use(s.metrics.Instrument)
	}
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)
	if s.limiter != nil {
		r.Use(s.rateLimitMiddleware)
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "Route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
	})

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/auth", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				if s.throttle != nil {
					r.Use(s.authThrottleMiddleware)
				}
				r.Post("/register", s.handleRegister)
				r.Post("/login", s.handleLogin)
			})
			r.Post("/refresh", s.handleRefresh)

			r.Group(func(r chi.Router) {
				r.Use(s.authenticate)
				r.Post("/logout", s.handleLogout)
				r.Get("/me", s.handleMe)
			})
		})

		// Everything below requires a valid access token.
		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)

			r.Route("/roles", func(r chi.Router) {
				r.With(s.require(auth.AnyOf(auth.PermRolesRead))).Get("/permissions", s.handleListPermissions)
				r.With(s.require(auth.AnyOf(auth.PermRolesList))).Get("/", s.handleListRoles)
				r.With(s.require(auth.AnyOf(auth.PermRolesCreate))).Post("/", s.handleCreateRole)

				r.Route("/{id}", func(r chi.Router) {
					r.With(s.require(auth.AnyOf(auth.PermRolesRead))).Get("/", s.handleGetRole)
					r.With(s.require(auth.AnyOf(auth.PermRolesUpdate))).Put("/", s.handleUpdateRole)
					r.With(s.require(auth.AnyOf(auth.PermRolesDelete))).Delete("/", s.handleDeleteRole)
					r.With(s.require(auth.AnyOf(auth.PermPermissionsManage))).Post("/assign-permissions", s.handleAssignPermissions)
				})
			})

			r.Route("/users/{id}", func(r chi.Router) {
				r.Use(s.require(auth.AnyOf(auth.PermUsersUpdate)))
				r.Put("/role", s.handleAssignRole)
				r.Put("/active", s.handleSetActive)
			})

			r.Route("/offices/{officeId}", func(r chi.Router) {
				r.With(s.require(auth.AnyOf(auth.PermOfficesRead).WithSuperAdminBypass())).Get("/", s.handleGetOffice)
				r.With(s.require(auth.AnyOf(auth.PermBranchesList).WithSuperAdminBypass())).Get("/branches", s.handleListBranches)
			})

			r.With(s.require(auth.AnyOf(auth.PermBranchesRead).WithSuperAdminBypass())).
				Get("/branches/{branchId}", s.handleGetBranch)
		})
	})

	return r
}
