// Package api implements the depot-core HTTP REST API.
//
// This package provides:
//   - Auth endpoints: register, login, refresh, logout and current user
//   - Role administration and user role/activation changes
//   - Office and branch reads guarded by office/branch scope
//   - Middleware stack (request ID, metrics, logging, recovery, CORS,
//     body limit, per-client rate limiting, failed-login throttle)
//   - TLS support for production deployments
//
// # Authorization
//
// Protected routes run authenticate, which verifies the bearer access token,
// then require, which asks auth.Gate whether the caller's role grants the
// route's permissions and whether the requested officeId / branchId lies
// within the caller's scope. Scope parameters are read from the path, then
// the query string, then a JSON body.
//
// # Errors
//
// Every failure is rendered as
//
//	{"status":403,"code":"forbidden","message":"Permission denied","errors":[...]}
//
// where errors lists per-field validation problems when there are any. Store
// outages answer 503 with a Retry-After header.
package api
