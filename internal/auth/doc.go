// Package auth provides authentication and authorisation for depot-core.
//
// It is built from six parts, leaf first:
//   - CredentialVerifier: Argon2id password hashing in a bounded worker pool
//   - TokenService: HS256 access and refresh tokens with separate secrets
//   - UserRepository: users plus the single refresh session stored per user
//   - PermissionCache: role permissions per user, bounded by TTL and size
//   - Gate: bearer authentication, permission matching, office/branch scope
//   - Service: register, login, refresh, logout and current user
//
// Permissions live on roles, never in tokens, and are re-resolved through
// the cache on every protected request from the user's stored role. The
// roleId claim is informational. Reassigning or deactivating a user
// therefore takes effect once the cache entry is invalidated or expires.
//
// Scope uses the caller's office and branch from their token. A caller with
// a branch may reach only that branch; a caller with only an office may
// reach the office and every branch it owns. Administrative roles may skip
// scope on routes that allow it.
package auth
