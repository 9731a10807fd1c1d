package auth

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Default cache settings.
const (
	DefaultPermissionCacheTTL = 5 * time.Minute
	DefaultPermissionCacheMax = 10000
)

// UserSource is the read side of UserRepository used by the cache.
type UserSource interface {
	GetByID(ctx context.Context, id int64) (*User, error)
}

// RoleSource is the read side of RoleRepository used by the cache.
type RoleSource interface {
	GetByID(ctx context.Context, id int64) (*Role, error)
}

// Invalidator drops cached permissions. PermissionCache implements it, and
// so does the cross-instance bridge that wraps it.
type Invalidator interface {
	Invalidate(userID int64)
	InvalidateRole(roleID int64)
}

// CacheObserver is told about every lookup. Telemetry uses it for hit/miss counters.
type CacheObserver interface {
	ObserveCacheLookup(hit bool)
}

// ResolvedRole is what a user's current role grants at the time it was
// resolved. Name is empty and Permissions is empty when the user is missing
// or inactive, or when the role is missing or inactive.
type ResolvedRole struct {
	RoleID      int64
	Name        string
	Permissions PermissionSet
}

type cacheEntry struct {
	role       ResolvedRole
	insertedAt time.Time
}

// PermissionCache memoises role permissions per user for a bounded time.
//
// Entries are keyed by user id. A miss reads the user's current role and
// active flag from the store, so the role id carried in an access token is
// never consulted. Each entry remembers the role it was resolved through for
// InvalidateRole. A missing or inactive user or role resolves to an empty
// set. A store failure is returned as an error and never cached.
//
// Thread Safety:
//   - All methods are safe for concurrent use. A single mutex guards the map
//     and entries are replaced whole.
type PermissionCache struct {
	users      UserSource
	roles      RoleSource
	ttl        time.Duration
	maxEntries int
	logger     *slog.Logger
	observer   CacheObserver
	now        func() time.Time

	mu      sync.Mutex
	entries map[int64]cacheEntry
	// gen advances on every invalidation so that a lookup which raced an
	// invalidation does not store what it read.
	gen uint64
}

// NewPermissionCache creates a cache reading users from users and roles from
// roles. Zero ttl or maxEntries use the defaults.
func NewPermissionCache(users UserSource, roles RoleSource, ttl time.Duration, maxEntries int, logger *slog.Logger) *PermissionCache {
	if ttl <= 0 {
		ttl = DefaultPermissionCacheTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultPermissionCacheMax
	}
	return &PermissionCache{
		users:      users,
		roles:      roles,
		ttl:        ttl,
		maxEntries: maxEntries,
		logger:     logger,
		now:        time.Now,
		entries:    make(map[int64]cacheEntry),
	}
}

// SetObserver installs o to receive hit/miss notifications.
func (c *PermissionCache) SetObserver(o CacheObserver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observer = o
}

// Resolve returns the permissions userID currently holds.
func (c *PermissionCache) Resolve(ctx context.Context, userID int64) (PermissionSet, error) {
	r, err := c.ResolveRole(ctx, userID)
	if err != nil {
		return PermissionSet{}, err
	}
	return r.Permissions, nil
}

// ResolveRole is Resolve that also reports the role id and name.
func (c *PermissionCache) ResolveRole(ctx context.Context, userID int64) (ResolvedRole, error) {
	now := c.now()

	c.mu.Lock()
	e, ok := c.entries[userID]
	fresh := ok && now.Sub(e.insertedAt) < c.ttl
	gen := c.gen
	observer := c.observer
	c.mu.Unlock()

	if observer != nil {
		observer.ObserveCacheLookup(fresh)
	}
	if fresh {
		return e.role, nil
	}

	resolved, err := c.load(ctx, userID)
	if err != nil {
		return ResolvedRole{}, err
	}

	c.mu.Lock()
	if c.gen == gen {
		c.entries[userID] = cacheEntry{role: resolved, insertedAt: now}
		if len(c.entries) > c.maxEntries {
			c.evictOldestLocked()
		}
	}
	c.mu.Unlock()

	return resolved, nil
}

// load reads the user's current role from the store.
func (c *PermissionCache) load(ctx context.Context, userID int64) (ResolvedRole, error) {
	user, err := c.users.GetByID(ctx, userID)
	switch {
	case errors.Is(err, ErrUserNotFound):
		return ResolvedRole{}, nil
	case err != nil:
		c.logger.Error("user lookup failed", "user_id", userID, "error", err)
		return ResolvedRole{}, storeFailure("resolving permissions", err)
	case !user.Active:
		return ResolvedRole{RoleID: user.RoleID}, nil
	}

	resolved := ResolvedRole{RoleID: user.RoleID}
	role, err := c.roles.GetByID(ctx, user.RoleID)
	switch {
	case errors.Is(err, ErrRoleNotFound):
		// Empty set.
	case err != nil:
		c.logger.Error("permission lookup failed", "user_id", userID, "role_id", user.RoleID, "error", err)
		return ResolvedRole{}, storeFailure("resolving permissions", err)
	case role.Active:
		resolved.Name = role.Name
		resolved.Permissions = NewPermissionSet(role.Permissions...)
	}
	return resolved, nil
}

// Invalidate drops the entry for userID.
func (c *PermissionCache) Invalidate(userID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	delete(c.entries, userID)
}

// InvalidateRole drops every entry resolved through roleID.
func (c *PermissionCache) InvalidateRole(roleID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	for id, e := range c.entries {
		if e.role.RoleID == roleID {
			delete(c.entries, id)
		}
	}
}

// Purge drops every entry.
func (c *PermissionCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.entries = make(map[int64]cacheEntry)
}

// Len returns the number of entries, fresh or stale.
func (c *PermissionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Sweep removes expired entries and returns how many were removed.
func (c *PermissionCache) Sweep() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for id, e := range c.entries {
		if now.Sub(e.insertedAt) >= c.ttl {
			delete(c.entries, id)
			removed++
		}
	}
	return removed
}

// Run sweeps expired entries every TTL until ctx is done.
func (c *PermissionCache) Run(ctx context.Context) {
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				c.logger.Debug("permission cache swept", "removed", n)
			}
		}
	}
}

// evictOldestLocked removes the entry with the earliest insert time.
// Caller holds c.mu.
func (c *PermissionCache) evictOldestLocked() {
	var (
		oldestID int64
		oldestAt time.Time
		found    bool
	)
	for id, e := range c.entries {
		if !found || e.insertedAt.Before(oldestAt) {
			oldestID, oldestAt, found = id, e.insertedAt, true
		}
	}
	if found {
		delete(c.entries, oldestID)
	}
}
