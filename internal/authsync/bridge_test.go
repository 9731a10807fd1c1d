package authsync

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/depot-core/internal/auth"
	"github.com/nerrad567/depot-core/internal/infrastructure/mqtt"
)

// memoryBus delivers every publish synchronously to all subscribers,
// including the publisher, the way a broker echoes to the sender.
type memoryBus struct {
	mu         sync.Mutex
	handlers   map[string][]mqtt.MessageHandler
	publishErr error
	published  [][]byte
	handleErrs []error
}

func newMemoryBus() *memoryBus {
	return &memoryBus{handlers: make(map[string][]mqtt.MessageHandler)}
}

func (b *memoryBus) Publish(topic string, payload []byte, _ byte, _ bool) error {
	b.mu.Lock()
	if b.publishErr != nil {
		b.mu.Unlock()
		return b.publishErr
	}
	b.published = append(b.published, payload)
	handlers := append([]mqtt.MessageHandler(nil), b.handlers[topic]...)
	b.mu.Unlock()

	for _, h := range handlers {
		if err := h(topic, payload); err != nil {
			b.mu.Lock()
			b.handleErrs = append(b.handleErrs, err)
			b.mu.Unlock()
		}
	}
	return nil
}

func (b *memoryBus) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], handler)
	return nil
}

type stubRoles map[int64]*auth.Role

func (s stubRoles) GetByID(_ context.Context, id int64) (*auth.Role, error) {
	r, ok := s[id]
	if !ok {
		return nil, auth.ErrRoleNotFound
	}
	return r, nil
}

// stubUsers maps user ids to their current role ids.
type stubUsers map[int64]int64

func (s stubUsers) GetByID(_ context.Context, id int64) (*auth.User, error) {
	roleID, ok := s[id]
	if !ok {
		return nil, auth.ErrUserNotFound
	}
	return &auth.User{ID: id, RoleID: roleID, Active: true}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newCache(t *testing.T) *auth.PermissionCache {
	t.Helper()
	roles := stubRoles{
		1: {ID: 1, Name: "MANAGER", Active: true, Permissions: []string{"users.view"}},
		2: {ID: 2, Name: "DRIVER", Active: true, Permissions: []string{"orders.view"}},
	}
	users := stubUsers{10: 1, 11: 1, 12: 2}
	return auth.NewPermissionCache(users, roles, time.Minute, 100, testLogger())
}

func warm(t *testing.T, c *auth.PermissionCache, userID int64) {
	t.Helper()
	if _, err := c.Resolve(context.Background(), userID); err != nil {
		t.Fatalf("Resolve(%d) error = %v", userID, err)
	}
}

func startBridge(t *testing.T, cache Cache, bus Bus, instance string) *Bridge {
	t.Helper()
	b := NewBridge(cache, bus, instance, 1, testLogger())
	if err := b.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return b
}

func TestBridge_InvalidateUserPropagates(t *testing.T) {
	bus := newMemoryBus()
	cacheA, cacheB := newCache(t), newCache(t)
	a := startBridge(t, cacheA, bus, "core-a")
	startBridge(t, cacheB, bus, "core-b")

	for _, c := range []*auth.PermissionCache{cacheA, cacheB} {
		warm(t, c, 10)
		warm(t, c, 11)
	}

	a.Invalidate(10)

	if cacheA.Len() != 1 || cacheB.Len() != 1 {
		t.Errorf("Len() = %d/%d, want 1/1", cacheA.Len(), cacheB.Len())
	}
	if len(bus.handleErrs) != 0 {
		t.Errorf("handler errors = %v", bus.handleErrs)
	}
}

func TestBridge_InvalidateRolePropagates(t *testing.T) {
	bus := newMemoryBus()
	cacheA, cacheB := newCache(t), newCache(t)
	startBridge(t, cacheA, bus, "core-a")
	b := startBridge(t, cacheB, bus, "core-b")

	for _, c := range []*auth.PermissionCache{cacheA, cacheB} {
		warm(t, c, 10)
		warm(t, c, 11)
		warm(t, c, 12)
	}

	b.InvalidateRole(1)

	if cacheA.Len() != 1 || cacheB.Len() != 1 {
		t.Errorf("Len() = %d/%d, want 1/1", cacheA.Len(), cacheB.Len())
	}
}

func TestBridge_MessageFormat(t *testing.T) {
	bus := newMemoryBus()
	b := NewBridge(newCache(t), bus, "core-a", 0, testLogger())

	b.InvalidateRole(5)

	if len(bus.published) != 1 {
		t.Fatalf("published %d messages, want 1", len(bus.published))
	}
	var got map[string]any
	if err := json.Unmarshal(bus.published[0], &got); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if got["instance"] != "core-a" || got["role_id"] != float64(5) {
		t.Errorf("payload = %v", got)
	}
	if _, ok := got["user_id"]; ok {
		t.Errorf("payload carries user_id for a role invalidation: %v", got)
	}
}

func TestBridge_PublishFailureStillInvalidatesLocally(t *testing.T) {
	bus := newMemoryBus()
	bus.publishErr = mqtt.ErrNotConnected
	cache := newCache(t)
	b := startBridge(t, cache, bus, "core-a")
	warm(t, cache, 10)

	b.Invalidate(10)

	if cache.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after local invalidation", cache.Len())
	}
}

func TestBridge_HandleRejectsBadPayloads(t *testing.T) {
	b := NewBridge(newCache(t), newMemoryBus(), "core-a", 0, testLogger())

	if err := b.handle("depot/auth/invalidate", []byte("{not json")); err == nil {
		t.Error("handle(malformed) = nil, want error")
	}
	if err := b.handle("depot/auth/invalidate", []byte(`{"instance":"core-b"}`)); !errors.Is(err, errEmptyMessage) {
		t.Errorf("handle(empty) error = %v, want errEmptyMessage", err)
	}
}

func TestBridge_IgnoresOwnEcho(t *testing.T) {
	cache := &countingCache{}
	b := NewBridge(cache, newMemoryBus(), "core-a", 0, testLogger())

	if err := b.handle("depot/auth/invalidate", []byte(`{"instance":"core-a","user_id":3}`)); err != nil {
		t.Fatalf("handle() error = %v", err)
	}
	if cache.users != 0 {
		t.Errorf("own echo applied %d times, want 0", cache.users)
	}
}

func TestBridge_Resync(t *testing.T) {
	cache := newCache(t)
	b := NewBridge(cache, newMemoryBus(), "core-a", 0, testLogger())
	warm(t, cache, 10)
	warm(t, cache, 12)

	b.Resync()

	if cache.Len() != 0 {
		t.Errorf("Len() after Resync = %d, want 0", cache.Len())
	}
}

type countingCache struct {
	users, roles, purges int
}

func (c *countingCache) Invalidate(int64)     { c.users++ }
func (c *countingCache) InvalidateRole(int64) { c.roles++ }
func (c *countingCache) Purge()               { c.purges++ }
