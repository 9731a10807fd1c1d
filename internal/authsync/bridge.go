// Package authsync keeps permission caches consistent across depot-core
// instances. A role or user change applied on one instance is announced on
// MQTT so every other instance drops the affected cache entries.
package authsync

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nerrad567/depot-core/internal/auth"
	"github.com/nerrad567/depot-core/internal/infrastructure/mqtt"
)

// Cache is the local permission cache. *auth.PermissionCache implements it.
type Cache interface {
	auth.Invalidator
	Purge()
}

// Bus is the MQTT surface the bridge needs. *mqtt.Client implements it.
type Bus interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// message is the JSON body on depot/auth/invalidate. Exactly one of UserID
// and RoleID is set.
type message struct {
	Instance string `json:"instance"`
	UserID   int64  `json:"user_id,omitempty"`
	RoleID   int64  `json:"role_id,omitempty"`
}

var errEmptyMessage = errors.New("invalidation names neither user nor role")

// Bridge implements auth.Invalidator. Local invalidation always happens
// first; a failed publish is logged and does not fail the caller, since the
// cache TTL bounds how long a peer can serve stale permissions.
type Bridge struct {
	cache    Cache
	bus      Bus
	instance string
	qos      byte
	topic    string
	logger   *slog.Logger
}

// NewBridge creates a bridge for this instance. instance must be unique
// across the fleet; the MQTT client id is a good choice.
func NewBridge(cache Cache, bus Bus, instance string, qos byte, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		cache:    cache,
		bus:      bus,
		instance: instance,
		qos:      qos,
		topic:    mqtt.Topics{}.AuthInvalidate(),
		logger:   logger.With("component", "authsync"),
	}
}

// Start subscribes to peer invalidations.
func (b *Bridge) Start() error {
	if err := b.bus.Subscribe(b.topic, b.qos, b.handle); err != nil {
		return fmt.Errorf("subscribing to %s: %w", b.topic, err)
	}
	return nil
}

// Resync drops every cached entry. Call it after a broker reconnect, when
// peer invalidations may have been missed.
func (b *Bridge) Resync() {
	b.cache.Purge()
	b.logger.Info("permission cache purged after reconnect")
}

// Invalidate implements auth.Invalidator.
func (b *Bridge) Invalidate(userID int64) {
	b.cache.Invalidate(userID)
	b.announce(message{UserID: userID})
}

// InvalidateRole implements auth.Invalidator.
func (b *Bridge) InvalidateRole(roleID int64) {
	b.cache.InvalidateRole(roleID)
	b.announce(message{RoleID: roleID})
}

func (b *Bridge) announce(m message) {
	m.Instance = b.instance
	payload, err := json.Marshal(m)
	if err != nil {
		b.logger.Error("encoding invalidation", "error", err)
		return
	}
	if err := b.bus.Publish(b.topic, payload, b.qos, false); err != nil {
		b.logger.Warn("publishing invalidation",
			"user_id", m.UserID,
			"role_id", m.RoleID,
			"error", err,
		)
	}
}

// handle applies a peer's invalidation. Our own echoes are ignored.
func (b *Bridge) handle(_ string, payload []byte) error {
	var m message
	if err := json.Unmarshal(payload, &m); err != nil {
		return fmt.Errorf("decoding invalidation: %w", err)
	}
	if m.Instance == b.instance {
		return nil
	}

	switch {
	case m.UserID != 0:
		b.cache.Invalidate(m.UserID)
	case m.RoleID != 0:
		b.cache.InvalidateRole(m.RoleID)
	default:
		return errEmptyMessage
	}

	b.logger.Debug("applied peer invalidation",
		"from", m.Instance,
		"user_id", m.UserID,
		"role_id", m.RoleID,
	)
	return nil
}
