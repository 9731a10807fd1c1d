package mqtt

import "fmt"

// TopicPrefix is the root of every depot topic.
const TopicPrefix = "depot"

// Topics builds depot MQTT topic names.
//
//	depot/system/status          retained online/offline status per instance
//	depot/auth/invalidate        permission cache invalidations
//	depot/auth/events/{event}    register, login, refresh and logout outcomes
type Topics struct{}

// SystemStatus is where instances publish their online/offline status.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// AuthInvalidate carries permission cache invalidations between instances.
func (Topics) AuthInvalidate() string {
	return TopicPrefix + "/auth/invalidate"
}

// AuthEvent returns the topic for one kind of auth event.
//
// Example: depot/auth/events/login
func (Topics) AuthEvent(event string) string {
	return fmt.Sprintf("%s/auth/events/%s", TopicPrefix, event)
}

// AllAuthEvents matches every auth event topic.
func (Topics) AllAuthEvents() string {
	return TopicPrefix + "/auth/events/+"
}
