// Package events defines the event types dispatched through the Portal event bus.
package events

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Connection lifecycle events, called synchronously from the owning
	// connection loop. A handler error vetoes the step where noted.
	EventHandshake      EventType = "handshake"      // veto closes the connection
	EventStatusRequest  EventType = "status_request" // handler may override the response
	EventPreLogin       EventType = "pre_login"      // veto disconnects with the error text
	EventReady          EventType = "ready"          // connection entered CONFIG
	EventCookieResponse EventType = "cookie_response"
	EventClientBrand    EventType = "client_brand"

	// Asynchronous notifications.
	EventTransfer     EventType = "transfer"
	EventDisconnected EventType = "disconnected"

	// System events
	EventConfigChanged EventType = "config_changed"
	EventShutdown      EventType = "shutdown"
)

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// ConfigChangedPayload is emitted when configuration changes at runtime.
type ConfigChangedPayload struct {
	Section string
	Key     string
	Value   interface{}
}
