package models

import (
	"encoding/json"
	"strings"
	"time"
)

// EventType categorizes events in the system.
type EventType string

const (
	// Macro events
	EventTypeMacroInvoked        EventType = "macro.invoked"
	EventTypeMacroDenied         EventType = "macro.denied"
	EventTypeMacroStepFailed     EventType = "macro.step_failed"
	EventTypeMacroTransferFailed EventType = "macro.transfer_failed"
	EventTypeMacroCompleted      EventType = "macro.completed"

	// Registry events
	EventTypeRegistryReloaded     EventType = "registry.reloaded"
	EventTypeRegistryReloadFailed EventType = "registry.reload_failed"

	// Session events
	EventTypeSessionConnected    EventType = "session.connected"
	EventTypeSessionDisconnected EventType = "session.disconnected"
	EventTypeSessionMoved        EventType = "session.moved"

	// System events
	EventTypeError   EventType = "error"
	EventTypeWarning EventType = "warning"
)

// EntityType identifies the type of entity an event relates to.
type EntityType string

const (
	EntityTypeMacro    EntityType = "macro"
	EntityTypeSession  EntityType = "session"
	EntityTypeRegistry EntityType = "registry"
	EntityTypeSystem   EntityType = "system"
)

// Event represents an append-only log entry.
type Event struct {
	// ID is the unique identifier for the event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type categorizes the event.
	Type EventType `json:"type"`

	// EntityType identifies what kind of entity this event relates to.
	EntityType EntityType `json:"entity_type"`

	// EntityID is the ID of the related entity.
	EntityID string `json:"entity_id"`

	// Payload contains event-specific data.
	Payload json.RawMessage `json:"payload,omitempty"`

	// Metadata contains additional context.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Validate checks if the event is valid.
func (e *Event) Validate() error {
	validation := &ValidationErrors{}
	if strings.TrimSpace(string(e.Type)) == "" {
		validation.AddMessage("type", "event type is required")
	}
	if strings.TrimSpace(string(e.EntityType)) == "" {
		validation.AddMessage("entity_type", "entity_type is required")
	}
	if strings.TrimSpace(e.EntityID) == "" {
		validation.AddMessage("entity_id", "entity_id is required")
	}
	return validation.Err()
}

// MacroInvokedPayload is the payload for macro.invoked events.
type MacroInvokedPayload struct {
	InvocationID string   `json:"invocation_id"`
	Invoker      string   `json:"invoker"`
	Args         []string `json:"args,omitempty"`
	Steps        int      `json:"steps"`
}

// MacroDeniedPayload is the payload for macro.denied events.
type MacroDeniedPayload struct {
	Invoker    string `json:"invoker"`
	Permission string `json:"permission"`
}

// StepFailedPayload is the payload for macro.step_failed events.
type StepFailedPayload struct {
	InvocationID string `json:"invocation_id"`
	Step         int    `json:"step"`
	Kind         string `json:"kind"`
	Error        string `json:"error"`
}

// TransferFailedPayload is the payload for macro.transfer_failed events.
type TransferFailedPayload struct {
	Invoker string `json:"invoker"`
	Target  string `json:"target"`
	Status  string `json:"status,omitempty"`
	Error   string `json:"error,omitempty"`
}

// RegistryReloadedPayload is the payload for registry.reloaded events.
type RegistryReloadedPayload struct {
	Generation uint64   `json:"generation"`
	Macros     int      `json:"macros"`
	Excluded   []string `json:"excluded,omitempty"`
	Origin     string   `json:"origin,omitempty"`
}

// SessionPayload is the payload for session.* events.
type SessionPayload struct {
	Name    string `json:"name"`
	Backend string `json:"backend,omitempty"`
}

// ErrorPayload is the payload for error events.
type ErrorPayload struct {
	Error   string `json:"error"`
	Context string `json:"context,omitempty"`
}
