package models

import "time"

// EventKind identifies the lifecycle event that fired.
type EventKind string

const (
	EventKindCreation     EventKind = "entity_creation"
	EventKindModification EventKind = "entity_modification"
	EventKindSignIn       EventKind = "user_sign_in"
	EventKindProcessing   EventKind = "asset_processing"
)

// Valid reports whether k is one of the known event kinds.
func (k EventKind) Valid() bool {
	switch k {
	case EventKindCreation, EventKindModification, EventKindSignIn, EventKindProcessing:
		return true
	}
	return false
}

// IsEntityEvent reports whether the event targets an entity (creation or modification).
func (k EventKind) IsEntityEvent() bool {
	return k == EventKindCreation || k == EventKindModification
}

// Async reports whether events of this kind are processed off the request path.
// Only processing events are; everything else must be answered before the
// host commits.
func (k EventKind) Async() bool {
	return k == EventKindProcessing
}

// AuthenticationSource tags where a signing-in principal was authenticated.
type AuthenticationSource string

const (
	AuthSourceInternal AuthenticationSource = "internal"
	AuthSourceExternal AuthenticationSource = "external"
)

// Claim is a type/value pair asserted by an external identity provider.
type Claim struct {
	Type  string `json:"type" yaml:"type"`
	Value string `json:"value" yaml:"value"`
}

// ExternalUserInfo holds what the identity provider sent at sign-in.
// A nil Claims slice means the provider sent no claim list at all.
type ExternalUserInfo struct {
	Provider string  `json:"provider,omitempty" yaml:"provider,omitempty"`
	Claims   []Claim `json:"claims" yaml:"claims"`
}

// Event is the read-only context handed to handlers for a single lifecycle event.
type Event struct {
	ID        string    `json:"id"`                                   // Unique ID for this event instance (UUID)
	SourceID  string    `json:"source_id"`                            // Listener ID, "manual" or "replay"
	Kind      EventKind `json:"kind" validate:"required,event_kind"` // What happened
	Timestamp time.Time `json:"timestamp"`                            // When the host emitted the event

	// Entity creation / modification
	TriggeringUserID int64   `json:"triggering_user_id,omitempty" validate:"required_if=Kind entity_creation,required_if=Kind entity_modification"`
	Target           *Entity `json:"target,omitempty" validate:"required_if=Kind entity_creation,required_if=Kind entity_modification"`

	// User sign-in
	User                 *Entity              `json:"user,omitempty" validate:"required_if=Kind user_sign_in"`
	AuthenticationSource AuthenticationSource `json:"authentication_source,omitempty" validate:"omitempty,oneof=internal external"`
	ExternalUserInfo     *ExternalUserInfo    `json:"external_user_info,omitempty"`

	// Asset processing
	Asset    *Entity  `json:"asset,omitempty" validate:"required_if=Kind asset_processing"`
	File     *Entity  `json:"file,omitempty" validate:"required_if=Kind asset_processing"`
	Metadata Metadata `json:"metadata,omitempty"`
}

// Subject returns the entity the event is about, used for trigger matching.
func (e Event) Subject() *Entity {
	switch e.Kind {
	case EventKindSignIn:
		return e.User
	case EventKindProcessing:
		return e.Asset
	default:
		return e.Target
	}
}
