// Package events declares the server-to-client events, the envelope that
// carries them and the registry that validates inbound frames against each
// event's payload shape.
//
// Every frame pushed by the server has the form
//
//	{"type": "<NAME>", "data": <payload>}
//
// A frame whose type is not registered, or whose data does not match the
// registered shape, is rejected as a whole. Nothing is partially applied.
package events

import (
	"github.com/simplenotes/notesync/pkg/models"
)

// Name is the discriminant of an envelope.
type Name string

const (
	SessionExpired Name = "SESSION_EXPIRED"
	ConnectionKill Name = "CONNECTION_KILL"

	NoteCreated Name = "NOTE_CREATED"
	NoteUpdated Name = "NOTE_UPDATED"
	NoteDeleted Name = "NOTE_DELETED"

	UserCreated Name = "USER_CREATED"
	UserUpdated Name = "USER_UPDATED"
	UserDeleted Name = "USER_DELETED"
)

// Envelope is a validated inbound event. Data holds the payload type that
// was registered for Type.
type Envelope struct {
	Type Name
	Data any
}

// Payload returns the envelope data as T.
func Payload[T any](env Envelope) (T, bool) {
	v, ok := env.Data.(T)
	return v, ok
}

// KillCode is the machine readable reason of a CONNECTION_KILL.
type KillCode string

const (
	// KillCodeIdleTimeout is sent when the server drops an idle connection.
	// The client may reconnect.
	KillCodeIdleTimeout KillCode = "IDLE_TIMEOUT"
	// KillCodeSuspended is sent when the user was suspended or banned.
	KillCodeSuspended KillCode = "USER_SUSPENDED"
)

// Fatal reports whether the code ends the session. Only the idle timeout is
// recoverable; unknown codes are fatal.
func (c KillCode) Fatal() bool {
	return c != KillCodeIdleTimeout
}

type ConnectionKillPayload struct {
	Code   KillCode `json:"code"`
	Reason string   `json:"reason,omitempty"`
}

type SessionExpiredPayload struct {
	Message string `json:"message,omitempty"`
}

const (
	noteTypeEnum   = `["TEXT", "MARKDOWN", "IMAGE", "VIDEO", "DOCUMENT", "REFERENCE"]`
	visibilityEnum = `["PUBLIC", "PRIVATE"]`

	noteProperties = `{
		"id":         {"type": "integer", "minimum": 1},
		"note_type":  {"enum": ` + noteTypeEnum + `},
		"name":       {"type": "string"},
		"tags":       {"type": ["array", "null"], "items": {"type": "string"}},
		"visibility": {"enum": ` + visibilityEnum + `},
		"owner_id":   {"type": "integer"},
		"content":    {"type": ["string", "null"]},
		"created_at": {"type": "string"},
		"updated_at": {"type": "string"}
	}`

	// Patch fields that are present must carry a value. An empty list clears
	// the tags.
	notePatchProperties = `{
		"id":         {"type": "integer", "minimum": 1},
		"note_type":  {"enum": ` + noteTypeEnum + `},
		"name":       {"type": "string"},
		"tags":       {"type": "array", "items": {"type": "string"}},
		"visibility": {"enum": ` + visibilityEnum + `},
		"owner_id":   {"type": "integer"},
		"content":    {"type": "string"},
		"created_at": {"type": "string"},
		"updated_at": {"type": "string"}
	}`

	userProperties = `{
		"id":           {"type": "integer", "minimum": 1},
		"username":     {"type": "string"},
		"display_name": {"type": "string"},
		"permissions":  {"type": "integer", "minimum": 0},
		"suspended":    {"type": "boolean"},
		"created_at":   {"type": "string"}
	}`

	sessionExpiredSchema = `{
		"type": ["object", "null"],
		"properties": {"message": {"type": "string"}}
	}`

	connectionKillSchema = `{
		"type": "object",
		"required": ["code"],
		"properties": {
			"code":   {"type": "string", "minLength": 1},
			"reason": {"type": ["string", "null"]}
		}
	}`

	noteCreatedSchema = `{
		"type": "object",
		"required": ["id", "note_type", "name", "visibility"],
		"properties": ` + noteProperties + `
	}`

	noteUpdatedSchema = `{
		"type": "object",
		"required": ["id"],
		"properties": ` + notePatchProperties + `
	}`

	idOnlySchema = `{
		"type": "object",
		"required": ["id"],
		"properties": {"id": {"type": "integer", "minimum": 1}}
	}`

	userCreatedSchema = `{
		"type": "object",
		"required": ["id", "username", "permissions"],
		"properties": ` + userProperties + `
	}`

	userUpdatedSchema = `{
		"type": "object",
		"required": ["id"],
		"properties": ` + userProperties + `
	}`
)

// Default returns a registry holding every event the server sends.
func Default() *Registry {
	r := NewRegistry()

	MustRegister[SessionExpiredPayload](r, SessionExpired, sessionExpiredSchema)
	MustRegister[ConnectionKillPayload](r, ConnectionKill, connectionKillSchema)

	MustRegister[models.Note](r, NoteCreated, noteCreatedSchema)
	MustRegister[models.NotePatch](r, NoteUpdated, noteUpdatedSchema)
	MustRegister[models.NoteRef](r, NoteDeleted, idOnlySchema)

	// USER_CREATED and USER_DELETED are only published; nothing in the core
	// reconciles them.
	MustRegister[models.User](r, UserCreated, userCreatedSchema)
	MustRegister[models.UserPatch](r, UserUpdated, userUpdatedSchema)
	MustRegister[models.UserRef](r, UserDeleted, idOnlySchema)

	return r
}
