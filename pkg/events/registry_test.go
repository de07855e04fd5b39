package events

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/simplenotes/notesync/pkg/models"
	"github.com/simplenotes/notesync/pkg/permission"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistryNames(t *testing.T) {
	r := Default()
	assert.Equal(t, []Name{
		SessionExpired,
		ConnectionKill,
		NoteCreated,
		NoteUpdated,
		NoteDeleted,
		UserCreated,
		UserUpdated,
		UserDeleted,
	}, r.Names())
	assert.True(t, r.Has(NoteCreated))
	assert.False(t, r.Has("NOTE_VIEWED"))
}

func TestRegisterDuplicateFails(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, Register[models.NoteRef](r, NoteDeleted, idOnlySchema))

	err := Register[models.NoteRef](r, NoteDeleted, idOnlySchema)
	require.ErrorIs(t, err, ErrDuplicateEvent)

	assert.Panics(t, func() {
		MustRegister[models.NoteRef](r, NoteDeleted, idOnlySchema)
	})
}

func TestRegisterRejectsBrokenSchema(t *testing.T) {
	r := NewRegistry()

	err := Register[models.NoteRef](r, "BROKEN", `{"type": 12}`)
	require.ErrorIs(t, err, ErrInvalidSchema)

	err = Register[models.NoteRef](r, "NOT_JSON", `{`)
	require.ErrorIs(t, err, ErrInvalidSchema)

	err = Register[models.NoteRef](r, "", idOnlySchema)
	require.ErrorIs(t, err, ErrEmptyEventName)

	assert.Empty(t, r.Names())
}

func TestDecodeNoteCreated(t *testing.T) {
	r := Default()

	env, err := r.Decode([]byte(`{
		"type": "NOTE_CREATED",
		"data": {
			"id": 7,
			"note_type": "MARKDOWN",
			"name": "Groceries",
			"tags": ["home"],
			"visibility": "PRIVATE",
			"owner_id": 3,
			"content": "- milk"
		}
	}`))
	require.NoError(t, err)
	assert.Equal(t, NoteCreated, env.Type)

	note, ok := Payload[models.Note](env)
	require.True(t, ok)
	assert.Equal(t, models.NoteID(7), note.ID)
	assert.Equal(t, models.NoteTypeMarkdown, note.Type)
	assert.Equal(t, "Groceries", note.Name)
	assert.Equal(t, []string{"home"}, note.Tags)
	assert.Equal(t, models.VisibilityPrivate, note.Visibility)
	assert.Equal(t, models.UserID(3), note.OwnerID)
	assert.Equal(t, "- milk", note.Content)
}

func TestDecodeNoteUpdatedIsPartial(t *testing.T) {
	r := Default()

	env, err := r.Decode([]byte(`{"type":"NOTE_UPDATED","data":{"id":1,"name":"A2"}}`))
	require.NoError(t, err)

	patch, ok := Payload[models.NotePatch](env)
	require.True(t, ok)
	assert.Equal(t, models.NoteID(1), patch.ID)
	require.NotNil(t, patch.Name)
	assert.Equal(t, "A2", *patch.Name)
	assert.Nil(t, patch.Tags)
	assert.Nil(t, patch.Visibility)
	assert.Nil(t, patch.Content)
}

func TestDecodeNoteUpdatedEmptyTagsClears(t *testing.T) {
	r := Default()

	env, err := r.Decode([]byte(`{"type":"NOTE_UPDATED","data":{"id":1,"tags":[]}}`))
	require.NoError(t, err)

	patch, ok := Payload[models.NotePatch](env)
	require.True(t, ok)
	require.NotNil(t, patch.Tags)

	got := patch.ApplyTo(models.NoteSummary{ID: 1, Tags: []string{"home"}})
	assert.Empty(t, got.Tags)
}

func TestDecodeConnectionKill(t *testing.T) {
	r := Default()

	env, err := r.Decode([]byte(`{"type":"CONNECTION_KILL","data":{"code":"USER_SUSPENDED","reason":"spam"}}`))
	require.NoError(t, err)

	kill, ok := Payload[ConnectionKillPayload](env)
	require.True(t, ok)
	assert.Equal(t, KillCodeSuspended, kill.Code)
	assert.Equal(t, "spam", kill.Reason)
}

func TestDecodeSessionExpiredWithoutData(t *testing.T) {
	r := Default()

	env, err := r.Decode([]byte(`{"type":"SESSION_EXPIRED"}`))
	require.NoError(t, err)
	assert.Equal(t, SessionExpired, env.Type)

	_, ok := Payload[SessionExpiredPayload](env)
	assert.True(t, ok)

	env, err = r.Decode([]byte(`{"type":"SESSION_EXPIRED","data":null}`))
	require.NoError(t, err)
	assert.Equal(t, SessionExpired, env.Type)
}

func TestDecodeUserUpdated(t *testing.T) {
	r := Default()

	env, err := r.Decode([]byte(`{"type":"USER_UPDATED","data":{"id":4,"permissions":3}}`))
	require.NoError(t, err)

	patch, ok := Payload[models.UserPatch](env)
	require.True(t, ok)
	require.NotNil(t, patch.Permissions)
	assert.Equal(t, permission.Of(permission.Administrator, permission.CreateNotes), *patch.Permissions)
	assert.Nil(t, patch.Username)
}

func TestDecodeRejects(t *testing.T) {
	r := Default()

	tests := []struct {
		name  string
		frame string
		kind  error
		event Name
		path  string
	}{
		{
			name:  "not json",
			frame: `{"type":`,
			kind:  ErrMalformedFrame,
		},
		{
			name:  "not an object",
			frame: `[1,2,3]`,
			kind:  ErrMalformedFrame,
		},
		{
			name:  "missing type",
			frame: `{"data":{"id":1}}`,
			kind:  ErrMalformedFrame,
			path:  "/type",
		},
		{
			name:  "type is not a string",
			frame: `{"type":5,"data":{}}`,
			kind:  ErrMalformedFrame,
			path:  "/type",
		},
		{
			name:  "unknown type",
			frame: `{"type":"NOTE_EXPLODED","data":{"id":1}}`,
			kind:  ErrUnknownEvent,
			event: "NOTE_EXPLODED",
			path:  "/type",
		},
		{
			name:  "case sensitive type",
			frame: `{"type":"note_created","data":{"id":1}}`,
			kind:  ErrUnknownEvent,
			event: "note_created",
			path:  "/type",
		},
		{
			name:  "missing required field",
			frame: `{"type":"NOTE_CREATED","data":{"id":1,"note_type":"TEXT","visibility":"PUBLIC"}}`,
			kind:  ErrInvalidPayload,
			event: NoteCreated,
			path:  "/data/name",
		},
		{
			name:  "wrong field type",
			frame: `{"type":"NOTE_DELETED","data":{"id":"2"}}`,
			kind:  ErrInvalidPayload,
			event: NoteDeleted,
			path:  "/data/id",
		},
		{
			name:  "bad enum",
			frame: `{"type":"NOTE_UPDATED","data":{"id":2,"visibility":"SECRET"}}`,
			kind:  ErrInvalidPayload,
			event: NoteUpdated,
			path:  "/data/visibility",
		},
		{
			name:  "null tags in update",
			frame: `{"type":"NOTE_UPDATED","data":{"id":2,"tags":null}}`,
			kind:  ErrInvalidPayload,
			event: NoteUpdated,
			path:  "/data/tags",
		},
		{
			name:  "null content in update",
			frame: `{"type":"NOTE_UPDATED","data":{"id":2,"content":null}}`,
			kind:  ErrInvalidPayload,
			event: NoteUpdated,
			path:  "/data/content",
		},
		{
			name:  "missing data",
			frame: `{"type":"NOTE_DELETED"}`,
			kind:  ErrInvalidPayload,
			event: NoteDeleted,
		},
		{
			name:  "kill without code",
			frame: `{"type":"CONNECTION_KILL","data":{"reason":"bye"}}`,
			kind:  ErrInvalidPayload,
			event: ConnectionKill,
			path:  "/data/code",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := r.Decode([]byte(tt.frame))
			require.Error(t, err)
			assert.Equal(t, Envelope{}, env)
			assert.ErrorIs(t, err, tt.kind)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.event, verr.Event)
			if tt.path != "" {
				assert.Equal(t, tt.path, verr.Path)
			}
			assert.NotEmpty(t, verr.Error())
		})
	}
}

func TestValidateDecodedValue(t *testing.T) {
	r := Default()

	var v any
	require.NoError(t, json.Unmarshal([]byte(`{"type":"NOTE_DELETED","data":{"id":9}}`), &v))

	env, err := r.Validate(v)
	require.NoError(t, err)
	ref, ok := Payload[models.NoteRef](env)
	require.True(t, ok)
	assert.Equal(t, models.NoteID(9), ref.ID)

	_, err = r.Validate(map[string]any{"type": "NOTE_DELETED", "data": map[string]any{}})
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = r.Validate("NOTE_DELETED")
	assert.ErrorIs(t, err, ErrMalformedFrame)

	_, err = r.Validate(map[string]any{"type": "PING"})
	assert.ErrorIs(t, err, ErrUnknownEvent)
}

func TestKillCodeFatal(t *testing.T) {
	assert.False(t, KillCodeIdleTimeout.Fatal())
	assert.True(t, KillCodeSuspended.Fatal())
	assert.True(t, KillCode("SOMETHING_NEW").Fatal())
	assert.True(t, KillCode("").Fatal())
}
