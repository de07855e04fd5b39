package notesync_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	notesync "github.com/simplenotes/notesync"
	"github.com/simplenotes/notesync/internal/fakeserver"
	"github.com/simplenotes/notesync/pkg/connection"
	"github.com/simplenotes/notesync/pkg/constants"
	"github.com/simplenotes/notesync/pkg/events"
	"github.com/simplenotes/notesync/pkg/models"
	"github.com/simplenotes/notesync/pkg/notify"
	"github.com/simplenotes/notesync/pkg/permission"
	"github.com/simplenotes/notesync/pkg/tokenstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 3 * time.Second
	tick    = 10 * time.Millisecond
)

type env struct {
	server   *fakeserver.Server
	tokens   *tokenstore.Memory
	notifier *notify.Recorder
	client   *notesync.Client
}

func start(t *testing.T, token string) *env {
	t.Helper()

	e := &env{
		server:   fakeserver.New(),
		tokens:   tokenstore.NewMemory(token),
		notifier: &notify.Recorder{},
	}
	t.Cleanup(e.server.Close)

	e.server.SetUser(models.User{ID: 1, Username: "ana", Permissions: permission.Of(permission.CreateNotes)})
	e.server.SetNotes([]models.NoteSummary{
		{ID: 1, Type: models.NoteTypeText, Name: "one", Visibility: models.VisibilityPublic},
		{ID: 2, Type: models.NoteTypeMarkdown, Name: "two", Visibility: models.VisibilityPrivate},
	})

	client, err := notesync.New(notesync.Options{
		StreamURL: e.server.StreamURL(),
		APIURL:    e.server.URL(),
		Tokens:    e.tokens,
		Notifier:  e.notifier,
		Logger:    zerolog.Nop(),
		Configure: func(cfg *connection.Config) {
			cfg.ReconnectInterval = 20 * time.Millisecond
			cfg.MaxReconnectAttempts = 3
		},
	})
	require.NoError(t, err)
	e.client = client

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return e
}

func (e *env) waitOpen(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		return e.client.Status().State == connection.StateOpen && e.server.Connections() == 1
	}, waitFor, tick)
}

func (e *env) push(t *testing.T, name events.Name, data any) {
	t.Helper()
	require.NoError(t, e.server.PushEvent(string(name), data))
}

func TestClientBootstrapThenLiveEvents(t *testing.T) {
	e := start(t, "tok")
	e.waitOpen(t)

	require.Equal(t, 2, e.client.Notes.Len())
	user, ok := e.client.Session.Current()
	require.True(t, ok)
	assert.Equal(t, "ana", user.Username)

	e.push(t, events.NoteCreated, map[string]any{
		"id": 3, "note_type": "TEXT", "name": "three", "visibility": "PUBLIC",
	})
	e.push(t, events.NoteUpdated, map[string]any{"id": 1, "name": "renamed"})
	e.push(t, events.NoteDeleted, map[string]any{"id": 2})

	require.Eventually(t, func() bool {
		n, ok := e.client.Notes.Get(1)
		return ok && n.Name == "renamed" && e.client.Notes.Len() == 2
	}, waitFor, tick)

	var ids []models.NoteID
	for _, n := range e.client.Notes.List() {
		ids = append(ids, n.ID)
	}
	assert.Equal(t, []models.NoteID{1, 3}, ids)
}

func TestClientInvalidEventsAreDropped(t *testing.T) {
	e := start(t, "tok")
	e.waitOpen(t)

	require.NoError(t, e.server.Push([]byte(`{"type":"NOTE_EXPLODED","data":{}}`)))
	require.NoError(t, e.server.Push([]byte(`{"type":"NOTE_UPDATED","data":{"id":"x"}}`)))
	e.push(t, events.NoteDeleted, map[string]any{"id": 1})

	require.Eventually(t, func() bool { return e.client.Notes.Len() == 1 }, waitFor, tick)
	assert.Equal(t, connection.StateOpen, e.client.Status().State)
}

func TestClientPermissionUpdate(t *testing.T) {
	e := start(t, "tok")
	e.waitOpen(t)

	admin := permission.Of(permission.Administrator)
	e.push(t, events.UserUpdated, map[string]any{"id": 1, "permissions": uint64(admin)})

	require.Eventually(t, func() bool { return e.client.Session.Can(permission.ManageUsers) }, waitFor, tick)
	msgs := e.notifier.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, notify.LevelInfo, msgs[0].Level)
}

func TestClientSuspensionLogsOut(t *testing.T) {
	e := start(t, "tok")
	e.waitOpen(t)

	e.push(t, events.ConnectionKill, map[string]any{"code": "USER_SUSPENDED", "reason": "Banned"})

	require.Eventually(t, func() bool { return e.client.Status().Fatal }, waitFor, tick)
	require.Eventually(t, func() bool { return e.client.Notes.Len() == 0 }, waitFor, tick)

	_, err := e.tokens.Load()
	require.ErrorIs(t, err, constants.ErrNoToken)
	_, ok := e.client.Session.Current()
	assert.False(t, ok)
	assert.Equal(t, []notify.Message{{Level: notify.LevelError, Title: "Disconnected", Message: "Banned"}}, e.notifier.Messages())
	require.Eventually(t, func() bool { return e.server.Connections() == 0 }, waitFor, tick)
	assert.Len(t, e.server.Dials(), 1)

	// Signing in again revives the session.
	require.NoError(t, e.tokens.Save("fresh"))
	e.waitOpen(t)
	assert.False(t, e.client.Status().Fatal)
	assert.Equal(t, 2, e.client.Notes.Len())
}

func TestClientIgnoresRevokedToken(t *testing.T) {
	e := start(t, "tok")
	e.waitOpen(t)

	e.push(t, events.ConnectionKill, map[string]any{"code": "USER_SUSPENDED", "reason": "Banned"})
	require.Eventually(t, func() bool {
		_, err := e.tokens.Load()
		return err != nil
	}, waitFor, tick)

	// Signing in with the token the server just ended loads nothing.
	require.NoError(t, e.tokens.Save("tok"))
	require.Eventually(t, func() bool { return len(e.notifier.Messages()) == 2 }, waitFor, tick)

	assert.Equal(t, notify.Message{
		Level:   notify.LevelError,
		Title:   "Sign-in refused",
		Message: "The server ended the session for this sign-in. Sign in again with a new token.",
	}, e.notifier.Messages()[1])
	assert.Equal(t, 0, e.client.Notes.Len())
	_, ok := e.client.Session.Current()
	assert.False(t, ok)
	assert.True(t, e.client.Status().Fatal)
	assert.Len(t, e.server.Dials(), 1)
}

func TestClientAccountSwitchReplacesCollections(t *testing.T) {
	e := start(t, "tok-a")
	e.waitOpen(t)
	require.Eventually(t, func() bool { return e.client.Notes.Len() == 2 }, waitFor, tick)

	e.server.SetUser(models.User{ID: 9, Username: "bea"})
	e.server.SetNotes([]models.NoteSummary{
		{ID: 3, Type: models.NoteTypeText, Name: "three", Visibility: models.VisibilityPublic},
	})
	require.NoError(t, e.tokens.Save("tok-b"))

	require.Eventually(t, func() bool {
		dials := e.server.Dials()
		return len(dials) == 2 && dials[1] == "tok-b"
	}, waitFor, tick)
	e.waitOpen(t)

	user, ok := e.client.Session.Current()
	require.True(t, ok)
	assert.Equal(t, models.UserID(9), user.ID)
	notes := e.client.Notes.List()
	require.Len(t, notes, 1)
	assert.Equal(t, models.NoteID(3), notes[0].ID)

	// Live events still apply on top of the new load.
	e.push(t, events.NoteDeleted, map[string]any{"id": 3})
	require.Eventually(t, func() bool { return e.client.Notes.Len() == 0 }, waitFor, tick)
}

func TestClientWaitsForToken(t *testing.T) {
	e := start(t, "")

	assert.Never(t, func() bool { return len(e.server.Dials()) > 0 }, 100*time.Millisecond, tick)
	assert.Equal(t, connection.StateUninstantiated, e.client.Status().State)

	require.NoError(t, e.tokens.Save("tok"))
	e.waitOpen(t)
	assert.Equal(t, []string{"tok"}, e.server.Dials())
}

func TestClientReconnectsAfterDrop(t *testing.T) {
	e := start(t, "tok")
	e.waitOpen(t)

	e.server.DropAll()

	require.Eventually(t, func() bool { return len(e.server.Dials()) == 2 }, waitFor, tick)
	e.waitOpen(t)
	assert.Equal(t, 0, e.client.Status().Attempts)
}

func TestClientRejectedTokenLogsOut(t *testing.T) {
	e := start(t, "")
	e.server.AcceptTokens("good")

	require.NoError(t, e.tokens.Save("bad"))

	require.Eventually(t, func() bool { return len(e.notifier.Messages()) == 1 }, waitFor, tick)
	assert.Equal(t, "Signed out", e.notifier.Messages()[0].Title)
	assert.Empty(t, e.server.Dials())
	_, err := e.tokens.Load()
	require.ErrorIs(t, err, constants.ErrNoToken)
}

func TestClientLogout(t *testing.T) {
	e := start(t, "tok")
	e.waitOpen(t)

	e.client.Logout()

	require.Eventually(t, func() bool { return e.server.Connections() == 0 }, waitFor, tick)
	assert.Zero(t, e.client.Notes.Len())
	assert.False(t, e.client.Status().Fatal)
}

func TestNewRequiresTokenStore(t *testing.T) {
	_, err := notesync.New(notesync.Options{StreamURL: "ws://localhost/ws"})
	require.Error(t, err)
}
