// Package notesync keeps a note-taking client's local state in sync with the
// server's realtime event stream.
//
// # Overview
//
// A [Client] owns one websocket connection, managed by
// [github.com/simplenotes/notesync/pkg/connection.Manager]. The manager
// authorizes with the token from a
// [github.com/simplenotes/notesync/pkg/tokenstore.Store], keeps the connection
// alive with heartbeats and reconnects a bounded number of times.
//
// Every inbound frame is validated against the payload schema of its event
// (see [github.com/simplenotes/notesync/pkg/events]). Frames that fail are
// logged and dropped. Valid events are published on an in-process bus and
// then applied to the note list and the session user in
// [github.com/simplenotes/notesync/pkg/store].
//
// # Session-ending signals
//
// SESSION_EXPIRED and CONNECTION_KILL (other than IDLE_TIMEOUT) end the
// session: the user is notified, the connection is closed, the stored token
// is cleared and so are the collections. Nothing reconnects until a new
// token is stored.
//
// # Initial load
//
// When APIURL is set, the session user and the note list are loaded over
// REST each time a token appears, before the stream is opened. Live events
// are merged on top, so both converge.
package notesync
