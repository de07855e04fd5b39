package store

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/simplenotes/notesync/pkg/events"
	"github.com/simplenotes/notesync/pkg/models"
	"github.com/simplenotes/notesync/pkg/notify"
	"github.com/simplenotes/notesync/pkg/permission"
)

// Dispatcher applies validated envelopes to the reconcilers. Envelopes that
// do not affect a collection are ignored.
type Dispatcher struct {
	Notes    *Notes
	Session  *Session
	Notifier notify.Notifier

	logger zerolog.Logger
}

func NewDispatcher(notes *Notes, session *Session, notifier notify.Notifier, log zerolog.Logger) *Dispatcher {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Dispatcher{
		Notes:    notes,
		Session:  session,
		Notifier: notifier,
		logger:   log,
	}
}

// Dispatch applies env. It never panics on a payload of the wrong type; the
// envelope is logged and dropped instead.
func (d *Dispatcher) Dispatch(env events.Envelope) {
	switch env.Type {
	case events.NoteCreated:
		if n, ok := d.payload(env).(models.Note); ok {
			d.Notes.Add(n)
		}
	case events.NoteUpdated:
		if p, ok := d.payload(env).(models.NotePatch); ok {
			d.Notes.Update(p)
		}
	case events.NoteDeleted:
		if ref, ok := d.payload(env).(models.NoteRef); ok {
			d.Notes.Remove(ref.ID)
		}
	case events.UserUpdated:
		if p, ok := d.payload(env).(models.UserPatch); ok {
			d.applyUserPatch(p)
		}
	}
}

func (d *Dispatcher) payload(env events.Envelope) any {
	switch env.Data.(type) {
	case models.Note, models.NotePatch, models.NoteRef, models.UserPatch:
		return env.Data
	}
	d.logger.Error().
		Str("event", string(env.Type)).
		Str("payload_type", fmt.Sprintf("%T", env.Data)).
		Msg("envelope payload has unexpected type, dropped")
	return nil
}

func (d *Dispatcher) applyUserPatch(p models.UserPatch) {
	before, after, ok := d.Session.Merge(p)
	if !ok {
		d.logger.Debug().Int64("user_id", int64(p.ID)).Msg("user update is not for the session user")
		return
	}
	if before.Permissions == after.Permissions {
		return
	}

	d.logger.Info().
		Stringer("before", before.Permissions).
		Stringer("after", after.Permissions).
		Msg("session permissions changed")

	if permission.Changed(before.Permissions, after.Permissions, permission.Administrator) {
		if permission.HasRaw(after.Permissions, permission.Administrator) {
			d.Notifier.Info("Permissions updated", "You are now an administrator.")
		} else {
			d.Notifier.Warn("Permissions updated", "Your administrator access was removed.")
		}
	}
}
