// Package store holds the client-side collections kept in sync with the
// server: the notes list with its currently shown note, and the session
// user.
//
// The reconcilers in this package are the only code that mutates those
// collections. Live events, the initial REST load and the UI all go through
// their entry points.
package store

import (
	"slices"
	"sync"

	"github.com/rs/zerolog"
	"github.com/simplenotes/notesync/pkg/models"
)

// AddNote returns notes with n appended, or notes unchanged if a note with
// the same id is already present.
func AddNote(notes []models.NoteSummary, n models.NoteSummary) ([]models.NoteSummary, bool) {
	if indexOf(notes, n.ID) >= 0 {
		return notes, false
	}
	out := make([]models.NoteSummary, len(notes), len(notes)+1)
	copy(out, notes)
	return append(out, n.Clone()), true
}

// UpdateNote returns notes with patch merged into the matching entry. The
// second result is false when the id is unknown.
func UpdateNote(notes []models.NoteSummary, patch models.NotePatch) ([]models.NoteSummary, bool) {
	i := indexOf(notes, patch.ID)
	if i < 0 {
		return notes, false
	}
	out := slices.Clone(notes)
	out[i] = patch.ApplyTo(notes[i])
	return out, true
}

// RemoveNote returns notes without the entry for id.
func RemoveNote(notes []models.NoteSummary, id models.NoteID) ([]models.NoteSummary, bool) {
	i := indexOf(notes, id)
	if i < 0 {
		return notes, false
	}
	out := make([]models.NoteSummary, 0, len(notes)-1)
	out = append(out, notes[:i]...)
	return append(out, notes[i+1:]...), true
}

func indexOf(notes []models.NoteSummary, id models.NoteID) int {
	return slices.IndexFunc(notes, func(n models.NoteSummary) bool { return n.ID == id })
}

// Notes reconciles the notes collection and the currently shown note.
type Notes struct {
	mu    sync.RWMutex
	notes []models.NoteSummary
	shown *models.Note

	logger zerolog.Logger
}

func NewNotes(log zerolog.Logger) *Notes {
	return &Notes{logger: log}
}

// Add inserts the summary of n. A note whose id is already present is left
// as is, which makes duplicate create events harmless.
func (s *Notes) Add(n models.Note) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	var added bool
	s.notes, added = AddNote(s.notes, n.Summary())
	if !added {
		s.logger.Debug().Int64("note_id", int64(n.ID)).Msg("note already present, add ignored")
	}
	return added
}

// Update merges patch into the note with the same id. Unknown ids are
// logged and ignored.
func (s *Notes) Update(patch models.NotePatch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	var updated bool
	s.notes, updated = UpdateNote(s.notes, patch)
	if !updated {
		s.logger.Warn().Int64("note_id", int64(patch.ID)).Msg("update for unknown note ignored")
		return false
	}
	if s.shown != nil && s.shown.ID == patch.ID {
		n := patch.ApplyToNote(*s.shown)
		s.shown = &n
	}
	return true
}

// Remove deletes the note with id. If it is the shown note, the selection
// is cleared too.
func (s *Notes) Remove(id models.NoteID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed bool
	s.notes, removed = RemoveNote(s.notes, id)
	if s.shown != nil && s.shown.ID == id {
		s.shown = nil
		removed = true
	}
	if !removed {
		s.logger.Warn().Int64("note_id", int64(id)).Msg("remove for unknown note ignored")
	}
	return removed
}

// Replace swaps the whole collection, keeping the first entry for each id.
// The shown note is cleared if it is no longer present.
func (s *Notes) Replace(notes []models.NoteSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]models.NoteSummary, 0, len(notes))
	for _, n := range notes {
		next, _ = AddNote(next, n)
	}
	s.notes = next
	if s.shown != nil && indexOf(s.notes, s.shown.ID) < 0 {
		s.shown = nil
	}
}

// Merge folds a bulk load into the collection: unknown ids are added, known
// ones updated. It converges with live events regardless of which arrived
// first.
func (s *Notes) Merge(notes []models.NoteSummary) {
	for _, n := range notes {
		full := models.Note{NoteSummary: n}
		if !s.Add(full) {
			patch := models.PatchFrom(full)
			patch.Content = nil
			s.Update(patch)
		}
	}
}

// Show selects n as the opened note. It is ignored when n is not in the
// collection.
func (s *Notes) Show(n models.Note) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if indexOf(s.notes, n.ID) < 0 {
		s.logger.Warn().Int64("note_id", int64(n.ID)).Msg("cannot show unknown note")
		return false
	}
	n.Tags = slices.Clone(n.Tags)
	s.shown = &n
	return true
}

func (s *Notes) ClearShown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shown = nil
}

// Shown returns the opened note, if any.
func (s *Notes) Shown() (models.Note, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.shown == nil {
		return models.Note{}, false
	}
	n := *s.shown
	n.Tags = slices.Clone(n.Tags)
	return n, true
}

func (s *Notes) Get(id models.NoteID) (models.NoteSummary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := indexOf(s.notes, id)
	if i < 0 {
		return models.NoteSummary{}, false
	}
	return s.notes[i].Clone(), true
}

// List returns a copy of the collection in insertion order.
func (s *Notes) List() []models.NoteSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.NoteSummary, len(s.notes))
	for i, n := range s.notes {
		out[i] = n.Clone()
	}
	return out
}

func (s *Notes) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.notes)
}

// Clear empties the collection and the selection, on logout.
func (s *Notes) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes = nil
	s.shown = nil
}
