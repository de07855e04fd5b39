package store

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/simplenotes/notesync/pkg/models"
	"github.com/simplenotes/notesync/pkg/permission"
)

// Session reconciles the logged-in user record.
type Session struct {
	mu   sync.RWMutex
	user *models.User
	// preview is true while the permission mask is a local optimistic value
	// that the server has not confirmed yet.
	preview bool

	logger zerolog.Logger
}

func NewSession(log zerolog.Logger) *Session {
	return &Session{logger: log}
}

// Replace overwrites the user record.
func (s *Session) Replace(u models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = &u
	s.preview = false
}

// Merge shallow-merges the set fields of patch into the current user. It
// returns the record before and after the merge; ok is false when there is
// no session or the patch is for a different user.
func (s *Session) Merge(patch models.UserPatch) (before, after models.User, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.user == nil {
		s.logger.Debug().Int64("user_id", int64(patch.ID)).Msg("user patch ignored without a session")
		return models.User{}, models.User{}, false
	}
	if s.user.ID != patch.ID {
		return models.User{}, models.User{}, false
	}

	before = *s.user
	after = patch.ApplyTo(before)
	s.user = &after
	if patch.Permissions != nil {
		s.preview = false
	}
	return before, after, true
}

// Preview sets an optimistic permission mask. The next Replace or a Merge
// carrying permissions overwrites it.
func (s *Session) Preview(mask permission.Mask) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.user == nil {
		return false
	}
	u := *s.user
	u.Permissions = mask
	s.user = &u
	s.preview = true
	return true
}

// Previewing reports whether the mask is an unconfirmed local value.
func (s *Session) Previewing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.preview
}

func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = nil
	s.preview = false
}

// Current returns the session user, if any.
func (s *Session) Current() (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.user == nil {
		return models.User{}, false
	}
	return *s.user, true
}

// Can is an effective permission check for the session user. It is false
// without a session.
func (s *Session) Can(p permission.Permission) bool {
	u, ok := s.Current()
	return ok && u.Can(p)
}
