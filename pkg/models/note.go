package models

import (
	"slices"
	"time"
)

// NoteType discriminates text-like notes from reference/binary ones.
type NoteType string

const (
	NoteTypeText      NoteType = "TEXT"
	NoteTypeMarkdown  NoteType = "MARKDOWN"
	NoteTypeImage     NoteType = "IMAGE"
	NoteTypeVideo     NoteType = "VIDEO"
	NoteTypeDocument  NoteType = "DOCUMENT"
	NoteTypeReference NoteType = "REFERENCE"
)

// NoteTypes lists every known NoteType.
var NoteTypes = []NoteType{
	NoteTypeText,
	NoteTypeMarkdown,
	NoteTypeImage,
	NoteTypeVideo,
	NoteTypeDocument,
	NoteTypeReference,
}

// IsText reports whether notes of this type carry inline text content.
// The other types reference an uploaded file.
func (t NoteType) IsText() bool {
	return t == NoteTypeText || t == NoteTypeMarkdown
}

type Visibility string

const (
	VisibilityPublic  Visibility = "PUBLIC"
	VisibilityPrivate Visibility = "PRIVATE"
)

// NoteID is the server-assigned numeric identity of a note.
type NoteID int64

// NoteSummary is the list form of a note. It never carries content.
type NoteSummary struct {
	ID         NoteID     `json:"id"`
	Type       NoteType   `json:"note_type"`
	Name       string     `json:"name"`
	Tags       []string   `json:"tags"`
	Visibility Visibility `json:"visibility"`
	OwnerID    UserID     `json:"owner_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at,omitempty"`
}

// Note is the full record: summary metadata plus content. For reference
// notes Content holds the file location.
type Note struct {
	NoteSummary
	Content string `json:"content"`
}

// Summary drops the content.
func (n Note) Summary() NoteSummary {
	s := n.NoteSummary
	s.Tags = slices.Clone(n.Tags)
	return s
}

// Clone returns a deep copy of s.
func (s NoteSummary) Clone() NoteSummary {
	s.Tags = slices.Clone(s.Tags)
	return s
}

// NotePatch is a partial note. Nil fields are left untouched when the patch
// is applied.
type NotePatch struct {
	ID         NoteID      `json:"id"`
	Type       *NoteType   `json:"note_type,omitempty"`
	Name       *string     `json:"name,omitempty"`
	Tags       *[]string   `json:"tags,omitempty"`
	Visibility *Visibility `json:"visibility,omitempty"`
	Content    *string     `json:"content,omitempty"`
	UpdatedAt  *time.Time  `json:"updated_at,omitempty"`
}

// ApplyTo returns s with the patch's metadata fields merged in. Content is
// ignored because summaries never hold it.
func (p NotePatch) ApplyTo(s NoteSummary) NoteSummary {
	s = s.Clone()
	if p.Type != nil {
		s.Type = *p.Type
	}
	if p.Name != nil {
		s.Name = *p.Name
	}
	if p.Tags != nil {
		s.Tags = slices.Clone(*p.Tags)
	}
	if p.Visibility != nil {
		s.Visibility = *p.Visibility
	}
	if p.UpdatedAt != nil {
		s.UpdatedAt = *p.UpdatedAt
	}
	return s
}

// ApplyToNote merges the patch into a full note, content included.
func (p NotePatch) ApplyToNote(n Note) Note {
	n.NoteSummary = p.ApplyTo(n.NoteSummary)
	if p.Content != nil {
		n.Content = *p.Content
	}
	return n
}

// PatchFrom builds a patch that sets every field of n.
func PatchFrom(n Note) NotePatch {
	s := n.Summary()
	p := NotePatch{
		ID:         n.ID,
		Type:       &s.Type,
		Name:       &s.Name,
		Visibility: &s.Visibility,
		Content:    &n.Content,
	}
	if s.Tags != nil {
		p.Tags = &s.Tags
	}
	if !s.UpdatedAt.IsZero() {
		p.UpdatedAt = &s.UpdatedAt
	}
	return p
}
