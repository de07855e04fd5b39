package models

import (
	"time"

	"github.com/simplenotes/notesync/pkg/permission"
)

type UserID int64

// User is the session user's profile.
type User struct {
	ID          UserID          `json:"id"`
	Username    string          `json:"username"`
	DisplayName string          `json:"display_name"`
	Permissions permission.Mask `json:"permissions"`
	Suspended   bool            `json:"suspended"`
	CreatedAt   time.Time       `json:"created_at,omitempty"`
}

// Can is an effective permission check on the user's mask.
func (u User) Can(p permission.Permission) bool {
	return permission.HasEffective(u.Permissions, p)
}

// UserPatch is a partial user as delivered by USER_UPDATED.
type UserPatch struct {
	ID          UserID           `json:"id"`
	Username    *string          `json:"username,omitempty"`
	DisplayName *string          `json:"display_name,omitempty"`
	Permissions *permission.Mask `json:"permissions,omitempty"`
	Suspended   *bool            `json:"suspended,omitempty"`
}

// ApplyTo shallow-merges the set fields of p into u.
func (p UserPatch) ApplyTo(u User) User {
	if p.Username != nil {
		u.Username = *p.Username
	}
	if p.DisplayName != nil {
		u.DisplayName = *p.DisplayName
	}
	if p.Permissions != nil {
		u.Permissions = *p.Permissions
	}
	if p.Suspended != nil {
		u.Suspended = *p.Suspended
	}
	return u
}

// UserRef identifies a user without profile data.
type UserRef struct {
	ID UserID `json:"id"`
}

// NoteRef identifies a note without metadata.
type NoteRef struct {
	ID NoteID `json:"id"`
}
