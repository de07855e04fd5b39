// Package permission implements the capability bitmask that gates which
// actions a user may perform.
//
// Every Permission owns a fixed bit offset inside a Mask. Offsets are part of
// the wire format shared with the server and must never be renumbered.
//
// Administrator is special: it satisfies every effective check without the
// other bits being set. Authorization and UI gating should use HasEffective;
// HasRaw is only for asking "is this literally an administrator".
package permission

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"
)

// Permission is the bit offset of a single capability.
type Permission uint8

const (
	Administrator Permission = iota
	CreateNotes
	EditNotes
	DeleteNotes
	ViewPrivateNotes
	UploadFiles
	ManageTags
	ManageUsers
	SuspendUsers

	// numPermissions must stay last.
	numPermissions
)

var names = [numPermissions]string{
	Administrator:    "ADMINISTRATOR",
	CreateNotes:      "CREATE_NOTES",
	EditNotes:        "EDIT_NOTES",
	DeleteNotes:      "DELETE_NOTES",
	ViewPrivateNotes: "VIEW_PRIVATE_NOTES",
	UploadFiles:      "UPLOAD_FILES",
	ManageTags:       "MANAGE_TAGS",
	ManageUsers:      "MANAGE_USERS",
	SuspendUsers:     "SUSPEND_USERS",
}

func (p Permission) String() string {
	if p < numPermissions {
		return names[p]
	}
	return "PERMISSION(" + strconv.Itoa(int(p)) + ")"
}

// Raw returns the mask with only this permission's bit set.
func (p Permission) Raw() Mask {
	return 1 << p
}

// Valid reports whether p is one of the known permissions.
func (p Permission) Valid() bool {
	return p < numPermissions
}

// All returns every known permission in offset order.
func All() []Permission {
	out := make([]Permission, 0, numPermissions)
	for p := Permission(0); p < numPermissions; p++ {
		out = append(out, p)
	}
	return out
}

// Parse returns the permission with the given name. Matching ignores case
// and accepts '-' in place of '_'.
func Parse(name string) (Permission, error) {
	normalized := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(name), "-", "_"))
	for p, n := range names {
		if n == normalized {
			return Permission(p), nil
		}
	}
	return 0, fmt.Errorf("unknown permission %q", name)
}

// Mask is a set of permissions encoded as a bitmask.
type Mask uint64

// Of builds a mask holding exactly the given permissions.
func Of(perms ...Permission) Mask {
	var m Mask
	for _, p := range perms {
		m |= p.Raw()
	}
	return m
}

// HasRaw is a plain bitwise membership test without administrator override.
func HasRaw(mask Mask, p Permission) bool {
	return mask&p.Raw() != 0
}

// HasEffective reports whether mask grants p, treating Administrator as
// holding every permission.
func HasEffective(mask Mask, p Permission) bool {
	return HasRaw(mask, Administrator) || HasRaw(mask, p)
}

// ToArray enumerates the raw permissions held by mask in offset order.
// Bits beyond the known catalogue are ignored.
func ToArray(mask Mask) []Permission {
	out := make([]Permission, 0, bits.OnesCount64(uint64(mask)))
	for p := Permission(0); p < numPermissions; p++ {
		if HasRaw(mask, p) {
			out = append(out, p)
		}
	}
	return out
}

// Changed reports whether a and b disagree on p's bit. Unrelated bits are
// not considered.
func Changed(a, b Mask, p Permission) bool {
	return (a^b)&p.Raw() != 0
}

// Has is shorthand for HasEffective(m, p).
func (m Mask) Has(p Permission) bool {
	return HasEffective(m, p)
}

func (m Mask) String() string {
	perms := ToArray(m)
	if len(perms) == 0 {
		return "NONE"
	}
	parts := make([]string, len(perms))
	for i, p := range perms {
		parts[i] = p.String()
	}
	return strings.Join(parts, "|")
}
