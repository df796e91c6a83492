// Package slug normalizes user-chosen room identifiers.
//
// A slug is the entire address of a room: knowing it is what grants
// access. Sanitization strips every character outside [A-Za-z0-9_-] and
// lowercases the rest, so "My Room!" and "myroom" open the same room.
// The sanitized slug also names the room's backend collections.
package slug

import "strings"

// MaxLen caps accepted slugs. Collection names carry the slug as a
// suffix and MongoDB limits full namespace length, so unbounded slugs
// cannot be allowed through.
const MaxLen = 64

// Sanitize reduces raw to slug form: characters outside [A-Za-z0-9_-]
// are dropped and uppercase letters folded to lowercase. The result may
// be empty, which is not a usable slug.
func Sanitize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		}
	}
	return b.String()
}

// Valid reports whether s is a non-empty sanitized slug within MaxLen.
func Valid(s string) bool {
	if s == "" || len(s) > MaxLen {
		return false
	}
	return s == Sanitize(s)
}

// ItemsCollection returns the name of the room's file-tree collection.
func ItemsCollection(s string) string {
	return "files_" + s
}

// ImagesCollection returns the name of the room's gallery collection.
func ImagesCollection(s string) string {
	return "images_" + s
}
