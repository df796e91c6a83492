// Package normalize provides helper functions for consistent string normalization
// across the application. Use these helpers instead of scattered strings.ToLower
// and strings.TrimSpace calls to ensure consistent behavior.
package normalize

import "strings"

// Name normalizes an item or image display name by trimming whitespace.
// Use text.Fold() for case-insensitive comparison keys.
func Name(s string) string {
	return strings.TrimSpace(s)
}

// ItemType normalizes an item type value by trimming whitespace and converting
// to lowercase.
func ItemType(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Filename normalizes an uploaded filename by trimming whitespace and dropping
// any path components a client may have included.
func Filename(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexAny(s, `/\`); i >= 0 {
		s = s[i+1:]
	}
	return s
}

// QueryParam normalizes a query parameter by trimming whitespace.
func QueryParam(s string) string {
	return strings.TrimSpace(s)
}
