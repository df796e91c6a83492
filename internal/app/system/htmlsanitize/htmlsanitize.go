// Package htmlsanitize strips markup from user-supplied display strings.
// Room participants are anonymous and untrusted, and web clients render
// item names and filenames verbatim, so every display string passes
// through here before it is stored.
package htmlsanitize

import (
	"html"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	// policy is the shared bluemonday policy for reducing input to plain text.
	policy     *bluemonday.Policy
	policyOnce sync.Once
)

// getPolicy returns the shared sanitization policy, creating it on first use.
func getPolicy() *bluemonday.Policy {
	policyOnce.Do(func() {
		// Strict policy: no elements or attributes survive.
		policy = bluemonday.StrictPolicy()
	})
	return policy
}

// Strip removes every HTML element from s and returns the remaining text.
// Entities are unescaped afterwards so "a &lt; b" round-trips to "a < b";
// the result is plain text, not markup.
func Strip(s string) string {
	if s == "" {
		return ""
	}
	return html.UnescapeString(getPolicy().Sanitize(s))
}

// DisplayName sanitizes a user-supplied display name down to trimmed
// plain text. The result may be empty, which callers must reject.
func DisplayName(s string) string {
	return strings.TrimSpace(Strip(s))
}
