package domain

import (
	"strings"
)

// NormalizeName prepares an entity name for case-insensitive comparison:
//   - trims leading/trailing whitespace
//   - converts to lowercase
//   - compresses multiple spaces into one
//
// Hyphens, underscores, and digits are preserved. Two names are the same
// identity iff their normalized forms are equal.
func NormalizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	name = strings.ToLower(name)

	// Compress multiple spaces into one.
	var b strings.Builder
	b.Grow(len(name))
	prevSpace := false
	for _, r := range name {
		if r == ' ' {
			if prevSpace {
				continue
			}
			prevSpace = true
		} else {
			prevSpace = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SameName reports whether two names denote the same identity under
// case-insensitive comparison.
func SameName(a, b string) bool {
	return NormalizeName(a) == NormalizeName(b)
}
