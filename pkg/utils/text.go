// Package utils provides shared utilities for text, vector math, and logging.
package utils

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Truncate returns s cut to at most maxLen runes, with "..." appended if it was cut.
// If maxLen is 0 or negative, returns s unchanged.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxLen]) + "..."
}

// CollapseWhitespace trims s and replaces every run of whitespace with a single space.
func CollapseWhitespace(s string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	b.Grow(len(s))
	wasSpace := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !wasSpace {
				b.WriteRune(' ')
				wasSpace = true
			}
			continue
		}
		b.WriteRune(r)
		wasSpace = false
	}
	return b.String()
}
