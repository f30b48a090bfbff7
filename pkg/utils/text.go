// Package utils provides shared utilities for text, math, and logging.
package utils

import "strings"

// Truncate returns s truncated to maxLen characters, with "..." appended if truncated.
// If maxLen is 0 or negative, returns s unchanged.
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if maxLen <= 0 || len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}

// CleanName trims surrounding whitespace and collapses internal runs of whitespace
// to a single space. Case is preserved.
func CleanName(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
