// Package textutil holds the small string helpers shared by the document and provider adapters.
package textutil

import "strings"

// CollapseWhitespace folds every whitespace run into one space.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// TruncateRunes keeps at most limit runes of s. A non-positive limit keeps everything.
func TruncateRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}
