package caption

import (
	"strings"
	"unicode/utf8"
)

// CleanCaptions lowercases and trims raw captions and drops those shorter
// than minLen characters.
func CleanCaptions(raw []string, minLen int) []string {
	out := make([]string, 0, len(raw))
	for _, c := range raw {
		c = strings.Join(strings.Fields(strings.ToLower(c)), " ")
		if c == "" || utf8.RuneCountInString(c) < minLen {
			continue
		}
		out = append(out, c)
	}
	return out
}
