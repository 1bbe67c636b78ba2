package security

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxTextLength caps free-text fields such as names and device names.
const MaxTextLength = 200

// SanitizeText trims s, drops control characters and truncates it to max
// runes. max <= 0 means MaxTextLength.
func SanitizeText(s string, max int) string {
	if max <= 0 {
		max = MaxTextLength
	}
	s = strings.TrimSpace(s)

	var b strings.Builder
	b.Grow(len(s))
	n := 0
	for _, r := range s {
		if r == utf8.RuneError || (!unicode.IsPrint(r) && r != ' ') {
			continue
		}
		if n == max {
			break
		}
		b.WriteRune(r)
		n++
	}
	return strings.TrimSpace(b.String())
}
