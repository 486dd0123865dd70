package request

import (
	"strings"
	"unicode"
)

// MaxSegmentLen caps a sanitized key segment, in runes.
const MaxSegmentLen = 64

// SanitizeSegment makes s safe to use as one segment of an object key.
// Control characters are dropped; characters outside letters, digits and
// "-_.()" become '_'. Leading and trailing spaces are trimmed before
// replacement, and the result is cut to maxLen runes when maxLen > 0.
// Segments made only of dots are rejected by returning "".
func SanitizeSegment(s string, maxLen int) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch {
		case unicode.IsControl(r):
			continue
		case isSegmentRune(r):
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}

	cleaned := b.String()
	if maxLen > 0 {
		if runes := []rune(cleaned); len(runes) > maxLen {
			cleaned = string(runes[:maxLen])
		}
	}
	if strings.Trim(cleaned, ".") == "" {
		return ""
	}
	return cleaned
}

func isSegmentRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case '-', '_', '.', '(', ')':
		return true
	}
	return false
}
