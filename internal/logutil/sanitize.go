// Package logutil scrubs untrusted strings before they reach the log.
package logutil

import (
	"strings"
	"unicode"
)

// SanitizeForLog flattens user-provided text onto one log line. Newlines,
// carriage returns and tabs become spaces; other control characters are
// dropped, so a hostname or path cannot forge extra log entries.
func SanitizeForLog(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			return ' '
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, s)
}

// Truncate sanitizes s and shortens it to at most n runes, marking the cut
// with "...".
func Truncate(s string, n int) string {
	s = SanitizeForLog(s)
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
