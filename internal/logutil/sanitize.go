package logutil

import (
	"strings"
	"unicode/utf8"
)

// maxLogValue bounds how much remote command output ends up in a single log
// field.
const maxLogValue = 512

// SanitizeForLog removes newlines and control characters from strings that
// come from routers, the host directory or HTTP clients, so they cannot
// forge extra log entries.
func SanitizeForLog(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, "\t", " ")
	var result strings.Builder
	result.Grow(len(s))
	for _, r := range s {
		if r >= 32 && r != 127 {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// Truncate sanitizes s and cuts it to at most maxLogValue bytes, keeping the
// tail. Router output carries its summary at the end. The cut never splits
// a rune.
func Truncate(s string) string {
	s = strings.TrimSpace(SanitizeForLog(s))
	if len(s) <= maxLogValue {
		return s
	}
	cut := len(s) - maxLogValue
	for cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut++
	}
	return "..." + s[cut:]
}
