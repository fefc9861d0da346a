// Package textx provides text normalization and byte-bounded truncation for
// OCR output.
package textx

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	reManyNewlines = regexp.MustCompile(`\n{3,}`)
	reIntraSpaces  = regexp.MustCompile(`[ \t]+`)
)

// Normalize canonicalizes raw OCR text: NUL bytes are stripped, line endings
// become \n, runs of three or more newlines collapse to two, each line is
// trimmed with interior whitespace runs collapsed to one space, and the whole
// result is trimmed. Empty input stays empty.
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ReplaceAll(s, "\x00", "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = reManyNewlines.ReplaceAllString(s, "\n\n")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(reIntraSpaces.ReplaceAllString(line, " "))
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// TruncateUTF8 cuts s to at most maxBytes bytes without splitting a rune. It
// reports whether truncation happened. maxBytes <= 0 disables the cap.
func TruncateUTF8(s string, maxBytes int) (string, bool) {
	if maxBytes <= 0 || len(s) <= maxBytes {
		return s, false
	}
	cut := s[:maxBytes]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut, true
}
