package aspectscore

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// NormalizeText applies NFKC, drops control characters other than newline
// and tab, and trims surrounding whitespace. Course and aspect texts go
// through it before embedding so that equivalent spellings share a cache
// entry.
func NormalizeText(text string) string {
	s := norm.NFKC.String(text)
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}
