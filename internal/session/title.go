package session

import (
	"strings"

	"github.com/mattn/go-runewidth"
	"golang.org/x/text/unicode/norm"
)

const titleEllipsis = "..."

// NormalizeTitle composes s to NFC, collapses runs of whitespace to a single
// space, trims it, and truncates it to maxWidth terminal cells. Wide runes
// count as two cells. maxWidth <= 0 disables truncation.
func NormalizeTitle(s string, maxWidth int) string {
	s = strings.Join(strings.Fields(norm.NFC.String(s)), " ")
	if maxWidth > 0 && runewidth.StringWidth(s) > maxWidth {
		s = runewidth.Truncate(s, maxWidth, titleEllipsis)
	}
	return s
}

// DeriveTitle builds a session title from the first user message.
func DeriveTitle(content string, maxWidth int) string {
	if t := NormalizeTitle(content, maxWidth); t != "" {
		return t
	}
	return PlaceholderTitle
}
