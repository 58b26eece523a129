package views

import (
	"strings"

	"github.com/rivo/tview"
)

// clean prepares untrusted text for one table cell or title. Runes tcell
// lays out wrongly are dropped, control characters become spaces and tview
// tags are escaped.
func clean(s string) string {
	return tview.Escape(flatten(s, false))
}

// cleanMultiline is clean for message bodies. Newlines survive.
func cleanMultiline(s string) string {
	return tview.Escape(flatten(s, true))
}

func flatten(s string, keepNewlines bool) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case dropRune(r):
		case r == '\n' && keepNewlines:
			b.WriteRune(r)
		case r < 0x20 || r == 0x7f:
			b.WriteByte(' ')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// dropRune reports runes that join or modify a neighbouring emoji. tcell
// measures such sequences as several cells and corrupts the row.
func dropRune(r rune) bool {
	switch {
	case r >= 0x1F3FB && r <= 0x1F3FF: // skin tones
		return true
	case r == 0x200D:
		return true
	case r >= 0xFE00 && r <= 0xFE0F, r >= 0xE0100 && r <= 0xE01EF:
		return true
	}
	return false
}
