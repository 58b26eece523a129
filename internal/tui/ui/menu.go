package ui

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"
)

// menuRows is the number of hint lines per column, matching the header
// height.
const menuRows = 6

// MenuHint describes one key for the menu.
type MenuHint struct {
	Key         string
	Description string
	Numeric     bool // drawn in the numeric key color
}

// Menu lays key hints out in columns in the header.
type Menu struct {
	*tview.TextView
	theme *Theme
}

// NewMenu creates an empty menu.
func NewMenu(theme *Theme) *Menu {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	tv.SetBackgroundColor(theme.Bg)
	tv.SetBorderPadding(0, 0, 2, 0)
	return &Menu{TextView: tv, theme: theme}
}

// Update draws hints, dropping repeated keys after their first entry.
func (m *Menu) Update(hints []MenuHint) {
	m.Clear()
	_, _ = fmt.Fprint(m, m.render(hints))
}

func (m *Menu) render(hints []MenuHint) string {
	seen := make(map[string]bool, len(hints))
	var cells []string
	for _, h := range hints {
		if seen[h.Key] {
			continue
		}
		seen[h.Key] = true
		color := ColorTag(m.theme.Key)
		if h.Numeric {
			color = ColorTag(m.theme.NumericKey)
		}
		// Tags take no screen space, so pad only the visible part.
		cells = append(cells, fmt.Sprintf("[%s::b]%-8s[-:-:-]%-14s", color, "<"+h.Key+">", h.Description))
	}

	lines := make([]string, menuRows)
	for i, cell := range cells {
		lines[i%menuRows] += cell
	}
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " ")
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}
